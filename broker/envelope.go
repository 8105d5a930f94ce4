package broker

import (
	"encoding/json"
	"fmt"

	"github.com/yash91989201/bulk-resume-parser/pipeline"
)

// envelope is the broker message format. extractFromArchive defaults to
// true when the field is absent.
type envelope struct {
	UserID             string `json:"userId"`
	TaskID             string `json:"taskId"`
	ExtractFromArchive *bool  `json:"extractFromArchive"`
}

// decodeEnvelope validates one delivery body into a work unit. Malformed
// bodies and missing identifiers are rejected without requeue upstream.
func decodeEnvelope(body []byte) (pipeline.WorkUnit, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return pipeline.WorkUnit{}, fmt.Errorf("decode message: %w", err)
	}
	if env.UserID == "" || env.TaskID == "" {
		return pipeline.WorkUnit{}, fmt.Errorf("message missing userId or taskId")
	}

	fromArchive := true
	if env.ExtractFromArchive != nil {
		fromArchive = *env.ExtractFromArchive
	}
	return pipeline.WorkUnit{
		UserID:      env.UserID,
		TaskID:      env.TaskID,
		FromArchive: fromArchive,
	}, nil
}
