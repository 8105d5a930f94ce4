package llm

import (
	"errors"
	"strings"
)

// Error kinds for classifying extraction failures.

// RateLimitError marks a quota or throttling failure. Retried with
// exponential backoff.
type RateLimitError struct {
	err error
}

func (e *RateLimitError) Error() string {
	return e.err.Error()
}

func (e *RateLimitError) Unwrap() error {
	return e.err
}

// ParseError marks a response that arrived but did not contain a usable
// JSON object. Retried without backoff.
type ParseError struct {
	err error
}

func (e *ParseError) Error() string {
	return e.err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.err
}

// IsRateLimited returns true if the error is a quota/throttling failure.
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	// The Gemini SDK does not expose a stable error type for quota
	// exhaustion, so fall back to message matching.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "quota")
}

// IsParseFailure returns true if the error is a malformed-response failure.
func IsParseFailure(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
