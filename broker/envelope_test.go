package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantErr     bool
		fromArchive bool
	}{
		{
			name:        "archive mode explicit",
			body:        `{"userId":"u1","taskId":"t1","extractFromArchive":true}`,
			fromArchive: true,
		},
		{
			name:        "direct mode",
			body:        `{"userId":"u1","taskId":"t1","extractFromArchive":false}`,
			fromArchive: false,
		},
		{
			name:        "mode omitted defaults to archive",
			body:        `{"userId":"u1","taskId":"t1"}`,
			fromArchive: true,
		},
		{
			name:    "missing userId",
			body:    `{"taskId":"t1"}`,
			wantErr: true,
		},
		{
			name:    "missing taskId",
			body:    `{"userId":"u1"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			body:    `hello`,
			wantErr: true,
		},
		{
			name:    "empty body",
			body:    ``,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unit, err := decodeEnvelope([]byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "u1", unit.UserID)
			assert.Equal(t, "t1", unit.TaskID)
			assert.Equal(t, tt.fromArchive, unit.FromArchive)
		})
	}
}

func TestWithJitter(t *testing.T) {
	base := 4 * time.Second
	for i := 0; i < 50; i++ {
		d := withJitter(base)
		assert.GreaterOrEqual(t, d, 3*time.Second)
		assert.LessOrEqual(t, d, 5*time.Second)
	}
}
