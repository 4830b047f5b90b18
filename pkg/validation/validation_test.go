package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateStreamID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"valid simple", "camera-1", false},
		{"valid with underscore", "stream_42", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"too long", strings.Repeat("a", 129), true},
		{"invalid characters", "stream!@#", true},
		{"spaces inside", "stream one", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStreamID(tt.id)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRole(t *testing.T) {
	assert.NoError(t, ValidateRole(""))
	assert.NoError(t, ValidateRole("primary"))
	assert.NoError(t, ValidateRole("secondary"))
	assert.Error(t, ValidateRole("director"))
}

func TestValidateTelemetryFrame(t *testing.T) {
	assert.NoError(t, ValidateTelemetryFrame(2500, 30, 0.5, 12))
	assert.NoError(t, ValidateTelemetryFrame(0, 0, 0, 0))

	assert.Error(t, ValidateTelemetryFrame(-1, 30, 0, 0))
	assert.Error(t, ValidateTelemetryFrame(2500, -1, 0, 0))
	assert.Error(t, ValidateTelemetryFrame(2500, 30, 101, 0))
	assert.Error(t, ValidateTelemetryFrame(2500, 30, 0, -5))
	assert.Error(t, ValidateTelemetryFrame(2_000_000, 30, 0, 0))
}
