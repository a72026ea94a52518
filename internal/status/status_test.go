package status_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/NamanBalaji/tfm/internal/status"
)

func TestString(t *testing.T) {
	tests := []struct {
		status status.Status
		want   string
	}{
		{status.Pending, "Pending"},
		{status.Active, "Active"},
		{status.Paused, "Paused"},
		{status.Completed, "Completed"},
		{status.Failed, "Failed"},
		{status.Status(42), "Unknown(42)"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, status.Completed.IsTerminal())
	assert.True(t, status.Failed.IsTerminal())
	assert.False(t, status.Pending.IsTerminal())
	assert.False(t, status.Active.IsTerminal())
	assert.False(t, status.Paused.IsTerminal())
}
