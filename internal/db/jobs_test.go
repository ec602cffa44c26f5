package db

import (
	"strings"
	"testing"

	"github.com/bobarin/explainer/internal/models"
)

func TestPreviousStatuses(t *testing.T) {
	tests := []struct {
		next models.JobStatus
		want string
	}{
		{models.JobStatusQueued, ""},
		{models.JobStatusGenerating, "queued"},
		{models.JobStatusCompleted, "queued,generating"},
		{models.JobStatusFailed, "queued,generating"},
	}

	for _, tt := range tests {
		t.Run(string(tt.next), func(t *testing.T) {
			if got := strings.Join(previousStatuses(tt.next), ","); got != tt.want {
				t.Errorf("previousStatuses(%s) = %q, want %q", tt.next, got, tt.want)
			}
		})
	}
}
