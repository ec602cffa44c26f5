package models

import (
	"errors"
	"fmt"
	"testing"
)

func TestJobStatusTransitions(t *testing.T) {
	tests := []struct {
		from JobStatus
		to   JobStatus
		want bool
	}{
		{JobStatusQueued, JobStatusGenerating, true},
		{JobStatusQueued, JobStatusCompleted, true},
		{JobStatusGenerating, JobStatusCompleted, true},
		{JobStatusQueued, JobStatusFailed, true},
		{JobStatusGenerating, JobStatusFailed, true},
		{JobStatusGenerating, JobStatusQueued, false},
		{JobStatusGenerating, JobStatusGenerating, false},
		{JobStatusCompleted, JobStatusFailed, false},
		{JobStatusFailed, JobStatusGenerating, false},
		{JobStatusFailed, JobStatusFailed, false},
		{JobStatusQueued, JobStatus("rendering"), false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestJobStatusValues(t *testing.T) {
	statuses := []JobStatus{
		JobStatusQueued,
		JobStatusGenerating,
		JobStatusCompleted,
		JobStatusFailed,
	}

	for _, s := range statuses {
		if s == "" {
			t.Error("status should not be empty")
		}
		if !s.Valid() {
			t.Errorf("expected %s to be valid", s)
		}
	}

	if JobStatus("succeeded").Valid() {
		t.Error("unknown status reported valid")
	}
}

func TestSegmentHasAudio(t *testing.T) {
	if (Segment{Index: 1}).HasAudio() {
		t.Error("segment without payload reported audio")
	}
	if !(Segment{Index: 1, Audio: []byte{1}}).HasAudio() {
		t.Error("segment with payload reported no audio")
	}
}

func TestKindOf(t *testing.T) {
	base := errors.New("boom")

	segErr := NewSegmentError(4, KindResource, base)
	wrapped := fmt.Errorf("render batch: %w", segErr)

	if got := KindOf(wrapped); got != KindResource {
		t.Errorf("expected resource kind, got %q", got)
	}
	if !errors.Is(wrapped, base) {
		t.Error("segment error should unwrap to its cause")
	}

	var target *SegmentError
	if !errors.As(wrapped, &target) || target.Index != 4 {
		t.Errorf("expected segment index 4, got %+v", target)
	}

	stage := NewStageError("assembly", KindEncoding, base)
	if got := KindOf(stage); got != KindEncoding {
		t.Errorf("expected encoding kind, got %q", got)
	}
	if stage.Error() != "assembly failed: boom" {
		t.Errorf("unexpected message %q", stage.Error())
	}

	if got := KindOf(base); got != "" {
		t.Errorf("expected empty kind for plain error, got %q", got)
	}
}

func TestKindOfOutermostWins(t *testing.T) {
	seg := NewSegmentError(2, KindContent, errors.New("empty narration"))

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"stage wraps segment", NewStageError("render", KindPipeline, seg), KindPipeline},
		{"wrapped stage wraps segment", fmt.Errorf("run: %w", NewStageError("render", KindEncoding, seg)), KindEncoding},
		{"segment wraps stage", NewSegmentError(1, KindResource, NewStageError("audio", KindPipeline, errors.New("x"))), KindResource},
		{"joined", errors.Join(errors.New("plain"), seg), KindContent},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf = %q, want %q", got, tt.want)
			}
		})
	}
}
