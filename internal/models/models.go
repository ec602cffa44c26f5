package models

import (
	"time"

	"github.com/google/uuid"
)

// Enums
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusGenerating JobStatus = "generating"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// statusRank orders the forward path; failed sits outside it.
var statusRank = map[JobStatus]int{
	JobStatusQueued:     0,
	JobStatusGenerating: 1,
	JobStatusCompleted:  2,
}

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok || s == JobStatusFailed
}

// CanTransitionTo enforces the monotonic lifecycle: queued → generating →
// completed, with failed reachable from any non-terminal state.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.IsTerminal() || !next.Valid() {
		return false
	}
	if next == JobStatusFailed {
		return true
	}
	return statusRank[next] > statusRank[s]
}

// ClipProfile names the fixed encoding every rendered clip carries.
const ClipProfile = "h264-high-4.0/yuv420p/30cfr/gop30/aac-128k-48k-stereo"

// Models

// VideoJob is one topic-to-video request tracked in video_generations.
type VideoJob struct {
	ID              uuid.UUID `json:"id"`
	UserID          uuid.UUID `json:"user_id"`
	Prompt          string    `json:"prompt"`
	TopicCategory   string    `json:"topic_category"`
	Status          JobStatus `json:"generation_status"`
	Error           *string   `json:"generation_error,omitempty"`
	VideoURL        *string   `json:"video_url,omitempty"`
	StreamUID       *string   `json:"stream_uid,omitempty"`
	Title           *string   `json:"title,omitempty"`
	Description     *string   `json:"description,omitempty"`
	DurationSeconds *int      `json:"duration_seconds,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Segment is one narrated unit of the video. Index defines final ordering.
type Segment struct {
	Index                int     `json:"index"`
	NarrationText        string  `json:"text"`
	VisualHint           string  `json:"visual_hint"`
	Audio                []byte  `json:"-"`
	AudioDurationSeconds float64 `json:"-"`
}

// HasAudio reports whether speech synthesis produced a payload.
func (s Segment) HasAudio() bool {
	return len(s.Audio) > 0
}

// AnimationSource records where a document came from.
type AnimationSource string

const (
	AnimationSourceGenerated AnimationSource = "generated"
	AnimationSourceFallback  AnimationSource = "fallback"
)

// AnimationDocument is a self-contained HTML document rendered at a fixed
// 1920x1080 surface. The renderer only relies on its capabilities:
// RequiredGlobals must be defined on window and window.animationReady must
// not be false before capture starts; window.startRecording(ms) must resolve
// and set window.recordingComplete. Missing recording hooks are injected.
type AnimationDocument struct {
	HTML               string
	MinDurationSeconds float64
	RequiredGlobals    []string
	Source             AnimationSource
}

// RenderedClip is the encoded output for exactly one segment.
type RenderedClip struct {
	SegmentIndex           int
	FilePath               string
	SizeBytes              int64
	Profile                string
	NominalDurationSeconds float64
}

// PublishedVideo is where the final deliverable can be watched.
type PublishedVideo struct {
	URL       string
	StreamUID string // empty unless hosted on Cloudflare Stream
}

// API types

type CreateVideoRequest struct {
	VideoID       *uuid.UUID `json:"video_id,omitempty"`
	UserID        uuid.UUID  `json:"user_id"`
	Prompt        string     `json:"prompt"`
	TopicCategory string     `json:"topic_category,omitempty"`
}

type CreateVideoResponse struct {
	VideoID uuid.UUID `json:"video_id"`
	Status  JobStatus `json:"status"`
}
