package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures by how they are recovered.
type ErrorKind string

const (
	// KindContent: malformed or missing generated text/markup; recover with a local fallback.
	KindContent ErrorKind = "content"
	// KindResource: corrupt or undersized audio/video artifact; fatal to the segment.
	KindResource ErrorKind = "resource"
	// KindEncoding: encoder exit or timeout; retried once at assembly only.
	KindEncoding ErrorKind = "encoding"
	// KindPipeline: nothing usable left; fatal to the job.
	KindPipeline ErrorKind = "pipeline"
)

// SegmentError is a failure scoped to one segment.
type SegmentError struct {
	Index int
	Kind  ErrorKind
	Err   error
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("segment %d: %s error: %v", e.Index, e.Kind, e.Err)
}

func (e *SegmentError) Unwrap() error {
	return e.Err
}

// NewSegmentError wraps err for segment index with the given kind.
func NewSegmentError(index int, kind ErrorKind, err error) *SegmentError {
	return &SegmentError{Index: index, Kind: kind, Err: err}
}

// StageError is a failure of a whole pipeline stage.
type StageError struct {
	Stage string
	Kind  ErrorKind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err for the named stage.
func NewStageError(stage string, kind ErrorKind, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or an empty kind when none is classified.
func KindOf(err error) ErrorKind {
	for err != nil {
		switch e := err.(type) {
		case *SegmentError:
			return e.Kind
		case *StageError:
			return e.Kind
		case interface{ Unwrap() []error }:
			for _, inner := range e.Unwrap() {
				if kind := KindOf(inner); kind != "" {
					return kind
				}
			}
			return ""
		}
		err = errors.Unwrap(err)
	}
	return ""
}
