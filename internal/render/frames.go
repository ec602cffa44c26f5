package render

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// minFrameSeconds keeps out-of-order or duplicate timestamps from producing
// zero-length entries.
const minFrameSeconds = 0.001

// Frame is one captured screencast image.
type Frame struct {
	Path      string
	Timestamp float64 // seconds, capture clock
}

// frameDurations assigns each frame the time until the next one. The last
// frame is held until total seconds after the first frame.
func frameDurations(frames []Frame, total float64) []float64 {
	durations := make([]float64, len(frames))
	if len(frames) == 0 {
		return durations
	}

	for i := 0; i < len(frames)-1; i++ {
		d := frames[i+1].Timestamp - frames[i].Timestamp
		if d < minFrameSeconds {
			d = minFrameSeconds
		}
		durations[i] = d
	}

	elapsed := 0.0
	for _, d := range durations[:len(frames)-1] {
		elapsed += d
	}
	last := total - elapsed
	if last < minFrameSeconds {
		last = minFrameSeconds
	}
	durations[len(frames)-1] = last
	return durations
}

// WriteConcatList writes an ffconcat playlist that shows each frame for its
// captured duration and covers total seconds. The last entry is repeated
// because the concat demuxer ignores the final duration otherwise.
func WriteConcatList(path string, frames []Frame, total float64) error {
	if len(frames) == 0 {
		return errors.New("no frames captured")
	}

	durations := frameDurations(frames, total)

	var b strings.Builder
	b.WriteString("ffconcat version 1.0\n")
	for i, f := range frames {
		fmt.Fprintf(&b, "file '%s'\nduration %.6f\n", escapeListPath(f.Path), durations[i])
	}
	fmt.Fprintf(&b, "file '%s'\n", escapeListPath(frames[len(frames)-1].Path))

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write frame list: %w", err)
	}
	return nil
}

func escapeListPath(path string) string {
	return strings.ReplaceAll(path, "'", `'\''`)
}
