package assembly

import (
	"errors"
	"math/rand"
)

// Transition is one clip boundary of the timeline. OffsetSeconds is where the
// transition starts on the output timeline.
type Transition struct {
	Type          string
	OffsetSeconds float64
}

// Plan is the timeline for a multi-clip assembly.
type Plan struct {
	Durations         []float64
	TransitionSeconds float64
	Transitions       []Transition
	TotalSeconds      float64
}

// BuildPlan lays out N clips with N-1 overlapping transitions of the given
// length, each picked at random from palette. The overlap shrinks to half the
// shortest clip when a clip is not longer than it, so offsets stay strictly
// increasing. A zero length plans hard cuts.
func BuildPlan(durations []float64, transition float64, palette []string, rng *rand.Rand) (Plan, error) {
	if len(durations) < 2 {
		return Plan{}, errors.New("a transition plan needs at least two clips")
	}
	if transition > 0 && len(palette) == 0 {
		return Plan{}, errors.New("empty transition palette")
	}

	shortest := durations[0]
	for _, d := range durations {
		if d <= 0 {
			return Plan{}, errors.New("clip durations must be positive")
		}
		if d < shortest {
			shortest = d
		}
	}
	if transition < 0 {
		transition = 0
	}
	if shortest <= transition {
		transition = shortest / 2
	}

	plan := Plan{
		Durations:         append([]float64(nil), durations...),
		TransitionSeconds: transition,
		Transitions:       make([]Transition, 0, len(durations)-1),
	}

	elapsed := 0.0
	for i := 0; i < len(durations)-1; i++ {
		elapsed += durations[i]
		t := Transition{OffsetSeconds: elapsed - float64(i+1)*transition}
		if transition > 0 {
			t.Type = palette[rng.Intn(len(palette))]
		}
		plan.Transitions = append(plan.Transitions, t)
	}
	plan.TotalSeconds = elapsed + durations[len(durations)-1] - float64(len(durations)-1)*transition

	return plan, nil
}

// NarrationTrim is how long clip i's narration runs on the timeline. Every
// clip but the last gives up the transition overlap from its padded tail.
func (p Plan) NarrationTrim(i int) float64 {
	if i == len(p.Durations)-1 {
		return p.Durations[i]
	}
	return p.Durations[i] - p.TransitionSeconds
}
