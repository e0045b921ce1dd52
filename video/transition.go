package video

import (
	"fmt"

	"github.com/reelforge/reel-worker/schema"
)

// TransitionStep is one xfade between adjacent clips. Offset is measured on
// the accumulated output timeline.
type TransitionStep struct {
	Kind     string
	Offset   float64
	Duration float64
}

// PlanTransitions computes the xfade chain for the given clip durations.
// Each crossfade overlaps its neighbors, so the total output duration is
// sum(durations) - transitions*duration. A none transition returns no steps
// and the plain sum.
func PlanTransitions(durations []float64, cfg schema.TransitionConfig) ([]TransitionStep, float64, error) {
	total := 0.0
	for i, d := range durations {
		if d <= 0 {
			return nil, 0, fmt.Errorf("clip %d has non-positive duration %f", i, d)
		}
		total += d
	}
	if len(durations) < 2 || cfg.Type == schema.TransitionNone || cfg.Type == "" {
		return nil, total, nil
	}

	dur := cfg.DurationSeconds
	if dur <= 0 {
		dur = 1.0
	}
	// a transition can't be longer than the shorter of its two clips
	for _, d := range durations {
		if dur > d/2 {
			dur = d / 2
		}
	}

	// xfade names: crossfade dissolves between clips, fade dips to black
	kind := "fade"
	if cfg.Type == schema.TransitionFade {
		kind = "fadeblack"
	}

	steps := make([]TransitionStep, 0, len(durations)-1)
	elapsed := 0.0
	for i := 0; i < len(durations)-1; i++ {
		elapsed += durations[i]
		steps = append(steps, TransitionStep{
			Kind:     kind,
			Offset:   elapsed - float64(i+1)*dur,
			Duration: dur,
		})
	}
	finalDuration := total - float64(len(steps))*dur
	return steps, finalDuration, nil
}
