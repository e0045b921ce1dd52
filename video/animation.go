package video

import (
	"fmt"
	"math/rand"

	"github.com/reelforge/reel-worker/schema"
)

type ZoomMode string

const (
	ZoomNone  ZoomMode = "none"
	ZoomIn    ZoomMode = "zoom_in"
	ZoomOut   ZoomMode = "zoom_out"
	ZoomPulse ZoomMode = "pulse"
)

type MotionMode string

const (
	MotionNone      MotionMode = "none"
	MotionDriftUp   MotionMode = "drift_up"
	MotionDriftDown MotionMode = "drift_down"
	MotionOscillate MotionMode = "oscillate"
)

const (
	zoomInStart   = 1.0
	zoomInEnd     = 1.30
	zoomOutStart  = 1.20
	zoomOutEnd    = 1.0
	pulseBase     = 1.10
	pulseAmp      = 0.05
	maxDriftRatio = 0.15

	defaultDriftPx = 60
	defaultOscPx   = 20
)

// AnimationPlan is the resolved Ken Burns motion for one image scene.
type AnimationPlan struct {
	Zoom         ZoomMode
	Motion       MotionMode
	DarkenFactor float64
	DriftPx      int
	OscPx        int
}

var animationPresets = map[string]AnimationPlan{
	"subtle":   {Zoom: ZoomIn, Motion: MotionDriftUp},
	"dynamic":  {Zoom: ZoomPulse, Motion: MotionOscillate},
	"dramatic": {Zoom: ZoomOut, Motion: MotionDriftDown},
	"static":   {Zoom: ZoomNone, Motion: MotionNone},
}

var randomZooms = []ZoomMode{ZoomIn, ZoomOut, ZoomPulse}

// ResolveAnimation turns the payload animation block into a concrete plan.
// A nil block or an explicit none/none pair gets a random zoom so stills
// never sit fully static. Unknown modes or presets are an error; the caller
// logs and falls back to RandomAnimation.
func ResolveAnimation(a *schema.Animation, rng *rand.Rand) (AnimationPlan, error) {
	if a == nil {
		return RandomAnimation(rng), nil
	}

	var plan AnimationPlan
	if a.Preset != "" {
		preset, ok := animationPresets[a.Preset]
		if !ok {
			return AnimationPlan{}, fmt.Errorf("unknown animation preset %q", a.Preset)
		}
		plan = preset
	} else {
		plan.Zoom = ZoomMode(a.Zoom)
		plan.Motion = MotionMode(a.Motion)
		if a.Zoom == "" {
			plan.Zoom = ZoomNone
		}
		if a.Motion == "" {
			plan.Motion = MotionNone
		}
		if !validZoom(plan.Zoom) {
			return AnimationPlan{}, fmt.Errorf("unknown zoom mode %q", a.Zoom)
		}
		if !validMotion(plan.Motion) {
			return AnimationPlan{}, fmt.Errorf("unknown motion mode %q", a.Motion)
		}
	}

	// an explicit "static" preset is the only way to get a fully still image
	if a.Preset == "" && plan.Zoom == ZoomNone && plan.Motion == MotionNone {
		plan.Zoom = randomZooms[rng.Intn(len(randomZooms))]
	}

	if a.DarkenFactor > 0 && a.DarkenFactor < 1 {
		plan.DarkenFactor = a.DarkenFactor
	}
	plan.DriftPx = a.DriftPx
	if plan.DriftPx == 0 {
		plan.DriftPx = defaultDriftPx
	}
	plan.OscPx = a.OscPx
	if plan.OscPx == 0 {
		plan.OscPx = defaultOscPx
	}
	return plan, nil
}

// RandomAnimation picks a zoom with no lateral motion.
func RandomAnimation(rng *rand.Rand) AnimationPlan {
	return AnimationPlan{
		Zoom:    randomZooms[rng.Intn(len(randomZooms))],
		Motion:  MotionNone,
		DriftPx: defaultDriftPx,
		OscPx:   defaultOscPx,
	}
}

func validZoom(z ZoomMode) bool {
	switch z {
	case ZoomNone, ZoomIn, ZoomOut, ZoomPulse:
		return true
	}
	return false
}

func validMotion(m MotionMode) bool {
	switch m {
	case MotionNone, MotionDriftUp, MotionDriftDown, MotionOscillate:
		return true
	}
	return false
}

// MaxDrift clamps vertical drift to a fraction of the frame height.
func MaxDrift(driftPx, frameHeight int) int {
	limit := int(float64(frameHeight) * maxDriftRatio)
	if driftPx > limit {
		return limit
	}
	return driftPx
}

// ZoomExpr builds the zoompan zoom expression for the plan. durationFrames
// is the clip length in frames at the scene frame rate.
func (p AnimationPlan) ZoomExpr(durationFrames int) string {
	if durationFrames <= 0 {
		durationFrames = 1
	}
	switch p.Zoom {
	case ZoomIn:
		return fmt.Sprintf("%.2f+(%.2f-%.2f)*on/%d", zoomInStart, zoomInEnd, zoomInStart, durationFrames)
	case ZoomOut:
		return fmt.Sprintf("%.2f-(%.2f-%.2f)*on/%d", zoomOutStart, zoomOutStart, zoomOutEnd, durationFrames)
	case ZoomPulse:
		return fmt.Sprintf("%.2f+%.2f*sin(2*PI*on/%d)", pulseBase, pulseAmp, durationFrames)
	default:
		return "1"
	}
}

// YExpr builds the zoompan y expression for the motion mode. The default
// centers the crop window.
func (p AnimationPlan) YExpr(frameHeight, durationFrames int) string {
	center := "ih/2-(ih/zoom/2)"
	if durationFrames <= 0 {
		durationFrames = 1
	}
	drift := MaxDrift(p.DriftPx, frameHeight)
	switch p.Motion {
	case MotionDriftUp:
		return fmt.Sprintf("%s-%d*on/%d", center, drift, durationFrames)
	case MotionDriftDown:
		return fmt.Sprintf("%s+%d*on/%d", center, drift, durationFrames)
	case MotionOscillate:
		return fmt.Sprintf("%s+%d*sin(2*PI*on/%d)", center, p.OscPx, durationFrames)
	default:
		return center
	}
}
