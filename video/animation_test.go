package video

import (
	"math/rand"
	"testing"

	"github.com/reelforge/reel-worker/schema"
	"github.com/stretchr/testify/require"
)

func testRNG() *rand.Rand {
	return rand.New(rand.NewSource(42))
}

func TestResolveAnimationExplicit(t *testing.T) {
	plan, err := ResolveAnimation(&schema.Animation{Zoom: "zoom_in", Motion: "drift_up"}, testRNG())
	require.NoError(t, err)
	require.Equal(t, ZoomIn, plan.Zoom)
	require.Equal(t, MotionDriftUp, plan.Motion)
}

func TestResolveAnimationPreset(t *testing.T) {
	plan, err := ResolveAnimation(&schema.Animation{Preset: "subtle"}, testRNG())
	require.NoError(t, err)
	require.Equal(t, ZoomIn, plan.Zoom)
	require.Equal(t, MotionDriftUp, plan.Motion)

	plan, err = ResolveAnimation(&schema.Animation{Preset: "static"}, testRNG())
	require.NoError(t, err)
	require.Equal(t, ZoomNone, plan.Zoom)
	require.Equal(t, MotionNone, plan.Motion)
}

func TestResolveAnimationNoneNonePromoted(t *testing.T) {
	plan, err := ResolveAnimation(&schema.Animation{Zoom: "none", Motion: "none"}, testRNG())
	require.NoError(t, err)
	require.NotEqual(t, ZoomNone, plan.Zoom)

	plan, err = ResolveAnimation(nil, testRNG())
	require.NoError(t, err)
	require.NotEqual(t, ZoomNone, plan.Zoom)
}

func TestResolveAnimationInvalid(t *testing.T) {
	_, err := ResolveAnimation(&schema.Animation{Zoom: "spiral"}, testRNG())
	require.Error(t, err)

	_, err = ResolveAnimation(&schema.Animation{Motion: "wobble"}, testRNG())
	require.Error(t, err)

	_, err = ResolveAnimation(&schema.Animation{Preset: "cinematic9000"}, testRNG())
	require.Error(t, err)
}

func TestResolveAnimationDarkenFactor(t *testing.T) {
	plan, err := ResolveAnimation(&schema.Animation{Zoom: "zoom_out", DarkenFactor: 0.8}, testRNG())
	require.NoError(t, err)
	require.InDelta(t, 0.8, plan.DarkenFactor, 0.001)

	// out-of-range darkening is ignored
	plan, err = ResolveAnimation(&schema.Animation{Zoom: "zoom_out", DarkenFactor: 1.5}, testRNG())
	require.NoError(t, err)
	require.Zero(t, plan.DarkenFactor)
}

func TestMaxDriftClamped(t *testing.T) {
	// 15% of 1920 = 288
	require.Equal(t, 288, MaxDrift(500, 1920))
	require.Equal(t, 100, MaxDrift(100, 1920))
}

func TestZoomExpr(t *testing.T) {
	in := AnimationPlan{Zoom: ZoomIn}
	require.Equal(t, "1.00+(1.30-1.00)*on/120", in.ZoomExpr(120))

	out := AnimationPlan{Zoom: ZoomOut}
	require.Equal(t, "1.20-(1.20-1.00)*on/120", out.ZoomExpr(120))

	none := AnimationPlan{Zoom: ZoomNone}
	require.Equal(t, "1", none.ZoomExpr(120))
}

func TestYExprDriftUsesClampedDrift(t *testing.T) {
	plan := AnimationPlan{Motion: MotionDriftDown, DriftPx: 9999}
	expr := plan.YExpr(1920, 120)
	require.Contains(t, expr, "+288*on/120")

	still := AnimationPlan{Motion: MotionNone}
	require.Equal(t, "ih/2-(ih/zoom/2)", still.YExpr(1920, 120))
}
