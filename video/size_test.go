package video

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlanVideoSizingFillCrop(t *testing.T) {
	// a 1280x720 landscape source into a 1080x1920 portrait reel:
	// fill scale = 1920/720 = 2.667 > 2.5 would blur-composite, so use a
	// closer source first
	plan, err := PlanVideoSizing(1080, 1080, 1080, 1920, 2.5)
	require.NoError(t, err)
	require.Equal(t, SizingFillCrop, plan.Mode)
	require.Equal(t, 1920, plan.ScaledH)
	require.Equal(t, 1920, plan.ScaledW)
	require.Equal(t, (1920-1080)/2, plan.CropX)
	require.Equal(t, 0, plan.CropY)
}

func TestPlanVideoSizingBlurComposite(t *testing.T) {
	// tiny source: fill scale is far above the zoom cap
	plan, err := PlanVideoSizing(320, 240, 1080, 1920, 2.5)
	require.NoError(t, err)
	require.Equal(t, SizingBlurComposite, plan.Mode)
	// fit scale = min(1080/320, 1920/240) * 0.7 = 3.375 * 0.7 = 2.3625
	require.Equal(t, 756, plan.ScaledW)
	require.Equal(t, 568, plan.ScaledH)
	require.Equal(t, 20, plan.BlurRadius)
	require.InDelta(t, 0.3, plan.BackdropOpacity, 0.001)
	// output is always the exact reel size
	require.Equal(t, 1080, plan.TargetW)
	require.Equal(t, 1920, plan.TargetH)
}

func TestPlanVideoSizingCompositeFloor(t *testing.T) {
	// degenerate source still produces a visible foreground
	plan, err := PlanVideoSizing(64, 64, 1080, 1920, 2.5)
	require.NoError(t, err)
	require.Equal(t, SizingBlurComposite, plan.Mode)
	require.GreaterOrEqual(t, plan.ScaledW, 200)
	require.GreaterOrEqual(t, plan.ScaledH, 200)
}

func TestPlanVideoSizingBoundaryTakesFillCrop(t *testing.T) {
	// fill scale exactly at the cap stays on the crop branch
	plan, err := PlanVideoSizing(432, 768, 1080, 1920, 2.5)
	require.NoError(t, err)
	require.Equal(t, SizingFillCrop, plan.Mode)
}

func TestPlanVideoSizingInvalidDims(t *testing.T) {
	_, err := PlanVideoSizing(0, 720, 1080, 1920, 2.5)
	require.Error(t, err)
	_, err = PlanVideoSizing(1280, 720, 1080, 0, 2.5)
	require.Error(t, err)
}

func TestFillScale(t *testing.T) {
	require.InDelta(t, 1920.0/720.0, FillScale(1280, 720, 1080, 1920), 0.001)
	require.InDelta(t, 1.0, FillScale(1080, 1920, 1080, 1920), 0.001)
}

func TestFitImageSize(t *testing.T) {
	w, h, err := FitImageSize(3000, 2000, 1080, 1920)
	require.NoError(t, err)
	require.Equal(t, 1920, h)
	// width would be 2880, clamped to the reel width
	require.Equal(t, 1080, w)

	w, h, err = FitImageSize(500, 1000, 1080, 1920)
	require.NoError(t, err)
	require.Equal(t, 1920, h)
	require.Equal(t, 960, w)
}

func TestRoundEven(t *testing.T) {
	require.Equal(t, 756, roundEven(756.0))
	require.Equal(t, 568, roundEven(567.0))
	require.Equal(t, 568, roundEven(567.6))
}
