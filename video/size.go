package video

import "fmt"

const (
	// floor for the foreground clip in the blur-composite branch
	minCompositeDim = 200
	// shrink applied to the fit scale so the blurred border stays visible
	compositeFitFactor = 0.7

	blurRadius          = 20
	blurBackdropOpacity = 0.3
)

type SizingMode int

const (
	// scale to fill and center-crop to the exact target
	SizingFillCrop SizingMode = iota
	// scale down, center, composite over a blurred mid-frame backdrop
	SizingBlurComposite
)

// VideoSizing is a precomputed plan for normalizing a source video to the
// reel size. Splitting plan from execution keeps the math testable without
// ffmpeg on the box.
type VideoSizing struct {
	Mode SizingMode

	// scaled foreground dimensions
	ScaledW int
	ScaledH int

	// crop offsets, fill-crop mode only
	CropX int
	CropY int

	TargetW int
	TargetH int

	BlurRadius      int
	BackdropOpacity float64
}

// FillScale is the scale factor that makes the source cover the target.
func FillScale(srcW, srcH, targetW, targetH int) float64 {
	sw := float64(targetW) / float64(srcW)
	sh := float64(targetH) / float64(srcH)
	if sw > sh {
		return sw
	}
	return sh
}

func fitScale(srcW, srcH, targetW, targetH int) float64 {
	sw := float64(targetW) / float64(srcW)
	sh := float64(targetH) / float64(srcH)
	if sw < sh {
		return sw
	}
	return sh
}

// PlanVideoSizing decides between fill-crop and blur-composite. Sources that
// would need more than maxZoomFactor upscaling to fill the frame get the
// blur-composite treatment so they aren't stretched into mush.
func PlanVideoSizing(srcW, srcH, targetW, targetH int, maxZoomFactor float64) (VideoSizing, error) {
	if srcW <= 0 || srcH <= 0 || targetW <= 0 || targetH <= 0 {
		return VideoSizing{}, fmt.Errorf("invalid dimensions: source %dx%d target %dx%d", srcW, srcH, targetW, targetH)
	}

	plan := VideoSizing{TargetW: targetW, TargetH: targetH}

	fill := FillScale(srcW, srcH, targetW, targetH)
	if fill <= maxZoomFactor {
		plan.Mode = SizingFillCrop
		plan.ScaledW = roundEven(float64(srcW) * fill)
		plan.ScaledH = roundEven(float64(srcH) * fill)
		if plan.ScaledW < targetW {
			plan.ScaledW = targetW
		}
		if plan.ScaledH < targetH {
			plan.ScaledH = targetH
		}
		plan.CropX = (plan.ScaledW - targetW) / 2
		plan.CropY = (plan.ScaledH - targetH) / 2
		return plan, nil
	}

	scale := fitScale(srcW, srcH, targetW, targetH) * compositeFitFactor
	plan.Mode = SizingBlurComposite
	plan.ScaledW = roundEven(float64(srcW) * scale)
	plan.ScaledH = roundEven(float64(srcH) * scale)
	if plan.ScaledW < minCompositeDim {
		plan.ScaledW = minCompositeDim
	}
	if plan.ScaledH < minCompositeDim {
		plan.ScaledH = minCompositeDim
	}
	plan.BlurRadius = blurRadius
	plan.BackdropOpacity = blurBackdropOpacity
	return plan, nil
}

// FitImageSize fits an image into the target by height and clamps width.
func FitImageSize(srcW, srcH, targetW, targetH int) (int, int, error) {
	if srcW <= 0 || srcH <= 0 || targetW <= 0 || targetH <= 0 {
		return 0, 0, fmt.Errorf("invalid dimensions: source %dx%d target %dx%d", srcW, srcH, targetW, targetH)
	}
	scale := float64(targetH) / float64(srcH)
	w := roundEven(float64(srcW) * scale)
	h := targetH
	if w > targetW {
		w = targetW
	}
	return w, h, nil
}

// roundEven rounds to the nearest even integer; H.264 wants even dimensions.
func roundEven(v float64) int {
	n := int(v + 0.5)
	if n%2 != 0 {
		n++
	}
	return n
}
