package video

import (
	"fmt"
	"os"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// EncodeOptions carries the codec policy shared by scene and final encodes.
type EncodeOptions struct {
	Preset  string
	CRF     int
	Bitrate string
	Threads int
	FPS     int
}

func (o EncodeOptions) kwargs() ffmpeg.KwArgs {
	kw := ffmpeg.KwArgs{
		"c:v":      "libx264",
		"pix_fmt":  "yuv420p",
		"movflags": "faststart",
	}
	if o.Preset != "" {
		kw["preset"] = o.Preset
	}
	if o.CRF > 0 {
		kw["crf"] = o.CRF
	}
	if o.Bitrate != "" {
		kw["b:v"] = o.Bitrate
	}
	if o.Threads > 0 {
		kw["threads"] = o.Threads
	}
	if o.FPS > 0 {
		kw["r"] = o.FPS
	}
	return kw
}

func verifyOutput(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("encode error: failed to stat output file: %w", err)
	}
	if fi.Size() == 0 {
		return fmt.Errorf("encode error: output file %s is empty", path)
	}
	return nil
}

// EncodeImageScene renders a still image into a moving clip using zoompan,
// padded to the reel size, with the narration track attached when audioPath
// is non-empty. fitW/fitH come from FitImageSize.
func EncodeImageScene(imagePath, audioPath, outPath string, plan AnimationPlan, fitW, fitH, reelW, reelH int, bgColor string, duration float64, opts EncodeOptions) error {
	fps := opts.FPS
	if fps <= 0 {
		fps = 24
	}
	frames := int(duration * float64(fps))
	if frames < 1 {
		frames = 1
	}
	if bgColor == "" {
		bgColor = "black"
	}

	image := ffmpeg.Input(imagePath, ffmpeg.KwArgs{"loop": 1, "t": duration})
	// upscale before zoompan so the pan window has pixels to move over
	videoStream := image.Filter("scale", ffmpeg.Args{fmt.Sprintf("%d:%d", fitW*2, fitH*2)}).
		Filter("zoompan", ffmpeg.Args{}, ffmpeg.KwArgs{
			"z":   plan.ZoomExpr(frames),
			"x":   "iw/2-(iw/zoom/2)",
			"y":   plan.YExpr(fitH, frames),
			"d":   frames,
			"s":   fmt.Sprintf("%dx%d", fitW, fitH),
			"fps": fps,
		}).
		Filter("pad", ffmpeg.Args{}, ffmpeg.KwArgs{
			"width":  reelW,
			"height": reelH,
			"x":      "(ow-iw)/2",
			"y":      "(oh-ih)/2",
			"color":  bgColor,
		})
	if plan.DarkenFactor > 0 && plan.DarkenFactor < 1 {
		videoStream = videoStream.Filter("lutrgb", ffmpeg.Args{}, ffmpeg.KwArgs{
			"r": fmt.Sprintf("val*%.2f", plan.DarkenFactor),
			"g": fmt.Sprintf("val*%.2f", plan.DarkenFactor),
			"b": fmt.Sprintf("val*%.2f", plan.DarkenFactor),
		})
	}

	kw := opts.kwargs()
	kw["t"] = duration

	var err error
	if audioPath != "" {
		audio := ffmpeg.Input(audioPath)
		kw["c:a"] = "aac"
		err = ffmpeg.Output([]*ffmpeg.Stream{videoStream, audio}, outPath, kw).
			OverWriteOutput().ErrorToStdOut().Run()
	} else {
		err = videoStream.Output(outPath, kw).OverWriteOutput().ErrorToStdOut().Run()
	}
	if err != nil {
		return fmt.Errorf("failed to encode image scene: %w", err)
	}
	return verifyOutput(outPath)
}

// NormalizeVideo executes a sizing plan, producing a clip at exactly the
// target dimensions. The blur-composite branch falls back to a plain resize
// if the composite graph fails.
func NormalizeVideo(inputPath, outPath string, plan VideoSizing, opts EncodeOptions) error {
	switch plan.Mode {
	case SizingFillCrop:
		err := ffmpeg.Input(inputPath).
			Filter("scale", ffmpeg.Args{fmt.Sprintf("%d:%d", plan.ScaledW, plan.ScaledH)}).
			Filter("crop", ffmpeg.Args{fmt.Sprintf("%d:%d:%d:%d", plan.TargetW, plan.TargetH, plan.CropX, plan.CropY)}).
			Output(outPath, opts.kwargs()).
			OverWriteOutput().ErrorToStdOut().Run()
		if err != nil {
			return fmt.Errorf("failed to fill-crop video: %w", err)
		}
		return verifyOutput(outPath)

	case SizingBlurComposite:
		if err := blurComposite(inputPath, outPath, plan, opts); err == nil {
			return verifyOutput(outPath)
		}
		// degraded path: plain resize, no backdrop
		err := ffmpeg.Input(inputPath).
			Filter("scale", ffmpeg.Args{fmt.Sprintf("%d:%d", plan.TargetW, plan.TargetH)}).
			Output(outPath, opts.kwargs()).
			OverWriteOutput().ErrorToStdOut().Run()
		if err != nil {
			return fmt.Errorf("failed to resize video: %w", err)
		}
		return verifyOutput(outPath)

	default:
		return fmt.Errorf("unknown sizing mode %d", plan.Mode)
	}
}

func blurComposite(inputPath, outPath string, plan VideoSizing, opts EncodeOptions) error {
	input := ffmpeg.Input(inputPath)
	split := input.Get("v").Filter("split", ffmpeg.Args{"2"})

	backdrop := split.Get("0").
		Filter("scale", ffmpeg.Args{fmt.Sprintf("%d:%d", plan.TargetW, plan.TargetH)}).
		Filter("boxblur", ffmpeg.Args{fmt.Sprint(plan.BlurRadius)}).
		Filter("lutrgb", ffmpeg.Args{}, ffmpeg.KwArgs{
			"r": fmt.Sprintf("val*%.2f", plan.BackdropOpacity),
			"g": fmt.Sprintf("val*%.2f", plan.BackdropOpacity),
			"b": fmt.Sprintf("val*%.2f", plan.BackdropOpacity),
		})
	foreground := split.Get("1").
		Filter("scale", ffmpeg.Args{fmt.Sprintf("%d:%d", plan.ScaledW, plan.ScaledH)})

	composited := ffmpeg.Filter([]*ffmpeg.Stream{backdrop, foreground}, "overlay",
		ffmpeg.Args{"(W-w)/2:(H-h)/2"})

	err := composited.Output(outPath, opts.kwargs()).OverWriteOutput().ErrorToStdOut().Run()
	if err != nil {
		return fmt.Errorf("failed to composite over blurred backdrop: %w", err)
	}
	return nil
}

// LoopToDuration loop-extends a clip to at least target seconds and trims to
// exactly target.
func LoopToDuration(inputPath, outPath string, sourceDuration, target float64, opts EncodeOptions) error {
	if sourceDuration <= 0 {
		return fmt.Errorf("cannot loop clip with non-positive duration %f", sourceDuration)
	}
	loops := int(target/sourceDuration) + 1
	kw := opts.kwargs()
	kw["t"] = target
	err := ffmpeg.Input(inputPath, ffmpeg.KwArgs{"stream_loop": loops}).
		Output(outPath, kw).
		OverWriteOutput().ErrorToStdOut().Run()
	if err != nil {
		return fmt.Errorf("failed to loop-extend video: %w", err)
	}
	return verifyOutput(outPath)
}

// Trim cuts a clip to the given duration from its start.
func Trim(inputPath, outPath string, duration float64, opts EncodeOptions) error {
	kw := opts.kwargs()
	kw["t"] = duration
	err := ffmpeg.Input(inputPath).Output(outPath, kw).
		OverWriteOutput().ErrorToStdOut().Run()
	if err != nil {
		return fmt.Errorf("failed to trim video: %w", err)
	}
	return verifyOutput(outPath)
}

// AttachAudio muxes a narration track onto a video clip. When the narration
// is shorter than the video it is padded with silence to the full length.
func AttachAudio(videoPath, audioPath, outPath string, opts EncodeOptions) error {
	videoIn := ffmpeg.Input(videoPath)
	audioIn := ffmpeg.Input(audioPath).Get("a").Filter("apad", ffmpeg.Args{})

	kw := opts.kwargs()
	kw["c:a"] = "aac"
	kw["shortest"] = ""
	err := ffmpeg.Output([]*ffmpeg.Stream{videoIn.Get("v"), audioIn}, outPath, kw).
		OverWriteOutput().ErrorToStdOut().Run()
	if err != nil {
		return fmt.Errorf("failed to attach audio: %w", err)
	}
	return verifyOutput(outPath)
}

// BurnSubtitles renders an ASS track into the video.
func BurnSubtitles(videoPath, assPath, outPath string, opts EncodeOptions) error {
	err := ffmpeg.Input(videoPath).
		Filter("ass", ffmpeg.Args{assPath}).
		Output(outPath, withCopiedAudio(opts.kwargs())).
		OverWriteOutput().ErrorToStdOut().Run()
	if err != nil {
		return fmt.Errorf("failed to burn subtitles: %w", err)
	}
	return verifyOutput(outPath)
}

// OverlayImage composites a logo or other image at the given position.
func OverlayImage(videoPath, imagePath, outPath, xExpr, yExpr string, imgW, imgH int, opacity float64, opts EncodeOptions) error {
	base := ffmpeg.Input(videoPath)
	logo := ffmpeg.Input(imagePath).
		Filter("scale", ffmpeg.Args{fmt.Sprintf("%d:%d", imgW, imgH)}).
		Filter("format", ffmpeg.Args{"rgba"})
	if opacity > 0 && opacity < 1 {
		logo = logo.Filter("colorchannelmixer", ffmpeg.Args{}, ffmpeg.KwArgs{"aa": fmt.Sprintf("%.2f", opacity)})
	}

	out := ffmpeg.Filter([]*ffmpeg.Stream{base, logo}, "overlay", ffmpeg.Args{xExpr + ":" + yExpr})
	err := out.Output(outPath, withCopiedAudio(opts.kwargs())).
		OverWriteOutput().ErrorToStdOut().Run()
	if err != nil {
		return fmt.Errorf("failed to overlay image: %w", err)
	}
	return verifyOutput(outPath)
}

// DrawText renders a drawtext overlay onto the video. The filter arguments
// come from DrawTextArgs.
func DrawText(videoPath, outPath, filterArgs string, opts EncodeOptions) error {
	err := ffmpeg.Input(videoPath).
		Filter("drawtext", ffmpeg.Args{filterArgs}).
		Output(outPath, withCopiedAudio(opts.kwargs())).
		OverWriteOutput().ErrorToStdOut().Run()
	if err != nil {
		return fmt.Errorf("failed to draw text overlay: %w", err)
	}
	return verifyOutput(outPath)
}

// FadeInOut applies a fade-in at the start and/or a fade-out at the end of a
// clip. A zero duration disables that edge. The audio track fades with the
// video.
func FadeInOut(inputPath, outPath string, inDur, outDur, clipDuration float64, opts EncodeOptions) error {
	input := ffmpeg.Input(inputPath)
	videoChain := input.Get("v")
	audioChain := input.Get("a")

	if inDur > 0 {
		videoChain = videoChain.Filter("fade", ffmpeg.Args{}, ffmpeg.KwArgs{
			"t": "in", "st": "0", "d": fmt.Sprintf("%.3f", inDur),
		})
		audioChain = audioChain.Filter("afade", ffmpeg.Args{}, ffmpeg.KwArgs{
			"t": "in", "st": "0", "d": fmt.Sprintf("%.3f", inDur),
		})
	}
	if outDur > 0 {
		start := clipDuration - outDur
		if start < 0 {
			start = 0
		}
		videoChain = videoChain.Filter("fade", ffmpeg.Args{}, ffmpeg.KwArgs{
			"t": "out", "st": fmt.Sprintf("%.3f", start), "d": fmt.Sprintf("%.3f", outDur),
		})
		audioChain = audioChain.Filter("afade", ffmpeg.Args{}, ffmpeg.KwArgs{
			"t": "out", "st": fmt.Sprintf("%.3f", start), "d": fmt.Sprintf("%.3f", outDur),
		})
	}

	kw := opts.kwargs()
	kw["c:a"] = "aac"
	err := ffmpeg.Output([]*ffmpeg.Stream{videoChain, audioChain}, outPath, kw).
		OverWriteOutput().ErrorToStdOut().Run()
	if err != nil {
		return fmt.Errorf("failed to apply fades: %w", err)
	}
	return verifyOutput(outPath)
}

// BlackClip generates a silent black clip at the reel size, used to pad
// under-length compositions.
func BlackClip(outPath string, w, h int, duration float64, opts EncodeOptions) error {
	fps := opts.FPS
	if fps <= 0 {
		fps = 24
	}
	videoSrc := ffmpeg.Input(fmt.Sprintf("color=c=black:s=%dx%d:r=%d:d=%f", w, h, fps, duration),
		ffmpeg.KwArgs{"f": "lavfi"})
	audioSrc := ffmpeg.Input(fmt.Sprintf("anullsrc=r=44100:cl=stereo:d=%f", duration),
		ffmpeg.KwArgs{"f": "lavfi"})

	kw := opts.kwargs()
	kw["c:a"] = "aac"
	kw["t"] = duration
	err := ffmpeg.Output([]*ffmpeg.Stream{videoSrc, audioSrc}, outPath, kw).
		OverWriteOutput().ErrorToStdOut().Run()
	if err != nil {
		return fmt.Errorf("failed to generate black clip: %w", err)
	}
	return verifyOutput(outPath)
}

// ConcatWithTransitions builds the xfade/acrossfade chain for the planned
// transitions. Callers fall back to ConcatSimple when it fails.
func ConcatWithTransitions(paths []string, steps []TransitionStep, outPath string, opts EncodeOptions) error {
	if len(paths) == 0 {
		return fmt.Errorf("no clips to concatenate")
	}
	if len(steps) != len(paths)-1 {
		return fmt.Errorf("have %d clips but %d transitions", len(paths), len(steps))
	}

	inputs := make([]*ffmpeg.Stream, len(paths))
	for i, p := range paths {
		inputs[i] = ffmpeg.Input(p)
	}

	videoChain := inputs[0].Get("v")
	audioChain := inputs[0].Get("a")
	for i, step := range steps {
		videoChain = ffmpeg.Filter([]*ffmpeg.Stream{videoChain, inputs[i+1].Get("v")}, "xfade",
			ffmpeg.Args{}, ffmpeg.KwArgs{
				"transition": step.Kind,
				"duration":   fmt.Sprintf("%.3f", step.Duration),
				"offset":     fmt.Sprintf("%.3f", step.Offset),
			})
		audioChain = ffmpeg.Filter([]*ffmpeg.Stream{audioChain, inputs[i+1].Get("a")}, "acrossfade",
			ffmpeg.Args{}, ffmpeg.KwArgs{"d": fmt.Sprintf("%.3f", step.Duration)})
	}

	kw := opts.kwargs()
	kw["c:a"] = "aac"
	err := ffmpeg.Output([]*ffmpeg.Stream{videoChain, audioChain}, outPath, kw).
		OverWriteOutput().ErrorToStdOut().Run()
	if err != nil {
		return fmt.Errorf("failed to concatenate with transitions: %w", err)
	}
	return verifyOutput(outPath)
}

// ConcatSimple joins clips with the concat demuxer, no re-timing.
func ConcatSimple(paths []string, listFilePath, outPath string, opts EncodeOptions) error {
	if len(paths) == 0 {
		return fmt.Errorf("no clips to concatenate")
	}
	var list string
	for _, p := range paths {
		list += fmt.Sprintf("file '%s'\n", p)
	}
	if err := os.WriteFile(listFilePath, []byte(list), 0644); err != nil {
		return fmt.Errorf("failed to write concat list: %w", err)
	}

	kw := opts.kwargs()
	kw["c:a"] = "aac"
	err := ffmpeg.Input(listFilePath, ffmpeg.KwArgs{"f": "concat", "safe": 0}).
		Output(outPath, kw).
		OverWriteOutput().ErrorToStdOut().Run()
	if err != nil {
		return fmt.Errorf("failed to concatenate clips: %w", err)
	}
	return verifyOutput(outPath)
}

func withCopiedAudio(kw ffmpeg.KwArgs) ffmpeg.KwArgs {
	kw["c:a"] = "copy"
	return kw
}
