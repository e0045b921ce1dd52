// Package pipeline joins rendered scenes into the final reel and drives the
// task lifecycle around that work.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/reelforge/reel-worker/clients"
	"github.com/reelforge/reel-worker/config"
	"github.com/reelforge/reel-worker/log"
	"github.com/reelforge/reel-worker/metrics"
	"github.com/reelforge/reel-worker/render"
	"github.com/reelforge/reel-worker/schema"
	"github.com/reelforge/reel-worker/video"
)

// ObjectPublisher is the upload slice of the object store.
type ObjectPublisher interface {
	Upload(ctx context.Context, taskID, localPath, key, contentType string) (string, error)
}

// Composer concatenates ordered scene clips, enforces the duration bounds,
// applies the CTA end-screen logo and publishes the result.
type Composer struct {
	Cfg     *config.Config
	Probe   video.Prober
	Store   ObjectPublisher
	Fetcher *clients.Fetcher
}

func (c *Composer) tempPath(pattern string) string {
	return filepath.Join(c.Cfg.TempDir, fmt.Sprintf(pattern, uuid.New().String()))
}

func (c *Composer) finalOpts() video.EncodeOptions {
	return video.EncodeOptions{
		Preset:  c.Cfg.FinalVideoPreset,
		CRF:     c.Cfg.FFmpegCRF,
		Bitrate: c.Cfg.FFmpegBitrate,
		Threads: c.Cfg.FFmpegThreads,
		FPS:     c.Cfg.FPS,
	}
}

// Compose runs the full composition pass and returns the task result with the
// published URL.
func (c *Composer) Compose(ctx context.Context, taskID string, spec *schema.VideoSpec, scenes []*render.SceneResult) (*schema.TaskResult, error) {
	start := time.Now()
	if len(scenes) == 0 {
		return nil, fmt.Errorf("no scene clips to compose")
	}

	paths := make([]string, len(scenes))
	durations := make([]float64, len(scenes))
	for i, s := range scenes {
		if s == nil || s.Path == "" {
			return nil, fmt.Errorf("scene %d produced no clip", i)
		}
		paths[i] = s.Path
		durations[i] = s.Duration
	}

	joined, err := c.concatenate(taskID, spec, paths, durations)
	if err != nil {
		return nil, err
	}

	joined, duration, err := c.clampDuration(taskID, joined)
	if err != nil {
		return nil, err
	}

	// the CTA logo goes on after trimming so it survives the full runtime
	joined, err = c.applyCTALogo(ctx, taskID, spec, joined)
	if err != nil {
		return nil, err
	}

	im, err := c.Probe.ProbeFile(taskID, joined)
	if err != nil {
		return nil, fmt.Errorf("failed to verify final video: %w", err)
	}
	if !im.HasVideo || im.Duration <= 0 {
		return nil, fmt.Errorf("final video verification failed: has_video=%v duration=%f", im.HasVideo, im.Duration)
	}
	duration = im.Duration

	filename := spec.OutputFilename
	if filename == "" {
		filename = fmt.Sprintf("reel_%s.mp4", taskID)
	}
	if err := os.MkdirAll(c.Cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	localPath := filepath.Join(c.Cfg.OutputDir, filename)
	if err := os.Rename(joined, localPath); err != nil {
		return nil, fmt.Errorf("failed to move final video: %w", err)
	}

	url, err := c.Store.Upload(ctx, taskID, localPath, clients.VideoKey(taskID, filename), "video/mp4")
	if err != nil {
		return nil, fmt.Errorf("failed to publish final video: %w", err)
	}

	metrics.ComposeDurationSec.Observe(time.Since(start).Seconds())
	log.Log(taskID, "composition finished", "duration", duration, "output_url", log.RedactURL(url))
	return &schema.TaskResult{
		OutputURL:       url,
		LocalPath:       localPath,
		Duration:        duration,
		PostDescription: spec.PostDescription,
	}, nil
}

// concatenate joins the clips, with transitions when configured. Any failure
// on the transition path degrades to a plain concat.
func (c *Composer) concatenate(taskID string, spec *schema.VideoSpec, paths []string, durations []float64) (string, error) {
	cfg := schema.ResolveTransition(nil, spec)
	steps, _, err := video.PlanTransitions(durations, cfg)
	if err != nil {
		log.Log(taskID, "transition planning failed, falling back to plain concat", "err", err)
		steps = nil
	}

	out := c.tempPath("joined_%s.mp4")
	if len(steps) == 0 {
		if len(paths) == 1 {
			return paths[0], nil
		}
		if err := video.ConcatSimple(paths, c.tempPath("concat_%s.txt"), out, c.finalOpts()); err != nil {
			return "", fmt.Errorf("failed to concatenate scenes: %w", err)
		}
		return out, nil
	}

	fadePaths := c.applyEdgeFades(taskID, paths, durations, cfg.DurationSeconds)
	if err := video.ConcatWithTransitions(fadePaths, steps, out, c.finalOpts()); err != nil {
		log.Log(taskID, "transition concat failed, falling back to plain concat", "err", err)
		if err := video.ConcatSimple(paths, c.tempPath("concat_%s.txt"), out, c.finalOpts()); err != nil {
			return "", fmt.Errorf("failed to concatenate scenes: %w", err)
		}
	}
	return out, nil
}

// applyEdgeFades fades the first clip in and the last clip out. Fade failures
// keep the original clips.
func (c *Composer) applyEdgeFades(taskID string, paths []string, durations []float64, fadeDur float64) []string {
	if fadeDur <= 0 {
		fadeDur = 1.0
	}
	out := make([]string, len(paths))
	copy(out, paths)

	first := c.tempPath("fadein_%s.mp4")
	if err := video.FadeInOut(paths[0], first, fadeDur, 0, durations[0], c.finalOpts()); err != nil {
		log.Log(taskID, "fade-in failed, keeping original clip", "err", err)
	} else {
		out[0] = first
	}

	last := len(paths) - 1
	if last == 0 {
		return out
	}
	lastOut := c.tempPath("fadeout_%s.mp4")
	if err := video.FadeInOut(paths[last], lastOut, 0, fadeDur, durations[last], c.finalOpts()); err != nil {
		log.Log(taskID, "fade-out failed, keeping original clip", "err", err)
	} else {
		out[last] = lastOut
	}
	return out
}

// clampDuration enforces the final duration bounds by padding with a black
// clip or truncating.
func (c *Composer) clampDuration(taskID, path string) (string, float64, error) {
	im, err := c.Probe.ProbeFile(taskID, path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to probe joined video: %w", err)
	}
	duration := im.Duration

	switch {
	case duration < config.MinFinalDuration:
		pad := config.MinFinalDuration - duration
		log.Log(taskID, "final video too short, padding with black", "duration", duration, "pad", pad)
		black := c.tempPath("pad_%s.mp4")
		if err := video.BlackClip(black, c.Cfg.ReelWidth, c.Cfg.ReelHeight, pad, c.finalOpts()); err != nil {
			return "", 0, err
		}
		padded := c.tempPath("padded_%s.mp4")
		if err := video.ConcatSimple([]string{path, black}, c.tempPath("concat_%s.txt"), padded, c.finalOpts()); err != nil {
			return "", 0, err
		}
		return padded, config.MinFinalDuration, nil

	case duration > config.MaxFinalDuration:
		log.Log(taskID, "final video too long, truncating", "duration", duration)
		trimmed := c.tempPath("truncated_%s.mp4")
		if err := video.Trim(path, trimmed, config.MaxFinalDuration, c.finalOpts()); err != nil {
			return "", 0, err
		}
		return trimmed, config.MaxFinalDuration, nil

	default:
		return path, duration, nil
	}
}

// applyCTALogo composites the global logo over the whole video when it is
// marked as a CTA screen. Unlike per-scene logos this is fatal on failure;
// the brand end-card is the point of the reel.
func (c *Composer) applyCTALogo(ctx context.Context, taskID string, spec *schema.VideoSpec, path string) (string, error) {
	logo := spec.Logo
	if logo == nil || !logo.CTAScreen || logo.URL == "" {
		return path, nil
	}

	logoPath, err := c.Fetcher.Download(ctx, taskID, logo.URL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch CTA logo: %w", err)
	}
	im, err := c.Probe.ProbeFile(taskID, logoPath)
	if err != nil {
		return "", fmt.Errorf("failed to probe CTA logo: %w", err)
	}
	w, h, err := video.LogoTargetSize(im.Width, im.Height, c.Cfg.ReelWidth, c.Cfg.ReelHeight, logo.Size)
	if err != nil {
		return "", err
	}

	margin := logo.Margin
	if margin <= 0 {
		margin = 20
	}
	x, y := video.OverlayPositionExpr(logo.Position, margin)

	out := c.tempPath("cta_%s.mp4")
	if err := video.OverlayImage(path, logoPath, out, x, y, w, h, logo.Opacity, c.finalOpts()); err != nil {
		return "", fmt.Errorf("failed to composite CTA logo: %w", err)
	}
	return out, nil
}
