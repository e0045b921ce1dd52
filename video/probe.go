// Package video holds the media planning and ffmpeg plumbing: probing,
// sizing, animation, overlays, subtitles, transitions and the encoders that
// turn plans into MP4 files.
package video

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/reelforge/reel-worker/log"
	"gopkg.in/vansante/go-ffprobe.v2"
)

// InputMedia is the probed shape of a local or remote media file.
type InputMedia struct {
	Duration  float64
	Width     int
	Height    int
	FPS       float64
	SizeBytes int64
	HasAudio  bool
	HasVideo  bool
}

type Prober interface {
	ProbeFile(taskID, url string, ffProbeOptions ...string) (InputMedia, error)
}

type Probe struct {
	IgnoreErrMessages []string
}

func (p Probe) ProbeFile(taskID, url string, ffProbeOptions ...string) (InputMedia, error) {
	im, err := p.runProbe(url, ffProbeOptions...)
	if err == nil {
		return im, nil
	}

	// ignore known-benign probing errors and re-run quietly to get the data
	errMsg := strings.ToLower(err.Error())
	for _, ignoreMsg := range p.IgnoreErrMessages {
		if strings.Contains(errMsg, ignoreMsg) {
			log.Log(taskID, "ignoring probe error", "err", err)
			return p.runProbe(url, "-loglevel", "fatal")
		}
	}
	return InputMedia{}, err
}

func (p Probe) runProbe(url string, ffProbeOptions ...string) (im InputMedia, err error) {
	if len(ffProbeOptions) == 0 {
		ffProbeOptions = []string{"-loglevel", "error"}
	}
	var data *ffprobe.ProbeData
	operation := func() error {
		probeCtx, probeCancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer probeCancel()
		data, err = ffprobe.ProbeURL(probeCtx, url, ffProbeOptions...)
		return err
	}

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 500 * time.Millisecond
	backOff.MaxInterval = 2 * time.Second
	backOff.MaxElapsedTime = 0
	err = backoff.Retry(operation, backoff.WithMaxRetries(backOff, 3))
	if err != nil {
		return InputMedia{}, fmt.Errorf("error probing %s: %w", url, err)
	}
	return parseProbeOutput(data)
}

func parseProbeOutput(probeData *ffprobe.ProbeData) (InputMedia, error) {
	if probeData.Format == nil {
		return InputMedia{}, errors.New("error parsing probed media: format information missing")
	}

	im := InputMedia{}
	if size, err := strconv.ParseInt(probeData.Format.Size, 10, 64); err == nil {
		im.SizeBytes = size
	}
	im.Duration = probeData.Format.DurationSeconds

	if audioStream := probeData.FirstAudioStream(); audioStream != nil {
		im.HasAudio = true
		if im.Duration == 0 {
			if d, err := strconv.ParseFloat(audioStream.Duration, 64); err == nil {
				im.Duration = d
			}
		}
	}

	videoStream := probeData.FirstVideoStream()
	if videoStream == nil {
		if !im.HasAudio {
			return InputMedia{}, errors.New("error parsing probed media: no audio or video stream found")
		}
		return im, nil
	}
	im.HasVideo = true
	im.Width = videoStream.Width
	im.Height = videoStream.Height
	if d, err := strconv.ParseFloat(videoStream.Duration, 64); err == nil && d > 0 {
		im.Duration = d
	}

	fps, err := parseFps(videoStream.AvgFrameRate)
	if err != nil || fps == 0 {
		fps, _ = parseFps(videoStream.RFrameRate)
	}
	im.FPS = fps

	if im.Width <= 0 || im.Height <= 0 {
		return InputMedia{}, fmt.Errorf("error parsing probed media: invalid dimensions %dx%d", im.Width, im.Height)
	}
	return im, nil
}

func parseFps(framerate string) (float64, error) {
	if framerate == "" {
		return 0, nil
	}
	parts := strings.Split(framerate, "/")
	if len(parts) < 2 {
		fps, err := strconv.ParseFloat(framerate, 64)
		if err != nil {
			return 0, fmt.Errorf("error parsing fps %q: %w", framerate, err)
		}
		return fps, nil
	}
	num, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, fmt.Errorf("error parsing fps numerator %q: %w", framerate, err)
	}
	den, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, fmt.Errorf("error parsing fps denominator %q: %w", framerate, err)
	}
	if den == 0 {
		return 0, nil
	}
	return num / den, nil
}
