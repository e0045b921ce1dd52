// Package render turns individual scenes into MP4 clips and fans the work
// out across a bounded worker pool.
package render

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/reelforge/reel-worker/cache"
	"github.com/reelforge/reel-worker/clients"
	"github.com/reelforge/reel-worker/config"
	xerrors "github.com/reelforge/reel-worker/errors"
	"github.com/reelforge/reel-worker/log"
	"github.com/reelforge/reel-worker/metrics"
	"github.com/reelforge/reel-worker/schema"
	"github.com/reelforge/reel-worker/video"
)

const defaultSceneDuration = 5.0

// ObjectUploader is the slice of the object store the renderer needs for
// provider reference images.
type ObjectUploader interface {
	Upload(ctx context.Context, taskID, localPath, key, contentType string) (string, error)
}

// Providers bundles the external capability clients. Any of them may be nil
// when unconfigured; scenes that need a missing capability fail cleanly.
type Providers struct {
	TTS         clients.SpeechSynthesizer
	Images      *clients.ImageGenChain
	Video       map[schema.VideoProvider]clients.VideoGenerator
	Stock       clients.StockVideoSearcher
	Editor      clients.ImageEditor
	Transcriber clients.Transcriber
	Vision      clients.VisionDescriber
}

// SceneRenderer renders one scene at a time. It is safe for concurrent use;
// per-scene state lives on the stack.
type SceneRenderer struct {
	Cfg       *config.Config
	Fetcher   *clients.Fetcher
	Providers Providers
	Cache     *cache.ArtifactCache
	Probe     video.Prober
	Store     ObjectUploader

	// Downloads memoizes shared asset fetches within a task, keyed by URL.
	// Scenes reusing the same logo hit the same local file. Optional.
	Downloads *cache.Cache[string]
}

// SceneResult is one rendered scene clip, tagged with its input position so
// the composer can restore order.
type SceneResult struct {
	Index     int
	SceneID   string
	Path      string
	Duration  float64
	TempFiles []string
}

func (r *SceneRenderer) sceneOpts() video.EncodeOptions {
	return video.EncodeOptions{
		Preset:  r.Cfg.FFmpegPreset,
		CRF:     r.Cfg.FFmpegCRF,
		Bitrate: r.Cfg.FFmpegBitrate,
		Threads: r.Cfg.FFmpegThreads,
		FPS:     config.SceneFPS,
	}
}

func (r *SceneRenderer) tempPath(pattern string) string {
	return filepath.Join(r.Cfg.TempDir, fmt.Sprintf(pattern, uuid.New().String()))
}

// RenderScene runs the full per-scene pipeline and returns the path of the
// finished clip. Narration, primary media, sizing and the final encode are
// fatal; subtitles, text overlays and logos degrade to a clip without them.
func (r *SceneRenderer) RenderScene(ctx context.Context, taskID string, spec *schema.VideoSpec, scene *schema.Scene, index int) (*SceneResult, error) {
	start := time.Now()
	result := &SceneResult{Index: index, SceneID: scene.SceneID}

	narrationPath, narrationDur, narrationCached, err := r.narrationFor(ctx, taskID, scene)
	if err != nil {
		return nil, fmt.Errorf("scene %s: %w", scene.SceneID, err)
	}
	// cache-owned artifacts must survive the end-of-task cleanup
	if narrationPath != "" && !narrationCached {
		result.TempFiles = append(result.TempFiles, narrationPath)
	}

	var clipPath string
	var clipDur float64
	switch scene.Type {
	case schema.SceneImage:
		clipPath, clipDur, err = r.renderImageScene(ctx, taskID, spec, scene, narrationPath, narrationDur, result)
	case schema.SceneVideo:
		clipPath, clipDur, err = r.renderVideoScene(ctx, taskID, spec, scene, narrationPath, narrationDur, result)
	default:
		err = xerrors.NewInputInvalidError("scene %s: unknown type %q", scene.SceneID, scene.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("scene %s: %w", scene.SceneID, err)
	}

	// decoration steps are best effort from here on
	clipPath = r.applySubtitles(ctx, taskID, spec, scene, clipPath, narrationPath, result)
	clipPath = r.applyTextOverlay(taskID, scene, clipPath, result)
	clipPath = r.applyLogo(ctx, taskID, spec, scene, clipPath, result)

	finalPath := r.tempPath("scene_%s.mp4")
	if err := os.Rename(clipPath, finalPath); err != nil {
		return nil, fmt.Errorf("scene %s: failed to finalize clip: %w", scene.SceneID, err)
	}

	result.Path = finalPath
	result.Duration = clipDur
	metrics.SceneRenderDurationSec.WithLabelValues(string(scene.Type)).Observe(time.Since(start).Seconds())
	log.Log(taskID, "scene rendered", "scene_id", scene.SceneID, "duration", clipDur, "path", finalPath)
	return result, nil
}

// narrationFor produces the narration audio for a scene, if any, and its
// measured duration. The bool reports whether the artifact cache owns the
// file, in which case it must not be cleaned up with the scene temps.
func (r *SceneRenderer) narrationFor(ctx context.Context, taskID string, scene *schema.Scene) (string, float64, bool, error) {
	var audioPath string
	var cacheOwned bool
	switch {
	case scene.Narration != "":
		p, err := r.Fetcher.Download(ctx, taskID, scene.Narration)
		if err != nil {
			return "", 0, false, fmt.Errorf("failed to fetch narration: %w", err)
		}
		audioPath = p

	case scene.NarrationText != "":
		if r.Providers.TTS == nil {
			return "", 0, false, fmt.Errorf("narration_text set but no TTS provider configured")
		}
		key := cache.Key("tts", "tts", scene.NarrationText, scene.AudioPromptURL)
		if cached, ok := r.Cache.GetPath(key); ok {
			audioPath = cached
			cacheOwned = true
			break
		}
		p := r.tempPath("narration_%s.mp3")
		err := r.Providers.TTS.Synthesize(ctx, taskID, clients.TTSRequest{
			Text:           scene.NarrationText,
			AudioPromptURL: scene.AudioPromptURL,
			OutputPath:     p,
		})
		if err != nil {
			return "", 0, false, fmt.Errorf("failed to synthesize narration: %w", err)
		}
		r.Cache.PutPath(key, p)
		audioPath = p
		cacheOwned = true

	default:
		return "", 0, false, nil
	}

	im, err := r.Probe.ProbeFile(taskID, audioPath)
	if err != nil {
		return "", 0, false, fmt.Errorf("failed to probe narration audio: %w", err)
	}
	if im.Duration <= 0 {
		return "", 0, false, fmt.Errorf("narration audio has no measurable duration")
	}
	return audioPath, im.Duration, cacheOwned, nil
}

func (r *SceneRenderer) renderImageScene(ctx context.Context, taskID string, spec *schema.VideoSpec, scene *schema.Scene, narrationPath string, narrationDur float64, result *SceneResult) (string, float64, error) {
	imagePath, imageCached, err := r.imageFor(ctx, taskID, spec, scene)
	if err != nil {
		return "", 0, err
	}
	if !imageCached {
		result.TempFiles = append(result.TempFiles, imagePath)
	}

	im, err := r.Probe.ProbeFile(taskID, imagePath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to probe image: %w", err)
	}
	fitW, fitH, err := video.FitImageSize(im.Width, im.Height, r.Cfg.ReelWidth, r.Cfg.ReelHeight)
	if err != nil {
		return "", 0, err
	}

	// generated narration drives the clip length exactly
	duration := narrationDur
	if narrationPath == "" {
		duration = float64(scene.Duration)
		if duration <= 0 {
			duration = defaultSceneDuration
		}
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	plan, err := video.ResolveAnimation(scene.Animation, rng)
	if err != nil {
		log.Log(taskID, "invalid animation config, using random", "scene_id", scene.SceneID, "err", err)
		plan = video.RandomAnimation(rng)
	}

	out := r.tempPath("imgscene_%s.mp4")
	err = video.EncodeImageScene(imagePath, narrationPath, out, plan, fitW, fitH,
		r.Cfg.ReelWidth, r.Cfg.ReelHeight, r.Cfg.ReelBackgroundColor, duration, r.sceneOpts())
	if err != nil {
		return "", 0, err
	}
	return out, duration, nil
}

func (r *SceneRenderer) renderVideoScene(ctx context.Context, taskID string, spec *schema.VideoSpec, scene *schema.Scene, narrationPath string, narrationDur float64, result *SceneResult) (string, float64, error) {
	sourcePath, sourceCached, err := r.videoFor(ctx, taskID, spec, scene)
	if err != nil {
		return "", 0, err
	}
	if !sourceCached {
		result.TempFiles = append(result.TempFiles, sourcePath)
	}

	im, err := r.Probe.ProbeFile(taskID, sourcePath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to probe video: %w", err)
	}
	plan, err := video.PlanVideoSizing(im.Width, im.Height, r.Cfg.ReelWidth, r.Cfg.ReelHeight, r.Cfg.MaxZoomFactor)
	if err != nil {
		return "", 0, err
	}

	normPath := r.tempPath("normalized_%s.mp4")
	if err := video.NormalizeVideo(sourcePath, normPath, plan, r.sceneOpts()); err != nil {
		return "", 0, err
	}
	result.TempFiles = append(result.TempFiles, normPath)
	clipPath := normPath
	clipDur := im.Duration

	switch {
	case narrationPath != "" && narrationDur > clipDur:
		// loop the video out to the narration length
		looped := r.tempPath("looped_%s.mp4")
		if err := video.LoopToDuration(clipPath, looped, clipDur, narrationDur, r.sceneOpts()); err != nil {
			return "", 0, err
		}
		result.TempFiles = append(result.TempFiles, looped)
		clipPath = looped
		clipDur = narrationDur
		fallthrough
	case narrationPath != "":
		// narration shorter than the clip is padded with silence inside
		// AttachAudio
		withAudio := r.tempPath("voiced_%s.mp4")
		if err := video.AttachAudio(clipPath, narrationPath, withAudio, r.sceneOpts()); err != nil {
			return "", 0, err
		}
		result.TempFiles = append(result.TempFiles, withAudio)
		clipPath = withAudio

	case scene.Duration > 0 && float64(scene.Duration) < clipDur:
		trimmed := r.tempPath("trimmed_%s.mp4")
		if err := video.Trim(clipPath, trimmed, float64(scene.Duration), r.sceneOpts()); err != nil {
			return "", 0, err
		}
		result.TempFiles = append(result.TempFiles, trimmed)
		clipPath = trimmed
		clipDur = float64(scene.Duration)
	}

	return clipPath, clipDur, nil
}

// imageFor resolves the scene's primary image from its selector. The bool
// reports artifact-cache ownership of the returned path.
func (r *SceneRenderer) imageFor(ctx context.Context, taskID string, spec *schema.VideoSpec, scene *schema.Scene) (string, bool, error) {
	switch {
	case scene.ImageURL != "":
		p, err := r.Fetcher.Download(ctx, taskID, scene.ImageURL)
		if err != nil {
			return "", false, err
		}
		return r.maybeEditImage(ctx, taskID, scene, p), false, nil

	case scene.PromptImage != "":
		return r.generateImage(ctx, taskID, spec, scene, scene.PromptImage)

	case scene.PromptEditImage != "":
		// edit-only scenes operate on the first product image
		if !spec.IsEcommerce() {
			return "", false, xerrors.NewInputInvalidError("scene %s: prompt_edit_image without image_url needs product_images", scene.SceneID)
		}
		p, err := r.Fetcher.Download(ctx, taskID, spec.ProductImages[0])
		if err != nil {
			return "", false, err
		}
		return r.maybeEditImage(ctx, taskID, scene, p), false, nil

	default:
		return "", false, xerrors.NewInputInvalidError("scene %s: no image source", scene.SceneID)
	}
}

// generateImage runs the provider chain with caching. E-commerce payloads
// force the OpenAI provider and pass the product images as references.
func (r *SceneRenderer) generateImage(ctx context.Context, taskID string, spec *schema.VideoSpec, scene *schema.Scene, prompt string) (string, bool, error) {
	if r.Providers.Images == nil {
		return "", false, fmt.Errorf("prompt_image set but no image providers configured")
	}

	primary := clients.ProviderKind(scene.ImageProvider)
	if primary == "" {
		primary = clients.ProviderKind(r.Cfg.DefaultImageProvider)
	}

	req := clients.ImageRequest{
		Prompt:       prompt,
		SceneContext: scene.SceneID,
		VideoContext: spec.PostDescription,
	}
	if spec.IsEcommerce() {
		primary = clients.ProviderOpenAI
		req.ProductImages = spec.ProductImages
		if r.Providers.Vision != nil {
			if desc, err := r.Providers.Vision.DescribeProducts(ctx, taskID, spec.ProductImages); err == nil {
				req.Prompt = prompt + "\nProduct: " + desc
			} else {
				log.Log(taskID, "vision pre-pass failed, using raw prompt", "err", err)
			}
		}
	}

	cacheArgs := []string{req.Prompt, req.SceneContext, req.VideoContext, strings.Join(req.ProductImages, ",")}
	if p, ok := r.lookupImageCache(primary, cacheArgs); ok {
		log.Log(taskID, "image cache hit", "scene_id", scene.SceneID)
		return p, true, nil
	}

	req.OutputPath = r.tempPath("genimage_%s.png")
	produced, err := r.Providers.Images.Generate(ctx, taskID, primary, req)
	if err != nil {
		return "", false, err
	}
	r.Cache.PutPath(cache.Key("image", string(produced), cacheArgs...), req.OutputPath)
	final := r.maybeEditImage(ctx, taskID, scene, req.OutputPath)
	return final, final == req.OutputPath, nil
}

// lookupImageCache checks only the requested provider's slot. Artifacts a
// fallback provider produced sit under that provider's key and must not
// satisfy a request naming a different primary; the next identical request
// re-attempts the primary instead.
func (r *SceneRenderer) lookupImageCache(primary clients.ProviderKind, args []string) (string, bool) {
	return r.Cache.GetPath(cache.Key("image", string(primary), args...))
}

// fetchShared downloads a URL at most once per task. Global decorations like
// the logo appear in every scene and don't need one copy per worker.
func (r *SceneRenderer) fetchShared(ctx context.Context, taskID, rawURL string) (string, error) {
	if r.Downloads == nil {
		return r.Fetcher.Download(ctx, taskID, rawURL)
	}
	if p := r.Downloads.Get(rawURL); p != "" {
		return p, nil
	}
	p, err := r.Fetcher.Download(ctx, taskID, rawURL)
	if err != nil {
		return "", err
	}
	r.Downloads.Store(rawURL, p)
	return p, nil
}

// maybeEditImage applies prompt_edit_image when set. Edit failures keep the
// original image.
func (r *SceneRenderer) maybeEditImage(ctx context.Context, taskID string, scene *schema.Scene, imagePath string) string {
	if scene.PromptEditImage == "" || r.Providers.Editor == nil {
		return imagePath
	}
	edited := r.tempPath("edited_%s.png")
	if err := r.Providers.Editor.EditImage(ctx, taskID, imagePath, scene.PromptEditImage, edited); err != nil {
		log.Log(taskID, "image edit failed, keeping original", "scene_id", scene.SceneID, "err", err)
		return imagePath
	}
	return edited
}

// videoFor resolves the scene's primary video from its selector. The bool
// reports artifact-cache ownership of the returned path.
func (r *SceneRenderer) videoFor(ctx context.Context, taskID string, spec *schema.VideoSpec, scene *schema.Scene) (string, bool, error) {
	switch {
	case scene.VideoURL != "":
		p, err := r.Fetcher.Download(ctx, taskID, scene.VideoURL)
		return p, false, err

	case len(scene.VideoKeywords) > 0:
		p, err := r.stockVideo(ctx, taskID, scene)
		return p, false, err

	case scene.PromptVideo != "":
		return r.generateVideo(ctx, taskID, spec, scene)

	default:
		return "", false, xerrors.NewInputInvalidError("scene %s: no video source", scene.SceneID)
	}
}

type stockSearchResult struct {
	Videos []clients.StockVideo `json:"videos"`
}

func (r *SceneRenderer) stockVideo(ctx context.Context, taskID string, scene *schema.Scene) (string, error) {
	if r.Providers.Stock == nil {
		return "", fmt.Errorf("video_keywords set but no stock providers configured")
	}

	query := clients.StockQuery{Keywords: scene.VideoKeywords, PerKeywordCap: 10, Orientation: "portrait"}
	key := cache.Key("stock-search", "stock", strings.Join(scene.VideoKeywords, ","))

	// the cache stores objects, so the hit list travels in a wrapper
	var cached stockSearchResult
	var hits []clients.StockVideo
	if r.Cache.GetResult(key, &cached) {
		hits = cached.Videos
	} else {
		found, err := r.Providers.Stock.Search(ctx, taskID, query)
		if err != nil {
			return "", fmt.Errorf("stock search failed: %w", err)
		}
		hits = found
		r.Cache.PutResult(key, stockSearchResult{Videos: found})
	}
	if len(hits) == 0 {
		return "", fmt.Errorf("no stock footage found for keywords %v", scene.VideoKeywords)
	}

	// hits are pre-shuffled; walk until one downloads
	var lastErr error
	for i, hit := range hits {
		if i >= 3 {
			break
		}
		p, err := r.Fetcher.Download(ctx, taskID, hit.URL)
		if err == nil {
			return p, nil
		}
		lastErr = err
		log.Log(taskID, "stock clip download failed, trying next", "url", hit.URL, "err", err)
	}
	return "", fmt.Errorf("all stock downloads failed: %w", lastErr)
}

func (r *SceneRenderer) generateVideo(ctx context.Context, taskID string, spec *schema.VideoSpec, scene *schema.Scene) (string, bool, error) {
	provider := scene.VideoProvider
	if provider == "" {
		provider = schema.VideoProvider(r.Cfg.DefaultVideoProvider)
	}
	gen, ok := r.Providers.Video[provider]
	if !ok {
		return "", false, fmt.Errorf("video provider %q not configured", provider)
	}

	duration := scene.Duration
	if duration <= 0 {
		duration = int(defaultSceneDuration)
	}

	req := clients.VideoRequest{
		Prompt:      scene.PromptVideo,
		Duration:    duration,
		AspectRatio: "9:16",
		Resolution:  "720p",
		Model:       defaultVideoModel(provider),
	}

	// the KlingAI e-commerce flow conditions the generation on a reference
	// image synthesized from prompt_image
	if provider == schema.VideoProviderKlingAI && scene.PromptImage != "" {
		refPath, _, err := r.generateImage(ctx, taskID, spec, scene, scene.PromptImage)
		if err != nil {
			return "", false, fmt.Errorf("failed to generate reference image: %w", err)
		}
		if r.Store != nil {
			url, err := r.Store.Upload(ctx, taskID, refPath, clients.GeneratedImageKey(taskID), "image/png")
			if err != nil {
				log.Log(taskID, "reference image upload failed, proceeding text-only", "err", err)
			} else {
				req.ImageURL = url
			}
		}
	}

	cacheArgs := []string{req.Prompt, req.ImageURL, strconv.Itoa(req.Duration), req.Model}
	key := cache.Key("videogen", string(provider), cacheArgs...)
	if p, ok := r.Cache.GetPath(key); ok {
		log.Log(taskID, "generated video cache hit", "scene_id", scene.SceneID)
		return p, true, nil
	}

	req.OutputPath = r.tempPath("genvideo_%s.mp4")
	if err := gen.GenerateVideo(ctx, taskID, req); err != nil {
		return "", false, err
	}
	r.Cache.PutPath(key, req.OutputPath)
	return req.OutputPath, true, nil
}

func defaultVideoModel(p schema.VideoProvider) string {
	if p == schema.VideoProviderKlingAI {
		return "kling-v1-6"
	}
	return "ray-2"
}

func (r *SceneRenderer) applySubtitles(ctx context.Context, taskID string, spec *schema.VideoSpec, scene *schema.Scene, clipPath, narrationPath string, result *SceneResult) string {
	// subtitles without narration are a no-op
	if !scene.Subtitle || narrationPath == "" || r.Providers.Transcriber == nil {
		return clipPath
	}

	words, err := r.Providers.Transcriber.TranscribeWords(ctx, taskID, narrationPath)
	if err != nil || len(words) == 0 {
		log.Log(taskID, "transcription failed, skipping subtitles", "scene_id", scene.SceneID, "err", err)
		return clipPath
	}

	cfg := schema.ResolveSubtitleConfig(scene, spec)
	doc := video.GenerateASS(words, cfg, r.Cfg.ReelWidth, r.Cfg.ReelHeight)
	assPath := r.tempPath("subs_%s.ass")
	if err := os.WriteFile(assPath, []byte(doc), 0644); err != nil {
		log.Log(taskID, "failed to write subtitle file, skipping", "err", err)
		return clipPath
	}
	result.TempFiles = append(result.TempFiles, assPath)

	out := r.tempPath("subtitled_%s.mp4")
	if err := video.BurnSubtitles(clipPath, assPath, out, r.sceneOpts()); err != nil {
		log.Log(taskID, "failed to burn subtitles, skipping", "scene_id", scene.SceneID, "err", err)
		return clipPath
	}
	result.TempFiles = append(result.TempFiles, clipPath)
	return out
}

func (r *SceneRenderer) applyTextOverlay(taskID string, scene *schema.Scene, clipPath string, result *SceneResult) string {
	if scene.Text == nil || scene.Text.Content == "" {
		return clipPath
	}
	args := video.DrawTextArgs(*scene.Text, r.Cfg.ReelWidth, r.Cfg.ReelHeight)
	out := r.tempPath("texted_%s.mp4")
	if err := video.DrawText(clipPath, out, args, r.sceneOpts()); err != nil {
		log.Log(taskID, "failed to draw text overlay, skipping", "scene_id", scene.SceneID, "err", err)
		return clipPath
	}
	result.TempFiles = append(result.TempFiles, clipPath)
	return out
}

func (r *SceneRenderer) applyLogo(ctx context.Context, taskID string, spec *schema.VideoSpec, scene *schema.Scene, clipPath string, result *SceneResult) string {
	logo := schema.ResolveLogo(scene, spec)
	if logo == nil || logo.URL == "" {
		return clipPath
	}

	logoPath, err := r.fetchShared(ctx, taskID, logo.URL)
	if err != nil {
		log.Log(taskID, "failed to fetch logo, skipping", "scene_id", scene.SceneID, "err", err)
		return clipPath
	}
	result.TempFiles = append(result.TempFiles, logoPath)

	im, err := r.Probe.ProbeFile(taskID, logoPath)
	if err != nil {
		log.Log(taskID, "failed to probe logo, skipping", "err", err)
		return clipPath
	}
	w, h, err := video.LogoTargetSize(im.Width, im.Height, r.Cfg.ReelWidth, r.Cfg.ReelHeight, logo.Size)
	if err != nil {
		log.Log(taskID, "invalid logo dimensions, skipping", "err", err)
		return clipPath
	}

	margin := logo.Margin
	if margin <= 0 {
		margin = 20
	}
	x, y := video.OverlayPositionExpr(logo.Position, margin)

	out := r.tempPath("branded_%s.mp4")
	if err := video.OverlayImage(clipPath, logoPath, out, x, y, w, h, logo.Opacity, r.sceneOpts()); err != nil {
		log.Log(taskID, "failed to overlay logo, skipping", "scene_id", scene.SceneID, "err", err)
		return clipPath
	}
	result.TempFiles = append(result.TempFiles, clipPath)
	return out
}
