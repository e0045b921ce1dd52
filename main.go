package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/peterbourgon/ff/v3"

	"github.com/reelforge/reel-worker/cache"
	"github.com/reelforge/reel-worker/clients"
	"github.com/reelforge/reel-worker/config"
	"github.com/reelforge/reel-worker/log"
	"github.com/reelforge/reel-worker/metrics"
	"github.com/reelforge/reel-worker/pipeline"
	"github.com/reelforge/reel-worker/reconciler"
	"github.com/reelforge/reel-worker/render"
	"github.com/reelforge/reel-worker/schema"
	"github.com/reelforge/reel-worker/video"
)

const staleTempFileAge = 6 * time.Hour

func main() {
	os.Exit(run())
}

func run() int {
	if err := flag.Set("logtostderr", "true"); err != nil {
		glog.Fatal(err)
	}
	vFlag := flag.Lookup("v")
	fs := flag.NewFlagSet("reel-worker", flag.ExitOnError)
	cli := config.Cli{}

	version := fs.Bool("version", false, "print application version")
	fs.StringVar(&cli.TaskID, "task-id", "", "ID of the task to run; may also be given as the positional argument")
	fs.StringVar(&cli.APIKey, "api-key", "", "API key of the task owner, checked against the task before rendering")
	fs.StringVar(&cli.ConfigFile, "config", "", "optional YAML config file overlaid on the environment")
	fs.BoolVar(&cli.Reconcile, "reconcile", false, "run the stuck-task reconciler instead of a single task")
	fs.IntVar(&cli.PromPort, "prom-port", 0, "port to serve Prometheus metrics on; 0 disables")
	fs.StringVar(&cli.Verbosity, "v", "", "log verbosity. {4|5|6}")
	fs.BoolVar(&cli.Debug, "debug", false, "shorthand for maximum log verbosity")
	config.CommaSliceFlag(fs, &cli.ProbeIgnoreErrors, "probe-ignore-errors", []string{},
		"comma separated list of known-benign ffprobe error fragments to ignore")

	err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("REEL_WORKER"))
	if err != nil {
		glog.Fatalf("error parsing cli: %s", err)
	}
	if err := flag.CommandLine.Parse(nil); err != nil {
		glog.Fatal(err)
	}

	if *version {
		fmt.Printf("reel-worker version: %s\n", config.Version)
		return 0
	}

	if cli.Debug {
		cli.Verbosity = "6"
	}
	if cli.Verbosity != "" {
		if err := vFlag.Value.Set(cli.Verbosity); err != nil {
			glog.Fatal(err)
		}
	}

	// a bare positional argument is the task id
	if cli.TaskID == "" && len(fs.Args()) > 0 {
		cli.TaskID = fs.Args()[0]
	}

	cfg := config.FromEnv()
	if cli.ConfigFile != "" {
		if err := cfg.ApplyFile(cli.ConfigFile); err != nil {
			glog.Errorf("cannot load config file %s: %s", cli.ConfigFile, err)
			return pipeline.ExitFailed
		}
	}

	sweepStaleTempFiles(cfg.TempDir)

	go func() {
		if err := metrics.ListenAndServe(cli.PromPort); err != nil {
			log.LogNoTaskID("metrics listener failed", "err", err)
		}
	}()

	if cfg.DatabaseURL == "" {
		glog.Error("DATABASE_URL is required")
		return pipeline.ExitFailed
	}
	store, err := clients.NewTaskStore(cfg.DatabaseURL)
	if err != nil {
		glog.Errorf("cannot open task store: %s", err)
		return pipeline.ExitFailed
	}
	defer store.Close()

	if cli.Reconcile {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		notifier := clients.NewNotifier(cfg.NotifyWebhookURL)
		reconciler.New(cfg, store, notifier).Run(ctx)
		return 0
	}

	if cli.TaskID == "" {
		glog.Error("usage: reel-worker [flags] <task_id>")
		return pipeline.ExitFailed
	}
	log.AddContext(cli.TaskID, "version", config.Version)

	ctx := context.Background()
	if cli.APIKey != "" {
		if code := checkTaskOwnership(ctx, store, cli.TaskID, cli.APIKey); code != pipeline.ExitOK {
			return code
		}
	}

	if cfg.LogURLBase != "" {
		logURL := strings.TrimRight(cfg.LogURLBase, "/") + "/" + cli.TaskID
		if err := store.SetTaskLogURL(ctx, cli.TaskID, logURL); err != nil {
			log.Log(cli.TaskID, "cannot record log url", "err", err)
		}
	}

	artifacts, err := cache.NewArtifactCache(cfg.CacheDir)
	if err != nil {
		glog.Errorf("cannot initialize artifact cache: %s", err)
		return pipeline.ExitFailed
	}

	if cfg.ObjectStoreURL == "" {
		glog.Error("OBJECT_STORE_URL is required to publish results")
		return pipeline.ExitFailed
	}
	objectStore, err := clients.NewS3Store(cfg.ObjectStoreURL)
	if err != nil {
		glog.Errorf("cannot initialize object store: %s", err)
		return pipeline.ExitFailed
	}

	prober := video.Probe{IgnoreErrMessages: cli.ProbeIgnoreErrors}
	renderer := &render.SceneRenderer{
		Cfg:       cfg,
		Fetcher:   &clients.Fetcher{TempDir: cfg.TempDir, PexelsAPIKey: cfg.PexelsAPIKey},
		Providers: buildProviders(cfg),
		Cache:     artifacts,
		Probe:     prober,
		Store:     objectStore,
		Downloads: cache.New[string](),
	}
	orchestrator := render.NewOrchestrator(renderer, cfg.SceneParallelLimit)
	composer := &pipeline.Composer{
		Cfg:     cfg,
		Probe:   prober,
		Store:   objectStore,
		Fetcher: renderer.Fetcher,
	}
	memory := pipeline.NewMemoryMonitor(cfg, artifacts)

	coordinator := pipeline.NewCoordinator(cfg, store, orchestrator, composer, artifacts, memory)
	return coordinator.Run(ctx, cli.TaskID)
}

func checkTaskOwnership(ctx context.Context, store *clients.TaskStore, taskID, apiKey string) int {
	user, err := store.GetUserByAPIKey(ctx, apiKey)
	if err != nil {
		glog.Errorf("cannot resolve api key: %s", err)
		return pipeline.ExitFailed
	}
	task, err := store.GetTask(ctx, taskID)
	if err != nil {
		glog.Errorf("cannot load task: %s", err)
		return pipeline.ExitFailed
	}
	if task.UserKey != "" && task.UserKey != user.Key {
		glog.Errorf("task %s does not belong to the given api key", taskID)
		return pipeline.ExitFailed
	}
	return pipeline.ExitOK
}

// buildProviders wires every capability that has credentials configured.
// Scenes needing an unconfigured capability fail with a clear error instead
// of a nil dereference.
func buildProviders(cfg *config.Config) render.Providers {
	p := render.Providers{}

	switch {
	case cfg.TTSAPIKey != "":
		tts := &clients.TTSClient{
			APIKey:  cfg.TTSAPIKey,
			VoiceID: cfg.TTSVoiceID,
			ModelID: cfg.TTSModelID,
		}
		if cfg.LocalTTSCommand != "" {
			tts.Fallback = clients.NewLocalTTS(cfg.LocalTTSCommand)
		}
		p.TTS = tts
	case cfg.LocalTTSCommand != "":
		// no cloud credentials; synthesize locally from the start
		p.TTS = clients.NewLocalTTS(cfg.LocalTTSCommand)
	}

	images := map[clients.ProviderKind]clients.ImageGenerator{}
	if cfg.OpenAIAPIKey != "" {
		images[clients.ProviderOpenAI] = clients.NewOpenAIImageClient(cfg.OpenAIAPIKey, "")
	}
	if cfg.FreepikAPIKey != "" {
		images[clients.ProviderFreepik] = clients.NewFreepikImageClient(cfg.FreepikAPIKey)
	}
	if cfg.GeminiAPIKey != "" {
		images[clients.ProviderGemini] = clients.NewGeminiImageClient(cfg.GeminiAPIKey, "")
	}
	if len(images) > 0 {
		p.Images = &clients.ImageGenChain{Providers: images}
	}

	p.Video = map[schema.VideoProvider]clients.VideoGenerator{}
	if cfg.LumaAIAPIKey != "" {
		p.Video[schema.VideoProviderLumaAI] = clients.NewLumaAIClient(cfg.LumaAIAPIKey)
	}
	if cfg.KlingAccessKey != "" && cfg.KlingSecretKey != "" {
		p.Video[schema.VideoProviderKlingAI] = clients.NewKlingAIClient(cfg.KlingAccessKey, cfg.KlingSecretKey)
	}

	if cfg.PixabayAPIKey != "" || cfg.PexelsAPIKey != "" {
		p.Stock = clients.NewStockSearch(cfg.PixabayAPIKey, cfg.PexelsAPIKey)
	}

	if cfg.OpenAIAPIKey != "" {
		p.Editor = clients.NewOpenAIImageEditor(cfg.OpenAIAPIKey, "")
		p.Transcriber = clients.NewWhisperClient(cfg.OpenAIAPIKey, "")
		p.Vision = clients.NewOpenAIVisionClient(cfg.OpenAIAPIKey, "")
	}
	return p
}

// temp file prefixes written by the render and compose stages; anything this
// old belongs to a process that died without cleaning up
var tempFilePrefixes = []string{
	"narration_", "genimage_", "genvideo_", "imgscene_", "normalized_",
	"looped_", "voiced_", "trimmed_", "subs_", "subtitled_", "texted_",
	"branded_", "edited_", "scene_", "joined_", "concat_", "fadein_",
	"fadeout_", "pad_", "padded_", "truncated_", "cta_",
}

func sweepStaleTempFiles(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-staleTempFileAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !hasTempPrefix(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		log.LogNoTaskID("swept stale temp files", "dir", dir, "removed", removed)
	}
}

func hasTempPrefix(name string) bool {
	for _, prefix := range tempFilePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
