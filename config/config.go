package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"sigs.k8s.io/yaml"
)

var Version string

// Used so that we can generate fixed timestamps in tests
var Clock TimestampGenerator = RealTimestampGenerator{}

const (
	DefaultReelWidth  = 1080
	DefaultReelHeight = 1920
	DefaultFPS        = 30
	// Scenes are encoded at a lower rate than the final output.
	SceneFPS = 24

	// Final video duration bounds, seconds.
	MinFinalDuration = 3.0
	MaxFinalDuration = 90.0

	// Videos smaller than reel/maxZoom take the blurred-background path.
	DefaultMaxZoomFactor = 2.5

	// At most this many KlingAI generations may be in flight per task.
	KlingConcurrencyLimit = 3
)

// Config carries every tunable of the worker. Fields map 1:1 to environment
// variables; an optional YAML file given via --config overrides the
// environment.
type Config struct {
	TempDir   string `json:"temp_dir"`
	OutputDir string `json:"output_dir"`
	CacheDir  string `json:"cache_dir"`

	ReelWidth  int `json:"reel_width"`
	ReelHeight int `json:"reel_height"`
	FPS        int `json:"fps"`
	// Padding color for image scenes that don't fill the reel.
	ReelBackgroundColor string `json:"reel_background_color"`

	FFmpegPreset  string `json:"ffmpeg_preset"`
	FFmpegBitrate string `json:"ffmpeg_bitrate"`
	FFmpegCRF     int    `json:"ffmpeg_crf"`
	FFmpegThreads int    `json:"ffmpeg_threads"`
	// Preset used for the final composition encode only.
	FinalVideoPreset string `json:"final_video_preset"`

	SceneParallelLimit int     `json:"scene_parallel_limit"`
	MaxZoomFactor      float64 `json:"max_zoom_factor"`

	EnableMemoryMonitoring     bool          `json:"enable_memory_monitoring"`
	MemoryWarningThresholdMB   uint64        `json:"memory_warning_threshold_mb"`
	MemoryCriticalThresholdMB  uint64        `json:"memory_critical_threshold_mb"`
	MemoryEmergencyThresholdMB uint64        `json:"memory_emergency_threshold_mb"`
	MemoryCleanupCooldown      time.Duration `json:"memory_cleanup_cooldown"`
	MemoryMonitorInterval      time.Duration `json:"memory_monitor_interval"`

	EnableCacheClearing bool `json:"enable_cache_clearing"`
	CacheClearingAsync  bool `json:"cache_clearing_async"`

	DefaultImageProvider string `json:"default_image_provider"`
	DefaultVideoProvider string `json:"default_video_provider"`

	// Provider credentials.
	TTSAPIKey       string `json:"tts_api_key"`
	TTSVoiceID      string `json:"tts_voice_id"`
	TTSModelID      string `json:"tts_model_id"`
	LocalTTSCommand string `json:"local_tts_command"`
	OpenAIAPIKey    string `json:"openai_api_key"`
	FreepikAPIKey   string `json:"freepik_api_key"`
	GeminiAPIKey    string `json:"gemini_api_key"`
	LumaAIAPIKey    string `json:"lumaai_api_key"`
	KlingAccessKey  string `json:"kling_access_key"`
	KlingSecretKey  string `json:"kling_secret_key"`
	PixabayAPIKey   string `json:"pixabay_api_key"`
	PexelsAPIKey    string `json:"pexels_api_key"`

	// Object storage, e.g. s3://key:secret@endpoint/bucket?region=us-east-1
	ObjectStoreURL string `json:"object_store_url"`

	// Postgres connection string for the task store.
	DatabaseURL string `json:"database_url"`

	// Webhook that receives grouped failure notifications.
	NotifyWebhookURL string `json:"notify_webhook_url"`
	// Base URL used to build per-task log links in notifications.
	LogURLBase string `json:"log_url_base"`

	// Reconciler tuning.
	StuckTaskTimeout  time.Duration `json:"stuck_task_timeout"`
	ReconcileInterval time.Duration `json:"reconcile_interval"`
}

// FromEnv builds a Config from the recognized environment variables,
// falling back to defaults for anything unset.
func FromEnv() *Config {
	tempDir := envStr("TEMP_DIR", os.TempDir())
	return &Config{
		TempDir:   tempDir,
		OutputDir: envStr("OUTPUT_DIR", filepath.Join(tempDir, "reel-output")),
		CacheDir:  envStr("CACHE_DIR", filepath.Join(tempDir, "reel-cache")),

		ReelWidth:           envInt("REEL_SIZE_W", DefaultReelWidth),
		ReelHeight:          envInt("REEL_SIZE_H", DefaultReelHeight),
		FPS:                 envInt("FPS", DefaultFPS),
		ReelBackgroundColor: envStr("REEL_BG_COLOR", "black"),

		FFmpegPreset:     envStr("FFMPEG_PRESET", "veryfast"),
		FFmpegBitrate:    envStr("FFMPEG_BITRATE", ""),
		FFmpegCRF:        envInt("FFMPEG_CRF", 23),
		FFmpegThreads:    envInt("FFMPEG_THREADS", 0),
		FinalVideoPreset: envStr("FINAL_VIDEO_PRESET", "medium"),

		SceneParallelLimit: envInt("SCENE_PARALLEL_LIMIT", DefaultSceneParallelLimit()),
		MaxZoomFactor:      envFloat("MAX_ZOOM_FACTOR", DefaultMaxZoomFactor),

		EnableMemoryMonitoring:     envBool("ENABLE_MEMORY_MONITORING", false),
		MemoryWarningThresholdMB:   uint64(envInt("MEMORY_WARNING_THRESHOLD_MB", 2048)),
		MemoryCriticalThresholdMB:  uint64(envInt("MEMORY_CRITICAL_THRESHOLD_MB", 3072)),
		MemoryEmergencyThresholdMB: uint64(envInt("MEMORY_EMERGENCY_THRESHOLD_MB", 4096)),
		MemoryCleanupCooldown:      envDuration("MEMORY_CLEANUP_COOLDOWN", 30*time.Second),
		MemoryMonitorInterval:      envDuration("MEMORY_MONITOR_INTERVAL", 10*time.Second),

		EnableCacheClearing: envBool("ENABLE_CACHE_CLEARING", true),
		CacheClearingAsync:  envBool("CACHE_CLEARING_ASYNC", true),

		DefaultImageProvider: envStr("DEFAULT_IMAGE_PROVIDER", "openai"),
		DefaultVideoProvider: envStr("DEFAULT_VIDEO_PROVIDER", "lumaai"),

		TTSAPIKey:       os.Getenv("TTS_API_KEY"),
		TTSVoiceID:      envStr("TTS_VOICE_ID", "narrator"),
		TTSModelID:      envStr("TTS_MODEL_ID", "eleven_multilingual_v2"),
		LocalTTSCommand: os.Getenv("LOCAL_TTS_COMMAND"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		FreepikAPIKey:   os.Getenv("FREEPIK_API_KEY"),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		LumaAIAPIKey:    os.Getenv("LUMAAI_API_KEY"),
		KlingAccessKey:  os.Getenv("KLING_ACCESS_KEY"),
		KlingSecretKey:  os.Getenv("KLING_SECRET_KEY"),
		PixabayAPIKey:   os.Getenv("PIXABAY_API_KEY"),
		PexelsAPIKey:    os.Getenv("PEXELS_API_KEY"),

		ObjectStoreURL: os.Getenv("OBJECT_STORE_URL"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),

		NotifyWebhookURL: os.Getenv("NOTIFY_WEBHOOK_URL"),
		LogURLBase:       os.Getenv("LOG_URL_BASE"),

		StuckTaskTimeout:  envDuration("STUCK_TASK_TIMEOUT", 30*time.Minute),
		ReconcileInterval: envDuration("RECONCILE_INTERVAL", 15*time.Minute),
	}
}

// ApplyFile overlays values from a YAML config file. Only keys present in the
// file are overridden.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func DefaultSceneParallelLimit() int {
	n := runtime.NumCPU()
	if n > 4 {
		return 4
	}
	if n < 1 {
		return 1
	}
	return n
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// plain numbers are seconds
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return def
}
