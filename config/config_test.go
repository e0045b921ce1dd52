package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()
	require.Equal(t, DefaultReelWidth, cfg.ReelWidth)
	require.Equal(t, DefaultReelHeight, cfg.ReelHeight)
	require.Equal(t, DefaultFPS, cfg.FPS)
	require.Equal(t, DefaultMaxZoomFactor, cfg.MaxZoomFactor)
	require.True(t, cfg.SceneParallelLimit >= 1 && cfg.SceneParallelLimit <= 4)
	require.Equal(t, 30*time.Minute, cfg.StuckTaskTimeout)
	require.True(t, cfg.EnableCacheClearing)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("REEL_SIZE_W", "720")
	t.Setenv("REEL_SIZE_H", "1280")
	t.Setenv("SCENE_PARALLEL_LIMIT", "2")
	t.Setenv("ENABLE_MEMORY_MONITORING", "true")
	t.Setenv("MEMORY_CLEANUP_COOLDOWN", "45")

	cfg := FromEnv()
	require.Equal(t, 720, cfg.ReelWidth)
	require.Equal(t, 1280, cfg.ReelHeight)
	require.Equal(t, 2, cfg.SceneParallelLimit)
	require.True(t, cfg.EnableMemoryMonitoring)
	require.Equal(t, 45*time.Second, cfg.MemoryCleanupCooldown)
}

func TestApplyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ffmpeg_preset: slow\nreel_width: 540\n"), 0644))

	cfg := FromEnv()
	require.NoError(t, cfg.ApplyFile(path))
	require.Equal(t, "slow", cfg.FFmpegPreset)
	require.Equal(t, 540, cfg.ReelWidth)
	// untouched keys keep their env defaults
	require.Equal(t, DefaultReelHeight, cfg.ReelHeight)
}

func TestFixedClock(t *testing.T) {
	clock := FixedTimestampGenerator{Timestamp: 1700000000}
	require.Equal(t, int64(1700000000), clock.GetTimestampUTC())
	require.Equal(t, time.Unix(1700000000, 0).UTC(), clock.Now())
}
