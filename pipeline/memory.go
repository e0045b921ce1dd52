package pipeline

import (
	"context"
	"os"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/reelforge/reel-worker/cache"
	"github.com/reelforge/reel-worker/config"
	"github.com/reelforge/reel-worker/log"
	"github.com/reelforge/reel-worker/metrics"
)

type memoryLevel string

const (
	memoryOK        memoryLevel = "ok"
	memoryWarning   memoryLevel = "warning"
	memoryCritical  memoryLevel = "critical"
	memoryEmergency memoryLevel = "emergency"
)

// MemoryMonitor samples the worker's resident set size and sheds caches under
// pressure. It mitigates only; it never fails the running task.
type MemoryMonitor struct {
	Cfg   *config.Config
	Cache *cache.ArtifactCache

	// rssMB is swappable in tests. The default samples the current process.
	rssMB func() (uint64, error)

	mu          sync.Mutex
	lastCleanup time.Time
}

func NewMemoryMonitor(cfg *config.Config, artifacts *cache.ArtifactCache) *MemoryMonitor {
	return &MemoryMonitor{Cfg: cfg, Cache: artifacts, rssMB: processRSSMB}
}

func processRSSMB() (uint64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return info.RSS / (1 << 20), nil
}

// Start polls until the context is cancelled. Returns immediately when
// monitoring is disabled.
func (m *MemoryMonitor) Start(ctx context.Context, taskID string) {
	if !m.Cfg.EnableMemoryMonitoring {
		return
	}
	go func() {
		ticker := time.NewTicker(m.Cfg.MemoryMonitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.check(taskID)
			}
		}
	}()
}

func (m *MemoryMonitor) check(taskID string) {
	rss, err := m.rssMB()
	if err != nil {
		log.Log(taskID, "memory sample failed", "err", err)
		return
	}
	level := m.classify(rss)
	if level == memoryOK {
		return
	}

	m.mu.Lock()
	if time.Since(m.lastCleanup) < m.Cfg.MemoryCleanupCooldown {
		m.mu.Unlock()
		return
	}
	m.lastCleanup = time.Now()
	m.mu.Unlock()

	log.Log(taskID, "memory pressure cleanup", "level", string(level), "rss_mb", rss)
	m.cleanup(level)
	metrics.MemoryCleanups.WithLabelValues(string(level)).Inc()
}

func (m *MemoryMonitor) classify(rssMB uint64) memoryLevel {
	switch {
	case rssMB >= m.Cfg.MemoryEmergencyThresholdMB:
		return memoryEmergency
	case rssMB >= m.Cfg.MemoryCriticalThresholdMB:
		return memoryCritical
	case rssMB >= m.Cfg.MemoryWarningThresholdMB:
		return memoryWarning
	default:
		return memoryOK
	}
}

// cleanup sheds the artifact cache and collects at every threshold; critical
// and above also force freed pages back to the OS.
func (m *MemoryMonitor) cleanup(level memoryLevel) {
	m.Cache.Clear()
	runtime.GC()
	if level == memoryCritical || level == memoryEmergency {
		debug.FreeOSMemory()
	}
}
