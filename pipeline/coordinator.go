package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/reelforge/reel-worker/cache"
	"github.com/reelforge/reel-worker/clients"
	"github.com/reelforge/reel-worker/config"
	"github.com/reelforge/reel-worker/log"
	"github.com/reelforge/reel-worker/metrics"
	"github.com/reelforge/reel-worker/render"
	"github.com/reelforge/reel-worker/schema"
)

// Exit codes reported by Run. A signal-terminated task exits differently from
// an ordinary failure so the task runner can distinguish external causes.
const (
	ExitOK       = 0
	ExitFailed   = 1
	ExitExternal = 2
)

// TaskStoreAPI is the slice of the task store the coordinator drives.
type TaskStoreAPI interface {
	GetTask(ctx context.Context, taskID string) (*schema.Task, error)
	UpdateTaskStatus(ctx context.Context, taskID string, status schema.TaskStatus, result *schema.TaskResult, taskErr string) error
	SetTaskLogURL(ctx context.Context, taskID, logURL string) error
	UpdateCredits(ctx context.Context, userKey string, delta int, reason, taskID string) error
}

// SceneRendering fans scenes out; satisfied by render.Orchestrator.
type SceneRendering interface {
	RenderAll(ctx context.Context, taskID string, spec *schema.VideoSpec) ([]*render.SceneResult, error)
}

// Composing joins the scene clips; satisfied by Composer.
type Composing interface {
	Compose(ctx context.Context, taskID string, spec *schema.VideoSpec, scenes []*render.SceneResult) (*schema.TaskResult, error)
}

// Coordinator owns one task's lifecycle: claim, render, compose, settle
// credits, clean up. One coordinator runs one task then the process exits.
type Coordinator struct {
	Cfg      *config.Config
	Store    TaskStoreAPI
	Renderer SceneRendering
	Composer Composing
	Cache    *cache.ArtifactCache
	Memory   *MemoryMonitor

	// exit is swappable in tests; defaults to os.Exit.
	exit func(code int)
	// signals is swappable in tests; defaults to SIGINT/SIGTERM delivery.
	signals chan os.Signal
}

func NewCoordinator(cfg *config.Config, store TaskStoreAPI, renderer SceneRendering, composer Composing, artifacts *cache.ArtifactCache, mem *MemoryMonitor) *Coordinator {
	return &Coordinator{
		Cfg:      cfg,
		Store:    store,
		Renderer: renderer,
		Composer: composer,
		Cache:    artifacts,
		Memory:   mem,
		exit:     os.Exit,
	}
}

// Run executes the task end to end and returns the process exit code.
func (c *Coordinator) Run(ctx context.Context, taskID string) int {
	task, err := c.Store.GetTask(ctx, taskID)
	if err != nil {
		log.LogError(taskID, "cannot load task", err)
		return ExitFailed
	}

	// re-running a settled task is a no-op, not an error
	if task.Status.IsTerminal() {
		log.Log(taskID, "task already settled, nothing to do", "status", string(task.Status))
		return ExitOK
	}

	if err := c.validateSpec(&task.Spec); err != nil {
		c.failTask(ctx, task, fmt.Sprintf("invalid video spec: %s", err))
		return ExitFailed
	}
	task.Spec.EnsureSceneIDs()
	task.Spec.SplitGlobalNarration()

	if err := c.Store.UpdateTaskStatus(ctx, taskID, schema.TaskInProgress, nil, ""); err != nil {
		if errors.Is(err, clients.ErrTerminalTask) {
			log.Log(taskID, "task settled concurrently, nothing to do")
			return ExitOK
		}
		log.LogError(taskID, "cannot claim task", err)
		return ExitFailed
	}
	log.Log(taskID, "task started", "scenes", len(task.Spec.Scenes), "cost", task.Spec.Cost())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopSignals := c.watchSignals(runCtx, task)
	defer stopSignals()
	if c.Memory != nil {
		c.Memory.Start(runCtx, taskID)
	}

	results, err := c.Renderer.RenderAll(runCtx, taskID, &task.Spec)
	if err != nil {
		c.failTask(ctx, task, err.Error())
		c.clearCacheAfterTask(taskID)
		return ExitFailed
	}
	defer removeTempFiles(taskID, results)

	result, err := c.Composer.Compose(runCtx, taskID, &task.Spec, results)
	if err != nil {
		c.failTask(ctx, task, err.Error())
		c.clearCacheAfterTask(taskID)
		return ExitFailed
	}

	if err := c.Store.UpdateTaskStatus(ctx, taskID, schema.TaskFinished, result, ""); err != nil {
		log.LogError(taskID, "cannot record finished task", err)
		c.failTask(ctx, task, fmt.Sprintf("failed to record result: %s", err))
		c.clearCacheAfterTask(taskID)
		return ExitFailed
	}
	metrics.TaskResults.WithLabelValues(string(schema.TaskFinished)).Inc()

	// the debit is best effort and only ever after the upload succeeded
	cost := task.Spec.Cost()
	if err := c.Store.UpdateCredits(ctx, task.UserKey, -cost, "task finished", taskID); err != nil {
		log.LogError(taskID, "credit debit failed, result stands", err, "cost", cost)
	}

	log.Log(taskID, "task finished", "output_url", log.RedactURL(result.OutputURL), "duration", result.Duration)
	c.clearCacheAfterTask(taskID)
	return ExitOK
}

func (c *Coordinator) validateSpec(spec *schema.VideoSpec) error {
	raw, err := json.Marshal(spec)
	if err != nil {
		return err
	}
	if err := schema.ValidateVideoSpecJSON(raw); err != nil {
		return err
	}
	return spec.Validate()
}

// failTask writes the terminal failed state and refunds, both best effort.
// A concurrent terminal write wins; we never overwrite it.
func (c *Coordinator) failTask(ctx context.Context, task *schema.Task, reason string) {
	log.Log(task.ID, "task failed", "reason", reason)
	if err := c.Store.UpdateTaskStatus(ctx, task.ID, schema.TaskFailed, nil, reason); err != nil {
		if errors.Is(err, clients.ErrTerminalTask) {
			log.Log(task.ID, "task already settled, skipping failure write")
			return
		}
		log.LogError(task.ID, "cannot record failed task", err)
		return
	}
	metrics.TaskResults.WithLabelValues(string(schema.TaskFailed)).Inc()

	cost := task.Spec.Cost()
	if err := c.Store.UpdateCredits(ctx, task.UserKey, cost, "task failed", task.ID); err != nil {
		log.LogError(task.ID, "credit refund failed", err, "cost", cost)
	}
}

// watchSignals fails the task and exits when the process is told to stop.
// The returned stop function restores default signal handling.
func (c *Coordinator) watchSignals(ctx context.Context, task *schema.Task) func() {
	sigs := c.signals
	if sigs == nil {
		sigs = make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	}

	go func() {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-sigs:
			if !ok {
				return
			}
			reason := fmt.Sprintf("process terminated by signal: %s", sig)
			c.failTask(context.Background(), task, reason)
			if c.Cache != nil {
				c.Cache.Clear()
			}
			c.exit(ExitExternal)
		}
	}()
	return func() { signal.Stop(sigs) }
}

// clearCacheAfterTask sheds the artifact cache once the task has settled,
// synchronously or in the background per config.
func (c *Coordinator) clearCacheAfterTask(taskID string) {
	if !c.Cfg.EnableCacheClearing || c.Cache == nil {
		return
	}
	if c.Cfg.CacheClearingAsync {
		go func() {
			c.Cache.Clear()
			log.Log(taskID, "artifact cache cleared")
		}()
		return
	}
	c.Cache.Clear()
	log.Log(taskID, "artifact cache cleared")
}

func removeTempFiles(taskID string, results []*render.SceneResult) {
	for _, res := range results {
		if res == nil {
			continue
		}
		for _, f := range append(res.TempFiles, res.Path) {
			if f == "" {
				continue
			}
			if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
				log.Log(taskID, "cannot remove temp file", "path", f, "err", err)
			}
		}
	}
}
