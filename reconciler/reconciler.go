// Package reconciler sweeps the task store for work the per-task processes
// lost: tasks stuck past the processing timeout and recent failures that
// operators should hear about.
package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/reelforge/reel-worker/clients"
	"github.com/reelforge/reel-worker/config"
	"github.com/reelforge/reel-worker/log"
	"github.com/reelforge/reel-worker/metrics"
	"github.com/reelforge/reel-worker/schema"
)

const stuckTaskError = "Timeout error: task exceeded maximum processing time"

// cycleRetryDelay is how long a failed cycle waits before the next attempt.
const cycleRetryDelay = 60 * time.Second

// StoreAPI is the slice of the task store the reconciler needs.
type StoreAPI interface {
	ListStuckTasks(ctx context.Context, olderThan time.Duration) ([]*schema.Task, error)
	ListRecentlyFailed(ctx context.Context, window time.Duration) ([]*schema.Task, error)
	UpdateTaskStatus(ctx context.Context, taskID string, status schema.TaskStatus, result *schema.TaskResult, taskErr string) error
	UpdateCredits(ctx context.Context, userKey string, delta int, reason, taskID string) error
}

// TaskNotifier sends the grouped operator notifications.
type TaskNotifier interface {
	NotifyStuckTasks(ctx context.Context, tasks []*schema.Task) error
	NotifyFailedTasks(ctx context.Context, tasks []*schema.Task) error
}

type Reconciler struct {
	Cfg      *config.Config
	Store    StoreAPI
	Notifier TaskNotifier
}

func New(cfg *config.Config, store StoreAPI, notifier TaskNotifier) *Reconciler {
	return &Reconciler{Cfg: cfg, Store: store, Notifier: notifier}
}

// Run cycles until the context is cancelled. A failed cycle backs off for a
// minute instead of waiting out the whole interval.
func (r *Reconciler) Run(ctx context.Context) {
	log.LogNoTaskID("reconciler started",
		"interval", r.Cfg.ReconcileInterval, "stuck_timeout", r.Cfg.StuckTaskTimeout)
	for {
		delay := r.Cfg.ReconcileInterval
		if err := r.Cycle(ctx); err != nil {
			log.LogNoTaskID("reconcile cycle failed", "err", err)
			delay = cycleRetryDelay
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// Cycle runs one reconciliation pass: fail stuck tasks with refunds, then
// send the grouped notifications.
func (r *Reconciler) Cycle(ctx context.Context) error {
	stuck, err := r.Store.ListStuckTasks(ctx, r.Cfg.StuckTaskTimeout)
	if err != nil {
		return err
	}

	var timedOut []*schema.Task
	for _, task := range stuck {
		if err := r.failStuckTask(ctx, task); err != nil {
			log.LogError(task.ID, "cannot fail stuck task", err)
			continue
		}
		timedOut = append(timedOut, task)
	}

	if err := r.Notifier.NotifyStuckTasks(ctx, timedOut); err != nil {
		log.LogNoTaskID("stuck task notification failed", "err", err)
	}

	failed, err := r.Store.ListRecentlyFailed(ctx, r.Cfg.ReconcileInterval*2)
	if err != nil {
		return err
	}
	if err := r.Notifier.NotifyFailedTasks(ctx, failed); err != nil {
		log.LogNoTaskID("failed task notification failed", "err", err)
	}
	return nil
}

// failStuckTask times a task out and refunds its cost. A task that settled
// between the listing and the write is skipped.
func (r *Reconciler) failStuckTask(ctx context.Context, task *schema.Task) error {
	log.Log(task.ID, "failing stuck task", "created_at", task.CreatedAt)
	err := r.Store.UpdateTaskStatus(ctx, task.ID, schema.TaskFailed, nil, stuckTaskError)
	if err != nil {
		if errors.Is(err, clients.ErrTerminalTask) {
			log.Log(task.ID, "task settled before the timeout write, skipping")
			return nil
		}
		return err
	}
	metrics.ReconciledTasks.Inc()

	cost := task.Spec.Cost()
	if cost > 0 {
		if err := r.Store.UpdateCredits(ctx, task.UserKey, cost, "task timed out", task.ID); err != nil {
			log.LogError(task.ID, "refund for stuck task failed", err, "cost", cost)
		}
	}
	return nil
}
