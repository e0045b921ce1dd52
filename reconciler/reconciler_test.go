package reconciler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reelforge/reel-worker/clients"
	"github.com/reelforge/reel-worker/config"
	"github.com/reelforge/reel-worker/schema"
)

type recordedFailure struct {
	taskID string
	errMsg string
}

type stubStore struct {
	stuck      []*schema.Task
	failed     []*schema.Task
	listErr    error
	settledIDs map[string]bool

	failures []recordedFailure
	refunds  map[string]int
}

func (s *stubStore) ListStuckTasks(ctx context.Context, olderThan time.Duration) ([]*schema.Task, error) {
	return s.stuck, s.listErr
}

func (s *stubStore) ListRecentlyFailed(ctx context.Context, window time.Duration) ([]*schema.Task, error) {
	return s.failed, nil
}

func (s *stubStore) UpdateTaskStatus(ctx context.Context, taskID string, status schema.TaskStatus, result *schema.TaskResult, taskErr string) error {
	if s.settledIDs[taskID] {
		return fmt.Errorf("%w: %s", clients.ErrTerminalTask, taskID)
	}
	s.failures = append(s.failures, recordedFailure{taskID: taskID, errMsg: taskErr})
	return nil
}

func (s *stubStore) UpdateCredits(ctx context.Context, userKey string, delta int, reason, taskID string) error {
	if s.refunds == nil {
		s.refunds = map[string]int{}
	}
	s.refunds[taskID] += delta
	return nil
}

type stubNotifier struct {
	stuckBatches  [][]*schema.Task
	failedBatches [][]*schema.Task
}

func (n *stubNotifier) NotifyStuckTasks(ctx context.Context, tasks []*schema.Task) error {
	if len(tasks) > 0 {
		n.stuckBatches = append(n.stuckBatches, tasks)
	}
	return nil
}

func (n *stubNotifier) NotifyFailedTasks(ctx context.Context, tasks []*schema.Task) error {
	if len(tasks) > 0 {
		n.failedBatches = append(n.failedBatches, tasks)
	}
	return nil
}

func stuckTask(id string, promptVideo bool) *schema.Task {
	scene := schema.Scene{Type: schema.SceneImage, ImageURL: "http://example.com/a.png"}
	if promptVideo {
		scene = schema.Scene{Type: schema.SceneVideo, PromptVideo: "storm over the sea"}
	}
	return &schema.Task{
		ID:        id,
		Status:    schema.TaskInProgress,
		UserKey:   "user-1",
		CreatedAt: time.Now().Add(-45 * time.Minute),
		Spec:      schema.VideoSpec{OutputFilename: "out.mp4", Scenes: []schema.Scene{scene}},
	}
}

func TestCycleFailsStuckTasksWithRefund(t *testing.T) {
	store := &stubStore{stuck: []*schema.Task{stuckTask("t1", true), stuckTask("t2", false)}}
	notifier := &stubNotifier{}
	r := New(config.FromEnv(), store, notifier)

	require.NoError(t, r.Cycle(context.Background()))

	require.Len(t, store.failures, 2)
	require.Equal(t, "Timeout error: task exceeded maximum processing time", store.failures[0].errMsg)
	require.Equal(t, 5, store.refunds["t1"])
	require.Equal(t, 1, store.refunds["t2"])

	require.Len(t, notifier.stuckBatches, 1)
	require.Len(t, notifier.stuckBatches[0], 2)
}

func TestCycleSkipsConcurrentlySettledTask(t *testing.T) {
	store := &stubStore{
		stuck:      []*schema.Task{stuckTask("t1", false), stuckTask("t2", false)},
		settledIDs: map[string]bool{"t1": true},
	}
	notifier := &stubNotifier{}
	r := New(config.FromEnv(), store, notifier)

	require.NoError(t, r.Cycle(context.Background()))

	require.Len(t, store.failures, 1)
	require.Equal(t, "t2", store.failures[0].taskID)
	require.Zero(t, store.refunds["t1"])

	// the settled task still counts as handled, not as an error
	require.Len(t, notifier.stuckBatches, 1)
	require.Len(t, notifier.stuckBatches[0], 2)
}

func TestCycleNotifiesRecentFailures(t *testing.T) {
	failed := &schema.Task{ID: "t9", Status: schema.TaskFailed, Error: "provider exploded", LogURL: "https://logs/t9"}
	store := &stubStore{failed: []*schema.Task{failed}}
	notifier := &stubNotifier{}
	r := New(config.FromEnv(), store, notifier)

	require.NoError(t, r.Cycle(context.Background()))
	require.Len(t, notifier.failedBatches, 1)
	require.Equal(t, "t9", notifier.failedBatches[0][0].ID)
}

func TestCyclePropagatesListError(t *testing.T) {
	store := &stubStore{listErr: fmt.Errorf("db down")}
	r := New(config.FromEnv(), store, &stubNotifier{})
	require.Error(t, r.Cycle(context.Background()))
}
