package pipeline

import (
	"context"
	"fmt"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reelforge/reel-worker/clients"
	"github.com/reelforge/reel-worker/config"
	"github.com/reelforge/reel-worker/render"
	"github.com/reelforge/reel-worker/schema"
)

type statusWrite struct {
	status schema.TaskStatus
	errMsg string
	result *schema.TaskResult
}

// stubStore emulates the store's terminal-state absorption.
type stubStore struct {
	mu       sync.Mutex
	task     *schema.Task
	writes   []statusWrite
	credits  []int
	terminal bool
}

func (s *stubStore) GetTask(ctx context.Context, taskID string) (*schema.Task, error) {
	return s.task, nil
}

func (s *stubStore) UpdateTaskStatus(ctx context.Context, taskID string, status schema.TaskStatus, result *schema.TaskResult, taskErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal {
		return fmt.Errorf("%w: %s", clients.ErrTerminalTask, taskID)
	}
	s.writes = append(s.writes, statusWrite{status: status, errMsg: taskErr, result: result})
	if status.IsTerminal() {
		s.terminal = true
	}
	return nil
}

func (s *stubStore) SetTaskLogURL(ctx context.Context, taskID, logURL string) error { return nil }

func (s *stubStore) UpdateCredits(ctx context.Context, userKey string, delta int, reason, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credits = append(s.credits, delta)
	return nil
}

type stubOrchestrator struct {
	err   error
	block chan struct{}
}

func (s *stubOrchestrator) RenderAll(ctx context.Context, taskID string, spec *schema.VideoSpec) ([]*render.SceneResult, error) {
	if s.block != nil {
		<-s.block
	}
	if s.err != nil {
		return nil, s.err
	}
	results := make([]*render.SceneResult, len(spec.Scenes))
	for i := range results {
		results[i] = &render.SceneResult{Index: i, Path: fmt.Sprintf("/tmp/clip_%d.mp4", i), Duration: 5}
	}
	return results, nil
}

type stubComposer struct {
	err error
}

func (s *stubComposer) Compose(ctx context.Context, taskID string, spec *schema.VideoSpec, scenes []*render.SceneResult) (*schema.TaskResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &schema.TaskResult{OutputURL: "https://cdn.example.com/videos/t1/out.mp4", Duration: 10}, nil
}

func validTask() *schema.Task {
	return &schema.Task{
		ID:      "t1",
		Status:  schema.TaskQueued,
		UserKey: "user-1",
		Spec: schema.VideoSpec{
			OutputFilename: "out.mp4",
			Scenes: []schema.Scene{
				{Type: schema.SceneImage, ImageURL: "http://example.com/a.png"},
				{Type: schema.SceneVideo, PromptVideo: "waves at dusk"},
			},
		},
	}
}

func testCoordinator(store *stubStore, orch SceneRendering, comp Composing) *Coordinator {
	cfg := config.FromEnv()
	cfg.EnableCacheClearing = false
	return &Coordinator{
		Cfg:      cfg,
		Store:    store,
		Renderer: orch,
		Composer: comp,
		exit:     func(int) {},
	}
}

func TestRunHappyPath(t *testing.T) {
	store := &stubStore{task: validTask()}
	c := testCoordinator(store, &stubOrchestrator{}, &stubComposer{})

	code := c.Run(context.Background(), "t1")
	require.Equal(t, ExitOK, code)

	require.Len(t, store.writes, 2)
	require.Equal(t, schema.TaskInProgress, store.writes[0].status)
	require.Equal(t, schema.TaskFinished, store.writes[1].status)
	require.NotNil(t, store.writes[1].result)

	// the second scene is generated video, so the payload costs 1+5
	require.Equal(t, []int{-6}, store.credits)
}

func TestRunTerminalTaskIsNoOp(t *testing.T) {
	task := validTask()
	task.Status = schema.TaskFinished
	store := &stubStore{task: task, terminal: true}
	c := testCoordinator(store, &stubOrchestrator{}, &stubComposer{})

	code := c.Run(context.Background(), "t1")
	require.Equal(t, ExitOK, code)
	require.Empty(t, store.writes)
	require.Empty(t, store.credits)
}

func TestRunRenderFailureRefunds(t *testing.T) {
	store := &stubStore{task: validTask()}
	c := testCoordinator(store, &stubOrchestrator{err: fmt.Errorf("scene 1 exploded")}, &stubComposer{})

	code := c.Run(context.Background(), "t1")
	require.Equal(t, ExitFailed, code)

	require.Len(t, store.writes, 2)
	require.Equal(t, schema.TaskFailed, store.writes[1].status)
	require.Contains(t, store.writes[1].errMsg, "scene 1 exploded")
	require.Equal(t, []int{6}, store.credits)
}

func TestRunComposeFailureRefunds(t *testing.T) {
	store := &stubStore{task: validTask()}
	c := testCoordinator(store, &stubOrchestrator{}, &stubComposer{err: fmt.Errorf("concat blew up")})

	code := c.Run(context.Background(), "t1")
	require.Equal(t, ExitFailed, code)
	require.Equal(t, schema.TaskFailed, store.writes[len(store.writes)-1].status)
	require.Equal(t, []int{6}, store.credits)
}

func TestRunInvalidSpecFailsTask(t *testing.T) {
	task := validTask()
	task.Spec.Scenes = []schema.Scene{{Type: schema.SceneImage}}
	store := &stubStore{task: task}
	c := testCoordinator(store, &stubOrchestrator{}, &stubComposer{})

	code := c.Run(context.Background(), "t1")
	require.Equal(t, ExitFailed, code)
	require.Len(t, store.writes, 1)
	require.Equal(t, schema.TaskFailed, store.writes[0].status)
	require.Contains(t, store.writes[0].errMsg, "invalid video spec")
}

func TestRunSignalFailsTaskAndExits(t *testing.T) {
	store := &stubStore{task: validTask()}
	block := make(chan struct{})
	orch := &stubOrchestrator{block: block, err: fmt.Errorf("interrupted")}

	exitCodes := make(chan int, 1)
	c := testCoordinator(store, orch, &stubComposer{})
	c.signals = make(chan os.Signal, 1)
	c.exit = func(code int) {
		exitCodes <- code
		close(block)
	}

	go c.Run(context.Background(), "t1")

	// wait for the claim write, then deliver the signal
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.writes) == 1
	}, time.Second, 5*time.Millisecond)
	c.signals <- syscall.SIGTERM

	select {
	case code := <-exitCodes:
		require.Equal(t, ExitExternal, code)
	case <-time.After(time.Second):
		t.Fatal("signal handler never exited")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.writes, 2)
	require.Equal(t, schema.TaskFailed, store.writes[1].status)
	require.Equal(t, "process terminated by signal: terminated", store.writes[1].errMsg)
	require.Equal(t, []int{6}, store.credits)
}
