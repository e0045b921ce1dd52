package render

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reelforge/reel-worker/schema"
)

// fakeRenderer tracks concurrency and lets tests fail selected scenes.
type fakeRenderer struct {
	mu          sync.Mutex
	order       []int
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	klingFlight atomic.Int32
	klingMax    atomic.Int32
	failIndex   int
	delay       time.Duration
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{failIndex: -1, delay: 5 * time.Millisecond}
}

func (f *fakeRenderer) RenderScene(ctx context.Context, taskID string, spec *schema.VideoSpec, scene *schema.Scene, index int) (*SceneResult, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxInFlight.Load()
		if cur <= max || f.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}
	if scene.UsesKlingVideo() {
		kcur := f.klingFlight.Add(1)
		defer f.klingFlight.Add(-1)
		for {
			max := f.klingMax.Load()
			if kcur <= max || f.klingMax.CompareAndSwap(max, kcur) {
				break
			}
		}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(f.delay):
	}

	if index == f.failIndex {
		return nil, fmt.Errorf("scene %d failed", index)
	}

	f.mu.Lock()
	f.order = append(f.order, index)
	f.mu.Unlock()
	return &SceneResult{Index: index, SceneID: scene.SceneID, Path: fmt.Sprintf("/tmp/%d.mp4", index)}, nil
}

func imageScenes(n int) []schema.Scene {
	scenes := make([]schema.Scene, n)
	for i := range scenes {
		scenes[i] = schema.Scene{
			SceneID:  fmt.Sprintf("s%d", i),
			Type:     schema.SceneImage,
			ImageURL: "http://example.com/i.png",
		}
	}
	return scenes
}

func TestRenderAllPreservesOrder(t *testing.T) {
	fake := newFakeRenderer()
	o := NewOrchestrator(fake, 4)
	spec := &schema.VideoSpec{Scenes: imageScenes(8)}

	results, err := o.RenderAll(context.Background(), "t1", spec)
	require.NoError(t, err)
	require.Len(t, results, 8)
	for i, res := range results {
		require.NotNil(t, res)
		require.Equal(t, i, res.Index)
		require.Equal(t, fmt.Sprintf("s%d", i), res.SceneID)
	}
	require.LessOrEqual(t, fake.maxInFlight.Load(), int32(4))
	require.Greater(t, fake.maxInFlight.Load(), int32(1), "scenes should overlap")
}

func TestRenderAllKlingConcurrencyCap(t *testing.T) {
	fake := newFakeRenderer()
	o := NewOrchestrator(fake, 8)
	scenes := make([]schema.Scene, 10)
	for i := range scenes {
		scenes[i] = schema.Scene{
			SceneID:       fmt.Sprintf("k%d", i),
			Type:          schema.SceneVideo,
			PromptVideo:   "a cat surfing",
			VideoProvider: schema.VideoProviderKlingAI,
		}
	}
	spec := &schema.VideoSpec{Scenes: scenes}

	_, err := o.RenderAll(context.Background(), "t1", spec)
	require.NoError(t, err)
	require.LessOrEqual(t, fake.klingMax.Load(), int32(3))
}

func TestRenderAllEcommerceSequential(t *testing.T) {
	fake := newFakeRenderer()
	o := NewOrchestrator(fake, 4)
	spec := &schema.VideoSpec{
		Scenes:        imageScenes(5),
		ProductImages: []string{"http://example.com/product.png"},
	}

	results, err := o.RenderAll(context.Background(), "t1", spec)
	require.NoError(t, err)
	require.Len(t, results, 5)
	require.Equal(t, int32(1), fake.maxInFlight.Load())
	// sequential also means input order equals completion order
	require.Equal(t, []int{0, 1, 2, 3, 4}, fake.order)
}

func TestRenderAllFatalSceneError(t *testing.T) {
	fake := newFakeRenderer()
	fake.failIndex = 2
	o := NewOrchestrator(fake, 2)
	spec := &schema.VideoSpec{Scenes: imageScenes(6)}

	_, err := o.RenderAll(context.Background(), "t1", spec)
	require.Error(t, err)
	require.Contains(t, err.Error(), "scene 2 failed")
}

func TestRenderAllEmptySpec(t *testing.T) {
	o := NewOrchestrator(newFakeRenderer(), 2)
	_, err := o.RenderAll(context.Background(), "t1", &schema.VideoSpec{})
	require.Error(t, err)
}
