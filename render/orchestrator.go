package render

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/reelforge/reel-worker/config"
	"github.com/reelforge/reel-worker/log"
	"github.com/reelforge/reel-worker/schema"
)

// Renderer renders a single scene. Satisfied by SceneRenderer.
type Renderer interface {
	RenderScene(ctx context.Context, taskID string, spec *schema.VideoSpec, scene *schema.Scene, index int) (*SceneResult, error)
}

// Orchestrator fans scene rendering out over a bounded worker pool and joins
// the results back in input order.
type Orchestrator struct {
	Renderer Renderer
	// Workers caps concurrent scene renders. E-commerce payloads are forced
	// down to one worker regardless.
	Workers int
	// KlingLimit caps in-flight KlingAI generations within one task.
	KlingLimit int
}

func NewOrchestrator(r Renderer, workers int) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{
		Renderer:   r,
		Workers:    workers,
		KlingLimit: config.KlingConcurrencyLimit,
	}
}

// RenderAll renders every scene of the payload and returns the clips ordered
// by scene index. The first fatal scene error cancels the remaining work.
func (o *Orchestrator) RenderAll(ctx context.Context, taskID string, spec *schema.VideoSpec) ([]*SceneResult, error) {
	if len(spec.Scenes) == 0 {
		return nil, fmt.Errorf("no scenes to render")
	}

	workers := o.Workers
	if spec.IsEcommerce() && workers > 1 {
		// product reference images make generations order-sensitive, so
		// e-commerce tasks render strictly one scene at a time
		log.Log(taskID, "e-commerce payload, rendering scenes sequentially")
		workers = 1
	}

	klingSem := semaphore.NewWeighted(int64(o.KlingLimit))
	results := make([]*SceneResult, len(spec.Scenes))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for i := range spec.Scenes {
		index := i
		scene := &spec.Scenes[i]
		group.Go(func() error {
			if scene.UsesKlingVideo() {
				if err := klingSem.Acquire(gctx, 1); err != nil {
					return err
				}
				defer klingSem.Release(1)
			}
			res, err := o.Renderer.RenderScene(gctx, taskID, spec, scene, index)
			if err != nil {
				return err
			}
			results[index] = res
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
