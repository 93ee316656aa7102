package engine

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// GetBatch resolves many requests in parallel, at most BatchConcurrency at a time.
// Results keep the order of reqs. A failing item never stops the others;
// progress, when non-nil, is called once per finished item.
func (o *Orchestrator) GetBatch(ctx context.Context, reqs []Request, progress ProgressFunc) []BatchResult {
	results := make([]BatchResult, len(reqs))

	var g errgroup.Group
	if o.cfg.BatchConcurrency > 0 {
		g.SetLimit(o.cfg.BatchConcurrency)
	}

	var mu sync.Mutex
	done := 0
	for i, req := range reqs {
		g.Go(func() error {
			out, err := o.Get(ctx, req.Video, req.Language)
			r := BatchResult{Request: req, Outcome: out, Err: err}
			results[i] = r
			if progress != nil {
				mu.Lock()
				done++
				progress(done, len(reqs), r)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait() // items report their own errors
	return results
}
