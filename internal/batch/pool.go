package batch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ryabkov82/comfy-batch/internal/job"
)

// processFunc drives one unit to a terminal outcome
type processFunc func(ctx context.Context, u job.Unit)

// pool runs a fixed number of workers over a store's unit queue
type pool struct {
	store   *job.Store
	process processFunc
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func newPool(store *job.Store, process processFunc, logger *slog.Logger) *pool {
	return &pool{store: store, process: process, logger: logger}
}

// Run starts workers and blocks until the queue is drained or ctx is done
func (p *pool) Run(ctx context.Context, workers int) {
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i+1)
	}
	p.wg.Wait()
}

func (p *pool) worker(ctx context.Context, n int) {
	defer p.wg.Done()

	for {
		// Stop taking units once the run is canceled
		select {
		case <-ctx.Done():
			return
		default:
		}

		u, err := p.store.NextUnit(ctx)
		if err != nil {
			if !errors.Is(err, job.ErrQueueClosed) && !errors.Is(err, context.Canceled) {
				p.logger.Debug("worker stopped", "worker", n, "error", err)
			}
			return
		}
		if u.Status.Terminal() {
			// Canceled while queued
			continue
		}
		p.process(ctx, u)
	}
}
