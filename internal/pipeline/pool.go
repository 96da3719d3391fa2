package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Pool runs N workers that each loop claim/run against the orchestrator,
// plus one janitor goroutine that sweeps expired leases. Workers are
// independent: the claim's compare-and-swap is the only synchronization
// between them, and different CVs are processed fully in parallel.
type Pool struct {
	orch *Orchestrator
	wg   sync.WaitGroup
}

// NewPool creates a worker pool over the orchestrator.
func NewPool(orch *Orchestrator) *Pool {
	return &Pool{orch: orch}
}

// Start launches the workers and the janitor. They run until ctx is
// cancelled; Wait blocks until all have settled their in-flight work.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.orch.cfg.Workers; i++ {
		p.wg.Add(1)
		go func(worker int) {
			defer p.wg.Done()
			p.workerLoop(ctx, worker)
		}(i)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.janitorLoop(ctx)
	}()

	logJSON(map[string]any{
		"component": "pipeline",
		"event":     "pool_started",
		"workers":   p.orch.cfg.Workers,
	})
}

// Wait blocks until every worker has exited. Call after cancelling the
// context passed to Start.
func (p *Pool) Wait() {
	p.wg.Wait()
	logJSON(map[string]any{
		"component": "pipeline",
		"event":     "pool_stopped",
	})
}

func (p *Pool) workerLoop(ctx context.Context, worker int) {
	ticker := time.NewTicker(p.orch.cfg.ClaimInterval)
	defer ticker.Stop()

	for {
		p.drain(ctx, worker)

		select {
		case <-ctx.Done():
			return
		case <-p.orch.wake:
		case <-ticker.C:
		}
	}
}

// drain claims and runs CVs until none are pending. Run errors are already
// settled (status + log written) by the orchestrator; the loop only records
// them and moves on.
func (p *Pool) drain(ctx context.Context, worker int) {
	for {
		cv, err := p.orch.ClaimNext(ctx)
		if err != nil {
			if !errors.Is(err, ErrNonePending) && !errors.Is(err, context.Canceled) {
				logJSON(map[string]any{
					"component": "pipeline",
					"event":     "claim_error",
					"worker":    worker,
					"level":     "error",
					"error":     err.Error(),
				})
			}
			return
		}

		if err := p.orch.Run(ctx, cv); err != nil && errors.Is(err, context.Canceled) {
			return
		}
	}
}

func (p *Pool) janitorLoop(ctx context.Context) {
	ticker := time.NewTicker(p.orch.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.orch.ReleaseExpired(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logJSON(map[string]any{
					"component": "pipeline",
					"event":     "janitor_error",
					"level":     "error",
					"error":     err.Error(),
				})
			}
		}
	}
}
