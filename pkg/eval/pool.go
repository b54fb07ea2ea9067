package eval

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/quarrybuild/quarry/pkg/telemetry"
)

// Pool evaluates many build files concurrently. Each worker owns a
// private Evaluator, preserving the single-threaded Evaluator contract
// while keeping module caches warm within a worker. The shared pieces of
// Options (Globber, Logger, Metrics) must be safe for concurrent use;
// the bundled glob services and telemetry types are.
type Pool struct {
	opts    Options
	workers int
	log     *telemetry.Logger
}

// NewPool creates a pool with the given worker count. A non-positive
// count selects a small default.
func NewPool(opts Options, workers int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.Nop()
	}
	return &Pool{
		opts:    opts,
		workers: workers,
		log:     logger.NewComponentLogger("eval-pool"),
	}
}

// ProcessAll evaluates every request and returns the results in request
// order. Per-file evaluation failures land in each result's diagnostics
// as usual; the error return covers unusable requests and cancellation.
// On cancellation the results gathered so far are returned alongside the
// context's error.
func (p *Pool) ProcessAll(ctx context.Context, reqs []Request) ([]*Result, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	workers := p.workers
	if workers > len(reqs) {
		workers = len(reqs)
	}

	log := p.log.WithRunID(uuid.NewString())
	log.Infof("evaluating %d build files with %d workers", len(reqs), workers)

	jobs := make(chan int)
	results := make([]*Result, len(reqs))

	var mu sync.Mutex
	var firstErr error
	setErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev, err := New(p.opts)
			if err != nil {
				setErr(err)
				return
			}
			for i := range jobs {
				res, err := ev.Process(reqs[i])
				if err != nil {
					setErr(err)
					continue
				}
				results[i] = res
			}
		}()
	}

dispatch:
	for i := range reqs {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, firstErr
}
