package scheduler

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Pool fans jobs out to a bounded number of goroutines.
type Pool struct {
	workers int

	// stats (atomic) for observability
	started uint64
	skipped uint64
}

type Options struct {
	Workers int
}

// NewPool creates a pool running at most opts.Workers jobs at once.
// Workers <= 0 runs jobs one at a time.
func NewPool(opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Pool{workers: opts.Workers}
}

// Run calls fn for every job, at most Workers concurrently, and returns once
// all started jobs are done. After ctx ends no new job starts: the remaining
// jobs go to skip. Jobs already running are not interrupted; fn is expected
// to bound its own work.
func (p *Pool) Run(ctx context.Context, jobs []Job, fn func(Job), skip func(Job)) {
	var g errgroup.Group
	g.SetLimit(p.workers)

	for _, j := range jobs {
		if ctx.Err() != nil {
			p.skip(j, skip)
			continue
		}
		g.Go(func() error {
			// The slot may have opened after cancellation.
			if ctx.Err() != nil {
				p.skip(j, skip)
				return nil
			}
			atomic.AddUint64(&p.started, 1)
			fn(j)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Pool) skip(j Job, skip func(Job)) {
	atomic.AddUint64(&p.skipped, 1)
	if skip != nil {
		skip(j)
	}
}

func (p *Pool) Stats() (started uint64, skipped uint64) {
	return atomic.LoadUint64(&p.started), atomic.LoadUint64(&p.skipped)
}
