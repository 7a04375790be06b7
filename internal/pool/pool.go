package pool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pool executes one batch of independent tasks with bounded concurrency.
// Task failures are expected to be recorded in the task's own result; a
// task returning an error cancels the pool context and remaining tasks,
// which is reserved for external cancellation, not per-unit failures.
type Pool struct {
	group *errgroup.Group
	ctx   context.Context
}

// New returns a pool running at most workers tasks at a time. The returned
// pool observes cancellation of ctx.
func New(ctx context.Context, workers int) *Pool {
	group, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		group.SetLimit(workers)
	}
	return &Pool{group: group, ctx: ctx}
}

// Go schedules fn, blocking while all workers are busy.
func (p *Pool) Go(fn func(context.Context) error) {
	p.group.Go(func() error {
		if err := p.ctx.Err(); err != nil {
			// Cancelled before the task started; don't begin new work.
			return err
		}
		return fn(p.ctx)
	})
}

// Wait blocks until all scheduled tasks have finished and returns the first
// error, if any.
func (p *Pool) Wait() error {
	return p.group.Wait()
}
