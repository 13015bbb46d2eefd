package distribution

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// pool bounds how many tasks run at once. Submitting never blocks the
// caller; tasks wait for slots in their own goroutine.
type pool struct {
	size int64
	sem  *semaphore.Weighted
}

func newPool(size int) *pool {
	return &pool{size: int64(size), sem: semaphore.NewWeighted(int64(size))}
}

// submit runs task once a slot is free. If ctx ends first, rejected is
// called with the context error instead.
func (p *pool) submit(ctx context.Context, task func(), rejected func(error)) {
	go func() {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			rejected(err)
			return
		}
		defer p.sem.Release(1)
		task()
	}()
}

// submitGroup starts every task of a group together once enough slots are
// free, so that tasks reading one fan-out never wait on each other for a
// slot. A group larger than the pool takes the whole pool and still runs
// every task. If ctx ends first, rejected is called for every task.
func (p *pool) submitGroup(ctx context.Context, tasks []func(), rejected func(i int, err error)) {
	weight := int64(len(tasks))
	if weight > p.size {
		weight = p.size
	}
	go func() {
		if err := p.sem.Acquire(ctx, weight); err != nil {
			for i := range tasks {
				rejected(i, err)
			}
			return
		}
		defer p.sem.Release(weight)

		var wg sync.WaitGroup
		for _, task := range tasks {
			task := task
			wg.Add(1)
			go func() {
				defer wg.Done()
				task()
			}()
		}
		wg.Wait()
	}()
}

// do runs fn in the calling goroutine once a slot is free.
func (p *pool) do(ctx context.Context, fn func(context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn(ctx)
}
