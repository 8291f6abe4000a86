package executor

import (
	"context"
	"sync"
)

// pool is the bounded worker pool spec §5 describes: N OS-thread workers
// fed through a channel whose capacity is 2N, so the planner/dispatcher
// blocks once 2N tasks are queued behind the N being executed. Peak
// outstanding task count is therefore at most 3N, O(N) regardless of total
// plan size.
type pool struct {
	tasks chan func(context.Context)
	wg    sync.WaitGroup
}

// newPool starts n worker goroutines (OS threads under the runtime
// scheduler; each worker's suspension points — subprocess wait, blocking
// I/O — are genuine OS-level blocks, matching spec §5's "not async" model)
// reading from a channel of capacity 2n.
func newPool(ctx context.Context, n int) *pool {
	if n < 1 {
		n = 1
	}

	p := &pool{tasks: make(chan func(context.Context), 2*n)}

	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.worker(ctx)
	}

	return p
}

func (p *pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for task := range p.tasks {
		task(ctx)
	}
}

// submit blocks when the bounded channel is full, which is the pool's only
// backpressure mechanism (spec §5: "the scheduler blocks the planner's feed
// when the in-flight window is full").
func (p *pool) submit(task func(context.Context)) {
	p.tasks <- task
}

// close stops accepting new work and waits for every in-flight task to
// finish. Tasks already running always complete their commit-or-cleanup
// step (spec §5 Cancellation): close never interrupts a task mid-rename.
func (p *pool) close() {
	close(p.tasks)
	p.wg.Wait()
}
