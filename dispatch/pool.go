package dispatch

import (
	"context"

	"github.com/JekaMas/workerpool"
)

const defaultPoolSize = 16

// Pool fans packet sends out over a bounded worker pool so one slow module
// connection never stalls the rest of a request's fan-out.
type Pool struct {
	pool *workerpool.WorkerPool
}

// NewPool creates a send pool with n workers; n <= 0 uses the default.
func NewPool(n int) *Pool {
	if n <= 0 {
		n = defaultPoolSize
	}
	return &Pool{pool: workerpool.New(n)}
}

// Run schedules fn on the pool.
func (p *Pool) Run(runFn func()) {
	fn := func() error {
		runFn()

		return nil
	}

	p.pool.Submit(context.Background(), fn, workerpool.NoTimeout)
}

// Stop drains the pool, waiting for queued work to finish.
func (p *Pool) Stop() {
	p.pool.StopWait()
}
