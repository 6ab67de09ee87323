// Package asyncjobs wraps an ants goroutine pool for bounded background
// concurrency outside the strictly single-threaded fuzz loop itself; its
// one user is loading several dictionary files at startup. Trimmed of
// the request-specific error bookkeeping a bounded HTTP worker pool would
// carry, since this domain doesn't need it.
package asyncjobs

import (
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
)

// Pool runs bounded background tasks; it never participates in the
// per-iteration mutate/execute/evaluate path (see spec's single-threaded
// cooperative concurrency model for a worker).
type Pool struct {
	pool      *ants.Pool
	wg        sync.WaitGroup
	submitted atomic.Int64
	completed atomic.Int64
}

// New creates a Pool with the given goroutine capacity.
func New(size int) (*Pool, error) {
	if size <= 0 {
		size = 8
	}
	p, err := ants.NewPool(size, ants.WithPreAlloc(true))
	if err != nil {
		return nil, err
	}
	return &Pool{pool: p}, nil
}

// Submit schedules task to run on the pool.
func (p *Pool) Submit(task func()) error {
	p.submitted.Add(1)
	p.wg.Add(1)
	return p.pool.Submit(func() {
		defer p.wg.Done()
		defer p.completed.Add(1)
		task()
	})
}

// Wait blocks until every submitted task has completed.
func (p *Pool) Wait() { p.wg.Wait() }

// Release waits for outstanding tasks then tears the pool down.
func (p *Pool) Release() {
	p.Wait()
	p.pool.Release()
}

// Stats is a point-in-time view of pool load.
type Stats struct {
	Running   int
	Capacity  int
	Submitted int64
	Completed int64
}

// Stats reports current pool load.
func (p *Pool) Stats() Stats {
	return Stats{
		Running:   p.pool.Running(),
		Capacity:  p.pool.Cap(),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
	}
}
