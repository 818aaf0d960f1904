// Package worker provides a bounded worker pool for fanning out independent
// tasks, such as per-opportunity validity evaluations.
package worker

import (
	"context"
	"sync"
)

// Job is one unit of work.
type Job[T any] struct {
	// ID identifies the job in results and logs.
	ID string
	// Execute runs the work.
	Execute func(ctx context.Context) (T, error)
}

// Result is the outcome of one job.
type Result[T any] struct {
	JobID string
	Value T
	Err   error
}

// Pool runs jobs on a fixed number of worker goroutines. Results are
// delivered in completion order, not submission order.
type Pool[T any] struct {
	workers  int
	jobQueue chan Job[T]
	results  chan Result[T]
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewPool starts a pool with the given worker count and queue buffer.
func NewPool[T any](ctx context.Context, workers, queueSize int) *Pool[T] {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	poolCtx, cancel := context.WithCancel(ctx)
	p := &Pool[T]{
		workers:  workers,
		jobQueue: make(chan Job[T], queueSize),
		results:  make(chan Result[T], queueSize),
		ctx:      poolCtx,
		cancel:   cancel,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

func (p *Pool[T]) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			value, err := job.Execute(p.ctx)
			select {
			case p.results <- Result[T]{JobID: job.ID, Value: value, Err: err}:
			case <-p.ctx.Done():
				return
			}
		}
	}
}

// Submit queues a job. It blocks while the queue is full and fails once the
// pool's context is done.
func (p *Pool[T]) Submit(job Job[T]) error {
	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.jobQueue <- job:
		return nil
	}
}

// Results returns the channel job outcomes are delivered on.
func (p *Pool[T]) Results() <-chan Result[T] {
	return p.results
}

// Close stops accepting jobs and waits for in-flight work to finish.
func (p *Pool[T]) Close() {
	p.cancel()
	close(p.jobQueue)
	p.wg.Wait()
	close(p.results)
}

// Workers returns the pool's worker count.
func (p *Pool[T]) Workers() int {
	return p.workers
}

// Run fans jobs out over a temporary pool and collects every result.
// Cancellation returns the results collected so far.
func Run[T any](ctx context.Context, workers int, jobs []Job[T]) []Result[T] {
	if len(jobs) == 0 {
		return nil
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	p := NewPool[T](ctx, workers, len(jobs))
	defer p.Close()

	for _, job := range jobs {
		if err := p.Submit(job); err != nil {
			break
		}
	}

	results := make([]Result[T], 0, len(jobs))
	for range jobs {
		select {
		case <-ctx.Done():
			return results
		case r := <-p.results:
			results = append(results, r)
		}
	}
	return results
}
