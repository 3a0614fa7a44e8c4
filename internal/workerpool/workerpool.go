// Package workerpool provides a generic bounded worker pool used for
// per-volume conversion.
package workerpool

import (
	"context"
	"runtime"
	"sync"
)

// maxWorkers caps the default pool size.
var maxWorkers = runtime.NumCPU()

// WorkerPool distributes jobs across a fixed number of workers and collects
// their results.
type WorkerPool[Job any, Result any] struct {
	numWorkers int
	jobs       chan Job
	results    chan Result
	wg         sync.WaitGroup
}

// New creates a pool with numWorkers workers. If numWorkers is 0 or negative
// it defaults to the number of CPUs. If numJobs is less than numWorkers, the
// pool is sized to match numJobs.
func New[Job any, Result any](numWorkers, numJobs int) *WorkerPool[Job, Result] {
	if numWorkers <= 0 {
		numWorkers = maxWorkers
	}
	if numJobs > 0 {
		numWorkers = min(numWorkers, numJobs)
	}
	numWorkers = max(numWorkers, 1)

	return &WorkerPool[Job, Result]{
		numWorkers: numWorkers,
		jobs:       make(chan Job, max(numJobs, 0)),
		results:    make(chan Result, max(numJobs, 0)),
	}
}

// Workers returns the number of workers the pool runs.
func (p *WorkerPool[Job, Result]) Workers() int { return p.numWorkers }

// Start launches the workers. workerFn is called once per submitted job.
func (p *WorkerPool[Job, Result]) Start(workerFn func(Job) Result) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				p.results <- workerFn(job)
			}
		}()
	}
}

// Submit adds a job to the queue.
func (p *WorkerPool[Job, Result]) Submit(job Job) {
	p.jobs <- job
}

// Close stops accepting jobs. The results channel is closed once every
// worker has finished.
func (p *WorkerPool[Job, Result]) Close() {
	close(p.jobs)
	go func() {
		p.wg.Wait()
		close(p.results)
	}()
}

// Results returns the channel of worker outputs.
func (p *WorkerPool[Job, Result]) Results() <-chan Result {
	return p.results
}

// indexed carries a job's position so Map can restore input order.
type indexed[T any] struct {
	i int
	v T
}

// Map runs fn over jobs on a pool of numWorkers and returns results in job
// order. Jobs not yet started when ctx is cancelled receive fn's result for
// the cancelled context; fn is expected to check ctx.Err.
func Map[Job any, Result any](ctx context.Context, numWorkers int, jobs []Job, fn func(context.Context, Job) Result) []Result {
	out := make([]Result, len(jobs))
	if len(jobs) == 0 {
		return out
	}

	pool := New[indexed[Job], indexed[Result]](numWorkers, len(jobs))
	pool.Start(func(j indexed[Job]) indexed[Result] {
		return indexed[Result]{i: j.i, v: fn(ctx, j.v)}
	})
	for i, job := range jobs {
		pool.Submit(indexed[Job]{i: i, v: job})
	}
	pool.Close()

	for r := range pool.Results() {
		out[r.i] = r.v
	}
	return out
}
