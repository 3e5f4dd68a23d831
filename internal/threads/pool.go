// Package threads provides the fixed set of worker goroutines shared by the
// search and by table maintenance.
package threads

import "sync"

// worker runs jobs one at a time, in the order they were dispatched.
type worker struct {
	jobs    chan func()
	pending sync.WaitGroup
}

func (w *worker) loop(exited *sync.WaitGroup) {
	defer exited.Done()
	for fn := range w.jobs {
		fn()
		w.pending.Done()
	}
}

// Pool is a fixed-size set of workers addressed by index. It is driven by a
// single controlling goroutine: RunOnThread, WaitOnThread, Set and Close must
// not be called concurrently with each other.
type Pool struct {
	workers []*worker
	exited  sync.WaitGroup
}

// NewPool starts a pool with n workers (at least one).
func NewPool(n int) *Pool {
	p := &Pool{}
	p.Set(n)
	return p
}

// Set replaces the workers with n fresh ones, waiting for the old ones to
// finish their current jobs first.
func (p *Pool) Set(n int) {
	p.Close()
	if n < 1 {
		n = 1
	}

	p.workers = make([]*worker, n)
	p.exited.Add(n)
	for i := range p.workers {
		w := &worker{jobs: make(chan func())}
		p.workers[i] = w
		go w.loop(&p.exited)
	}
}

// NumThreads returns the number of workers.
func (p *Pool) NumThreads() int {
	return len(p.workers)
}

// RunOnThread runs fn on worker i. If the worker is busy, the call blocks
// until it picks the job up.
func (p *Pool) RunOnThread(i int, fn func()) {
	w := p.workers[i]
	w.pending.Add(1)
	w.jobs <- fn
}

// WaitOnThread blocks until worker i has finished every dispatched job.
func (p *Pool) WaitOnThread(i int) {
	p.workers[i].pending.Wait()
}

// RunOnAll runs fn(i) on every worker i without waiting.
func (p *Pool) RunOnAll(fn func(i int)) {
	for i := range p.workers {
		p.RunOnThread(i, func() { fn(i) })
	}
}

// WaitAll waits for every worker to finish its jobs.
func (p *Pool) WaitAll() {
	for i := range p.workers {
		p.WaitOnThread(i)
	}
}

// Close waits for outstanding jobs and stops the workers.
func (p *Pool) Close() {
	for _, w := range p.workers {
		w.pending.Wait()
		close(w.jobs)
	}
	p.exited.Wait()
	p.workers = nil
}
