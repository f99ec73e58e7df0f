// Package parallel runs compute workgroups on a fixed set of goroutines.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// WorkerPool is a pool of goroutines that executes workgroups of a kernel
// dispatch.
//
// Each worker owns a queue. Groups of one dispatch are distributed
// round-robin; a worker whose queue is empty steals from the others, which
// evens out groups that received an extra tile.
//
// Thread safety: WorkerPool is safe for concurrent use, but Dispatch must not
// be called from inside a running group.
type WorkerPool struct {
	// workers is the number of worker goroutines.
	workers int

	// workQueues holds per-worker work queues.
	workQueues []chan func()

	// done signals workers to stop.
	done chan struct{}

	// wg waits for all workers to finish.
	wg sync.WaitGroup

	// running indicates whether the pool is accepting work.
	running atomic.Bool
}

// NewWorkerPool creates a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	// A queue deep enough for the largest dispatch (64 groups) spread over
	// the workers keeps Dispatch from blocking on enqueue.
	queueSize := max(workers*4, 8)

	p := &WorkerPool{
		workers:    workers,
		workQueues: make([]chan func(), workers),
		done:       make(chan struct{}),
	}
	for i := range workers {
		p.workQueues[i] = make(chan func(), queueSize)
	}

	p.running.Store(true)

	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	return p
}

// worker is the main loop for each worker goroutine.
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	myQueue := p.workQueues[id]
	for {
		select {
		case <-p.done:
			p.drainQueue(myQueue)
			return
		case work := <-myQueue:
			work()
		default:
			if stolen := p.steal(id); stolen != nil {
				stolen()
				continue
			}
			select {
			case <-p.done:
				p.drainQueue(myQueue)
				return
			case work := <-myQueue:
				work()
			}
		}
	}
}

// drainQueue executes all remaining work in a queue.
func (p *WorkerPool) drainQueue(queue chan func()) {
	for {
		select {
		case work := <-queue:
			work()
		default:
			return
		}
	}
}

// steal takes one item from another worker's queue, or returns nil.
func (p *WorkerPool) steal(myID int) func() {
	for i := range p.workers {
		if i == myID {
			continue
		}
		select {
		case work := <-p.workQueues[i]:
			return work
		default:
		}
	}
	return nil
}

// Dispatch runs fn(g) for every g in [0, groups) and returns once all of them
// have finished, giving the caller the same guarantee as the end of a GPU
// compute pass: every write of the dispatch is visible afterwards.
//
// If the pool is closed, the groups run on the calling goroutine.
func (p *WorkerPool) Dispatch(groups uint32, fn func(g uint32)) {
	if groups == 0 {
		return
	}
	if !p.running.Load() || groups == 1 {
		for g := range groups {
			fn(g)
		}
		return
	}

	var completion sync.WaitGroup
	completion.Add(int(groups))
	for g := range groups {
		work := func() {
			defer completion.Done()
			fn(g)
		}
		select {
		case p.workQueues[int(g)%p.workers] <- work:
		case <-p.done:
			work()
		}
	}
	completion.Wait()
}

// Close stops accepting work, finishes queued groups and stops all workers.
// Close is safe to call multiple times.
func (p *WorkerPool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

// Workers returns the number of workers in the pool.
func (p *WorkerPool) Workers() int {
	return p.workers
}

// IsRunning reports whether the pool is still accepting work.
func (p *WorkerPool) IsRunning() bool {
	return p.running.Load()
}
