package osp

import (
	"runtime"
	"sync"
)

// NewWorkerPoolDispatcher returns a Dispatcher that runs submitted units on a
// fixed-size worker pool, bounding how many threads run in parallel. If size
// is zero or negative, GOMAXPROCS workers are used. Units submitted after Stop
// run on their own goroutine.
func NewWorkerPoolDispatcher(size int) Dispatcher {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
		if size <= 0 {
			size = 1
		}
	}

	pool := &workerPoolDispatcher{
		tasks: make(chan func(), size*2),
	}
	pool.wg.Add(size)
	for i := 0; i < size; i++ {
		go pool.worker()
	}
	return pool
}

type workerPoolDispatcher struct {
	mu      sync.RWMutex
	stopped bool
	tasks   chan func()
	wg      sync.WaitGroup
	once    sync.Once
}

func (d *workerPoolDispatcher) worker() {
	defer d.wg.Done()
	for fn := range d.tasks {
		if fn != nil {
			fn()
		}
	}
}

func (d *workerPoolDispatcher) Submit(fn func()) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		go fn()
		return
	}
	d.tasks <- fn
}

// Stop drains queued units and waits for the workers to exit.
func (d *workerPoolDispatcher) Stop() {
	d.once.Do(func() {
		d.mu.Lock()
		d.stopped = true
		close(d.tasks)
		d.mu.Unlock()
		d.wg.Wait()
	})
}
