package concurrency

import (
	"context"
	"sync"
	"time"
)

// WorkerPool runs submitted tasks on a fixed number of goroutines. Tasks
// queue on a bounded channel; Shutdown stops the workers and waits for
// in-flight tasks up to a deadline.
type WorkerPool struct {
	workers int
	tasks   chan func()
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewWorkerPool(workers int) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	pool := &WorkerPool{
		workers: workers,
		tasks:   make(chan func(), workers*2),
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker()
	}

	return pool
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()

	for {
		select {
		case task := <-wp.tasks:
			if task != nil {
				task()
			}
		case <-wp.ctx.Done():
			return
		}
	}
}

// Submit queues a task; it fails once the pool has been shut down
func (wp *WorkerPool) Submit(task func()) error {
	select {
	case wp.tasks <- task:
		return nil
	case <-wp.ctx.Done():
		return wp.ctx.Err()
	}
}

// Shutdown stops the workers and waits up to timeout for them to drain
func (wp *WorkerPool) Shutdown(timeout time.Duration) error {
	wp.cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}

// Semaphore bounds concurrent work, used to cap nested branch workers
// under the group-level fan-out.
type Semaphore struct {
	sem chan struct{}
}

func NewSemaphore(capacity int) *Semaphore {
	return &Semaphore{
		sem: make(chan struct{}, capacity),
	}
}

// Release returns a permit
func (s *Semaphore) Release() {
	<-s.sem
}

// AcquireCtx takes a permit or returns when the context is cancelled
func (s *Semaphore) AcquireCtx(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
