package store

import (
	"context"
	"sync"

	"github.com/ProtonMail/mailstore/async"
)

// Semaphore limits the number of concurrent operations.
type Semaphore struct {
	ch chan struct{}
	wg sync.WaitGroup
	rw sync.RWMutex

	panicHandler async.PanicHandler
}

// NewSemaphore constructs a new semaphore with the given limit.
func NewSemaphore(max int, panicHandler async.PanicHandler) *Semaphore {
	return &Semaphore{ch: make(chan struct{}, max), panicHandler: panicHandler}
}

// Lock locks the semaphore, waiting first until it is possible.
func (sem *Semaphore) Lock() {
	sem.rw.RLock()
	sem.ch <- struct{}{}
}

// LockContext is like Lock but gives up when the context is done.
func (sem *Semaphore) LockContext(ctx context.Context) error {
	sem.rw.RLock()

	select {
	case sem.ch <- struct{}{}:
		return nil

	case <-ctx.Done():
		sem.rw.RUnlock()
		return ctx.Err()
	}
}

// Unlock unlocks the semaphore.
func (sem *Semaphore) Unlock() {
	sem.rw.RUnlock()
	<-sem.ch
}

// Block prevents the semaphore from being locked.
func (sem *Semaphore) Block() {
	sem.rw.Lock()
	sem.wg.Wait()
}

// Unblock allows the semaphore to be locked again.
func (sem *Semaphore) Unblock() {
	sem.rw.Unlock()
}

// Do executes the given function synchronously.
func (sem *Semaphore) Do(fn func()) {
	sem.Lock()
	sem.wg.Add(1)

	defer sem.Unlock()
	defer sem.wg.Done()

	fn()
}

// Go executes the given function asynchronously. Panics of fn are passed to the panic handler.
func (sem *Semaphore) Go(fn func()) {
	sem.Lock()
	sem.wg.Add(1)

	go func() {
		defer sem.Unlock()
		defer sem.wg.Done()
		defer async.HandlePanic(sem.panicHandler)

		fn()
	}()
}

// Wait waits for all functions started by Go to finish executing.
func (sem *Semaphore) Wait() {
	sem.wg.Wait()
}
