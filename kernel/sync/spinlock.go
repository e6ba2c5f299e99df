// Package sync provides the locking primitives used by the kernel: a
// busy-waiting Spinlock and nestable interrupt masking for the critical
// sections of a single-core kernel.
package sync

import "sync/atomic"

// spinAttemptsBeforeYield is the number of failed acquisition attempts after
// which Acquire hands the CPU to yieldFn (if one is installed).
const spinAttemptsBeforeYield = 1024

var (
	// TODO: replace with the scheduler's yield once tasks can be switched.
	yieldFn func()
)

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for attempts := 0; !atomic.CompareAndSwapUint32(&l.state, 0, 1); attempts++ {
		if attempts == spinAttemptsBeforeYield {
			attempts = 0
			if yieldFn != nil {
				yieldFn()
			}
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}
