package sync

import "simpleos/kernel/cpu"

var (
	// enableInterruptsFn and disableInterruptsFn are mocked by tests and
	// are automatically inlined by the compiler.
	enableInterruptsFn  = cpu.EnableInterrupts
	disableInterruptsFn = cpu.DisableInterrupts

	// interruptsEnabled mirrors the CPU interrupt flag. The kernel boots
	// with interrupts disabled and only EnableInterrupts turns them on.
	interruptsEnabled bool

	// maskDepth counts the MaskInterrupts calls that have not yet been
	// matched by UnmaskInterrupts.
	maskDepth uint32

	// enableOnUnmask records whether interrupts were enabled when the
	// outermost MaskInterrupts call was made.
	enableOnUnmask bool
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts() {
	interruptsEnabled = true
	enableInterruptsFn()
}

// DisableInterrupts disables interrupt handling.
func DisableInterrupts() {
	disableInterruptsFn()
	interruptsEnabled = false
}

// InterruptsEnabled returns true if interrupt handling is currently enabled.
func InterruptsEnabled() bool {
	return interruptsEnabled
}

// MaskInterrupts disables interrupts for the duration of a critical section.
// Calls nest: interrupts are restored by the UnmaskInterrupts call that
// matches the outermost MaskInterrupts and only if they were enabled when
// that call was made.
func MaskInterrupts() {
	if maskDepth == 0 {
		enableOnUnmask = interruptsEnabled
		if interruptsEnabled {
			DisableInterrupts()
		}
	}
	maskDepth++
}

// UnmaskInterrupts ends a critical section started by MaskInterrupts.
// Unbalanced calls are ignored.
func UnmaskInterrupts() {
	if maskDepth == 0 {
		return
	}

	maskDepth--
	if maskDepth == 0 && enableOnUnmask {
		enableOnUnmask = false
		EnableInterrupts()
	}
}

// IRQSpinlock is a Spinlock whose holder runs with interrupts masked. On a
// single core masking alone keeps interrupt handlers from observing a
// half-finished update; the spinlock keeps the same guarantee between cores.
type IRQSpinlock struct {
	lock Spinlock
}

// Acquire masks interrupts and then acquires the lock.
func (l *IRQSpinlock) Acquire() {
	MaskInterrupts()
	l.lock.Acquire()
}

// Release releases the lock and then restores the interrupt state that was
// active before the matching Acquire.
func (l *IRQSpinlock) Release() {
	l.lock.Release()
	UnmaskInterrupts()
}
