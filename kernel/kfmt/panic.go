package kfmt

import (
	"simpleos/kernel"
	"simpleos/kernel/cpu"
)

const panicRule = "-----------------------------------"

var (
	// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
	cpuHaltFn = cpu.Halt

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// Panic prints the supplied error (if not nil) and halts the CPU. Calls to
// Panic never return. The kernel image build redirects runtime.gopanic here,
// which is how a plain panic(err) in the memory manager halts the machine.
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		err = runtimeError(t)
	case error:
		err = runtimeError(t.Error())
	}

	Printf("\n%s\n", panicRule)
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("*** kernel panic: system halted ***\n%s\n", panicRule)

	cpuHaltFn()
}

// panicString serves as a redirect target for runtime.throw
//go:redirect-from runtime.throw
func panicString(msg string) {
	Panic(runtimeError(msg))
}

// runtimeError reuses a single pre-allocated error for panics that do not
// carry a *kernel.Error.
func runtimeError(msg string) *kernel.Error {
	errRuntimePanic.Message = msg
	return errRuntimePanic
}
