// Package gate routes CPU exceptions to the Go handlers registered for them.
package gate

import (
	"io"
	"simpleos/kernel/kfmt"
)

// Registers contains a snapshot of the 32-bit register file when an
// exception or interrupt occurs.
type Registers struct {
	EAX uint32
	EBX uint32
	ECX uint32
	EDX uint32
	ESI uint32
	EDI uint32
	EBP uint32

	// Info contains the error code pushed by the CPU for exceptions that
	// provide one, or the IRQ number for HW interrupts.
	Info uint32

	// The return frame used by IRET
	EIP    uint32
	CS     uint32
	EFlags uint32
	ESP    uint32
	SS     uint32
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "EAX = %8x EBX = %8x\n", r.EAX, r.EBX)
	kfmt.Fprintf(w, "ECX = %8x EDX = %8x\n", r.ECX, r.EDX)
	kfmt.Fprintf(w, "ESI = %8x EDI = %8x\n", r.ESI, r.EDI)
	kfmt.Fprintf(w, "EBP = %8x ERR = %8x\n", r.EBP, r.Info)
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "EIP = %8x CS  = %8x\n", r.EIP, r.CS)
	kfmt.Fprintf(w, "ESP = %8x SS  = %8x\n", r.ESP, r.SS)
	kfmt.Fprintf(w, "EFL = %8x\n", r.EFlags)
}

// InterruptNumber describes an x86 interrupt/exception/trap slot.
type InterruptNumber uint8

const (
	// GPFException occurs when a general protection fault occurs.
	GPFException = InterruptNumber(13)

	// PageFaultException occurs when a page directory or one of its
	// entries is not present or when a privilege and/or RW protection
	// check fails. The faulting address is available in CR2.
	PageFaultException = InterruptNumber(14)

	// numInterrupts is the number of IDT slots on x86.
	numInterrupts = 256
)

var handlers [numInterrupts]func(*Registers)

// HandleInterrupt ensures that the provided handler will be invoked when a
// particular interrupt number occurs. Registering a handler for a slot that
// already has one replaces it.
func HandleInterrupt(intNumber InterruptNumber, handler func(*Registers)) {
	handlers[intNumber] = handler
}

// Handler returns the handler registered for intNumber or nil.
func Handler(intNumber InterruptNumber) func(*Registers) {
	return handlers[intNumber]
}

// Dispatch is invoked by the interrupt entrypoints to route an incoming
// interrupt to its handler. It returns false if no handler is registered
// for intNumber.
func Dispatch(intNumber InterruptNumber, regs *Registers) bool {
	handler := handlers[intNumber]
	if handler == nil {
		return false
	}

	handler(regs)
	return true
}
