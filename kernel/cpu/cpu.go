// Package cpu exposes the privileged x86 instructions used by the memory
// manager. The functions are implemented in assembly and fault when executed
// outside ring 0, so packages calling them keep them behind function
// variables that tests can replace.
package cpu

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt stops instruction execution. Halt never returns.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ReadCR0 returns the value stored in the CR0 register.
func ReadCR0() uintptr

// WriteCR0 stores value in the CR0 register.
func WriteCR0(value uintptr)

// ReadCR2 returns the value stored in the CR2 register (the linear address
// that triggered the last page fault).
func ReadCR2() uintptr
