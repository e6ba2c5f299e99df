package vmm

import (
	"simpleos/kernel"
	"simpleos/kernel/gate"
	"simpleos/kernel/kfmt"
	"simpleos/kernel/mm"
)

// Page fault error code bits pushed by the CPU.
const (
	faultProtection = 1 << 0
	faultWrite      = 1 << 1
	faultUser       = 1 << 2
	faultReserved   = 1 << 3
	faultFetch      = 1 << 4
)

// pageFaultHandler is invoked when a page directory or page table entry is
// not present or when a protection check fails. Missing translations are
// created on demand: a table is allocated from the kernel pool if the
// directory slot is empty and the page itself is backed by a frame from the
// pool of the RegionAllocator that owns the address, or from the process
// pool if no allocator claims it.
//
// Once at least one RegionAllocator has been registered with the active
// address space, faults at addresses that no allocator considers legitimate
// are fatal.
func pageFaultHandler(regs *gate.Registers) {
	var (
		faultAddress = readCR2Fn()
		as           = activeSpace
		pool         = processPool
	)

	switch {
	case as == nil:
		nonRecoverablePageFault(faultAddress, regs, errNoActiveAddressSpace)
		return
	case regs.Info&faultProtection != 0:
		nonRecoverablePageFault(faultAddress, regs, errProtectionViolation)
		return
	}

	if as.allocatorCount != 0 {
		owner := as.regionAllocatorFor(faultAddress)
		if owner == nil || !owner.IsLegitimate(faultAddress) {
			nonRecoverablePageFault(faultAddress, regs, errIllegalAccess)
			return
		}
		pool = owner.pool
	}

	frame, err := pool.AllocFrames(1)
	if err != nil {
		nonRecoverablePageFault(faultAddress, regs, err)
		return
	}

	if err = as.Map(mm.PageFromAddress(faultAddress), frame, FlagPresent|FlagRW); err != nil {
		_ = pool.ReleaseFrames(frame)
		nonRecoverablePageFault(faultAddress, regs, err)
	}
}

// generalProtectionFaultHandler is invoked for various reasons:
// - segment errors (privilege, type or limit violations)
// - executing privileged instructions outside ring-0
// - attempts to access reserved or unimplemented CPU registers
func generalProtectionFaultHandler(regs *gate.Registers) {
	kfmt.Printf("\nGeneral protection fault (error code: 0x%x)\n", regs.Info)
	kfmt.Printf("Registers:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	panic(errUnrecoverableFault)
}

func nonRecoverablePageFault(faultAddress uintptr, regs *gate.Registers, err *kernel.Error) {
	kfmt.Printf("\nPage fault while accessing address: 0x%8x\nReason: ", faultAddress)
	switch {
	case regs.Info&faultReserved != 0:
		kfmt.Printf("page table has reserved bit set")
	case regs.Info&faultFetch != 0:
		kfmt.Printf("instruction fetch")
	case regs.Info&faultProtection != 0 && regs.Info&faultWrite != 0:
		kfmt.Printf("page protection violation (write)")
	case regs.Info&faultProtection != 0:
		kfmt.Printf("page protection violation (read)")
	case regs.Info&faultWrite != 0:
		kfmt.Printf("write to non-present page")
	default:
		kfmt.Printf("read from non-present page")
	}

	if regs.Info&faultUser != 0 {
		kfmt.Printf(" in user-mode")
	}

	kfmt.Printf("\n\nRegisters:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	panic(err)
}
