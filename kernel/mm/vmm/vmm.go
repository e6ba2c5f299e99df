// Package vmm implements the virtual memory manager: two-level address
// spaces with a self-mapped directory, demand paging through the page fault
// handler and lazy logical range allocation.
package vmm

import (
	"simpleos/kernel"
	"simpleos/kernel/cpu"
	"simpleos/kernel/gate"
	"simpleos/kernel/kfmt"
	"simpleos/kernel/mm/pmm"
	"unsafe"
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	switchPDTFn       = cpu.SwitchPDT
	flushTLBEntryFn   = cpu.FlushTLBEntry
	readCR0Fn         = cpu.ReadCR0
	writeCR0Fn        = cpu.WriteCR0
	readCR2Fn         = cpu.ReadCR2
	handleInterruptFn = gate.HandleInterrupt

	// ptrFn converts an address that the CPU can currently dereference
	// (physical before paging is enabled, logical afterwards) into a
	// pointer. Tests override it to emulate the MMU.
	ptrFn = func(addr uintptr) unsafe.Pointer {
		return unsafe.Pointer(addr)
	}

	// kernelPool supplies the frames for page directories and tables.
	kernelPool *pmm.FramePool

	// processPool supplies the frames for faulting pages that are not
	// claimed by a RegionAllocator.
	processPool *pmm.FramePool

	// sharedTables is the number of page tables that identity-map the
	// shared kernel region at the bottom of every address space.
	sharedTables uint32

	// activeSpace is the address space whose directory is loaded in CR3.
	activeSpace *AddressSpace

	// pagingEnabled mirrors CR0.PG.
	pagingEnabled bool
)

var (
	// ErrInvalidMapping is returned when trying to lookup a logical
	// address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "logical address does not point to a mapped physical page"}

	// ErrAddressSpaceInactive is returned when editing the tables of an
	// address space that is not active while paging is enabled.
	ErrAddressSpaceInactive = &kernel.Error{Module: "vmm", Message: "address space tables are not reachable while it is inactive"}

	errNotInitialized       = &kernel.Error{Module: "vmm", Message: "vmm frame pools have not been set up"}
	errAlreadyInitialized   = &kernel.Error{Module: "vmm", Message: "vmm frame pools have already been set up"}
	errMissingPool          = &kernel.Error{Module: "vmm", Message: "kernel and process frame pools are required"}
	errSharedRegionTooLarge = &kernel.Error{Module: "vmm", Message: "shared region overlaps the reserved directory window"}
	errReservedAddress      = &kernel.Error{Module: "vmm", Message: "logical address is reserved for the directory window"}
	errHugePageUnsupported  = &kernel.Error{Module: "vmm", Message: "4Mb pages are not supported"}
	errUnrecoverableFault   = &kernel.Error{Module: "vmm", Message: "page/gpf fault"}
	errNoActiveAddressSpace = &kernel.Error{Module: "vmm", Message: "page fault with no active address space"}
	errProtectionViolation  = &kernel.Error{Module: "vmm", Message: "page protection violation"}
	errIllegalAccess        = &kernel.Error{Module: "vmm", Message: "access outside of any allocated region"}
)

// Init configures the frame pools used by all address spaces and installs
// the paging-related exception handlers. Directory and table frames come
// from kernelFramePool; pages that do not belong to a RegionAllocator come
// from processFramePool. The first sharedSize bytes of physical memory
// (rounded up to a multiple of 4Mb) are identity-mapped into every address
// space.
//
// Init may only be called once.
func Init(kernelFramePool, processFramePool *pmm.FramePool, sharedSize uintptr) *kernel.Error {
	switch {
	case kernelPool != nil:
		return errAlreadyInitialized
	case kernelFramePool == nil || processFramePool == nil:
		return errMissingPool
	}

	tables := uint32((sharedSize + tableSpan - 1) / tableSpan)
	if tables == 0 {
		tables = 1
	}

	if tables >= tempMappingSlot {
		return errSharedRegionTooLarge
	}

	kernelPool, processPool, sharedTables = kernelFramePool, processFramePool, tables

	handleInterruptFn(gate.PageFaultException, pageFaultHandler)
	handleInterruptFn(gate.GPFException, generalProtectionFaultHandler)

	kfmt.Printf("[vmm] identity-mapping [0x%8x - 0x%8x] in every address space\n", 0, uintptr(tables)*tableSpan-1)
	return nil
}

// EnablePaging sets CR0.PG. From this point on every address issued by the
// CPU is translated through the active address space, so Load must have
// been called first.
func EnablePaging() {
	writeCR0Fn(readCR0Fn() | cr0PagingBit)
	pagingEnabled = true

	kfmt.Printf("[vmm] paging enabled\n")
}

// PagingEnabled returns true if EnablePaging has been called.
func PagingEnabled() bool {
	return pagingEnabled
}

// ActiveAddressSpace returns the address space that was most recently
// loaded or nil if no address space has been loaded yet.
func ActiveAddressSpace() *AddressSpace {
	return activeSpace
}
