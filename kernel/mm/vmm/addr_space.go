package vmm

import (
	"simpleos/kernel"
	"simpleos/kernel/kfmt"
	"simpleos/kernel/mm"
	"simpleos/kernel/mm/pmm"
	"simpleos/kernel/sync"
)

// maxRegionAllocators is the number of RegionAllocators that can claim
// ranges in a single address space.
const maxRegionAllocators = 10

var (
	errTooManyRegionAllocators = &kernel.Error{Module: "vmm", Message: "region allocator limit reached"}
	errDuplicateRegionAlloc    = &kernel.Error{Module: "vmm", Message: "region allocator is already registered"}
	errRegionAllocOverlap      = &kernel.Error{Module: "vmm", Message: "region allocator range overlaps a registered allocator"}
)

// AddressSpace is a two-level translation structure rooted at a page
// directory frame. The last directory slot points back at the directory
// itself so that, while the address space is active, the directory and all
// of its tables can be edited through fixed logical addresses.
type AddressSpace struct {
	directory mm.Frame

	allocators     [maxRegionAllocators]*RegionAllocator
	allocatorCount int
}

// Init allocates the directory and the tables for the shared region from
// the kernel frame pool. The shared region is identity-mapped as present
// and writable; all other slots start out not-present and are filled in by
// the page fault handler.
//
// Init works both before and after paging is enabled. In the latter case
// the new frames are edited through the temporary mapping slot of the
// active address space. If the kernel pool runs out of frames, any frames
// obtained by Init are returned to the pool.
func (as *AddressSpace) Init() *kernel.Error {
	if kernelPool == nil {
		return errNotInitialized
	}

	dirFrame, err := kernelPool.AllocFrames(1)
	if err != nil {
		return err
	}

	firstTable, err := kernelPool.AllocFrames(sharedTables)
	if err != nil {
		_ = kernelPool.ReleaseFrames(dirFrame)
		return err
	}

	if err = initSharedTables(firstTable); err == nil {
		err = initDirectory(dirFrame, firstTable)
	}

	if err != nil {
		_ = kernelPool.ReleaseFrames(firstTable)
		_ = kernelPool.ReleaseFrames(dirFrame)
		return err
	}

	as.directory = dirFrame
	as.allocatorCount = 0

	kfmt.Printf("[vmm] address space: directory at 0x%8x\n", dirFrame.Address())
	return nil
}

// initSharedTables fills the tables starting at firstTable with identity
// mappings for the shared region.
func initSharedTables(firstTable mm.Frame) *kernel.Error {
	for i := uint32(0); i < sharedTables; i++ {
		tableAddr, err := mapFrame(firstTable + mm.Frame(i))
		if err != nil {
			return err
		}

		for j := uint32(0); j < entriesPerTable; j++ {
			entryAt(tableAddr, j).set(mm.Frame(i*entriesPerTable+j), FlagPresent|FlagRW)
		}

		unmapFrame()
	}

	return nil
}

// initDirectory clears the directory frame, links the shared tables and
// sets up the self-mapping slot.
func initDirectory(dirFrame, firstTable mm.Frame) *kernel.Error {
	dirAddr, err := mapFrame(dirFrame)
	if err != nil {
		return err
	}

	kernel.Memset(uintptr(ptrFn(dirAddr)), 0, mm.PageSize)
	for i := uint32(0); i < sharedTables; i++ {
		entryAt(dirAddr, i).set(firstTable+mm.Frame(i), FlagPresent|FlagRW)
	}
	entryAt(dirAddr, selfMapSlot).set(dirFrame, FlagPresent|FlagRW)

	unmapFrame()
	return nil
}

// Frame returns the physical frame that holds the page directory.
func (as *AddressSpace) Frame() mm.Frame {
	return as.directory
}

// Load installs the directory of this address space in CR3 and makes it the
// active address space.
func (as *AddressSpace) Load() {
	activeSpace = as
	switchPDTFn(as.directory.Address())
}

// Translate returns the physical address that corresponds to the supplied
// logical address or ErrInvalidMapping if the address is not mapped.
func (as *AddressSpace) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	pte, err := as.pteForAddress(virtAddr)
	if err != nil {
		return 0, err
	}

	return pte.Frame().Address() + (virtAddr & (mm.PageSize - 1)), nil
}

// FreePage removes the mapping for the page that contains virtAddr and
// returns its frame to the pool it came from. Pages in the reserved
// directory window cannot be freed. If the address space is active the
// translation cache is flushed by reloading CR3.
func (as *AddressSpace) FreePage(virtAddr uintptr) *kernel.Error {
	if virtAddr >= ReservedWindowStart {
		return errReservedAddress
	}

	sync.MaskInterrupts()
	pte, err := as.pteForAddress(virtAddr)
	if err != nil {
		sync.UnmaskInterrupts()
		return err
	}

	frame := pte.Frame()
	owner := processPool.PoolFor(frame)
	if owner == nil {
		sync.UnmaskInterrupts()
		return pmm.ErrUnknownFrame
	}

	*pte = 0
	if as == activeSpace {
		switchPDTFn(as.directory.Address())
	}
	sync.UnmaskInterrupts()

	return owner.ReleaseFrames(frame)
}

// RegisterRegionAllocator records r as the owner of its logical range so
// the page fault handler can validate faults against it. Registering more
// than maxRegionAllocators allocators, registering the same allocator twice
// or registering overlapping ranges is a configuration error that halts the
// kernel.
func (as *AddressSpace) RegisterRegionAllocator(r *RegionAllocator) {
	if as.allocatorCount == maxRegionAllocators {
		panic(errTooManyRegionAllocators)
	}

	for _, other := range as.allocators[:as.allocatorCount] {
		switch {
		case other == r:
			panic(errDuplicateRegionAlloc)
		case r.base < other.base+other.size && other.base < r.base+r.size:
			panic(errRegionAllocOverlap)
		}
	}

	as.allocators[as.allocatorCount] = r
	as.allocatorCount++

	kfmt.Printf("[vmm] registered region allocator [0x%8x - 0x%8x]\n", r.base, r.base+r.size-1)
}

// regionAllocatorFor returns the registered allocator whose range contains
// virtAddr or nil.
func (as *AddressSpace) regionAllocatorFor(virtAddr uintptr) *RegionAllocator {
	for _, r := range as.allocators[:as.allocatorCount] {
		if virtAddr >= r.base && virtAddr-r.base < r.size {
			return r
		}
	}

	return nil
}

// reachable returns ErrAddressSpaceInactive if the tables of this address
// space cannot currently be accessed.
func (as *AddressSpace) reachable() *kernel.Error {
	if pagingEnabled && as != activeSpace {
		return ErrAddressSpaceInactive
	}

	return nil
}

// directoryAddr returns the address through which the directory can be
// accessed.
func (as *AddressSpace) directoryAddr() uintptr {
	if pagingEnabled {
		return directoryWindowAddr
	}

	return as.directory.Address()
}

// tableAddr returns the address through which the table referenced by
// directory slot dirIndex can be accessed. The slot must be present.
func (as *AddressSpace) tableAddr(dirIndex uint32) uintptr {
	if pagingEnabled {
		return tableWindowAddr + uintptr(dirIndex)<<mm.PageShift
	}

	return entryAt(as.directoryAddr(), dirIndex).Frame().Address()
}

// pteForAddress returns the table entry for virtAddr if it is present.
func (as *AddressSpace) pteForAddress(virtAddr uintptr) (*pageTableEntry, *kernel.Error) {
	if err := as.reachable(); err != nil {
		return nil, err
	}

	dirIndex, tableIndex := splitAddress(virtAddr)
	pde := entryAt(as.directoryAddr(), dirIndex)
	switch {
	case !pde.HasFlags(FlagPresent):
		return nil, ErrInvalidMapping
	case pde.HasFlags(FlagHugePage):
		return nil, errHugePageUnsupported
	}

	pte := entryAt(as.tableAddr(dirIndex), tableIndex)
	if !pte.HasFlags(FlagPresent) {
		return nil, ErrInvalidMapping
	}

	return pte, nil
}

// entryAt returns a pointer to entry index of the directory or table at
// tableAddr.
func entryAt(tableAddr uintptr, index uint32) *pageTableEntry {
	return (*pageTableEntry)(ptrFn(tableAddr + uintptr(index)<<entryShift))
}
