package vmm

import (
	"simpleos/kernel"
	"simpleos/kernel/kfmt"
	"simpleos/kernel/mm"
	"simpleos/kernel/mm/pmm"
	"unsafe"
)

// region describes an allocated logical range.
type region struct {
	base uintptr
	size uintptr
}

// maxRegions is the number of region entries that fit in the bookkeeping
// page of a RegionAllocator.
const maxRegions = uint32(mm.PageSize / unsafe.Sizeof(region{}))

var (
	// ErrZeroSize is returned when requesting a zero-sized region.
	ErrZeroSize = &kernel.Error{Module: "vmm", Message: "region size must be greater than zero"}

	// ErrRegionListFull is returned when the region list of a
	// RegionAllocator has no free entries.
	ErrRegionListFull = &kernel.Error{Module: "vmm", Message: "region list is full"}

	// ErrOutOfAddressSpace is returned when the range managed by a
	// RegionAllocator cannot fit the requested region.
	ErrOutOfAddressSpace = &kernel.Error{Module: "vmm", Message: "not enough logical address space left for region"}

	// ErrRegionNotFound is returned when releasing an address that is not
	// the base of an allocated region.
	ErrRegionNotFound = &kernel.Error{Module: "vmm", Message: "address is not the base of an allocated region"}

	errUnalignedRange     = &kernel.Error{Module: "vmm", Message: "region allocator range must be page-aligned"}
	errRangeTooSmall      = &kernel.Error{Module: "vmm", Message: "region allocator range must span at least two pages"}
	errRangeReserved      = &kernel.Error{Module: "vmm", Message: "region allocator range overlaps the reserved directory window"}
	errRangeShared        = &kernel.Error{Module: "vmm", Message: "region allocator range overlaps the identity-mapped shared region"}
	errMissingAllocTarget = &kernel.Error{Module: "vmm", Message: "region allocator requires a frame pool and an address space"}
)

// RegionAllocator hands out page-aligned logical ranges from a fixed window
// of an address space without committing any physical memory. Frames are
// only assigned by the page fault handler when a page is first accessed.
//
// The list of allocated regions is stored in the first page of the window,
// which is itself committed on demand the first time a region is recorded.
// Regions are appended after the end of the most recently allocated one.
type RegionAllocator struct {
	base uintptr
	size uintptr

	pool  *pmm.FramePool
	space *AddressSpace

	regionCount uint32
}

// Init sets up the allocator to manage the logical range [base, base+size)
// of space and registers it with space. Pages in the range are backed by
// frames from pool.
func (r *RegionAllocator) Init(base, size uintptr, pool *pmm.FramePool, space *AddressSpace) *kernel.Error {
	switch {
	case pool == nil || space == nil:
		return errMissingAllocTarget
	case base&(mm.PageSize-1) != 0 || size&(mm.PageSize-1) != 0:
		return errUnalignedRange
	case size < 2*mm.PageSize:
		return errRangeTooSmall
	case base >= ReservedWindowStart || size > ReservedWindowStart-base:
		return errRangeReserved
	case base < uintptr(sharedTables)*tableSpan:
		return errRangeShared
	}

	r.base, r.size = base, size
	r.pool, r.space = pool, space
	r.regionCount = 0

	space.RegisterRegionAllocator(r)
	return nil
}

// Base returns the first address of the managed range.
func (r *RegionAllocator) Base() uintptr { return r.base }

// Size returns the size in bytes of the managed range.
func (r *RegionAllocator) Size() uintptr { return r.size }

// RegionCount returns the number of currently allocated regions.
func (r *RegionAllocator) RegionCount() uint32 { return r.regionCount }

// Allocate reserves a region of at least size bytes and returns its base
// address. The size is rounded up to a multiple of mm.PageSize. No frames
// are allocated until the region is accessed.
func (r *RegionAllocator) Allocate(size uintptr) (uintptr, *kernel.Error) {
	if size == 0 {
		return 0, ErrZeroSize
	}

	if r.regionCount == maxRegions {
		return 0, ErrRegionListFull
	}

	if size > r.size {
		return 0, ErrOutOfAddressSpace
	}

	size = (size + mm.PageSize - 1) &^ (mm.PageSize - 1)
	next := r.base + mm.PageSize
	if r.regionCount != 0 {
		last := r.regionAt(r.regionCount - 1)
		next = last.base + last.size
	}

	if size > r.base+r.size-next {
		return 0, ErrOutOfAddressSpace
	}

	entry := r.regionAt(r.regionCount)
	entry.base, entry.size = next, size
	r.regionCount++

	kfmt.Printf("[vmm] allocated region [0x%8x - 0x%8x]\n", next, next+size-1)
	return next, nil
}

// Release frees the region starting at base. Every page of the region that
// has been accessed is unmapped and its frame returned to the frame pool.
// The remaining regions are shifted down to fill the freed list entry.
func (r *RegionAllocator) Release(base uintptr) *kernel.Error {
	index := uint32(0)
	for ; index < r.regionCount; index++ {
		if r.regionAt(index).base == base {
			break
		}
	}

	if index == r.regionCount {
		return ErrRegionNotFound
	}

	reg := *r.regionAt(index)
	for addr := reg.base; addr < reg.base+reg.size; addr += mm.PageSize {
		if err := r.space.FreePage(addr); err != nil && err != ErrInvalidMapping {
			return err
		}
	}

	for ; index < r.regionCount-1; index++ {
		*r.regionAt(index) = *r.regionAt(index + 1)
	}
	r.regionCount--

	kfmt.Printf("[vmm] released region [0x%8x - 0x%8x]\n", reg.base, reg.base+reg.size-1)
	return nil
}

// IsLegitimate returns true if addr lies in the bookkeeping page or in one
// of the allocated regions.
func (r *RegionAllocator) IsLegitimate(addr uintptr) bool {
	if addr >= r.base && addr-r.base < mm.PageSize {
		return true
	}

	for i := uint32(0); i < r.regionCount; i++ {
		reg := r.regionAt(i)
		if addr >= reg.base && addr-reg.base < reg.size {
			return true
		}
	}

	return false
}

// regionAt returns a pointer to entry index of the region list. Accessing
// the list for the first time faults in the bookkeeping page.
func (r *RegionAllocator) regionAt(index uint32) *region {
	return (*region)(ptrFn(r.base + uintptr(index)*unsafe.Sizeof(region{})))
}
