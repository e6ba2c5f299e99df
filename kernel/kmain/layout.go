package kmain

import (
	"simpleos/kernel"
	"simpleos/kernel/mm"
	"simpleos/kernel/mm/vmm"
)

const (
	// maxRegionLayouts is the number of RegionAllocators that Init can
	// set up.
	maxRegionLayouts = 8

	// vmmTableSpan is the size of the logical range mapped by a single
	// page table. The shared region is rounded up to a multiple of it.
	vmmTableSpan = uintptr(4 * mm.Mb)
)

// RegionLayout describes a logical range managed by a RegionAllocator.
type RegionLayout struct {
	Name string
	Base uintptr
	Size uintptr
}

// Layout describes the memory map used to bring up the memory manager.
type Layout struct {
	// KernelPoolBase and KernelPoolFrames define the pool that supplies
	// page directories, page tables and the bitmap of the process pool.
	// The pool stores its own bitmap and must be identity-mapped by the
	// shared region.
	KernelPoolBase   mm.Frame
	KernelPoolFrames uint32

	// ProcessPoolBase and ProcessPoolFrames define the pool that backs
	// faulting pages.
	ProcessPoolBase   mm.Frame
	ProcessPoolFrames uint32

	// HoleBase and HoleFrames define a range of the process pool that is
	// reserved by the hardware and must never be allocated.
	HoleBase   mm.Frame
	HoleFrames uint32

	// SharedSize is the size of the physical range, starting at address
	// 0, that is identity-mapped into every address space.
	SharedSize uintptr

	// Regions lists the logical ranges handed out by RegionAllocators in
	// the kernel address space.
	Regions []RegionLayout
}

// DefaultLayout describes a machine with 32Mb of RAM: the kernel pool
// covers 2-4Mb, the process pool 4-32Mb with 15-16Mb reserved, and code and
// heap regions of 256Mb live at 512Mb and 1Gb respectively.
var DefaultLayout = Layout{
	KernelPoolBase:    mm.FrameFromAddress(uintptr(2 * mm.Mb)),
	KernelPoolFrames:  (2 * mm.Mb).Pages(),
	ProcessPoolBase:   mm.FrameFromAddress(uintptr(4 * mm.Mb)),
	ProcessPoolFrames: (28 * mm.Mb).Pages(),
	HoleBase:          mm.FrameFromAddress(uintptr(15 * mm.Mb)),
	HoleFrames:        (1 * mm.Mb).Pages(),
	SharedSize:        uintptr(4 * mm.Mb),
	Regions: []RegionLayout{
		{Name: "code", Base: uintptr(512 * mm.Mb), Size: uintptr(256 * mm.Mb)},
		{Name: "heap", Base: uintptr(1 * mm.Gb), Size: uintptr(256 * mm.Mb)},
	},
}

var (
	errEmptyPool          = &kernel.Error{Module: "kmain", Message: "frame pools must contain at least one frame"}
	errPoolOverlap        = &kernel.Error{Module: "kmain", Message: "kernel and process pools overlap"}
	errKernelPoolUnmapped = &kernel.Error{Module: "kmain", Message: "kernel pool must lie inside the shared region"}
	errHoleOutsidePool    = &kernel.Error{Module: "kmain", Message: "reserved hole must lie inside the process pool"}
	errSharedSize         = &kernel.Error{Module: "kmain", Message: "shared region size is out of range"}
	errTooManyRegions     = &kernel.Error{Module: "kmain", Message: "too many region layouts"}
	errRegionAlignment    = &kernel.Error{Module: "kmain", Message: "region base and size must be page-aligned and span at least two pages"}
	errRegionPlacement    = &kernel.Error{Module: "kmain", Message: "region must lie between the shared region and the reserved directory window"}
	errRegionOverlap      = &kernel.Error{Module: "kmain", Message: "regions overlap"}
)

// Validate checks that the layout can be used to bring up the memory
// manager.
func (l *Layout) Validate() *kernel.Error {
	kernelEnd := l.KernelPoolBase + mm.Frame(l.KernelPoolFrames)
	processEnd := l.ProcessPoolBase + mm.Frame(l.ProcessPoolFrames)
	sharedEnd := (l.SharedSize + vmmTableSpan - 1) &^ (vmmTableSpan - 1)

	switch {
	case l.KernelPoolFrames == 0 || l.ProcessPoolFrames == 0:
		return errEmptyPool
	case l.KernelPoolBase < processEnd && l.ProcessPoolBase < kernelEnd:
		return errPoolOverlap
	case l.SharedSize == 0 || l.SharedSize >= vmm.ReservedWindowStart:
		return errSharedSize
	case kernelEnd.Address() > sharedEnd:
		return errKernelPoolUnmapped
	case l.HoleFrames != 0 && (l.HoleBase < l.ProcessPoolBase || l.HoleBase+mm.Frame(l.HoleFrames) > processEnd):
		return errHoleOutsidePool
	case len(l.Regions) > maxRegionLayouts:
		return errTooManyRegions
	}

	for i, region := range l.Regions {
		switch {
		case region.Base&(mm.PageSize-1) != 0 || region.Size&(mm.PageSize-1) != 0 || region.Size < 2*mm.PageSize:
			return errRegionAlignment
		case region.Base < sharedEnd || region.Base >= vmm.ReservedWindowStart || region.Size > vmm.ReservedWindowStart-region.Base:
			return errRegionPlacement
		}

		for _, other := range l.Regions[:i] {
			if region.Base < other.Base+other.Size && other.Base < region.Base+region.Size {
				return errRegionOverlap
			}
		}
	}

	return nil
}
