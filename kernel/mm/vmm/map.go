package vmm

import (
	"simpleos/kernel"
	"simpleos/kernel/mm"
	"simpleos/kernel/sync"
)

// Map establishes a mapping between a logical page and a physical frame
// using the supplied flags. If the directory slot for the page is not
// present, a zeroed table is allocated from the kernel frame pool. Pages in
// the reserved directory window cannot be mapped.
func (as *AddressSpace) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	if page.Address() >= ReservedWindowStart {
		return errReservedAddress
	}

	if err := as.reachable(); err != nil {
		return err
	}

	sync.MaskInterrupts()
	err := as.mapPage(page, frame, flags)
	sync.UnmaskInterrupts()

	return err
}

// mapPage installs the entry for page, creating its table if required.
func (as *AddressSpace) mapPage(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	dirIndex, tableIndex := splitAddress(page.Address())
	if err := as.ensureTable(dirIndex); err != nil {
		return err
	}

	entryAt(as.tableAddr(dirIndex), tableIndex).set(frame, flags)
	if pagingEnabled {
		flushTLBEntryFn(page.Address())
	}

	return nil
}

// ensureTable makes sure that directory slot dirIndex points to a page
// table, allocating and clearing a new one from the kernel pool if needed.
func (as *AddressSpace) ensureTable(dirIndex uint32) *kernel.Error {
	pde := entryAt(as.directoryAddr(), dirIndex)
	if pde.HasFlags(FlagPresent) {
		if pde.HasFlags(FlagHugePage) {
			return errHugePageUnsupported
		}
		return nil
	}

	tableFrame, err := kernelPool.AllocFrames(1)
	if err != nil {
		return err
	}

	pde.set(tableFrame, FlagPresent|FlagRW)
	tableAddr := as.tableAddr(dirIndex)
	if pagingEnabled {
		flushTLBEntryFn(tableAddr)
	}
	kernel.Memset(uintptr(ptrFn(tableAddr)), 0, mm.PageSize)

	return nil
}

// MapTemporary maps frame at a reserved logical page of the active address
// space so that its contents can be edited after paging has been enabled.
// Each call replaces the previous temporary mapping.
func MapTemporary(frame mm.Frame) (mm.Page, *kernel.Error) {
	if activeSpace == nil || !pagingEnabled {
		return 0, ErrAddressSpaceInactive
	}

	page := mm.PageFromAddress(tempMappingAddr)
	if err := activeSpace.mapPage(page, frame, FlagPresent|FlagRW); err != nil {
		return 0, err
	}

	return page, nil
}

// unmapTemporary removes the mapping established by MapTemporary.
func unmapTemporary() {
	dirIndex, tableIndex := splitAddress(tempMappingAddr)
	*entryAt(activeSpace.tableAddr(dirIndex), tableIndex) = 0
	flushTLBEntryFn(tempMappingAddr)
}

// mapFrame returns an address through which the contents of frame can be
// accessed. Before paging is enabled this is the physical address of the
// frame; afterwards the frame is mapped at the temporary mapping page and
// must be released with unmapFrame.
func mapFrame(frame mm.Frame) (uintptr, *kernel.Error) {
	if !pagingEnabled {
		return frame.Address(), nil
	}

	page, err := MapTemporary(frame)
	if err != nil {
		return 0, err
	}

	return page.Address(), nil
}

func unmapFrame() {
	if pagingEnabled {
		unmapTemporary()
	}
}
