package vmm

import "simpleos/kernel/mm"

const (
	// entriesPerTable is the number of entries in the page directory and
	// in each page table.
	entriesPerTable = 1024

	// entryShift is equal to log2 of the size of a page table entry.
	entryShift = 2

	// directoryShift and tableShift select the directory and table index
	// bits of a logical address. Each index is 10 bits wide.
	directoryShift = 22
	tableShift     = 12
	indexMask      = entriesPerTable - 1

	// tableSpan is the size of the logical range mapped by one page table.
	tableSpan = uintptr(entriesPerTable) << mm.PageShift

	// selfMapSlot is the directory slot that points back to the directory
	// frame. Once an address space is active, this makes the directory
	// reachable at directoryWindowAddr and the table for directory slot i
	// at tableWindowAddr + i*mm.PageSize.
	selfMapSlot = entriesPerTable - 1

	directoryWindowAddr = uintptr(0xFFFFF000)
	tableWindowAddr     = uintptr(0xFFC00000)

	// tempMappingSlot is the directory slot whose table holds the
	// temporary mapping entry. tempMappingAddr uses table index 1023 of
	// that slot.
	tempMappingSlot = selfMapSlot - 1
	tempMappingAddr = uintptr(0xFFBFF000)

	// ReservedWindowStart is the first logical address that may not be
	// handed out by a RegionAllocator. The range from here to the end of
	// the address space holds the temporary mapping table and the
	// recursive directory window.
	ReservedWindowStart = uintptr(tempMappingSlot) << directoryShift

	// ptePhysPageMask extracts the frame address from a page table entry.
	ptePhysPageMask = uint32(0xFFFFF000)

	// cr0PagingBit is the CR0.PG flag.
	cr0PagingBit = uintptr(1 << 31)
)

// splitAddress returns the directory and table indices for virtAddr.
func splitAddress(virtAddr uintptr) (dirIndex, tableIndex uint32) {
	return uint32(virtAddr>>directoryShift) & indexMask, uint32(virtAddr>>tableShift) & indexMask
}
