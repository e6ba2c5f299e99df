// Package mm contains the types shared by the physical and virtual memory
// managers.
package mm

const (
	// PageShift is equal to log2(PageSize). Shifting a physical address
	// right by PageShift yields its frame number and vice-versa.
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)
)

// Size represents a memory block size in bytes.
type Size uint64

// Common memory block sizes.
const (
	Byte Size = 1
	Kb        = 1024 * Byte
	Mb        = 1024 * Kb
	Gb        = 1024 * Mb
)

// Pages returns the number of pages needed to hold s bytes.
func (s Size) Pages() uint32 {
	return uint32((uint64(s) + uint64(PageSize) - 1) >> PageShift)
}
