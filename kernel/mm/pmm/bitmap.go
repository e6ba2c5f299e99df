package pmm

// FrameState describes the allocation state of a single frame in a pool.
type FrameState uint8

// The frame states use the 2-bit encoding stored in the pool bitmap. A
// bitmap filled with 0xFF marks every frame as Free.
const (
	// Allocated marks a frame that belongs to an allocated run but is not
	// its first frame.
	Allocated FrameState = iota

	// Inaccessible marks a frame that must never be handed out.
	Inaccessible

	// Head marks the first frame of an allocated run.
	Head

	// Free marks a frame that can be allocated.
	Free
)

var frameStateNames = [...]string{"allocated", "inaccessible", "head", "free"}

// String implements fmt.Stringer for FrameState.
func (s FrameState) String() string {
	return frameStateNames[s&3]
}

const (
	bitsPerFrameState = 2
	statesPerByte     = 8 / bitsPerFrameState
	stateMask         = (1 << bitsPerFrameState) - 1
)

// stateBitmap packs one FrameState per frame, four states per byte with the
// state of the lowest-numbered frame in the most significant bits.
type stateBitmap struct {
	bits []byte
}

func (b stateBitmap) get(index uint32) FrameState {
	return FrameState(b.bits[index/statesPerByte]>>b.shift(index)) & stateMask
}

func (b stateBitmap) set(index uint32, state FrameState) {
	shift := b.shift(index)
	cell := &b.bits[index/statesPerByte]
	*cell = (*cell &^ (stateMask << shift)) | byte(state)<<shift
}

func (stateBitmap) shift(index uint32) uint {
	return uint(statesPerByte-1-index%statesPerByte) * bitsPerFrameState
}
