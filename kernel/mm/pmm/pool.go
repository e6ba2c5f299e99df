// Package pmm implements the physical memory manager: pools of physically
// contiguous frames whose allocation state is tracked in a bitmap.
package pmm

import (
	"simpleos/kernel"
	"simpleos/kernel/kfmt"
	"simpleos/kernel/mm"
	"simpleos/kernel/sync"
)

// framesPerInfoFrame is the number of frame states that fit in a single
// bitmap frame.
const framesPerInfoFrame = uint32(mm.PageSize) * statesPerByte

var (
	// ErrOutOfFrames is returned when a pool has fewer free frames than
	// requested.
	ErrOutOfFrames = &kernel.Error{Module: "pmm", Message: "not enough free frames in pool"}

	// ErrNoContiguousRange is returned when a pool has enough free frames
	// but no run of free frames is long enough.
	ErrNoContiguousRange = &kernel.Error{Module: "pmm", Message: "no contiguous range of free frames is large enough"}

	// ErrInvalidFrameCount is returned when requesting zero frames.
	ErrInvalidFrameCount = &kernel.Error{Module: "pmm", Message: "frame count must be greater than zero"}

	// ErrUnknownFrame is returned when releasing a frame that does not
	// belong to any registered pool.
	ErrUnknownFrame = &kernel.Error{Module: "pmm", Message: "frame does not belong to a registered pool"}

	// ErrFrameRange is returned when a frame range extends outside the
	// pool it is applied to.
	ErrFrameRange = &kernel.Error{Module: "pmm", Message: "frame range is outside the pool"}

	errZeroSizedPool       = &kernel.Error{Module: "pmm", Message: "frame pool must contain at least one frame"}
	errTooFewInfoFrames    = &kernel.Error{Module: "pmm", Message: "info frame count is too small for the pool bitmap"}
	errBitmapExceedsPool   = &kernel.Error{Module: "pmm", Message: "pool is too small to hold its own bitmap"}
	errPoolOverlap         = &kernel.Error{Module: "pmm", Message: "frame pool overlaps a registered pool"}
	errReleaseNonHeadFrame = &kernel.Error{Module: "pmm", Message: "released frame is not the head of an allocated run"}
)

// NeededInfoFrames returns the number of frames required to hold the state
// bitmap of a pool with frameCount frames.
func NeededInfoFrames(frameCount uint32) uint32 {
	return (frameCount + framesPerInfoFrame - 1) / framesPerInfoFrame
}

// FramePool allocates physically contiguous runs of frames from the range
// [BaseFrame(), BaseFrame()+FrameCount()).
type FramePool struct {
	lock sync.IRQSpinlock

	reg  *Registry
	next *FramePool

	baseFrame  mm.Frame
	frameCount uint32
	freeCount  uint32

	// infoFrame is the first frame of the bitmap storage. When the bitmap
	// is stored inside the pool, infoFrame equals baseFrame.
	infoFrame      mm.Frame
	infoFrameCount uint32

	bitmap stateBitmap
}

// Init sets up the pool to manage frameCount frames starting at baseFrame
// and appends it to reg.
//
// If infoFrame is mm.InvalidFrame, the bitmap is stored in the leading
// frames of the pool which are then marked as allocated. Otherwise the
// bitmap is stored at infoFrame, which the caller must have obtained from
// another pool. An infoFrameCount of 0 selects NeededInfoFrames(frameCount).
//
// Init accesses the bitmap through its physical address so it must run
// while paging is disabled or the bitmap frames are identity-mapped.
func (p *FramePool) Init(reg *Registry, baseFrame mm.Frame, frameCount uint32, infoFrame mm.Frame, infoFrameCount uint32) *kernel.Error {
	if frameCount == 0 {
		return errZeroSizedPool
	}

	needed := NeededInfoFrames(frameCount)
	switch {
	case infoFrameCount == 0:
		infoFrameCount = needed
	case infoFrameCount < needed:
		return errTooFewInfoFrames
	}

	internal := !infoFrame.Valid()
	if internal {
		if infoFrameCount >= frameCount {
			return errBitmapExceedsPool
		}
		infoFrame = baseFrame
	}

	if reg != nil && reg.overlaps(baseFrame, frameCount) {
		return errPoolOverlap
	}

	p.baseFrame = baseFrame
	p.frameCount = frameCount
	p.freeCount = frameCount
	p.infoFrame = infoFrame
	p.infoFrameCount = infoFrameCount
	p.bitmap.bits = kernel.Overlay(infoFrame.Address(), uintptr(infoFrameCount)<<mm.PageShift)
	kernel.Memset(infoFrame.Address(), 0xFF, uintptr(infoFrameCount)<<mm.PageShift)

	if internal {
		for i := uint32(0); i < infoFrameCount; i++ {
			p.bitmap.set(i, Allocated)
		}
		p.freeCount -= infoFrameCount
	}

	if reg != nil {
		reg.register(p)
	}

	kfmt.Printf("[pmm] frame pool [0x%8x - 0x%8x], %d frames (%d free), bitmap at 0x%8x\n",
		baseFrame.Address(),
		(baseFrame + mm.Frame(frameCount)).Address()-1,
		frameCount,
		p.freeCount,
		infoFrame.Address(),
	)

	return nil
}

// BaseFrame returns the first frame managed by the pool.
func (p *FramePool) BaseFrame() mm.Frame { return p.baseFrame }

// FrameCount returns the number of frames managed by the pool.
func (p *FramePool) FrameCount() uint32 { return p.frameCount }

// FreeCount returns the number of frames that can currently be allocated.
func (p *FramePool) FreeCount() uint32 { return p.freeCount }

// Contains returns true if frame is managed by this pool.
func (p *FramePool) Contains(frame mm.Frame) bool {
	return frame >= p.baseFrame && frame-p.baseFrame < mm.Frame(p.frameCount)
}

// PoolFor returns the pool that ReleaseFrames would return frame to or nil
// if no pool known to p manages it.
func (p *FramePool) PoolFor(frame mm.Frame) *FramePool {
	if p.reg != nil {
		return p.reg.PoolFor(frame)
	}

	if !p.Contains(frame) {
		return nil
	}

	return p
}

// State returns the allocation state of frame. Frames outside the pool are
// reported as Inaccessible.
func (p *FramePool) State(frame mm.Frame) FrameState {
	if !p.Contains(frame) {
		return Inaccessible
	}

	p.lock.Acquire()
	state := p.bitmap.get(uint32(frame - p.baseFrame))
	p.lock.Release()
	return state
}

// AllocFrames reserves a run of count contiguous frames and returns the
// first one. The first frame of the run is marked Head and the rest
// Allocated so ReleaseFrames can later free the whole run given only its
// first frame.
//
// On failure AllocFrames returns mm.InvalidFrame and leaves the pool
// unchanged.
func (p *FramePool) AllocFrames(count uint32) (mm.Frame, *kernel.Error) {
	if count == 0 {
		return mm.InvalidFrame, ErrInvalidFrameCount
	}

	p.lock.Acquire()
	defer p.lock.Release()

	if count > p.freeCount {
		return mm.InvalidFrame, ErrOutOfFrames
	}

	for start := uint32(0); start+count <= p.frameCount; {
		runLen := uint32(0)
		for runLen < count && p.bitmap.get(start+runLen) == Free {
			runLen++
		}

		if runLen < count {
			// Frames start..start+runLen cannot begin a long enough
			// run either; resume after the frame that broke this one.
			start += runLen + 1
			continue
		}

		p.bitmap.set(start, Head)
		for i := start + 1; i < start+count; i++ {
			p.bitmap.set(i, Allocated)
		}
		p.freeCount -= count

		return p.baseFrame + mm.Frame(start), nil
	}

	return mm.InvalidFrame, ErrNoContiguousRange
}

// MarkInaccessible flags count frames starting at baseFrame as permanently
// unavailable. It should be invoked during memory bring-up before any
// allocations are served from the affected range.
func (p *FramePool) MarkInaccessible(baseFrame mm.Frame, count uint32) *kernel.Error {
	if !p.Contains(baseFrame) || count > p.frameCount-uint32(baseFrame-p.baseFrame) {
		return ErrFrameRange
	}

	p.lock.Acquire()
	for i, index := uint32(0), uint32(baseFrame-p.baseFrame); i < count; i, index = i+1, index+1 {
		if p.bitmap.get(index) == Free {
			p.freeCount--
		}
		p.bitmap.set(index, Inaccessible)
	}
	p.lock.Release()

	return nil
}

// ReleaseFrames returns the run starting at frame to the pool that owns
// it. The owning pool is looked up in the registry the pool was initialized
// with, so frame need not belong to p.
func (p *FramePool) ReleaseFrames(frame mm.Frame) *kernel.Error {
	if p.reg != nil {
		return p.reg.ReleaseFrames(frame)
	}

	if !p.Contains(frame) {
		return ErrUnknownFrame
	}

	p.release(frame)
	return nil
}

// release frees the run starting at frame. Releasing a frame that is not
// the head of a run is a caller bug and halts the kernel.
func (p *FramePool) release(frame mm.Frame) {
	index := uint32(frame - p.baseFrame)

	p.lock.Acquire()
	if p.bitmap.get(index) != Head {
		p.lock.Release()
		panic(errReleaseNonHeadFrame)
	}

	p.bitmap.set(index, Free)
	p.freeCount++

	for index++; index < p.frameCount && p.bitmap.get(index) == Allocated; index++ {
		p.bitmap.set(index, Free)
		p.freeCount++
	}
	p.lock.Release()
}
