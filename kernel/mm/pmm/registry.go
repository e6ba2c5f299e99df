package pmm

import (
	"simpleos/kernel"
	"simpleos/kernel/mm"
)

// Registry chains the frame pools of the system so that frames can be
// released without naming the pool they came from. Pools are appended by
// FramePool.Init and are never removed.
type Registry struct {
	head, tail *FramePool
}

func (r *Registry) register(p *FramePool) {
	p.reg = r
	p.next = nil

	if r.tail == nil {
		r.head = p
	} else {
		r.tail.next = p
	}
	r.tail = p
}

func (r *Registry) overlaps(baseFrame mm.Frame, frameCount uint32) bool {
	endFrame := baseFrame + mm.Frame(frameCount)
	for p := r.head; p != nil; p = p.next {
		if baseFrame < p.baseFrame+mm.Frame(p.frameCount) && p.baseFrame < endFrame {
			return true
		}
	}

	return false
}

// PoolFor returns the registered pool that manages frame or nil.
func (r *Registry) PoolFor(frame mm.Frame) *FramePool {
	for p := r.head; p != nil; p = p.next {
		if p.Contains(frame) {
			return p
		}
	}

	return nil
}

// FreeCount returns the number of free frames across all registered pools.
func (r *Registry) FreeCount() uint32 {
	var total uint32
	for p := r.head; p != nil; p = p.next {
		total += p.FreeCount()
	}

	return total
}

// ReleaseFrames returns the run starting at frame to its owning pool. The
// frame must be the head of a run returned by AllocFrames; releasing any
// other frame halts the kernel.
func (r *Registry) ReleaseFrames(frame mm.Frame) *kernel.Error {
	p := r.PoolFor(frame)
	if p == nil {
		return ErrUnknownFrame
	}

	p.release(frame)
	return nil
}
