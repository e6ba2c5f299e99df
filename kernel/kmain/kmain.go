// Package kmain brings up the memory manager of the kernel.
package kmain

import (
	"simpleos/kernel"
	"simpleos/kernel/kfmt"
	"simpleos/kernel/mm"
	"simpleos/kernel/mm/pmm"
	"simpleos/kernel/mm/vmm"
)

var (
	// Registry chains the frame pools set up by Init.
	Registry pmm.Registry

	// KernelPool supplies frames for page tables and allocator metadata.
	KernelPool pmm.FramePool

	// ProcessPool supplies frames for faulting pages.
	ProcessPool pmm.FramePool

	// KernelSpace is the address space loaded by Init.
	KernelSpace vmm.AddressSpace

	// RegionAllocators holds the allocators described by Layout.Regions.
	RegionAllocators [maxRegionLayouts]vmm.RegionAllocator

	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
)

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. It is invoked by the rt0 assembly code after setting
// up the GDT and a minimal g0 struct that allows Go code to use the stack
// allocated by the assembly code.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain() {
	if err := Init(&DefaultLayout); err != nil {
		panic(err)
	}

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	kfmt.Panic(errKmainReturned)
}

// Init brings up the memory manager using the supplied layout:
//  - the kernel pool is created with an internal bitmap
//  - the process pool is created with its bitmap in kernel pool frames
//  - the reserved hole is marked as inaccessible
//  - the vmm is configured and the kernel address space is loaded
//  - paging is enabled
//  - a RegionAllocator is set up for each region of the layout
func Init(layout *Layout) *kernel.Error {
	if err := layout.Validate(); err != nil {
		return err
	}

	if err := KernelPool.Init(&Registry, layout.KernelPoolBase, layout.KernelPoolFrames, mm.InvalidFrame, 0); err != nil {
		return err
	}

	infoFrames := pmm.NeededInfoFrames(layout.ProcessPoolFrames)
	infoFrame, err := KernelPool.AllocFrames(infoFrames)
	if err != nil {
		return err
	}

	if err = ProcessPool.Init(&Registry, layout.ProcessPoolBase, layout.ProcessPoolFrames, infoFrame, infoFrames); err != nil {
		return err
	}

	if layout.HoleFrames != 0 {
		if err = ProcessPool.MarkInaccessible(layout.HoleBase, layout.HoleFrames); err != nil {
			return err
		}
	}

	if err = vmm.Init(&KernelPool, &ProcessPool, layout.SharedSize); err != nil {
		return err
	}

	if err = KernelSpace.Init(); err != nil {
		return err
	}

	KernelSpace.Load()
	vmm.EnablePaging()

	for i, region := range layout.Regions {
		if err = RegionAllocators[i].Init(region.Base, region.Size, &ProcessPool, &KernelSpace); err != nil {
			return err
		}

		kfmt.Printf("[kmain] %s region: [0x%8x - 0x%8x]\n", region.Name, region.Base, region.Base+region.Size-1)
	}

	kfmt.Printf("[kmain] memory manager ready: %d free frames\n", Registry.FreeCount())
	return nil
}
