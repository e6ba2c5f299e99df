package vmm

import (
	"simpleos/kernel/cpu"
	"simpleos/kernel/gate"
	"simpleos/kernel/mm"
	"simpleos/kernel/mm/pmm"
	"testing"
	"unsafe"
)

const (
	// Frame ranges of the emulated pools: the kernel pool covers 2-4Mb and
	// the process pool 4-8Mb.
	testKernelPoolBase  = mm.Frame(512)
	testKernelPoolSize  = 512
	testProcessPoolBase = mm.Frame(1024)
	testProcessPoolSize = 1024
)

// testMachine emulates the physical memory and the MMU of a 32-bit x86
// machine. Physical frames are backed by Go buffers that are allocated the
// first time they are accessed. Once paging is enabled, addresses are
// translated by walking the directory loaded in CR3; missing translations
// raise a page fault through the gate package just like the CPU would.
type testMachine struct {
	frames map[mm.Frame]*[mm.PageSize / 8]uint64

	cr0, cr2, cr3 uintptr

	faults     int
	cr3Loads   int
	tlbFlushes int

	registry    pmm.Registry
	kernelPool  pmm.FramePool
	processPool pmm.FramePool

	// bitmapBuffers back the pool bitmaps which pmm accesses directly.
	bitmapBuffers [][]byte

	origPtrFn func(uintptr) unsafe.Pointer
}

// newTestMachine installs the emulated MMU, sets up the kernel and process
// pools and runs Init with a 4Mb shared region. Tests must defer a call to
// restore.
func newTestMachine(t *testing.T) *testMachine {
	m := &testMachine{
		frames:    make(map[mm.Frame]*[mm.PageSize / 8]uint64),
		origPtrFn: ptrFn,
	}

	ptrFn = m.ptr
	switchPDTFn = func(pdtAddr uintptr) {
		m.cr3 = pdtAddr
		m.cr3Loads++
	}
	flushTLBEntryFn = func(_ uintptr) { m.tlbFlushes++ }
	readCR0Fn = func() uintptr { return m.cr0 }
	writeCR0Fn = func(v uintptr) { m.cr0 = v }
	readCR2Fn = func() uintptr { return m.cr2 }
	handleInterruptFn = gate.HandleInterrupt
	resetPackageState()

	m.initPool(t, &m.kernelPool, testKernelPoolBase, testKernelPoolSize)
	m.initPool(t, &m.processPool, testProcessPoolBase, testProcessPoolSize)

	if err := Init(&m.kernelPool, &m.processPool, uintptr(4*mm.Mb)); err != nil {
		t.Fatal(err)
	}

	return m
}

func (m *testMachine) restore() {
	ptrFn = m.origPtrFn
	switchPDTFn = cpu.SwitchPDT
	flushTLBEntryFn = cpu.FlushTLBEntry
	readCR0Fn = cpu.ReadCR0
	writeCR0Fn = cpu.WriteCR0
	readCR2Fn = cpu.ReadCR2
	handleInterruptFn = gate.HandleInterrupt
	gate.HandleInterrupt(gate.PageFaultException, nil)
	gate.HandleInterrupt(gate.GPFException, nil)
	resetPackageState()
}

func resetPackageState() {
	kernelPool, processPool, sharedTables = nil, nil, 0
	activeSpace, pagingEnabled = nil, false
}

// initPool sets up a pool of emulated frames whose bitmap lives in Go
// memory.
func (m *testMachine) initPool(t *testing.T, p *pmm.FramePool, base mm.Frame, count uint32) {
	buf := make([]byte, uintptr(pmm.NeededInfoFrames(count)+1)*mm.PageSize)
	m.bitmapBuffers = append(m.bitmapBuffers, buf)
	infoFrame := mm.FrameFromAddress(uintptr(unsafe.Pointer(&buf[0])) + mm.PageSize - 1)

	if err := p.Init(&m.registry, base, count, infoFrame, 0); err != nil {
		t.Fatal(err)
	}
}

// phys returns a pointer to the emulated physical memory at physAddr.
func (m *testMachine) phys(physAddr uintptr) unsafe.Pointer {
	frame := mm.FrameFromAddress(physAddr)
	buf, ok := m.frames[frame]
	if !ok {
		buf = new([mm.PageSize / 8]uint64)
		m.frames[frame] = buf
	}

	return unsafe.Pointer(uintptr(unsafe.Pointer(buf)) + (physAddr & (mm.PageSize - 1)))
}

// table returns the emulated directory or table stored in frame.
func (m *testMachine) table(frame mm.Frame) *[entriesPerTable]pageTableEntry {
	return (*[entriesPerTable]pageTableEntry)(m.phys(frame.Address()))
}

// translate walks the directory loaded in CR3 like the MMU does.
func (m *testMachine) translate(virtAddr uintptr) (uintptr, bool) {
	dirIndex, tableIndex := splitAddress(virtAddr)

	pde := m.table(mm.FrameFromAddress(m.cr3))[dirIndex]
	if !pde.HasFlags(FlagPresent) {
		return 0, false
	}

	pte := m.table(pde.Frame())[tableIndex]
	if !pte.HasFlags(FlagPresent) {
		return 0, false
	}

	return pte.Frame().Address() + (virtAddr & (mm.PageSize - 1)), true
}

// ptr implements ptrFn for the emulated machine.
func (m *testMachine) ptr(addr uintptr) unsafe.Pointer {
	if !pagingEnabled {
		return m.phys(addr)
	}

	for attempt := 0; ; attempt++ {
		if physAddr, ok := m.translate(addr); ok {
			return m.phys(physAddr)
		}

		if attempt != 0 {
			panic("page fault handler returned without mapping the faulting page")
		}

		m.cr2 = addr
		m.faults++
		if !gate.Dispatch(gate.PageFaultException, &gate.Registers{Info: faultWrite}) {
			panic("no page fault handler installed")
		}
	}
}

func (m *testMachine) write(virtAddr uintptr, value uint32) {
	*(*uint32)(m.ptr(virtAddr)) = value
}

func (m *testMachine) read(virtAddr uintptr) uint32 {
	return *(*uint32)(m.ptr(virtAddr))
}

// activate creates an address space, loads it and enables paging.
func (m *testMachine) activate(t *testing.T) *AddressSpace {
	as := new(AddressSpace)
	if err := as.Init(); err != nil {
		t.Fatal(err)
	}

	as.Load()
	EnablePaging()
	return as
}
