package kernel

import (
	"testing"
	"unsafe"
)

func TestMemset(t *testing.T) {
	// memset with a 0 size should be a no-op
	Memset(uintptr(0), 0x00, 0)

	for _, size := range []int{1, 3, 4096, 4097, 3 * 4096} {
		buf := make([]byte, size+2)
		for i := range buf {
			buf[i] = 0xFE
		}

		Memset(uintptr(unsafe.Pointer(&buf[1])), 0x5A, uintptr(size))

		if buf[0] != 0xFE || buf[len(buf)-1] != 0xFE {
			t.Errorf("[size %d] Memset wrote outside the requested block", size)
		}

		for i := 1; i <= size; i++ {
			if got := buf[i]; got != 0x5A {
				t.Errorf("[size %d] expected byte %d to be 0x5a; got 0x%x", size, i, got)
				break
			}
		}
	}
}

func TestOverlay(t *testing.T) {
	buf := []byte{1, 2, 3, 4}

	view := Overlay(uintptr(unsafe.Pointer(&buf[1])), 2)
	if len(view) != 2 || cap(view) != 2 {
		t.Fatalf("expected overlay with len and cap 2; got len %d, cap %d", len(view), cap(view))
	}

	view[0], view[1] = 20, 30
	if buf[1] != 20 || buf[2] != 30 {
		t.Fatalf("expected writes through the overlay to reach the backing buffer; got %v", buf)
	}
}
