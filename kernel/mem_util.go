package kernel

import (
	"reflect"
	"unsafe"
)

// Memset sets size bytes starting at addr to value. It seeds the first byte
// and then doubles the initialized prefix with log2(size) calls to copy.
func Memset(addr uintptr, value byte, size uintptr) {
	if size == 0 {
		return
	}

	target := Overlay(addr, size)
	target[0] = value
	for filled := uintptr(1); filled < size; filled *= 2 {
		copy(target[filled:], target[:filled])
	}
}

// Overlay returns a byte slice backed by the size bytes of memory starting at
// addr. The caller must ensure that the region is mapped for as long as the
// slice is in use.
func Overlay(addr, size uintptr) []byte {
	return *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(size),
		Cap:  int(size),
		Data: addr,
	}))
}
