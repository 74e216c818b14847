// Package guest provides helpers for plugins compiled to WebAssembly.
package guest

import (
	"sync"
	"unsafe"
)

var (
	allocMu sync.Mutex
	live    = make(map[uint32][]byte)
)

// Alloc allocates n bytes that stay reachable until Free is called and returns their
// address in linear memory. Plugins export it as "Alloc".
func Alloc(n uint32) uint32 {
	if n == 0 {
		n = 1
	}
	buf := make([]byte, n)
	//nolint:gosec // linear memory addresses fit in 32 bits.
	ptr := uint32(uintptr(unsafe.Pointer(&buf[0])))

	allocMu.Lock()
	live[ptr] = buf
	allocMu.Unlock()

	return ptr
}

// Free releases memory returned by Alloc. Plugins export it as "Free".
func Free(ptr uint32) {
	allocMu.Lock()
	delete(live, ptr)
	allocMu.Unlock()
}

// ResetAllocator releases every outstanding allocation.
func ResetAllocator() {
	allocMu.Lock()
	live = make(map[uint32][]byte)
	allocMu.Unlock()
}

// Live returns the number of outstanding allocations.
func Live() int {
	allocMu.Lock()
	defer allocMu.Unlock()

	return len(live)
}
