//go:build !unix

package memwin

import "unsafe"

// mapRegion falls back to a heap allocation on platforms without mmap.
// Allocating uint64s keeps the region 8-byte aligned for Units.
func mapRegion(size uint64) ([]byte, error) {
	words := make([]uint64, size/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size), nil
}

func unmapRegion(_ []byte) error {
	return nil
}
