//go:build unix

package memwin

import "syscall"

// mapRegion acquires an anonymous private mapping. The mapping is
// page-aligned, which also satisfies the 8-byte alignment Units needs.
func mapRegion(size uint64) ([]byte, error) {
	return syscall.Mmap(
		-1, 0, int(size),
		syscall.PROT_READ|syscall.PROT_WRITE,
		syscall.MAP_ANON|syscall.MAP_PRIVATE,
	)
}

func unmapRegion(mem []byte) error {
	return syscall.Munmap(mem)
}
