// Package memwin manages the raw fixed-size memory regions that back the
// comm layer's send buffers. A Window is a contiguous scratch region with
// an explicit construct/destroy lifecycle; destroying and re-creating a
// window of the same size returns the memory to the OS and starts over
// with a fresh region.
package memwin

import (
	"fmt"
	"unsafe"
)

// A Window is one fixed-size scratch region.
type Window struct {
	mem  []byte
	size uint64
}

// New maps a fresh window of the given size. The size must be a positive
// multiple of 8 bytes so that the region can be viewed as wire units.
func New(size uint64) (*Window, error) {
	if size == 0 || size%8 != 0 {
		return nil, fmt.Errorf("window size %d is not a positive multiple of 8", size)
	}

	mem, err := mapRegion(size)
	if err != nil {
		return nil, fmt.Errorf("unable to map send window of size %d: %w", size, err)
	}

	return &Window{mem: mem, size: size}, nil
}

// Size returns the window size in bytes.
func (w *Window) Size() uint64 {
	return w.size
}

// Bytes returns the full region. The slice is invalidated by Destroy.
func (w *Window) Bytes() []byte {
	return w.mem
}

// Units returns the region viewed as 8-byte wire units. The slice aliases
// Bytes and is invalidated by Destroy.
func (w *Window) Units() []uint64 {
	return unsafe.Slice((*uint64)(unsafe.Pointer(&w.mem[0])), w.size/8)
}

// Destroy releases the region. The window must not be used afterwards.
func (w *Window) Destroy() error {
	if w.mem == nil {
		return nil
	}

	err := unmapRegion(w.mem)
	w.mem = nil

	return err
}
