package comm

import (
	"encoding/binary"
	"fmt"

	"github.com/vertexlab/ferry/collective"
)

// headerSize is the length prefix written before every payload: an
// 8-byte little-endian unsigned true (unpadded) length.
const headerSize = 8

// paddedLength rounds a byte count up to a multiple of the wire unit.
func paddedLength(n uint64) uint64 {
	return (n + collective.UnitSize - 1) / collective.UnitSize * collective.UnitSize
}

// Send queues data for the destination machine. The destination must be
// a valid rank and the payload must be non-empty; violations panic.
//
// Send writes a length header followed by the payload through the
// lock-free allocator. When the destination's region of the active
// window fills up, Send triggers a flush pass and retries with the
// remainder, so a single logical message may straddle two buffer
// epochs. The receive side's framing reassembles it transparently.
func (c *Comm) Send(dst int, data []byte) {
	if dst < 0 || dst >= c.size {
		panic(fmt.Sprintf("comm: destination %d out of range [0, %d)", dst, c.size))
	}
	if len(data) == 0 {
		panic("comm: zero-length messages are not permitted")
	}

	var hdr [headerSize]byte
	binary.LittleEndian.PutUint64(hdr[:], uint64(len(data)))

	remaining := hdr[:]
	for len(remaining) > 0 {
		sent := c.reserveAndCopy(dst, remaining)
		remaining = remaining[sent:]
		if len(remaining) > 0 {
			c.Flush()
		}
	}

	remaining = data
	for len(remaining) > 0 {
		sent := c.reserveAndCopy(dst, remaining)
		remaining = remaining[sent:]
		if len(remaining) > 0 {
			c.Flush()
		}
	}
}

// reserveAndCopy stages as much of data as currently fits in the
// destination's region of the active window and returns the number of
// payload bytes consumed. A return of 0 means the region is full and
// the caller must flush before retrying.
func (c *Comm) reserveAndCopy(dst int, data []byte) int {
	padded := paddedLength(uint64(len(data)))

	// Acquire the active buffer epoch: take a reference, then re-check
	// that the generation did not change underneath us. If it did we
	// interleaved with a buffer swap and must start over.
	var idx int
	for {
		gen := c.activeGen.Load()
		idx = int(gen & 1)
		c.epochRefs[idx].Add(1)
		if c.activeGen.Load() == gen {
			break
		}
		c.epochRefs[idx].Add(-1)
	}
	defer c.epochRefs[idx].Add(-1)

	// Advance the destination's length counter by as much as fits.
	counter := &c.sendLength[idx][dst]
	var old, maxwrite uint64
	for {
		old = counter.Load()
		maxwrite = min(c.maxSendPerMachine-old, padded)
		if maxwrite == 0 {
			return 0
		}
		if counter.CompareAndSwap(old, old+maxwrite) {
			break
		}
	}

	n := min(maxwrite, uint64(len(data)))
	base := c.offset[dst] + old
	copy(c.windows[idx].Bytes()[base:base+n], data[:n])

	// Padding bytes past n stay whatever the window holds; receivers
	// never read them.
	return int(n)
}
