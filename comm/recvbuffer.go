package comm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
)

// A receiveBuffer is one source's framed byte stream. The exchange
// appends to it (producer); Receive callers extract from it
// (consumers). buffered and paddedNext are atomics so that Receive can
// reject "nothing to read" without taking the lock; everything else is
// guarded by mu.
type receiveBuffer struct {
	mu   sync.Mutex
	data bytes.Buffer

	// Bytes buffered in data, excluding consumed headers.
	buffered atomic.Uint64
	// Unit-padded length of the next message, 0 while no header is
	// pending. Zero-length messages are rejected at Send, so 0 is safe
	// as the sentinel.
	paddedNext atomic.Uint64
	// True (unpadded) length of the next message. Only under mu.
	trueNext uint64
}

// insert appends arrived bytes and opportunistically parses the next
// header.
func (b *receiveBuffer) insert(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data.Write(p)
	b.buffered.Add(uint64(len(p)))
	b.parseHeaderLocked()
}

// parseHeaderLocked consumes the next length header when one is fully
// buffered and none is pending.
func (b *receiveBuffer) parseHeaderLocked() {
	if b.trueNext != 0 || b.buffered.Load() < headerSize {
		return
	}

	var hdr [headerSize]byte
	b.data.Read(hdr[:])
	b.trueNext = binary.LittleEndian.Uint64(hdr[:])
	b.buffered.Store(b.buffered.Load() - headerSize)
	b.paddedNext.Store(paddedLength(b.trueNext))
}

// extract returns the next complete message, or ok == false when none
// is fully buffered.
func (b *receiveBuffer) extract() ([]byte, bool) {
	// Quick exit without the lock.
	padded := b.paddedNext.Load()
	if padded == 0 || padded > b.buffered.Load() {
		return nil, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	padded = b.paddedNext.Load()
	if padded == 0 || padded > b.buffered.Load() {
		return nil, false
	}

	out := make([]byte, padded)
	b.data.Read(out)
	b.buffered.Store(b.buffered.Load() - padded)

	length := b.trueNext
	b.trueNext = 0
	b.paddedNext.Store(0)
	b.parseHeaderLocked()

	return out[:length], true
}

// pending returns how many unconsumed bytes the stream holds.
func (b *receiveBuffer) pending() uint64 {
	return b.buffered.Load()
}

// Receive extracts the next complete message from the given source,
// reporting its true (unpadded) length through the slice length. It
// returns ok == false immediately when no complete message is buffered.
func (c *Comm) Receive(source int) ([]byte, bool) {
	if source < 0 || source >= c.size {
		panic(fmt.Sprintf("comm: source %d out of range [0, %d)", source, c.size))
	}

	return c.recv[source].extract()
}

// ReceiveAny extracts the next complete message from any source,
// sweeping the sources round-robin starting just after the last source
// successfully read from. The bookkeeping stores the source index that
// was read, so with N sources each holding one message, N calls return
// each source exactly once in rotating order.
func (c *Comm) ReceiveAny() (data []byte, source int, ok bool) {
	start := int(c.lastReadFrom.Load()) + 1

	for j := 0; j < c.size; j++ {
		src := (start + j) % c.size
		if msg, ok := c.recv[src].extract(); ok {
			c.lastReadFrom.Store(int64(src))
			return msg, src, true
		}
	}

	return nil, 0, false
}
