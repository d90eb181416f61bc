package comm

import (
	"log"
	"time"
	"unsafe"

	"github.com/rs/xid"

	"github.com/vertexlab/ferry/collective"
)

const flushTableName = "comm_flush"

const (
	flushKindImplicit = "implicit"
	flushKindExplicit = "explicit"
)

// A FlushRecord describes one collective exchange, as recorded through
// the stats recorder.
type FlushRecord struct {
	ID            string
	Rank          int
	Kind          string
	DurationNS    int64
	BytesSent     int
	BytesReceived int
}

// exchange ships the drained window idx cluster-wide. Phase one is an
// all-to-all of per-destination unit counts; phase two is a variable
// all-to-all of the staged units. Arriving bytes are appended to the
// per-source framing streams. Must run with the flush lock held.
func (c *Comm) exchange(idx int, kind string) {
	start := time.Now()

	sendCounts := make([]int, c.size)
	bytesSent := 0
	for i := 0; i < c.size; i++ {
		// Counters only ever advance in unit multiples.
		n := c.sendLength[idx][i].Load()
		sendCounts[i] = int(n / collective.UnitSize)
		bytesSent += int(n)
	}

	recvCounts, err := c.internal.AllToAll(sendCounts)
	if err != nil {
		log.Panicf("comm: size exchange failed: %v", err)
	}

	recvOffsets := make([]int, c.size)
	totalUnits := 0
	for i := 0; i < c.size; i++ {
		recvOffsets[i] = totalUnits
		totalUnits += recvCounts[i]
	}

	scratch := make([]collective.Unit, totalUnits)
	err = c.internal.AllToAllv(
		c.windows[idx].Units(), sendCounts, c.unitOffset,
		scratch, recvCounts, recvOffsets)
	if err != nil {
		log.Panicf("comm: data exchange failed: %v", err)
	}

	// Cut the scratch buffer up and hand each non-empty slice to its
	// source's framing stream. insert copies, so the scratch buffer is
	// released as soon as this function returns.
	for i := 0; i < c.size; i++ {
		if recvCounts[i] == 0 {
			continue
		}
		lo := recvOffsets[i] * collective.UnitSize
		hi := lo + recvCounts[i]*collective.UnitSize
		c.recv[i].insert(unitsAsBytes(scratch)[lo:hi])
	}

	c.resetSendBuffer(idx)
	c.flushCount.Add(1)

	if c.recorder != nil {
		c.recorder.InsertData(flushTableName, FlushRecord{
			ID:            xid.New().String(),
			Rank:          c.rank,
			Kind:          kind,
			DurationNS:    time.Since(start).Nanoseconds(),
			BytesSent:     bytesSent,
			BytesReceived: totalUnits * collective.UnitSize,
		})
	}
}

// unitsAsBytes views a unit slice as bytes without copying.
func unitsAsBytes(units []collective.Unit) []byte {
	if len(units) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&units[0])),
		len(units)*collective.UnitSize)
}
