package comm

import (
	"log"
	"runtime"
	"time"
)

// Flush performs one implicit flush pass: swap the windows, drain
// in-flight writers, exchange the drained window cluster-wide, and take
// part in the shutdown reduction. It is the same inner operation the
// background daemon runs, so a Flush triggered by allocator
// backpressure pairs with whatever flush pass the peers are running.
//
// Flush becomes a no-op once the cluster has agreed to shut down.
func (c *Comm) Flush() {
	c.flushInnerOp(flushKindImplicit)
}

// BarrierFlush performs an explicit flush pass followed by a cluster
// wide barrier on the external communicator. It must be called by every
// process in the cluster.
func (c *Comm) BarrierFlush() {
	c.flushInnerOp(flushKindExplicit)
	c.Barrier()
}

// flushInnerOp is the single entry point for flush passes. The inner-op
// mutex serializes it within the process and guards the shutdown gate:
// once the daemons of all processes have stopped, no further collective
// may be issued, since it would have no matching call on the peers.
func (c *Comm) flushInnerOp(kind string) {
	c.innerOpLock.Lock()
	defer c.innerOpLock.Unlock()

	if int(c.doneRanks.Load()) >= c.size {
		return
	}

	c.flushLock.Lock()
	idx := c.swapBuffers()
	c.exchange(idx, kind)
	c.flushLock.Unlock()

	local := 0
	if c.shuttingDown.Load() {
		local = 1
	}

	done, err := c.internal.AllReduceSum(local)
	if err != nil {
		log.Panicf("comm: shutdown reduction failed: %v", err)
	}
	c.doneRanks.Store(int64(done))
}

// swapBuffers retires the active window and returns its slot index. It
// spins until no writer still holds a reference into the retired epoch.
// Sends are assumed short, so spinning with a yield is cheaper than a
// condition variable; if sends become long-running this should be
// replaced with blocking synchronization.
func (c *Comm) swapBuffers() int {
	idx := int(c.activeGen.Add(1)-1) & 1

	for c.epochRefs[idx].Load() != 0 {
		runtime.Gosched()
	}

	return idx
}

// resetSendBuffer clears the drained window's length counters and, at
// most once per GC interval, destroys and reconstructs the underlying
// region to bound memory growth from buffer fragmentation.
func (c *Comm) resetSendBuffer(idx int) {
	for i := range c.sendLength[idx] {
		c.sendLength[idx][i].Store(0)
	}

	if time.Since(c.lastGC[idx]) > c.gcInterval {
		c.garbageCollect(idx)
		c.lastGC[idx] = time.Now()
	}
}

func (c *Comm) garbageCollect(idx int) {
	if err := c.windows[idx].Destroy(); err != nil {
		log.Panicf("comm: cannot unmap send window: %v", err)
	}
	c.constructWindow(idx)
}
