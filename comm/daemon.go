package comm

import "time"

// backgroundFlush is the daemon loop: force a flush pass periodically
// so queued data keeps moving even when no caller flushes, and carry
// the shutdown reduction. The loop ends once the reduction reports that
// every process has raised its shutdown flag; after that no collective
// is issued, since a peer that stopped listening would deadlock the
// cluster on the next one.
func (c *Comm) backgroundFlush() {
	defer c.daemonWG.Done()

	for int(c.doneRanks.Load()) < c.size {
		time.Sleep(c.flushInterval)
		c.flushInnerOp(flushKindImplicit)
	}
}
