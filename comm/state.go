package comm

// State is a point-in-time snapshot of an endpoint, for monitoring.
// Concurrent senders and flushes keep mutating the endpoint, so the
// fields are individually accurate but not mutually consistent.
type State struct {
	Name              string
	Rank              int
	Size              int
	ActiveBuffer      int
	FlushCount        uint64
	MaxSendPerMachine uint64

	// Bytes currently staged in the active window, per destination.
	SendFill []uint64

	// Bytes buffered in the framing stream, per source.
	PendingReceive []uint64

	ShuttingDown bool
}

// State snapshots the endpoint.
func (c *Comm) State() State {
	idx := int(c.activeGen.Load() & 1)

	s := State{
		Name:              c.name,
		Rank:              c.rank,
		Size:              c.size,
		ActiveBuffer:      idx,
		FlushCount:        c.flushCount.Load(),
		MaxSendPerMachine: c.maxSendPerMachine,
		SendFill:          make([]uint64, c.size),
		PendingReceive:    make([]uint64, c.size),
		ShuttingDown:      c.shuttingDown.Load(),
	}

	for i := 0; i < c.size; i++ {
		s.SendFill[i] = c.sendLength[idx][i].Load()
		s.PendingReceive[i] = c.recv[i].pending()
	}

	return s
}
