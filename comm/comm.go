// Package comm implements the node-to-node messaging substrate of the
// graph database cluster. Outgoing data is staged in one of two fixed
// size send windows through a lock-free per-destination allocator; a
// collective flush swaps the windows, drains in-flight writers, and
// ships the staged bytes cluster-wide with a two-phase all-to-all.
// Arriving bytes are framed per source with a length-prefix protocol. A
// background daemon forces a flush pass periodically and coordinates
// distributed termination with a sum-reduction.
package comm

import (
	"log"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vertexlab/ferry/collective"
	"github.com/vertexlab/ferry/commstats"
	"github.com/vertexlab/ferry/memwin"
)

// A Comm is one process's endpoint in the cluster. All methods are safe
// for concurrent use; Send is designed for many concurrent callers.
type Comm struct {
	name string
	rank int
	size int

	// Collectives from background and implicit flushes run on internal;
	// external carries the user-facing barriers so that explicit
	// synchronization points never share a stream with the daemon.
	internal collective.Communicator
	external collective.Communicator

	windowSize        uint64
	maxSendPerMachine uint64
	offset            []uint64
	unitOffset        []int

	windows    [2]*memwin.Window
	sendLength [2][]atomic.Uint64
	epochRefs  [2]atomic.Int64
	activeGen  atomic.Uint64
	lastGC     [2]time.Time
	gcInterval time.Duration

	flushLock   sync.Mutex
	innerOpLock sync.Mutex
	flushCount  atomic.Uint64

	flushInterval time.Duration
	shuttingDown  atomic.Bool
	doneRanks     atomic.Int64
	daemonWG      sync.WaitGroup

	recv         []*receiveBuffer
	lastReadFrom atomic.Int64

	recorder commstats.Recorder
}

// Builder can help building Comm endpoints.
type Builder struct {
	world         collective.Communicator
	windowSize    uint64
	recorder      commstats.Recorder
	gcInterval    time.Duration
	flushInterval time.Duration
}

// MakeBuilder returns a builder with default parameters: a 64 MiB send
// window, a 10 ms background flush interval, and a 10 s window garbage
// collection interval.
func MakeBuilder() Builder {
	return Builder{
		windowSize:    64 * 1024 * 1024,
		gcInterval:    10 * time.Second,
		flushInterval: 10 * time.Millisecond,
	}
}

// WithCommunicator sets the world communicator the endpoint joins.
func (b Builder) WithCommunicator(world collective.Communicator) Builder {
	b.world = world
	return b
}

// WithSendWindowSize sets the size of each of the two send windows, in
// bytes.
func (b Builder) WithSendWindowSize(n uint64) Builder {
	b.windowSize = n
	return b
}

// WithStatsRecorder wires a recorder that receives one row per flush.
func (b Builder) WithStatsRecorder(r commstats.Recorder) Builder {
	b.recorder = r
	return b
}

// WithGCInterval sets how long a window slot must go without garbage
// collection before a drain reconstructs it.
func (b Builder) WithGCInterval(d time.Duration) Builder {
	b.gcInterval = d
	return b
}

// WithFlushInterval sets the background daemon's flush period.
func (b Builder) WithFlushInterval(d time.Duration) Builder {
	b.flushInterval = d
	return b
}

// Build joins the cluster: duplicates the world communicator for the
// internal and external streams, maps both send windows, and starts the
// background flush daemon. Window allocation failure is fatal.
func (b Builder) Build(name string) *Comm {
	if b.world == nil {
		panic("comm: a world communicator is required")
	}

	c := &Comm{
		name:          name,
		rank:          b.world.Rank(),
		size:          b.world.Size(),
		windowSize:    b.windowSize,
		gcInterval:    b.gcInterval,
		flushInterval: b.flushInterval,
		recorder:      b.recorder,
	}

	var err error
	c.internal, err = b.world.Dup()
	if err != nil {
		log.Panicf("comm: cannot duplicate internal communicator: %v", err)
	}
	c.external, err = b.world.Dup()
	if err != nil {
		log.Panicf("comm: cannot duplicate external communicator: %v", err)
	}

	// Uniformly space the per-destination regions across the window,
	// rounded down to a multiple of the wire unit.
	c.maxSendPerMachine = c.windowSize / uint64(c.size) /
		collective.UnitSize * collective.UnitSize
	if c.maxSendPerMachine < headerSize {
		log.Panicf("comm: window size %d is too small for %d machines",
			c.windowSize, c.size)
	}

	c.offset = make([]uint64, c.size)
	c.unitOffset = make([]int, c.size)
	for i := 0; i < c.size; i++ {
		c.offset[i] = uint64(i) * c.maxSendPerMachine
		c.unitOffset[i] = int(c.offset[i] / collective.UnitSize)
	}

	for i := 0; i < 2; i++ {
		c.constructWindow(i)
		c.sendLength[i] = make([]atomic.Uint64, c.size)
		c.lastGC[i] = time.Now()
	}

	c.recv = make([]*receiveBuffer, c.size)
	for i := range c.recv {
		c.recv[i] = &receiveBuffer{}
	}

	if c.recorder != nil {
		// Endpoints may share one recorder; the first one in creates
		// the table.
		if !slices.Contains(c.recorder.ListTables(), flushTableName) {
			c.recorder.CreateTable(flushTableName, FlushRecord{})
		}
	}

	c.daemonWG.Add(1)
	go c.backgroundFlush()

	return c
}

func (c *Comm) constructWindow(idx int) {
	w, err := memwin.New(c.windowSize)
	if err != nil {
		log.Panicf("comm: %v", err)
	}
	c.windows[idx] = w
}

// Name returns the endpoint name.
func (c *Comm) Name() string {
	return c.name
}

// Rank returns this process's 0-based identity in the cluster.
func (c *Comm) Rank() int {
	return c.rank
}

// Size returns the cluster width.
func (c *Comm) Size() int {
	return c.size
}

// Barrier blocks until every process in the cluster has entered it. It
// runs on the external communicator, so it must be matched by a Barrier
// or BarrierFlush on every other process.
func (c *Comm) Barrier() {
	if err := c.external.Barrier(); err != nil {
		log.Panicf("comm: barrier failed: %v", err)
	}
}

// Close raises the local shutdown flag and waits until the background
// daemon observes that every process in the cluster has done the same,
// then releases both send windows. Close blocks until all processes
// call it. No message may be sent after Close.
func (c *Comm) Close() {
	c.shuttingDown.Store(true)
	c.daemonWG.Wait()

	for i := 0; i < 2; i++ {
		if err := c.windows[i].Destroy(); err != nil {
			log.Panicf("comm: cannot destroy send window: %v", err)
		}
	}
}
