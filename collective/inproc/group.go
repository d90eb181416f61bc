package inproc

import (
	"fmt"
	"sync"

	"github.com/vertexlab/ferry/collective"
)

// A group is the shared state behind one communicator: per-rank publish
// slots plus a reusable generation barrier. Every collective follows the
// same shape under the group mutex: publish this rank's row, barrier so
// all rows are visible, read the other ranks' rows, barrier again so no
// rank republishes before everyone has read.
type group struct {
	size int

	mu      sync.Mutex
	cond    *sync.Cond
	arrived int
	gen     uint64

	intRows [][]int
	vRows   []vRow
	sums    []int

	// Dup children, indexed by per-handle dup sequence number.
	children []*group
}

type vRow struct {
	send    []collective.Unit
	counts  []int
	offsets []int
}

func newGroup(size int) *group {
	g := &group{
		size:    size,
		intRows: make([][]int, size),
		vRows:   make([]vRow, size),
		sums:    make([]int, size),
	}
	g.cond = sync.NewCond(&g.mu)

	return g
}

// await is the generation barrier. Must be called with mu held; releases
// the mutex while waiting.
func (g *group) await() {
	g.arrived++
	if g.arrived == g.size {
		g.arrived = 0
		g.gen++
		g.cond.Broadcast()
		return
	}

	gen := g.gen
	for gen == g.gen {
		g.cond.Wait()
	}
}

// A communicator is one rank's handle on a group.
type communicator struct {
	g    *group
	rank int
	dups int
}

func (c *communicator) Rank() int {
	return c.rank
}

func (c *communicator) Size() int {
	return c.g.size
}

func (c *communicator) Dup() (collective.Communicator, error) {
	g := c.g

	g.mu.Lock()
	for len(g.children) <= c.dups {
		g.children = append(g.children, newGroup(g.size))
	}
	child := g.children[c.dups]
	g.mu.Unlock()

	c.dups++

	return &communicator{g: child, rank: c.rank}, nil
}

func (c *communicator) AllToAll(sendCounts []int) ([]int, error) {
	g := c.g
	if len(sendCounts) != g.size {
		return nil, fmt.Errorf(
			"alltoall: %d send counts for a group of size %d",
			len(sendCounts), g.size)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.intRows[c.rank] = sendCounts
	g.await()

	recv := make([]int, g.size)
	for p := 0; p < g.size; p++ {
		recv[p] = g.intRows[p][c.rank]
	}

	g.await()

	return recv, nil
}

func (c *communicator) AllToAllv(
	send []collective.Unit, sendCounts, sendOffsets []int,
	recv []collective.Unit, recvCounts, recvOffsets []int,
) error {
	g := c.g
	if len(sendCounts) != g.size || len(sendOffsets) != g.size ||
		len(recvCounts) != g.size || len(recvOffsets) != g.size {
		return fmt.Errorf("alltoallv: count/offset arrays must have length %d", g.size)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.vRows[c.rank] = vRow{send: send, counts: sendCounts, offsets: sendOffsets}
	g.await()

	var err error
	for p := 0; p < g.size; p++ {
		row := g.vRows[p]
		n := row.counts[c.rank]
		if n != recvCounts[p] {
			err = fmt.Errorf(
				"alltoallv: rank %d sent %d units but rank %d expected %d",
				p, n, c.rank, recvCounts[p])
			break
		}
		if n > 0 {
			src := row.send[row.offsets[c.rank] : row.offsets[c.rank]+n]
			copy(recv[recvOffsets[p]:recvOffsets[p]+n], src)
		}
	}

	g.await()

	return err
}

func (c *communicator) AllReduceSum(v int) (int, error) {
	g := c.g

	g.mu.Lock()
	defer g.mu.Unlock()

	g.sums[c.rank] = v
	g.await()

	total := 0
	for p := 0; p < g.size; p++ {
		total += g.sums[p]
	}

	g.await()

	return total, nil
}

func (c *communicator) Barrier() error {
	g := c.g

	g.mu.Lock()
	g.await()
	g.mu.Unlock()

	return nil
}
