// Package inproc provides an in-process implementation of the collective
// substrate. A Cluster hosts N ranks inside one OS process; each rank's
// goroutines talk through a shared group synchronized with condition
// variables. The blocking, globally ordered semantics match what an MPI
// style transport provides, which makes the package suitable for tests
// and benchmarks of the comm layer.
package inproc

import (
	"github.com/vertexlab/ferry/collective"
)

// Builder can help building in-process clusters.
type Builder struct {
	size int
}

// MakeBuilder returns a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{size: 1}
}

// WithSize sets the number of ranks in the cluster.
func (b Builder) WithSize(n int) Builder {
	b.size = n
	return b
}

// Build creates the cluster and its world group.
func (b Builder) Build() *Cluster {
	if b.size <= 0 {
		panic("cluster size must be positive")
	}

	c := &Cluster{
		size:  b.size,
		world: newGroup(b.size),
	}

	c.comms = make([]*communicator, b.size)
	for r := range c.comms {
		c.comms[r] = &communicator{g: c.world, rank: r}
	}

	return c
}

// A Cluster hosts a fixed number of ranks in one process.
type Cluster struct {
	size  int
	world *group
	comms []*communicator
}

// Size returns the number of ranks.
func (c *Cluster) Size() int {
	return c.size
}

// Communicator returns the given rank's handle on the world group.
func (c *Cluster) Communicator(rank int) collective.Communicator {
	return c.comms[rank]
}
