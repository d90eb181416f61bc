// Package collective defines the transport substrate that the comm layer
// runs on. A Communicator provides blocking, globally ordered collective
// operations over a fixed group of processes. Every process in the group
// must issue the same sequence of collective calls on the same
// communicator, or the whole group deadlocks. There is no timeout and no
// cancellation at this layer.
package collective

// Unit is the wire word of the substrate. All payload exchanged through a
// Communicator is counted and addressed in Units, never in bytes.
type Unit = uint64

// UnitSize is the size of one Unit in bytes.
const UnitSize = 8

// A Communicator is one process's handle on a communication group.
//
// All methods other than Rank and Size block until every process in the
// group has made the matching call.
type Communicator interface {
	// Rank returns the 0-based identity of this process in the group.
	Rank() int

	// Size returns the number of processes in the group.
	Size() int

	// Dup creates a new communicator over the same group of processes.
	// Collectives on the duplicate are ordered independently from
	// collectives on the parent. All processes must call Dup in the same
	// order to obtain matching duplicates.
	Dup() (Communicator, error)

	// AllToAll sends sendCounts[p] to every process p and returns the
	// values every process sent to this one. len(sendCounts) must equal
	// Size(); the result has the same length.
	AllToAll(sendCounts []int) ([]int, error)

	// AllToAllv exchanges variable amounts of data. Process p receives
	// sendCounts[p] units read from send starting at sendOffsets[p], and
	// this process stores the units arriving from p at recvOffsets[p] in
	// recv. Counts and offsets are in units. The send slice may be reused
	// by the caller as soon as AllToAllv returns.
	AllToAllv(
		send []Unit, sendCounts, sendOffsets []int,
		recv []Unit, recvCounts, recvOffsets []int,
	) error

	// AllReduceSum returns the sum of v over all processes.
	AllReduceSum(v int) (int, error)

	// Barrier blocks until all processes have entered it.
	Barrier() error
}
