package inproc

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/vertexlab/ferry/collective"
)

// eachRank runs f once per rank, each on its own goroutine, and waits for
// all of them to finish.
func eachRank(c *Cluster, f func(comm collective.Communicator)) {
	var wg sync.WaitGroup
	for r := 0; r < c.Size(); r++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			defer GinkgoRecover()
			f(c.Communicator(rank))
		}(r)
	}
	wg.Wait()
}

var _ = Describe("Cluster", func() {
	var cluster *Cluster

	BeforeEach(func() {
		cluster = MakeBuilder().WithSize(4).Build()
	})

	It("should assign ranks", func() {
		Expect(cluster.Size()).To(Equal(4))
		for r := 0; r < 4; r++ {
			Expect(cluster.Communicator(r).Rank()).To(Equal(r))
			Expect(cluster.Communicator(r).Size()).To(Equal(4))
		}
	})

	It("should complete a barrier", func() {
		eachRank(cluster, func(comm collective.Communicator) {
			for i := 0; i < 100; i++ {
				Expect(comm.Barrier()).To(Succeed())
			}
		})
	})

	It("should exchange counts with alltoall", func() {
		eachRank(cluster, func(comm collective.Communicator) {
			rank := comm.Rank()

			send := make([]int, 4)
			for p := range send {
				send[p] = rank*10 + p
			}

			recv, err := comm.AllToAll(send)
			Expect(err).ToNot(HaveOccurred())

			for p := range recv {
				Expect(recv[p]).To(Equal(p*10 + rank))
			}
		})
	})

	It("should reject alltoall with the wrong number of counts", func() {
		small := MakeBuilder().WithSize(1).Build()
		_, err := small.Communicator(0).AllToAll([]int{1, 2})
		Expect(err).To(HaveOccurred())
	})

	It("should exchange data with alltoallv", func() {
		eachRank(cluster, func(comm collective.Communicator) {
			rank := comm.Rank()
			size := comm.Size()

			// Rank r sends r+1 units of value r*100+p to each peer p.
			sendCounts := make([]int, size)
			sendOffsets := make([]int, size)
			total := 0
			for p := 0; p < size; p++ {
				sendCounts[p] = rank + 1
				sendOffsets[p] = total
				total += sendCounts[p]
			}

			send := make([]collective.Unit, total)
			for p := 0; p < size; p++ {
				for i := 0; i < sendCounts[p]; i++ {
					send[sendOffsets[p]+i] = collective.Unit(rank*100 + p)
				}
			}

			recvCounts, err := comm.AllToAll(sendCounts)
			Expect(err).ToNot(HaveOccurred())

			recvOffsets := make([]int, size)
			totalRecv := 0
			for p := 0; p < size; p++ {
				recvOffsets[p] = totalRecv
				totalRecv += recvCounts[p]
			}

			recv := make([]collective.Unit, totalRecv)
			err = comm.AllToAllv(
				send, sendCounts, sendOffsets,
				recv, recvCounts, recvOffsets)
			Expect(err).ToNot(HaveOccurred())

			for p := 0; p < size; p++ {
				Expect(recvCounts[p]).To(Equal(p + 1))
				for i := 0; i < recvCounts[p]; i++ {
					Expect(recv[recvOffsets[p]+i]).
						To(Equal(collective.Unit(p*100 + rank)))
				}
			}
		})
	})

	It("should sum with allreduce", func() {
		eachRank(cluster, func(comm collective.Communicator) {
			total, err := comm.AllReduceSum(comm.Rank())
			Expect(err).ToNot(HaveOccurred())
			Expect(total).To(Equal(0 + 1 + 2 + 3))
		})
	})

	It("should converge on the same group when all ranks dup", func() {
		eachRank(cluster, func(comm collective.Communicator) {
			first, err := comm.Dup()
			Expect(err).ToNot(HaveOccurred())

			second, err := comm.Dup()
			Expect(err).ToNot(HaveOccurred())

			Expect(first.Rank()).To(Equal(comm.Rank()))
			Expect(second.Size()).To(Equal(comm.Size()))

			// Collectives on the duplicates pair up across ranks.
			sum, err := first.AllReduceSum(1)
			Expect(err).ToNot(HaveOccurred())
			Expect(sum).To(Equal(4))

			Expect(second.Barrier()).To(Succeed())
		})
	})

	It("should support a single-rank group", func() {
		single := MakeBuilder().Build()
		comm := single.Communicator(0)

		recv, err := comm.AllToAll([]int{3})
		Expect(err).ToNot(HaveOccurred())
		Expect(recv).To(Equal([]int{3}))

		send := []collective.Unit{7, 8, 9}
		got := make([]collective.Unit, 3)
		err = comm.AllToAllv(
			send, []int{3}, []int{0},
			got, []int{3}, []int{0})
		Expect(err).ToNot(HaveOccurred())
		Expect(got).To(Equal(send))
	})
})
