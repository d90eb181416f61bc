package comm

import (
	"encoding/binary"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

// mockedComm builds an endpoint over mocked communicators so that the
// exchange protocol can be observed call by call. The daemon sleeps for
// the whole test.
func mockedComm(
	ctrl *gomock.Controller,
	size int,
	window uint64,
) (*Comm, *MockCommunicator, *MockCommunicator) {
	world := NewMockCommunicator(ctrl)
	internal := NewMockCommunicator(ctrl)
	external := NewMockCommunicator(ctrl)

	world.EXPECT().Rank().Return(0)
	world.EXPECT().Size().Return(size)
	gomock.InOrder(
		world.EXPECT().Dup().Return(internal, nil),
		world.EXPECT().Dup().Return(external, nil),
	)

	c := MakeBuilder().
		WithCommunicator(world).
		WithSendWindowSize(window).
		WithFlushInterval(time.Hour).
		Build("mocked")

	return c, internal, external
}

var _ = Describe("Flush", func() {
	var (
		ctrl     *gomock.Controller
		c        *Comm
		internal *MockCommunicator
		external *MockCommunicator
	)

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		c, internal, external = mockedComm(ctrl, 2, 64)
	})

	It("should report staged unit counts and reset the buffer", func() {
		c.Send(1, []byte("0123456789abcdef"))
		Expect(c.sendLength[0][1].Load()).To(Equal(uint64(24)))

		internal.EXPECT().
			AllToAll([]int{0, 3}).
			Return([]int{0, 0}, nil)
		internal.EXPECT().
			AllToAllv(
				gomock.Any(), []int{0, 3}, []int{0, 4},
				gomock.Any(), []int{0, 0}, []int{0, 0}).
			DoAndReturn(func(
				send []uint64, _, _ []int,
				_ []uint64, _, _ []int,
			) error {
				staged := unitsAsBytes(send)

				// Rank 1's region starts at byte 32: header then payload.
				Expect(binary.LittleEndian.Uint64(staged[32:40])).
					To(Equal(uint64(16)))
				Expect(string(staged[40:56])).To(Equal("0123456789abcdef"))

				return nil
			})
		internal.EXPECT().AllReduceSum(0).Return(0, nil)

		c.Flush()

		Expect(c.sendLength[0][1].Load()).To(BeZero())
		Expect(c.State().FlushCount).To(Equal(uint64(1)))
	})

	It("should deliver arriving bytes to the source's framing stream", func() {
		internal.EXPECT().
			AllToAll([]int{0, 0}).
			Return([]int{0, 3}, nil)
		internal.EXPECT().
			AllToAllv(
				gomock.Any(), []int{0, 0}, []int{0, 4},
				gomock.Any(), []int{0, 3}, []int{0, 0}).
			DoAndReturn(func(
				_ []uint64, _, _ []int,
				recv []uint64, _, _ []int,
			) error {
				copy(unitsAsBytes(recv), frame([]byte("0123456789")))
				return nil
			})
		internal.EXPECT().AllReduceSum(0).Return(0, nil)

		c.Flush()

		msg, ok := c.Receive(1)
		Expect(ok).To(BeTrue())
		Expect(string(msg)).To(Equal("0123456789"))

		_, ok = c.Receive(0)
		Expect(ok).To(BeFalse())
	})

	It("should run the explicit barrier on the external communicator", func() {
		internal.EXPECT().
			AllToAll(gomock.Any()).
			Return([]int{0, 0}, nil)
		internal.EXPECT().
			AllToAllv(
				gomock.Any(), gomock.Any(), gomock.Any(),
				gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil)
		internal.EXPECT().AllReduceSum(0).Return(0, nil)
		external.EXPECT().Barrier().Return(nil)

		c.BarrierFlush()
	})

	It("should raise the shutdown flag in the reduction", func() {
		c.shuttingDown.Store(true)

		internal.EXPECT().
			AllToAll(gomock.Any()).
			Return([]int{0, 0}, nil)
		internal.EXPECT().
			AllToAllv(
				gomock.Any(), gomock.Any(), gomock.Any(),
				gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil)
		internal.EXPECT().AllReduceSum(1).Return(1, nil)

		c.Flush()

		Expect(c.doneRanks.Load()).To(Equal(int64(1)))
	})

	It("should issue no collective once the cluster has shut down", func() {
		c.doneRanks.Store(2)

		// No expectations: any collective call would fail the test.
		c.Flush()
		c.Flush()
	})

	It("should alternate the drained buffer across flushes", func() {
		for i := 0; i < 2; i++ {
			internal.EXPECT().
				AllToAll(gomock.Any()).
				Return([]int{0, 0}, nil)
			internal.EXPECT().
				AllToAllv(
					gomock.Any(), gomock.Any(), gomock.Any(),
					gomock.Any(), gomock.Any(), gomock.Any()).
				Return(nil)
			internal.EXPECT().AllReduceSum(0).Return(0, nil)
		}

		Expect(c.swapBuffers()).To(Equal(0))
		Expect(c.swapBuffers()).To(Equal(1))

		c.Flush()
		c.Flush()
		Expect(c.State().FlushCount).To(Equal(uint64(2)))

		// Two manual swaps plus two flush swaps.
		Expect(c.activeGen.Load()).To(Equal(uint64(4)))
	})
})
