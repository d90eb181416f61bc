package comm

import (
	"encoding/binary"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// frame encodes a message the way the send path stages it: an 8-byte
// little-endian true length followed by the unit-padded payload.
func frame(payload []byte) []byte {
	out := make([]byte, headerSize+paddedLength(uint64(len(payload))))
	binary.LittleEndian.PutUint64(out, uint64(len(payload)))
	copy(out[headerSize:], payload)
	return out
}

var _ = Describe("receiveBuffer", func() {
	var b *receiveBuffer

	BeforeEach(func() {
		b = &receiveBuffer{}
	})

	It("should report no message when empty", func() {
		_, ok := b.extract()
		Expect(ok).To(BeFalse())
	})

	It("should frame a single message", func() {
		b.insert(frame([]byte("graph data")))

		msg, ok := b.extract()
		Expect(ok).To(BeTrue())
		Expect(msg).To(Equal([]byte("graph data")))

		_, ok = b.extract()
		Expect(ok).To(BeFalse())
	})

	It("should strip padding and report the true length", func() {
		b.insert(frame([]byte{0x42}))

		msg, ok := b.extract()
		Expect(ok).To(BeTrue())
		Expect(msg).To(HaveLen(1))
		Expect(msg[0]).To(Equal(byte(0x42)))
	})

	It("should keep send order across multiple messages", func() {
		b.insert(frame([]byte("first")))
		b.insert(frame([]byte("second")))
		b.insert(frame([]byte("third")))

		for _, want := range []string{"first", "second", "third"} {
			msg, ok := b.extract()
			Expect(ok).To(BeTrue())
			Expect(string(msg)).To(Equal(want))
		}
	})

	It("should tolerate a message split across inserts", func() {
		whole := frame(make([]byte, 20))

		// Header in one epoch, payload in the next.
		b.insert(whole[:headerSize])
		_, ok := b.extract()
		Expect(ok).To(BeFalse())

		b.insert(whole[headerSize : headerSize+8])
		_, ok = b.extract()
		Expect(ok).To(BeFalse())

		b.insert(whole[headerSize+8:])
		msg, ok := b.extract()
		Expect(ok).To(BeTrue())
		Expect(msg).To(HaveLen(20))
	})

	It("should parse the next header as soon as a message is extracted", func() {
		b.insert(append(frame([]byte("one")), frame([]byte("four"))...))

		msg, ok := b.extract()
		Expect(ok).To(BeTrue())
		Expect(string(msg)).To(Equal("one"))

		Expect(b.paddedNext.Load()).To(Equal(uint64(8)))
		Expect(b.pending()).To(Equal(uint64(8)))
	})
})

var _ = Describe("Receive contract", func() {
	It("should reject out-of-range sources", func() {
		c := quiescentComm(2, 1024)

		Expect(func() { c.Receive(2) }).To(Panic())
		Expect(func() { c.Receive(-1) }).To(Panic())
	})
})

var _ = Describe("ReceiveAny rotation", func() {
	It("should rotate starting after the last source read from", func() {
		c := quiescentComm(4, 1024)

		for src := 0; src < 4; src++ {
			c.recv[src].insert(frame([]byte{byte(src)}))
		}

		var order []int
		for i := 0; i < 4; i++ {
			msg, src, ok := c.ReceiveAny()
			Expect(ok).To(BeTrue())
			Expect(msg).To(Equal([]byte{byte(src)}))
			order = append(order, src)
		}

		// The sweep starts just after the last read source, which is
		// initially 0.
		Expect(order).To(Equal([]int{1, 2, 3, 0}))

		_, _, ok := c.ReceiveAny()
		Expect(ok).To(BeFalse())
	})

	It("should resume after the actual source read, not the sweep index", func() {
		c := quiescentComm(4, 1024)

		c.recv[3].insert(frame([]byte("late")))

		_, src, ok := c.ReceiveAny()
		Expect(ok).To(BeTrue())
		Expect(src).To(Equal(3))

		// Next sweep starts at 0.
		c.recv[2].insert(frame([]byte("a")))
		c.recv[0].insert(frame([]byte("b")))

		_, src, ok = c.ReceiveAny()
		Expect(ok).To(BeTrue())
		Expect(src).To(Equal(0))
	})
})
