package supervisor

import (
	"fmt"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("RingBuffer", func() {
	It("keeps everything below capacity", func() {
		r := NewRingBuffer(1000)
		r.Append([]byte("a"))
		r.Append([]byte("b"))
		Expect(r.String()).To(Equal("ab"))
		Expect(r.Len()).To(Equal(2))
		Expect(r.Dropped()).To(BeZero())
	})

	DescribeTable("returns exactly the last 1000 chunks in arrival order",
		func(n int) {
			r := NewRingBuffer(1000)
			var expected strings.Builder
			for i := 0; i < n; i++ {
				chunk := fmt.Sprintf("[%d]", i)
				r.Append([]byte(chunk))
				if i >= n-1000 {
					expected.WriteString(chunk)
				}
			}
			Expect(r.Len()).To(Equal(1000))
			Expect(r.String()).To(Equal(expected.String()))
			Expect(r.Dropped()).To(Equal(int64(n - 1000)))
		},
		Entry("one over", 1001),
		Entry("one and a half times", 1500),
		Entry("several wraps", 3333),
	)

	It("copies appended data", func() {
		r := NewRingBuffer(2)
		buf := []byte("x")
		r.Append(buf)
		buf[0] = 'y'
		Expect(r.String()).To(Equal("x"))
	})

	It("ignores empty chunks", func() {
		r := NewRingBuffer(2)
		r.Append(nil)
		Expect(r.Len()).To(BeZero())
	})
})
