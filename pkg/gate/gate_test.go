package gate

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Gate", func() {
	It("invokes the op once for concurrent callers with the same key", func() {
		var g Gate
		var calls atomic.Int32
		release := make(chan struct{})
		started := make(chan struct{})

		op := func() (string, error) {
			if calls.Add(1) == 1 {
				close(started)
			}
			<-release
			return "resolved", nil
		}

		results := make([]string, 2)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer GinkgoRecover()
			defer wg.Done()
			v, err := Do(&g, "install:git", op)
			Expect(err).NotTo(HaveOccurred())
			results[0] = v
		}()
		<-started

		wg.Add(1)
		go func() {
			defer GinkgoRecover()
			defer wg.Done()
			v, err := Do(&g, "install:git", op)
			Expect(err).NotTo(HaveOccurred())
			results[1] = v
		}()

		// let the second caller join the in-flight call
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()

		Expect(calls.Load()).To(Equal(int32(1)))
		Expect(results).To(Equal([]string{"resolved", "resolved"}))
	})

	It("runs ops for different keys independently", func() {
		var g Gate
		var calls atomic.Int32
		op := func() (int, error) { return int(calls.Add(1)), nil }

		_, err := Do(&g, "install:git", op)
		Expect(err).NotTo(HaveOccurred())
		_, err = Do(&g, "install:node", op)
		Expect(err).NotTo(HaveOccurred())
		Expect(calls.Load()).To(Equal(int32(2)))
	})

	It("starts a new op once the previous one finished", func() {
		var g Gate
		var calls atomic.Int32
		op := func() (int, error) { return int(calls.Add(1)), nil }

		Expect(Do(&g, "detect", op)).To(Equal(1))
		Expect(Do(&g, "detect", op)).To(Equal(2))
	})

	It("shares errors with every waiter", func() {
		var g Gate
		_, err := Do(&g, "batch", func() (int, error) { return 0, errors.New("boom") })
		Expect(err).To(MatchError("boom"))
	})
})

var _ = Describe("Registry", func() {
	It("rejects duplicate starts", func() {
		r := NewRegistry[string]()
		Expect(r.TryAdd("git", "first")).To(BeTrue())
		Expect(r.TryAdd("git", "second")).To(BeFalse())

		v, ok := r.Get("git")
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("first"))

		removed, ok := r.Remove("git")
		Expect(ok).To(BeTrue())
		Expect(removed).To(Equal("first"))
		Expect(r.Has("git")).To(BeFalse())
		Expect(r.TryAdd("git", "third")).To(BeTrue())
	})

	It("allows exactly one concurrent start per key", func() {
		r := NewRegistry[int]()
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if r.TryAdd("node", i) {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()
		Expect(wins.Load()).To(Equal(int32(1)))
	})

	It("lists and clears entries", func() {
		r := NewRegistry[int]()
		r.TryAdd("b", 2)
		r.TryAdd("a", 1)
		Expect(r.Keys()).To(Equal([]string{"a", "b"}))
		Expect(r.Values()).To(ConsistOf(1, 2))
		Expect(r.Clear()).To(HaveLen(2))
		Expect(r.Len()).To(Equal(0))
	})
})
