package cache_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"mrpulse.app/dashboard/internal/cache"
)

type entry struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

var _ = Describe("MemoryStore", func() {
	var (
		ctx   context.Context
		now   time.Time
		store *cache.MemoryStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		store = cache.NewMemoryStore().WithClock(func() time.Time { return now })
	})

	It("round-trips values through write and read", func() {
		Expect(store.Write(ctx, "k", entry{Name: "a", Count: 2}, time.Minute)).To(Succeed())

		var got entry
		hit, err := store.Read(ctx, "k", &got)
		Expect(err).NotTo(HaveOccurred())
		Expect(hit).To(BeTrue())
		Expect(got).To(Equal(entry{Name: "a", Count: 2}))
	})

	It("misses after the ttl elapses", func() {
		Expect(store.Write(ctx, "k", entry{Name: "a"}, time.Minute)).To(Succeed())
		now = now.Add(time.Minute)

		var got entry
		hit, err := store.Read(ctx, "k", &got)
		Expect(err).NotTo(HaveOccurred())
		Expect(hit).To(BeFalse())
	})

	It("deletes entries", func() {
		Expect(store.Write(ctx, "k", entry{Name: "a"}, 0)).To(Succeed())
		Expect(store.Delete(ctx, "k")).To(Succeed())

		var got entry
		hit, _ := store.Read(ctx, "k", &got)
		Expect(hit).To(BeFalse())
	})

	Describe("Fetch", func() {
		It("produces and caches on a miss, then serves the cached value", func() {
			calls := 0
			produce := func(context.Context) (entry, error) {
				calls++
				return entry{Name: "fresh", Count: calls}, nil
			}

			first, err := cache.Fetch(ctx, store, "k", time.Minute, produce)
			Expect(err).NotTo(HaveOccurred())
			second, err := cache.Fetch(ctx, store, "k", time.Minute, produce)
			Expect(err).NotTo(HaveOccurred())

			Expect(calls).To(Equal(1))
			Expect(second).To(Equal(first))
		})

		It("does not cache producer errors", func() {
			_, err := cache.Fetch(ctx, store, "k", time.Minute, func(context.Context) (entry, error) {
				return entry{}, errors.New("boom")
			})
			Expect(err).To(MatchError("boom"))
			Expect(store.Len()).To(Equal(0))
		})
	})
})
