package worker_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"mrpulse.app/dashboard/internal/lock"
	"mrpulse.app/dashboard/internal/model"
	"mrpulse.app/dashboard/internal/queue"
	"mrpulse.app/dashboard/internal/worker"
)

var _ = Describe("Worker", func() {
	var (
		ctx       context.Context
		consumer  *mockConsumer
		refresher *mockRefresher
		locker    *lock.MemoryLocker
		msg       queue.Message
	)

	BeforeEach(func() {
		ctx = context.Background()
		locker = lock.NewMemoryLocker()
		refresher = &mockRefresher{}
		msg = queue.Message{ID: "1-0", JobID: 7, Author: "pedropombeiro", Kind: model.KindOpen, Attempt: 1}
		consumer = newMockConsumer()
	})

	newWorker := func() *worker.Worker {
		return worker.New(consumer, refresher, locker, worker.Config{JobTimeout: time.Minute})
	}

	It("refreshes the author and acknowledges the job", func() {
		var gotAuthor string
		var gotKind model.Kind
		refresher.refreshFn = func(_ context.Context, author string, kind model.Kind) error {
			gotAuthor, gotKind = author, kind
			return nil
		}

		Expect(newWorker().ProcessMessage(ctx, msg)).To(Succeed())
		Expect(gotAuthor).To(Equal("pedropombeiro"))
		Expect(gotKind).To(Equal(model.KindOpen))
		Expect(consumer.Acked()).To(ConsistOf("1-0"))
	})

	It("skips the job while the author is locked", func() {
		release, ok, err := locker.TryLock(ctx, "refresh:pedropombeiro", time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		defer func() { _ = release(ctx) }()

		msg.Author = "PedroPombeiro"
		Expect(newWorker().ProcessMessage(ctx, msg)).To(Succeed())
		Expect(refresher.Calls()).To(Equal(0))
		Expect(consumer.Acked()).To(ConsistOf("1-0"))
	})

	It("releases the author lock after the job", func() {
		w := newWorker()
		Expect(w.ProcessMessage(ctx, msg)).To(Succeed())
		Expect(w.ProcessMessage(ctx, msg)).To(Succeed())
		Expect(refresher.Calls()).To(Equal(2))
	})

	It("bounds the refresh with the job timeout", func() {
		refresher.refreshFn = func(ctx context.Context, _ string, _ model.Kind) error {
			_, ok := ctx.Deadline()
			Expect(ok).To(BeTrue())
			return nil
		}
		Expect(newWorker().ProcessMessage(ctx, msg)).To(Succeed())
	})

	Context("when running", func() {
		It("sends failed jobs to the DLQ without retrying", func() {
			refresher.refreshFn = func(_ context.Context, _ string, _ model.Kind) error {
				return errors.New("connection refused")
			}
			consumer = newMockConsumer(msg)
			w := newWorker()

			go func() { _ = w.Run(ctx) }()
			Eventually(consumer.DLQ).Should(HaveKeyWithValue("1-0", ContainSubstring("connection refused")))
			w.Stop()

			Expect(refresher.Calls()).To(Equal(1))
			Expect(consumer.Acked()).To(BeEmpty())
		})

		It("recovers from panics", func() {
			refresher.refreshFn = func(_ context.Context, _ string, _ model.Kind) error {
				panic("boom")
			}
			consumer = newMockConsumer(msg)
			w := newWorker()

			go func() { _ = w.Run(ctx) }()
			Eventually(consumer.DLQ).Should(HaveKeyWithValue("1-0", "panic: boom"))
			w.Stop()
		})

		It("stops when the context is cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			w := newWorker()
			done := make(chan error, 1)
			go func() { done <- w.Run(cctx) }()

			cancel()
			Eventually(done).Should(Receive(MatchError(context.Canceled)))
		})
	})
})
