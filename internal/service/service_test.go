package service_test

import (
	"context"
	"errors"
	"net"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"mrpulse.app/dashboard/core/config"
	"mrpulse.app/dashboard/internal/cache"
	"mrpulse.app/dashboard/internal/cachekey"
	"mrpulse.app/dashboard/internal/changes"
	"mrpulse.app/dashboard/internal/dto"
	"mrpulse.app/dashboard/internal/fetcher"
	"mrpulse.app/dashboard/internal/gateway"
	"mrpulse.app/dashboard/internal/model"
	"mrpulse.app/dashboard/internal/service"
)

var _ = Describe("Services", func() {
	var (
		ctx         context.Context
		now         time.Time
		gw          *mockGateway
		enricher    *mockEnricher
		broadcaster *mockBroadcaster
		dispatcher  *mockDispatcher
		users       *mockUsers
		dashboard   *service.DashboardService
		refresh     *service.RefreshService

		openNodes   func() []map[string]any
		mergedNodes []map[string]any
		openLabels  []string
		openFails   bool
		dialErr     error
	)

	advance := func(d time.Duration) { now = now.Add(d) }

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
		clock := func() time.Time { return now }

		openLabels = []string{"pipeline::tier-3"}
		openNodes = func() []map[string]any {
			return []map[string]any{mergeRequestNode("173741", "opened", openLabels...)}
		}
		mergedNodes = []map[string]any{mergeRequestNode("170000", "merged", "workflow::production")}
		openFails = false
		dialErr = nil

		gw = newMockGateway(func(_ context.Context, name string, _ map[string]any) (*gateway.Response, error) {
			if dialErr != nil {
				return nil, dialErr
			}
			switch name {
			case "open":
				if openFails {
					return errorResponse(name), nil
				}
				return dataResponse(userMergeRequests(openNodes()...)), nil
			case "merged":
				return dataResponse(userMergeRequests(mergedNodes...)), nil
			case "issues":
				return dataResponse(map[string]any{"project": map[string]any{"issues": map[string]any{"nodes": []any{}}}}), nil
			case "monthly_merged_count":
				return dataResponse(map[string]any{"user": map[string]any{"mergeRequests": map[string]any{"count": 3}}}), nil
			}
			return dataResponse(map[string]any{}), nil
		})

		store := cache.NewMemoryStore().WithClock(clock)
		keys := cachekey.New("anonymous")
		policy := config.DefaultMergeRequests()
		f := fetcher.New(gw, store, keys, policy, fetcher.DefaultConfig()).WithClock(clock)
		normalizer := dto.NewNormalizer(policy).WithClock(clock)

		var nextID int64
		detector := changes.NewDetector(policy).WithClock(clock, func() int64 { nextID++; return nextID })

		enricher = &mockEnricher{}
		broadcaster = &mockBroadcaster{}
		dispatcher = &mockDispatcher{}
		users = &mockUsers{}

		dashboard = service.NewDashboardService(service.DashboardConfig{
			Fetcher:     f,
			Enricher:    enricher,
			Normalizer:  normalizer,
			Broadcaster: broadcaster,
			Users:       users,
		}).WithClock(clock)

		refresh = service.NewRefreshService(service.RefreshConfig{
			Fetcher:     f,
			Enricher:    enricher,
			Normalizer:  normalizer,
			Detector:    detector,
			Broadcaster: broadcaster,
			Dispatcher:  dispatcher,
			Baselines:   store,
			Keys:        keys,
		})
	})

	Describe("DashboardService.MergeRequests", func() {
		It("returns the normalized snapshot and records the visit", func() {
			result, err := dashboard.MergeRequests(ctx, "pedropombeiro", model.KindOpen)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.FreshlyFetched).To(BeTrue())

			Expect(result.Snapshot.Items).To(HaveLen(1))
			mr := result.Snapshot.Items[0]
			Expect(mr.IID).To(Equal("173741"))
			Expect(mr.ContextualLabels).To(HaveLen(1))
			Expect(mr.ContextualLabels[0].Title).To(Equal("pipeline::tier-3"))

			Expect(users.touched).To(HaveKeyWithValue("pedropombeiro", now))
			Expect(broadcaster.snapshots).To(HaveLen(1))
			Expect(enricher.calls).To(Equal(1))
		})

		It("serves the cache without broadcasting again", func() {
			_, err := dashboard.MergeRequests(ctx, "pedropombeiro", model.KindOpen)
			Expect(err).NotTo(HaveOccurred())

			result, err := dashboard.MergeRequests(ctx, "pedropombeiro", model.KindMerged)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.FreshlyFetched).To(BeFalse())
			Expect(result.Snapshot.Items[0].IID).To(Equal("170000"))

			Expect(gw.Calls("open")).To(Equal(1))
			Expect(broadcaster.snapshots).To(HaveLen(1))
		})

		It("does not enrich merged snapshots", func() {
			_, err := dashboard.MergeRequests(ctx, "pedropombeiro", model.KindMerged)
			Expect(err).NotTo(HaveOccurred())
			Expect(enricher.calls).To(Equal(0))
		})

		It("falls back to the last good snapshot when the refetch fails", func() {
			_, err := dashboard.MergeRequests(ctx, "pedropombeiro", model.KindOpen)
			Expect(err).NotTo(HaveOccurred())

			advance(6 * time.Minute)
			openFails = true

			result, err := dashboard.MergeRequests(ctx, "pedropombeiro", model.KindOpen)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.FreshlyFetched).To(BeFalse())
			Expect(result.RefreshErrors).To(HaveLen(1))
			Expect(result.Snapshot.HasErrors()).To(BeFalse())
			Expect(result.Snapshot.Items).To(HaveLen(1))
			Expect(broadcaster.snapshots).To(HaveLen(1))
		})

		It("returns the errored snapshot when nothing good is cached", func() {
			openFails = true

			result, err := dashboard.MergeRequests(ctx, "pedropombeiro", model.KindOpen)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Snapshot.HasErrors()).To(BeTrue())
			Expect(broadcaster.snapshots).To(BeEmpty())
		})

		It("rejects invalid usernames without recording a visit", func() {
			_, err := dashboard.MergeRequests(ctx, "../etc/passwd", model.KindOpen)
			Expect(err).To(MatchError(fetcher.ErrInvalidUsername))
			Expect(users.touched).To(BeEmpty())
		})

		It("ignores visit bookkeeping failures", func() {
			users.err = errors.New("database is down")
			_, err := dashboard.MergeRequests(ctx, "pedropombeiro", model.KindOpen)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("RefreshService.Refresh", func() {
		It("notifies about a pipeline tier change", func() {
			count, err := dashboard.MonthlyMergedCount(ctx, "pedropombeiro")
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(3))

			Expect(refresh.Refresh(ctx, "pedropombeiro", model.KindOpen)).To(Succeed())
			Expect(dispatcher.events).To(BeEmpty())

			advance(5 * time.Minute)
			openLabels = []string{"pipeline::tier-2"}
			Expect(refresh.Refresh(ctx, "pedropombeiro", model.KindOpen)).To(Succeed())

			Expect(dispatcher.username).To(Equal("pedropombeiro"))
			Expect(dispatcher.events).To(HaveLen(1))
			event := dispatcher.events[0]
			Expect(event.Type).To(Equal(model.EventLabelChange))
			Expect(event.Title).To(Equal("Merge request labels changed"))
			Expect(event.Body).To(Equal("changed to pipeline::tier-2\n\n!173741: Merge request 173741"))
			Expect(event.Tag).To(Equal("173741"))
			Expect(event.URL).To(Equal("https://gitlab.com/gitlab-org/gitlab/-/merge_requests/173741"))

			_, err = dashboard.MonthlyMergedCount(ctx, "pedropombeiro")
			Expect(err).NotTo(HaveOccurred())
			Expect(gw.Calls("monthly_merged_count")).To(Equal(1))
		})

		It("broadcasts both kinds on every refresh", func() {
			Expect(refresh.Refresh(ctx, "pedropombeiro", model.KindMerged)).To(Succeed())
			Expect(broadcaster.snapshots).To(HaveLen(2))
			Expect(enricher.calls).To(Equal(1))
			Expect(gw.Calls("open")).To(Equal(1))
			Expect(gw.Calls("merged")).To(Equal(1))
		})

		It("invalidates the monthly count when a merge request was merged", func() {
			_, err := dashboard.MonthlyMergedCount(ctx, "pedropombeiro")
			Expect(err).NotTo(HaveOccurred())
			Expect(refresh.Refresh(ctx, "pedropombeiro", model.KindMerged)).To(Succeed())

			advance(5 * time.Minute)
			mergedNodes = append([]map[string]any{mergeRequestNode("173741", "merged")}, mergedNodes...)
			Expect(refresh.Refresh(ctx, "pedropombeiro", model.KindMerged)).To(Succeed())

			Expect(dispatcher.events).To(ContainElement(SatisfyAll(
				HaveField("Type", model.EventMergeRequestMerged),
				HaveField("Body", "!173741: Merge request 173741"),
			)))

			_, err = dashboard.MonthlyMergedCount(ctx, "pedropombeiro")
			Expect(err).NotTo(HaveOccurred())
			Expect(gw.Calls("monthly_merged_count")).To(Equal(2))
		})

		It("neither broadcasts nor diffs when upstream fails", func() {
			Expect(refresh.Refresh(ctx, "pedropombeiro", model.KindOpen)).To(Succeed())
			broadcaster.snapshots = nil

			advance(5 * time.Minute)
			openLabels = []string{"pipeline::tier-2"}
			openFails = true
			Expect(refresh.Refresh(ctx, "pedropombeiro", model.KindOpen)).To(Succeed())
			Expect(broadcaster.snapshots).To(BeEmpty())
			Expect(dispatcher.events).To(BeEmpty())

			advance(5 * time.Minute)
			openFails = false
			Expect(refresh.Refresh(ctx, "pedropombeiro", model.KindOpen)).To(Succeed())
			Expect(dispatcher.events).To(HaveLen(1))
		})

		It("drops jobs for unknown users", func() {
			gw.queryFn = func(context.Context, string, map[string]any) (*gateway.Response, error) {
				return dataResponse(map[string]any{"user": nil}), nil
			}
			Expect(refresh.Refresh(ctx, "ghost", model.KindOpen)).To(Succeed())
			Expect(broadcaster.snapshots).To(BeEmpty())
		})

		It("fails the job on connection failures", func() {
			dialErr = &net.OpError{Op: "dial", Err: errors.New("connection refused")}
			err := refresh.Refresh(ctx, "pedropombeiro", model.KindOpen)
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, dialErr)).To(BeTrue())
		})

		It("does not fail the job when dispatching fails", func() {
			Expect(refresh.Refresh(ctx, "pedropombeiro", model.KindOpen)).To(Succeed())
			advance(5 * time.Minute)
			openLabels = nil
			dispatcher.err = errors.New("subscriptions unavailable")
			Expect(refresh.Refresh(ctx, "pedropombeiro", model.KindOpen)).To(Succeed())
			Expect(dispatcher.events).To(HaveLen(1))
			Expect(dispatcher.events[0].Body).To(HavePrefix("no longer labeled pipeline::tier-3"))
		})
	})
})
