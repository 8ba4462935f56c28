package fetcher_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"mrpulse.app/dashboard/core/config"
	"mrpulse.app/dashboard/internal/cache"
	"mrpulse.app/dashboard/internal/cachekey"
	"mrpulse.app/dashboard/internal/fetcher"
	"mrpulse.app/dashboard/internal/gateway"
	"mrpulse.app/dashboard/internal/model"
)

var _ = Describe("IssueIID", func() {
	DescribeTable("extracts the first digit run followed by a separator",
		func(branch, iid string, ok bool) {
			got, matched := fetcher.IssueIID(branch)
			Expect(matched).To(Equal(ok))
			Expect(got).To(Equal(iid))
		},
		Entry("iid first", "173741-fix-flaky-spec", "173741", true),
		Entry("user prefix", "pedro/173741-fix", "173741", true),
		Entry("slash separator", "feature/42/do-it", "42", true),
		Entry("first run wins", "v2-update-for-123-thing", "2", true),
		Entry("uppercase prefix", "PEDRO-17-thing", "17", true),
		Entry("no digits", "fix-flaky-spec", "", false),
		Entry("digits without separator", "release42", "", false),
	)
})

var _ = Describe("FetchIssues", func() {
	var (
		ctx      context.Context
		store    *cache.MemoryStore
		gw       *mockGateway
		f        *fetcher.MergeRequestFetcher
		policy   config.MergeRequests
		projects []string
		mu       sync.Mutex
	)

	mr := func(project, branch string) gateway.CoreMergeRequest {
		return gateway.CoreMergeRequest{
			SourceBranch: branch,
			Project:      gateway.Project{FullPath: project},
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = cache.NewMemoryStore()
		projects = nil
		policy = config.DefaultMergeRequests()
		policy.IssueProjectOverrides = map[string]string{
			"gitlab-org/security/gitlab": "gitlab-org/gitlab",
		}

		gw = newMockGateway(func(_ context.Context, name string, variables map[string]any) (*gateway.Response, error) {
			project := variables["fullPath"].(string)
			mu.Lock()
			projects = append(projects, project)
			mu.Unlock()

			var nodes []map[string]any
			for _, iid := range variables["iids"].([]string) {
				nodes = append(nodes, map[string]any{
					"iid":    iid,
					"title":  "Issue " + iid,
					"state":  "opened",
					"webUrl": "https://gitlab.example.com/" + project + "/-/issues/" + iid,
					"labels": map[string]any{"nodes": []any{}},
				})
			}
			return dataResponse(map[string]any{
				"project": map[string]any{"issues": map[string]any{"nodes": nodes}},
			}), nil
		})
		f = fetcher.New(gw, store, cachekey.New("anonymous"), policy, fetcher.DefaultConfig())
	})

	It("returns an empty map without querying when no branch references an issue", func() {
		issues, err := f.FetchIssues(ctx, []gateway.CoreMergeRequest{mr("gitlab-org/gitlab", "no-issue")})
		Expect(err).NotTo(HaveOccurred())
		Expect(issues).To(BeEmpty())
		Expect(gw.Calls("issues")).To(Equal(0))
	})

	It("keys issues by iid and follows project overrides", func() {
		issues, err := f.FetchIssues(ctx, []gateway.CoreMergeRequest{
			mr("gitlab-org/security/gitlab", "12-security-fix"),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(issues).To(HaveKey("12"))
		Expect(projects).To(ConsistOf("gitlab-org/gitlab"))
	})

	It("queries each project once", func() {
		issues, err := f.FetchIssues(ctx, []gateway.CoreMergeRequest{
			mr("gitlab-org/gitlab", "12-a"),
			mr("gitlab-org/gitlab", "13-b"),
			mr("gitlab-org/gitaly", "7-c"),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(issues).To(HaveLen(3))
		Expect(gw.Calls("issues")).To(Equal(2))
	})

	It("shares one cache entry across permutations and duplicates", func() {
		_, err := f.FetchIssues(ctx, []gateway.CoreMergeRequest{
			mr("gitlab-org/gitlab", "12-a"),
			mr("gitlab-org/gitaly", "7-c"),
		})
		Expect(err).NotTo(HaveOccurred())

		issues, err := f.FetchIssues(ctx, []gateway.CoreMergeRequest{
			mr("gitlab-org/gitaly", "7-c"),
			mr("gitlab-org/gitlab", "12-a"),
			mr("gitlab-org/gitlab", "pedro/12-again"),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(issues).To(HaveLen(2))
		Expect(gw.Calls("issues")).To(Equal(2))
	})

	It("does not cache a partial result", func() {
		failing := true
		gw = newMockGateway(func(_ context.Context, _ string, _ map[string]any) (*gateway.Response, error) {
			if failing {
				return &gateway.Response{Errors: []model.GatewayError{{Kind: model.GatewayErrorTimeout, Message: "timeout"}}}, nil
			}
			return dataResponse(map[string]any{"project": nil}), nil
		})
		f = fetcher.New(gw, store, cachekey.New("anonymous"), policy, fetcher.DefaultConfig())

		issues, err := f.FetchIssues(ctx, []gateway.CoreMergeRequest{mr("gitlab-org/gitlab", "12-a")})
		Expect(err).NotTo(HaveOccurred())
		Expect(issues).To(BeEmpty())
		Expect(store.Len()).To(Equal(0))

		failing = false
		_, err = f.FetchIssues(ctx, []gateway.CoreMergeRequest{mr("gitlab-org/gitlab", "12-a")})
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Len()).To(Equal(1))
	})
})

var _ = Describe("MonthlyMergedCount", func() {
	var (
		ctx   context.Context
		now   time.Time
		gw    *mockGateway
		f     *fetcher.MergeRequestFetcher
		after string
	)

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
		gw = newMockGateway(func(_ context.Context, _ string, variables map[string]any) (*gateway.Response, error) {
			after = variables["mergedAfter"].(string)
			return dataResponse(map[string]any{
				"user": map[string]any{"mergeRequests": map[string]any{"count": 7}},
			}), nil
		})
		f = fetcher.New(gw, cache.NewMemoryStore(), cachekey.New("anonymous"), config.DefaultMergeRequests(), fetcher.DefaultConfig()).
			WithClock(func() time.Time { return now })
	})

	It("counts merges since the start of the month and caches the result", func() {
		count, err := f.MonthlyMergedCount(ctx, "pedropombeiro")
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(7))
		Expect(after).To(Equal("2026-03-01T00:00:00Z"))

		_, err = f.MonthlyMergedCount(ctx, "pedropombeiro")
		Expect(err).NotTo(HaveOccurred())
		Expect(gw.Calls("monthly_merged_count")).To(Equal(1))
	})

	It("refetches after invalidation", func() {
		_, err := f.MonthlyMergedCount(ctx, "pedropombeiro")
		Expect(err).NotTo(HaveOccurred())
		Expect(f.InvalidateMonthlyMergedCount(ctx, "pedropombeiro")).To(Succeed())

		_, err = f.MonthlyMergedCount(ctx, "pedropombeiro")
		Expect(err).NotTo(HaveOccurred())
		Expect(gw.Calls("monthly_merged_count")).To(Equal(2))
	})

	It("uses a new entry when the month changes", func() {
		_, err := f.MonthlyMergedCount(ctx, "pedropombeiro")
		Expect(err).NotTo(HaveOccurred())

		now = time.Date(2026, 4, 1, 0, 30, 0, 0, time.UTC)
		_, err = f.MonthlyMergedCount(ctx, "pedropombeiro")
		Expect(err).NotTo(HaveOccurred())
		Expect(after).To(Equal("2026-04-01T00:00:00Z"))
		Expect(gw.Calls("monthly_merged_count")).To(Equal(2))
	})
})
