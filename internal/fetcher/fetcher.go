package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"mrpulse.app/dashboard/common/logger"
	"mrpulse.app/dashboard/core/config"
	"mrpulse.app/dashboard/internal/cache"
	"mrpulse.app/dashboard/internal/cachekey"
	"mrpulse.app/dashboard/internal/gateway"
	"mrpulse.app/dashboard/internal/lock"
	"mrpulse.app/dashboard/internal/model"
)

var (
	// ErrInvalidUsername is returned before any cache or API access.
	ErrInvalidUsername = errors.New("invalid username")
	ErrUserNotFound    = errors.New("user not found")
)

// GitLab usernames: alphanumerics, underscore, dash and dot, not starting
// with a dash or dot.
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.\-]{0,254}$`)

func ValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// RawSnapshot is one cached fetch result for an author and kind. It is
// replaced by the next fetch and never modified in place.
type RawSnapshot struct {
	Author                string                     `json:"author"`
	Kind                  model.Kind                 `json:"kind"`
	FetchedAt             time.Time                  `json:"fetched_at"`
	RequestDurationMs     float64                    `json:"request_duration_ms"`
	Errors                []model.GatewayError       `json:"errors,omitempty"`
	NextUpdateAt          time.Time                  `json:"next_update_at"`
	NextScheduledUpdateAt time.Time                  `json:"next_scheduled_update_at"`
	Items                 []gateway.CoreMergeRequest `json:"items"`
}

func (s *RawSnapshot) HasErrors() bool {
	return s != nil && len(s.Errors) > 0
}

type FetchResult struct {
	Data           *RawSnapshot
	FreshlyFetched bool
	// RefreshErrors is set when a refetch failed and Data is the last good
	// snapshot instead.
	RefreshErrors []model.GatewayError
}

type Config struct {
	// Validity is how long a snapshot is served before refetching.
	Validity time.Duration
	// StaleRetention is the store ttl of snapshots, longer than Validity.
	StaleRetention time.Duration
	MonthlyTTL     time.Duration
	MergedLimit    int
	// ActiveInterval applies when an open pipeline is running or pending.
	ActiveInterval time.Duration
	IdleInterval   time.Duration
	// FetchLockTTL bounds how long one process may hold an author's upstream
	// fetch lock.
	FetchLockTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		Validity:       5 * time.Minute,
		StaleRetention: 24 * time.Hour,
		MonthlyTTL:     6 * time.Hour,
		MergedLimit:    20,
		ActiveInterval: 5 * time.Minute,
		IdleInterval:   30 * time.Minute,
		FetchLockTTL:   time.Minute,
	}
}

type FetchOption func(*fetchOptions)

type fetchOptions struct {
	force bool
}

// WithForce skips the cache lookup. Used by scheduled refreshes.
func WithForce() FetchOption {
	return func(o *fetchOptions) { o.force = true }
}

// MergeRequestFetcher fetches an author's open and merged merge requests with
// cache-aside semantics. Both kinds are always fetched together.
type MergeRequestFetcher struct {
	gateway  gateway.Gateway
	store    cache.Store
	keys     cachekey.Builder
	policy   config.MergeRequests
	cfg      Config
	now      func() time.Time
	group    singleflight.Group
	locker   lock.Locker
	versions versions
}

type versions struct {
	mergeRequests string
	issues        string
	monthly       string
}

func New(gw gateway.Gateway, store cache.Store, keys cachekey.Builder, policy config.MergeRequests, cfg Config) *MergeRequestFetcher {
	if cfg.FetchLockTTL <= 0 {
		cfg.FetchLockTTL = time.Minute
	}
	return &MergeRequestFetcher{
		gateway: gw,
		store:   store,
		keys:    keys,
		policy:  policy,
		cfg:     cfg,
		now:     time.Now,
		versions: versions{
			mergeRequests: cachekey.Version(gateway.OpenMergeRequestsQuery, gateway.MergedMergeRequestsQuery),
			issues:        cachekey.Version(gateway.ProjectIssuesQuery),
			monthly:       cachekey.Version(gateway.MonthlyMergedCountQuery),
		},
	}
}

// WithClock replaces the clock. Intended for tests.
func (f *MergeRequestFetcher) WithClock(now func() time.Time) *MergeRequestFetcher {
	f.now = now
	return f
}

// WithLocker excludes upstream fetches of the same author across processes.
// While another process holds an author's lock the stored snapshots are
// served instead.
func (f *MergeRequestFetcher) WithLocker(locker lock.Locker) *MergeRequestFetcher {
	f.locker = locker
	return f
}

func (f *MergeRequestFetcher) snapshotKey(author string, kind model.Kind) string {
	return f.keys.Key("merge_requests", f.versions.mergeRequests, author, string(kind))
}

// Cached returns the stored snapshot without fetching, or nil.
func (f *MergeRequestFetcher) Cached(ctx context.Context, author string, kind model.Kind) (*RawSnapshot, error) {
	if !ValidUsername(author) {
		return nil, ErrInvalidUsername
	}

	var snapshot RawSnapshot
	hit, err := f.store.Read(ctx, f.snapshotKey(author, kind), &snapshot)
	if err != nil {
		return nil, fmt.Errorf("reading cached snapshot: %w", err)
	}
	if !hit {
		return nil, nil
	}
	return &snapshot, nil
}

type flightResult struct {
	snapshots map[model.Kind]*RawSnapshot
	fetched   bool
}

// Fetch returns the author's snapshot of the given kind. A returned error is
// either a validation/not-found sentinel or a network failure; upstream
// errors are carried in the snapshot.
func (f *MergeRequestFetcher) Fetch(ctx context.Context, author string, kind model.Kind, opts ...FetchOption) (*FetchResult, error) {
	results, err := f.fetch(ctx, author, []model.Kind{kind}, opts...)
	if err != nil {
		return nil, err
	}
	return results[kind], nil
}

// FetchAll returns both kinds from a single fetch.
func (f *MergeRequestFetcher) FetchAll(ctx context.Context, author string, opts ...FetchOption) (map[model.Kind]*FetchResult, error) {
	return f.fetch(ctx, author, model.Kinds, opts...)
}

func (f *MergeRequestFetcher) fetch(ctx context.Context, author string, kinds []model.Kind, opts ...FetchOption) (map[model.Kind]*FetchResult, error) {
	if !ValidUsername(author) {
		return nil, ErrInvalidUsername
	}

	var o fetchOptions
	for _, opt := range opts {
		opt(&o)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Author:    logger.Ptr(author),
		Component: "mrpulse.fetcher.merge_requests",
	})
	if len(kinds) == 1 {
		ctx = logger.WithLogFields(ctx, logger.LogFields{Kind: logger.Ptr(string(kinds[0]))})
	}

	previous := make(map[model.Kind]*RawSnapshot, len(kinds))
	allFresh := !o.force
	for _, kind := range kinds {
		snapshot, err := f.Cached(ctx, author, kind)
		if err != nil {
			slog.WarnContext(ctx, "cache read failed, fetching", "kind", kind, "error", err)
			snapshot = nil
		}
		previous[kind] = snapshot
		if snapshot == nil || !f.now().Before(snapshot.NextUpdateAt) {
			allFresh = false
		}
	}
	if allFresh {
		results := make(map[model.Kind]*FetchResult, len(kinds))
		for _, kind := range kinds {
			results[kind] = &FetchResult{Data: previous[kind]}
		}
		return results, nil
	}

	// Forced and cache-aside callers share one flight per author. A caller
	// joining a running flight takes its result whichever mode started it.
	flightKey := strings.ToLower(author)

	// The flight outlives a single caller's cancellation since other callers
	// share its result.
	flightCtx := context.WithoutCancel(ctx)
	v, err, shared := f.group.Do(flightKey, func() (any, error) {
		return f.flight(flightCtx, author, o.force)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		slog.DebugContext(ctx, "joined in-flight fetch")
	}

	flight := v.(*flightResult)
	results := make(map[model.Kind]*FetchResult, len(kinds))
	for _, kind := range kinds {
		results[kind] = f.outcome(ctx, flight, kind, previous[kind])
	}
	return results, nil
}

// outcome falls back to the last good snapshot when the refetch failed.
func (f *MergeRequestFetcher) outcome(ctx context.Context, flight *flightResult, kind model.Kind, previous *RawSnapshot) *FetchResult {
	current := flight.snapshots[kind]
	if !flight.fetched {
		return &FetchResult{Data: current}
	}

	if current.HasErrors() && previous != nil && !previous.HasErrors() {
		slog.WarnContext(ctx, "refresh failed, serving last good snapshot",
			"kind", kind,
			"errors", len(current.Errors),
			"fetched_at", previous.FetchedAt)
		return &FetchResult{Data: previous, RefreshErrors: current.Errors}
	}

	return &FetchResult{Data: current, FreshlyFetched: true}
}

func (f *MergeRequestFetcher) flight(ctx context.Context, author string, force bool) (*flightResult, error) {
	if !force {
		// A flight that finished just before this one started may already
		// have stored both kinds.
		if cached := f.freshPair(ctx, author); cached != nil {
			return &flightResult{snapshots: cached}, nil
		}
	}

	if f.locker != nil {
		release, acquired, err := f.locker.TryLock(ctx, fetchLockKey(author), f.cfg.FetchLockTTL)
		if err != nil {
			slog.WarnContext(ctx, "fetch lock unavailable, fetching anyway", "error", err)
		} else if !acquired {
			if stored := f.storedPair(ctx, author); stored != nil {
				slog.InfoContext(ctx, "author is being fetched elsewhere, serving stored snapshots")
				return &flightResult{snapshots: stored}, nil
			}
			slog.InfoContext(ctx, "author is being fetched elsewhere but nothing is stored, fetching")
		} else {
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					slog.WarnContext(ctx, "failed to release fetch lock", "error", err)
				}
			}()
		}
	}

	snapshots, err := f.fetchBoth(ctx, author)
	if err != nil {
		return nil, err
	}
	return &flightResult{snapshots: snapshots, fetched: true}, nil
}

func fetchLockKey(author string) string {
	return "fetch:" + strings.ToLower(author)
}

// storedPair returns both stored snapshots regardless of age, or nil when
// either is missing.
func (f *MergeRequestFetcher) storedPair(ctx context.Context, author string) map[model.Kind]*RawSnapshot {
	pair := make(map[model.Kind]*RawSnapshot, len(model.Kinds))
	for _, kind := range model.Kinds {
		snapshot, err := f.Cached(ctx, author, kind)
		if err != nil || snapshot == nil {
			return nil
		}
		pair[kind] = snapshot
	}
	return pair
}

func (f *MergeRequestFetcher) freshPair(ctx context.Context, author string) map[model.Kind]*RawSnapshot {
	pair := make(map[model.Kind]*RawSnapshot, len(model.Kinds))
	for _, kind := range model.Kinds {
		snapshot, err := f.Cached(ctx, author, kind)
		if err != nil || snapshot == nil || !f.now().Before(snapshot.NextUpdateAt) {
			return nil
		}
		pair[kind] = snapshot
	}
	return pair
}

func (f *MergeRequestFetcher) fetchBoth(ctx context.Context, author string) (map[model.Kind]*RawSnapshot, error) {
	sc := logger.StartSpan(ctx, "fetcher.fetch_merge_requests")
	defer sc.End()
	ctx = sc.Context()

	fetchedAt := f.now()

	var open, merged *gateway.Response
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		resp, err := f.gateway.Query(gctx, "open", gateway.OpenMergeRequestsQuery, map[string]any{
			"username": author,
		})
		open = resp
		return err
	})
	g.Go(func() error {
		resp, err := f.gateway.Query(gctx, "merged", gateway.MergedMergeRequestsQuery, map[string]any{
			"username": author,
			"first":    f.cfg.MergedLimit,
		})
		merged = resp
		return err
	})
	if err := g.Wait(); err != nil {
		sc.RecordError(err)
		return nil, fmt.Errorf("fetching merge requests: %w", err)
	}

	openItems, openFound, openErrs := decodeMergeRequests(open, "open")
	mergedItems, mergedFound, mergedErrs := decodeMergeRequests(merged, "merged")

	if (len(openErrs) == 0 && !openFound) || (len(mergedErrs) == 0 && !mergedFound) {
		return nil, ErrUserNotFound
	}

	// Either query failing taints both snapshots.
	errs := append(append([]model.GatewayError(nil), openErrs...), mergedErrs...)

	nextScheduled := fetchedAt.Add(f.cfg.IdleInterval)
	if len(errs) > 0 || hasActivePipeline(openItems) {
		nextScheduled = fetchedAt.Add(f.cfg.ActiveInterval)
	}

	base := RawSnapshot{
		Author:                author,
		FetchedAt:             fetchedAt,
		RequestDurationMs:     max(open.RequestDurationMs, merged.RequestDurationMs),
		Errors:                errs,
		NextUpdateAt:          fetchedAt.Add(f.cfg.Validity),
		NextScheduledUpdateAt: nextScheduled,
	}

	openSnapshot := base
	openSnapshot.Kind = model.KindOpen
	openSnapshot.Items = openItems

	mergedSnapshot := base
	mergedSnapshot.Kind = model.KindMerged
	mergedSnapshot.Items = mergedItems

	snapshots := map[model.Kind]*RawSnapshot{
		model.KindOpen:   &openSnapshot,
		model.KindMerged: &mergedSnapshot,
	}
	for _, snapshot := range snapshots {
		f.save(ctx, snapshot)
	}

	slog.InfoContext(ctx, "fetched merge requests",
		"open", len(openItems),
		"merged", len(mergedItems),
		"errors", len(errs),
		"next_scheduled_update_at", nextScheduled)

	return snapshots, nil
}

// save writes the snapshot unless it carries errors and would replace a
// good one.
func (f *MergeRequestFetcher) save(ctx context.Context, snapshot *RawSnapshot) {
	key := f.snapshotKey(snapshot.Author, snapshot.Kind)

	if snapshot.HasErrors() {
		var existing RawSnapshot
		if hit, err := f.store.Read(ctx, key, &existing); err == nil && hit && !existing.HasErrors() {
			return
		}
	}

	if err := f.store.Write(ctx, key, snapshot, f.cfg.StaleRetention); err != nil {
		slog.WarnContext(ctx, "failed to cache snapshot", "kind", snapshot.Kind, "error", err)
	}
}

func decodeMergeRequests(resp *gateway.Response, query string) ([]gateway.CoreMergeRequest, bool, []model.GatewayError) {
	if !resp.OK() {
		return nil, false, resp.Errors
	}

	var data gateway.MergeRequestsData
	if err := resp.Decode(&data); err != nil {
		return nil, false, []model.GatewayError{{
			Kind:    model.GatewayErrorMalformed,
			Message: err.Error(),
			Query:   query,
		}}
	}
	if data.User == nil {
		return nil, false, nil
	}
	return data.User.MergeRequests.Nodes, true, nil
}

func hasActivePipeline(items []gateway.CoreMergeRequest) bool {
	for _, mr := range items {
		if mr.HeadPipeline == nil {
			continue
		}
		switch strings.ToUpper(mr.HeadPipeline.Status) {
		case "RUNNING", "PENDING":
			return true
		}
	}
	return false
}
