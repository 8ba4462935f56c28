package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mrpulse.app/dashboard/common/logger"
	"mrpulse.app/dashboard/internal/cache"
	"mrpulse.app/dashboard/internal/cachekey"
	"mrpulse.app/dashboard/internal/gateway"
	"mrpulse.app/dashboard/internal/model"
)

// TimezoneResolver maps a free-form profile location to an IANA zone name.
type TimezoneResolver interface {
	Resolve(ctx context.Context, location string) (string, error)
}

type ReviewerConfig struct {
	TTL         time.Duration
	TimezoneTTL time.Duration
	// Concurrency bounds parallel reviewer lookups.
	Concurrency int
}

// ReviewerEnricher fills reviewer nodes with profile data fetched per
// reviewer and cached separately from the merge request snapshots.
type ReviewerEnricher struct {
	gateway  gateway.Gateway
	store    cache.Store
	keys     cachekey.Builder
	resolver TimezoneResolver
	cfg      ReviewerConfig
	version  string
}

// NewReviewerEnricher builds an enricher. resolver may be nil, in which case
// reviewers get no timezone.
func NewReviewerEnricher(gw gateway.Gateway, store cache.Store, keys cachekey.Builder, resolver TimezoneResolver, cfg ReviewerConfig) *ReviewerEnricher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &ReviewerEnricher{
		gateway:  gw,
		store:    store,
		keys:     keys,
		resolver: resolver,
		cfg:      cfg,
		version:  cachekey.Version(gateway.ReviewerQuery),
	}
}

// Enrich returns a copy of items with every reviewer merged with its profile.
// Reviewers whose lookup fails upstream are left as they are.
func (e *ReviewerEnricher) Enrich(ctx context.Context, items []gateway.CoreMergeRequest) ([]gateway.CoreMergeRequest, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "mrpulse.fetcher.reviewers"})

	var usernames []string
	seen := make(map[string]struct{})
	for _, mr := range items {
		for _, r := range mr.Reviewers.Nodes {
			if _, ok := seen[r.Username]; ok {
				continue
			}
			seen[r.Username] = struct{}{}
			usernames = append(usernames, r.Username)
		}
	}

	var mu sync.Mutex
	profiles := make(map[string]gateway.ExtendedUser, len(usernames))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for _, username := range usernames {
		g.Go(func() error {
			profile, err := e.profile(gctx, username)
			if err != nil {
				var gwErr model.GatewayError
				if errors.As(err, &gwErr) || errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrInvalidUsername) {
					slog.WarnContext(gctx, "reviewer lookup failed", "reviewer", username, "error", err)
					return nil
				}
				return err
			}
			mu.Lock()
			profiles[username] = profile
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("enriching reviewers: %w", err)
	}

	out := make([]gateway.CoreMergeRequest, len(items))
	for i, mr := range items {
		reviewers := make([]gateway.ExtendedUser, len(mr.Reviewers.Nodes))
		for j, r := range mr.Reviewers.Nodes {
			if profile, ok := profiles[r.Username]; ok {
				ReverseMerge(&r, profile)
			}
			// Resolved after merging so a location from the primary query wins.
			if r.Timezone == nil && r.Location != nil && *r.Location != "" && e.resolver != nil {
				if tz, ok := e.timezone(ctx, *r.Location); ok {
					r.Timezone = &tz
				}
			}
			reviewers[j] = r
		}
		mr.Reviewers.Nodes = reviewers
		out[i] = mr
	}
	return out, nil
}

func (e *ReviewerEnricher) profile(ctx context.Context, username string) (gateway.ExtendedUser, error) {
	if !ValidUsername(username) {
		return gateway.ExtendedUser{}, ErrInvalidUsername
	}

	key := e.keys.Key("reviewer", e.version, username)
	return cache.Fetch(ctx, e.store, key, e.cfg.TTL, func(ctx context.Context) (gateway.ExtendedUser, error) {
		resp, err := e.gateway.Query(ctx, "reviewer", gateway.ReviewerQuery, map[string]any{"username": username})
		if err != nil {
			return gateway.ExtendedUser{}, err
		}
		if !resp.OK() {
			return gateway.ExtendedUser{}, resp.Errors[0]
		}

		var data gateway.ReviewerData
		if err := resp.Decode(&data); err != nil {
			return gateway.ExtendedUser{}, model.GatewayError{
				Kind:    model.GatewayErrorMalformed,
				Message: err.Error(),
				Query:   "reviewer",
			}
		}
		if data.User == nil {
			return gateway.ExtendedUser{}, ErrUserNotFound
		}

		profile := data.User.ExtendedUser
		active := countUnapproved(data.User.ReviewRequestedMergeRequests.Nodes, username)
		profile.ActiveReviewsCount = &active
		// The interaction belongs to a specific merge request, not the profile.
		profile.MergeRequestInteraction = nil
		return profile, nil
	})
}

func countUnapproved(requested []gateway.ApprovedBy, username string) int {
	count := 0
	for _, mr := range requested {
		approved := false
		for _, u := range mr.ApprovedBy.Nodes {
			if u.Username == username {
				approved = true
				break
			}
		}
		if !approved {
			count++
		}
	}
	return count
}

func (e *ReviewerEnricher) timezone(ctx context.Context, location string) (string, bool) {
	key := e.keys.Key("timezone", "v1", location)
	tz, err := cache.Fetch(ctx, e.store, key, e.cfg.TimezoneTTL, func(ctx context.Context) (string, error) {
		return e.resolver.Resolve(ctx, location)
	})
	if err != nil {
		slog.WarnContext(ctx, "timezone lookup failed", "location", location, "error", err)
		return "", false
	}
	return tz, tz != ""
}

// ReverseMerge fills fields of dst that are absent with the values from src.
// Fields already present on dst are kept.
func ReverseMerge(dst *gateway.ExtendedUser, src gateway.ExtendedUser) {
	if dst.Name == "" {
		dst.Name = src.Name
	}
	if dst.WebURL == "" {
		dst.WebURL = src.WebURL
	}
	if dst.AvatarURL == "" {
		dst.AvatarURL = src.AvatarURL
	}
	dst.Bot = dst.Bot || src.Bot
	if dst.LastActivityOn == nil {
		dst.LastActivityOn = src.LastActivityOn
	}
	if dst.Location == nil {
		dst.Location = src.Location
	}
	if dst.Status == nil {
		dst.Status = src.Status
	}
	if dst.MergeRequestInteraction == nil {
		dst.MergeRequestInteraction = src.MergeRequestInteraction
	}
	if dst.ActiveReviewsCount == nil {
		dst.ActiveReviewsCount = src.ActiveReviewsCount
	}
	if dst.Timezone == nil {
		dst.Timezone = src.Timezone
	}
}
