package fetcher

import (
	"context"
	"fmt"
	"time"

	"mrpulse.app/dashboard/internal/cache"
	"mrpulse.app/dashboard/internal/gateway"
)

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func (f *MergeRequestFetcher) monthlyKey(author string, month time.Time) string {
	return f.keys.Key("monthly_merged_count", f.versions.monthly, author, month.Format("2006-01"))
}

// MonthlyMergedCount counts the author's merge requests merged since the
// start of the current UTC month.
func (f *MergeRequestFetcher) MonthlyMergedCount(ctx context.Context, author string) (int, error) {
	if !ValidUsername(author) {
		return 0, ErrInvalidUsername
	}

	month := monthStart(f.now())
	return cache.Fetch(ctx, f.store, f.monthlyKey(author, month), f.cfg.MonthlyTTL, func(ctx context.Context) (int, error) {
		resp, err := f.gateway.Query(ctx, "monthly_merged_count", gateway.MonthlyMergedCountQuery, map[string]any{
			"username":    author,
			"mergedAfter": month.Format(time.RFC3339),
		})
		if err != nil {
			return 0, fmt.Errorf("counting merged merge requests: %w", err)
		}
		if !resp.OK() {
			return 0, resp.Errors[0]
		}

		var data gateway.MonthlyMergedCountData
		if err := resp.Decode(&data); err != nil {
			return 0, fmt.Errorf("decoding monthly merged count: %w", err)
		}
		if data.User == nil {
			return 0, ErrUserNotFound
		}
		return data.User.MergeRequests.Count, nil
	})
}

// InvalidateMonthlyMergedCount drops the current month's cached count.
func (f *MergeRequestFetcher) InvalidateMonthlyMergedCount(ctx context.Context, author string) error {
	if err := f.store.Delete(ctx, f.monthlyKey(author, monthStart(f.now()))); err != nil {
		return fmt.Errorf("invalidating monthly merged count: %w", err)
	}
	return nil
}
