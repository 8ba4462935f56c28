package service

import (
	"context"
	"fmt"

	"mrpulse.app/dashboard/internal/dto"
	"mrpulse.app/dashboard/internal/fetcher"
	"mrpulse.app/dashboard/internal/model"
)

// snapshotBuilder resolves issues and reviewers for a raw snapshot and
// normalizes it.
type snapshotBuilder struct {
	fetcher    MergeRequestFetcher
	enricher   ReviewerEnricher
	normalizer *dto.Normalizer
}

func (b *snapshotBuilder) build(ctx context.Context, raw *fetcher.RawSnapshot) (*model.Snapshot, error) {
	if raw.HasErrors() {
		return b.normalizer.Normalize(raw, nil), nil
	}

	issues, err := b.fetcher.FetchIssues(ctx, raw.Items)
	if err != nil {
		return nil, fmt.Errorf("fetching issues: %w", err)
	}

	enriched := *raw
	if raw.Kind == model.KindOpen && b.enricher != nil {
		items, err := b.enricher.Enrich(ctx, raw.Items)
		if err != nil {
			return nil, err
		}
		enriched.Items = items
	}

	return b.normalizer.Normalize(&enriched, issues), nil
}
