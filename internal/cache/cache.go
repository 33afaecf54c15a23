package cache

import (
	"context"
	"time"

	"tokoledger/backend/internal/domain"
)

// SummaryCache is a read-side cache for derived business summaries. The
// service invalidates a category's key inside the same call that mutates
// its ledger, so a cached figure never outlives the state it was derived
// from by more than one invalidation.
type SummaryCache interface {
	Get(ctx context.Context, categoryID string) (*domain.BusinessSummary, bool, error)
	Set(ctx context.Context, categoryID string, value *domain.BusinessSummary, ttl time.Duration) error
	Invalidate(ctx context.Context, categoryID string) error
}

type NoopSummaryCache struct{}

func (NoopSummaryCache) Get(_ context.Context, _ string) (*domain.BusinessSummary, bool, error) {
	return nil, false, nil
}

func (NoopSummaryCache) Set(_ context.Context, _ string, _ *domain.BusinessSummary, _ time.Duration) error {
	return nil
}

func (NoopSummaryCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
