// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package postgres

import (
	"context"
	"time"

	"github.com/specforge/specforge"
	"github.com/specforge/specforge/internal/cache"
)

// CachedUsageRepository wraps a UsageRepository and caches the monthly
// aggregate reads. Only reporting reads are cached; the write path and the
// append-only ledger reads always hit the store, and admission never goes
// through this wrapper at all, so a stale cache can never admit an operation.
type CachedUsageRepository struct {
	underlying   specforge.UsageRepository
	monthlyCache *cache.Cache[string, []*specforge.MonthlyUsage]
	cacheTTL     time.Duration
}

// NewCachedUsageRepository creates a new cached usage repository
func NewCachedUsageRepository(underlying specforge.UsageRepository, cacheTTL time.Duration) *CachedUsageRepository {
	return &CachedUsageRepository{
		underlying:   underlying,
		monthlyCache: cache.New[string, []*specforge.MonthlyUsage](cacheTTL),
		cacheTTL:     cacheTTL,
	}
}

func monthlyCacheKey(userID, period string) string {
	return userID + "/" + period
}

// GetMonthlyUsage retrieves a user's aggregates for a period with caching
func (r *CachedUsageRepository) GetMonthlyUsage(ctx context.Context, userID, period string) ([]*specforge.MonthlyUsage, error) {
	cacheKey := monthlyCacheKey(userID, period)

	if cached, found := r.monthlyCache.Get(cacheKey); found {
		return cached, nil
	}

	aggregates, err := r.underlying.GetMonthlyUsage(ctx, userID, period)
	if err != nil {
		return nil, err
	}

	r.monthlyCache.Set(cacheKey, aggregates)
	return aggregates, nil
}

// CreateUsageRecord appends a ledger entry and invalidates the writer's
// aggregate for the record's period
func (r *CachedUsageRepository) CreateUsageRecord(ctx context.Context, record *specforge.UsageRecord) error {
	err := r.underlying.CreateUsageRecord(ctx, record)
	if err != nil {
		return err
	}

	r.monthlyCache.Delete(monthlyCacheKey(record.UserID, record.Timestamp.UTC().Format("2006-01")))
	return nil
}

// UpsertMonthlyUsage folds a call into the aggregate and invalidates the
// cached read
func (r *CachedUsageRepository) UpsertMonthlyUsage(ctx context.Context, userID, period, model string, inputTokens, outputTokens int, costCents float64) error {
	err := r.underlying.UpsertMonthlyUsage(ctx, userID, period, model, inputTokens, outputTokens, costCents)
	if err != nil {
		return err
	}

	r.monthlyCache.Delete(monthlyCacheKey(userID, period))
	return nil
}

// RecalculateMonthlyUsage rebuilds aggregates and drops the whole cache,
// since any cached period may have been rewritten
func (r *CachedUsageRepository) RecalculateMonthlyUsage(ctx context.Context, start, end time.Time) error {
	err := r.underlying.RecalculateMonthlyUsage(ctx, start, end)
	if err != nil {
		return err
	}

	r.monthlyCache.Clear()
	return nil
}

// GetUsageRecord retrieves a ledger entry by ID (uncached)
func (r *CachedUsageRepository) GetUsageRecord(ctx context.Context, id string) (*specforge.UsageRecord, error) {
	return r.underlying.GetUsageRecord(ctx, id)
}

// ListUsageRecordsByUser retrieves ledger entries for a user (uncached)
func (r *CachedUsageRepository) ListUsageRecordsByUser(ctx context.Context, userID string, limit, offset int) ([]*specforge.UsageRecord, error) {
	return r.underlying.ListUsageRecordsByUser(ctx, userID, limit, offset)
}

// ListUsageRecordsByPeriod retrieves ledger entries for a time range (uncached)
func (r *CachedUsageRepository) ListUsageRecordsByPeriod(ctx context.Context, userID string, start, end time.Time) ([]*specforge.UsageRecord, error) {
	return r.underlying.ListUsageRecordsByPeriod(ctx, userID, start, end)
}

// Close stops the cache cleanup goroutine
func (r *CachedUsageRepository) Close() {
	r.monthlyCache.Close()
}

// CacheStats returns cache statistics for monitoring
func (r *CachedUsageRepository) CacheStats() map[string]any {
	return map[string]any{
		"monthly_usage_cache_size": r.monthlyCache.Size(),
		"cache_ttl_seconds":        r.cacheTTL.Seconds(),
	}
}
