// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package services holds background jobs that run alongside the gateway.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/specforge/specforge"
)

// MonthlyPeriod identifies one calendar month of usage.
type MonthlyPeriod struct {
	Year  int
	Month time.Month
}

// String formats the period the way aggregate rows key it.
func (p MonthlyPeriod) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// Bounds returns the UTC half-open time range [start, end) of the period.
func (p MonthlyPeriod) Bounds() (time.Time, time.Time) {
	start := time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// CurrentPeriod returns the period containing now, in UTC.
func CurrentPeriod(now time.Time) MonthlyPeriod {
	utc := now.UTC()
	return MonthlyPeriod{Year: utc.Year(), Month: utc.Month()}
}

// Previous returns the period immediately before p.
func (p MonthlyPeriod) Previous() MonthlyPeriod {
	start, _ := p.Bounds()
	prev := start.AddDate(0, -1, 0)
	return MonthlyPeriod{Year: prev.Year(), Month: prev.Month()}
}

// Aggregator rebuilds the monthly usage aggregates from the append-only
// ledger. The write path keeps the aggregates fresh incrementally, but those
// writes are best effort; the periodic rebuild reconciles whatever they
// dropped.
type Aggregator struct {
	usageRepo specforge.UsageRepository
	logger    *slog.Logger
	now       func() time.Time
}

// AggregatorOption configures Aggregator behavior
type AggregatorOption func(*Aggregator)

// WithAggregatorLogger sets the logger for the aggregator
func WithAggregatorLogger(logger *slog.Logger) AggregatorOption {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// WithAggregatorClock overrides the timestamp source
func WithAggregatorClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) {
		a.now = now
	}
}

// NewAggregator creates a new Aggregator instance
func NewAggregator(usageRepo specforge.UsageRepository, options ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		usageRepo: usageRepo,
		logger:    slog.Default(),
		now:       time.Now,
	}

	for _, opt := range options {
		opt(a)
	}

	return a
}

// ReconcilePeriod rebuilds the aggregates for one period from the ledger.
func (a *Aggregator) ReconcilePeriod(ctx context.Context, period MonthlyPeriod) error {
	start, end := period.Bounds()

	if err := a.usageRepo.RecalculateMonthlyUsage(ctx, start, end); err != nil {
		a.logger.Error("Failed to reconcile monthly usage", "period", period.String(), "error", err)
		return fmt.Errorf("failed to reconcile period %s: %w", period.String(), err)
	}

	a.logger.Info("Monthly usage reconciled", "period", period.String())
	return nil
}

// Reconcile rebuilds the current period and, early in a new month, the
// previous one as well, so calls recorded around the month boundary are not
// stranded in a period that never gets rebuilt again.
func (a *Aggregator) Reconcile(ctx context.Context) error {
	now := a.now()
	current := CurrentPeriod(now)

	if err := a.ReconcilePeriod(ctx, current); err != nil {
		return err
	}

	if now.UTC().Day() <= 2 {
		if err := a.ReconcilePeriod(ctx, current.Previous()); err != nil {
			return err
		}
	}

	return nil
}
