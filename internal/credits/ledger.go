// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package credits implements admission control and usage metering against a
// user's credit balance. The admission check is advisory (checked, not
// reserved); the debit itself is a single atomic increment at the store
// level, so the only possible race is two operations both being admitted,
// never a lost debit.
package credits

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/specforge/specforge"
	"github.com/specforge/specforge/internal/monitoring"
	"github.com/specforge/specforge/internal/pricing"
)

// creditsPerOperation is the flat user-visible debit per successful call.
// Credits gate operation count; monetary cost is retained only in the ledger
// for reporting.
const creditsPerOperation = 1

// Ledger answers "can this user afford an operation of estimated cost C" and
// records completed operations.
type Ledger struct {
	balances specforge.BalanceRepository
	usage    specforge.UsageRepository
	logger   *slog.Logger
	metrics  *monitoring.GatewayMetrics
	now      func() time.Time
}

// LedgerOption configures Ledger behavior.
type LedgerOption func(*Ledger)

// WithLedgerLogger sets the logger for the ledger.
func WithLedgerLogger(logger *slog.Logger) LedgerOption {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// WithLedgerMetrics sets the metrics for the ledger.
func WithLedgerMetrics(metrics *monitoring.GatewayMetrics) LedgerOption {
	return func(l *Ledger) {
		l.metrics = metrics
	}
}

// WithLedgerClock overrides the timestamp source.
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		l.now = now
	}
}

// NewLedger creates a new Ledger instance.
func NewLedger(balances specforge.BalanceRepository, usage specforge.UsageRepository, options ...LedgerOption) *Ledger {
	l := &Ledger{
		balances: balances,
		usage:    usage,
		logger:   slog.Default(),
		now:      time.Now,
	}

	for _, opt := range options {
		opt(l)
	}

	return l
}

// CheckCredits decides whether userID can afford an operation with the given
// token estimates against model's rates. The decision is exactly
// remaining >= estimated cost. A failed balance lookup denies the operation
// with the error populated rather than silently allowing it.
func (l *Ledger) CheckCredits(ctx context.Context, userID string, inputTokens, outputTokens int, model string) specforge.CreditCheckResult {
	estimatedCost := pricing.Cost(model, inputTokens, outputTokens)

	balance, err := l.balances.GetBalance(ctx, userID)
	if err != nil {
		l.logger.Error("Failed to look up credit balance", "userID", userID, "error", err)
		return specforge.CreditCheckResult{
			HasSufficientCredits:  false,
			EstimatedCost:         estimatedCost,
			EstimatedInputTokens:  inputTokens,
			EstimatedOutputTokens: outputTokens,
			Err:                   err.Error(),
		}
	}

	remaining := balance.Remaining()
	result := specforge.CreditCheckResult{
		HasSufficientCredits:  remaining >= estimatedCost,
		RemainingCredits:      remaining,
		TotalCredits:          balance.Credits,
		EstimatedCost:         estimatedCost,
		EstimatedInputTokens:  inputTokens,
		EstimatedOutputTokens: outputTokens,
	}

	if !result.HasSufficientCredits && l.metrics != nil {
		l.metrics.RecordDenial(ctx, model)
	}

	return result
}

// TrackUsage records one completed provider call: an append-only usage
// record with the real token counts, a flat 1-credit debit, and the monthly
// aggregate roll-up. Tracking is best-effort logging, never a transactional
// side effect of the call — failures are logged and swallowed so a
// successful generation never appears to the user as a failure.
func (l *Ledger) TrackUsage(ctx context.Context, userID, model, operationType string, inputTokens, outputTokens int, metadata map[string]any) {
	timestamp := l.now()
	inputCents, outputCents := pricing.CostCents(model, inputTokens, outputTokens)

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	record := &specforge.UsageRecord{
		ID:              id.String(),
		UserID:          userID,
		Timestamp:       timestamp,
		Model:           model,
		OperationType:   operationType,
		InputTokens:     inputTokens,
		OutputTokens:    outputTokens,
		TotalTokens:     inputTokens + outputTokens,
		InputCostCents:  inputCents,
		OutputCostCents: outputCents,
		TotalCostCents:  inputCents + outputCents,
		Metadata:        metadata,
	}

	if err := l.usage.CreateUsageRecord(ctx, record); err != nil {
		l.logger.Error("Failed to append usage record",
			"userID", userID, "model", model, "operation", operationType, "error", err)
		if l.metrics != nil {
			l.metrics.RecordLedgerWriteError(ctx)
		}
	}

	if err := l.balances.IncrementCreditsUsed(ctx, userID, creditsPerOperation); err != nil {
		l.logger.Error("Failed to debit credits",
			"userID", userID, "operation", operationType, "error", err)
		if l.metrics != nil {
			l.metrics.RecordLedgerWriteError(ctx)
		}
	}

	period := timestamp.UTC().Format("2006-01")
	if err := l.usage.UpsertMonthlyUsage(ctx, userID, period, model, inputTokens, outputTokens, record.TotalCostCents); err != nil {
		l.logger.Error("Failed to update monthly usage aggregate",
			"userID", userID, "period", period, "model", model, "error", err)
		if l.metrics != nil {
			l.metrics.RecordLedgerWriteError(ctx)
		}
	}

	if l.metrics != nil {
		l.metrics.RecordTokens(ctx, model, inputTokens, outputTokens)
		l.metrics.RecordCostCents(ctx, model, record.TotalCostCents)
	}

	l.logger.Debug("Usage tracked",
		"userID", userID,
		"model", model,
		"operation", operationType,
		"inputTokens", inputTokens,
		"outputTokens", outputTokens,
		"totalCostCents", record.TotalCostCents)
}
