// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package specforge

import (
	"context"
	"time"
)

// UsageRecord is one append-only ledger entry for a completed provider call.
// Records are never edited; corrections happen via new records.
type UsageRecord struct {
	ID              string         `json:"id"`
	UserID          string         `json:"userId"`
	Timestamp       time.Time      `json:"timestamp"`
	Model           string         `json:"model"`
	OperationType   string         `json:"operationType"`
	InputTokens     int            `json:"inputTokens"`
	OutputTokens    int            `json:"outputTokens"`
	TotalTokens     int            `json:"totalTokens"`
	InputCostCents  float64        `json:"inputCostCents"`
	OutputCostCents float64        `json:"outputCostCents"`
	TotalCostCents  float64        `json:"totalCostCents"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// MonthlyUsage is a pre-aggregated roll-up keyed by (user, period, model).
// Period is formatted "2006-01".
type MonthlyUsage struct {
	UserID         string    `json:"userId"`
	Period         string    `json:"period"`
	Model          string    `json:"model"`
	Requests       int       `json:"requests"`
	InputTokens    int64     `json:"inputTokens"`
	OutputTokens   int64     `json:"outputTokens"`
	TotalCostCents float64   `json:"totalCostCents"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// CreditBalance is a user's credit grant and consumption counter.
// CreditsUsed only ever increases; remaining is Credits - CreditsUsed.
type CreditBalance struct {
	UserID      string  `json:"userId"`
	Credits     float64 `json:"credits"`
	CreditsUsed float64 `json:"creditsUsed"`
}

// Remaining returns the credits left on the balance. It may be negative when
// concurrent debits raced past the advisory admission check.
func (b CreditBalance) Remaining() float64 {
	return b.Credits - b.CreditsUsed
}

// UsageRepository defines persistence operations for the usage ledger.
type UsageRepository interface {
	// CreateUsageRecord appends a new ledger entry
	CreateUsageRecord(ctx context.Context, record *UsageRecord) error

	// GetUsageRecord retrieves a ledger entry by ID
	GetUsageRecord(ctx context.Context, id string) (*UsageRecord, error)

	// ListUsageRecordsByUser retrieves ledger entries for a user with pagination
	ListUsageRecordsByUser(ctx context.Context, userID string, limit, offset int) ([]*UsageRecord, error)

	// ListUsageRecordsByPeriod retrieves ledger entries for a user within a time range
	ListUsageRecordsByPeriod(ctx context.Context, userID string, start, end time.Time) ([]*UsageRecord, error)

	// UpsertMonthlyUsage folds one completed call into the (user, period, model) aggregate
	UpsertMonthlyUsage(ctx context.Context, userID, period, model string, inputTokens, outputTokens int, costCents float64) error

	// GetMonthlyUsage retrieves a user's aggregates for a period
	GetMonthlyUsage(ctx context.Context, userID, period string) ([]*MonthlyUsage, error)

	// RecalculateMonthlyUsage rebuilds the aggregates for a period from the ledger
	RecalculateMonthlyUsage(ctx context.Context, start, end time.Time) error
}

// BalanceRepository defines persistence operations for user credit balances.
type BalanceRepository interface {
	// GetBalance retrieves a user's credit balance
	GetBalance(ctx context.Context, userID string) (*CreditBalance, error)

	// IncrementCreditsUsed atomically adds amount to the user's consumption
	// counter. The increment is a single statement at the store level so a
	// debit is never lost, even though admission around it is check-then-act.
	IncrementCreditsUsed(ctx context.Context, userID string, amount float64) error

	// GrantCredits adds credits to a user's grant, creating the balance row
	// if necessary. Called by the external billing processor.
	GrantCredits(ctx context.Context, userID string, amount float64) error
}
