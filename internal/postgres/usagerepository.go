// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/specforge/specforge"
)

const usageRecordColumns = `id, user_id, timestamp, model, operation_type,
		input_tokens, output_tokens, total_tokens,
		input_cost_cents, output_cost_cents, total_cost_cents, metadata`

// CreateUsageRecord appends a new ledger entry
func (r *UsageRepository) CreateUsageRecord(ctx context.Context, record *specforge.UsageRecord) error {
	query := `
		INSERT INTO usage_records (
			id, user_id, timestamp, model, operation_type,
			input_tokens, output_tokens, total_tokens,
			input_cost_cents, output_cost_cents, total_cost_cents, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.options.Db.Exec(ctx, query,
		record.ID,
		record.UserID,
		record.Timestamp,
		record.Model,
		record.OperationType,
		record.InputTokens,
		record.OutputTokens,
		record.TotalTokens,
		record.InputCostCents,
		record.OutputCostCents,
		record.TotalCostCents,
		record.Metadata,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return specforge.ErrDuplicateEntry
		}
		r.options.Logger.Error("Failed to create usage record", "error", err)
		return err
	}
	return nil
}

// GetUsageRecord retrieves a ledger entry by ID
func (r *UsageRepository) GetUsageRecord(ctx context.Context, id string) (*specforge.UsageRecord, error) {
	query := `
		SELECT ` + usageRecordColumns + `
		FROM usage_records
		WHERE id = $1`

	row := r.options.Db.QueryRow(ctx, query, id)

	record, err := scanUsageRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, specforge.ErrNotFound
	}
	if err != nil {
		r.options.Logger.Error("Failed to get usage record", "error", err, "id", id)
		return nil, err
	}
	return record, nil
}

// ListUsageRecordsByUser retrieves ledger entries for a user with pagination
func (r *UsageRepository) ListUsageRecordsByUser(ctx context.Context, userID string, limit, offset int) ([]*specforge.UsageRecord, error) {
	query := `
		SELECT ` + usageRecordColumns + `
		FROM usage_records
		WHERE user_id = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.options.Db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		r.options.Logger.Error("Failed to list usage records by user", "error", err, "userID", userID)
		return nil, err
	}
	defer rows.Close()

	return r.collectUsageRecords(rows)
}

// ListUsageRecordsByPeriod retrieves ledger entries for a user within a time range
func (r *UsageRepository) ListUsageRecordsByPeriod(ctx context.Context, userID string, start, end time.Time) ([]*specforge.UsageRecord, error) {
	query := `
		SELECT ` + usageRecordColumns + `
		FROM usage_records
		WHERE user_id = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp DESC`

	rows, err := r.options.Db.Query(ctx, query, userID, start, end)
	if err != nil {
		r.options.Logger.Error("Failed to list usage records by period", "error", err, "userID", userID)
		return nil, err
	}
	defer rows.Close()

	return r.collectUsageRecords(rows)
}

// UpsertMonthlyUsage folds one completed call into the (user, period, model)
// aggregate row, creating it on first use in the period.
func (r *UsageRepository) UpsertMonthlyUsage(ctx context.Context, userID, period, model string, inputTokens, outputTokens int, costCents float64) error {
	query := `
		INSERT INTO monthly_usage (
			user_id, period, model, requests,
			input_tokens, output_tokens, total_cost_cents, updated_at
		)
		VALUES ($1, $2, $3, 1, $4, $5, $6, now())
		ON CONFLICT (user_id, period, model) DO UPDATE SET
			requests = monthly_usage.requests + 1,
			input_tokens = monthly_usage.input_tokens + EXCLUDED.input_tokens,
			output_tokens = monthly_usage.output_tokens + EXCLUDED.output_tokens,
			total_cost_cents = monthly_usage.total_cost_cents + EXCLUDED.total_cost_cents,
			updated_at = now()`

	_, err := r.options.Db.Exec(ctx, query, userID, period, model, inputTokens, outputTokens, costCents)
	if err != nil {
		r.options.Logger.Error("Failed to upsert monthly usage",
			"error", err, "userID", userID, "period", period, "model", model)
		return err
	}
	return nil
}

// GetMonthlyUsage retrieves a user's aggregates for a period
func (r *UsageRepository) GetMonthlyUsage(ctx context.Context, userID, period string) ([]*specforge.MonthlyUsage, error) {
	query := `
		SELECT user_id, period, model, requests,
			input_tokens, output_tokens, total_cost_cents, updated_at
		FROM monthly_usage
		WHERE user_id = $1 AND period = $2
		ORDER BY model ASC`

	rows, err := r.options.Db.Query(ctx, query, userID, period)
	if err != nil {
		r.options.Logger.Error("Failed to get monthly usage", "error", err, "userID", userID, "period", period)
		return nil, err
	}
	defer rows.Close()

	var aggregates []*specforge.MonthlyUsage
	for rows.Next() {
		var usage specforge.MonthlyUsage
		err := rows.Scan(
			&usage.UserID,
			&usage.Period,
			&usage.Model,
			&usage.Requests,
			&usage.InputTokens,
			&usage.OutputTokens,
			&usage.TotalCostCents,
			&usage.UpdatedAt,
		)
		if err != nil {
			r.options.Logger.Error("Failed to scan monthly usage row", "error", err)
			return nil, err
		}
		aggregates = append(aggregates, &usage)
	}

	if err := rows.Err(); err != nil {
		r.options.Logger.Error("Error iterating monthly usage rows", "error", err)
		return nil, err
	}

	return aggregates, nil
}

// RecalculateMonthlyUsage rebuilds the aggregates for the given time range
// from the append-only ledger, replacing whatever incremental upserts
// accumulated. Used by the aggregation job to correct drift from lost
// best-effort writes.
func (r *UsageRepository) RecalculateMonthlyUsage(ctx context.Context, start, end time.Time) error {
	query := `
		INSERT INTO monthly_usage (
			user_id, period, model, requests,
			input_tokens, output_tokens, total_cost_cents, updated_at
		)
		SELECT user_id,
			to_char(timestamp AT TIME ZONE 'UTC', 'YYYY-MM'),
			model,
			count(*),
			sum(input_tokens),
			sum(output_tokens),
			sum(total_cost_cents),
			now()
		FROM usage_records
		WHERE timestamp >= $1 AND timestamp < $2
		GROUP BY user_id, to_char(timestamp AT TIME ZONE 'UTC', 'YYYY-MM'), model
		ON CONFLICT (user_id, period, model) DO UPDATE SET
			requests = EXCLUDED.requests,
			input_tokens = EXCLUDED.input_tokens,
			output_tokens = EXCLUDED.output_tokens,
			total_cost_cents = EXCLUDED.total_cost_cents,
			updated_at = EXCLUDED.updated_at`

	_, err := r.options.Db.Exec(ctx, query, start, end)
	if err != nil {
		r.options.Logger.Error("Failed to recalculate monthly usage", "error", err, "start", start, "end", end)
		return err
	}
	return nil
}

func scanUsageRecord(row pgx.Row) (*specforge.UsageRecord, error) {
	var record specforge.UsageRecord
	err := row.Scan(
		&record.ID,
		&record.UserID,
		&record.Timestamp,
		&record.Model,
		&record.OperationType,
		&record.InputTokens,
		&record.OutputTokens,
		&record.TotalTokens,
		&record.InputCostCents,
		&record.OutputCostCents,
		&record.TotalCostCents,
		&record.Metadata,
	)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *UsageRepository) collectUsageRecords(rows pgx.Rows) ([]*specforge.UsageRecord, error) {
	var records []*specforge.UsageRecord
	for rows.Next() {
		record, err := scanUsageRecord(rows)
		if err != nil {
			r.options.Logger.Error("Failed to scan usage record row", "error", err)
			return nil, err
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		r.options.Logger.Error("Error iterating usage record rows", "error", err)
		return nil, err
	}

	return records, nil
}
