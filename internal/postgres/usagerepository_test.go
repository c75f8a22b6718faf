// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specforge/specforge"
)

var usageRecordColumnNames = []string{
	"id", "user_id", "timestamp", "model", "operation_type",
	"input_tokens", "output_tokens", "total_tokens",
	"input_cost_cents", "output_cost_cents", "total_cost_cents", "metadata",
}

func sampleUsageRecord(now time.Time) *specforge.UsageRecord {
	return &specforge.UsageRecord{
		ID:              "0191e9a0-0000-7000-8000-000000000001",
		UserID:          "user-123",
		Timestamp:       now,
		Model:           "claude-sonnet-4-0",
		OperationType:   specforge.OperationGenerate,
		InputTokens:     1200,
		OutputTokens:    400,
		TotalTokens:     1600,
		InputCostCents:  0.36,
		OutputCostCents: 0.6,
		TotalCostCents:  0.96,
		Metadata:        map[string]any{"feature": "chat"},
	}
}

func TestUsageRepository_CreateUsageRecord(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		now := time.Now()
		record := sampleUsageRecord(now)

		mock.ExpectExec(`INSERT INTO usage_records`).
			WithArgs(
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
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		repo, err := NewUsageRepository(WithUsageRepositoryDb(mock))
		require.NoError(t, err)

		err = repo.CreateUsageRecord(context.Background(), record)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate id", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`INSERT INTO usage_records`).
			WithArgs(
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnError(&pgconn.PgError{Code: "23505"})

		repo, err := NewUsageRepository(WithUsageRepositoryDb(mock))
		require.NoError(t, err)

		err = repo.CreateUsageRecord(context.Background(), sampleUsageRecord(time.Now()))
		assert.ErrorIs(t, err, specforge.ErrDuplicateEntry)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`INSERT INTO usage_records`).
			WithArgs(
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnError(errors.New("database connection failed"))

		repo, err := NewUsageRepository(WithUsageRepositoryDb(mock))
		require.NoError(t, err)

		err = repo.CreateUsageRecord(context.Background(), sampleUsageRecord(time.Now()))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "database connection failed")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUsageRepository_GetUsageRecord(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		now := time.Now()
		record := sampleUsageRecord(now)

		rows := pgxmock.NewRows(usageRecordColumnNames).
			AddRow(
				record.ID, record.UserID, record.Timestamp, record.Model, record.OperationType,
				record.InputTokens, record.OutputTokens, record.TotalTokens,
				record.InputCostCents, record.OutputCostCents, record.TotalCostCents, record.Metadata,
			)

		mock.ExpectQuery(`SELECT (.+) FROM usage_records`).
			WithArgs(record.ID).
			WillReturnRows(rows)

		repo, err := NewUsageRepository(WithUsageRepositoryDb(mock))
		require.NoError(t, err)

		got, err := repo.GetUsageRecord(context.Background(), record.ID)
		require.NoError(t, err)
		assert.Equal(t, record.UserID, got.UserID)
		assert.Equal(t, record.Model, got.Model)
		assert.Equal(t, record.TotalTokens, got.TotalTokens)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT (.+) FROM usage_records`).
			WithArgs("missing-id").
			WillReturnRows(pgxmock.NewRows(usageRecordColumnNames))

		repo, err := NewUsageRepository(WithUsageRepositoryDb(mock))
		require.NoError(t, err)

		_, err = repo.GetUsageRecord(context.Background(), "missing-id")
		assert.ErrorIs(t, err, specforge.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUsageRepository_ListUsageRecordsByUser(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		now := time.Now()
		first := sampleUsageRecord(now)
		second := sampleUsageRecord(now.Add(-time.Hour))
		second.ID = "0191e9a0-0000-7000-8000-000000000002"
		second.OperationType = specforge.OperationToolCall

		rows := pgxmock.NewRows(usageRecordColumnNames)
		for _, r := range []*specforge.UsageRecord{first, second} {
			rows.AddRow(
				r.ID, r.UserID, r.Timestamp, r.Model, r.OperationType,
				r.InputTokens, r.OutputTokens, r.TotalTokens,
				r.InputCostCents, r.OutputCostCents, r.TotalCostCents, r.Metadata,
			)
		}

		mock.ExpectQuery(`SELECT (.+) FROM usage_records`).
			WithArgs("user-123", 50, 0).
			WillReturnRows(rows)

		repo, err := NewUsageRepository(WithUsageRepositoryDb(mock))
		require.NoError(t, err)

		records, err := repo.ListUsageRecordsByUser(context.Background(), "user-123", 50, 0)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, first.ID, records[0].ID)
		assert.Equal(t, second.ID, records[1].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty result", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT (.+) FROM usage_records`).
			WithArgs("user-123", 50, 0).
			WillReturnRows(pgxmock.NewRows(usageRecordColumnNames))

		repo, err := NewUsageRepository(WithUsageRepositoryDb(mock))
		require.NoError(t, err)

		records, err := repo.ListUsageRecordsByUser(context.Background(), "user-123", 50, 0)
		require.NoError(t, err)
		assert.Empty(t, records)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUsageRepository_UpsertMonthlyUsage(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`INSERT INTO monthly_usage`).
			WithArgs("user-123", "2026-08", "claude-sonnet-4-0", 1200, 400, 0.96).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		repo, err := NewUsageRepository(WithUsageRepositoryDb(mock))
		require.NoError(t, err)

		err = repo.UpsertMonthlyUsage(context.Background(), "user-123", "2026-08", "claude-sonnet-4-0", 1200, 400, 0.96)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`INSERT INTO monthly_usage`).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(errors.New("database connection failed"))

		repo, err := NewUsageRepository(WithUsageRepositoryDb(mock))
		require.NoError(t, err)

		err = repo.UpsertMonthlyUsage(context.Background(), "user-123", "2026-08", "claude-sonnet-4-0", 1200, 400, 0.96)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUsageRepository_GetMonthlyUsage(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		updated := time.Now()
		rows := pgxmock.NewRows([]string{
			"user_id", "period", "model", "requests",
			"input_tokens", "output_tokens", "total_cost_cents", "updated_at",
		}).
			AddRow("user-123", "2026-08", "claude-sonnet-4-0", 12, int64(24000), int64(8000), 19.2, updated).
			AddRow("user-123", "2026-08", "gpt-4o", 3, int64(5000), int64(1500), 2.75, updated)

		mock.ExpectQuery(`SELECT (.+) FROM monthly_usage`).
			WithArgs("user-123", "2026-08").
			WillReturnRows(rows)

		repo, err := NewUsageRepository(WithUsageRepositoryDb(mock))
		require.NoError(t, err)

		aggregates, err := repo.GetMonthlyUsage(context.Background(), "user-123", "2026-08")
		require.NoError(t, err)
		require.Len(t, aggregates, 2)
		assert.Equal(t, "claude-sonnet-4-0", aggregates[0].Model)
		assert.Equal(t, 12, aggregates[0].Requests)
		assert.Equal(t, int64(24000), aggregates[0].InputTokens)
		assert.Equal(t, "gpt-4o", aggregates[1].Model)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUsageRepository_RecalculateMonthlyUsage(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 1, 0)

		mock.ExpectExec(`INSERT INTO monthly_usage`).
			WithArgs(start, end).
			WillReturnResult(pgxmock.NewResult("INSERT", 5))

		repo, err := NewUsageRepository(WithUsageRepositoryDb(mock))
		require.NoError(t, err)

		err = repo.RecalculateMonthlyUsage(context.Background(), start, end)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
