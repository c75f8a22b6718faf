// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/specforge/specforge"
)

// GetBalance retrieves a user's credit balance
func (r *BalanceRepository) GetBalance(ctx context.Context, userID string) (*specforge.CreditBalance, error) {
	query := `
		SELECT user_id, credits, credits_used
		FROM user_credits
		WHERE user_id = $1`

	row := r.options.Db.QueryRow(ctx, query, userID)

	var balance specforge.CreditBalance
	err := row.Scan(
		&balance.UserID,
		&balance.Credits,
		&balance.CreditsUsed,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, specforge.ErrNotFound
	}
	if err != nil {
		r.options.Logger.Error("Failed to get credit balance", "error", err, "userID", userID)
		return nil, err
	}
	return &balance, nil
}

// IncrementCreditsUsed atomically adds amount to the user's consumption
// counter. A single UPDATE statement, so concurrent debits serialize at the
// row level and none are lost.
func (r *BalanceRepository) IncrementCreditsUsed(ctx context.Context, userID string, amount float64) error {
	query := `
		UPDATE user_credits
		SET credits_used = credits_used + $2
		WHERE user_id = $1`

	result, err := r.options.Db.Exec(ctx, query, userID, amount)
	if err != nil {
		r.options.Logger.Error("Failed to increment credits used", "error", err, "userID", userID)
		return err
	}

	if result.RowsAffected() == 0 {
		return specforge.ErrNotFound
	}
	return nil
}

// GrantCredits adds credits to a user's grant, creating the balance row if
// necessary
func (r *BalanceRepository) GrantCredits(ctx context.Context, userID string, amount float64) error {
	query := `
		INSERT INTO user_credits (user_id, credits, credits_used)
		VALUES ($1, $2, 0)
		ON CONFLICT (user_id) DO UPDATE SET
			credits = user_credits.credits + EXCLUDED.credits`

	_, err := r.options.Db.Exec(ctx, query, userID, amount)
	if err != nil {
		r.options.Logger.Error("Failed to grant credits", "error", err, "userID", userID)
		return err
	}
	return nil
}
