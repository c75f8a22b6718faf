// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package postgres

import (
	"log/slog"
)

type BalanceRepository struct {
	options *balanceRepositoryOptions
}

// NewBalanceRepository creates a new [BalanceRepository].
func NewBalanceRepository(options ...BalanceRepositoryOption) (*BalanceRepository, error) {
	opts := defaultBalanceRepositoryOptions
	for _, opt := range GlobalBalanceRepositoryOptions {
		opt.apply(&opts)
	}
	for _, opt := range options {
		opt.apply(&opts)
	}

	return &BalanceRepository{
		options: &opts,
	}, nil
}

type balanceRepositoryOptions struct {
	Logger *slog.Logger
	Db     PgxPoolInterface
}

var defaultBalanceRepositoryOptions = balanceRepositoryOptions{
	Logger: slog.Default(),
}

// GlobalBalanceRepositoryOptions is a list of [BalanceRepositoryOption]s that are applied to all [BalanceRepository]s.
var GlobalBalanceRepositoryOptions []BalanceRepositoryOption

// BalanceRepositoryOption is an option for configuring a [BalanceRepository].
type BalanceRepositoryOption interface {
	apply(*balanceRepositoryOptions)
}

// funcBalanceRepositoryOption is a [BalanceRepositoryOption] that calls a function.
// It is used to wrap a function, so it satisfies the [BalanceRepositoryOption] interface.
type funcBalanceRepositoryOption struct {
	f func(*balanceRepositoryOptions)
}

func (fdo *funcBalanceRepositoryOption) apply(opts *balanceRepositoryOptions) {
	fdo.f(opts)
}

func newFuncBalanceRepositoryOption(f func(*balanceRepositoryOptions)) *funcBalanceRepositoryOption {
	return &funcBalanceRepositoryOption{
		f: f,
	}
}

// WithBalanceRepositoryLogger returns a [BalanceRepositoryOption] that uses the provided logger.
func WithBalanceRepositoryLogger(logger *slog.Logger) BalanceRepositoryOption {
	return newFuncBalanceRepositoryOption(func(opts *balanceRepositoryOptions) {
		opts.Logger = logger
	})
}

// WithBalanceRepositoryDb returns a [BalanceRepositoryOption] that uses the provided database connection.
func WithBalanceRepositoryDb(db PgxPoolInterface) BalanceRepositoryOption {
	return newFuncBalanceRepositoryOption(func(opts *balanceRepositoryOptions) {
		opts.Db = db
	})
}
