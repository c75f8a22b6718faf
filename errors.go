// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package specforge

import "errors"

var (
	// ErrNotFound should be returned when a requested resource cannot be found
	ErrNotFound = errors.New("not found")

	// ErrDuplicateEntry should be returned when a resource would violate unique constraints
	ErrDuplicateEntry = errors.New("duplicate entry")

	// ErrProviderUnavailable is returned by provider operations when the
	// underlying client never initialized (e.g. missing credentials)
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrInsufficientCredits is returned by tool-call operations when the
	// admission check denied the request
	ErrInsufficientCredits = errors.New("insufficient credits")
)
