// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		name          string
		model         string
		expectedModel string
	}{
		{
			name:          "known model",
			model:         "claude-opus-4-0",
			expectedModel: "claude-opus-4-0",
		},
		{
			name:          "unknown model falls back to default",
			model:         "some-future-model",
			expectedModel: DefaultModel,
		},
		{
			name:          "empty model falls back to default",
			model:         "",
			expectedModel: DefaultModel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := Lookup(tt.model)
			assert.Equal(t, tt.expectedModel, entry.Model)
			assert.Greater(t, entry.InputPerMillion, 0.0)
			assert.Greater(t, entry.OutputPerMillion, 0.0)
		})
	}
}

func TestCost(t *testing.T) {
	// claude-sonnet-4-0: 3.00 in / 15.00 out per million
	cost := Cost("claude-sonnet-4-0", 1_000_000, 1_000_000)
	assert.InDelta(t, 18.0, cost, 1e-9)

	cost = Cost("claude-sonnet-4-0", 500_000, 0)
	assert.InDelta(t, 1.5, cost, 1e-9)

	assert.Zero(t, Cost("claude-sonnet-4-0", 0, 0))
}

func TestCostCents(t *testing.T) {
	inputCents, outputCents := CostCents("gpt-4o-mini", 1_000_000, 1_000_000)
	assert.InDelta(t, 15.0, inputCents, 1e-9)
	assert.InDelta(t, 60.0, outputCents, 1e-9)
}

func TestCostUnknownModelUsesDefaultRates(t *testing.T) {
	assert.Equal(t, Cost(DefaultModel, 1234, 567), Cost("unknown-model", 1234, 567))
}
