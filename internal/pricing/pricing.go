// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package pricing holds the static per-model rate table. Rates are USD per
// million tokens; unknown models fall back to the default entry so a cost can
// always be computed.
package pricing

// Entry is the rate pair for one model.
type Entry struct {
	Model            string
	InputPerMillion  float64
	OutputPerMillion float64
}

// DefaultModel is the entry used when a model identifier is unrecognized.
const DefaultModel = "claude-sonnet-4-0"

var table = map[string]Entry{
	"claude-sonnet-4-0": {
		Model:            "claude-sonnet-4-0",
		InputPerMillion:  3.00,
		OutputPerMillion: 15.00,
	},
	"claude-opus-4-0": {
		Model:            "claude-opus-4-0",
		InputPerMillion:  15.00,
		OutputPerMillion: 75.00,
	},
	"claude-3-5-haiku-latest": {
		Model:            "claude-3-5-haiku-latest",
		InputPerMillion:  0.80,
		OutputPerMillion: 4.00,
	},
	"gpt-4o": {
		Model:            "gpt-4o",
		InputPerMillion:  2.50,
		OutputPerMillion: 10.00,
	},
	"gpt-4o-mini": {
		Model:            "gpt-4o-mini",
		InputPerMillion:  0.15,
		OutputPerMillion: 0.60,
	},
}

// Lookup returns the rate entry for model, falling back to the default entry
// for unrecognized identifiers.
func Lookup(model string) Entry {
	if entry, ok := table[model]; ok {
		return entry
	}
	return table[DefaultModel]
}

// Cost computes the USD cost of a call.
func Cost(model string, inputTokens, outputTokens int) float64 {
	entry := Lookup(model)
	return float64(inputTokens)/1e6*entry.InputPerMillion +
		float64(outputTokens)/1e6*entry.OutputPerMillion
}

// CostCents splits the cost of a call into fractional input/output cents for
// ledger reporting.
func CostCents(model string, inputTokens, outputTokens int) (inputCents, outputCents float64) {
	entry := Lookup(model)
	inputCents = float64(inputTokens) / 1e6 * entry.InputPerMillion * 100
	outputCents = float64(outputTokens) / 1e6 * entry.OutputPerMillion * 100
	return inputCents, outputCents
}
