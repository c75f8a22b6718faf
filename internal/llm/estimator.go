// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package llm

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/specforge/specforge"
)

const (
	// charsPerToken is the character-based fallback ratio.
	charsPerToken = 4

	// imageTokenEstimate is charged per image block; images are not text and
	// cannot be sized by character count.
	imageTokenEstimate = 1000

	// toolOverheadTokens covers the tool-calling protocol framing that is not
	// part of the serialized schemas themselves.
	toolOverheadTokens = 200
)

// Output estimate fractions: tool-call outputs are typically terser than
// free-form generation.
const (
	generateOutputDivisor = 2
	toolCallOutputDivisor = 3
)

// TokenEstimator produces input-token estimates, preferring the provider's
// exact counting endpoint and falling back to a character heuristic.
type TokenEstimator struct {
	client ProviderClient
	logger *slog.Logger
}

// NewTokenEstimator creates an estimator backed by the given client. A nil
// client is allowed and forces the heuristic path.
func NewTokenEstimator(client ProviderClient, logger *slog.Logger) *TokenEstimator {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenEstimator{client: client, logger: logger}
}

// Estimate returns the input-token estimate for req. Failures of the exact
// path are recovered locally by the heuristic and never surface to callers.
func (e *TokenEstimator) Estimate(ctx context.Context, req specforge.Request) specforge.TokenEstimate {
	if e.client != nil && e.client.Available() {
		est := e.client.CountTokens(ctx, req)
		if est.Err == "" && est.InputTokens > 0 {
			est.Method = specforge.EstimateMethodExact
			return est
		}
		if est.Err != "" {
			e.logger.Debug("Exact token count unavailable, using heuristic",
				"provider", e.client.ID(), "error", est.Err)
		}
	}
	return HeuristicEstimate(req)
}

// HeuristicEstimate approximates input tokens at charsPerToken characters per
// token across message text, system text and serialized tool schemas. Image
// blocks are charged a flat imageTokenEstimate.
func HeuristicEstimate(req specforge.Request) specforge.TokenEstimate {
	tokens := 0

	for _, msg := range req.Messages {
		for _, block := range msg.Content {
			switch block.Type {
			case specforge.ContentTypeImage:
				tokens += imageTokenEstimate
			default:
				tokens += len(block.Text) / charsPerToken
			}
		}
	}

	tokens += len(req.System) / charsPerToken

	if len(req.Tools) > 0 {
		if serialized, err := json.Marshal(req.Tools); err == nil {
			tokens += len(serialized) / charsPerToken
		}
		tokens += toolOverheadTokens
	}

	return specforge.TokenEstimate{
		InputTokens: tokens,
		Method:      specforge.EstimateMethodHeuristic,
	}
}

// EstimateOutputTokens derives the output estimate from the input estimate:
// half of the input for plain generation, a third for tool calls, capped at
// maxOutputTokens when positive. Callers pass the limit the call will run
// under, falling back to the client's configured default when the request
// leaves its own limit unset.
func EstimateOutputTokens(inputTokens int, operationType string, maxOutputTokens int) int {
	divisor := generateOutputDivisor
	if operationType == specforge.OperationToolCall {
		divisor = toolCallOutputDivisor
	}

	estimate := inputTokens / divisor
	if maxOutputTokens > 0 && estimate > maxOutputTokens {
		estimate = maxOutputTokens
	}
	return estimate
}
