// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package llm implements the provider gateway: interchangeable provider
// clients, construction-time failover, token estimation, credit admission,
// usage metering and resilient structured-output extraction.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/specforge/specforge"
)

// Provider identifiers, also the fixed failover order.
const (
	ProviderAnthropic  = "anthropic"
	ProviderOpenRouter = "openrouter"
)

// TokenUsage is the real token consumption reported by a provider response.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// GenerateResult is the outcome of a plain generation.
type GenerateResult struct {
	Text  string
	Usage TokenUsage
}

// ToolCallResult is the outcome of a structured-output call. ToolInput is set
// when the provider honored the tool schema; Text carries any free-form
// answer (which may embed JSON in prose).
type ToolCallResult struct {
	ToolName  string
	ToolInput json.RawMessage
	Text      string
	Usage     TokenUsage
}

// Chunk is one streamed increment. The final chunk has Finished set and
// carries the total usage for the call when the provider reported one.
type Chunk struct {
	Text     string
	Finished bool
	Usage    *TokenUsage
}

// ResponseStream yields chunks as the provider delivers them. Next returns
// io.EOF after the final chunk. Close releases the provider connection and
// must be safe to call when the consumer abandons the stream early.
type ResponseStream interface {
	Next() (*Chunk, error)
	Close() error
	Err() error
}

// ProviderClient is the uniform contract over interchangeable LLM backends.
// Implementations are stateless across calls apart from their immutable
// configuration and are safe for concurrent use. A client whose underlying
// handle never initialized reports Available() == false and answers every
// operation with specforge.ErrProviderUnavailable.
type ProviderClient interface {
	ID() string
	Available() bool
	DefaultModel() string

	// MaxOutputTokens is the output limit the client applies when a request
	// does not set one.
	MaxOutputTokens() int

	// CountTokens asks the provider for an exact input-token count. Backends
	// without a counting endpoint return a zero estimate with Err set.
	CountTokens(ctx context.Context, req specforge.Request) specforge.TokenEstimate

	Generate(ctx context.Context, req specforge.Request) (*GenerateResult, error)
	GenerateStream(ctx context.Context, req specforge.Request) (ResponseStream, error)
	ToolCall(ctx context.Context, req specforge.Request) (*ToolCallResult, error)
}

// Sentinel message construction. Insufficient-credit and unavailable
// conditions are returned as successful text values from Generate and
// GenerateStream so the calling layer can render them to the user without a
// separate error channel.
const (
	insufficientCreditsPrefix  = "Insufficient credits:"
	providerUnavailableMessage = "AI provider unavailable: the service is not configured. Please contact support if this persists."
)

func insufficientCreditsMessage(remaining float64) string {
	return fmt.Sprintf("%s you have %.2f credits remaining. Please upgrade your plan to continue using AI assistance.",
		insufficientCreditsPrefix, remaining)
}

// IsInsufficientCreditsMessage reports whether a Generate/GenerateStream
// return value is the admission-denied sentinel.
func IsInsufficientCreditsMessage(s string) bool {
	return strings.HasPrefix(s, insufficientCreditsPrefix)
}

// IsProviderUnavailableMessage reports whether a Generate/GenerateStream
// return value is the degraded-client sentinel.
func IsProviderUnavailableMessage(s string) bool {
	return s == providerUnavailableMessage
}

// InsufficientCreditsError is the admission-denied outcome for tool calls,
// which have no text channel to carry a sentinel value.
type InsufficientCreditsError struct {
	Remaining float64
	Required  float64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: %.2f remaining, %.6f required", e.Remaining, e.Required)
}

func (e *InsufficientCreditsError) Unwrap() error {
	return specforge.ErrInsufficientCredits
}
