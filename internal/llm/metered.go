// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package llm

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/specforge/specforge"
	"github.com/specforge/specforge/internal/credits"
	"github.com/specforge/specforge/internal/monitoring"
)

// creditChecker is the admission/metering surface MeteredClient needs from
// the credit ledger. *credits.Ledger satisfies it; tests substitute fakes.
type creditChecker interface {
	CheckCredits(ctx context.Context, userID string, inputTokens, outputTokens int, model string) specforge.CreditCheckResult
	TrackUsage(ctx context.Context, userID, model, operationType string, inputTokens, outputTokens int, metadata map[string]any)
}

var _ creditChecker = (*credits.Ledger)(nil)

// MeteredClient wraps a ProviderClient with admission control up front and
// usage metering after the call. Admission runs only when a ledger is
// attached and the request names a user; otherwise operations pass through.
type MeteredClient struct {
	client    ProviderClient
	ledger    creditChecker
	estimator *TokenEstimator
	logger    *slog.Logger
	metrics   *monitoring.GatewayMetrics
	admission bool
}

// MeteredOption configures MeteredClient behavior.
type MeteredOption func(*MeteredClient)

// WithMeteredLogger sets the logger.
func WithMeteredLogger(logger *slog.Logger) MeteredOption {
	return func(m *MeteredClient) {
		m.logger = logger
	}
}

// WithMeteredMetrics sets the metrics.
func WithMeteredMetrics(metrics *monitoring.GatewayMetrics) MeteredOption {
	return func(m *MeteredClient) {
		m.metrics = metrics
	}
}

// WithMeteredAdmission toggles the pre-flight credit check. Metering of
// completed calls happens regardless.
func WithMeteredAdmission(enabled bool) MeteredOption {
	return func(m *MeteredClient) {
		m.admission = enabled
	}
}

// NewMeteredClient wraps client. A nil ledger disables both admission and
// metering (always-allow), matching the contract for callers that operate
// without a usage tracker.
func NewMeteredClient(client ProviderClient, ledger creditChecker, options ...MeteredOption) *MeteredClient {
	m := &MeteredClient{
		client:    client,
		ledger:    ledger,
		logger:    slog.Default(),
		admission: true,
	}
	for _, opt := range options {
		opt(m)
	}
	m.estimator = NewTokenEstimator(client, m.logger)
	return m
}

func (m *MeteredClient) ID() string           { return m.client.ID() }
func (m *MeteredClient) Available() bool      { return m.client.Available() }
func (m *MeteredClient) DefaultModel() string { return m.client.DefaultModel() }
func (m *MeteredClient) MaxOutputTokens() int { return m.client.MaxOutputTokens() }

// CountTokens delegates to the estimator so unsupported backends still get a
// heuristic answer.
func (m *MeteredClient) CountTokens(ctx context.Context, req specforge.Request) specforge.TokenEstimate {
	return m.estimator.Estimate(ctx, req)
}

func (m *MeteredClient) resolveModel(req specforge.Request) string {
	if req.Model != "" {
		return req.Model
	}
	return m.client.DefaultModel()
}

// admit runs the pre-flight credit check when it applies. The returned
// result is nil when the operation may proceed.
func (m *MeteredClient) admit(ctx context.Context, req specforge.Request, operationType string) *specforge.CreditCheckResult {
	if !m.admission || m.ledger == nil || req.UserID == "" || req.SkipCreditCheck {
		return nil
	}

	// The output estimate is capped at the limit the actual call will run
	// under: the request's own limit, or the client's configured default.
	maxOutput := req.MaxOutputTokens
	if maxOutput <= 0 {
		maxOutput = m.client.MaxOutputTokens()
	}

	estimate := m.estimator.Estimate(ctx, req)
	outputTokens := EstimateOutputTokens(estimate.InputTokens, operationType, maxOutput)
	model := m.resolveModel(req)

	result := m.ledger.CheckCredits(ctx, req.UserID, estimate.InputTokens, outputTokens, model)
	if result.HasSufficientCredits {
		return nil
	}

	m.logger.Info("Operation denied by credit check",
		"userID", req.UserID,
		"operation", operationType,
		"model", model,
		"estimatedCost", result.EstimatedCost,
		"remainingCredits", result.RemainingCredits,
		"lookupError", result.Err)
	return &result
}

func (m *MeteredClient) track(ctx context.Context, req specforge.Request, operationType string, usage TokenUsage) {
	if m.ledger == nil || req.UserID == "" {
		return
	}
	m.ledger.TrackUsage(ctx, req.UserID, m.resolveModel(req), operationType,
		usage.InputTokens, usage.OutputTokens, req.Metadata)
}

// Generate runs the admission check, issues the call and debits usage on
// success. Denial and unavailability come back as sentinel text values, not
// errors; genuine transport failures are the only error path.
func (m *MeteredClient) Generate(ctx context.Context, req specforge.Request) (*GenerateResult, error) {
	operationType := orDefault(req.OperationType, specforge.OperationGenerate)

	if !m.client.Available() {
		return &GenerateResult{Text: providerUnavailableMessage}, nil
	}
	if denied := m.admit(ctx, req, operationType); denied != nil {
		return &GenerateResult{Text: insufficientCreditsMessage(denied.RemainingCredits)}, nil
	}

	start := time.Now()
	result, err := m.client.Generate(ctx, req)
	if err != nil {
		m.recordOutcome(ctx, req, operationType, "failed", start)
		return nil, err
	}

	m.track(ctx, req, operationType, result.Usage)
	m.recordOutcome(ctx, req, operationType, "success", start)
	return result, nil
}

// GenerateStream runs the same checks before the first chunk is emitted —
// a partial stream cannot be un-sent. Usage is debited only when the
// provider signals completion, so a consumer abandoning the stream early
// never debits.
func (m *MeteredClient) GenerateStream(ctx context.Context, req specforge.Request) (ResponseStream, error) {
	operationType := orDefault(req.OperationType, specforge.OperationStream)

	if !m.client.Available() {
		return newStaticStream(providerUnavailableMessage), nil
	}
	if denied := m.admit(ctx, req, operationType); denied != nil {
		return newStaticStream(insufficientCreditsMessage(denied.RemainingCredits)), nil
	}

	start := time.Now()
	stream, err := m.client.GenerateStream(ctx, req)
	if err != nil {
		m.recordOutcome(ctx, req, operationType, "failed", start)
		return nil, err
	}

	return &meteredStream{
		stream:        stream,
		metered:       m,
		ctx:           ctx,
		req:           req,
		operationType: operationType,
		start:         start,
	}, nil
}

// ToolCall runs the same pre-flight but reports denial as a dedicated error
// value, since there is no text channel to carry a sentinel.
func (m *MeteredClient) ToolCall(ctx context.Context, req specforge.Request) (*ToolCallResult, error) {
	operationType := orDefault(req.OperationType, specforge.OperationToolCall)

	if !m.client.Available() {
		return nil, specforge.ErrProviderUnavailable
	}
	if denied := m.admit(ctx, req, operationType); denied != nil {
		return nil, &InsufficientCreditsError{
			Remaining: denied.RemainingCredits,
			Required:  denied.EstimatedCost,
		}
	}

	start := time.Now()
	result, err := m.client.ToolCall(ctx, req)
	if err != nil {
		m.recordOutcome(ctx, req, operationType, "failed", start)
		return nil, err
	}

	m.track(ctx, req, operationType, result.Usage)
	m.recordOutcome(ctx, req, operationType, "success", start)
	return result, nil
}

func (m *MeteredClient) recordOutcome(ctx context.Context, req specforge.Request, operationType, status string, start time.Time) {
	if m.metrics == nil {
		return
	}
	m.metrics.RecordOperation(ctx, m.client.ID(), m.resolveModel(req), operationType, status, time.Since(start))
	if status == "failed" {
		m.metrics.RecordProviderError(ctx, m.client.ID(), operationType)
	}
}

// meteredStream forwards chunks and records usage exactly once, when the
// final chunk arrives.
type meteredStream struct {
	stream        ResponseStream
	metered       *MeteredClient
	ctx           context.Context
	req           specforge.Request
	operationType string
	start         time.Time
	tracked       bool
}

func (s *meteredStream) Next() (*Chunk, error) {
	chunk, err := s.stream.Next()
	if err != nil {
		if err != io.EOF && !s.tracked {
			s.tracked = true
			s.metered.recordOutcome(s.ctx, s.req, s.operationType, "failed", s.start)
		}
		return nil, err
	}

	if chunk.Finished && !s.tracked {
		s.tracked = true
		usage := TokenUsage{}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		s.metered.track(s.ctx, s.req, s.operationType, usage)
		s.metered.recordOutcome(s.ctx, s.req, s.operationType, "success", s.start)
	}

	return chunk, err
}

func (s *meteredStream) Close() error {
	return s.stream.Close()
}

func (s *meteredStream) Err() error {
	return s.stream.Err()
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

// staticStream delivers one pre-built text chunk. Used to surface sentinel
// messages through the streaming interface without touching the provider.
type staticStream struct {
	text string
	done bool
}

func newStaticStream(text string) *staticStream {
	return &staticStream{text: text}
}

func (s *staticStream) Next() (*Chunk, error) {
	if s.done {
		return nil, io.EOF
	}
	s.done = true
	return &Chunk{Text: s.text, Finished: true}, nil
}

func (s *staticStream) Close() error { return nil }
func (s *staticStream) Err() error   { return nil }
