// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/specforge/specforge"
	"github.com/specforge/specforge/internal/credits"
	"github.com/specforge/specforge/internal/monitoring"
)

// Gateway is the single entry point application code calls. It composes the
// selected provider client with admission control, usage metering and
// structured-output extraction.
type Gateway struct {
	options *gatewayOptions
	client  *MeteredClient
}

type gatewayOptions struct {
	Logger       *slog.Logger
	Client       ProviderClient
	Ledger       *credits.Ledger
	Metrics      *monitoring.GatewayMetrics
	CheckCredits bool
}

// GatewayOption configures a Gateway.
type GatewayOption interface {
	apply(*gatewayOptions)
}

type gatewayOptionFunc func(*gatewayOptions)

func (f gatewayOptionFunc) apply(opts *gatewayOptions) {
	f(opts)
}

// WithGatewayLogger returns a GatewayOption that uses the provided logger.
func WithGatewayLogger(logger *slog.Logger) GatewayOption {
	return gatewayOptionFunc(func(opts *gatewayOptions) {
		opts.Logger = logger
	})
}

// WithGatewayClient sets the provider client, normally the factory's pick.
func WithGatewayClient(client ProviderClient) GatewayOption {
	return gatewayOptionFunc(func(opts *gatewayOptions) {
		opts.Client = client
	})
}

// WithGatewayLedger sets the credit ledger. Without one the gateway runs
// unmetered (always-allow).
func WithGatewayLedger(ledger *credits.Ledger) GatewayOption {
	return gatewayOptionFunc(func(opts *gatewayOptions) {
		opts.Ledger = ledger
	})
}

// WithGatewayMetrics sets the gateway metrics.
func WithGatewayMetrics(metrics *monitoring.GatewayMetrics) GatewayOption {
	return gatewayOptionFunc(func(opts *gatewayOptions) {
		opts.Metrics = metrics
	})
}

// WithGatewayCreditChecks toggles the pre-flight admission check for every
// call through this gateway. Individual calls opt out via
// specforge.Request.SkipCreditCheck.
func WithGatewayCreditChecks(enabled bool) GatewayOption {
	return gatewayOptionFunc(func(opts *gatewayOptions) {
		opts.CheckCredits = enabled
	})
}

// NewGateway creates a new Gateway.
func NewGateway(options ...GatewayOption) (*Gateway, error) {
	opts := &gatewayOptions{
		Logger:       slog.Default(),
		CheckCredits: true,
	}
	for _, opt := range options {
		opt.apply(opts)
	}

	if opts.Client == nil {
		return nil, errors.New("gateway requires a provider client")
	}

	meteredOpts := []MeteredOption{
		WithMeteredLogger(opts.Logger),
		WithMeteredAdmission(opts.CheckCredits),
	}
	if opts.Metrics != nil {
		meteredOpts = append(meteredOpts, WithMeteredMetrics(opts.Metrics))
	}

	var checker creditChecker
	if opts.Ledger != nil {
		checker = opts.Ledger
	}

	return &Gateway{
		options: opts,
		client:  NewMeteredClient(opts.Client, checker, meteredOpts...),
	}, nil
}

// Provider returns the identifier of the backing provider client.
func (g *Gateway) Provider() string {
	return g.client.ID()
}

// Available reports whether the backing provider client initialized.
func (g *Gateway) Available() bool {
	return g.client.Available()
}

// Generate returns the provider's text answer. Admission denial and provider
// unavailability come back as sentinel text values recognizable via
// IsInsufficientCreditsMessage / IsProviderUnavailableMessage.
func (g *Gateway) Generate(ctx context.Context, req specforge.Request) (string, error) {
	result, err := g.client.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// GenerateStream returns a stream of text chunks, with the same sentinel
// behavior as Generate delivered as a single-chunk stream.
func (g *Gateway) GenerateStream(ctx context.Context, req specforge.Request) (ResponseStream, error) {
	return g.client.GenerateStream(ctx, req)
}

// ToolCall issues a structured-output call and coerces the response into
// target through the extraction chain. Extraction failures are returned as
// *ExtractionError values; admission denial as *InsufficientCreditsError.
func (g *Gateway) ToolCall(ctx context.Context, req specforge.Request, target any) error {
	result, err := g.client.ToolCall(ctx, req)
	if err != nil {
		return err
	}

	raw := &RawResponse{
		ToolName:  result.ToolName,
		ToolInput: result.ToolInput,
		Text:      result.Text,
	}
	if err := Extract(raw, target); err != nil {
		var extractErr *ExtractionError
		if errors.As(err, &extractErr) {
			g.options.Logger.Warn("Tool call response extraction failed",
				"provider", g.client.ID(),
				"attempted", extractErr.Attempted,
				"received", extractErr.Received)
			if g.options.Metrics != nil {
				g.options.Metrics.RecordExtractionFailure(ctx, g.resolveModel(req))
			}
		}
		return err
	}
	return nil
}

// CountTokens estimates the input tokens for req, using the provider's exact
// counting endpoint when it has one.
func (g *Gateway) CountTokens(ctx context.Context, req specforge.Request) specforge.TokenEstimate {
	return g.client.CountTokens(ctx, req)
}

// CheckCredits runs the admission check directly, for callers that want the
// full result rather than the sentinel behavior.
func (g *Gateway) CheckCredits(ctx context.Context, userID string, inputTokens, outputTokens int, model string) (specforge.CreditCheckResult, error) {
	if g.options.Ledger == nil {
		return specforge.CreditCheckResult{}, fmt.Errorf("no credit ledger configured")
	}
	if model == "" {
		model = g.client.DefaultModel()
	}
	return g.options.Ledger.CheckCredits(ctx, userID, inputTokens, outputTokens, model), nil
}

func (g *Gateway) resolveModel(req specforge.Request) string {
	if req.Model != "" {
		return req.Model
	}
	return g.client.DefaultModel()
}
