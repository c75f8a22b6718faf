// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package monitoring

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// GatewayMetrics instruments the provider gateway: operation outcomes,
// admission denials, token and cost consumption, extraction failures and
// ledger write errors.
type GatewayMetrics struct {
	operationsTotal         metric.Int64Counter
	denialsTotal            metric.Int64Counter
	providerErrorsTotal     metric.Int64Counter
	tokensTotal             metric.Int64Counter
	costCentsTotal          metric.Float64Counter
	extractionFailuresTotal metric.Int64Counter
	ledgerWriteErrorsTotal  metric.Int64Counter
	operationDuration       metric.Float64Histogram
}

func NewGatewayMetrics(meter metric.Meter) (*GatewayMetrics, error) {
	operationsTotal, err := meter.Int64Counter(
		"gateway_operations_total",
		metric.WithDescription("Completed gateway operations by provider, model, operation and status"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operations_total counter: %w", err)
	}

	denialsTotal, err := meter.Int64Counter(
		"gateway_admission_denials_total",
		metric.WithDescription("Operations denied by the credit admission check"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create admission_denials_total counter: %w", err)
	}

	providerErrorsTotal, err := meter.Int64Counter(
		"gateway_provider_errors_total",
		metric.WithDescription("Transport/API failures against providers"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider_errors_total counter: %w", err)
	}

	tokensTotal, err := meter.Int64Counter(
		"gateway_tokens_total",
		metric.WithDescription("Token consumption by model and direction"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens_total counter: %w", err)
	}

	costCentsTotal, err := meter.Float64Counter(
		"gateway_cost_cents_total",
		metric.WithDescription("Accumulated cost in fractional cents by model"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cost_cents_total counter: %w", err)
	}

	extractionFailuresTotal, err := meter.Int64Counter(
		"gateway_extraction_failures_total",
		metric.WithDescription("Tool-call responses no extraction strategy could decode"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create extraction_failures_total counter: %w", err)
	}

	ledgerWriteErrorsTotal, err := meter.Int64Counter(
		"gateway_ledger_write_errors_total",
		metric.WithDescription("Best-effort ledger writes that failed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger_write_errors_total counter: %w", err)
	}

	operationDuration, err := meter.Float64Histogram(
		"gateway_operation_duration_seconds",
		metric.WithDescription("Wall time of provider operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation_duration histogram: %w", err)
	}

	return &GatewayMetrics{
		operationsTotal:         operationsTotal,
		denialsTotal:            denialsTotal,
		providerErrorsTotal:     providerErrorsTotal,
		tokensTotal:             tokensTotal,
		costCentsTotal:          costCentsTotal,
		extractionFailuresTotal: extractionFailuresTotal,
		ledgerWriteErrorsTotal:  ledgerWriteErrorsTotal,
		operationDuration:       operationDuration,
	}, nil
}

// RecordOperation records one completed operation and its duration.
func (m *GatewayMetrics) RecordOperation(ctx context.Context, provider, model, operation, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("model", model),
		attribute.String("operation", operation),
		attribute.String("status", status),
	)
	m.operationsTotal.Add(ctx, 1, attrs)
	m.operationDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordDenial records an admission-check denial.
func (m *GatewayMetrics) RecordDenial(ctx context.Context, model string) {
	m.denialsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("model", model)))
}

// RecordProviderError records a transport/API failure.
func (m *GatewayMetrics) RecordProviderError(ctx context.Context, provider, operation string) {
	m.providerErrorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
	))
}

// RecordTokens records real token consumption from a provider response.
func (m *GatewayMetrics) RecordTokens(ctx context.Context, model string, inputTokens, outputTokens int) {
	m.tokensTotal.Add(ctx, int64(inputTokens), metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("direction", "input"),
	))
	m.tokensTotal.Add(ctx, int64(outputTokens), metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("direction", "output"),
	))
}

// RecordCostCents records the monetary cost of a completed call.
func (m *GatewayMetrics) RecordCostCents(ctx context.Context, model string, cents float64) {
	m.costCentsTotal.Add(ctx, cents, metric.WithAttributes(attribute.String("model", model)))
}

// RecordExtractionFailure records a tool-call response that defeated the
// whole strategy chain.
func (m *GatewayMetrics) RecordExtractionFailure(ctx context.Context, model string) {
	m.extractionFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("model", model)))
}

// RecordLedgerWriteError records a failed best-effort ledger write.
func (m *GatewayMetrics) RecordLedgerWriteError(ctx context.Context) {
	m.ledgerWriteErrorsTotal.Add(ctx, 1)
}
