// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package llm

import (
	"log/slog"
)

// failoverOrder is the fixed fallback sequence tried after the preferred
// provider. Plain data, not configuration: changing failover policy is a
// code change.
var failoverOrder = []string{ProviderAnthropic, ProviderOpenRouter}

// FactoryConfig carries the provider selection policy and per-provider
// credentials. Missing credentials do not fail construction; they produce a
// degraded client the failover loop can skip past.
type FactoryConfig struct {
	// Preferred is the provider attempted first. Unknown identifiers fall
	// back to the head of the failover order with a warning.
	Preferred string

	// FailoverEnabled allows trying the remaining providers when the
	// preferred one cannot initialize.
	FailoverEnabled bool

	AnthropicAPIKey  string
	OpenRouterAPIKey string

	DefaultModel    string
	MaxOutputTokens int
	Temperature     *float64
}

// NewClient selects and constructs a provider client. Construction runs once
// at composition time; there are no per-request retries here. When every
// candidate fails to initialize, the last attempted client is returned
// anyway — callers treat an unavailable client as "every operation degrades",
// not as a startup failure.
func NewClient(cfg FactoryConfig, logger *slog.Logger) ProviderClient {
	if logger == nil {
		logger = slog.Default()
	}

	preferred := cfg.Preferred
	if !knownProvider(preferred) {
		if preferred != "" {
			logger.Warn("Unknown preferred provider, falling back", "provider", preferred)
		}
		preferred = failoverOrder[0]
	}

	attempted := map[string]bool{preferred: true}
	client := construct(preferred, cfg, logger)
	if client.Available() {
		logger.Info("Provider client initialized", "provider", client.ID())
		return client
	}
	logger.Warn("Preferred provider failed to initialize", "provider", preferred)

	if !cfg.FailoverEnabled {
		return client
	}

	for _, id := range failoverOrder {
		if attempted[id] {
			continue
		}
		attempted[id] = true

		candidate := construct(id, cfg, logger)
		client = candidate
		if candidate.Available() {
			logger.Info("Failover provider initialized", "provider", id)
			return candidate
		}
		logger.Warn("Failover provider failed to initialize", "provider", id)
	}

	logger.Error("No provider could be initialized, operations will degrade")
	return client
}

func knownProvider(id string) bool {
	for _, known := range failoverOrder {
		if id == known {
			return true
		}
	}
	return false
}

func construct(id string, cfg FactoryConfig, logger *slog.Logger) ProviderClient {
	switch id {
	case ProviderOpenRouter:
		opts := []OpenRouterOption{WithOpenRouterLogger(logger)}
		if cfg.DefaultModel != "" {
			opts = append(opts, WithOpenRouterModel(cfg.DefaultModel))
		}
		if cfg.MaxOutputTokens > 0 {
			opts = append(opts, WithOpenRouterMaxOutputTokens(cfg.MaxOutputTokens))
		}
		if cfg.Temperature != nil {
			opts = append(opts, WithOpenRouterTemperature(*cfg.Temperature))
		}
		return NewOpenRouterClient(cfg.OpenRouterAPIKey, opts...)
	default:
		opts := []AnthropicOption{WithAnthropicLogger(logger)}
		if cfg.DefaultModel != "" {
			opts = append(opts, WithAnthropicModel(cfg.DefaultModel))
		}
		if cfg.MaxOutputTokens > 0 {
			opts = append(opts, WithAnthropicMaxOutputTokens(cfg.MaxOutputTokens))
		}
		if cfg.Temperature != nil {
			opts = append(opts, WithAnthropicTemperature(*cfg.Temperature))
		}
		return NewAnthropicClient(cfg.AnthropicAPIKey, opts...)
	}
}
