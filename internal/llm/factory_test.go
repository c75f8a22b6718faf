// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_PreferredAvailable(t *testing.T) {
	client := NewClient(FactoryConfig{
		Preferred:       ProviderAnthropic,
		FailoverEnabled: true,
		AnthropicAPIKey: "sk-ant-test",
	}, nil)

	assert.Equal(t, ProviderAnthropic, client.ID())
	assert.True(t, client.Available())
}

func TestNewClient_FailoverToNextProvider(t *testing.T) {
	// Preferred provider has no credentials; the failover loop should land
	// on the next provider in order.
	client := NewClient(FactoryConfig{
		Preferred:        ProviderAnthropic,
		FailoverEnabled:  true,
		OpenRouterAPIKey: "sk-or-test",
	}, nil)

	assert.Equal(t, ProviderOpenRouter, client.ID())
	assert.True(t, client.Available())
}

func TestNewClient_FailoverDisabledReturnsDegraded(t *testing.T) {
	client := NewClient(FactoryConfig{
		Preferred:        ProviderAnthropic,
		FailoverEnabled:  false,
		OpenRouterAPIKey: "sk-or-test",
	}, nil)

	assert.Equal(t, ProviderAnthropic, client.ID())
	assert.False(t, client.Available(), "without failover the degraded preferred client is returned")
}

func TestNewClient_AllProvidersFailReturnsLastAttempted(t *testing.T) {
	client := NewClient(FactoryConfig{
		Preferred:       ProviderAnthropic,
		FailoverEnabled: true,
	}, nil)

	require.NotNil(t, client, "a degraded client is still returned")
	assert.Equal(t, ProviderOpenRouter, client.ID())
	assert.False(t, client.Available())
}

func TestNewClient_UnknownPreferredFallsBackToHead(t *testing.T) {
	client := NewClient(FactoryConfig{
		Preferred:       "mystery-provider",
		FailoverEnabled: true,
		AnthropicAPIKey: "sk-ant-test",
	}, nil)

	assert.Equal(t, ProviderAnthropic, client.ID())
	assert.True(t, client.Available())
}

func TestNewClient_PreferredOpenRouterSkippedInFailover(t *testing.T) {
	// When openrouter is preferred and fails, the loop must not construct it
	// a second time.
	client := NewClient(FactoryConfig{
		Preferred:       ProviderOpenRouter,
		FailoverEnabled: true,
		AnthropicAPIKey: "sk-ant-test",
	}, nil)

	assert.Equal(t, ProviderAnthropic, client.ID())
	assert.True(t, client.Available())
}

func TestNewClient_ConfigurationPropagates(t *testing.T) {
	temp := 0.2
	client := NewClient(FactoryConfig{
		Preferred:       ProviderAnthropic,
		AnthropicAPIKey: "sk-ant-test",
		DefaultModel:    "claude-opus-4-0",
		MaxOutputTokens: 2048,
		Temperature:     &temp,
	}, nil)

	assert.Equal(t, "claude-opus-4-0", client.DefaultModel())
}
