// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specforge/specforge"
)

// fakeProvider is a scriptable ProviderClient for wrapper tests.
type fakeProvider struct {
	id           string
	available    bool
	defaultModel string
	maxOutput    int

	countResult specforge.TokenEstimate

	generateResult *GenerateResult
	generateErr    error

	streamChunks []Chunk
	streamErr    error

	toolCallResult *ToolCallResult
	toolCallErr    error

	generateCalls int
	streamCalls   int
	toolCalls     int
}

func (f *fakeProvider) ID() string           { return f.id }
func (f *fakeProvider) Available() bool      { return f.available }
func (f *fakeProvider) DefaultModel() string { return f.defaultModel }
func (f *fakeProvider) MaxOutputTokens() int { return f.maxOutput }

var _ ProviderClient = (*fakeProvider)(nil)

func (f *fakeProvider) CountTokens(_ context.Context, _ specforge.Request) specforge.TokenEstimate {
	return f.countResult
}

func (f *fakeProvider) Generate(_ context.Context, _ specforge.Request) (*GenerateResult, error) {
	f.generateCalls++
	return f.generateResult, f.generateErr
}

func (f *fakeProvider) GenerateStream(_ context.Context, _ specforge.Request) (ResponseStream, error) {
	f.streamCalls++
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return &scriptedStream{chunks: f.streamChunks}, nil
}

func (f *fakeProvider) ToolCall(_ context.Context, _ specforge.Request) (*ToolCallResult, error) {
	f.toolCalls++
	return f.toolCallResult, f.toolCallErr
}

type scriptedStream struct {
	chunks []Chunk
	pos    int
	closed bool
}

func (s *scriptedStream) Next() (*Chunk, error) {
	if s.pos >= len(s.chunks) {
		return nil, io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return &chunk, nil
}

func (s *scriptedStream) Close() error { s.closed = true; return nil }
func (s *scriptedStream) Err() error   { return nil }

// fakeLedger records admission and metering calls.
type fakeLedger struct {
	checkResult specforge.CreditCheckResult
	checkCalls  int
	checkInput  []int
	checkOutput []int

	trackedOps    []string
	trackedInput  []int
	trackedOutput []int
}

func (f *fakeLedger) CheckCredits(_ context.Context, _ string, inputTokens, outputTokens int, _ string) specforge.CreditCheckResult {
	f.checkCalls++
	f.checkInput = append(f.checkInput, inputTokens)
	f.checkOutput = append(f.checkOutput, outputTokens)
	return f.checkResult
}

func (f *fakeLedger) TrackUsage(_ context.Context, _, _, operationType string, inputTokens, outputTokens int, _ map[string]any) {
	f.trackedOps = append(f.trackedOps, operationType)
	f.trackedInput = append(f.trackedInput, inputTokens)
	f.trackedOutput = append(f.trackedOutput, outputTokens)
}

func allowAll() *fakeLedger {
	return &fakeLedger{checkResult: specforge.CreditCheckResult{HasSufficientCredits: true}}
}

func denyAll(remaining float64) *fakeLedger {
	return &fakeLedger{checkResult: specforge.CreditCheckResult{
		HasSufficientCredits: false,
		RemainingCredits:     remaining,
		EstimatedCost:        0.0125,
	}}
}

func userRequest() specforge.Request {
	return specforge.Request{
		Messages: []specforge.Message{specforge.NewTextMessage(specforge.RoleUser, "hello there")},
		UserID:   "user-1",
	}
}

func TestMeteredGenerate_Success(t *testing.T) {
	provider := &fakeProvider{
		id:             ProviderAnthropic,
		available:      true,
		defaultModel:   "claude-sonnet-4-0",
		generateResult: &GenerateResult{Text: "hi!", Usage: TokenUsage{InputTokens: 12, OutputTokens: 5}},
	}
	ledger := allowAll()
	client := NewMeteredClient(provider, ledger)

	result, err := client.Generate(context.Background(), userRequest())
	require.NoError(t, err)
	assert.Equal(t, "hi!", result.Text)

	assert.Equal(t, 1, ledger.checkCalls)
	require.Len(t, ledger.trackedOps, 1)
	assert.Equal(t, specforge.OperationGenerate, ledger.trackedOps[0])
	assert.Equal(t, 12, ledger.trackedInput[0])
	assert.Equal(t, 5, ledger.trackedOutput[0])
}

func TestMeteredGenerate_InsufficientCredits(t *testing.T) {
	provider := &fakeProvider{id: ProviderAnthropic, available: true, defaultModel: "claude-sonnet-4-0"}
	ledger := denyAll(0.25)
	client := NewMeteredClient(provider, ledger)

	result, err := client.Generate(context.Background(), userRequest())
	require.NoError(t, err)
	assert.True(t, IsInsufficientCreditsMessage(result.Text))
	assert.Contains(t, result.Text, "0.25 credits remaining")

	assert.Zero(t, provider.generateCalls, "provider must not be called after denial")
	assert.Empty(t, ledger.trackedOps, "denied operations are never debited")
}

func TestMeteredGenerate_ProviderUnavailable(t *testing.T) {
	provider := &fakeProvider{id: ProviderAnthropic, available: false}
	ledger := allowAll()
	client := NewMeteredClient(provider, ledger)

	result, err := client.Generate(context.Background(), userRequest())
	require.NoError(t, err)
	assert.True(t, IsProviderUnavailableMessage(result.Text))
	assert.Zero(t, ledger.checkCalls, "no admission check for a degraded client")
	assert.Zero(t, provider.generateCalls)
}

func TestMeteredGenerate_TransportErrorPropagates(t *testing.T) {
	transportErr := errors.New("connection reset")
	provider := &fakeProvider{
		id:           ProviderAnthropic,
		available:    true,
		defaultModel: "claude-sonnet-4-0",
		generateErr:  transportErr,
	}
	ledger := allowAll()
	client := NewMeteredClient(provider, ledger)

	_, err := client.Generate(context.Background(), userRequest())
	require.ErrorIs(t, err, transportErr)
	assert.Empty(t, ledger.trackedOps, "failed calls are not debited")
}

func TestMeteredGenerate_NoUserSkipsAdmission(t *testing.T) {
	provider := &fakeProvider{
		id:             ProviderAnthropic,
		available:      true,
		defaultModel:   "claude-sonnet-4-0",
		generateResult: &GenerateResult{Text: "internal"},
	}
	ledger := denyAll(0)
	client := NewMeteredClient(provider, ledger)

	req := userRequest()
	req.UserID = ""
	result, err := client.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "internal", result.Text)
	assert.Zero(t, ledger.checkCalls)
}

func TestMeteredGenerate_AdmissionDisabled(t *testing.T) {
	provider := &fakeProvider{
		id:             ProviderAnthropic,
		available:      true,
		defaultModel:   "claude-sonnet-4-0",
		generateResult: &GenerateResult{Text: "ok", Usage: TokenUsage{InputTokens: 3, OutputTokens: 1}},
	}
	ledger := denyAll(0)
	client := NewMeteredClient(provider, ledger, WithMeteredAdmission(false))

	result, err := client.Generate(context.Background(), userRequest())
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Text)
	assert.Zero(t, ledger.checkCalls)
	assert.Len(t, ledger.trackedOps, 1, "metering still runs with admission off")
}

func TestMeteredGenerate_PerRequestSkipCreditCheck(t *testing.T) {
	provider := &fakeProvider{
		id:             ProviderAnthropic,
		available:      true,
		defaultModel:   "claude-sonnet-4-0",
		generateResult: &GenerateResult{Text: "ok", Usage: TokenUsage{InputTokens: 3, OutputTokens: 1}},
	}
	ledger := denyAll(0)
	client := NewMeteredClient(provider, ledger)

	req := userRequest()
	req.SkipCreditCheck = true
	result, err := client.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Text)
	assert.Zero(t, ledger.checkCalls)
	assert.Len(t, ledger.trackedOps, 1, "metering still runs when the check is skipped")
}

func TestMeteredGenerate_OutputEstimateCappedByClientDefault(t *testing.T) {
	provider := &fakeProvider{
		id:             ProviderAnthropic,
		available:      true,
		defaultModel:   "claude-sonnet-4-0",
		maxOutput:      100,
		countResult:    specforge.TokenEstimate{InputTokens: 5000},
		generateResult: &GenerateResult{Text: "ok"},
	}
	ledger := allowAll()
	client := NewMeteredClient(provider, ledger)

	// Request leaves MaxOutputTokens unset, so the cap comes from the client.
	_, err := client.Generate(context.Background(), userRequest())
	require.NoError(t, err)
	require.Len(t, ledger.checkOutput, 1)
	assert.Equal(t, 5000, ledger.checkInput[0])
	assert.Equal(t, 100, ledger.checkOutput[0], "input/2 exceeds the client limit")

	// A request-level limit takes precedence over the client default.
	req := userRequest()
	req.MaxOutputTokens = 40
	_, err = client.Generate(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, ledger.checkOutput, 2)
	assert.Equal(t, 40, ledger.checkOutput[1])
}

func TestMeteredStream_DebitsOnceOnCompletion(t *testing.T) {
	provider := &fakeProvider{
		id:           ProviderAnthropic,
		available:    true,
		defaultModel: "claude-sonnet-4-0",
		streamChunks: []Chunk{
			{Text: "hel"},
			{Text: "lo"},
			{Finished: true, Usage: &TokenUsage{InputTokens: 10, OutputTokens: 4}},
		},
	}
	ledger := allowAll()
	client := NewMeteredClient(provider, ledger)

	stream, err := client.GenerateStream(context.Background(), userRequest())
	require.NoError(t, err)
	defer stream.Close()

	var text string
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		text += chunk.Text
	}

	assert.Equal(t, "hello", text)
	require.Len(t, ledger.trackedOps, 1)
	assert.Equal(t, specforge.OperationStream, ledger.trackedOps[0])
	assert.Equal(t, 10, ledger.trackedInput[0])
	assert.Equal(t, 4, ledger.trackedOutput[0])
}

func TestMeteredStream_AbandonedStreamNotDebited(t *testing.T) {
	provider := &fakeProvider{
		id:           ProviderAnthropic,
		available:    true,
		defaultModel: "claude-sonnet-4-0",
		streamChunks: []Chunk{
			{Text: "partial"},
			{Finished: true, Usage: &TokenUsage{InputTokens: 10, OutputTokens: 4}},
		},
	}
	ledger := allowAll()
	client := NewMeteredClient(provider, ledger)

	stream, err := client.GenerateStream(context.Background(), userRequest())
	require.NoError(t, err)

	_, err = stream.Next()
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	assert.Empty(t, ledger.trackedOps, "abandoned streams are never debited")
}

func TestMeteredStream_DenialDeliveredAsChunk(t *testing.T) {
	provider := &fakeProvider{id: ProviderAnthropic, available: true, defaultModel: "claude-sonnet-4-0"}
	ledger := denyAll(1.5)
	client := NewMeteredClient(provider, ledger)

	stream, err := client.GenerateStream(context.Background(), userRequest())
	require.NoError(t, err)

	chunk, err := stream.Next()
	require.NoError(t, err)
	assert.True(t, chunk.Finished)
	assert.True(t, IsInsufficientCreditsMessage(chunk.Text))

	_, err = stream.Next()
	assert.Equal(t, io.EOF, err)
	assert.Zero(t, provider.streamCalls)
}

func TestMeteredStream_UnavailableDeliveredAsChunk(t *testing.T) {
	provider := &fakeProvider{id: ProviderAnthropic, available: false}
	client := NewMeteredClient(provider, allowAll())

	stream, err := client.GenerateStream(context.Background(), userRequest())
	require.NoError(t, err)

	chunk, err := stream.Next()
	require.NoError(t, err)
	assert.True(t, IsProviderUnavailableMessage(chunk.Text))
}

func TestMeteredToolCall_Success(t *testing.T) {
	provider := &fakeProvider{
		id:           ProviderAnthropic,
		available:    true,
		defaultModel: "claude-sonnet-4-0",
		toolCallResult: &ToolCallResult{
			ToolName:  "extract",
			ToolInput: json.RawMessage(`{"ok":true}`),
			Usage:     TokenUsage{InputTokens: 30, OutputTokens: 8},
		},
	}
	ledger := allowAll()
	client := NewMeteredClient(provider, ledger)

	result, err := client.ToolCall(context.Background(), userRequest())
	require.NoError(t, err)
	assert.Equal(t, "extract", result.ToolName)
	require.Len(t, ledger.trackedOps, 1)
	assert.Equal(t, specforge.OperationToolCall, ledger.trackedOps[0])
}

func TestMeteredToolCall_InsufficientCredits(t *testing.T) {
	provider := &fakeProvider{id: ProviderAnthropic, available: true, defaultModel: "claude-sonnet-4-0"}
	client := NewMeteredClient(provider, denyAll(0.5))

	_, err := client.ToolCall(context.Background(), userRequest())
	var creditsErr *InsufficientCreditsError
	require.ErrorAs(t, err, &creditsErr)
	assert.Equal(t, 0.5, creditsErr.Remaining)
	assert.ErrorIs(t, err, specforge.ErrInsufficientCredits)
	assert.Zero(t, provider.toolCalls)
}

func TestMeteredToolCall_ProviderUnavailable(t *testing.T) {
	provider := &fakeProvider{id: ProviderAnthropic, available: false}
	client := NewMeteredClient(provider, allowAll())

	_, err := client.ToolCall(context.Background(), userRequest())
	require.ErrorIs(t, err, specforge.ErrProviderUnavailable)
}

func TestMeteredClient_NilLedgerAlwaysAllows(t *testing.T) {
	provider := &fakeProvider{
		id:             ProviderAnthropic,
		available:      true,
		defaultModel:   "claude-sonnet-4-0",
		generateResult: &GenerateResult{Text: "unmetered"},
	}
	client := NewMeteredClient(provider, nil)

	result, err := client.Generate(context.Background(), userRequest())
	require.NoError(t, err)
	assert.Equal(t, "unmetered", result.Text)
}
