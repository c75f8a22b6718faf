// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/specforge/specforge"
)

// AnthropicClient talks to the Anthropic Messages API directly. Model
// identifiers are used natively. When construction fails (missing API key)
// the handle stays nil and every operation degrades to
// specforge.ErrProviderUnavailable instead of failing at startup.
type AnthropicClient struct {
	client          *anthropic.Client
	model           string
	maxOutputTokens int
	temperature     *float64
	logger          *slog.Logger
}

// AnthropicOption configures AnthropicClient construction.
type AnthropicOption func(*AnthropicClient)

// WithAnthropicLogger sets the logger.
func WithAnthropicLogger(logger *slog.Logger) AnthropicOption {
	return func(c *AnthropicClient) {
		c.logger = logger
	}
}

// WithAnthropicModel sets the default model.
func WithAnthropicModel(model string) AnthropicOption {
	return func(c *AnthropicClient) {
		c.model = model
	}
}

// WithAnthropicMaxOutputTokens sets the per-call output token limit.
func WithAnthropicMaxOutputTokens(n int) AnthropicOption {
	return func(c *AnthropicClient) {
		c.maxOutputTokens = n
	}
}

// WithAnthropicTemperature sets the sampling temperature.
func WithAnthropicTemperature(t float64) AnthropicOption {
	return func(c *AnthropicClient) {
		c.temperature = &t
	}
}

// NewAnthropicClient constructs the direct provider client. An empty API key
// yields a degraded client rather than an error.
func NewAnthropicClient(apiKey string, options ...AnthropicOption) *AnthropicClient {
	c := &AnthropicClient{
		model:           "claude-sonnet-4-0",
		maxOutputTokens: 8192,
		logger:          slog.Default(),
	}
	for _, opt := range options {
		opt(c)
	}

	if apiKey == "" {
		c.logger.Warn("Anthropic API key not configured, client unavailable")
		return c
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	c.client = &client
	return c
}

func (c *AnthropicClient) ID() string { return ProviderAnthropic }

func (c *AnthropicClient) Available() bool { return c.client != nil }

func (c *AnthropicClient) DefaultModel() string { return c.model }

func (c *AnthropicClient) MaxOutputTokens() int { return c.maxOutputTokens }

func (c *AnthropicClient) resolveModel(req specforge.Request) string {
	if req.Model != "" {
		return req.Model
	}
	return c.model
}

func (c *AnthropicClient) maxTokens(req specforge.Request) int64 {
	if req.MaxOutputTokens > 0 {
		return int64(req.MaxOutputTokens)
	}
	return int64(c.maxOutputTokens)
}

func (c *AnthropicClient) buildMessages(req specforge.Request) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Content))
		for _, block := range msg.Content {
			switch block.Type {
			case specforge.ContentTypeImage:
				blocks = append(blocks, anthropic.NewImageBlockBase64(block.MediaType, block.Data))
			default:
				blocks = append(blocks, anthropic.NewTextBlock(block.Text))
			}
		}
		if msg.Role == specforge.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		} else {
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		}
	}
	return messages
}

func (c *AnthropicClient) buildParams(req specforge.Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.resolveModel(req)),
		MaxTokens: c.maxTokens(req),
		Messages:  c.buildMessages(req),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	switch {
	case req.Temperature != nil:
		params.Temperature = anthropic.Float(*req.Temperature)
	case c.temperature != nil:
		params.Temperature = anthropic.Float(*c.temperature)
	}
	return params
}

func buildAnthropicTool(tool specforge.ToolSchema) anthropic.ToolParam {
	toolParam := anthropic.ToolParam{
		Name:        tool.Name,
		Description: anthropic.String(tool.Description),
	}
	if props, ok := tool.InputSchema["properties"]; ok {
		toolParam.InputSchema = anthropic.ToolInputSchemaParam{Properties: props}
	} else {
		toolParam.InputSchema = anthropic.ToolInputSchemaParam{Properties: tool.InputSchema}
	}
	return toolParam
}

// CountTokens calls the native counting endpoint with the exact messages,
// system text and tool schemas.
func (c *AnthropicClient) CountTokens(ctx context.Context, req specforge.Request) specforge.TokenEstimate {
	if c.client == nil {
		return specforge.TokenEstimate{Err: specforge.ErrProviderUnavailable.Error()}
	}

	params := anthropic.MessageCountTokensParams{
		Model:    anthropic.Model(c.resolveModel(req)),
		Messages: c.buildMessages(req),
	}
	if req.System != "" {
		params.System = anthropic.MessageCountTokensParamsSystemUnion{
			OfTextBlockArray: []anthropic.TextBlockParam{{Text: req.System}},
		}
	}
	for _, tool := range req.Tools {
		toolParam := buildAnthropicTool(tool)
		params.Tools = append(params.Tools, anthropic.MessageCountTokensToolUnionParam{OfTool: &toolParam})
	}

	count, err := c.client.Messages.CountTokens(ctx, params)
	if err != nil {
		return specforge.TokenEstimate{Err: err.Error()}
	}
	return specforge.TokenEstimate{
		InputTokens: int(count.InputTokens),
		Method:      specforge.EstimateMethodExact,
	}
}

// Generate issues a non-streaming call and returns the concatenated text.
func (c *AnthropicClient) Generate(ctx context.Context, req specforge.Request) (*GenerateResult, error) {
	if c.client == nil {
		return nil, specforge.ErrProviderUnavailable
	}

	message, err := c.client.Messages.New(ctx, c.buildParams(req))
	if err != nil {
		c.logger.Error("Anthropic generate call failed",
			"model", c.resolveModel(req), "operation", req.OperationType, "error", err)
		return nil, fmt.Errorf("anthropic generate: %w", err)
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}

	return &GenerateResult{
		Text: sb.String(),
		Usage: TokenUsage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}, nil
}

// ToolCall issues a structured-output call, forcing the first tool in the
// request so the model answers through the schema when it can.
func (c *AnthropicClient) ToolCall(ctx context.Context, req specforge.Request) (*ToolCallResult, error) {
	if c.client == nil {
		return nil, specforge.ErrProviderUnavailable
	}
	if len(req.Tools) == 0 {
		return nil, fmt.Errorf("tool call requires at least one tool schema")
	}

	params := c.buildParams(req)
	for _, tool := range req.Tools {
		toolParam := buildAnthropicTool(tool)
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	params.ToolChoice = anthropic.ToolChoiceUnionParam{
		OfTool: &anthropic.ToolChoiceToolParam{Name: req.Tools[0].Name},
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		c.logger.Error("Anthropic tool call failed",
			"model", c.resolveModel(req), "tool", req.Tools[0].Name, "error", err)
		return nil, fmt.Errorf("anthropic tool call: %w", err)
	}

	result := &ToolCallResult{
		Usage: TokenUsage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}

	var sb strings.Builder
	for _, block := range message.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			sb.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			if result.ToolInput == nil {
				result.ToolName = variant.Name
				result.ToolInput = json.RawMessage(variant.JSON.Input.Raw())
			}
		}
	}
	result.Text = sb.String()

	return result, nil
}

// GenerateStream issues a streaming call. The returned stream yields text
// deltas and finishes with a chunk carrying the accumulated usage.
func (c *AnthropicClient) GenerateStream(ctx context.Context, req specforge.Request) (ResponseStream, error) {
	if c.client == nil {
		return nil, specforge.ErrProviderUnavailable
	}

	stream := c.client.Messages.NewStreaming(ctx, c.buildParams(req))
	return &anthropicStream{stream: stream}, nil
}

type anthropicStream struct {
	stream   *ssestream.Stream[anthropic.MessageStreamEventUnion]
	acc      anthropic.Message
	finished bool
	err      error
}

func (s *anthropicStream) Next() (*Chunk, error) {
	if s.finished {
		return nil, io.EOF
	}

	for s.stream.Next() {
		event := s.stream.Current()
		// Accumulation failures don't interrupt delivery; they only degrade
		// the final usage chunk.
		_ = s.acc.Accumulate(event)

		if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if text, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok && text.Text != "" {
				return &Chunk{Text: text.Text}, nil
			}
		}
	}

	if err := s.stream.Err(); err != nil {
		s.err = err
		return nil, err
	}

	s.finished = true
	return &Chunk{
		Finished: true,
		Usage: &TokenUsage{
			InputTokens:  int(s.acc.Usage.InputTokens),
			OutputTokens: int(s.acc.Usage.OutputTokens),
		},
	}, nil
}

func (s *anthropicStream) Close() error {
	return s.stream.Close()
}

func (s *anthropicStream) Err() error {
	return s.err
}
