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

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/specforge/specforge"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// openRouterModels maps canonical model identifiers to the vendor-qualified
// identifiers OpenRouter routes on. Identifiers already containing a vendor
// prefix pass through unchanged.
var openRouterModels = map[string]string{
	"claude-sonnet-4-0":       "anthropic/claude-sonnet-4",
	"claude-opus-4-0":         "anthropic/claude-opus-4",
	"claude-3-5-haiku-latest": "anthropic/claude-3.5-haiku",
	"gpt-4o":                  "openai/gpt-4o",
	"gpt-4o-mini":             "openai/gpt-4o-mini",
}

// OpenRouterClient fronts many model vendors through OpenRouter's single
// OpenAI-compatible wire protocol. Like the direct client, a missing API key
// leaves the handle nil and operations degrade instead of failing at startup.
type OpenRouterClient struct {
	client          *openai.Client
	model           string
	maxOutputTokens int
	temperature     *float64
	logger          *slog.Logger
}

// OpenRouterOption configures OpenRouterClient construction.
type OpenRouterOption func(*OpenRouterClient)

// WithOpenRouterLogger sets the logger.
func WithOpenRouterLogger(logger *slog.Logger) OpenRouterOption {
	return func(c *OpenRouterClient) {
		c.logger = logger
	}
}

// WithOpenRouterModel sets the default canonical model.
func WithOpenRouterModel(model string) OpenRouterOption {
	return func(c *OpenRouterClient) {
		c.model = model
	}
}

// WithOpenRouterMaxOutputTokens sets the per-call output token limit.
func WithOpenRouterMaxOutputTokens(n int) OpenRouterOption {
	return func(c *OpenRouterClient) {
		c.maxOutputTokens = n
	}
}

// WithOpenRouterTemperature sets the sampling temperature.
func WithOpenRouterTemperature(t float64) OpenRouterOption {
	return func(c *OpenRouterClient) {
		c.temperature = &t
	}
}

// NewOpenRouterClient constructs the aggregator client. An empty API key
// yields a degraded client rather than an error.
func NewOpenRouterClient(apiKey string, options ...OpenRouterOption) *OpenRouterClient {
	c := &OpenRouterClient{
		model:           "claude-sonnet-4-0",
		maxOutputTokens: 8192,
		logger:          slog.Default(),
	}
	for _, opt := range options {
		opt(c)
	}

	if apiKey == "" {
		c.logger.Warn("OpenRouter API key not configured, client unavailable")
		return c
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(openRouterBaseURL),
	)
	c.client = &client
	return c
}

func (c *OpenRouterClient) ID() string { return ProviderOpenRouter }

func (c *OpenRouterClient) Available() bool { return c.client != nil }

func (c *OpenRouterClient) DefaultModel() string { return c.model }

func (c *OpenRouterClient) MaxOutputTokens() int { return c.maxOutputTokens }

func (c *OpenRouterClient) resolveModel(req specforge.Request) string {
	model := req.Model
	if model == "" {
		model = c.model
	}
	if mapped, ok := openRouterModels[model]; ok {
		return mapped
	}
	return model
}

func (c *OpenRouterClient) buildMessages(req specforge.Request) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}

	for _, msg := range req.Messages {
		if msg.Role == specforge.RoleAssistant {
			messages = append(messages, openai.AssistantMessage(textOf(msg)))
			continue
		}

		if hasImage(msg) {
			parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(msg.Content))
			for _, block := range msg.Content {
				switch block.Type {
				case specforge.ContentTypeImage:
					parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
						URL: fmt.Sprintf("data:%s;base64,%s", block.MediaType, block.Data),
					}))
				default:
					parts = append(parts, openai.TextContentPart(block.Text))
				}
			}
			messages = append(messages, openai.UserMessage(parts))
			continue
		}

		messages = append(messages, openai.UserMessage(textOf(msg)))
	}
	return messages
}

func textOf(msg specforge.Message) string {
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type != specforge.ContentTypeImage {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

func hasImage(msg specforge.Message) bool {
	for _, block := range msg.Content {
		if block.Type == specforge.ContentTypeImage {
			return true
		}
	}
	return false
}

func (c *OpenRouterClient) buildParams(req specforge.Request) openai.ChatCompletionNewParams {
	maxTokens := c.maxOutputTokens
	if req.MaxOutputTokens > 0 {
		maxTokens = req.MaxOutputTokens
	}

	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(c.resolveModel(req)),
		Messages:            c.buildMessages(req),
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	}
	switch {
	case req.Temperature != nil:
		params.Temperature = openai.Float(*req.Temperature)
	case c.temperature != nil:
		params.Temperature = openai.Float(*c.temperature)
	}
	return params
}

// CountTokens reports unsupported: OpenRouter exposes no counting endpoint,
// so callers fall back to the heuristic.
func (c *OpenRouterClient) CountTokens(ctx context.Context, req specforge.Request) specforge.TokenEstimate {
	return specforge.TokenEstimate{Err: "token counting not supported by openrouter"}
}

// Generate issues a non-streaming chat completion.
func (c *OpenRouterClient) Generate(ctx context.Context, req specforge.Request) (*GenerateResult, error) {
	if c.client == nil {
		return nil, specforge.ErrProviderUnavailable
	}

	completion, err := c.client.Chat.Completions.New(ctx, c.buildParams(req))
	if err != nil {
		c.logger.Error("OpenRouter generate call failed",
			"model", c.resolveModel(req), "operation", req.OperationType, "error", err)
		return nil, fmt.Errorf("openrouter generate: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openrouter generate: empty choice list")
	}

	return &GenerateResult{
		Text: completion.Choices[0].Message.Content,
		Usage: TokenUsage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}, nil
}

// ToolCall issues a chat completion with the tool schemas attached, forcing
// the first tool.
func (c *OpenRouterClient) ToolCall(ctx context.Context, req specforge.Request) (*ToolCallResult, error) {
	if c.client == nil {
		return nil, specforge.ErrProviderUnavailable
	}
	if len(req.Tools) == 0 {
		return nil, fmt.Errorf("tool call requires at least one tool schema")
	}

	params := c.buildParams(req)
	for _, tool := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openai.String(tool.Description),
				Parameters:  openai.FunctionParameters(tool.InputSchema),
			},
		})
	}
	params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
		OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
			Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: req.Tools[0].Name},
		},
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		c.logger.Error("OpenRouter tool call failed",
			"model", c.resolveModel(req), "tool", req.Tools[0].Name, "error", err)
		return nil, fmt.Errorf("openrouter tool call: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openrouter tool call: empty choice list")
	}

	message := completion.Choices[0].Message
	result := &ToolCallResult{
		Text: message.Content,
		Usage: TokenUsage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}
	if len(message.ToolCalls) > 0 {
		call := message.ToolCalls[0]
		result.ToolName = call.Function.Name
		result.ToolInput = json.RawMessage(call.Function.Arguments)
	}

	return result, nil
}

// GenerateStream issues a streaming chat completion with usage reporting
// enabled on the final chunk.
func (c *OpenRouterClient) GenerateStream(ctx context.Context, req specforge.Request) (ResponseStream, error) {
	if c.client == nil {
		return nil, specforge.ErrProviderUnavailable
	}

	params := c.buildParams(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	return &openRouterStream{stream: stream}, nil
}

type openRouterStream struct {
	stream   *ssestream.Stream[openai.ChatCompletionChunk]
	usage    TokenUsage
	finished bool
	err      error
}

func (s *openRouterStream) Next() (*Chunk, error) {
	if s.finished {
		return nil, io.EOF
	}

	for s.stream.Next() {
		chunk := s.stream.Current()
		if chunk.Usage.TotalTokens > 0 {
			s.usage = TokenUsage{
				InputTokens:  int(chunk.Usage.PromptTokens),
				OutputTokens: int(chunk.Usage.CompletionTokens),
			}
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			return &Chunk{Text: chunk.Choices[0].Delta.Content}, nil
		}
	}

	if err := s.stream.Err(); err != nil {
		s.err = err
		return nil, err
	}

	s.finished = true
	usage := s.usage
	return &Chunk{Finished: true, Usage: &usage}, nil
}

func (s *openRouterStream) Close() error {
	return s.stream.Close()
}

func (s *openRouterStream) Err() error {
	return s.err
}
