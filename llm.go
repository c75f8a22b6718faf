// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package specforge

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Content block types.
const (
	ContentTypeText  = "text"
	ContentTypeImage = "image"
)

// Operation types recorded against the credit ledger.
const (
	OperationGenerate = "generate"
	OperationStream   = "stream"
	OperationToolCall = "tool_call"
)

// ContentBlock is a single piece of message content. Text blocks carry Text;
// image blocks carry a media type and base64-encoded data.
type ContentBlock struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
	Data      string `json:"data,omitempty"`
}

// Message is one turn in a conversation.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// NewTextMessage builds a message with a single text block.
func NewTextMessage(role Role, text string) Message {
	return Message{
		Role:    role,
		Content: []ContentBlock{{Type: ContentTypeText, Text: text}},
	}
}

// ToolSchema describes a structured-output tool offered to the model.
// InputSchema is a JSON Schema object ("type", "properties", "required").
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Request is a single provider call. It is constructed once per call and
// never mutated afterwards.
//
// SkipCreditCheck opts this one call out of the pre-flight credit check; the
// zero value keeps the check on. Completed calls are metered either way.
type Request struct {
	Messages        []Message      `json:"messages"`
	System          string         `json:"system,omitempty"`
	Model           string         `json:"model,omitempty"`
	MaxOutputTokens int            `json:"maxOutputTokens,omitempty"`
	Temperature     *float64       `json:"temperature,omitempty"`
	Tools           []ToolSchema   `json:"tools,omitempty"`
	UserID          string         `json:"userId,omitempty"`
	OperationType   string         `json:"operationType,omitempty"`
	SkipCreditCheck bool           `json:"skipCreditCheck,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Estimate methods for TokenEstimate.
const (
	EstimateMethodExact     = "exact"
	EstimateMethodHeuristic = "heuristic"
)

// TokenEstimate is a pre-flight input token estimate. Err is set when the
// exact provider-side count was unavailable or when estimation failed
// entirely; a populated Err with zero tokens means the estimate is unusable.
type TokenEstimate struct {
	InputTokens int    `json:"inputTokens"`
	Method      string `json:"method"`
	Err         string `json:"error,omitempty"`
}

// CreditCheckResult is the outcome of an admission check. It is advisory:
// credits are not reserved, so concurrent calls may both be admitted against
// the same remaining balance.
type CreditCheckResult struct {
	HasSufficientCredits  bool    `json:"hasSufficientCredits"`
	RemainingCredits      float64 `json:"remainingCredits"`
	TotalCredits          float64 `json:"totalCredits"`
	EstimatedCost         float64 `json:"estimatedCost"`
	EstimatedInputTokens  int     `json:"estimatedInputTokens"`
	EstimatedOutputTokens int     `json:"estimatedOutputTokens"`
	Err                   string  `json:"error,omitempty"`
}
