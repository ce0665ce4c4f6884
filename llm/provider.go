// Package llm defines the chat provider abstraction and its OpenAI-compatible
// implementation. Messages and tool calls reuse the shared types package so
// conversation history flows through without conversion.
package llm

import (
	"context"
	"time"

	"github.com/BaSui01/ragchat/types"
)

// ChatRequest is a provider-agnostic chat completion request.
type ChatRequest struct {
	Model       string             `json:"model"`
	Messages    []types.Message    `json:"messages"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
	Temperature float32            `json:"temperature,omitempty"`
	TopP        float32            `json:"top_p,omitempty"`
	Stop        []string           `json:"stop,omitempty"`
	Tools       []types.ToolSchema `json:"tools,omitempty"`
	ToolChoice  string             `json:"tool_choice,omitempty"` // auto/none/<tool name>
	Timeout     time.Duration      `json:"timeout,omitempty"`
}

// ChatUsage reports token accounting for a completion.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// ChatChoice is one completion candidate.
type ChatChoice struct {
	Index        int           `json:"index"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Message      types.Message `json:"message"`
}

// ChatResponse is a full, non-streamed completion.
type ChatResponse struct {
	ID        string       `json:"id,omitempty"`
	Model     string       `json:"model"`
	Choices   []ChatChoice `json:"choices"`
	Usage     ChatUsage    `json:"usage,omitempty"`
	CreatedAt time.Time    `json:"created_at,omitempty"`
}

// Text returns the first choice's content, empty when there are no choices.
func (r *ChatResponse) Text() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// StreamChunk is one increment of a streamed completion. Err is set on
// mid-stream failures; the channel closes after the final chunk.
type StreamChunk struct {
	ID           string        `json:"id,omitempty"`
	Model        string        `json:"model,omitempty"`
	Index        int           `json:"index,omitempty"`
	Delta        types.Message `json:"delta"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Usage        *ChatUsage    `json:"usage,omitempty"`
	Err          *types.Error  `json:"error,omitempty"`
}

// HealthStatus reports a provider health probe result.
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
}

// Provider is the unified chat model interface. Tool schemas travel in
// ChatRequest.Tools; the model returns ToolCalls in its response, and tool
// execution is the caller's responsibility.
type Provider interface {
	// Completion performs a synchronous chat request.
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Stream performs a streaming chat request. The returned channel closes
	// when the stream ends; mid-stream errors arrive as chunks with Err set.
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)

	// HealthCheck probes the upstream endpoint.
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// Name returns the provider identifier.
	Name() string
}
