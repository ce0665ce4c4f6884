package agent

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/ragchat/llm"
	"github.com/BaSui01/ragchat/types"
)

// Runner executes one generation run and reports it as a RunEvent stream.
// The channel closes after a single TerminalEvent.
type Runner interface {
	Run(ctx context.Context, messages []types.Message) <-chan RunEvent
}

// ProviderRunner drives an llm.Provider in a generate/execute-tools loop
// until the model stops requesting tools or the iteration bound is hit.
type ProviderRunner struct {
	provider      llm.Provider
	registry      *Registry
	model         string
	temperature   float32
	maxTokens     int
	maxIterations int
	logger        *zap.Logger
}

// RunnerConfig configures a ProviderRunner.
type RunnerConfig struct {
	Model         string
	Temperature   float32
	MaxTokens     int
	MaxIterations int
}

// NewProviderRunner creates a runner over a provider and tool registry.
func NewProviderRunner(provider llm.Provider, registry *Registry, cfg RunnerConfig, logger *zap.Logger) *ProviderRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 8
	}
	return &ProviderRunner{
		provider:      provider,
		registry:      registry,
		model:         cfg.Model,
		temperature:   cfg.Temperature,
		maxTokens:     cfg.MaxTokens,
		maxIterations: cfg.MaxIterations,
		logger:        logger.With(zap.String("component", "runner")),
	}
}

// Run starts the generation loop. The returned channel closes after the
// terminal event.
func (r *ProviderRunner) Run(ctx context.Context, messages []types.Message) <-chan RunEvent {
	events := make(chan RunEvent)
	go func() {
		defer close(events)
		r.run(ctx, messages, events)
	}()
	return events
}

func (r *ProviderRunner) run(ctx context.Context, messages []types.Message, events chan<- RunEvent) {
	msgs := make([]types.Message, len(messages))
	copy(msgs, messages)

	var runText string
	callSeq := 0

	for iter := 0; iter < r.maxIterations; iter++ {
		stream, err := r.provider.Stream(ctx, &llm.ChatRequest{
			Model:       r.model,
			Messages:    msgs,
			Temperature: r.temperature,
			MaxTokens:   r.maxTokens,
			Tools:       r.registry.List(),
		})
		if err != nil {
			events <- TerminalEvent{Err: err}
			return
		}

		genText, calls, streamErr := r.consumeStream(ctx, stream, events)
		if streamErr != nil {
			events <- TerminalEvent{Err: streamErr}
			return
		}
		runText += genText

		if len(calls) == 0 {
			events <- TerminalEvent{Output: runText}
			return
		}

		// The model requested tools: run them, then loop with the results.
		assistant := types.NewAssistantMessage(genText).WithToolCalls(calls)
		msgs = append(msgs, assistant)

		for i := range calls {
			if calls[i].ID == "" {
				calls[i].ID = fmt.Sprintf("call-%s-%d", calls[i].Name, callSeq)
			}
			callSeq++

			events <- ToolEvent{
				Kind:   ToolEventCall,
				CallID: calls[i].ID,
				Tool:   calls[i].Name,
				Args:   calls[i].Arguments,
			}

			result := r.registry.Execute(ctx, calls[i])
			events <- ToolEvent{
				Kind:   ToolEventReturn,
				CallID: calls[i].ID,
				Tool:   calls[i].Name,
				Result: result.Result,
				Err:    result.Error,
			}
			msgs = append(msgs, result.ToMessage())
		}
	}

	events <- TerminalEvent{Err: types.NewError(types.ErrRunFailure,
		fmt.Sprintf("generation did not settle within %d iterations", r.maxIterations)).
		WithHTTPStatus(http.StatusBadGateway)}
}

// consumeStream drains one generation stream, emitting text events and
// assembling tool calls from their fragments.
func (r *ProviderRunner) consumeStream(ctx context.Context, stream <-chan llm.StreamChunk, events chan<- RunEvent) (string, []types.ToolCall, error) {
	var text string
	var calls []types.ToolCall
	textStarted := false

	for chunk := range stream {
		if chunk.Err != nil {
			return "", nil, chunk.Err
		}
		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		default:
		}

		if chunk.Delta.Content != "" {
			kind := PartDelta
			if !textStarted {
				kind = PartStartText
				textStarted = true
			}
			text += chunk.Delta.Content
			events <- GenerationEvent{Kind: kind, Text: chunk.Delta.Content}
		}

		for _, tc := range chunk.Delta.ToolCalls {
			if tc.Name != "" || tc.ID != "" {
				// A named fragment opens a new call.
				calls = append(calls, tc)
				started := tc
				events <- GenerationEvent{Kind: PartStartToolCall, Call: &started}
				continue
			}
			// Unnamed fragments extend the latest call's arguments.
			if len(calls) > 0 && len(tc.Arguments) > 0 {
				last := &calls[len(calls)-1]
				last.Arguments = append(last.Arguments, tc.Arguments...)
			}
		}
	}
	return text, calls, nil
}
