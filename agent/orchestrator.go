package agent

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragchat/internal/metrics"
	"github.com/BaSui01/ragchat/types"
)

// ToolFrame is the client-facing payload for a tool call or return.
type ToolFrame struct {
	Kind    string `json:"kind"` // call or return
	ID      string `json:"id"`
	Tool    string `json:"tool"`
	Payload any    `json:"payload,omitempty"`
}

// Emitter receives the frames produced while a turn runs. The stream
// package implements it over SSE.
type Emitter interface {
	// Delta delivers a text increment.
	Delta(ctx context.Context, text string) error

	// Tool delivers a tool call or return frame. turn is the running
	// turn after the event was folded in, so cumulative views (tool log,
	// document ids, chunk refs) are current.
	Tool(ctx context.Context, frame ToolFrame, turn *types.Turn) error

	// Final delivers the completed turn. Always the last frame, emitted
	// exactly once, on success and on failure alike.
	Final(ctx context.Context, turn *types.Turn) error
}

// Orchestrator runs one conversation turn: it consumes the runner's event
// stream, deduplicates repeated tool events, merges retrieval results into
// the turn, enforces the escalation policy on the final text, and emits
// frames as it goes.
type Orchestrator struct {
	runner     Runner
	history    *HistoryBuilder
	validator  *OutputValidator
	maxRetries int
	collector  *metrics.Collector
	logger     *zap.Logger
}

// NewOrchestrator wires a turn orchestrator. collector may be nil;
// maxRetries bounds regenerations after a validation rejection.
func NewOrchestrator(runner Runner, history *HistoryBuilder, maxRetries int, collector *metrics.Collector, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Orchestrator{
		runner:     runner,
		history:    history,
		validator:  NewOutputValidator(),
		maxRetries: maxRetries,
		collector:  collector,
		logger:     logger.With(zap.String("component", "orchestrator")),
	}
}

// turnRun carries the mutable state of one turn across retries. Dedupe
// sets persist so a regeneration cannot double-log a tool event.
type turnRun struct {
	turn        *types.Turn
	emitter     Emitter
	state       State
	accumulated string
	seenCalls   map[string]struct{}
	seenReturns map[string]struct{}
}

// RunTurn executes a turn for userMessage against the prior session
// history. It returns the completed turn; on failure the returned error is
// set and an empty final frame has already been emitted.
func (o *Orchestrator) RunTurn(ctx context.Context, sessionID, userMessage string, history []types.Message, em Emitter) (*types.Turn, error) {
	start := time.Now()
	run := &turnRun{
		turn:        types.NewTurn(sessionID, userMessage),
		emitter:     em,
		state:       StateAwaitingModel,
		seenCalls:   make(map[string]struct{}),
		seenReturns: make(map[string]struct{}),
	}

	messages := o.history.Build(SystemPrompt, history, userMessage)

	status := "ok"
	for attempt := 0; ; attempt++ {
		run.accumulated = ""
		run.state = StateAwaitingModel

		if err := o.consumeRun(ctx, messages, run); err != nil {
			run.state = StateFailed
			o.recordTurn("error", false, start)
			o.emitErrorFinal(ctx, run, err)
			return nil, err
		}

		run.turn.Text = run.accumulated
		verr := o.validator.Validate(run.turn.Text)
		if verr == nil {
			break
		}

		if o.collector != nil {
			o.collector.RecordValidationRejection()
		}
		o.logger.Warn("output rejected by escalation validator",
			zap.String("session_id", sessionID),
			zap.Int("attempt", attempt))

		if attempt >= o.maxRetries {
			// Retries are spent: the last output goes out as-is rather
			// than looping forever.
			o.logger.Warn("validation retries exhausted, surfacing last output",
				zap.String("session_id", sessionID))
			status = "rejected"
			break
		}

		// Regenerate with the rejected output and a corrective nudge in
		// context.
		messages = append(messages,
			types.NewAssistantMessage(run.turn.Text),
			types.NewUserMessage(RetryNudge),
		)
	}

	run.state = StateCompleted
	o.recordTurn(status, run.turn.Support, start)

	if err := em.Final(ctx, run.turn); err != nil {
		return run.turn, err
	}
	return run.turn, nil
}

// consumeRun drains one runner event stream into the turn state.
func (o *Orchestrator) consumeRun(ctx context.Context, messages []types.Message, run *turnRun) error {
	for event := range o.runner.Run(ctx, messages) {
		switch ev := event.(type) {
		case GenerationEvent:
			if err := o.handleGeneration(ctx, ev, run); err != nil {
				return err
			}
		case ToolEvent:
			if err := o.handleTool(ctx, ev, run); err != nil {
				return err
			}
		case TerminalEvent:
			if ev.Err != nil {
				return ev.Err
			}
			// Some runs report text only at the end. Adopt it when
			// nothing was streamed, and send it through the delta path
			// so clients see it arrive the same way as streamed text.
			if run.accumulated == "" && ev.Output != "" {
				run.accumulated = ev.Output
				return run.emitter.Delta(ctx, ev.Output)
			}
			return nil
		}
	}
	return types.NewError(types.ErrRunFailure, "runner closed without a terminal event")
}

func (o *Orchestrator) handleGeneration(ctx context.Context, ev GenerationEvent, run *turnRun) error {
	run.transition(StateStreaming)

	switch ev.Kind {
	case PartStartText:
		// A part start may restate text already delivered; emit only the
		// unseen suffix so concatenated deltas equal the final text.
		delta := ev.Text
		if run.accumulated != "" && strings.HasPrefix(ev.Text, run.accumulated) {
			delta = ev.Text[len(run.accumulated):]
			run.accumulated = ev.Text
		} else {
			run.accumulated += ev.Text
		}
		if delta == "" {
			return nil
		}
		return run.emitter.Delta(ctx, delta)

	case PartDelta:
		if ev.Text == "" {
			return nil
		}
		run.accumulated += ev.Text
		return run.emitter.Delta(ctx, ev.Text)

	case PartStartToolCall:
		// The frame is emitted from the ToolEvent, which carries the
		// complete arguments.
		return nil
	}
	return nil
}

func (o *Orchestrator) handleTool(ctx context.Context, ev ToolEvent, run *turnRun) error {
	switch ev.Kind {
	case ToolEventCall:
		if _, seen := run.seenCalls[ev.CallID]; seen {
			return nil
		}
		run.seenCalls[ev.CallID] = struct{}{}
		run.transition(StateExecutingTools)

		run.turn.MarkTool(ev.Tool)
		payload := jsonSafe(ev.Args)
		run.turn.AppendLog(types.ToolLogCall, ev.Tool, payload)
		return run.emitter.Tool(ctx, ToolFrame{
			Kind: "call", ID: ev.CallID, Tool: ev.Tool, Payload: payload,
		}, run.turn)

	case ToolEventReturn:
		if _, seen := run.seenReturns[ev.CallID]; seen {
			return nil
		}
		run.seenReturns[ev.CallID] = struct{}{}
		run.transition(StateAwaitingModel)

		payload := o.toolReturnPayload(ev, run)
		run.turn.AppendLog(types.ToolLogReturn, ev.Tool, payload)
		return run.emitter.Tool(ctx, ToolFrame{
			Kind: "return", ID: ev.CallID, Tool: ev.Tool, Payload: payload,
		}, run.turn)
	}
	return nil
}

// toolReturnPayload folds a tool result into the turn and builds the
// client-facing payload.
func (o *Orchestrator) toolReturnPayload(ev ToolEvent, run *turnRun) any {
	if ev.Err != "" {
		return map[string]any{"error": ev.Err}
	}

	switch ev.Tool {
	case ToolRetrieveDocument:
		var result types.RetrievalResult
		if err := json.Unmarshal(ev.Result, &result); err != nil {
			o.logger.Warn("unparseable retrieval result", zap.Error(err))
			return jsonSafe(ev.Result)
		}
		run.turn.AddDocumentIDs(result.DocumentIDs...)
		run.turn.AddChunks(result.Chunks...)
		// Clients get a summary, not the chunk bodies.
		return map[string]any{
			"document_ids": result.DocumentIDs,
			"chunks_count": len(result.Chunks),
		}

	case ToolTransferToSupport:
		run.turn.Support = true
		return jsonSafe(ev.Result)

	default:
		return jsonSafe(ev.Result)
	}
}

// emitErrorFinal sends the failure-shaped final frame: the text reports
// the error, everything else is empty. The stream always ends with a
// final frame, never an unannounced close.
func (o *Orchestrator) emitErrorFinal(ctx context.Context, run *turnRun, cause error) {
	failed := types.NewTurn(run.turn.SessionID, run.turn.UserMessage)
	failed.Text = "Error: " + cause.Error()
	if err := run.emitter.Final(ctx, failed); err != nil {
		o.logger.Warn("failed to emit final frame", zap.Error(err))
	}
}

func (o *Orchestrator) recordTurn(status string, escalated bool, start time.Time) {
	if o.collector != nil {
		o.collector.RecordTurn(status, escalated, time.Since(start))
	}
}

// transition moves the run state, tolerating repeats of the current state.
func (r *turnRun) transition(to State) {
	if r.state == to {
		return
	}
	if CanTransition(r.state, to) {
		r.state = to
	}
}

// jsonSafe decodes raw JSON into a generic value for frame payloads,
// falling back to the raw string.
func jsonSafe(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
