package agent

import (
	"encoding/json"

	"github.com/BaSui01/ragchat/types"
)

// RunEvent is the closed union of events a Runner emits while executing
// one generation run. Only the three event types below implement it.
type RunEvent interface {
	isRunEvent()
}

// GenerationKind classifies generation events.
type GenerationKind string

const (
	// PartStartText begins a text part; Text carries its initial content,
	// which may re-state text already delivered.
	PartStartText GenerationKind = "part_start_text"
	// PartStartToolCall begins a tool call part; Call carries the call.
	PartStartToolCall GenerationKind = "part_start_tool_call"
	// PartDelta extends the current text part; Text carries the increment.
	PartDelta GenerationKind = "part_delta"
)

// GenerationEvent is streamed model output.
type GenerationEvent struct {
	Kind GenerationKind
	Text string
	Call *types.ToolCall
}

func (GenerationEvent) isRunEvent() {}

// ToolEventKind classifies tool events.
type ToolEventKind string

const (
	ToolEventCall   ToolEventKind = "call"
	ToolEventReturn ToolEventKind = "return"
)

// ToolEvent reports a tool invocation or its result.
type ToolEvent struct {
	Kind   ToolEventKind
	CallID string
	Tool   string
	Args   json.RawMessage // set on call events
	Result json.RawMessage // set on return events
	Err    string          // non-empty when the tool failed
}

func (ToolEvent) isRunEvent() {}

// TerminalEvent ends a run. Exactly one is emitted per run, last.
type TerminalEvent struct {
	// Output is the run's final text as reported by the provider. It may
	// duplicate text already streamed via generation events.
	Output string
	// Err is set when the run failed; Output is then empty.
	Err error
}

func (TerminalEvent) isRunEvent() {}
