package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/ragchat/types"
)

// scriptedRunner replays one event script per Run call and records the
// messages each call received.
type scriptedRunner struct {
	scripts [][]RunEvent
	calls   int
	msgs    [][]types.Message
}

func (r *scriptedRunner) Run(ctx context.Context, messages []types.Message) <-chan RunEvent {
	r.msgs = append(r.msgs, messages)
	idx := r.calls
	r.calls++

	ch := make(chan RunEvent)
	go func() {
		defer close(ch)
		if idx >= len(r.scripts) {
			return
		}
		for _, ev := range r.scripts[idx] {
			ch <- ev
		}
	}()
	return ch
}

// recordingEmitter captures everything the orchestrator emits.
type recordingEmitter struct {
	deltas    []string
	frames    []ToolFrame
	toolTurns []int // turn.ToolLog length at each tool frame
	finals    []*types.Turn
}

func (e *recordingEmitter) Delta(ctx context.Context, text string) error {
	e.deltas = append(e.deltas, text)
	return nil
}

func (e *recordingEmitter) Tool(ctx context.Context, frame ToolFrame, turn *types.Turn) error {
	e.frames = append(e.frames, frame)
	e.toolTurns = append(e.toolTurns, snapshotLogLen(turn))
	return nil
}

func snapshotLogLen(turn *types.Turn) int { return len(turn.ToolLog) }

func (e *recordingEmitter) Final(ctx context.Context, turn *types.Turn) error {
	e.finals = append(e.finals, turn)
	return nil
}

func newTestOrchestrator(runner Runner, maxRetries int) *Orchestrator {
	return NewOrchestrator(runner, NewHistoryBuilder(nil, 0, nil), maxRetries, nil, nil)
}

func TestOrchestratorDeltasConcatenateToFinalText(t *testing.T) {
	runner := &scriptedRunner{scripts: [][]RunEvent{{
		GenerationEvent{Kind: PartStartText, Text: "The answer "},
		GenerationEvent{Kind: PartDelta, Text: "is 42."},
		TerminalEvent{Output: "The answer is 42."},
	}}}
	em := &recordingEmitter{}

	turn, err := newTestOrchestrator(runner, 2).RunTurn(
		context.Background(), "s1", "what is it?", nil, em)

	require.NoError(t, err)
	assert.Equal(t, "The answer is 42.", turn.Text)
	assert.Equal(t, turn.Text, strings.Join(em.deltas, ""))
	require.Len(t, em.finals, 1)
	assert.Same(t, turn, em.finals[0])
}

func TestOrchestratorPartStartSuffixSubtraction(t *testing.T) {
	// A second part start restates text already streamed; only the unseen
	// suffix may go out as a delta.
	runner := &scriptedRunner{scripts: [][]RunEvent{{
		GenerationEvent{Kind: PartStartText, Text: "Hello"},
		GenerationEvent{Kind: PartStartText, Text: "Hello world"},
		TerminalEvent{Output: "Hello world"},
	}}}
	em := &recordingEmitter{}

	turn, err := newTestOrchestrator(runner, 2).RunTurn(
		context.Background(), "s1", "hi", nil, em)

	require.NoError(t, err)
	assert.Equal(t, []string{"Hello", " world"}, em.deltas)
	assert.Equal(t, "Hello world", turn.Text)
}

func TestOrchestratorRetrievalMergesIntoTurn(t *testing.T) {
	result := types.RetrievalResult{
		DocumentIDs: []string{"doc-1", "doc-2"},
		Chunks: []types.ChunkContext{
			{ChunkID: "c1", DocumentID: "doc-1", Text: "alpha", Score: 0.9},
			{ChunkID: "c2", DocumentID: "doc-2", Text: "beta", Score: 0.8},
		},
	}
	raw, err := json.Marshal(result)
	require.NoError(t, err)

	runner := &scriptedRunner{scripts: [][]RunEvent{{
		ToolEvent{Kind: ToolEventCall, CallID: "call-1", Tool: ToolRetrieveDocument,
			Args: json.RawMessage(`{"query":"alpha"}`)},
		ToolEvent{Kind: ToolEventReturn, CallID: "call-1", Tool: ToolRetrieveDocument,
			Result: raw},
		GenerationEvent{Kind: PartStartText, Text: "Alpha and beta."},
		TerminalEvent{Output: "Alpha and beta."},
	}}}
	em := &recordingEmitter{}

	turn, err := newTestOrchestrator(runner, 2).RunTurn(
		context.Background(), "s1", "alpha?", nil, em)

	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1", "doc-2"}, turn.DocumentIDs)
	assert.Len(t, turn.Chunks, 2)
	assert.Equal(t, []string{ToolRetrieveDocument}, turn.ToolsUsed)
	assert.False(t, turn.Support)
	require.Len(t, turn.ToolLog, 2)

	// The return frame carries a summary, not the chunk bodies.
	require.Len(t, em.frames, 2)
	// Each tool frame saw the turn with its own log entry folded in.
	assert.Equal(t, []int{1, 2}, em.toolTurns)
	assert.Equal(t, "call", em.frames[0].Kind)
	ret := em.frames[1]
	assert.Equal(t, "return", ret.Kind)
	payload, ok := ret.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []string{"doc-1", "doc-2"}, payload["document_ids"])
	assert.Equal(t, 2, payload["chunks_count"])
}

func TestOrchestratorTransferSetsSupport(t *testing.T) {
	runner := &scriptedRunner{scripts: [][]RunEvent{{
		ToolEvent{Kind: ToolEventCall, CallID: "call-1", Tool: ToolTransferToSupport,
			Args: json.RawMessage(`{"reason":"no relevant documents"}`)},
		ToolEvent{Kind: ToolEventReturn, CallID: "call-1", Tool: ToolTransferToSupport,
			Result: json.RawMessage(`"Call support with reason: no relevant documents"`)},
		GenerationEvent{Kind: PartStartText,
			Text: "Call support with reason: no relevant documents"},
		TerminalEvent{Output: "Call support with reason: no relevant documents"},
	}}}
	em := &recordingEmitter{}

	turn, err := newTestOrchestrator(runner, 2).RunTurn(
		context.Background(), "s1", "help", nil, em)

	require.NoError(t, err)
	assert.True(t, turn.Support)
	assert.Equal(t, []string{ToolTransferToSupport}, turn.ToolsUsed)
}

func TestOrchestratorDedupesRepeatedToolEvents(t *testing.T) {
	call := ToolEvent{Kind: ToolEventCall, CallID: "call-1", Tool: ToolTransferToSupport,
		Args: json.RawMessage(`{"reason":"r"}`)}
	ret := ToolEvent{Kind: ToolEventReturn, CallID: "call-1", Tool: ToolTransferToSupport,
		Result: json.RawMessage(`"Call support with reason: r"`)}

	runner := &scriptedRunner{scripts: [][]RunEvent{{
		call, call, ret, ret,
		GenerationEvent{Kind: PartStartText, Text: "Call support with reason: r"},
		TerminalEvent{Output: "Call support with reason: r"},
	}}}
	em := &recordingEmitter{}

	turn, err := newTestOrchestrator(runner, 2).RunTurn(
		context.Background(), "s1", "help", nil, em)

	require.NoError(t, err)
	assert.Len(t, em.frames, 2)
	assert.Len(t, turn.ToolLog, 2)
}

func TestOrchestratorValidationRetrySucceeds(t *testing.T) {
	runner := &scriptedRunner{scripts: [][]RunEvent{
		{
			GenerationEvent{Kind: PartStartText, Text: "I will transfer you to support now."},
			TerminalEvent{Output: "I will transfer you to support now."},
		},
		{
			GenerationEvent{Kind: PartStartText, Text: "Here is the documented answer."},
			TerminalEvent{Output: "Here is the documented answer."},
		},
	}}
	em := &recordingEmitter{}

	turn, err := newTestOrchestrator(runner, 2).RunTurn(
		context.Background(), "s1", "q", nil, em)

	require.NoError(t, err)
	assert.Equal(t, "Here is the documented answer.", turn.Text)
	assert.Equal(t, 2, runner.calls)

	// The retry carried the rejected output and a corrective nudge.
	second := runner.msgs[1]
	require.GreaterOrEqual(t, len(second), 2)
	assert.Equal(t, types.RoleAssistant, second[len(second)-2].Role)
	assert.Equal(t, "I will transfer you to support now.", second[len(second)-2].Content)
	assert.Equal(t, RetryNudge, second[len(second)-1].Content)
}

func TestOrchestratorValidationRetriesExhausted(t *testing.T) {
	// Every regeneration fabricates an escalation. After the bound is
	// spent the last output goes out as-is instead of looping forever.
	bad := []RunEvent{
		GenerationEvent{Kind: PartStartText, Text: "Transferring you to support."},
		TerminalEvent{Output: "Transferring you to support."},
	}
	runner := &scriptedRunner{scripts: [][]RunEvent{bad, bad, bad}}
	em := &recordingEmitter{}

	turn, err := newTestOrchestrator(runner, 2).RunTurn(
		context.Background(), "s1", "q", nil, em)

	require.NoError(t, err)
	assert.Equal(t, 3, runner.calls)
	assert.Equal(t, "Transferring you to support.", turn.Text)
	require.Len(t, em.finals, 1)
	assert.Same(t, turn, em.finals[0])
}

func TestOrchestratorTerminalErrorEmitsFinal(t *testing.T) {
	runner := &scriptedRunner{scripts: [][]RunEvent{{
		GenerationEvent{Kind: PartStartText, Text: "partial"},
		TerminalEvent{Err: types.NewError(types.ErrRunFailure, "upstream died")},
	}}}
	em := &recordingEmitter{}

	turn, err := newTestOrchestrator(runner, 2).RunTurn(
		context.Background(), "s1", "q", nil, em)

	require.Error(t, err)
	assert.Nil(t, turn)
	assert.Equal(t, types.ErrRunFailure, types.GetErrorCode(err))

	// The stream still closes with a final frame reporting the error and
	// nothing else.
	require.Len(t, em.finals, 1)
	final := em.finals[0]
	assert.Contains(t, final.Text, "upstream died")
	assert.True(t, strings.HasPrefix(final.Text, "Error: "))
	assert.Empty(t, final.DocumentIDs)
	assert.Empty(t, final.ToolsUsed)
	assert.False(t, final.Support)
	assert.Equal(t, "s1", final.SessionID)
	assert.Equal(t, "q", final.UserMessage)
}

func TestOrchestratorStreamsAdoptedTerminalOutput(t *testing.T) {
	// Nothing was streamed; the terminal output becomes the turn text and
	// goes out through the delta path so concatenated deltas still equal
	// the final text.
	runner := &scriptedRunner{scripts: [][]RunEvent{{
		TerminalEvent{Output: "Full answer at once."},
	}}}
	em := &recordingEmitter{}

	turn, err := newTestOrchestrator(runner, 2).RunTurn(
		context.Background(), "s1", "q", nil, em)

	require.NoError(t, err)
	assert.Equal(t, "Full answer at once.", turn.Text)
	assert.Equal(t, []string{"Full answer at once."}, em.deltas)
	assert.Equal(t, turn.Text, strings.Join(em.deltas, ""))
}

func TestOrchestratorChannelCloseWithoutTerminal(t *testing.T) {
	runner := &scriptedRunner{scripts: [][]RunEvent{{
		GenerationEvent{Kind: PartStartText, Text: "half"},
	}}}
	em := &recordingEmitter{}

	_, err := newTestOrchestrator(runner, 2).RunTurn(
		context.Background(), "s1", "q", nil, em)

	require.Error(t, err)
	assert.Equal(t, types.ErrRunFailure, types.GetErrorCode(err))
}

func TestOrchestratorToolErrorPayload(t *testing.T) {
	runner := &scriptedRunner{scripts: [][]RunEvent{{
		ToolEvent{Kind: ToolEventCall, CallID: "call-1", Tool: ToolRetrieveDocument,
			Args: json.RawMessage(`{"query":"x"}`)},
		ToolEvent{Kind: ToolEventReturn, CallID: "call-1", Tool: ToolRetrieveDocument,
			Err: "search backend unavailable"},
		GenerationEvent{Kind: PartStartText, Text: "Call support with reason: retrieval failed"},
		TerminalEvent{Output: "Call support with reason: retrieval failed"},
	}}}
	em := &recordingEmitter{}

	turn, err := newTestOrchestrator(runner, 2).RunTurn(
		context.Background(), "s1", "x", nil, em)

	require.NoError(t, err)
	assert.Empty(t, turn.DocumentIDs)

	ret := em.frames[1]
	payload, ok := ret.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "search backend unavailable", payload["error"])
}
