package types

import "sort"

// ToolLogKind distinguishes tool invocation entries from tool return entries.
type ToolLogKind string

const (
	ToolLogCall   ToolLogKind = "call"
	ToolLogReturn ToolLogKind = "return"
)

// ToolLogEntry is one append-only record of tool activity within a turn.
// Payload holds the call arguments for "call" entries and the (possibly
// summarized) result content for "return" entries.
type ToolLogEntry struct {
	Kind    ToolLogKind `json:"kind"`
	Tool    string      `json:"tool"`
	Payload any         `json:"payload"`
}

// Turn is the unit of conversational work: one user message plus everything
// the model and tools produced while answering it. A Turn is created at
// request start and mutated only by the orchestrator until the turn ends.
type Turn struct {
	SessionID   string `json:"session_id"`
	UserMessage string `json:"user_message"`

	Text        string         `json:"text"`
	DocumentIDs []string       `json:"document_ids"`
	ToolsUsed   []string       `json:"tools"`
	Support     bool           `json:"support"`
	Chunks      []ChunkContext `json:"chunks"`
	ToolLog     []ToolLogEntry `json:"tool_logs"`

	docIDSeen map[string]bool
	chunkSeen map[string]bool
	toolSeen  map[string]bool
}

// NewTurn creates an empty turn for the given session and user message.
func NewTurn(sessionID, userMessage string) *Turn {
	return &Turn{
		SessionID:   sessionID,
		UserMessage: userMessage,
		DocumentIDs: []string{},
		ToolsUsed:   []string{},
		Chunks:      []ChunkContext{},
		ToolLog:     []ToolLogEntry{},
		docIDSeen:   make(map[string]bool),
		chunkSeen:   make(map[string]bool),
		toolSeen:    make(map[string]bool),
	}
}

// AddDocumentIDs merges document ids into the turn's set, preserving
// first-seen order.
func (t *Turn) AddDocumentIDs(ids ...string) {
	for _, id := range ids {
		if id == "" || t.docIDSeen[id] {
			continue
		}
		t.docIDSeen[id] = true
		t.DocumentIDs = append(t.DocumentIDs, id)
	}
}

// AddChunks merges chunks into the turn's deduplicated chunk list. A chunk id
// already present keeps its first-seen value; a chunk found through more than
// one retrieval is identical content, so the duplicate is dropped.
func (t *Turn) AddChunks(chunks ...ChunkContext) {
	for _, c := range chunks {
		if c.ChunkID == "" && c.Text == "" {
			continue
		}
		key := c.ChunkID + "\x00" + c.Text
		if t.chunkSeen[key] {
			continue
		}
		t.chunkSeen[key] = true
		t.Chunks = append(t.Chunks, c)
	}
}

// MarkTool records that a tool participated in the turn.
func (t *Turn) MarkTool(name string) {
	if name == "" || t.toolSeen[name] {
		return
	}
	t.toolSeen[name] = true
	t.ToolsUsed = append(t.ToolsUsed, name)
	sort.Strings(t.ToolsUsed)
}

// AppendLog appends one tool log entry. Entries are never reordered or
// retracted.
func (t *Turn) AppendLog(kind ToolLogKind, tool string, payload any) {
	t.ToolLog = append(t.ToolLog, ToolLogEntry{Kind: kind, Tool: tool, Payload: payload})
}

// ChunkRefs returns compact references for the turn's deduplicated chunks.
func (t *Turn) ChunkRefs() []ChunkRef {
	refs := make([]ChunkRef, 0, len(t.Chunks))
	for _, c := range t.Chunks {
		refs = append(refs, c.Ref())
	}
	return refs
}
