package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTurnAddDocumentIDs(t *testing.T) {
	turn := NewTurn("s1", "hello")
	turn.AddDocumentIDs("d1", "d2", "d1", "")
	assert.Equal(t, []string{"d1", "d2"}, turn.DocumentIDs)
}

func TestTurnAddChunksDedupes(t *testing.T) {
	turn := NewTurn("s1", "hello")
	a := ChunkContext{ChunkID: "c1", DocumentID: "d1", Text: "alpha", Score: 0.9}
	b := ChunkContext{ChunkID: "c2", DocumentID: "d1", Text: "beta", Score: 0.8}

	turn.AddChunks(a, b)
	turn.AddChunks(a) // duplicate id+text, dropped
	assert.Len(t, turn.Chunks, 2)
	assert.Equal(t, []ChunkRef{{ChunkID: "c1", DocumentID: "d1"}, {ChunkID: "c2", DocumentID: "d1"}}, turn.ChunkRefs())
}

func TestTurnMarkToolSorted(t *testing.T) {
	turn := NewTurn("s1", "hello")
	turn.MarkTool("transferToSupport")
	turn.MarkTool("retrieveDocument")
	turn.MarkTool("retrieveDocument")
	assert.Equal(t, []string{"retrieveDocument", "transferToSupport"}, turn.ToolsUsed)
}

func TestTurnAppendLogOrder(t *testing.T) {
	turn := NewTurn("s1", "hello")
	turn.AppendLog(ToolLogCall, "retrieveDocument", map[string]string{"query": "q"})
	turn.AppendLog(ToolLogReturn, "retrieveDocument", "ok")
	assert.Len(t, turn.ToolLog, 2)
	assert.Equal(t, ToolLogCall, turn.ToolLog[0].Kind)
	assert.Equal(t, ToolLogReturn, turn.ToolLog[1].Kind)
}
