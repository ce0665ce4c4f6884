// Package stream serializes conversation turn progress as server-sent
// events. The Encoder implements agent.Emitter: each orchestrator
// transition becomes exactly one frame kind (delta, tool, final), written
// as a newline-delimited "data: <json>" block.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragchat/agent"
	"github.com/BaSui01/ragchat/types"
)

// Config bounds per-frame payload size and pacing.
type Config struct {
	// FragmentSize is the maximum delta length in runes. Longer deltas
	// split into fixed-size pieces, each its own frame.
	FragmentSize int

	// FragmentYield is the pause between fragments of one delta, giving
	// the transport a chance to flush each piece to the client.
	FragmentYield time.Duration
}

// DefaultConfig returns the default fragmenting parameters.
func DefaultConfig() Config {
	return Config{
		FragmentSize:  60,
		FragmentYield: 20 * time.Millisecond,
	}
}

type deltaFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// chunkRef is the compact chunk reference carried by tool frames. Full
// chunk text travels only in the final frame.
type chunkRef struct {
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
}

type toolFrame struct {
	Type   string               `json:"type"`
	Logs   []types.ToolLogEntry `json:"logs"`
	DocIDs []string             `json:"doc_ids"`
	Chunks []chunkRef           `json:"chunks"`
}

type finalFrame struct {
	Type      string               `json:"type"`
	SessionID string               `json:"session_id"`
	Text      string               `json:"text"`
	Documents []string             `json:"documents"`
	Support   bool                 `json:"support"`
	Tools     []string             `json:"tools"`
	Chunks    []types.ChunkContext `json:"chunks"`
	ToolLogs  []types.ToolLogEntry `json:"tool_logs"`
}

// Encoder writes SSE frames to an underlying writer. Safe for use from a
// single turn at a time; writes are serialized internally.
type Encoder struct {
	mu            sync.Mutex
	w             io.Writer
	flusher       http.Flusher
	fragmentSize  int
	fragmentYield time.Duration
	logger        *zap.Logger
}

var _ agent.Emitter = (*Encoder)(nil)

// NewEncoder creates an encoder over w. When w implements http.Flusher
// every frame is flushed as it is written.
func NewEncoder(w io.Writer, cfg Config, logger *zap.Logger) *Encoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FragmentSize <= 0 {
		cfg.FragmentSize = DefaultConfig().FragmentSize
	}
	flusher, _ := w.(http.Flusher)
	return &Encoder{
		w:             w,
		flusher:       flusher,
		fragmentSize:  cfg.FragmentSize,
		fragmentYield: cfg.FragmentYield,
		logger:        logger.With(zap.String("component", "stream")),
	}
}

// SetSSEHeaders prepares a response writer for event streaming. Call
// before the first frame.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// Start writes the keep-alive comment that precedes the first event, so
// clients establish the connection before generation produces anything.
func (e *Encoder) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := io.WriteString(e.w, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keep-alive: %w", err)
	}
	e.flush()
	return nil
}

// Delta emits a text increment. Text longer than the fragment size goes
// out as multiple frames with a cooperative yield between them; the
// concatenation of all emitted tokens equals text exactly.
func (e *Encoder) Delta(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	for start := 0; start < len(runes); start += e.fragmentSize {
		if start > 0 && e.fragmentYield > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.fragmentYield):
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		end := start + e.fragmentSize
		if end > len(runes) {
			end = len(runes)
		}
		if err := e.writeFrame(deltaFrame{Type: "delta", Token: string(runes[start:end])}); err != nil {
			return err
		}
	}
	return nil
}

// Tool emits the cumulative tool view: the full tool log so far plus the
// deduplicated document ids and chunk references accumulated by the turn.
func (e *Encoder) Tool(ctx context.Context, frame agent.ToolFrame, turn *types.Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	refs := make([]chunkRef, 0, len(turn.Chunks))
	for _, c := range turn.Chunks {
		refs = append(refs, chunkRef{ChunkID: c.ChunkID, DocumentID: c.DocumentID})
	}
	return e.writeFrame(toolFrame{
		Type:   "tool",
		Logs:   turn.ToolLog,
		DocIDs: turn.DocumentIDs,
		Chunks: refs,
	})
}

// Final emits the terminal frame. Always the last frame of a stream.
func (e *Encoder) Final(ctx context.Context, turn *types.Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.writeFrame(finalFrame{
		Type:      "final",
		SessionID: turn.SessionID,
		Text:      turn.Text,
		Documents: turn.DocumentIDs,
		Support:   turn.Support,
		Tools:     turn.ToolsUsed,
		Chunks:    turn.Chunks,
		ToolLogs:  turn.ToolLog,
	})
}

func (e *Encoder) writeFrame(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	e.flush()
	return nil
}

func (e *Encoder) flush() {
	if e.flusher != nil {
		e.flusher.Flush()
	}
}
