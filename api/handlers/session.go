package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragchat/store"
	"github.com/BaSui01/ragchat/types"
)

// SessionHandler serves session CRUD and message listing.
type SessionHandler struct {
	store  *store.Store
	logger *zap.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(st *store.Store, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{
		store:  st,
		logger: logger.With(zap.String("component", "sessions")),
	}
}

// CreateSessionRequest is the POST /api/sessions body.
type CreateSessionRequest struct {
	Title string `json:"title"`
}

// RenameSessionRequest is the POST /api/sessions/{id}/rename body.
type RenameSessionRequest struct {
	Title string `json:"title"`
}

// MessageOut is one persisted message with its turn metadata unpacked.
type MessageOut struct {
	ID        string               `json:"id"`
	Role      string               `json:"role"`
	Content   string               `json:"content"`
	CreatedAt time.Time            `json:"created_at"`
	Documents []string             `json:"documents"`
	Tools     []string             `json:"tools"`
	Support   bool                 `json:"support"`
	Chunks    []types.ChunkContext `json:"chunks"`
	ToolLogs  []types.ToolLogEntry `json:"tool_logs"`
}

// HandleList serves GET /api/sessions.
func (h *SessionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ListSessions(r.Context())
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, sessions)
}

// HandleCreate serves POST /api/sessions.
func (h *SessionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	session, err := h.store.CreateSession(r.Context(), req.Title)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, session)
}

// HandleRename serves POST /api/sessions/{session_id}/rename.
func (h *SessionHandler) HandleRename(w http.ResponseWriter, r *http.Request) {
	var req RenameSessionRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	session, err := h.store.RenameSession(r.Context(), r.PathValue("session_id"), req.Title)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, session)
}

// HandleDelete serves DELETE /api/sessions/{session_id}.
func (h *SessionHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteSession(r.Context(), r.PathValue("session_id")); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"status": "deleted"})
}

// HandleMessages serves GET /api/sessions/{session_id}/messages.
func (h *SessionHandler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.store.Messages(r.Context(), r.PathValue("session_id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	out := make([]MessageOut, 0, len(messages))
	for _, msg := range messages {
		extras := msg.DecodeExtras()
		out = append(out, MessageOut{
			ID:        msg.ID,
			Role:      msg.Role,
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt,
			Documents: emptyIfNil(extras.Documents),
			Tools:     emptyIfNil(extras.Tools),
			Support:   extras.Support,
			Chunks:    extrasChunks(extras.Chunks),
			ToolLogs:  extrasLogs(extras.ToolLogs),
		})
	}
	WriteSuccess(w, out)
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func extrasChunks(c []types.ChunkContext) []types.ChunkContext {
	if c == nil {
		return []types.ChunkContext{}
	}
	return c
}

func extrasLogs(l []types.ToolLogEntry) []types.ToolLogEntry {
	if l == nil {
		return []types.ToolLogEntry{}
	}
	return l
}
