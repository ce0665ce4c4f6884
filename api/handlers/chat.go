package handlers

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/ragchat/agent"
	"github.com/BaSui01/ragchat/store"
	"github.com/BaSui01/ragchat/stream"
	"github.com/BaSui01/ragchat/types"
)

// TurnRunner executes one conversation turn, emitting progress frames.
// The orchestrator implements it.
type TurnRunner interface {
	RunTurn(ctx context.Context, sessionID, userMessage string, history []types.Message, em agent.Emitter) (*types.Turn, error)
}

// ChatHandler serves the streaming turn endpoint.
type ChatHandler struct {
	store     *store.Store
	runner    TurnRunner
	streamCfg stream.Config
	logger    *zap.Logger
}

// NewChatHandler creates the chat handler.
func NewChatHandler(st *store.Store, runner TurnRunner, streamCfg stream.Config, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{
		store:     st,
		runner:    runner,
		streamCfg: streamCfg,
		logger:    logger.With(zap.String("component", "chat")),
	}
}

// ChatRequest is the POST /api/chat/stream body.
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// HandleStream runs one turn and streams its frames as server-sent
// events. The response always ends with a final frame.
func (h *ChatHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "message is required").
			WithHTTPStatus(http.StatusBadRequest), h.logger)
		return
	}

	ctx := r.Context()
	session, err := h.store.EnsureSession(ctx, req.SessionID, req.Message)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	// History is the conversation before this message; the user message
	// is persisted up front so a failed turn still shows in the session.
	history, err := h.store.History(ctx, session.ID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if _, err := h.store.SaveUserMessage(ctx, session.ID, req.Message); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	h.logger.Info("turn start",
		zap.String("session_id", session.ID),
		zap.Int("history_len", len(history)))

	stream.SetSSEHeaders(w)
	enc := stream.NewEncoder(w, h.streamCfg, h.logger)
	if err := enc.Start(ctx); err != nil {
		h.logger.Warn("client gone before first frame", zap.Error(err))
		return
	}

	turn, err := h.runner.RunTurn(ctx, session.ID, req.Message, history, enc)
	if err != nil {
		// The failure final frame is already on the wire.
		h.logger.Error("turn failed",
			zap.String("session_id", session.ID), zap.Error(err))
		return
	}

	if _, err := h.store.SaveTurn(ctx, turn); err != nil {
		h.logger.Error("failed to persist turn",
			zap.String("session_id", session.ID), zap.Error(err))
	}
}
