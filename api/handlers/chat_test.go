package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/ragchat/agent"
	"github.com/BaSui01/ragchat/store"
	"github.com/BaSui01/ragchat/stream"
	"github.com/BaSui01/ragchat/types"
)

// stubTurnRunner emits a scripted answer through the emitter.
type stubTurnRunner struct {
	answer  string
	err     error
	history []types.Message
}

func (s *stubTurnRunner) RunTurn(ctx context.Context, sessionID, userMessage string, history []types.Message, em agent.Emitter) (*types.Turn, error) {
	s.history = history
	if s.err != nil {
		failed := types.NewTurn(sessionID, userMessage)
		failed.Text = "Error: " + s.err.Error()
		_ = em.Final(ctx, failed)
		return nil, s.err
	}

	turn := types.NewTurn(sessionID, userMessage)
	turn.Text = s.answer
	if err := em.Delta(ctx, s.answer); err != nil {
		return nil, err
	}
	if err := em.Final(ctx, turn); err != nil {
		return nil, err
	}
	return turn, nil
}

func newChatServer(t *testing.T, st *store.Store, runner TurnRunner) *httptest.Server {
	t.Helper()
	h := NewChatHandler(st, runner, stream.DefaultConfig(), zaptest.NewLogger(t))
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat/stream", h.HandleStream)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func sseFrames(t *testing.T, body string) []map[string]any {
	t.Helper()
	var frames []map[string]any
	for _, block := range strings.Split(body, "\n\n") {
		if !strings.HasPrefix(block, "data: ") {
			continue
		}
		var frame map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(block, "data: ")), &frame))
		frames = append(frames, frame)
	}
	return frames
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			break
		}
	}
	return sb.String()
}

func TestChatStreamHappyPath(t *testing.T) {
	st := newTestStore(t)
	runner := &stubTurnRunner{answer: "The return window is 30 days."}
	srv := newChatServer(t, st, runner)

	resp, err := http.Post(srv.URL+"/api/chat/stream", "application/json",
		strings.NewReader(`{"message":"what is the return window?"}`))
	require.NoError(t, err)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body := readBody(t, resp)
	assert.True(t, strings.HasPrefix(body, ": ping\n\n"))

	frames := sseFrames(t, body)
	require.NotEmpty(t, frames)
	final := frames[len(frames)-1]
	assert.Equal(t, "final", final["type"])
	assert.Equal(t, "The return window is 30 days.", final["text"])

	// Delta tokens reassemble to the final text.
	var rebuilt strings.Builder
	for _, f := range frames[:len(frames)-1] {
		require.Equal(t, "delta", f["type"])
		rebuilt.WriteString(f["token"].(string))
	}
	assert.Equal(t, final["text"], rebuilt.String())

	// Both sides of the exchange are persisted.
	sessions, err := st.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "what is the return window?", sessions[0].Title)

	messages, err := st.Messages(context.Background(), sessions[0].ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "assistant", messages[1].Role)
}

func TestChatStreamReusesSession(t *testing.T) {
	st := newTestStore(t)
	runner := &stubTurnRunner{answer: "second answer"}
	srv := newChatServer(t, st, runner)

	session, err := st.CreateSession(context.Background(), "existing")
	require.NoError(t, err)
	_, err = st.SaveUserMessage(context.Background(), session.ID, "first question")
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/api/chat/stream", "application/json",
		strings.NewReader(`{"session_id":"`+session.ID+`","message":"second question"}`))
	require.NoError(t, err)
	readBody(t, resp)

	// The runner saw the history that preceded this message.
	require.Len(t, runner.history, 1)
	assert.Equal(t, "first question", runner.history[0].Content)

	sessions, err := st.ListSessions(context.Background())
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestChatStreamEmptyMessage(t *testing.T) {
	srv := newChatServer(t, newTestStore(t), &stubTurnRunner{})

	resp, err := http.Post(srv.URL+"/api/chat/stream", "application/json",
		strings.NewReader(`{"message":"   "}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatStreamRunnerFailure(t *testing.T) {
	st := newTestStore(t)
	runner := &stubTurnRunner{err: types.NewError(types.ErrRunFailure, "model unavailable")}
	srv := newChatServer(t, st, runner)

	resp, err := http.Post(srv.URL+"/api/chat/stream", "application/json",
		strings.NewReader(`{"message":"hello"}`))
	require.NoError(t, err)
	body := readBody(t, resp)

	frames := sseFrames(t, body)
	require.NotEmpty(t, frames)
	final := frames[len(frames)-1]
	assert.Equal(t, "final", final["type"])
	assert.Contains(t, final["text"], "model unavailable")

	// The user message is persisted, the failed assistant turn is not.
	sessions, err := st.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	messages, err := st.Messages(context.Background(), sessions[0].ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "user", messages[0].Role)
}
