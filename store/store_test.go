package store

import (
	"context"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/BaSui01/ragchat/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	s, err := NewWithDB(db, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func TestCreateAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateSession(ctx, "Returns")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Returns", created.Title)

	got, err := s.GetSession(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
}

func TestGetSessionNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetSession(context.Background(), "missing")

	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

func TestEnsureSessionCreatesWhenUnknown(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session, err := s.EnsureSession(ctx, "", "What is the return policy for opened items?")
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, "What is the return policy for opened items?", session.Title)

	// Unknown id also creates a fresh session.
	other, err := s.EnsureSession(ctx, "nonexistent", "hint")
	require.NoError(t, err)
	assert.NotEqual(t, "nonexistent", other.ID)
}

func TestEnsureSessionReturnsExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateSession(ctx, "Existing")
	require.NoError(t, err)

	got, err := s.EnsureSession(ctx, created.ID, "ignored hint")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "Existing", got.Title)
}

func TestEnsureSessionClipsLongTitle(t *testing.T) {
	s := newTestStore(t)

	session, err := s.EnsureSession(context.Background(), "", strings.Repeat("a", 200))
	require.NoError(t, err)
	assert.Len(t, session.Title, 80)
}

func TestListSessionsMostRecentFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateSession(ctx, "first")
	require.NoError(t, err)
	second, err := s.CreateSession(ctx, "second")
	require.NoError(t, err)

	// Touching the first session moves it to the front.
	_, err = s.RenameSession(ctx, first.ID, "first renamed")
	require.NoError(t, err)

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, first.ID, sessions[0].ID)
	assert.Equal(t, second.ID, sessions[1].ID)
}

func TestRenameSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session, err := s.CreateSession(ctx, "old")
	require.NoError(t, err)

	renamed, err := s.RenameSession(ctx, session.ID, "new title")
	require.NoError(t, err)
	assert.Equal(t, "new title", renamed.Title)

	// Blank titles keep the current one.
	kept, err := s.RenameSession(ctx, session.ID, "   ")
	require.NoError(t, err)
	assert.Equal(t, "new title", kept.Title)

	_, err = s.RenameSession(ctx, "missing", "x")
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

func TestDeleteSessionRemovesMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session, err := s.CreateSession(ctx, "doomed")
	require.NoError(t, err)
	_, err = s.SaveUserMessage(ctx, session.ID, "hello")
	require.NoError(t, err)

	require.NoError(t, s.DeleteSession(ctx, session.ID))

	_, err = s.GetSession(ctx, session.ID)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))

	var count int64
	require.NoError(t, s.db.Model(&ChatMessage{}).
		Where("session_id = ?", session.ID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestDeleteSessionNotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.DeleteSession(context.Background(), "missing")

	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

func TestSaveUserMessageSeedsTitle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session, err := s.CreateSession(ctx, "")
	require.NoError(t, err)

	_, err = s.SaveUserMessage(ctx, session.ID, "how do returns work?")
	require.NoError(t, err)

	got, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "how do returns work?", got.Title)
}

func TestSaveTurnPersistsExtras(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session, err := s.CreateSession(ctx, "t")
	require.NoError(t, err)

	turn := types.NewTurn(session.ID, "q")
	turn.Text = "Answer with citations."
	turn.AddDocumentIDs("doc-1")
	turn.AddChunks(types.ChunkContext{ChunkID: "c1", DocumentID: "doc-1", Text: "alpha", Score: 0.9})
	turn.MarkTool("retrieveDocument")
	turn.Support = true

	saved, err := s.SaveTurn(ctx, turn)
	require.NoError(t, err)
	assert.Equal(t, string(types.RoleAssistant), saved.Role)

	messages, err := s.Messages(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	extras := messages[0].DecodeExtras()
	assert.Equal(t, []string{"doc-1"}, extras.Documents)
	assert.Equal(t, []string{"retrieveDocument"}, extras.Tools)
	assert.True(t, extras.Support)
	require.Len(t, extras.Chunks, 1)
	assert.Equal(t, "alpha", extras.Chunks[0].Text)
}

func TestSaveTurnUnknownSession(t *testing.T) {
	s := newTestStore(t)

	_, err := s.SaveTurn(context.Background(), types.NewTurn("missing", "q"))

	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

func TestHistoryRoleMapping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session, err := s.CreateSession(ctx, "h")
	require.NoError(t, err)

	_, err = s.SaveUserMessage(ctx, session.ID, "question")
	require.NoError(t, err)
	turn := types.NewTurn(session.ID, "question")
	turn.Text = "answer"
	_, err = s.SaveTurn(ctx, turn)
	require.NoError(t, err)

	history, err := s.History(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, types.RoleUser, history[0].Role)
	assert.Equal(t, "question", history[0].Content)
	assert.Equal(t, types.RoleAssistant, history[1].Role)
	assert.Equal(t, "answer", history[1].Content)
}

func TestDecodeExtrasCorrupt(t *testing.T) {
	msg := ChatMessage{Extras: "{not json"}

	assert.Equal(t, MessageExtras{}, msg.DecodeExtras())
}
