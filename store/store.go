package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/BaSui01/ragchat/config"
	"github.com/BaSui01/ragchat/types"
)

// titleLimit caps auto-generated session titles.
const titleLimit = 80

// Store wraps the session/message tables.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New opens the configured database and migrates the schema.
func New(cfg config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN())
	default:
		return nil, types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("unsupported database driver %q", cfg.Driver))
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return NewWithDB(db, logger)
}

// NewWithDB wraps an existing connection, migrating the schema. Tests
// pass an in-memory sqlite connection here.
func NewWithDB(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&ChatSession{}, &ChatMessage{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "store")),
	}, nil
}

func notFound() error {
	return types.NewError(types.ErrNotFound, "session not found").
		WithHTTPStatus(http.StatusNotFound)
}

// GetSession loads one session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*ChatSession, error) {
	var session ChatSession
	err := s.db.WithContext(ctx).First(&session, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound()
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &session, nil
}

// EnsureSession returns the session with the given id, creating a fresh
// one when the id is empty or unknown. titleHint seeds the title of a
// created session.
func (s *Store) EnsureSession(ctx context.Context, id, titleHint string) (*ChatSession, error) {
	if id != "" {
		session, err := s.GetSession(ctx, id)
		if err == nil {
			return session, nil
		}
		if types.GetErrorCode(err) != types.ErrNotFound {
			return nil, err
		}
	}
	return s.CreateSession(ctx, clipTitle(titleHint))
}

// ListSessions returns all sessions, most recently updated first.
func (s *Store) ListSessions(ctx context.Context) ([]ChatSession, error) {
	var sessions []ChatSession
	if err := s.db.WithContext(ctx).Order("updated_at DESC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// CreateSession creates a session with an optional title.
func (s *Store) CreateSession(ctx context.Context, title string) (*ChatSession, error) {
	now := time.Now().UTC()
	session := &ChatSession{
		ID:        uuid.NewString(),
		Title:     strings.TrimSpace(title),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// RenameSession sets a session's title. A blank title keeps the current
// one.
func (s *Store) RenameSession(ctx context.Context, id, title string) (*ChatSession, error) {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if trimmed := strings.TrimSpace(title); trimmed != "" {
		session.Title = trimmed
	}
	session.UpdatedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).Save(session).Error; err != nil {
		return nil, fmt.Errorf("rename session: %w", err)
	}
	return session, nil
}

// DeleteSession removes a session and all of its messages.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.GetSession(ctx, id); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&ChatMessage{}).Error; err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if err := tx.Delete(&ChatSession{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	})
}

// Messages returns a session's messages in chronological order.
func (s *Store) Messages(ctx context.Context, sessionID string) ([]ChatMessage, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	var messages []ChatMessage
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// History converts a session's persisted messages into role-tagged model
// messages for the next generation run.
func (s *Store) History(ctx context.Context, sessionID string) ([]types.Message, error) {
	stored, err := s.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	history := make([]types.Message, 0, len(stored))
	for _, msg := range stored {
		switch types.Role(msg.Role) {
		case types.RoleUser:
			history = append(history, types.NewUserMessage(msg.Content))
		default:
			history = append(history, types.NewAssistantMessage(msg.Content))
		}
	}
	return history, nil
}

// SaveUserMessage records an incoming user message, seeding the session
// title from the first message when none is set.
func (s *Store) SaveUserMessage(ctx context.Context, sessionID, content string) (*ChatMessage, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	message := &ChatMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      string(types.RoleUser),
		Content:   content,
		CreatedAt: now,
	}

	if session.Title == "" {
		session.Title = clipTitle(content)
	}
	session.UpdatedAt = now

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return fmt.Errorf("save user message: %w", err)
		}
		if err := tx.Save(session).Error; err != nil {
			return fmt.Errorf("touch session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return message, nil
}

// SaveTurn records a completed turn as an assistant message carrying the
// turn's retrieval metadata.
func (s *Store) SaveTurn(ctx context.Context, turn *types.Turn) (*ChatMessage, error) {
	session, err := s.GetSession(ctx, turn.SessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	message := &ChatMessage{
		ID:        uuid.NewString(),
		SessionID: turn.SessionID,
		Role:      string(types.RoleAssistant),
		Content:   turn.Text,
		CreatedAt: now,
	}
	if err := message.SetExtras(MessageExtras{
		Documents: turn.DocumentIDs,
		Tools:     turn.ToolsUsed,
		Support:   turn.Support,
		Chunks:    turn.Chunks,
		ToolLogs:  turn.ToolLog,
	}); err != nil {
		return nil, fmt.Errorf("encode extras: %w", err)
	}

	session.UpdatedAt = now
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return fmt.Errorf("save turn: %w", err)
		}
		if err := tx.Save(session).Error; err != nil {
			return fmt.Errorf("touch session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return message, nil
}

func clipTitle(s string) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) > titleLimit {
		return string(runes[:titleLimit])
	}
	return s
}
