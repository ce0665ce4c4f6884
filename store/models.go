// Package store persists chat sessions and messages with GORM.
package store

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/ragchat/types"
)

// ChatSession groups the messages of one conversation.
type ChatSession struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChatMessage is one persisted message. Assistant messages carry the
// turn's retrieval metadata in Extras as a JSON document.
type ChatMessage struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	SessionID string    `gorm:"index;size:36" json:"session_id"`
	Role      string    `gorm:"size:16" json:"role"`
	Content   string    `json:"content"`
	Extras    string    `gorm:"type:text" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageExtras is the metadata attached to assistant messages.
type MessageExtras struct {
	Documents []string             `json:"documents"`
	Tools     []string             `json:"tools"`
	Support   bool                 `json:"support"`
	Chunks    []types.ChunkContext `json:"chunks"`
	ToolLogs  []types.ToolLogEntry `json:"tool_logs"`
}

// DecodeExtras parses the message's extras column. An empty or corrupt
// column decodes to the zero value.
func (m *ChatMessage) DecodeExtras() MessageExtras {
	var extras MessageExtras
	if m.Extras == "" {
		return extras
	}
	if err := json.Unmarshal([]byte(m.Extras), &extras); err != nil {
		return MessageExtras{}
	}
	return extras
}

// SetExtras serializes extras into the message's extras column.
func (m *ChatMessage) SetExtras(extras MessageExtras) error {
	data, err := json.Marshal(extras)
	if err != nil {
		return err
	}
	m.Extras = string(data)
	return nil
}
