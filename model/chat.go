package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MessageRole represents the role of the message sender
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// MessageStatus represents the lifecycle status of a message
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusCompleted MessageStatus = "completed"
	MessageStatusFailed    MessageStatus = "failed"
)

// IsTerminal reports whether no further status transition is allowed.
func (s MessageStatus) IsTerminal() bool {
	return s == MessageStatusCompleted || s == MessageStatusFailed
}

// Message metadata keys
const (
	MetaRoutingMode = "routing_mode"
	MetaSources     = "sources"
	MetaIntent      = "intent"
	MetaAttachments = "attachments"
	MetaTopicHint   = "topic_hint"
)

// Message is a single entry in a session. TurnIndex is 1-based and unique per session.
type Message struct {
	ID              uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID       uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_messages_session_turn,priority:1" json:"session_id"`
	TurnIndex       int               `gorm:"not null;uniqueIndex:idx_messages_session_turn,priority:2" json:"turn_index"`
	Role            MessageRole       `gorm:"type:varchar(20);not null" json:"role"`
	Content         string            `gorm:"type:text;not null" json:"content"`
	TokenCount      int               `gorm:"not null;default:0" json:"token_count"`
	TopicID         *uint             `gorm:"index" json:"topic_id,omitempty"`
	ParentMessageID *uuid.UUID        `gorm:"type:uuid;index" json:"parent_message_id,omitempty"`
	Status          MessageStatus     `gorm:"type:varchar(20);not null;index" json:"status"`
	ErrorMessage    string            `gorm:"type:text" json:"error_message,omitempty"`
	Metadata        datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// TableName specifies the table name for Message
func (Message) TableName() string {
	return "chat_messages"
}

// BeforeCreate assigns a time-ordered id when none is set
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		m.ID = id
	}
	return nil
}

// Sources returns the citation list stored in metadata, if any.
func (m *Message) Sources() []interface{} {
	if m.Metadata == nil {
		return nil
	}
	sources, _ := m.Metadata[MetaSources].([]interface{})
	return sources
}
