package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SessionStatus is the lifecycle status of a session
type SessionStatus string

const (
	SessionStatusActive   SessionStatus = "active"
	SessionStatusArchived SessionStatus = "archived"
)

// MetaSummaryTokenCount is the session metadata key holding the summary's token count
const MetaSummaryTokenCount = "summary_token_count"

// Session is a persistent conversation thread.
// Counters are only changed through the store's counter delta and never decrease.
type Session struct {
	ID                 uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID             string            `gorm:"type:varchar(100);not null;index" json:"user_id"`
	Title              string            `gorm:"type:varchar(255)" json:"title"`
	Model              string            `gorm:"type:varchar(100)" json:"model"`
	Status             SessionStatus     `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	Metadata           datatypes.JSONMap `json:"metadata,omitempty"`
	AssistantTurnCount int               `gorm:"not null;default:0" json:"assistant_turn_count"`
	TotalMessageCount  int               `gorm:"not null;default:0" json:"total_message_count"`
	TotalTokens        int               `gorm:"not null;default:0" json:"total_tokens"`
	Summary            string            `gorm:"type:text" json:"summary"`
	SummaryVersion     int               `gorm:"not null;default:0" json:"summary_version"`
	SummaryUpdatedAt   *time.Time        `json:"summary_updated_at"`
	LastMessageAt      *time.Time        `gorm:"index" json:"last_message_at"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// TableName specifies the table name for Session
func (Session) TableName() string {
	return "chat_sessions"
}

// BeforeCreate assigns a time-ordered id and default status
func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		s.ID = id
	}
	if s.Status == "" {
		s.Status = SessionStatusActive
	}
	return nil
}

// SummaryTokenCount reads the summary token count recorded in metadata.
func (s *Session) SummaryTokenCount() int {
	if s.Metadata == nil {
		return 0
	}
	switch v := s.Metadata[MetaSummaryTokenCount].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}
