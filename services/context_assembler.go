package services

import (
	"context"
	"log"

	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/database"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/model"
	"github.com/google/uuid"
)

// EllipsisMarker is appended to content cut at the context char cap
const EllipsisMarker = "..."

const (
	defaultContextWindow  = 6
	defaultContextCharCap = 3000
)

// HistoryEntry is one message as presented to the answer producer
type HistoryEntry struct {
	ID        uuid.UUID         `json:"id"`
	TurnIndex int               `json:"turn_index"`
	Role      model.MessageRole `json:"role"`
	Content   string            `json:"content"`
	Truncated bool              `json:"truncated,omitempty"`
}

// TopicRef identifies the conversation's current topic. Name is empty when
// the lookup failed.
type TopicRef struct {
	ID   uint   `json:"id"`
	Name string `json:"name,omitempty"`
}

// ConversationContext is the bounded snapshot sent with each turn. It is
// built fresh per call and never cached.
type ConversationContext struct {
	SessionID   uuid.UUID           `json:"session_id"`
	History     []HistoryEntry      `json:"history"`
	Summary     string              `json:"summary,omitempty"`
	TotalTokens int                 `json:"total_tokens"`
	Topic       *TopicRef           `json:"topic,omitempty"`
	Attachments []AttachmentSnippet `json:"attachments,omitempty"`
	Query       string              `json:"query,omitempty"`
}

// TopicNamer resolves a topic id to a display name
type TopicNamer interface {
	Name(ctx context.Context, id uint) (string, error)
}

// ContextAssembler builds conversation contexts from store state. It only reads.
type ContextAssembler struct {
	store   database.ConversationStore
	topics  TopicNamer
	window  int
	charCap int
}

// NewContextAssembler creates an assembler. topics may be nil.
func NewContextAssembler(store database.ConversationStore, topics TopicNamer, window, charCap int) *ContextAssembler {
	if window <= 0 {
		window = defaultContextWindow
	}
	if charCap <= 0 {
		charCap = defaultContextCharCap
	}
	return &ContextAssembler{
		store:   store,
		topics:  topics,
		window:  window,
		charCap: charCap,
	}
}

// Assemble builds the context for a session. It returns nil on any failure;
// callers proceed without enrichment.
func (a *ContextAssembler) Assemble(ctx context.Context, sessionID uuid.UUID, attachments []AttachmentSnippet, query string) (cc *ConversationContext) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Context] Warning: assembly panicked for session %s: %v", sessionID, r)
			cc = nil
		}
	}()

	session, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		log.Printf("[Context] Warning: failed to load session %s: %v", sessionID, err)
		return nil
	}

	messages, err := a.store.ListRecentMessages(ctx, sessionID, a.window)
	if err != nil {
		log.Printf("[Context] Warning: failed to load history for session %s: %v", sessionID, err)
		return nil
	}

	history := make([]HistoryEntry, 0, len(messages))
	for _, m := range messages {
		content, truncated := truncateRunes(m.Content, a.charCap)
		history = append(history, HistoryEntry{
			ID:        m.ID,
			TurnIndex: m.TurnIndex,
			Role:      m.Role,
			Content:   content,
			Truncated: truncated,
		})
	}

	cc = &ConversationContext{
		SessionID:   sessionID,
		History:     history,
		Summary:     session.Summary,
		TotalTokens: session.TotalTokens,
		Topic:       a.currentTopic(ctx, messages),
		Query:       query,
	}
	if len(attachments) > 0 {
		cc.Attachments = attachments
	}
	return cc
}

// currentTopic takes the most recent topic reference in the window
func (a *ContextAssembler) currentTopic(ctx context.Context, messages []model.Message) *TopicRef {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].TopicID == nil {
			continue
		}
		ref := &TopicRef{ID: *messages[i].TopicID}
		if a.topics != nil {
			name, err := a.topics.Name(ctx, ref.ID)
			if err != nil {
				log.Printf("[Context] Warning: topic %d name lookup failed: %v", ref.ID, err)
			} else {
				ref.Name = name
			}
		}
		return ref
	}
	return nil
}
