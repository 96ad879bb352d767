package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/model"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrStatusTerminal  = errors.New("message status is terminal")
	ErrInvalidMessage  = errors.New("invalid message")
)

// ConversationStore persists sessions and messages. Message creation assigns
// the turn index and applies the session counter delta in one transaction.
type ConversationStore interface {
	CreateSession(ctx context.Context, session *model.Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*model.Session, error)
	UpdateSession(ctx context.Context, id uuid.UUID, update SessionUpdate) (*model.Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]model.Session, int64, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error

	CreateMessage(ctx context.Context, msg *model.Message) error
	GetMessage(ctx context.Context, id uuid.UUID) (*model.Message, error)
	UpdateMessage(ctx context.Context, id uuid.UUID, update MessageUpdate) (*model.Message, error)
	ListRecentMessages(ctx context.Context, sessionID uuid.UUID, n int) ([]model.Message, error)
	ListMessages(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]model.Message, int64, error)
	MaxTurnIndex(ctx context.Context, sessionID uuid.UUID) (int, error)

	ApplySummary(ctx context.Context, sessionID uuid.UUID, summary string, tokenCount int) (*model.Session, error)
	FailStalePending(ctx context.Context, createdBefore time.Time, reason string) (int64, error)
	ListSummaryCandidates(ctx context.Context, filter SummaryCandidateFilter) ([]uuid.UUID, error)
}

// SessionUpdate holds the mutable, non-counter session fields. Nil/empty fields are left unchanged.
type SessionUpdate struct {
	Title    *string
	Model    *string
	Status   model.SessionStatus
	Metadata map[string]interface{} // merged into existing metadata
}

// MessageUpdate holds the mutable message fields. Nil/empty fields are left unchanged.
type MessageUpdate struct {
	Status       model.MessageStatus
	ErrorMessage string
	Metadata     map[string]interface{} // merged into existing metadata
}

// SessionFilter narrows ListSessions
type SessionFilter struct {
	UserID string
	Status model.SessionStatus
	Limit  int
	Offset int
}

// SummaryCandidateFilter selects sessions whose counters cross a summary threshold
// and whose summary is older than their latest message.
type SummaryCandidateFilter struct {
	TurnInterval   int
	TokenThreshold int
	Limit          int
}

// counterDelta is applied to a session whenever a message is created
type counterDelta struct {
	Messages       int
	AssistantTurns int
	Tokens         int
	At             time.Time
}

func deltaFor(msg *model.Message) counterDelta {
	d := counterDelta{Messages: 1, Tokens: msg.TokenCount, At: msg.CreatedAt}
	if msg.Role == model.MessageRoleAssistant {
		d.AssistantTurns = 1
	}
	if d.At.IsZero() {
		d.At = time.Now()
	}
	return d
}

// GORMConversationStore implements ConversationStore on GORM.
type GORMConversationStore struct {
	db    *gorm.DB
	locks *sessionLocks
}

// NewConversationStore creates a GORM-backed conversation store
func NewConversationStore(db *gorm.DB) *GORMConversationStore {
	return &GORMConversationStore{
		db:    db,
		locks: newSessionLocks(),
	}
}

// CreateSession inserts a new session with zeroed counters
func (s *GORMConversationStore) CreateSession(ctx context.Context, session *model.Session) error {
	session.AssistantTurnCount = 0
	session.TotalMessageCount = 0
	session.TotalTokens = 0
	session.SummaryVersion = 0

	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession fetches a session by id
func (s *GORMConversationStore) GetSession(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	var session model.Session
	if err := s.db.WithContext(ctx).First(&session, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to fetch session: %w", err)
	}
	return &session, nil
}

// UpdateSession changes title, model, status or metadata. Counters and summary
// fields are not reachable from here.
func (s *GORMConversationStore) UpdateSession(ctx context.Context, id uuid.UUID, update SessionUpdate) (*model.Session, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	var updated model.Session
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session model.Session
		if err := tx.First(&session, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return fmt.Errorf("failed to fetch session: %w", err)
		}

		updates := map[string]interface{}{}
		if update.Title != nil {
			updates["title"] = *update.Title
		}
		if update.Model != nil {
			updates["model"] = *update.Model
		}
		if update.Status != "" {
			updates["status"] = update.Status
		}
		if len(update.Metadata) > 0 {
			updates["metadata"] = mergeMetadata(session.Metadata, update.Metadata)
		}

		if len(updates) > 0 {
			if err := tx.Model(&model.Session{}).Where("id = ?", id).Updates(updates).Error; err != nil {
				return fmt.Errorf("failed to update session: %w", err)
			}
		}

		return tx.First(&updated, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// ListSessions returns sessions ordered by latest activity
func (s *GORMConversationStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.Session, int64, error) {
	query := s.db.WithContext(ctx).Model(&model.Session{})
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit).Offset(filter.Offset)
	}

	var sessions []model.Session
	if err := query.Order("COALESCE(last_message_at, created_at) DESC").Find(&sessions).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch sessions: %w", err)
	}
	return sessions, total, nil
}

// DeleteSession removes a session and all of its messages
func (s *GORMConversationStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	unlock := s.locks.lock(id)
	defer unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&model.Message{}).Error; err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&model.Session{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete session: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrSessionNotFound
		}
		return nil
	})
}

// CreateMessage assigns turn_index = max+1 and applies the session counter
// delta atomically. Concurrent creations on one session are serialized by an
// in-process lock and by a row lock on the session.
func (s *GORMConversationStore) CreateMessage(ctx context.Context, msg *model.Message) error {
	if msg.SessionID == uuid.Nil {
		return fmt.Errorf("%w: session id is required", ErrInvalidMessage)
	}
	if msg.TokenCount < 0 {
		msg.TokenCount = 0
	}
	switch msg.Role {
	case model.MessageRoleAssistant:
		if msg.ParentMessageID == nil {
			return fmt.Errorf("%w: assistant message requires a parent message", ErrInvalidMessage)
		}
		msg.Status = model.MessageStatusCompleted
	case model.MessageRoleUser:
		if msg.Status == "" {
			msg.Status = model.MessageStatusPending
		}
	case model.MessageRoleSystem:
		if msg.Status == "" {
			msg.Status = model.MessageStatusCompleted
		}
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidMessage, msg.Role)
	}

	unlock := s.locks.lock(msg.SessionID)
	defer unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session model.Session
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			First(&session, "id = ?", msg.SessionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return fmt.Errorf("failed to lock session: %w", err)
		}

		if msg.ParentMessageID != nil {
			var parents int64
			if err := tx.Model(&model.Message{}).
				Where("id = ? AND session_id = ?", *msg.ParentMessageID, msg.SessionID).
				Count(&parents).Error; err != nil {
				return fmt.Errorf("failed to check parent message: %w", err)
			}
			if parents == 0 {
				return fmt.Errorf("%w: parent message not in session", ErrInvalidMessage)
			}
		}

		maxTurn, err := maxTurnIndex(tx, msg.SessionID)
		if err != nil {
			return err
		}
		msg.TurnIndex = maxTurn + 1

		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}

		return applyCounterDelta(tx, msg.SessionID, deltaFor(msg))
	})
}

// GetMessage fetches a message by id
func (s *GORMConversationStore) GetMessage(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	var msg model.Message
	if err := s.db.WithContext(ctx).First(&msg, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}
	return &msg, nil
}

// UpdateMessage changes status, error text or metadata. Once a message is
// completed or failed its status can no longer change; re-applying the same
// status is a no-op.
func (s *GORMConversationStore) UpdateMessage(ctx context.Context, id uuid.UUID, update MessageUpdate) (*model.Message, error) {
	var updated model.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msg model.Message
		if err := tx.First(&msg, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMessageNotFound
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}

		updates := map[string]interface{}{}
		if update.Status != "" && update.Status != msg.Status {
			if msg.Status.IsTerminal() {
				return fmt.Errorf("%w: %s -> %s", ErrStatusTerminal, msg.Status, update.Status)
			}
			updates["status"] = update.Status
		}
		if update.ErrorMessage != "" {
			updates["error_message"] = update.ErrorMessage
		}
		if len(update.Metadata) > 0 {
			updates["metadata"] = mergeMetadata(msg.Metadata, update.Metadata)
		}
		if len(updates) == 0 {
			updated = msg
			return nil
		}

		// Conditional on the status we read, so a racing terminal write wins once.
		res := tx.Model(&model.Message{}).
			Where("id = ? AND status = ?", id, msg.Status).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to update message: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: status changed concurrently", ErrStatusTerminal)
		}

		return tx.First(&updated, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// ListRecentMessages returns the last n messages of a session, oldest first
func (s *GORMConversationStore) ListRecentMessages(ctx context.Context, sessionID uuid.UUID, n int) ([]model.Message, error) {
	if n <= 0 {
		return []model.Message{}, nil
	}

	var recent []model.Message
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("turn_index DESC").
		Limit(n).
		Find(&recent).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch recent messages: %w", err)
	}

	// Reverse to get chronological order
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	return recent, nil
}

// ListMessages pages through a session's messages in turn order
func (s *GORMConversationStore) ListMessages(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]model.Message, int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("session_id = ?", sessionID).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	query := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("turn_index ASC")
	if limit > 0 {
		query = query.Limit(limit).Offset(offset)
	}

	var messages []model.Message
	if err := query.Find(&messages).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return messages, total, nil
}

// MaxTurnIndex returns the highest turn index in a session, 0 when empty
func (s *GORMConversationStore) MaxTurnIndex(ctx context.Context, sessionID uuid.UUID) (int, error) {
	return maxTurnIndex(s.db.WithContext(ctx), sessionID)
}

// ApplySummary writes a new running summary, bumps summary_version and
// records the summary token count in metadata.
func (s *GORMConversationStore) ApplySummary(ctx context.Context, sessionID uuid.UUID, summary string, tokenCount int) (*model.Session, error) {
	unlock := s.locks.lock(sessionID)
	defer unlock()

	var updated model.Session
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session model.Session
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&session, "id = ?", sessionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return fmt.Errorf("failed to lock session: %w", err)
		}

		now := time.Now()
		if err := tx.Model(&model.Session{}).Where("id = ?", sessionID).Updates(map[string]interface{}{
			"summary":            summary,
			"summary_version":    gorm.Expr("summary_version + ?", 1),
			"summary_updated_at": now,
			"metadata": mergeMetadata(session.Metadata, map[string]interface{}{
				model.MetaSummaryTokenCount: tokenCount,
			}),
		}).Error; err != nil {
			return fmt.Errorf("failed to write summary: %w", err)
		}

		return tx.First(&updated, "id = ?", sessionID).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// FailStalePending marks user messages still pending since before the cutoff as failed
func (s *GORMConversationStore) FailStalePending(ctx context.Context, createdBefore time.Time, reason string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("role = ? AND status = ? AND created_at < ?", model.MessageRoleUser, model.MessageStatusPending, createdBefore).
		Updates(map[string]interface{}{
			"status":        model.MessageStatusFailed,
			"error_message": reason,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to fail stale messages: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ListSummaryCandidates returns sessions that crossed a summary threshold and
// have messages newer than their summary.
func (s *GORMConversationStore) ListSummaryCandidates(ctx context.Context, filter SummaryCandidateFilter) ([]uuid.UUID, error) {
	query := s.db.WithContext(ctx).Model(&model.Session{}).
		Where("last_message_at IS NOT NULL").
		Where("summary_updated_at IS NULL OR summary_updated_at < last_message_at")

	switch {
	case filter.TurnInterval > 0 && filter.TokenThreshold > 0:
		query = query.Where("(assistant_turn_count > 0 AND assistant_turn_count % ? = 0) OR total_tokens > ?",
			filter.TurnInterval, filter.TokenThreshold)
	case filter.TurnInterval > 0:
		query = query.Where("assistant_turn_count > 0 AND assistant_turn_count % ? = 0", filter.TurnInterval)
	case filter.TokenThreshold > 0:
		query = query.Where("total_tokens > ?", filter.TokenThreshold)
	default:
		return nil, nil
	}

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var ids []uuid.UUID
	if err := query.Order("last_message_at ASC").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list summary candidates: %w", err)
	}
	return ids, nil
}

func maxTurnIndex(db *gorm.DB, sessionID uuid.UUID) (int, error) {
	var maxTurn int
	if err := db.Model(&model.Message{}).
		Where("session_id = ?", sessionID).
		Select("COALESCE(MAX(turn_index), 0)").
		Scan(&maxTurn).Error; err != nil {
		return 0, fmt.Errorf("failed to read max turn index: %w", err)
	}
	return maxTurn, nil
}

func applyCounterDelta(tx *gorm.DB, sessionID uuid.UUID, d counterDelta) error {
	if d.Messages < 0 || d.AssistantTurns < 0 || d.Tokens < 0 {
		return fmt.Errorf("session counters cannot decrease")
	}

	res := tx.Model(&model.Session{}).Where("id = ?", sessionID).Updates(map[string]interface{}{
		"total_message_count":  gorm.Expr("total_message_count + ?", d.Messages),
		"assistant_turn_count": gorm.Expr("assistant_turn_count + ?", d.AssistantTurns),
		"total_tokens":         gorm.Expr("total_tokens + ?", d.Tokens),
		"last_message_at":      d.At,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to update session counters: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func mergeMetadata(existing datatypes.JSONMap, extra map[string]interface{}) datatypes.JSONMap {
	merged := datatypes.JSONMap{}
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

// sessionLocks is a reference-counted keyed mutex: one lock per session id,
// dropped once no goroutine holds or waits on it.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[uuid.UUID]*sessionLock)}
}

func (l *sessionLocks) lock(id uuid.UUID) func() {
	l.mu.Lock()
	sl, ok := l.locks[id]
	if !ok {
		sl = &sessionLock{}
		l.locks[id] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()

	return func() {
		sl.mu.Unlock()

		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
