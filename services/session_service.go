package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/database"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/model"
	"github.com/google/uuid"
)

// SessionService exposes session and transcript operations scoped to a user
type SessionService struct {
	store database.ConversationStore
}

// NewSessionService creates a new session service
func NewSessionService(store database.ConversationStore) *SessionService {
	return &SessionService{store: store}
}

// CreateSessionRequest represents a request to open a session
type CreateSessionRequest struct {
	UserID   string
	Title    string
	Model    string
	Metadata map[string]interface{}
}

// UpdateSessionRequest holds user-editable session fields
type UpdateSessionRequest struct {
	Title    *string
	Model    *string
	Metadata map[string]interface{}
}

// SessionList is one page of sessions
type SessionList struct {
	Sessions []model.Session
	Total    int64
}

// MessageList is one page of a transcript, oldest first
type MessageList struct {
	Messages []model.Message
	Total    int64
}

// CreateSession opens an empty active session
func (s *SessionService) CreateSession(ctx context.Context, req CreateSessionRequest) (*model.Session, error) {
	session := &model.Session{
		UserID:   req.UserID,
		Title:    strings.TrimSpace(req.Title),
		Model:    req.Model,
		Status:   model.SessionStatusActive,
		Metadata: req.Metadata,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// GetSession loads a session owned by userID. An empty userID skips the ownership check.
func (s *SessionService) GetSession(ctx context.Context, id uuid.UUID, userID string) (*model.Session, error) {
	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if userID != "" && session.UserID != "" && session.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// ListSessions pages through a user's sessions, most recently active first
func (s *SessionService) ListSessions(ctx context.Context, userID string, status model.SessionStatus, limit, offset int) (*SessionList, error) {
	sessions, total, err := s.store.ListSessions(ctx, database.SessionFilter{
		UserID: userID,
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return &SessionList{Sessions: sessions, Total: total}, nil
}

// UpdateSession edits title, model or metadata
func (s *SessionService) UpdateSession(ctx context.Context, id uuid.UUID, userID string, req UpdateSessionRequest) (*model.Session, error) {
	if _, err := s.GetSession(ctx, id, userID); err != nil {
		return nil, err
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		req.Title = &title
	}
	return s.update(ctx, id, database.SessionUpdate{
		Title:    req.Title,
		Model:    req.Model,
		Metadata: req.Metadata,
	})
}

// ArchiveSession makes a session read-only for new turns
func (s *SessionService) ArchiveSession(ctx context.Context, id uuid.UUID, userID string) (*model.Session, error) {
	return s.setStatus(ctx, id, userID, model.SessionStatusArchived)
}

// RestoreSession reopens an archived session
func (s *SessionService) RestoreSession(ctx context.Context, id uuid.UUID, userID string) (*model.Session, error) {
	return s.setStatus(ctx, id, userID, model.SessionStatusActive)
}

func (s *SessionService) setStatus(ctx context.Context, id uuid.UUID, userID string, status model.SessionStatus) (*model.Session, error) {
	session, err := s.GetSession(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if session.Status == status {
		return session, nil
	}
	return s.update(ctx, id, database.SessionUpdate{Status: status})
}

func (s *SessionService) update(ctx context.Context, id uuid.UUID, update database.SessionUpdate) (*model.Session, error) {
	session, err := s.store.UpdateSession(ctx, id, update)
	if err != nil {
		if errors.Is(err, database.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	return session, nil
}

// DeleteSession removes a session and its messages
func (s *SessionService) DeleteSession(ctx context.Context, id uuid.UUID, userID string) error {
	if _, err := s.GetSession(ctx, id, userID); err != nil {
		return err
	}
	if err := s.store.DeleteSession(ctx, id); err != nil {
		if errors.Is(err, database.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// ListMessages pages through a session transcript in turn order
func (s *SessionService) ListMessages(ctx context.Context, id uuid.UUID, userID string, limit, offset int) (*MessageList, error) {
	if _, err := s.GetSession(ctx, id, userID); err != nil {
		return nil, err
	}
	messages, total, err := s.store.ListMessages(ctx, id, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return &MessageList{Messages: messages, Total: total}, nil
}
