package chat

import (
	"errors"
	"strconv"

	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/model"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/services"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/utils/middleware"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/utils/response"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/utils/validation"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// SessionHandler handles session-related requests
type SessionHandler struct {
	sessions  *services.SessionService
	validator *validation.Validator
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions *services.SessionService) *SessionHandler {
	return &SessionHandler{
		sessions:  sessions,
		validator: validation.NewValidator(),
	}
}

// CreateSessionRequest represents the request to create a chat session
type CreateSessionRequest struct {
	UserID   string                 `json:"user_id" validate:"max=100"`
	Title    string                 `json:"title" validate:"omitempty,notblank,max=255"`
	Model    string                 `json:"model" validate:"omitempty,max=100"`
	Metadata map[string]interface{} `json:"metadata"`
}

// UpdateSessionRequest represents the editable session fields
type UpdateSessionRequest struct {
	Title    *string                `json:"title" validate:"omitempty,notblank,max=255"`
	Model    *string                `json:"model" validate:"omitempty,max=100"`
	Metadata map[string]interface{} `json:"metadata"`
}

// ListSessions handles GET /api/v1/chat/sessions
func (h *SessionHandler) ListSessions(c *fiber.Ctx) error {
	userID := middleware.UserID(c, c.Query("user_id"))
	if userID == "" {
		return response.BadRequest(c, "user_id is required")
	}

	status := model.SessionStatus(c.Query("status"))
	if status != "" && status != model.SessionStatusActive && status != model.SessionStatusArchived {
		return response.BadRequest(c, "status must be active or archived")
	}

	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	page, limit = response.NormalizePage(page, limit)

	list, err := h.sessions.ListSessions(c.UserContext(), userID, status, limit, (page-1)*limit)
	if err != nil {
		return response.InternalServerError(c, "Failed to fetch sessions")
	}

	return response.Paginated(c, list.Sessions, response.CalculatePagination(page, limit, list.Total))
}

// GetSession handles GET /api/v1/chat/sessions/:id
func (h *SessionHandler) GetSession(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.BadRequest(c, "Invalid session ID")
	}

	session, err := h.sessions.GetSession(c.UserContext(), id, middleware.UserID(c, ""))
	if err != nil {
		return sessionError(c, err, "Failed to fetch session")
	}

	return response.Success(c, session)
}

// CreateSession handles POST /api/v1/chat/sessions
func (h *SessionHandler) CreateSession(c *fiber.Ctx) error {
	var req CreateSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}
	req.Title = validation.SanitizeString(req.Title)

	userID := middleware.UserID(c, req.UserID)
	if userID == "" {
		return response.BadRequest(c, "user_id is required")
	}

	session, err := h.sessions.CreateSession(c.UserContext(), services.CreateSessionRequest{
		UserID:   userID,
		Title:    req.Title,
		Model:    req.Model,
		Metadata: req.Metadata,
	})
	if err != nil {
		return response.InternalServerError(c, "Failed to create session")
	}

	return response.Created(c, session)
}

// UpdateSession handles PATCH /api/v1/chat/sessions/:id
func (h *SessionHandler) UpdateSession(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.BadRequest(c, "Invalid session ID")
	}

	var req UpdateSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}
	if req.Title != nil {
		title := validation.SanitizeString(*req.Title)
		req.Title = &title
	}

	session, err := h.sessions.UpdateSession(c.UserContext(), id, middleware.UserID(c, ""), services.UpdateSessionRequest{
		Title:    req.Title,
		Model:    req.Model,
		Metadata: req.Metadata,
	})
	if err != nil {
		return sessionError(c, err, "Failed to update session")
	}

	return response.Success(c, session)
}

// ArchiveSession handles POST /api/v1/chat/sessions/:id/archive
func (h *SessionHandler) ArchiveSession(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.BadRequest(c, "Invalid session ID")
	}

	session, err := h.sessions.ArchiveSession(c.UserContext(), id, middleware.UserID(c, ""))
	if err != nil {
		return sessionError(c, err, "Failed to archive session")
	}

	return response.SuccessWithMessage(c, "Session archived successfully", session)
}

// RestoreSession handles POST /api/v1/chat/sessions/:id/restore
func (h *SessionHandler) RestoreSession(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.BadRequest(c, "Invalid session ID")
	}

	session, err := h.sessions.RestoreSession(c.UserContext(), id, middleware.UserID(c, ""))
	if err != nil {
		return sessionError(c, err, "Failed to restore session")
	}

	return response.SuccessWithMessage(c, "Session restored successfully", session)
}

// DeleteSession handles DELETE /api/v1/chat/sessions/:id
func (h *SessionHandler) DeleteSession(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.BadRequest(c, "Invalid session ID")
	}

	if err := h.sessions.DeleteSession(c.UserContext(), id, middleware.UserID(c, "")); err != nil {
		return sessionError(c, err, "Failed to delete session")
	}

	return response.Success(c, fiber.Map{
		"message": "Session deleted successfully",
	})
}

// GetMessages handles GET /api/v1/chat/sessions/:id/messages
func (h *SessionHandler) GetMessages(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.BadRequest(c, "Invalid session ID")
	}

	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	page, limit = response.NormalizePage(page, limit)

	list, err := h.sessions.ListMessages(c.UserContext(), id, middleware.UserID(c, ""), limit, (page-1)*limit)
	if err != nil {
		return sessionError(c, err, "Failed to fetch messages")
	}

	return response.Paginated(c, list.Messages, response.CalculatePagination(page, limit, list.Total))
}

func sessionError(c *fiber.Ctx, err error, fallback string) error {
	if errors.Is(err, services.ErrSessionNotFound) {
		return response.NotFound(c, "Session not found")
	}
	return response.InternalServerError(c, fallback)
}
