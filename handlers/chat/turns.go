package chat

import (
	"bufio"
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/services"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/utils/middleware"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/utils/response"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/utils/sse"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/utils/validation"
	"github.com/gofiber/fiber/v2"
)

// TurnOrchestrator is the part of the orchestrator the handlers drive
type TurnOrchestrator interface {
	HandleTurn(ctx context.Context, req services.TurnRequest) (*services.TurnResult, error)
	Begin(ctx context.Context, req services.TurnRequest) (*services.Turn, error)
	Stream(ctx context.Context, turn *services.Turn, emit services.Emitter)
	StreamTimeout() time.Duration
}

// TurnHandler serves the turn endpoints
type TurnHandler struct {
	turns     TurnOrchestrator
	validator *validation.Validator
}

// NewTurnHandler creates a new turn handler
func NewTurnHandler(turns TurnOrchestrator) *TurnHandler {
	return &TurnHandler{
		turns:     turns,
		validator: validation.NewValidator(),
	}
}

// TurnRequest represents one user turn. Blank messages and malformed
// session ids are rejected with 400 like the orchestrator reports them.
type TurnRequest struct {
	Message     string                `json:"message" validate:"notblank,max=32000"`
	SessionID   string                `json:"session_id" validate:"optuuid"`
	UserID      string                `json:"user_id" validate:"max=100"`
	TopicHint   string                `json:"topic_hint" validate:"max=255"`
	Attachments []services.Attachment `json:"attachments" validate:"max=10,dive"`
}

// parse reads the turn body. A nil request means the error response has
// already been written and err is its write result.
func (h *TurnHandler) parse(c *fiber.Ctx) (*services.TurnRequest, error) {
	var req TurnRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, response.Bare(c, fiber.StatusBadRequest, "Invalid request body")
	}
	req.SessionID = validation.SanitizeString(req.SessionID)
	req.TopicHint = validation.SanitizeString(req.TopicHint)

	if err := h.validator.ValidateStruct(req); err != nil {
		switch {
		case validation.FailedOn(err, "notblank"):
			return nil, response.Bare(c, fiber.StatusBadRequest, services.ErrEmptyMessage.Error())
		case validation.FailedOn(err, "optuuid"):
			return nil, response.Bare(c, fiber.StatusBadRequest, services.ErrInvalidSessionID.Error())
		}
		return nil, response.Bare(c, fiber.StatusUnprocessableEntity, validationMessage(err))
	}

	return &services.TurnRequest{
		SessionID:   req.SessionID,
		UserID:      middleware.UserID(c, req.UserID),
		Message:     req.Message,
		TopicHint:   req.TopicHint,
		Attachments: req.Attachments,
	}, nil
}

// CreateTurn handles POST /api/v1/chat/turns
func (h *TurnHandler) CreateTurn(c *fiber.Ctx) error {
	req, err := h.parse(c)
	if req == nil {
		return err
	}

	result, err := h.turns.HandleTurn(c.UserContext(), *req)
	if err != nil {
		return turnError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(result)
}

// StreamTurn handles POST /api/v1/chat/turns/stream
func (h *TurnHandler) StreamTurn(c *fiber.Ctx) error {
	req, err := h.parse(c)
	if req == nil {
		return err
	}

	// Failures before the user message exists are plain JSON errors
	turn, err := h.turns.Begin(c.UserContext(), *req)
	if err != nil {
		return turnError(c, err)
	}

	// Set headers for SSE
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Transfer-Encoding", "chunked")
	c.Set("X-Accel-Buffering", "no")

	timeout := h.turns.StreamTimeout() + services.PersistGrace

	// The fiber context is recycled once the handler returns, so the stream
	// gets its own deadline
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		emitter := sse.NewEmitter(w)
		h.turns.Stream(ctx, turn, emitter)
		if emitter.Broken() {
			log.Printf("[Turn] Stream for session %s ended after client disconnect", turn.Session.ID)
		}
	})

	return nil
}

// turnError maps orchestration errors to the bare {error} body
func turnError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrEmptyMessage), errors.Is(err, services.ErrInvalidSessionID):
		return response.Bare(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrSessionNotFound):
		return response.Bare(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrSessionArchived):
		return response.Bare(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, services.ErrProducerFailed):
		return response.Bare(c, fiber.StatusBadGateway, err.Error())
	default:
		log.Printf("[Turn] Error: %v", err)
		return response.Bare(c, fiber.StatusInternalServerError, "Failed to process turn")
	}
}

// validationMessage flattens field errors into one stable line
func validationMessage(err error) string {
	fields := validation.FormatValidationErrors(err)
	if len(fields) == 0 {
		return err.Error()
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fields[k])
	}
	return strings.Join(parts, "; ")
}
