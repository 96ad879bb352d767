package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/database"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/model"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/services/answer"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/utils/sse"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/utils/tokens"
	"github.com/google/uuid"
)

var (
	ErrEmptyMessage     = errors.New("message must not be empty")
	ErrInvalidSessionID = errors.New("invalid session id")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionArchived  = errors.New("session is archived")
	ErrProducerFailed   = errors.New("answer producer failed")
	ErrPersistFailed    = errors.New("failed to persist turn")
)

const (
	defaultAnswerTimeout = 30 * time.Second
	defaultStreamTimeout = 60 * time.Second
	maxTitleRunes        = 60

	// PersistGrace is the time allowed for finalization after the
	// producer call ends
	PersistGrace = 15 * time.Second
)

// Emitter delivers one stream event and reports whether the client got it
type Emitter interface {
	Emit(event string, payload interface{}) bool
}

// SummaryTrigger is told about every persisted assistant turn
type SummaryTrigger interface {
	AfterAssistantTurn(session *model.Session)
}

// TurnRequest is one user turn
type TurnRequest struct {
	// SessionID may be empty, in which case a session is created for UserID
	SessionID   string
	UserID      string
	Message     string
	TopicHint   string
	Attachments []Attachment
}

// TurnResult is the outcome of a completed turn
type TurnResult struct {
	ID            uuid.UUID     `json:"id"`
	Content       string        `json:"content"`
	Intent        string        `json:"intent,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
	Sources       []interface{} `json:"sources,omitempty"`
	UserMessageID uuid.UUID     `json:"user_message_id"`
	SessionID     uuid.UUID     `json:"session_id"`
	RoutingMode   RoutingMode   `json:"routing_mode"`
}

// Stream event payloads
type (
	PingEvent struct {
		Message string `json:"message"`
	}
	MetadataEvent struct {
		Timestamp     time.Time `json:"timestamp"`
		UserMessageID uuid.UUID `json:"userMessageId"`
		SessionID     uuid.UUID `json:"sessionId"`
	}
	ContentEvent struct {
		Content string `json:"content"`
	}
	DoneEvent struct {
		FinalResponse      string        `json:"final_response"`
		AssistantMessageID *uuid.UUID    `json:"assistantMessageId,omitempty"`
		UserMessageID      *uuid.UUID    `json:"userMessageId,omitempty"`
		Sources            []interface{} `json:"sources,omitempty"`
	}
	ErrorEvent struct {
		Error string `json:"error"`
	}
)

// Turn is a user turn that has been validated and persisted as pending.
// It is owned by a single orchestration call.
type Turn struct {
	Session     *model.Session
	UserMessage *model.Message
	Route       Route
	Request     TurnRequest
}

// TurnConfig holds timing settings for turns
type TurnConfig struct {
	AnswerTimeout time.Duration
	StreamTimeout time.Duration
	ChunkDelay    time.Duration
}

// TurnOrchestrator runs the lifecycle of a chat turn:
// received -> user_persisted -> routed -> answered -> finalized, with any
// failure after user_persisted ending in the user message marked failed.
type TurnOrchestrator struct {
	store       database.ConversationStore
	counter     tokens.Counter
	topics      TopicResolver
	assembler   *ContextAssembler
	attachments *AttachmentExtractor
	producer    AnswerProducer
	trigger     SummaryTrigger
	config      TurnConfig
}

// NewTurnOrchestrator wires the orchestrator. topics, attachments and
// trigger may be nil.
func NewTurnOrchestrator(
	store database.ConversationStore,
	counter tokens.Counter,
	topics TopicResolver,
	assembler *ContextAssembler,
	attachments *AttachmentExtractor,
	producer AnswerProducer,
	trigger SummaryTrigger,
	config TurnConfig,
) *TurnOrchestrator {
	if config.AnswerTimeout <= 0 {
		config.AnswerTimeout = defaultAnswerTimeout
	}
	if config.StreamTimeout <= 0 {
		config.StreamTimeout = defaultStreamTimeout
	}
	if config.ChunkDelay < 0 {
		config.ChunkDelay = 0
	}
	return &TurnOrchestrator{
		store:       store,
		counter:     counter,
		topics:      topics,
		assembler:   assembler,
		attachments: attachments,
		producer:    producer,
		trigger:     trigger,
		config:      config,
	}
}

// StreamTimeout is the upper bound for a streamed turn
func (o *TurnOrchestrator) StreamTimeout() time.Duration {
	return o.config.StreamTimeout
}

// LongestTurn bounds how long a user message stays pending on a live turn
func (o *TurnOrchestrator) LongestTurn() time.Duration {
	return max(o.config.AnswerTimeout, o.config.StreamTimeout) + PersistGrace
}

// HandleTurn runs a turn to completion and returns the assistant reply
func (o *TurnOrchestrator) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	turn, err := o.Begin(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.Complete(ctx, turn)
}

// HandleTurnStream runs a turn and relays it as events. Errors before the
// user message is persisted are returned without emitting anything.
func (o *TurnOrchestrator) HandleTurnStream(ctx context.Context, req TurnRequest, emit Emitter) error {
	turn, err := o.Begin(ctx, req)
	if err != nil {
		return err
	}
	o.Stream(ctx, turn, emit)
	return nil
}

// Begin validates the request, resolves the session and route, and persists
// the user message as pending. Nothing is persisted when it fails.
func (o *TurnOrchestrator) Begin(ctx context.Context, req TurnRequest) (*Turn, error) {
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	session, err := o.resolveSession(ctx, req)
	if err != nil {
		return nil, err
	}

	var topic *model.Topic
	if o.topics != nil && strings.TrimSpace(req.TopicHint) != "" {
		topic, err = o.topics.Resolve(ctx, req.TopicHint)
		if err != nil {
			// routing enrichment only; fall back to direct chat
			log.Printf("[Turn] Warning: topic resolution failed for hint %q: %v", req.TopicHint, err)
			topic = nil
		}
	}
	route := routeFor(topic)

	metadata := map[string]interface{}{
		model.MetaRoutingMode: string(route.Mode),
	}
	if req.TopicHint != "" {
		metadata[model.MetaTopicHint] = req.TopicHint
	}
	if len(req.Attachments) > 0 {
		names := make([]interface{}, 0, len(req.Attachments))
		for _, a := range req.Attachments {
			names = append(names, a.Name)
		}
		metadata[model.MetaAttachments] = names
	}

	userMsg := &model.Message{
		SessionID:  session.ID,
		Role:       model.MessageRoleUser,
		Content:    req.Message,
		TokenCount: o.counter.Count(req.Message),
		TopicID:    route.TopicID(),
		Status:     model.MessageStatusPending,
		Metadata:   metadata,
	}
	if err := o.store.CreateMessage(ctx, userMsg); err != nil {
		if strings.TrimSpace(req.SessionID) == "" {
			o.discardSession(ctx, session.ID)
		}
		if errors.Is(err, database.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	return &Turn{
		Session:     session,
		UserMessage: userMsg,
		Route:       route,
		Request:     req,
	}, nil
}

func (o *TurnOrchestrator) resolveSession(ctx context.Context, req TurnRequest) (*model.Session, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		session := &model.Session{
			UserID: req.UserID,
			Title:  titleFrom(req.Message),
		}
		if err := o.store.CreateSession(ctx, session); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
		}
		return session, nil
	}

	id, err := uuid.Parse(strings.TrimSpace(req.SessionID))
	if err != nil {
		return nil, ErrInvalidSessionID
	}

	session, err := o.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	// another user's session is reported as missing
	if req.UserID != "" && session.UserID != "" && req.UserID != session.UserID {
		return nil, ErrSessionNotFound
	}
	if session.Status == model.SessionStatusArchived {
		return nil, ErrSessionArchived
	}
	return session, nil
}

// discardSession removes a session created for a turn whose user message
// could not be saved
func (o *TurnOrchestrator) discardSession(ctx context.Context, sessionID uuid.UUID) {
	if err := o.store.DeleteSession(context.WithoutCancel(ctx), sessionID); err != nil {
		log.Printf("[Turn] Warning: could not remove empty session %s: %v", sessionID, err)
	}
}

// Complete runs the producer call and finalizes a turn started with Begin
func (o *TurnOrchestrator) Complete(ctx context.Context, turn *Turn) (result *TurnResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Turn] Panic in session %s, message %s: %v", turn.Session.ID, turn.UserMessage.ID, r)
			o.markFailed(turn, fmt.Sprintf("internal error: %v", r))
			result, err = nil, fmt.Errorf("%w: internal error", ErrPersistFailed)
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, o.config.AnswerTimeout)
	ans, err := o.produce(callCtx, turn)
	cancel()
	if err != nil {
		return nil, err
	}

	assistant, err := o.finalize(ctx, turn, ans)
	if err != nil {
		return nil, err
	}

	result = &TurnResult{
		ID:            assistant.ID,
		Content:       assistant.Content,
		Intent:        ans.Intent,
		Timestamp:     assistant.CreatedAt,
		Sources:       ans.Sources,
		UserMessageID: turn.UserMessage.ID,
		SessionID:     turn.Session.ID,
		RoutingMode:   turn.Route.Mode,
	}

	o.notifyTrigger(context.WithoutCancel(ctx), turn.Session.ID)
	return result, nil
}

// Stream relays a turn started with Begin as ping, metadata, content
// chunks and one terminal done or error event. A client that goes away
// stops the chunk relay only; the turn is still persisted.
func (o *TurnOrchestrator) Stream(ctx context.Context, turn *Turn, emit Emitter) {
	terminated := false
	metadataSent := false
	sendError := func(msg string) {
		if !metadataSent {
			o.emitMetadata(turn, emit)
			metadataSent = true
		}
		emit.Emit(sse.EventError, ErrorEvent{Error: msg})
		terminated = true
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Turn] Panic in stream for session %s, message %s: %v", turn.Session.ID, turn.UserMessage.ID, r)
			o.markFailed(turn, fmt.Sprintf("internal error: %v", r))
			if !terminated {
				sendError("internal error")
			}
		}
	}()

	// best-effort; a lost ping does not abort the turn
	emit.Emit(sse.EventPing, PingEvent{Message: "connected"})

	callCtx, cancel := context.WithTimeout(ctx, o.config.StreamTimeout)
	ans, err := o.produce(callCtx, turn)
	cancel()

	o.emitMetadata(turn, emit)
	metadataSent = true

	if err != nil {
		sendError(err.Error())
		return
	}

	o.relayContent(ctx, ans.Response, emit)

	assistant, err := o.finalize(ctx, turn, ans)
	if err != nil {
		sendError(err.Error())
		return
	}

	assistantID := assistant.ID
	userID := turn.UserMessage.ID
	emit.Emit(sse.EventDone, DoneEvent{
		FinalResponse:      ans.Response,
		AssistantMessageID: &assistantID,
		UserMessageID:      &userID,
		Sources:            ans.Sources,
	})
	terminated = true

	// last step; the client already has its terminal event
	o.notifyTrigger(context.WithoutCancel(ctx), turn.Session.ID)
}

func (o *TurnOrchestrator) emitMetadata(turn *Turn, emit Emitter) {
	emit.Emit(sse.EventMetadata, MetadataEvent{
		Timestamp:     time.Now().UTC(),
		UserMessageID: turn.UserMessage.ID,
		SessionID:     turn.Session.ID,
	})
}

// relayContent emits the answer word by word until the client stops
// accepting events or the context ends
func (o *TurnOrchestrator) relayContent(ctx context.Context, text string, emit Emitter) {
	chunks := splitWords(text)
	for i, chunk := range chunks {
		if !emit.Emit(sse.EventContent, ContentEvent{Content: chunk}) {
			log.Printf("[Turn] Client disconnected after %d/%d chunks; continuing to persist", i, len(chunks))
			return
		}
		if o.config.ChunkDelay > 0 && i < len(chunks)-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(o.config.ChunkDelay):
			}
		}
	}
}

// produce assembles context and calls the producer. On failure the user
// message is marked failed and ErrProducerFailed is returned.
func (o *TurnOrchestrator) produce(ctx context.Context, turn *Turn) (*answer.Answer, error) {
	var snippets []AttachmentSnippet
	if o.attachments != nil && len(turn.Request.Attachments) > 0 {
		snippets = o.attachments.Extract(ctx, turn.Request.Attachments)
	}

	var convCtx *ConversationContext
	if o.assembler != nil {
		convCtx = o.assembler.Assemble(ctx, turn.Session.ID, snippets, turn.UserMessage.Content)
	}

	ans, err := turn.Route.invoke(ctx, o.producer, producerCall{
		Query:     turn.UserMessage.Content,
		Context:   convCtx,
		UserID:    firstNonEmpty(turn.Request.UserID, turn.Session.UserID),
		SessionID: turn.Session.ID,
	})
	if err != nil {
		log.Printf("[Turn] Producer failed for session %s, message %s: %v", turn.Session.ID, turn.UserMessage.ID, err)
		o.markFailed(turn, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrProducerFailed, err)
	}
	return ans, nil
}

// finalize persists the assistant message and completes the user message
func (o *TurnOrchestrator) finalize(ctx context.Context, turn *Turn, ans *answer.Answer) (*model.Message, error) {
	// the turn is committed even if the caller has gone away
	persistCtx := context.WithoutCancel(ctx)

	metadata := map[string]interface{}{
		model.MetaRoutingMode: string(turn.Route.Mode),
	}
	if len(ans.Sources) > 0 {
		metadata[model.MetaSources] = ans.Sources
	}
	if ans.Intent != "" {
		metadata[model.MetaIntent] = ans.Intent
	}

	parentID := turn.UserMessage.ID
	assistant := &model.Message{
		SessionID:       turn.Session.ID,
		Role:            model.MessageRoleAssistant,
		Content:         ans.Response,
		TokenCount:      o.counter.Count(ans.Response),
		TopicID:         turn.UserMessage.TopicID,
		ParentMessageID: &parentID,
		Status:          model.MessageStatusCompleted,
		Metadata:        metadata,
	}
	if err := o.store.CreateMessage(persistCtx, assistant); err != nil {
		log.Printf("[Turn] Failed to persist assistant message for session %s, message %s: %v", turn.Session.ID, turn.UserMessage.ID, err)
		o.markFailed(turn, "failed to save assistant reply")
		return nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	updated, err := o.store.UpdateMessage(persistCtx, turn.UserMessage.ID, database.MessageUpdate{
		Status: model.MessageStatusCompleted,
	})
	if err != nil {
		log.Printf("[Turn] Failed to complete user message %s in session %s: %v", turn.UserMessage.ID, turn.Session.ID, err)
		o.markFailed(turn, "failed to complete turn")
		return nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	turn.UserMessage = updated
	return assistant, nil
}

func (o *TurnOrchestrator) notifyTrigger(ctx context.Context, sessionID uuid.UUID) {
	if o.trigger == nil {
		return
	}
	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		log.Printf("[Turn] Warning: could not reload session %s for summary trigger: %v", sessionID, err)
		return
	}
	o.trigger.AfterAssistantTurn(session)
}

// markFailed is best-effort; a failure here is logged and not retried
func (o *TurnOrchestrator) markFailed(turn *Turn, reason string) {
	_, err := o.store.UpdateMessage(context.Background(), turn.UserMessage.ID, database.MessageUpdate{
		Status:       model.MessageStatusFailed,
		ErrorMessage: reason,
	})
	if err != nil {
		log.Printf("[Turn] Warning: could not mark message %s failed in session %s: %v", turn.UserMessage.ID, turn.Session.ID, err)
		return
	}
	turn.UserMessage.Status = model.MessageStatusFailed
	turn.UserMessage.ErrorMessage = reason
}

// splitWords cuts text into word chunks that keep their trailing
// whitespace, so concatenating the chunks gives back text exactly
func splitWords(text string) []string {
	var chunks []string
	start := 0
	prevSpace := false
	seenWord := false
	for i, r := range text {
		space := unicode.IsSpace(r)
		if !space {
			// leading whitespace stays with the first word
			if prevSpace && seenWord {
				chunks = append(chunks, text[start:i])
				start = i
			}
			seenWord = true
		}
		prevSpace = space
	}
	if start < len(text) {
		chunks = append(chunks, text[start:])
	}
	return chunks
}

func titleFrom(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	if utf8.RuneCountInString(title) <= maxTitleRunes {
		return title
	}
	capped, _ := truncateRunes(title, maxTitleRunes)
	return capped
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
