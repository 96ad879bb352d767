package chat

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/database"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/database/dbtest"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/model"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/services"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/services/answer"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/utils/auth"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/utils/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type producerFunc func(ctx context.Context, req answer.Request) (*answer.Answer, error)

func (f producerFunc) Produce(ctx context.Context, req answer.Request) (*answer.Answer, error) {
	return f(ctx, req)
}

type charCounter struct{}

func (charCounter) Count(text string) int { return len(text) }

type testServer struct {
	app   *fiber.App
	store *database.GORMConversationStore
}

// assistantWriteFailure lets user messages through and rejects assistant ones
type assistantWriteFailure struct {
	database.ConversationStore
}

func (s assistantWriteFailure) CreateMessage(ctx context.Context, msg *model.Message) error {
	if msg.Role == model.MessageRoleAssistant {
		return errors.New("storage down")
	}
	return s.ConversationStore.CreateMessage(ctx, msg)
}

func newTestServer(t *testing.T, producer producerFunc) *testServer {
	return newTestServerWithStore(t, producer, nil)
}

func newTestServerWithStore(t *testing.T, producer producerFunc, wrap func(database.ConversationStore) database.ConversationStore) *testServer {
	t.Helper()
	store, db := dbtest.NewStore(t)
	var orchStore database.ConversationStore = store
	if wrap != nil {
		orchStore = wrap(store)
	}
	topics := services.NewTopicService(db, nil)
	orch := services.NewTurnOrchestrator(
		orchStore,
		charCounter{},
		topics,
		services.NewContextAssembler(store, topics, 6, 3000),
		nil,
		producer,
		nil,
		services.TurnConfig{AnswerTimeout: time.Second, StreamTimeout: time.Second},
	)

	app := fiber.New()
	api := app.Group("/api/v1", middleware.Identity(auth.NewTokenVerifier(auth.JWTConfig{Secret: testSecret})))
	turns := NewTurnHandler(orch)
	sessions := NewSessionHandler(services.NewSessionService(store))
	api.Post("/chat/turns", turns.CreateTurn)
	api.Post("/chat/turns/stream", turns.StreamTurn)
	api.Get("/chat/sessions", sessions.ListSessions)
	api.Post("/chat/sessions", sessions.CreateSession)
	api.Get("/chat/sessions/:id", sessions.GetSession)
	api.Patch("/chat/sessions/:id", sessions.UpdateSession)
	api.Delete("/chat/sessions/:id", sessions.DeleteSession)
	api.Post("/chat/sessions/:id/archive", sessions.ArchiveSession)
	api.Get("/chat/sessions/:id/messages", sessions.GetMessages)

	return &testServer{app: app, store: store}
}

func (s *testServer) do(t *testing.T, method, path, body string, headers ...string) (*http.Response, string) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(raw)
}

func echo(ctx context.Context, req answer.Request) (*answer.Answer, error) {
	return &answer.Answer{Response: "You said " + req.Query, Intent: "echo"}, nil
}

func TestCreateTurn(t *testing.T) {
	s := newTestServer(t, echo)

	resp, body := s.do(t, "POST", "/api/v1/chat/turns", `{"message":"hello","user_id":"u1"}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode, body)

	var result services.TurnResult
	require.NoError(t, json.Unmarshal([]byte(body), &result))
	assert.Equal(t, "You said hello", result.Content)
	assert.Equal(t, "echo", result.Intent)
	assert.NotEqual(t, uuid.Nil, result.ID)
	assert.False(t, result.Timestamp.IsZero())

	// follow-up in the same session
	resp, body = s.do(t, "POST", "/api/v1/chat/turns", `{"message":"again","user_id":"u1","session_id":"`+result.SessionID.String()+`"}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode, body)

	session, err := s.store.GetSession(context.Background(), result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 4, session.TotalMessageCount)
	assert.Equal(t, 2, session.AssistantTurnCount)
}

func TestCreateTurnErrors(t *testing.T) {
	failing := func(ctx context.Context, req answer.Request) (*answer.Answer, error) {
		return nil, errors.New("producer down")
	}
	s := newTestServer(t, failing)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"bad json", `{"message":`, fiber.StatusBadRequest},
		{"empty message", `{"message":"   ","user_id":"u1"}`, fiber.StatusBadRequest},
		{"malformed session", `{"message":"hi","session_id":"abc"}`, fiber.StatusBadRequest},
		{"unknown session", `{"message":"hi","session_id":"` + uuid.NewString() + `"}`, fiber.StatusNotFound},
		{"too many attachments", `{"message":"hi","attachments":[` + strings.TrimSuffix(strings.Repeat(`{"name":"a.txt","text":"x"},`, 11), ",") + `]}`, fiber.StatusUnprocessableEntity},
		{"producer failure", `{"message":"hi","user_id":"u1"}`, fiber.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := s.do(t, "POST", "/api/v1/chat/turns", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode, body)

			var errBody map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(body), &errBody))
			assert.NotEmpty(t, errBody["error"])
			assert.Len(t, errBody, 1, "turn errors use the flat {error} body")
		})
	}
}

func TestTurnAssistantPersistFailure(t *testing.T) {
	s := newTestServerWithStore(t, echo, func(store database.ConversationStore) database.ConversationStore {
		return assistantWriteFailure{store}
	})

	resp, body := s.do(t, "POST", "/api/v1/chat/turns", `{"message":"hi","user_id":"u1"}`)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Failed to process turn"}`, body)

	resp, body = s.do(t, "POST", "/api/v1/chat/turns/stream", `{"message":"hi","user_id":"u1"}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	frames := parseFrames(t, body)
	names := make([]string, 0, len(frames))
	for _, f := range frames {
		names = append(names, f.Event)
	}
	assert.Equal(t, "ping metadata content content content error", strings.Join(names, " "))
	assert.Contains(t, frames[len(frames)-1].Data["error"], services.ErrPersistFailed.Error())

	sessions, total, err := s.store.ListSessions(context.Background(), database.SessionFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	for _, session := range sessions {
		msgs, _, err := s.store.ListMessages(context.Background(), session.ID, 0, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, model.MessageStatusFailed, msgs[0].Status)
	}
}

func TestCreateTurnRequestChecks(t *testing.T) {
	s := newTestServer(t, echo)

	resp, body := s.do(t, "POST", "/api/v1/chat/turns", `{"message":"hi","session_id":"abc"}`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"error":"invalid session id"}`, body)

	resp, body = s.do(t, "POST", "/api/v1/chat/turns", `{"message":" \t ","session_id":"abc"}`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"error":"message must not be empty"}`, body)

	session := &model.Session{UserID: "u1"}
	require.NoError(t, s.store.CreateSession(context.Background(), session))
	resp, body = s.do(t, "POST", "/api/v1/chat/turns", `{"message":"hi","user_id":"u1","session_id":"  `+session.ID.String()+` "}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode, body)

	var result services.TurnResult
	require.NoError(t, json.Unmarshal([]byte(body), &result))
	assert.Equal(t, session.ID, result.SessionID)
}

func TestCreateTurnArchivedSession(t *testing.T) {
	s := newTestServer(t, echo)
	session := &model.Session{UserID: "u1", Status: model.SessionStatusArchived}
	require.NoError(t, s.store.CreateSession(context.Background(), session))

	resp, _ := s.do(t, "POST", "/api/v1/chat/turns", `{"message":"hi","user_id":"u1","session_id":"`+session.ID.String()+`"}`)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestCreateTurnTokenIdentity(t *testing.T) {
	s := newTestServer(t, echo)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		UserID:           "from-token",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	resp, body := s.do(t, "POST", "/api/v1/chat/turns", `{"message":"hi","user_id":"from-body"}`, "Authorization", "Bearer "+token)
	require.Equal(t, fiber.StatusOK, resp.StatusCode, body)

	var result services.TurnResult
	require.NoError(t, json.Unmarshal([]byte(body), &result))
	session, err := s.store.GetSession(context.Background(), result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "from-token", session.UserID)

	resp, _ = s.do(t, "POST", "/api/v1/chat/turns", `{"message":"hi"}`, "Authorization", "Bearer nope")
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

type sseFrame struct {
	Event string
	Data  map[string]interface{}
}

func parseFrames(t *testing.T, body string) []sseFrame {
	t.Helper()
	var frames []sseFrame
	var current sseFrame
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &current.Data))
		case line == "" && current.Event != "":
			frames = append(frames, current)
			current = sseFrame{}
		}
	}
	return frames
}

func TestStreamTurn(t *testing.T) {
	s := newTestServer(t, echo)

	resp, body := s.do(t, "POST", "/api/v1/chat/turns/stream", `{"message":"stream me","user_id":"u1"}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := parseFrames(t, body)
	require.GreaterOrEqual(t, len(frames), 4)

	names := make([]string, 0, len(frames))
	var text strings.Builder
	for _, f := range frames {
		names = append(names, f.Event)
		if f.Event == "content" {
			text.WriteString(f.Data["content"].(string))
		}
	}
	assert.Equal(t, "ping metadata content content content content done", strings.Join(names, " "))
	assert.Equal(t, "You said stream me", text.String())

	assert.Equal(t, "connected", frames[0].Data["message"])
	assert.NotEmpty(t, frames[1].Data["userMessageId"])
	assert.NotEmpty(t, frames[1].Data["timestamp"])

	done := frames[len(frames)-1].Data
	assert.Equal(t, "You said stream me", done["final_response"])
	assert.Equal(t, frames[1].Data["userMessageId"], done["userMessageId"])

	assistantID, err := uuid.Parse(done["assistantMessageId"].(string))
	require.NoError(t, err)
	msg, err := s.store.GetMessage(context.Background(), assistantID)
	require.NoError(t, err)
	assert.Equal(t, "You said stream me", msg.Content)
}

func TestStreamTurnProducerFailure(t *testing.T) {
	s := newTestServer(t, func(ctx context.Context, req answer.Request) (*answer.Answer, error) {
		return nil, errors.New("producer down")
	})

	resp, body := s.do(t, "POST", "/api/v1/chat/turns/stream", `{"message":"hi","user_id":"u1"}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	frames := parseFrames(t, body)
	require.Len(t, frames, 3)
	assert.Equal(t, "error", frames[2].Event)
	assert.Contains(t, frames[2].Data["error"], "producer down")
}

func TestStreamTurnRejectedBeforePersisting(t *testing.T) {
	s := newTestServer(t, echo)

	resp, body := s.do(t, "POST", "/api/v1/chat/turns/stream", `{"message":"","user_id":"u1"}`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
	assert.JSONEq(t, `{"error":"message must not be empty"}`, body)
}
