package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/database"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/database/dbtest"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/model"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/services/answer"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/utils/sse"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// wordCounter counts whitespace separated words as tokens
type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

type fakeProducer struct {
	mu    sync.Mutex
	calls []answer.Request
	fn    func(ctx context.Context, req answer.Request) (*answer.Answer, error)
}

func (p *fakeProducer) Produce(ctx context.Context, req answer.Request) (*answer.Answer, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	p.mu.Unlock()
	return p.fn(ctx, req)
}

func (p *fakeProducer) lastCall(t *testing.T) answer.Request {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.calls)
	return p.calls[len(p.calls)-1]
}

func replyWith(text string) *fakeProducer {
	return &fakeProducer{fn: func(ctx context.Context, req answer.Request) (*answer.Answer, error) {
		return &answer.Answer{Response: text}, nil
	}}
}

type recordedEvent struct {
	Name    string
	Payload interface{}
}

// recordingEmitter accepts events until acceptContent content events went
// through; after that it behaves like a closed connection
type recordingEmitter struct {
	mu            sync.Mutex
	events        []recordedEvent
	acceptContent int
	contentSeen   int
	broken        bool
}

func newRecordingEmitter() *recordingEmitter {
	return &recordingEmitter{acceptContent: -1}
}

func (e *recordingEmitter) Emit(event string, payload interface{}) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken {
		return false
	}
	if event == sse.EventContent && e.acceptContent >= 0 {
		if e.contentSeen >= e.acceptContent {
			e.broken = true
			return false
		}
		e.contentSeen++
	}
	e.events = append(e.events, recordedEvent{Name: event, Payload: payload})
	return true
}

func (e *recordingEmitter) names() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		names = append(names, ev.Name)
	}
	return strings.Join(names, " ")
}

func (e *recordingEmitter) last() recordedEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events[len(e.events)-1]
}

type recordingTrigger struct {
	mu       sync.Mutex
	sessions []model.Session
}

func (r *recordingTrigger) AfterAssistantTurn(session *model.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, *session)
}

type harness struct {
	store    *database.GORMConversationStore
	db       *gorm.DB
	producer *fakeProducer
	trigger  *recordingTrigger
	orch     *TurnOrchestrator
}

// failingStore rejects CreateMessage for one role and passes everything
// else through
type failingStore struct {
	database.ConversationStore
	failRole model.MessageRole
}

var errStorageDown = errors.New("storage down")

func (s *failingStore) CreateMessage(ctx context.Context, msg *model.Message) error {
	if msg.Role == s.failRole {
		return errStorageDown
	}
	return s.ConversationStore.CreateMessage(ctx, msg)
}

func newHarness(t *testing.T, producer *fakeProducer, config TurnConfig) *harness {
	return newHarnessWithStore(t, producer, config, nil)
}

// newHarnessWithStore lets wrap replace the store the orchestrator writes
// through; the harness keeps the real one for assertions
func newHarnessWithStore(t *testing.T, producer *fakeProducer, config TurnConfig, wrap func(database.ConversationStore) database.ConversationStore) *harness {
	t.Helper()
	store, db := dbtest.NewStore(t)
	var orchStore database.ConversationStore = store
	if wrap != nil {
		orchStore = wrap(store)
	}
	topics := NewTopicService(db, nil)
	trigger := &recordingTrigger{}
	orch := NewTurnOrchestrator(
		orchStore,
		wordCounter{},
		topics,
		NewContextAssembler(store, topics, 6, 3000),
		NewAttachmentExtractor(nil, 4000),
		producer,
		trigger,
		config,
	)
	return &harness{store: store, db: db, producer: producer, trigger: trigger, orch: orch}
}

func (h *harness) messages(t *testing.T, session *model.Session) []model.Message {
	t.Helper()
	msgs, _, err := h.store.ListMessages(context.Background(), session.ID, 0, 0)
	require.NoError(t, err)
	return msgs
}

func (h *harness) session(t *testing.T, id string) *model.Session {
	t.Helper()
	var session model.Session
	require.NoError(t, h.db.First(&session, "id = ?", id).Error)
	return &session
}

func seedTopic(t *testing.T, db *gorm.DB, name string, keywords ...string) model.Topic {
	t.Helper()
	topic := model.Topic{Name: name, Keywords: keywords}
	require.NoError(t, db.Create(&topic).Error)
	return topic
}
