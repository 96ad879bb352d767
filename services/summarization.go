package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/database"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/model"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/services/answer"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/utils/cache"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/utils/tokens"
	"github.com/google/uuid"
)

var (
	// ErrSummaryInProgress means another worker holds the session's summary claim
	ErrSummaryInProgress = errors.New("summary already in progress")
	// ErrNothingToSummarize means the session has no usable messages
	ErrNothingToSummarize = errors.New("nothing to summarize")
)

const (
	summaryLockPrefix     = "summary:lock:"
	extractiveSentences   = 4
	extractiveSentenceCap = 240
	defaultSummaryTimeout = 60 * time.Second
	defaultSummaryLockTTL = 2 * time.Minute
	defaultSummaryWorkers = 2
	defaultSummaryQueue   = 64
	defaultSummarySources = 20
	defaultTurnInterval   = 10
	defaultTokenThreshold = 8000
)

// SummaryGenerator writes a summary from a role-tagged transcript
type SummaryGenerator interface {
	Summarize(ctx context.Context, transcript []answer.ChatMessage) (string, error)
}

// SummaryConfig holds trigger thresholds and worker pool sizing
type SummaryConfig struct {
	TurnInterval   int
	TokenThreshold int
	SourceMessages int
	Workers        int
	QueueSize      int
	LockTTL        time.Duration
	Timeout        time.Duration
}

// ShouldSummarize evaluates the trigger on post-update counters: every
// turnInterval assistant turns, or whenever total tokens exceed the threshold.
func ShouldSummarize(session *model.Session, turnInterval, tokenThreshold int) bool {
	if session == nil {
		return false
	}
	if turnInterval > 0 && session.AssistantTurnCount > 0 && session.AssistantTurnCount%turnInterval == 0 {
		return true
	}
	return tokenThreshold > 0 && session.TotalTokens > tokenThreshold
}

// SummarizationService regenerates running summaries on a bounded worker
// pool. Requests for a session already waiting in the queue are coalesced.
type SummarizationService struct {
	store     database.ConversationStore
	counter   tokens.Counter
	generator SummaryGenerator
	cache     *cache.RedisCache
	config    SummaryConfig

	queue   chan uuid.UUID
	mu      sync.Mutex
	pending map[uuid.UUID]struct{}
	closed  bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewSummarizationService creates the service. generator and cache may be nil.
func NewSummarizationService(
	store database.ConversationStore,
	counter tokens.Counter,
	generator SummaryGenerator,
	cache *cache.RedisCache,
	config SummaryConfig,
) *SummarizationService {
	if config.TurnInterval < 0 {
		config.TurnInterval = defaultTurnInterval
	}
	if config.TokenThreshold < 0 {
		config.TokenThreshold = defaultTokenThreshold
	}
	if config.SourceMessages <= 0 {
		config.SourceMessages = defaultSummarySources
	}
	if config.Workers <= 0 {
		config.Workers = defaultSummaryWorkers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaultSummaryQueue
	}
	if config.LockTTL <= 0 {
		config.LockTTL = defaultSummaryLockTTL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultSummaryTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &SummarizationService{
		store:     store,
		counter:   counter,
		generator: generator,
		cache:     cache,
		config:    config,
		queue:     make(chan uuid.UUID, config.QueueSize),
		pending:   make(map[uuid.UUID]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the workers
func (s *SummarizationService) Start() {
	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i + 1)
	}
	log.Printf("[Summary] Started %d workers (queue size %d)", s.config.Workers, s.config.QueueSize)
}

// Stop stops accepting work and waits for queued summaries until ctx ends,
// then cancels whatever is still running
func (s *SummarizationService) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

// AfterAssistantTurn enqueues a summary when the session crossed a threshold
func (s *SummarizationService) AfterAssistantTurn(session *model.Session) {
	if ShouldSummarize(session, s.config.TurnInterval, s.config.TokenThreshold) {
		s.Enqueue(session.ID)
	}
}

// Enqueue schedules a summary without blocking. It returns false when the
// session is already queued, the queue is full, or the service stopped.
func (s *SummarizationService) Enqueue(sessionID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if _, ok := s.pending[sessionID]; ok {
		return false
	}

	select {
	case s.queue <- sessionID:
		s.pending[sessionID] = struct{}{}
		return true
	default:
		log.Printf("[Summary] Warning: queue full, dropping summary for session %s", sessionID)
		return false
	}
}

func (s *SummarizationService) worker(n int) {
	defer s.wg.Done()
	for sessionID := range s.queue {
		s.mu.Lock()
		delete(s.pending, sessionID)
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(s.ctx, s.config.Timeout)
		session, err := s.Summarize(ctx, sessionID)
		cancel()

		switch {
		case err == nil:
			log.Printf("[Summary] Worker %d: session %s summarized (version %d)", n, sessionID, session.SummaryVersion)
		case errors.Is(err, ErrSummaryInProgress), errors.Is(err, ErrNothingToSummarize):
			log.Printf("[Summary] Worker %d: session %s skipped: %v", n, sessionID, err)
		default:
			log.Printf("[Summary] Worker %d: session %s failed: %v", n, sessionID, err)
		}
	}
}

// Summarize regenerates a session summary synchronously
func (s *SummarizationService) Summarize(ctx context.Context, sessionID uuid.UUID) (*model.Session, error) {
	release, err := s.claim(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	messages, err := s.store.ListRecentMessages(ctx, sessionID, s.config.SourceMessages)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	transcript := make([]answer.ChatMessage, 0, len(messages))
	usable := make([]model.Message, 0, len(messages))
	for _, m := range messages {
		if m.Status == model.MessageStatusFailed || strings.TrimSpace(m.Content) == "" {
			continue
		}
		usable = append(usable, m)
		transcript = append(transcript, answer.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	if len(usable) == 0 {
		return nil, ErrNothingToSummarize
	}

	summary := ""
	if s.generator != nil {
		summary, err = s.generator.Summarize(ctx, transcript)
		if err != nil {
			log.Printf("[Summary] Warning: generator failed for session %s, using extractive summary: %v", sessionID, err)
			summary = ""
		}
	}
	if strings.TrimSpace(summary) == "" {
		summary = ExtractiveSummary(usable, extractiveSentences)
	}

	session, err := s.store.ApplySummary(ctx, sessionID, summary, s.counter.Count(summary))
	if err != nil {
		return nil, fmt.Errorf("failed to apply summary: %w", err)
	}
	return session, nil
}

// claim takes the cross-node summary claim. Without Redis, or when Redis
// errors, the claim is skipped and the run proceeds.
func (s *SummarizationService) claim(ctx context.Context, sessionID uuid.UUID) (func(), error) {
	noop := func() {}
	if s.cache == nil {
		return noop, nil
	}

	key := summaryLockPrefix + sessionID.String()
	ok, err := s.cache.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), s.config.LockTTL)
	if err != nil {
		log.Printf("[Summary] Warning: could not claim %s: %v", key, err)
		return noop, nil
	}
	if !ok {
		return nil, ErrSummaryInProgress
	}

	return func() {
		if err := s.cache.Delete(context.Background(), key); err != nil {
			log.Printf("[Summary] Warning: could not release %s: %v", key, err)
		}
	}, nil
}

// ExtractiveSummary builds a summary from the leading sentence of the most
// recent messages, oldest first
func ExtractiveSummary(messages []model.Message, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = extractiveSentences
	}

	var picked []string
	for i := len(messages) - 1; i >= 0 && len(picked) < maxSentences; i-- {
		sentence := firstSentence(messages[i].Content)
		if sentence == "" {
			continue
		}
		sentence, _ = truncateRunes(sentence, extractiveSentenceCap)

		label := "The user said"
		if messages[i].Role == model.MessageRoleAssistant {
			label = "The assistant replied"
		} else if messages[i].Role == model.MessageRoleSystem {
			label = "System note"
		}
		picked = append(picked, fmt.Sprintf("%s: %s", label, sentence))
	}

	// restore chronological order
	for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
		picked[i], picked[j] = picked[j], picked[i]
	}
	return strings.Join(picked, " ")
}

func firstSentence(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	for i, r := range runes {
		if r == '.' || r == '!' || r == '?' {
			if i == len(runes)-1 || unicode.IsSpace(runes[i+1]) {
				return string(runes[:i+1])
			}
		}
	}
	if text == "" {
		return ""
	}
	return text + "."
}
