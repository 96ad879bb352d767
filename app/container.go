package app

import (
	"context"
	"log"
	"time"

	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/config"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/database"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/services"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/services/answer"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/services/cron"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/services/objectstore"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/utils/auth"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/utils/cache"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/utils/tokens"
)

// Container holds the wired services shared by the server and chatctl
type Container struct {
	Env           *config.EnviornmentVariable
	Store         *database.GORMStore
	Conversations *database.GORMConversationStore
	Cache         *cache.RedisCache // nil without Redis
	Topics        *services.TopicService
	Summaries     *services.SummarizationService
	Orchestrator  *services.TurnOrchestrator
	Sessions      *services.SessionService
	Cron          *cron.CronManager
	Verifier      *auth.TokenVerifier
}

// Build opens the database and wires every service. Optional dependencies
// (Redis, Spaces, summarizer) degrade with a warning.
func Build(env *config.EnviornmentVariable) (*Container, error) {
	store, err := database.StartGORM()
	if err != nil {
		return nil, err
	}
	if err := store.Init(); err != nil {
		store.Close()
		return nil, err
	}
	return wire(env, store), nil
}

func wire(env *config.EnviornmentVariable, store *database.GORMStore) *Container {
	orch := env.Orchestration
	db := store.DB()
	conversations := database.NewConversationStore(db)

	var redisCache *cache.RedisCache
	if env.REDIS_URL != "" {
		rc, err := cache.NewRedisCache(env.REDIS_URL)
		if err != nil {
			log.Printf("Warning: Failed to connect to Redis: %v. Topic caching and summary claims are disabled.", err)
		} else {
			redisCache = rc
		}
	}

	var objects services.ObjectFetcher
	spacesConfig := objectstore.SpacesConfig{
		AccessKey: env.DO_SPACES_ACCESS_KEY,
		SecretKey: env.DO_SPACES_SECRET_KEY,
		Bucket:    env.DO_SPACES_BUCKET,
		Region:    env.DO_SPACES_REGION,
		Endpoint:  env.DO_SPACES_ENDPOINT,
	}
	if spacesConfig.IsConfigured() {
		spaces, err := objectstore.NewSpacesClient(spacesConfig)
		if err != nil {
			log.Printf("Warning: Spaces client unavailable: %v", err)
		} else {
			objects = spaces
		}
	}

	counter := tokens.NewEstimator(orch.TokenEncoding)
	topics := services.NewTopicService(db, redisCache)

	producer := answer.NewProducer(
		answer.NewClient(answer.Config{APIKey: env.ANSWER_PRODUCER_API_KEY}),
		answer.ProducerConfig{URL: env.ANSWER_PRODUCER_URL, TopicURL: env.ANSWER_PRODUCER_TOPIC_URL},
	)
	if env.ANSWER_PRODUCER_URL == "" {
		log.Println("Warning: ANSWER_PRODUCER_URL is not set; every turn will fail")
	}

	var generator services.SummaryGenerator
	summarizer := answer.NewSummarizer(
		answer.NewClient(answer.Config{APIKey: env.SUMMARIZER_API_KEY}),
		answer.SummarizerConfig{URL: env.SUMMARIZER_URL, Model: env.SUMMARIZER_MODEL},
	)
	if summarizer.Configured() {
		generator = summarizer
	} else {
		log.Println("[Summary] SUMMARIZER_URL not set; using extractive summaries")
	}

	summaries := services.NewSummarizationService(conversations, counter, generator, redisCache, services.SummaryConfig{
		TurnInterval:   orch.SummaryTurnInterval,
		TokenThreshold: orch.SummaryTokenThreshold,
		SourceMessages: orch.SummarySourceMessages,
		Workers:        orch.SummaryWorkers,
		QueueSize:      orch.SummaryQueueSize,
	})

	orchestrator := services.NewTurnOrchestrator(
		conversations,
		counter,
		topics,
		services.NewContextAssembler(conversations, topics, orch.ContextWindowMessages, orch.ContextMessageCharCap),
		services.NewAttachmentExtractor(objects, orch.AttachmentCharCap),
		producer,
		summaries,
		services.TurnConfig{
			AnswerTimeout: env.ANSWER_TIMEOUT,
			StreamTimeout: env.ANSWER_STREAM_TIMEOUT,
			ChunkDelay:    orch.StreamChunkDelay,
		},
	)

	cronManager := cron.NewCronManager(db, conversations, summaries, cron.Config{
		PendingTTL:     orch.PendingMessageTTL,
		MinPendingTTL:  orchestrator.LongestTurn(),
		TurnInterval:   orch.SummaryTurnInterval,
		TokenThreshold: orch.SummaryTokenThreshold,
	})

	return &Container{
		Env:           env,
		Store:         store,
		Conversations: conversations,
		Cache:         redisCache,
		Topics:        topics,
		Summaries:     summaries,
		Orchestrator:  orchestrator,
		Sessions:      services.NewSessionService(conversations),
		Cron:          cronManager,
		Verifier:      auth.NewTokenVerifier(auth.JWTConfig{Secret: env.JWT_SECRET, Issuer: env.JWT_ISSUER}),
	}
}

// Close drains background work and releases connections
func (c *Container) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.Summaries.Stop(ctx); err != nil {
		log.Printf("Warning: summary workers did not drain: %v", err)
	}
	if c.Cache != nil {
		c.Cache.Close()
	}
	c.Store.Close()
}
