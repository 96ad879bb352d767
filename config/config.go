package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// This function will Load the ENVIORNMENT VARIABLES from .env if GO_ENV variable is not set
func LoadENV() error {
	goEnv := os.Getenv("GO_ENV")

	if goEnv == "" || goEnv == "development" {
		err := godotenv.Load()
		if err != nil {
			if os.IsNotExist(err) {
				log.Println("Warning: .env file not found, using system environment variables")
				return nil
			}
			return err
		}
	}

	return nil
}

type EnviornmentVariable struct {
	// All variables
	GO_ENV       string
	DB_DRIVER    string // postgres or sqlite
	DB_USER_NAME string
	DB_PASSWORD  string
	DB_NAME      string
	DB_HOST      string
	DB_PORT      string
	DB_SSL_MODE  string
	SQLITE_PATH  string
	PORT         int
	// HTTP
	ALLOWED_ORIGINS     string
	RATE_LIMIT_REQUESTS int
	// JWT Configuration
	JWT_SECRET string
	JWT_ISSUER string
	// Redis Configuration
	REDIS_URL string
	// Spaces Configuration (attachment object keys)
	DO_SPACES_ACCESS_KEY string
	DO_SPACES_SECRET_KEY string
	DO_SPACES_BUCKET     string
	DO_SPACES_REGION     string
	DO_SPACES_ENDPOINT   string
	// Answer Producer
	ANSWER_PRODUCER_URL       string
	ANSWER_PRODUCER_TOPIC_URL string
	ANSWER_PRODUCER_API_KEY   string
	ANSWER_TIMEOUT            time.Duration
	ANSWER_STREAM_TIMEOUT     time.Duration
	// Summarizer
	SUMMARIZER_URL     string
	SUMMARIZER_API_KEY string
	SUMMARIZER_MODEL   string
	// Orchestration
	Orchestration OrchestrationConfig
	CRON_ENABLED  bool
}

// OrchestrationConfig holds the turn and summarization tunables
type OrchestrationConfig struct {
	ContextWindowMessages int
	ContextMessageCharCap int
	SummaryTurnInterval   int
	SummaryTokenThreshold int
	SummarySourceMessages int
	SummaryWorkers        int
	SummaryQueueSize      int
	StreamChunkDelay      time.Duration
	AttachmentCharCap     int
	PendingMessageTTL     time.Duration
	TokenEncoding         string
}

// DefaultOrchestration returns the default tunables
func DefaultOrchestration() OrchestrationConfig {
	return OrchestrationConfig{
		ContextWindowMessages: 6,
		ContextMessageCharCap: 3000,
		SummaryTurnInterval:   10,
		SummaryTokenThreshold: 8000,
		SummarySourceMessages: 20,
		SummaryWorkers:        2,
		SummaryQueueSize:      64,
		StreamChunkDelay:      30 * time.Millisecond,
		AttachmentCharCap:     4000,
		PendingMessageTTL:     15 * time.Minute,
		TokenEncoding:         "cl100k_base",
	}
}

func Get() (*EnviornmentVariable, error) {

	port, err := strconv.Atoi(os.Getenv("PORT"))
	if err != nil {
		port = 8080
	}

	// Database defaults
	dbDriver := getEnv("DB_DRIVER", "postgres")
	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")

	defaults := DefaultOrchestration()
	orchestration := OrchestrationConfig{
		ContextWindowMessages: getEnvInt("CONTEXT_WINDOW_MESSAGES", defaults.ContextWindowMessages),
		ContextMessageCharCap: getEnvInt("CONTEXT_MESSAGE_CHAR_CAP", defaults.ContextMessageCharCap),
		SummaryTurnInterval:   getEnvInt("SUMMARY_TURN_INTERVAL", defaults.SummaryTurnInterval),
		SummaryTokenThreshold: getEnvInt("SUMMARY_TOKEN_THRESHOLD", defaults.SummaryTokenThreshold),
		SummarySourceMessages: getEnvInt("SUMMARY_SOURCE_MESSAGES", defaults.SummarySourceMessages),
		SummaryWorkers:        getEnvInt("SUMMARY_WORKERS", defaults.SummaryWorkers),
		SummaryQueueSize:      getEnvInt("SUMMARY_QUEUE_SIZE", defaults.SummaryQueueSize),
		StreamChunkDelay:      time.Duration(getEnvInt("STREAM_CHUNK_DELAY_MS", int(defaults.StreamChunkDelay/time.Millisecond))) * time.Millisecond,
		AttachmentCharCap:     getEnvInt("ATTACHMENT_CHAR_CAP", defaults.AttachmentCharCap),
		PendingMessageTTL:     time.Duration(getEnvInt("PENDING_MESSAGE_TTL_MINUTES", int(defaults.PendingMessageTTL/time.Minute))) * time.Minute,
		TokenEncoding:         getEnv("TOKEN_ENCODING", defaults.TokenEncoding),
	}

	envVariables := &EnviornmentVariable{
		GO_ENV:       os.Getenv("GO_ENV"),
		DB_DRIVER:    dbDriver,
		DB_USER_NAME: os.Getenv("DB_USER_NAME"),
		DB_PASSWORD:  os.Getenv("DB_PASSWORD"),
		DB_NAME:      os.Getenv("DB_NAME"),
		DB_HOST:      dbHost,
		DB_PORT:      dbPort,
		DB_SSL_MODE:  getEnv("DB_SSL_MODE", "disable"),
		SQLITE_PATH:  getEnv("SQLITE_PATH", "chat.db"),
		PORT:         port,
		// HTTP
		ALLOWED_ORIGINS:     getEnv("ALLOWED_ORIGINS", "*"),
		RATE_LIMIT_REQUESTS: getEnvInt("RATE_LIMIT_REQUESTS", 120),
		// JWT
		JWT_SECRET: os.Getenv("JWT_SECRET"),
		JWT_ISSUER: os.Getenv("JWT_ISSUER"),
		// Redis
		REDIS_URL: os.Getenv("REDIS_URL"),
		// Spaces
		DO_SPACES_ACCESS_KEY: os.Getenv("DO_SPACES_ACCESS_KEY"),
		DO_SPACES_SECRET_KEY: os.Getenv("DO_SPACES_SECRET_KEY"),
		DO_SPACES_BUCKET:     os.Getenv("DO_SPACES_BUCKET"),
		DO_SPACES_REGION:     getEnv("DO_SPACES_REGION", "nyc3"),
		DO_SPACES_ENDPOINT:   os.Getenv("DO_SPACES_ENDPOINT"),
		// Answer Producer
		ANSWER_PRODUCER_URL:       os.Getenv("ANSWER_PRODUCER_URL"),
		ANSWER_PRODUCER_TOPIC_URL: os.Getenv("ANSWER_PRODUCER_TOPIC_URL"),
		ANSWER_PRODUCER_API_KEY:   os.Getenv("ANSWER_PRODUCER_API_KEY"),
		ANSWER_TIMEOUT:            time.Duration(getEnvInt("ANSWER_PRODUCER_TIMEOUT_SECONDS", 30)) * time.Second,
		ANSWER_STREAM_TIMEOUT:     time.Duration(getEnvInt("ANSWER_STREAM_TIMEOUT_SECONDS", 60)) * time.Second,
		// Summarizer
		SUMMARIZER_URL:     os.Getenv("SUMMARIZER_URL"),
		SUMMARIZER_API_KEY: os.Getenv("SUMMARIZER_API_KEY"),
		SUMMARIZER_MODEL:   os.Getenv("SUMMARIZER_MODEL"),
		Orchestration:      orchestration,
		CRON_ENABLED:       os.Getenv("CRON_ENABLED") != "false", // Default to enabled
	}

	return envVariables, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
