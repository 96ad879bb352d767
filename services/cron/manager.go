package cron

import (
	"context"
	"log"
	"time"

	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/database"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/model"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Job names, also used as CronJobLog.JobName
const (
	JobReapPending   = "reap_pending_messages"
	JobSummarySweep  = "summary_sweep"
	JobPruneCronLogs = "prune_cron_logs"
)

// SummaryQueue accepts sessions for background summarization
type SummaryQueue interface {
	Enqueue(sessionID uuid.UUID) bool
}

// Config holds the job tunables
type Config struct {
	PendingTTL time.Duration
	// MinPendingTTL is the longest a live turn keeps its user message
	// pending; PendingTTL is raised to it
	MinPendingTTL  time.Duration
	TurnInterval   int
	TokenThreshold int
	SweepLimit     int
	LogRetention   time.Duration
}

// CronManager manages all scheduled cron jobs
type CronManager struct {
	cron      *cron.Cron
	db        *gorm.DB
	store     database.ConversationStore
	summaries SummaryQueue
	config    Config
}

// NewCronManager creates a new cron manager. summaries may be nil, which
// disables the summary sweep.
func NewCronManager(db *gorm.DB, store database.ConversationStore, summaries SummaryQueue, config Config) *CronManager {
	if config.PendingTTL <= 0 {
		config.PendingTTL = 15 * time.Minute
	}
	if config.PendingTTL < config.MinPendingTTL {
		log.Printf("[Cron] Warning: pending TTL %s is shorter than a turn can run; using %s", config.PendingTTL, config.MinPendingTTL)
		config.PendingTTL = config.MinPendingTTL
	}
	if config.SweepLimit <= 0 {
		config.SweepLimit = 100
	}
	if config.LogRetention <= 0 {
		config.LogRetention = 30 * 24 * time.Hour
	}

	// Create cron with seconds precision
	c := cron.New(cron.WithSeconds())

	return &CronManager{
		cron:      c,
		db:        db,
		store:     store,
		summaries: summaries,
		config:    config,
	}
}

// Start starts all cron jobs
func (m *CronManager) Start() error {
	log.Println("Starting cron jobs...")

	if err := m.registerJobs(); err != nil {
		return err
	}

	m.cron.Start()

	log.Println("Cron jobs started successfully")
	return nil
}

// Stop stops all cron jobs and waits for running ones
func (m *CronManager) Stop() {
	log.Println("Stopping cron jobs...")
	ctx := m.cron.Stop()
	<-ctx.Done()
	log.Println("Cron jobs stopped")
}

// registerJobs registers all cron jobs with their schedules
func (m *CronManager) registerJobs() error {
	// 1. Every 5 minutes: fail user messages abandoned mid-turn
	if _, err := m.cron.AddFunc("0 */5 * * * *", func() {
		m.ReapPendingMessages(context.Background())
	}); err != nil {
		return err
	}

	// 2. Every 30 minutes: catch sessions whose summary trigger was dropped
	if m.summaries != nil {
		if _, err := m.cron.AddFunc("0 */30 * * * *", func() {
			m.SweepSummaries(context.Background())
		}); err != nil {
			return err
		}
	}

	// 3. Daily at 2 AM: prune old job logs
	if _, err := m.cron.AddFunc("0 0 2 * * *", func() {
		m.PruneCronLogs(context.Background())
	}); err != nil {
		return err
	}

	log.Println("All cron jobs registered successfully")
	return nil
}

// logJobStart records the start of a run and returns its log row id
func (m *CronManager) logJobStart(jobName string) uint {
	log.Printf("[CRON] Starting job: %s at %s", jobName, time.Now().Format(time.RFC3339))

	cronLog := model.CronJobLog{
		JobName:   jobName,
		Status:    model.CronJobStatusRunning,
		StartedAt: time.Now(),
		Metadata:  datatypes.JSONMap{},
	}
	if err := m.db.Create(&cronLog).Error; err != nil {
		log.Printf("[CRON] Warning: failed to record start of %s: %v", jobName, err)
		return 0
	}
	return cronLog.ID
}

// logJobComplete logs successful completion of a cron job
func (m *CronManager) logJobComplete(id uint, jobName string, message string, metadata map[string]interface{}) {
	log.Printf("[CRON] Completed job: %s - %s", jobName, message)
	m.finishLog(id, map[string]interface{}{
		"status":   model.CronJobStatusCompleted,
		"message":  message,
		"metadata": datatypes.JSONMap(metadata),
	})
}

// logJobError logs a cron job error
func (m *CronManager) logJobError(id uint, jobName string, err error) {
	log.Printf("[CRON] Error in job: %s - %v", jobName, err)
	m.finishLog(id, map[string]interface{}{
		"status":    model.CronJobStatusFailed,
		"error_msg": err.Error(),
	})
}

func (m *CronManager) finishLog(id uint, fields map[string]interface{}) {
	if id == 0 {
		return
	}

	var entry model.CronJobLog
	if err := m.db.First(&entry, id).Error; err != nil {
		log.Printf("[CRON] Warning: job log %d not found: %v", id, err)
		return
	}

	now := time.Now()
	fields["completed_at"] = now
	fields["duration"] = int(now.Sub(entry.StartedAt) / time.Millisecond)
	if err := m.db.Model(&model.CronJobLog{}).Where("id = ?", id).Updates(fields).Error; err != nil {
		log.Printf("[CRON] Warning: failed to update job log %d: %v", id, err)
	}
}
