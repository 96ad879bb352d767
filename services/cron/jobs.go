package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/database"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/model"
)

// AbandonedTurnReason is recorded on user messages failed by the reaper
const AbandonedTurnReason = "turn abandoned"

// ReapPendingMessages fails user messages that stayed pending longer than the
// TTL, e.g. after a crash between the user and assistant writes.
func (m *CronManager) ReapPendingMessages(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	logID := m.logJobStart(JobReapPending)

	cutoff := time.Now().Add(-m.config.PendingTTL)
	reaped, err := m.store.FailStalePending(ctx, cutoff, AbandonedTurnReason)
	if err != nil {
		m.logJobError(logID, JobReapPending, err)
		return 0, err
	}

	m.logJobComplete(logID, JobReapPending,
		fmt.Sprintf("Failed %d pending messages older than %s", reaped, m.config.PendingTTL),
		map[string]interface{}{"reaped": reaped, "cutoff": cutoff.UTC().Format(time.RFC3339)})
	return reaped, nil
}

// SweepSummaries enqueues sessions past a summary threshold whose summary is
// older than their last message
func (m *CronManager) SweepSummaries(ctx context.Context) (int, error) {
	if m.summaries == nil {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	logID := m.logJobStart(JobSummarySweep)

	ids, err := m.store.ListSummaryCandidates(ctx, database.SummaryCandidateFilter{
		TurnInterval:   m.config.TurnInterval,
		TokenThreshold: m.config.TokenThreshold,
		Limit:          m.config.SweepLimit,
	})
	if err != nil {
		m.logJobError(logID, JobSummarySweep, err)
		return 0, err
	}

	queued := 0
	for _, id := range ids {
		if m.summaries.Enqueue(id) {
			queued++
		}
	}

	m.logJobComplete(logID, JobSummarySweep,
		fmt.Sprintf("Queued %d of %d candidate sessions", queued, len(ids)),
		map[string]interface{}{"candidates": len(ids), "queued": queued})
	return queued, nil
}

// PruneCronLogs deletes job logs older than the retention window
func (m *CronManager) PruneCronLogs(ctx context.Context) (int64, error) {
	logID := m.logJobStart(JobPruneCronLogs)

	cutoff := time.Now().Add(-m.config.LogRetention)
	res := m.db.WithContext(ctx).Where("started_at < ?", cutoff).Delete(&model.CronJobLog{})
	if res.Error != nil {
		err := fmt.Errorf("failed to prune job logs: %w", res.Error)
		m.logJobError(logID, JobPruneCronLogs, err)
		return 0, err
	}

	m.logJobComplete(logID, JobPruneCronLogs,
		fmt.Sprintf("Deleted %d job logs", res.RowsAffected),
		map[string]interface{}{"deleted": res.RowsAffected})
	return res.RowsAffected, nil
}
