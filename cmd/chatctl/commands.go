package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/database"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/model"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/services/cron"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func seedTopicsCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed-topics",
		Short: "Upsert routing topics from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			topics, err := database.LoadTopicFile(file)
			if err != nil {
				return err
			}
			c, err := openContainer()
			if err != nil {
				return err
			}
			defer c.Close()

			n, err := database.SeedTopics(cmd.Context(), c.Store.DB(), topics)
			if err != nil {
				return err
			}
			if err := c.Topics.InvalidateTopicList(cmd.Context()); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: topic cache not cleared: %v\n", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d topics\n", n)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "topics.yaml", "YAML file with a top-level topics list")
	return cmd
}

func summarizeCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "summarize <session-id>",
		Short: "Regenerate a session summary now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid session id: %w", err)
			}
			c, err := openContainer()
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			session, err := c.Summaries.Summarize(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "summary v%d (%d chars)\n%s\n",
				session.SummaryVersion, len(session.Summary), session.Summary)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Upper bound for the summarizer call")
	return cmd
}

func reapPendingCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "reap-pending",
		Short: "Fail user messages stuck in pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openContainer()
			if err != nil {
				return err
			}
			defer c.Close()

			n, err := reapPending(cmd.Context(), c.Conversations, olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reaped %d pending messages\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 15*time.Minute, "Minimum age of a pending message")
	return cmd
}

func reapPending(ctx context.Context, store database.ConversationStore, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("--older-than must be positive")
	}
	return store.FailStalePending(ctx, time.Now().Add(-olderThan), cron.AbandonedTurnReason)
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <session-id>",
		Short: "Print session counters as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid session id: %w", err)
			}
			c, err := openContainer()
			if err != nil {
				return err
			}
			defer c.Close()

			stats, err := sessionStats(cmd.Context(), c.Conversations, id)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), stats)
		},
	}
}

// SessionStats is the stats command output
type SessionStats struct {
	SessionID          uuid.UUID           `json:"session_id"`
	Status             model.SessionStatus `json:"status"`
	AssistantTurnCount int                 `json:"assistant_turn_count"`
	TotalMessageCount  int                 `json:"total_message_count"`
	StoredMessages     int64               `json:"stored_messages"`
	TotalTokens        int                 `json:"total_tokens"`
	LastTurnIndex      int                 `json:"last_turn_index"`
	SummaryVersion     int                 `json:"summary_version"`
	SummaryUpdatedAt   *time.Time          `json:"summary_updated_at,omitempty"`
	LastMessageAt      *time.Time          `json:"last_message_at,omitempty"`
}

func sessionStats(ctx context.Context, store database.ConversationStore, id uuid.UUID) (*SessionStats, error) {
	session, err := store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	_, stored, err := store.ListMessages(ctx, id, 1, 0)
	if err != nil {
		return nil, err
	}
	last, err := store.MaxTurnIndex(ctx, id)
	if err != nil {
		return nil, err
	}
	return &SessionStats{
		SessionID:          session.ID,
		Status:             session.Status,
		AssistantTurnCount: session.AssistantTurnCount,
		TotalMessageCount:  session.TotalMessageCount,
		StoredMessages:     stored,
		TotalTokens:        session.TotalTokens,
		LastTurnIndex:      last,
		SummaryVersion:     session.SummaryVersion,
		SummaryUpdatedAt:   session.SummaryUpdatedAt,
		LastMessageAt:      session.LastMessageAt,
	}, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
