package services

import (
	"context"
	"testing"

	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/database/dbtest"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLifecycle(t *testing.T) {
	store, _ := dbtest.NewStore(t)
	svc := NewSessionService(store)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, CreateSessionRequest{UserID: "u1", Title: "  Planning  "})
	require.NoError(t, err)
	assert.Equal(t, "Planning", session.Title)
	assert.Equal(t, model.SessionStatusActive, session.Status)

	_, err = svc.GetSession(ctx, session.ID, "u2")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	title := "Renamed"
	updated, err := svc.UpdateSession(ctx, session.ID, "u1", UpdateSessionRequest{Title: &title, Metadata: map[string]interface{}{"pinned": true}})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, true, updated.Metadata["pinned"])

	archived, err := svc.ArchiveSession(ctx, session.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusArchived, archived.Status)

	list, err := svc.ListSessions(ctx, "u1", model.SessionStatusActive, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, list.Total)

	restored, err := svc.RestoreSession(ctx, session.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusActive, restored.Status)

	require.ErrorIs(t, svc.DeleteSession(ctx, session.ID, "u2"), ErrSessionNotFound)
	require.NoError(t, svc.DeleteSession(ctx, session.ID, "u1"))
	_, err = svc.GetSession(ctx, session.ID, "u1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestListSessionsAndMessages(t *testing.T) {
	store, _ := dbtest.NewStore(t)
	svc := NewSessionService(store)
	ctx := context.Background()

	first := seedTurns(t, store, 3)
	for i := 0; i < 2; i++ {
		_, err := svc.CreateSession(ctx, CreateSessionRequest{UserID: "u1"})
		require.NoError(t, err)
	}
	_, err := svc.CreateSession(ctx, CreateSessionRequest{UserID: "someone-else"})
	require.NoError(t, err)

	list, err := svc.ListSessions(ctx, "u1", "", 2, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, list.Total)
	assert.Len(t, list.Sessions, 2)

	page, err := svc.ListMessages(ctx, first.ID, "u1", 4, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 6, page.Total)
	require.Len(t, page.Messages, 4)
	assert.Equal(t, 3, page.Messages[0].TurnIndex)

	_, err = svc.ListMessages(ctx, uuid.New(), "u1", 10, 0)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
