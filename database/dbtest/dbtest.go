// Package dbtest provides an in-memory SQLite database for tests.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/database"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// New opens a migrated, isolated in-memory database and closes it with the test.
func New(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	store, err := database.OpenSQLite(dsn, nil)
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	if err := store.Init(); err != nil {
		t.Fatalf("failed to migrate sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store.DB()
}

// NewStore returns a conversation store over a fresh in-memory database.
func NewStore(t *testing.T) (*database.GORMConversationStore, *gorm.DB) {
	t.Helper()
	db := New(t)
	return database.NewConversationStore(db), db
}
