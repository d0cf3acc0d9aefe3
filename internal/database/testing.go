package database

import (
	"context"
	"testing"
)

// NewTestStore opens a migrated in-memory SQLite store closed at test end
func NewTestStore(t testing.TB) *SQLite {
	t.Helper()
	store, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		t.Fatalf("failed to migrate test database: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Logf("warning: failed to close test database: %v", err)
		}
	})
	return store
}
