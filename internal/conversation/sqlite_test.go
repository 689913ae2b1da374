package conversation

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.March, 14, 10, 0, 0, 0, time.UTC)

	session := Session{
		ID: "s1",
		Turns: []Turn{
			{Role: RoleUser, Content: "How many patients are there?"},
			{Role: RoleAssistant, Content: "There are **42** patients."},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.Put(ctx, session); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	loaded, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(loaded.Turns) != 2 {
		t.Fatalf("len(Turns) = %d", len(loaded.Turns))
	}
	if loaded.Turns[0].Role != RoleUser || loaded.Turns[1].Content != "There are **42** patients." {
		t.Fatalf("Turns = %+v", loaded.Turns)
	}
	if !loaded.UpdatedAt.Equal(now) {
		t.Fatalf("UpdatedAt = %v, want %v", loaded.UpdatedAt, now)
	}
}

func TestSQLiteStoreUpsertReplacesTurns(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	first := Session{ID: "s1", Turns: []Turn{{Role: RoleUser, Content: "one"}}, CreatedAt: now, UpdatedAt: now}
	if err := store.Put(ctx, first); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	first.Turns = append(first.Turns, Turn{Role: RoleAssistant, Content: "two"})
	first.UpdatedAt = now.Add(time.Minute)
	if err := store.Put(ctx, first); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	loaded, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(loaded.Turns) != 2 || loaded.Turns[1].Content != "two" {
		t.Fatalf("Turns = %+v", loaded.Turns)
	}
}

func TestSQLiteStoreGetMissingSession(t *testing.T) {
	store := newSQLiteStore(t)
	if _, err := store.Get(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStoreDelete(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := store.Put(ctx, Session{ID: "s1", UpdatedAt: now, CreatedAt: now}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "s1"); err != ErrNotFound {
		t.Fatalf("Get() after delete error = %v, want ErrNotFound", err)
	}

	// Deleting an absent session is not an error.
	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
}
