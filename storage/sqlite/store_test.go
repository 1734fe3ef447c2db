package sqlite

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
	"github.com/c0deZ3R0/go-offline-kit/storage"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	store, err := NewWithPath(path)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

func TestStoreContextCancellation(t *testing.T) {
	store := setupTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Immediately cancel the context

	err := store.Set(ctx, "k", []byte("v"))
	if err == nil {
		t.Fatal("expected error on cancelled context")
	}
	if err != context.Canceled {
		t.Errorf("expected context.Canceled error, got: %v", err)
	}
}

func TestStore_SetGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "cache/obj/orders:all", []byte(`{"orders":[]}`)); err != nil {
		t.Fatalf("Failed to set value: %v", err)
	}

	got, err := store.Get(ctx, "cache/obj/orders:all")
	if err != nil {
		t.Fatalf("Failed to get value: %v", err)
	}
	if string(got) != `{"orders":[]}` {
		t.Errorf("Expected stored value back, got %q", got)
	}
}

func TestStore_GetNotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected storage.ErrNotFound, got %v", err)
	}
}

func TestStore_SetOverwrites(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "k", []byte("first")); err != nil {
		t.Fatalf("Failed to set value: %v", err)
	}
	if err := store.Set(ctx, "k", []byte("second")); err != nil {
		t.Fatalf("Failed to overwrite value: %v", err)
	}

	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Failed to get value: %v", err)
	}
	if string(got) != "second" {
		t.Errorf("Expected overwritten value, got %q", got)
	}
}

func TestStore_Delete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Failed to set value: %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected storage.ErrNotFound after delete, got %v", err)
	}

	// Deleting an absent key is not an error
	if err := store.Delete(ctx, "k"); err != nil {
		t.Errorf("Expected no error deleting absent key, got %v", err)
	}
}

func TestStore_ListPrefix(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seed := map[string]string{
		"cache/metadata":       "index",
		"cache/obj/orders:all": "a",
		"cache/obj/products:1": "b",
		"sync/pending_actions": "queue",
	}
	for k, v := range seed {
		if err := store.Set(ctx, k, []byte(v)); err != nil {
			t.Fatalf("Failed to seed %s: %v", k, err)
		}
	}

	keys, err := store.List(ctx, "cache/obj/")
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	want := []string{"cache/obj/orders:all", "cache/obj/products:1"}
	if len(keys) != len(want) {
		t.Fatalf("Expected %d keys, got %d: %v", len(want), len(keys), keys)
	}
	for i, k := range want {
		if keys[i] != k {
			t.Errorf("Expected key %q at %d, got %q", k, i, keys[i])
		}
	}

	// Empty prefix lists everything
	all, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("Failed to list all: %v", err)
	}
	if len(all) != len(seed) {
		t.Errorf("Expected %d keys, got %d", len(seed), len(all))
	}
}

func TestStore_ListEscapesWildcards(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// The underscore must match literally, not as a LIKE wildcard.
	if err := store.Set(ctx, "sync/pending_actions", []byte("q")); err != nil {
		t.Fatalf("Failed to set value: %v", err)
	}
	if err := store.Set(ctx, "sync/pendingXactions", []byte("x")); err != nil {
		t.Fatalf("Failed to set value: %v", err)
	}

	keys, err := store.List(ctx, "sync/pending_")
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(keys) != 1 || keys[0] != "sync/pending_actions" {
		t.Errorf("Expected only the literal underscore match, got %v", keys)
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	ctx := context.Background()

	store, err := NewWithPath(path)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := store.Set(ctx, "k", []byte("survives")); err != nil {
		t.Fatalf("Failed to set value: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Failed to close store: %v", err)
	}

	reopened, err := NewWithPath(path)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Failed to get value after reopen: %v", err)
	}
	if string(got) != "survives" {
		t.Errorf("Expected value to survive reopen, got %q", got)
	}
}

func TestStore_Close(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.Close(); err != nil {
		t.Fatalf("Failed to close store: %v", err)
	}

	// Subsequent operations should fail
	if _, err := store.Get(ctx, "k"); !errors.Is(err, storage.ErrStoreClosed) {
		t.Errorf("Expected ErrStoreClosed from Get, got %v", err)
	}
	if err := store.Set(ctx, "k", []byte("v")); !errors.Is(err, storage.ErrStoreClosed) {
		t.Errorf("Expected ErrStoreClosed from Set, got %v", err)
	}
	if _, err := store.List(ctx, ""); !errors.Is(err, storage.ErrStoreClosed) {
		t.Errorf("Expected ErrStoreClosed from List, got %v", err)
	}

	// Closing again should be safe
	if err := store.Close(); err != nil {
		t.Errorf("Expected no error on second close, got %v", err)
	}
}

func TestStore_Config(t *testing.T) {
	config := &Config{
		Path:            filepath.Join(t.TempDir(), "config.db"),
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
	}

	store, err := New(config)
	if err != nil {
		t.Fatalf("Failed to create store with config: %v", err)
	}
	defer store.Close()

	// Test that we can get stats (which indicates connection pool is working)
	stats := store.Stats()
	if stats.MaxOpenConnections != 10 {
		t.Errorf("Expected MaxOpenConnections to be 10, got %d", stats.MaxOpenConnections)
	}
}

func TestStore_ConfigValidation(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("Expected error for nil config")
	}

	if _, err := New(&Config{}); err == nil {
		t.Error("Expected error for empty Path")
	}

	_, err := New(&Config{
		Path:      filepath.Join(t.TempDir(), "bad.db"),
		TableName: "kv; DROP TABLE kv",
	})
	if err == nil {
		t.Fatal("Expected error for invalid table name")
	}
	if syncErrors.CodeOf(err) != syncErrors.ErrCodeValidationFailure {
		t.Errorf("Expected validation failure code, got %v", err)
	}
}

func TestStore_WithLogging(t *testing.T) {
	// Create a buffer to capture log output
	var logBuffer bytes.Buffer
	logger := log.New(&logBuffer, "TEST: ", log.LstdFlags)

	config := &Config{
		Path:      filepath.Join(t.TempDir(), "logging.db"),
		Logger:    logger,
		TableName: "custom_kv",
	}

	store, err := New(config)
	if err != nil {
		t.Fatalf("Failed to create store with logging: %v", err)
	}
	defer store.Close()

	// Check that log messages were written
	logOutput := logBuffer.String()
	if !strings.Contains(logOutput, "Opening database") {
		t.Error("Expected 'Opening database' in log output")
	}
	if !strings.Contains(logOutput, "Connection pool configured") {
		t.Error("Expected 'Connection pool configured' in log output")
	}
	if !strings.Contains(logOutput, "Successfully initialized with table: custom_kv") {
		t.Error("Expected 'Successfully initialized' in log output")
	}
}

func TestStore_CustomTableName(t *testing.T) {
	config := &Config{
		Path:      filepath.Join(t.TempDir(), "table.db"),
		TableName: "offline_kv",
	}
	ctx := context.Background()

	store, err := New(config)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if err := store.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Failed to set value: %v", err)
	}
	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Failed to get value: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Expected value back, got %q", got)
	}
}

func TestStore_WALMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.db")
	ctx := context.Background()

	store, err := New(DefaultConfig(path))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if err := store.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Failed to set value in WAL mode: %v", err)
	}

	// WAL mode should create the -wal sidecar file alongside the database.
	if _, err := os.Stat(path + "-wal"); err != nil {
		t.Errorf("Expected WAL sidecar file to exist: %v", err)
	}
}
