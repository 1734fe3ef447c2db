// Package sqlite provides a SQLite implementation of the storage.Store interface.
//
// It is the small-object tier of the offline kit: cache entries below the
// size threshold, the cache metadata index and the pending action queue all
// live in a single database file, namespaced by key prefix.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
	"github.com/c0deZ3R0/go-offline-kit/storage"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// Operation constants for consistent error reporting
const (
	opOpen   = "sqlite.Open"
	opGet    = "sqlite.Get"
	opSet    = "sqlite.Set"
	opDelete = "sqlite.Delete"
	opList   = "sqlite.List"
)

// validTableName guards the identifier interpolated into queries.
var validTableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config holds configuration options for the Store.
//
// Production-ready defaults are applied by DefaultConfig() including:
//   - WAL mode enabled for better concurrency
//   - Connection pool with 25 max open, 5 max idle connections
//   - Connection lifetimes of 1 hour max, 5 minutes max idle
type Config struct {
	// Path is the filesystem path of the SQLite database file.
	// The file is created on first open if it does not exist.
	Path string

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// This is recommended for production use and is enabled by DefaultConfig.
	EnableWAL bool

	// BusyTimeout is how long a connection waits on a locked database
	// before giving up. Defaults to 5 seconds.
	BusyTimeout time.Duration

	// Logger is an optional logger for logging internal operations and errors.
	// If nil, logging is disabled by default (logs to io.Discard).
	Logger *log.Logger

	// TableName is the name of the key-value table.
	// Defaults to "kv" if empty.
	TableName string

	// Connection pool settings for production workloads.
	// Defaults: MaxOpen=25, MaxIdle=5, Lifetime=1h, IdleTime=5m
	MaxOpenConns    int           // Default: 25 - Maximum number of open connections
	MaxIdleConns    int           // Default: 5  - Maximum number of idle connections
	ConnMaxLifetime time.Duration // Default: 1h - Maximum lifetime of connections
	ConnMaxIdleTime time.Duration // Default: 5m - Maximum idle time before closing
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.TableName == "" {
		c.TableName = "kv"
	}
	if c.Logger == nil {
		c.Logger = log.New(io.Discard, "", 0) // Disable logging by default
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = 5 * time.Second
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
}

// dsn builds the driver connection string from Path and the pragma options.
func (c *Config) dsn() string {
	params := []string{fmt.Sprintf("_busy_timeout=%d", c.BusyTimeout.Milliseconds())}
	if c.EnableWAL {
		params = append(params, "_journal_mode=WAL")
	}
	return "file:" + c.Path + "?" + strings.Join(params, "&")
}

// DefaultConfig returns a Config with production-ready defaults for SQLite.
//
// Default settings include:
//   - WAL mode enabled for better concurrency
//   - Connection pool: 25 max open, 5 max idle connections
//   - Connection lifetime: 1 hour max, 5 minutes max idle
//   - Table name: "kv"
//   - Logging disabled (to io.Discard)
func DefaultConfig(path string) *Config {
	config := &Config{
		Path: path,
		// Enable WAL mode by default for production readiness
		EnableWAL: true,
	}
	config.setDefaults()
	return config
}

// NewWithPath is a convenience constructor using DefaultConfig.
func NewWithPath(path string) (*Store, error) {
	return New(DefaultConfig(path))
}

// Store implements storage.Store on a single SQLite database file.
type Store struct {
	db        *sql.DB
	mu        sync.RWMutex
	closed    bool
	logger    *log.Logger
	tableName string
}

// Compile-time check to ensure Store satisfies the storage.Store interface
var _ storage.Store = (*Store)(nil)

// New creates a new Store from a Config.
func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	// Apply defaults
	config.setDefaults()

	if config.Path == "" {
		return nil, syncErrors.NewValidationError(opOpen, fmt.Errorf("Path is required"))
	}
	if !validTableName.MatchString(config.TableName) {
		return nil, syncErrors.NewValidationError(opOpen, fmt.Errorf("invalid table name %q", config.TableName))
	}

	config.Logger.Printf("Opening database: %s (wal=%v)", config.Path, config.EnableWAL)

	db, err := sql.Open("sqlite3", config.dsn())
	if err != nil {
		return nil, syncErrors.WrapOpComponent(err, opOpen, "storage/sqlite")
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	config.Logger.Printf("Connection pool configured: max_open=%d max_idle=%d lifetime=%s idle_time=%s",
		config.MaxOpenConns, config.MaxIdleConns, config.ConnMaxLifetime, config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, syncErrors.WrapOpComponent(err, opOpen, "storage/sqlite")
	}

	store := &Store{
		db:        db,
		logger:    config.Logger,
		tableName: config.TableName,
	}

	if err := store.setupSchema(); err != nil {
		db.Close()
		return nil, syncErrors.WrapOpComponent(err, opOpen, "storage/sqlite")
	}

	config.Logger.Printf("Successfully initialized with table: %s", config.TableName)
	return store, nil
}

// setupSchema creates the key-value table if it doesn't exist.
func (s *Store) setupSchema() error {
	query := fmt.Sprintf(`
    CREATE TABLE IF NOT EXISTS %s (
        key         TEXT PRIMARY KEY,
        value       BLOB NOT NULL,
        updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );`, s.tableName)
	_, err := s.db.Exec(query)
	return err
}

// Get returns the value stored under key, or storage.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, storage.ErrStoreClosed
	}
	s.mu.RUnlock()

	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = ?`, s.tableName)

	var value []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, syncErrors.WrapOpComponent(err, opGet, "storage/sqlite")
	}
	return value, nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	// Check for context cancellation at start
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return storage.ErrStoreClosed
	}
	s.mu.RUnlock()

	query := fmt.Sprintf(`INSERT INTO %s (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`, s.tableName)

	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return syncErrors.WrapOpComponent(err, opSet, "storage/sqlite")
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return storage.ErrStoreClosed
	}
	s.mu.RUnlock()

	query := fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, s.tableName)

	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return syncErrors.WrapOpComponent(err, opDelete, "storage/sqlite")
	}
	return nil
}

// List returns all keys beginning with prefix, in ascending order.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, storage.ErrStoreClosed
	}
	s.mu.RUnlock()

	query := fmt.Sprintf(`SELECT key FROM %s WHERE key LIKE ? ESCAPE '\' ORDER BY key ASC`, s.tableName)

	rows, err := s.db.QueryContext(ctx, query, escapeLike(prefix)+"%")
	if err != nil {
		return nil, syncErrors.WrapOpComponent(err, opList, "storage/sqlite")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, syncErrors.WrapOpComponent(err, opList, "storage/sqlite")
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, syncErrors.WrapOpComponent(err, opList, "storage/sqlite")
	}
	return keys, nil
}

// escapeLike escapes LIKE wildcards so the prefix matches literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// Stats returns database statistics for monitoring
func (s *Store) Stats() sql.DBStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return sql.DBStats{}
	}

	return s.db.Stats()
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.logger.Printf("Store closed")
	return s.db.Close()
}
