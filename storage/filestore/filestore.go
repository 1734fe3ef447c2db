// Package filestore provides a file-backed implementation of the storage.Store
// interface, used as the large-object cache tier.
//
// Each key maps to a single file inside the store directory: the key is
// sanitized for filesystem safety and given a fixed ".cache" suffix.
// Sanitization is lossy, so List returns sanitized names; callers that need
// the original keys keep their own index.
package filestore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
	"github.com/c0deZ3R0/go-offline-kit/storage"
)

// Suffix appended to every sanitized key to form its file name.
const Suffix = ".cache"

// Operation constants for consistent error reporting
const (
	opOpen   = "filestore.Open"
	opGet    = "filestore.Get"
	opSet    = "filestore.Set"
	opDelete = "filestore.Delete"
	opList   = "filestore.List"
)

// unsafeChars are replaced with '_' when a key becomes a file name.
const unsafeChars = `/\:*?"<>| `

// Store implements storage.Store with one file per key in a flat directory.
type Store struct {
	dir    string
	mu     sync.RWMutex
	closed bool
}

// Compile-time check to ensure Store satisfies the storage.Store interface
var _ storage.Store = (*Store)(nil)

// New creates the store directory if needed and returns a Store over it.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, syncErrors.NewValidationError(opOpen, os.ErrInvalid)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, syncErrors.WrapOpComponent(err, opOpen, "storage/filestore")
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory backing this store.
func (s *Store) Dir() string {
	return s.dir
}

// Get returns the value stored under key, or storage.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, storage.ErrStoreClosed
	}
	s.mu.RUnlock()

	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, syncErrors.WrapOpComponent(err, opGet, "storage/filestore")
	}
	return data, nil
}

// Set stores value under key. The write goes through a temp file followed
// by a rename so readers never observe a partially written value.
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

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return syncErrors.WrapOpComponent(err, opSet, "storage/filestore")
	}

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return syncErrors.WrapOpComponent(err, opSet, "storage/filestore")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return syncErrors.WrapOpComponent(err, opSet, "storage/filestore")
	}

	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		os.Remove(tmp.Name())
		return syncErrors.WrapOpComponent(err, opSet, "storage/filestore")
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

	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return syncErrors.WrapOpComponent(err, opDelete, "storage/filestore")
	}
	return nil
}

// List returns the sanitized key names whose sanitized form begins with the
// sanitized prefix, in ascending order. Because sanitization maps characters
// one to one, a logical key prefix matches the files its keys produced.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, storage.ErrStoreClosed
	}
	s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, syncErrors.WrapOpComponent(err, opList, "storage/filestore")
	}

	want := SanitizeKey(prefix)
	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, Suffix) {
			continue
		}
		name = strings.TrimSuffix(name, Suffix)
		if strings.HasPrefix(name, want) {
			keys = append(keys, name)
		}
	}
	return keys, nil
}

// Close marks the store closed. Files on disk are left untouched.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// path maps a logical key to its file inside the store directory.
func (s *Store) path(key string) string {
	return filepath.Join(s.dir, SanitizeKey(key)+Suffix)
}

// SanitizeKey replaces filesystem-unsafe characters in key with '_' so the
// result is usable as a file name. The mapping is stable across runs.
func SanitizeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(unsafeChars, r) {
			b.WriteRune('_')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
