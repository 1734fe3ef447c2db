// Package storage defines the durable key-value contract shared by the
// cache tiers and the pending action queue. Implementations live in the
// sqlite and filestore subpackages; this package exists on its own so
// consumers can depend on the contract without pulling in a driver.
package storage

import (
	"context"
	"errors"
)

// Sentinel errors shared by all Store implementations.
var (
	// ErrNotFound is returned by Get when no value exists for the key.
	ErrNotFound = errors.New("storage: key not found")

	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("storage: store is closed")
)

// Store is a durable byte-oriented key-value store.
//
// Keys are opaque strings. Callers namespace them with slash-separated
// prefixes (for example "cache/metadata" or "sync/pending_actions") so
// several subsystems can share one store without colliding.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns the keys that begin with prefix, in ascending order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Close releases underlying resources. Closing twice is safe.
	Close() error
}
