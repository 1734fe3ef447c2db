// Package offlinekit keeps client applications usable while disconnected.
//
// Writes are captured as pending actions in a durable FIFO queue and
// replayed against the backend once connectivity returns; reads go through
// a tiered cache so previously fetched data stays available offline. The
// Manager ties the pieces together: it drains the queue on demand or on a
// timer, reacts to connectivity transitions and records a bounded
// diagnostic event feed.
package offlinekit

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ActionType names a kind of offline mutation. The set is open: callers may
// enqueue their own types as long as an executor is registered for them.
type ActionType string

// Action types with built-in executors.
const (
	ActionUpdateOrderStatus ActionType = "update_order_status"
	ActionCreateProduct     ActionType = "create_product"
	ActionUpdateProduct     ActionType = "update_product"
)

// PendingAction is one queued mutation awaiting replay against the remote.
// The payload is kept as raw JSON so the queue never depends on the caller's
// types; the registered executor decodes it at dispatch time.
type PendingAction struct {
	ID         string          `json:"id"`
	Type       ActionType      `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"createdAt"`
	RetryCount int             `json:"retryCount"`
	MaxRetries int             `json:"maxRetries"`
}

// Remote is the backend the kit replays actions against and queries for
// fresh data. Implementations must be safe for concurrent use.
type Remote interface {
	// Mutation invokes the named server function with the given arguments
	// and returns the raw JSON response.
	Mutation(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)

	// Query reads the named server function without side effects.
	Query(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)

	// Close releases any resources held by the remote.
	Close() error
}

// Status is a point-in-time snapshot of the manager.
type Status struct {
	PendingActions int       `json:"pendingActions"`
	Syncing        bool      `json:"syncing"`
	Online         bool      `json:"online"`
	LastSync       time.Time `json:"lastSync"`
}

// SyncResult summarizes one drain cycle.
type SyncResult struct {
	// Attempted is the number of actions dispatched this cycle. It falls
	// short of the snapshot size only when the context dies mid-cycle.
	Attempted int

	// Succeeded counts actions executed and removed from the queue.
	Succeeded int

	// Failed counts actions whose execution did not succeed this cycle,
	// whether retained for retry or dropped.
	Failed int

	// Dropped counts actions removed without success: retry ceiling
	// exhausted or no executor registered for the type.
	Dropped int

	// Errors holds the per-action failures, in dispatch order.
	Errors []error

	StartTime time.Time
	Duration  time.Duration
}

// Sentinel errors returned by Manager guards. They signal conditions the
// caller is expected to tolerate, not failures of the cycle itself.
var (
	// ErrOffline is returned when a sync is requested while the
	// connectivity monitor reports no connection.
	ErrOffline = errors.New("offlinekit: offline")

	// ErrSyncInProgress is returned when a sync is requested while a
	// drain cycle is already running.
	ErrSyncInProgress = errors.New("offlinekit: sync already in progress")

	// ErrManagerClosed is returned by operations on a closed manager.
	ErrManagerClosed = errors.New("offlinekit: manager is closed")
)
