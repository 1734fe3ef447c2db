package offlinekit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
	"github.com/c0deZ3R0/go-offline-kit/eventlog"
	"github.com/c0deZ3R0/go-offline-kit/logging"
	"github.com/c0deZ3R0/go-offline-kit/storage"
)

// QueueKey is the storage key the full pending action list is persisted
// under. The list is written as one JSON blob on every mutation; queues are
// expected to hold tens of actions, so write amplification is acceptable.
const QueueKey = "sync/pending_actions"

// DefaultMaxRetries is the retry ceiling stamped on new actions when the
// queue is not configured with one.
const DefaultMaxRetries = 3

// QueueConfig configures an ActionQueue.
type QueueConfig struct {
	// Store persists the queue blob. Required.
	Store storage.Store

	// Events receives queue lifecycle events. Optional.
	Events *eventlog.Log

	// Logger defaults to the shared logger with a queue component tag.
	Logger *logging.Logger

	// MaxRetries is stamped on new actions. Defaults to DefaultMaxRetries.
	MaxRetries int
}

func (c *QueueConfig) setDefaults() {
	if c.Logger == nil {
		c.Logger = logging.WithComponent(logging.Component("queue"))
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
}

// ActionQueue is the durable FIFO of pending actions. The in-memory list is
// authoritative; every mutation rewrites the persisted blob so a restart
// resumes exactly where the process left off.
type ActionQueue struct {
	store      storage.Store
	events     *eventlog.Log
	logger     *logging.Logger
	maxRetries int

	mu      sync.RWMutex
	actions []PendingAction
}

// NewActionQueue creates a queue backed by the configured store and loads
// any previously persisted actions. A corrupt blob is logged and discarded
// rather than blocking startup.
func NewActionQueue(config *QueueConfig) (*ActionQueue, error) {
	if config == nil {
		return nil, syncErrors.NewValidationError(syncErrors.OpLoad, fmt.Errorf("config cannot be nil"))
	}
	if config.Store == nil {
		return nil, syncErrors.NewValidationError(syncErrors.OpLoad, fmt.Errorf("Store is required"))
	}
	config.setDefaults()

	q := &ActionQueue{
		store:      config.Store,
		events:     config.Events,
		logger:     config.Logger,
		maxRetries: config.MaxRetries,
	}
	if err := q.load(context.Background()); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *ActionQueue) load(ctx context.Context) error {
	data, err := q.store.Get(ctx, QueueKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return syncErrors.WrapOpComponent(err, syncErrors.OpLoad, "queue")
	}

	var actions []PendingAction
	if err := json.Unmarshal(data, &actions); err != nil {
		q.logger.Warn("Pending action blob corrupt, starting empty",
			slog.String("error", err.Error()),
		)
		return nil
	}
	q.actions = actions
	return nil
}

// persistLocked rewrites the queue blob. Callers must hold q.mu.
func (q *ActionQueue) persistLocked(ctx context.Context) error {
	data, err := json.Marshal(q.actions)
	if err != nil {
		return syncErrors.NewSerializationError(syncErrors.OpStore, err)
	}
	if err := q.store.Set(ctx, QueueKey, data); err != nil {
		return syncErrors.WrapOpComponent(err, syncErrors.OpStore, "queue")
	}
	return nil
}

// Enqueue serializes payload and appends a new action with a fresh ID and a
// zero retry count. The append is rolled back if the blob cannot be
// persisted, so a returned action is always durable.
func (q *ActionQueue) Enqueue(ctx context.Context, t ActionType, payload any) (PendingAction, error) {
	if t == "" {
		return PendingAction{}, syncErrors.NewValidationError(syncErrors.OpEnqueue, fmt.Errorf("action type is required"))
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return PendingAction{}, syncErrors.NewSerializationError(syncErrors.OpEnqueue, err)
	}

	action := PendingAction{
		ID:         uuid.NewString(),
		Type:       t,
		Payload:    data,
		CreatedAt:  time.Now(),
		MaxRetries: q.maxRetries,
	}

	q.mu.Lock()
	q.actions = append(q.actions, action)
	if err := q.persistLocked(ctx); err != nil {
		q.actions = q.actions[:len(q.actions)-1]
		q.mu.Unlock()
		return PendingAction{}, err
	}
	q.mu.Unlock()

	if q.events != nil {
		q.events.Record(eventlog.ActionQueued, fmt.Sprintf("%s (%s)", action.Type, action.ID), true, "")
	}
	q.logger.Debug("Action queued",
		slog.String("id", action.ID),
		slog.String("action_type", string(action.Type)),
	)
	return action, nil
}

// Remove deletes the action with the given ID. Removing an unknown ID is
// not an error.
func (q *ActionQueue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, action := range q.actions {
		if action.ID == id {
			q.actions = append(q.actions[:i], q.actions[i+1:]...)
			return q.persistLocked(ctx)
		}
	}
	return nil
}

// ClearAll drops every pending action.
func (q *ActionQueue) ClearAll(ctx context.Context) error {
	q.mu.Lock()
	removed := len(q.actions)
	q.actions = nil
	err := q.persistLocked(ctx)
	q.mu.Unlock()

	if err != nil {
		return err
	}
	if q.events != nil {
		q.events.Record(eventlog.CacheCleared, fmt.Sprintf("%d pending actions removed", removed), true, "")
	}
	q.logger.Info("Pending actions cleared", slog.Int("count", removed))
	return nil
}

// applyDrain commits the outcome of a drain cycle in one persisted write:
// succeeded and dropped actions are removed, retried ones get their updated
// retry counts. Actions enqueued while the cycle ran are untouched.
func (q *ActionQueue) applyDrain(ctx context.Context, removed []string, retried []PendingAction) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	drop := make(map[string]struct{}, len(removed))
	for _, id := range removed {
		drop[id] = struct{}{}
	}
	bump := make(map[string]PendingAction, len(retried))
	for _, action := range retried {
		bump[action.ID] = action
	}

	kept := q.actions[:0]
	for _, action := range q.actions {
		if _, ok := drop[action.ID]; ok {
			continue
		}
		if updated, ok := bump[action.ID]; ok {
			action = updated
		}
		kept = append(kept, action)
	}
	q.actions = kept

	return q.persistLocked(ctx)
}

// ListByType returns copies of the pending actions with the given type, in
// queue order.
func (q *ActionQueue) ListByType(t ActionType) []PendingAction {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var out []PendingAction
	for _, action := range q.actions {
		if action.Type == t {
			out = append(out, action)
		}
	}
	return out
}

// HasPending reports whether any action of the given type is queued.
func (q *ActionQueue) HasPending(t ActionType) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, action := range q.actions {
		if action.Type == t {
			return true
		}
	}
	return false
}

// Len returns the number of pending actions.
func (q *ActionQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.actions)
}

// Snapshot returns a copy of the queue in FIFO order. Drain cycles work off
// a snapshot so concurrent enqueues are picked up on the next cycle instead
// of extending the current one.
func (q *ActionQueue) Snapshot() []PendingAction {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]PendingAction, len(q.actions))
	copy(out, q.actions)
	return out
}
