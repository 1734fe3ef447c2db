package offlinekit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c0deZ3R0/go-offline-kit/cache"
	"github.com/c0deZ3R0/go-offline-kit/connectivity"
	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
	"github.com/c0deZ3R0/go-offline-kit/eventlog"
	"github.com/c0deZ3R0/go-offline-kit/logging"
	"github.com/c0deZ3R0/go-offline-kit/storage"
)

// backgroundSyncTimeout bounds drains that are not driven by a caller
// context: enqueue triggers, reconnect triggers and auto sync ticks.
const backgroundSyncTimeout = 30 * time.Second

// Manager orchestrates the kit: it drains the pending action queue against
// the remote, serves cached reads, reacts to connectivity transitions and
// keeps the diagnostic event feed. Build one with a Builder.
type Manager struct {
	queue    *ActionQueue
	registry *Registry
	remote   Remote
	events   *eventlog.Log
	monitor  *connectivity.Monitor
	cache    *cache.Cache
	metrics  MetricsCollector
	logger   *logging.Logger

	store     storage.Store
	fileStore storage.Store

	autoSyncInterval time.Duration

	mu           sync.RWMutex
	closed       bool
	syncing      bool
	lastSync     time.Time
	autoSyncStop chan struct{}
}

// Enqueue records a mutation for later replay and returns the durable
// action. When the manager believes it is online, a background sync is
// kicked off immediately so the action does not wait for the next trigger.
func (m *Manager) Enqueue(ctx context.Context, t ActionType, payload any) (PendingAction, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return PendingAction{}, ErrManagerClosed
	}
	m.mu.RUnlock()

	action, err := m.queue.Enqueue(ctx, t, payload)
	if err != nil {
		return PendingAction{}, err
	}

	if m.online() {
		m.scheduleSync("enqueue")
	}
	return action, nil
}

// Sync runs one drain cycle: it snapshots the queue, dispatches each action
// in FIFO order and commits the outcome in a single persisted write.
// Failed actions wait for the next cycle; actions past their retry ceiling
// and actions without a registered executor are dropped. Guard conditions
// return ErrManagerClosed, ErrOffline or ErrSyncInProgress; an empty queue
// returns an empty result.
func (m *Manager) Sync(ctx context.Context) (*SyncResult, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if !m.onlineLocked() {
		m.mu.Unlock()
		return nil, ErrOffline
	}
	if m.syncing {
		m.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	m.syncing = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.syncing = false
		m.mu.Unlock()
	}()

	return m.drain(ctx), nil
}

// drain executes one cycle over a queue snapshot. Actions enqueued while
// the cycle runs are left for the next one.
func (m *Manager) drain(ctx context.Context) *SyncResult {
	result := &SyncResult{
		StartTime: time.Now(),
	}
	defer func() {
		result.Duration = time.Since(result.StartTime)
	}()

	snapshot := m.queue.Snapshot()
	if len(snapshot) == 0 {
		return result
	}

	m.events.Record(eventlog.SyncStarted, fmt.Sprintf("%d pending actions", len(snapshot)), true, "")
	m.logger.InfoContext(ctx, "Drain cycle started", slog.Int("pending", len(snapshot)))

	var removed []string
	var retried []PendingAction

	for _, action := range snapshot {
		// A cancelled cycle stops dispatching; actions not yet attempted
		// keep their retry budget for the next one.
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("drain interrupted: %w", err))
			m.logger.WarnContext(ctx, "Drain interrupted, remaining actions stay queued",
				slog.Int("remaining", len(snapshot)-result.Attempted))
			break
		}
		result.Attempted++

		executor, ok := m.registry.Get(action.Type)
		if !ok {
			err := syncErrors.NewExecutionError(syncErrors.OpExecute, false,
				fmt.Errorf("no executor registered for action type %q", action.Type))
			removed = append(removed, action.ID)
			result.Failed++
			result.Dropped++
			result.Errors = append(result.Errors, fmt.Errorf("action %s: %w", action.ID, err))
			m.events.Record(eventlog.ActionFailed,
				fmt.Sprintf("%s (%s) dropped: no executor registered", action.Type, action.ID),
				false, err.Error())
			m.logger.WarnContext(ctx, "Dropping action with no registered executor",
				slog.String("id", action.ID),
				slog.String("action_type", string(action.Type)),
			)
			continue
		}

		err := executor(ctx, m.remote, action)
		if err == nil {
			removed = append(removed, action.ID)
			result.Succeeded++
			m.events.Record(eventlog.ActionExecuted,
				fmt.Sprintf("%s (%s)", action.Type, action.ID), true, "")
			m.logger.DebugContext(ctx, "Action executed",
				slog.String("id", action.ID),
				slog.String("action_type", string(action.Type)),
			)
			continue
		}

		result.Failed++
		result.Errors = append(result.Errors, fmt.Errorf("action %s (%s): %w", action.ID, action.Type, err))

		action.RetryCount++
		if action.RetryCount > action.MaxRetries {
			removed = append(removed, action.ID)
			result.Dropped++
			m.events.Record(eventlog.ActionFailed,
				fmt.Sprintf("%s (%s) dropped after %d failed attempts", action.Type, action.ID, action.RetryCount),
				false, err.Error())
			m.logger.LogError(ctx, err, "Action dropped after exhausting retries",
				slog.String("id", action.ID),
				slog.String("action_type", string(action.Type)),
				slog.Int("attempts", action.RetryCount),
			)
			continue
		}

		retried = append(retried, action)
		m.logger.WarnContext(ctx, "Action failed, will retry on next cycle",
			slog.String("id", action.ID),
			slog.String("action_type", string(action.Type)),
			slog.Int("retry_count", action.RetryCount),
			slog.String("error", err.Error()),
		)
	}

	if err := m.queue.applyDrain(ctx, removed, retried); err != nil {
		result.Errors = append(result.Errors, err)
		m.logger.LogError(ctx, err, "Failed to persist queue after drain")
	}

	m.mu.Lock()
	m.lastSync = time.Now()
	m.mu.Unlock()

	m.events.Record(eventlog.SyncCompleted,
		fmt.Sprintf("%d succeeded, %d failed", result.Succeeded, result.Failed),
		result.Failed == 0, "")
	m.logger.InfoContext(ctx, "Drain cycle completed",
		slog.Int("attempted", result.Attempted),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed),
		slog.Int("dropped", result.Dropped),
	)

	m.metrics.RecordDrainDuration(time.Since(result.StartTime))
	m.metrics.RecordActions(result.Succeeded, result.Failed, result.Dropped)

	return result
}

// QueryCached serves a read through the cache: a fresh entry under key is
// returned without touching the network, otherwise the named remote query
// runs and its result is cached under key with the given ttl. When the
// remote fails after a miss, a still-cached value is served as a last
// resort. Offline misses return ErrOffline.
func (m *Manager) QueryCached(ctx context.Context, key string, dt cache.DataType, ttl time.Duration, name string, args map[string]any) (json.RawMessage, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrManagerClosed
	}
	m.mu.RUnlock()

	if m.cache != nil {
		data, ok, err := m.cache.GetBytes(ctx, key)
		if err != nil {
			m.logger.LogError(ctx, err, "Cache read failed, falling through to remote",
				slog.String("key", key))
		} else if ok {
			m.metrics.RecordCacheHit(true)
			return json.RawMessage(data), nil
		}
		m.metrics.RecordCacheHit(false)
	}

	if !m.online() {
		return nil, ErrOffline
	}

	data, err := m.remote.Query(ctx, name, args)
	if err != nil {
		if m.cache != nil {
			if stale, ok, cacheErr := m.cache.GetBytes(ctx, key); cacheErr == nil && ok {
				m.logger.WarnContext(ctx, "Remote query failed, serving cached value",
					slog.String("key", key),
					slog.String("query", name),
					slog.String("error", err.Error()),
				)
				return json.RawMessage(stale), nil
			}
		}
		return nil, err
	}

	if m.cache != nil {
		if err := m.cache.SetBytes(ctx, key, data, dt, ttl); err != nil {
			m.logger.LogError(ctx, err, "Failed to cache query result",
				slog.String("key", key))
		}
	}
	return json.RawMessage(data), nil
}

// Status reports a point-in-time snapshot of the manager.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Status{
		PendingActions: m.queue.Len(),
		Syncing:        m.syncing,
		Online:         m.onlineLocked(),
		LastSync:       m.lastSync,
	}
}

// online reports whether a sync would pass the connectivity guard. Without
// a monitor the manager assumes connectivity and lets the transport fail.
func (m *Manager) online() bool {
	return m.monitor == nil || m.monitor.Online()
}

// onlineLocked is online for callers already holding m.mu. The monitor has
// its own lock, so this never re-enters m.mu.
func (m *Manager) onlineLocked() bool {
	return m.monitor == nil || m.monitor.Online()
}

// Queue exposes the pending action queue for inspection.
func (m *Manager) Queue() *ActionQueue { return m.queue }

// Cache returns the tiered cache, or nil when none was configured.
func (m *Manager) Cache() *cache.Cache { return m.cache }

// Events returns the diagnostic event feed.
func (m *Manager) Events() *eventlog.Log { return m.events }

// onConnectivityChange is subscribed to the monitor at build time. A
// transition to online with work pending kicks off a background drain.
func (m *Manager) onConnectivityChange(state connectivity.State) {
	if !state.Online {
		return
	}
	pending := m.queue.Len()
	if pending == 0 {
		return
	}
	m.logger.Info("Connection restored, scheduling sync",
		slog.Int("pending", pending),
		slog.String("connection_type", string(state.Type)),
	)
	m.scheduleSync("reconnect")
}

// scheduleSync runs a fire-and-forget drain. Guard sentinels are expected
// here: another trigger may have gotten there first, or connectivity may
// have dropped again.
func (m *Manager) scheduleSync(trigger string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundSyncTimeout)
		defer cancel()

		if _, err := m.Sync(ctx); err != nil {
			if errors.Is(err, ErrOffline) || errors.Is(err, ErrSyncInProgress) || errors.Is(err, ErrManagerClosed) {
				m.logger.Debug("Background sync skipped",
					slog.String("trigger", trigger),
					slog.String("reason", err.Error()),
				)
				return
			}
			m.logger.LogError(ctx, err, "Background sync failed", slog.String("trigger", trigger))
		}
	}()
}

// StartAutoSync begins periodic drains at the configured interval. Each
// tick also sweeps expired cache entries when a cache is wired.
func (m *Manager) StartAutoSync(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}
	if m.autoSyncInterval <= 0 {
		return fmt.Errorf("auto sync interval must be positive")
	}
	if m.autoSyncStop != nil {
		return fmt.Errorf("auto sync is already running")
	}

	m.autoSyncStop = make(chan struct{})
	go m.autoSyncLoop(ctx, m.autoSyncStop)
	return nil
}

func (m *Manager) autoSyncLoop(ctx context.Context, stop chan struct{}) {
	ticker := time.NewTicker(m.autoSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			m.scheduleSync("interval")
			if m.cache != nil {
				go m.sweepCache()
			}
		}
	}
}

func (m *Manager) sweepCache() {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundSyncTimeout)
	defer cancel()

	if _, err := m.cache.CleanupExpired(ctx); err != nil {
		m.logger.LogError(ctx, err, "Cache sweep failed")
	}
}

// StopAutoSync stops periodic drains.
func (m *Manager) StopAutoSync() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.autoSyncStop == nil {
		return fmt.Errorf("auto sync is not running")
	}

	close(m.autoSyncStop)
	m.autoSyncStop = nil
	return nil
}

// Close shuts the manager down: auto sync stops, the remote and the stores
// are closed. Close is idempotent; operations after it return
// ErrManagerClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.autoSyncStop != nil {
		close(m.autoSyncStop)
		m.autoSyncStop = nil
	}
	m.mu.Unlock()

	if m.monitor != nil {
		// Tolerate a monitor the caller never started or already stopped.
		if err := m.monitor.Stop(); err != nil {
			m.logger.Debug("Monitor stop during close", slog.String("reason", err.Error()))
		}
	}

	var errs []error
	if err := m.remote.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close remote: %w", err))
	}
	if err := m.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close store: %w", err))
	}
	if m.fileStore != nil {
		if err := m.fileStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close file store: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
