package offlinekit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/c0deZ3R0/go-offline-kit/cache"
	"github.com/c0deZ3R0/go-offline-kit/connectivity"
	"github.com/c0deZ3R0/go-offline-kit/eventlog"
)

type managerFixture struct {
	manager *Manager
	remote  *TestRemote
	store   *TestStore
	monitor *connectivity.Monitor
	events  *eventlog.Log
}

// newTestManager builds a manager over in-memory fakes with the monitor
// already online. Tests that need drains to be deterministic enqueue via
// Queue() and call Sync themselves.
func newTestManager(t *testing.T, mutate ...func(*Builder)) *managerFixture {
	t.Helper()
	return newTestManagerState(t, connectivity.State{Online: true, Type: connectivity.Wifi}, mutate...)
}

func newTestManagerState(t *testing.T, initial connectivity.State, mutate ...func(*Builder)) *managerFixture {
	t.Helper()

	remote := &TestRemote{}
	store := NewTestStore()
	events := eventlog.New(50)
	monitor := connectivity.NewMonitor(&connectivity.Config{Events: events})
	// Seed the state before Build so the manager's subscription does not
	// observe the setup transition.
	monitor.SetState(initial)

	b := NewBuilder().
		WithStore(store).
		WithRemote(remote).
		WithMonitor(monitor).
		WithEventLog(events)
	for _, fn := range mutate {
		fn(b)
	}

	m, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })

	return &managerFixture{
		manager: m,
		remote:  remote,
		store:   store,
		monitor: monitor,
		events:  events,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestManagerDrainFIFO(t *testing.T) {
	ctx := context.Background()
	fix := newTestManager(t)
	q := fix.manager.Queue()

	for _, name := range []string{"alpha", "beta", "gamma"} {
		if _, err := q.Enqueue(ctx, ActionCreateProduct, map[string]any{"name": name}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	result, err := fix.manager.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if result.Attempted != 3 || result.Succeeded != 3 || result.Failed != 0 || result.Dropped != 0 {
		t.Errorf("unexpected result counts: %+v", result)
	}

	calls := fix.remote.Mutations()
	if len(calls) != 3 {
		t.Fatalf("expected 3 remote calls, got %d", len(calls))
	}
	for i, want := range []string{"alpha", "beta", "gamma"} {
		if calls[i].Args["name"] != want {
			t.Errorf("call %d: expected name %s, got %v", i, want, calls[i].Args["name"])
		}
	}
	if q.Len() != 0 {
		t.Errorf("expected empty queue after drain, got %d", q.Len())
	}
}

func TestManagerDrainMapsActionTypes(t *testing.T) {
	ctx := context.Background()
	fix := newTestManager(t)
	q := fix.manager.Queue()

	q.Enqueue(ctx, ActionUpdateOrderStatus, map[string]any{"order_id": "o-1", "status": "shipped"})
	q.Enqueue(ctx, ActionCreateProduct, map[string]any{"name": "anvil"})
	q.Enqueue(ctx, ActionUpdateProduct, map[string]any{"product_id": "p-1", "price": 12.5})

	if _, err := fix.manager.Sync(ctx); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	calls := fix.remote.Mutations()
	if len(calls) != 3 {
		t.Fatalf("expected 3 remote calls, got %d", len(calls))
	}
	for i, want := range []string{"orders:updateStatus", "products:create", "products:update"} {
		if calls[i].Name != want {
			t.Errorf("call %d: expected function %s, got %s", i, want, calls[i].Name)
		}
	}
}

func TestManagerRetryCeiling(t *testing.T) {
	ctx := context.Background()
	fix := newTestManager(t)
	q := fix.manager.Queue()

	fix.remote.FailMutations(func(RemoteCall) error {
		return errors.New("backend down")
	})

	if _, err := q.Enqueue(ctx, ActionCreateProduct, map[string]any{"name": "anvil"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// The action is retried on later cycles, never within one.
	for cycle := 1; cycle <= DefaultMaxRetries; cycle++ {
		result, err := fix.manager.Sync(ctx)
		if err != nil {
			t.Fatalf("cycle %d: Sync failed: %v", cycle, err)
		}
		if result.Failed != 1 || result.Dropped != 0 {
			t.Fatalf("cycle %d: expected 1 failed, 0 dropped, got %+v", cycle, result)
		}

		pending := q.Snapshot()
		if len(pending) != 1 {
			t.Fatalf("cycle %d: expected action retained, queue has %d", cycle, len(pending))
		}
		if pending[0].RetryCount != cycle {
			t.Errorf("cycle %d: expected retry count %d, got %d", cycle, cycle, pending[0].RetryCount)
		}
		if pending[0].RetryCount > pending[0].MaxRetries {
			t.Errorf("cycle %d: retry count %d exceeds ceiling %d", cycle, pending[0].RetryCount, pending[0].MaxRetries)
		}
	}

	result, err := fix.manager.Sync(ctx)
	if err != nil {
		t.Fatalf("final cycle: Sync failed: %v", err)
	}
	if result.Dropped != 1 || result.Failed != 1 {
		t.Errorf("final cycle: expected terminal drop, got %+v", result)
	}
	if q.Len() != 0 {
		t.Errorf("expected empty queue after terminal drop, got %d", q.Len())
	}
	if got := len(fix.remote.Mutations()); got != DefaultMaxRetries+1 {
		t.Errorf("expected %d executions in total, got %d", DefaultMaxRetries+1, got)
	}
	if got := fix.events.CountByType(eventlog.ActionFailed); got != 1 {
		t.Errorf("expected 1 terminal action_failed event, got %d", got)
	}
}

func TestManagerUnknownActionTypeDropped(t *testing.T) {
	ctx := context.Background()
	fix := newTestManager(t)
	q := fix.manager.Queue()

	q.Enqueue(ctx, ActionType("archive_order"), map[string]any{"order_id": "o-1"})

	result, err := fix.manager.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if result.Attempted != 1 || result.Dropped != 1 || result.Failed != 1 {
		t.Errorf("expected immediate terminal drop, got %+v", result)
	}
	if len(fix.remote.Mutations()) != 0 {
		t.Error("expected no remote calls for unknown action type")
	}
	if q.Len() != 0 {
		t.Errorf("expected empty queue, got %d", q.Len())
	}

	failed := false
	for _, evt := range fix.events.All() {
		if evt.Type == eventlog.ActionFailed && strings.Contains(evt.Details, "no executor registered") {
			failed = true
		}
	}
	if !failed {
		t.Error("expected an action_failed event naming the missing executor")
	}
}

func TestManagerPerActionFailureDoesNotAbortCycle(t *testing.T) {
	ctx := context.Background()
	fix := newTestManager(t)
	q := fix.manager.Queue()

	fix.remote.FailMutations(func(call RemoteCall) error {
		if call.Args["name"] == "beta" {
			return errors.New("rejected")
		}
		return nil
	})

	for _, name := range []string{"alpha", "beta", "gamma"} {
		q.Enqueue(ctx, ActionCreateProduct, map[string]any{"name": name})
	}

	result, err := fix.manager.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if result.Succeeded != 2 || result.Failed != 1 || result.Dropped != 0 {
		t.Errorf("unexpected result counts: %+v", result)
	}
	if len(result.Errors) != 1 {
		t.Errorf("expected 1 recorded error, got %d", len(result.Errors))
	}

	pending := q.Snapshot()
	if len(pending) != 1 {
		t.Fatalf("expected 1 retained action, got %d", len(pending))
	}
	var payload map[string]any
	json.Unmarshal(pending[0].Payload, &payload)
	if payload["name"] != "beta" {
		t.Errorf("expected beta to be retained, got %v", payload["name"])
	}
	if pending[0].RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", pending[0].RetryCount)
	}
}

func TestManagerSyncGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("closed manager", func(t *testing.T) {
		fix := newTestManager(t)
		fix.manager.Close()
		if _, err := fix.manager.Sync(ctx); !errors.Is(err, ErrManagerClosed) {
			t.Errorf("expected ErrManagerClosed, got %v", err)
		}
	})

	t.Run("offline", func(t *testing.T) {
		fix := newTestManagerState(t, connectivity.State{Online: false, Type: connectivity.None})
		fix.manager.Queue().Enqueue(ctx, ActionCreateProduct, map[string]any{"name": "anvil"})
		if _, err := fix.manager.Sync(ctx); !errors.Is(err, ErrOffline) {
			t.Errorf("expected ErrOffline, got %v", err)
		}
		if len(fix.remote.Mutations()) != 0 {
			t.Error("expected no remote calls while offline")
		}
	})

	t.Run("sync in progress", func(t *testing.T) {
		fix := newTestManager(t)
		q := fix.manager.Queue()

		release := make(chan struct{})
		started := make(chan struct{})
		var once sync.Once
		fix.remote.FailMutations(func(RemoteCall) error {
			once.Do(func() { close(started) })
			<-release
			return nil
		})

		q.Enqueue(ctx, ActionCreateProduct, map[string]any{"name": "anvil"})
		go fix.manager.Sync(ctx)
		<-started

		if _, err := fix.manager.Sync(ctx); !errors.Is(err, ErrSyncInProgress) {
			t.Errorf("expected ErrSyncInProgress, got %v", err)
		}

		close(release)
		waitFor(t, 2*time.Second, func() bool {
			return !fix.manager.Status().Syncing
		}, "held drain to finish")
	})

	t.Run("empty queue", func(t *testing.T) {
		fix := newTestManager(t)
		result, err := fix.manager.Sync(ctx)
		if err != nil {
			t.Fatalf("Sync failed: %v", err)
		}
		if result.Attempted != 0 || result.Succeeded != 0 || result.Failed != 0 {
			t.Errorf("expected empty result, got %+v", result)
		}
		if got := fix.events.CountByType(eventlog.SyncStarted); got != 0 {
			t.Errorf("expected no sync_started events for an empty drain, got %d", got)
		}
		if !fix.manager.Status().LastSync.IsZero() {
			t.Error("expected LastSync to stay zero after an empty drain")
		}
	})
}

func TestManagerEnqueueTriggersSyncWhenOnline(t *testing.T) {
	ctx := context.Background()
	fix := newTestManager(t)

	if _, err := fix.manager.Enqueue(ctx, ActionCreateProduct, map[string]any{"name": "anvil"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return fix.manager.Queue().Len() == 0 && fix.events.CountByType(eventlog.SyncCompleted) >= 1
	}, "enqueue-triggered drain")

	if got := len(fix.remote.Mutations()); got != 1 {
		t.Errorf("expected 1 remote call, got %d", got)
	}
}

func TestManagerOfflineQueueThenReconnectDrains(t *testing.T) {
	ctx := context.Background()
	fix := newTestManagerState(t, connectivity.State{Online: false, Type: connectivity.None})

	for _, orderID := range []string{"o-1", "o-2", "o-3"} {
		if _, err := fix.manager.Enqueue(ctx, ActionUpdateOrderStatus, map[string]any{"order_id": orderID, "status": "shipped"}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	status := fix.manager.Status()
	if status.PendingActions != 3 {
		t.Fatalf("expected 3 pending actions, got %d", status.PendingActions)
	}
	if status.Online {
		t.Fatal("expected offline status")
	}
	if len(fix.remote.Mutations()) != 0 {
		t.Fatal("expected no remote calls while offline")
	}

	fix.monitor.SetState(connectivity.State{Online: true, Type: connectivity.Wifi})

	waitFor(t, 2*time.Second, func() bool {
		st := fix.manager.Status()
		return fix.events.CountByType(eventlog.SyncCompleted) >= 1 && st.PendingActions == 0 && !st.Syncing
	}, "reconnect drain to finish")

	calls := fix.remote.Mutations()
	if len(calls) != 3 {
		t.Fatalf("expected 3 remote calls, got %d", len(calls))
	}
	for i, want := range []string{"o-1", "o-2", "o-3"} {
		if calls[i].Name != "orders:updateStatus" {
			t.Errorf("call %d: expected orders:updateStatus, got %s", i, calls[i].Name)
		}
		if calls[i].Args["order_id"] != want {
			t.Errorf("call %d: expected order %s, got %v", i, want, calls[i].Args["order_id"])
		}
	}

	counts := map[eventlog.EventType]int{
		eventlog.ActionQueued:   3,
		eventlog.NetworkOnline:  1,
		eventlog.SyncStarted:    1,
		eventlog.ActionExecuted: 3,
		eventlog.SyncCompleted:  1,
	}
	for eventType, want := range counts {
		if got := fix.events.CountByType(eventType); got != want {
			t.Errorf("expected %d %s events, got %d", want, eventType, got)
		}
	}
	for _, evt := range fix.events.All() {
		if evt.Type == eventlog.SyncCompleted {
			if evt.Details != "3 succeeded, 0 failed" {
				t.Errorf("unexpected sync_completed details: %q", evt.Details)
			}
			if !evt.Success {
				t.Error("expected sync_completed to be marked successful")
			}
		}
	}

	status = fix.manager.Status()
	if !status.Online {
		t.Error("expected online status after reconnect")
	}
	if status.LastSync.IsZero() {
		t.Error("expected LastSync to be set after drain")
	}
}

func TestManagerAtLeastOnceAcrossRestart(t *testing.T) {
	ctx := context.Background()
	store := NewTestStore()

	remote1 := &TestRemote{}
	remote1.FailMutations(func(RemoteCall) error {
		return errors.New("backend down")
	})
	m1, err := NewBuilder().WithStore(store).WithRemote(remote1).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	queued, err := m1.Queue().Enqueue(ctx, ActionUpdateOrderStatus, map[string]any{"order_id": "o-1", "status": "shipped"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := m1.Sync(ctx); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	// No Close: the process "crashes" here, leaving the blob behind.

	remote2 := &TestRemote{}
	m2, err := NewBuilder().WithStore(store).WithRemote(remote2).Build()
	if err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	defer m2.Close()

	pending := m2.Queue().Snapshot()
	if len(pending) != 1 {
		t.Fatalf("expected the action to survive the restart, got %d", len(pending))
	}
	if pending[0].ID != queued.ID {
		t.Errorf("expected action %s, got %s", queued.ID, pending[0].ID)
	}
	if pending[0].RetryCount != 1 {
		t.Errorf("expected persisted retry count 1, got %d", pending[0].RetryCount)
	}

	result, err := m2.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync after restart failed: %v", err)
	}
	if result.Succeeded != 1 {
		t.Errorf("expected 1 success, got %+v", result)
	}
	if m2.Queue().Len() != 0 {
		t.Errorf("expected empty queue, got %d", m2.Queue().Len())
	}
	if got := len(remote2.Mutations()); got != 1 {
		t.Errorf("expected 1 call after restart, got %d", got)
	}
}

func TestManagerQueryCached(t *testing.T) {
	ctx := context.Background()

	t.Run("miss populates then hit", func(t *testing.T) {
		fix := newTestManager(t, func(b *Builder) { b.WithFileStore(NewTestStore()) })
		payload := json.RawMessage(`{"revenue":1200,"orders":17}`)
		fix.remote.AnswerQueries(func(RemoteCall) (json.RawMessage, error) {
			return payload, nil
		})

		got, err := fix.manager.QueryCached(ctx, "dashboard:stats", cache.DataDashboard, time.Minute, "dashboard:stats", nil)
		if err != nil {
			t.Fatalf("QueryCached failed: %v", err)
		}
		if string(got) != string(payload) {
			t.Errorf("unexpected response: %s", got)
		}
		if fix.remote.QueryCalls() != 1 {
			t.Fatalf("expected 1 remote query, got %d", fix.remote.QueryCalls())
		}

		got, err = fix.manager.QueryCached(ctx, "dashboard:stats", cache.DataDashboard, time.Minute, "dashboard:stats", nil)
		if err != nil {
			t.Fatalf("cached QueryCached failed: %v", err)
		}
		if string(got) != string(payload) {
			t.Errorf("unexpected cached response: %s", got)
		}
		if fix.remote.QueryCalls() != 1 {
			t.Errorf("expected the second read to be served from cache, remote saw %d queries", fix.remote.QueryCalls())
		}
	})

	t.Run("offline miss returns ErrOffline", func(t *testing.T) {
		fix := newTestManagerState(t, connectivity.State{Online: false, Type: connectivity.None},
			func(b *Builder) { b.WithFileStore(NewTestStore()) })
		if _, err := fix.manager.QueryCached(ctx, "orders:all", cache.DataOrders, time.Minute, "orders:all", nil); !errors.Is(err, ErrOffline) {
			t.Errorf("expected ErrOffline, got %v", err)
		}
	})

	t.Run("cached value served while offline", func(t *testing.T) {
		fix := newTestManager(t, func(b *Builder) { b.WithFileStore(NewTestStore()) })
		fix.remote.AnswerQueries(func(RemoteCall) (json.RawMessage, error) {
			return json.RawMessage(`{"orders":[1,2]}`), nil
		})
		if _, err := fix.manager.QueryCached(ctx, "orders:all", cache.DataOrders, time.Minute, "orders:all", nil); err != nil {
			t.Fatalf("warm-up query failed: %v", err)
		}

		fix.monitor.SetState(connectivity.State{Online: false, Type: connectivity.None})
		got, err := fix.manager.QueryCached(ctx, "orders:all", cache.DataOrders, time.Minute, "orders:all", nil)
		if err != nil {
			t.Fatalf("offline cached read failed: %v", err)
		}
		if string(got) != `{"orders":[1,2]}` {
			t.Errorf("unexpected offline response: %s", got)
		}
		if fix.remote.QueryCalls() != 1 {
			t.Errorf("expected no further remote queries offline, got %d", fix.remote.QueryCalls())
		}
	})

	t.Run("remote failure surfaces on cold key", func(t *testing.T) {
		fix := newTestManager(t, func(b *Builder) { b.WithFileStore(NewTestStore()) })
		fix.remote.AnswerQueries(func(RemoteCall) (json.RawMessage, error) {
			return nil, errors.New("boom")
		})
		if _, err := fix.manager.QueryCached(ctx, "orders:all", cache.DataOrders, time.Minute, "orders:all", nil); err == nil {
			t.Error("expected remote failure to surface")
		}
	})

	t.Run("no cache configured goes remote every time", func(t *testing.T) {
		fix := newTestManager(t)
		fix.manager.QueryCached(ctx, "orders:all", cache.DataOrders, time.Minute, "orders:all", nil)
		fix.manager.QueryCached(ctx, "orders:all", cache.DataOrders, time.Minute, "orders:all", nil)
		if fix.remote.QueryCalls() != 2 {
			t.Errorf("expected 2 remote queries without a cache, got %d", fix.remote.QueryCalls())
		}
	})
}

func TestManagerRecordsMetrics(t *testing.T) {
	ctx := context.Background()
	metrics := &MockMetricsCollector{}
	fix := newTestManager(t, func(b *Builder) {
		b.WithMetrics(metrics).WithFileStore(NewTestStore())
	})
	q := fix.manager.Queue()

	fix.remote.FailMutations(func(call RemoteCall) error {
		if call.Args["name"] == "beta" {
			return errors.New("rejected")
		}
		return nil
	})
	q.Enqueue(ctx, ActionCreateProduct, map[string]any{"name": "alpha"})
	q.Enqueue(ctx, ActionCreateProduct, map[string]any{"name": "beta"})

	if _, err := fix.manager.Sync(ctx); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	actions := metrics.ActionCalls()
	if len(actions) != 1 {
		t.Fatalf("expected 1 recorded cycle, got %d", len(actions))
	}
	if actions[0].Succeeded != 1 || actions[0].Failed != 1 || actions[0].Dropped != 0 {
		t.Errorf("unexpected action counts: %+v", actions[0])
	}
	if len(metrics.DrainDurations()) != 1 {
		t.Errorf("expected 1 drain duration, got %d", len(metrics.DrainDurations()))
	}

	fix.remote.AnswerQueries(func(RemoteCall) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})
	fix.manager.QueryCached(ctx, "dashboard:stats", cache.DataDashboard, time.Minute, "dashboard:stats", nil)
	fix.manager.QueryCached(ctx, "dashboard:stats", cache.DataDashboard, time.Minute, "dashboard:stats", nil)

	hits := metrics.CacheHits()
	if len(hits) != 2 || hits[0] != false || hits[1] != true {
		t.Errorf("expected [miss hit], got %v", hits)
	}
}

func TestManagerStatus(t *testing.T) {
	ctx := context.Background()
	fix := newTestManager(t)
	q := fix.manager.Queue()

	q.Enqueue(ctx, ActionCreateProduct, map[string]any{"name": "anvil"})
	q.Enqueue(ctx, ActionCreateProduct, map[string]any{"name": "hammer"})

	status := fix.manager.Status()
	if status.PendingActions != 2 {
		t.Errorf("expected 2 pending actions, got %d", status.PendingActions)
	}
	if !status.Online {
		t.Error("expected online status")
	}
	if status.Syncing {
		t.Error("expected no sync in flight")
	}
	if !status.LastSync.IsZero() {
		t.Error("expected zero LastSync before the first drain")
	}

	if _, err := fix.manager.Sync(ctx); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	status = fix.manager.Status()
	if status.PendingActions != 0 {
		t.Errorf("expected drained queue, got %d pending", status.PendingActions)
	}
	if status.LastSync.IsZero() {
		t.Error("expected LastSync to be set")
	}
}

func TestManagerClose(t *testing.T) {
	ctx := context.Background()
	fix := newTestManager(t)

	if err := fix.manager.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := fix.manager.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	if !fix.remote.Closed() {
		t.Error("expected the remote to be closed")
	}

	if _, err := fix.manager.Sync(ctx); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("expected ErrManagerClosed from Sync, got %v", err)
	}
	if _, err := fix.manager.Enqueue(ctx, ActionCreateProduct, nil); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("expected ErrManagerClosed from Enqueue, got %v", err)
	}
	if err := fix.manager.StartAutoSync(ctx); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("expected ErrManagerClosed from StartAutoSync, got %v", err)
	}
}
