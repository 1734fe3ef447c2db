package offlinekit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/c0deZ3R0/go-offline-kit/cache"
)

func withAutoSync(interval time.Duration) func(*Builder) {
	return func(b *Builder) {
		cfg := DefaultConfig()
		cfg.AutoSyncInterval = Duration(interval)
		b.WithConfig(cfg)
	}
}

func TestAutoSyncDrainsQueue(t *testing.T) {
	ctx := context.Background()
	fix := newTestManager(t, withAutoSync(20*time.Millisecond))
	q := fix.manager.Queue()

	q.Enqueue(ctx, ActionCreateProduct, map[string]any{"name": "anvil"})
	q.Enqueue(ctx, ActionCreateProduct, map[string]any{"name": "hammer"})

	if err := fix.manager.StartAutoSync(ctx); err != nil {
		t.Fatalf("StartAutoSync failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return q.Len() == 0 && len(fix.remote.Mutations()) == 2
	}, "ticker-driven drain")

	if err := fix.manager.StopAutoSync(); err != nil {
		t.Fatalf("StopAutoSync failed: %v", err)
	}
}

func TestAutoSyncSweepsExpiredCacheEntries(t *testing.T) {
	ctx := context.Background()
	fix := newTestManager(t, withAutoSync(20*time.Millisecond), func(b *Builder) {
		b.WithFileStore(NewTestStore())
	})
	c := fix.manager.Cache()

	if err := c.SetBytes(ctx, "orders:all", []byte(`{"orders":[]}`), cache.DataOrders, time.Millisecond); err != nil {
		t.Fatalf("SetBytes failed: %v", err)
	}

	if err := fix.manager.StartAutoSync(ctx); err != nil {
		t.Fatalf("StartAutoSync failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return c.Stats().TotalEntries == 0
	}, "expired entry to be swept")
}

func TestAutoSyncStartStopValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("zero interval", func(t *testing.T) {
		fix := newTestManager(t)
		if err := fix.manager.StartAutoSync(ctx); err == nil {
			t.Error("expected an error when the interval is not configured")
		}
	})

	t.Run("double start", func(t *testing.T) {
		fix := newTestManager(t, withAutoSync(time.Hour))
		if err := fix.manager.StartAutoSync(ctx); err != nil {
			t.Fatalf("first StartAutoSync failed: %v", err)
		}
		if err := fix.manager.StartAutoSync(ctx); err == nil {
			t.Error("second StartAutoSync should have failed")
		}
	})

	t.Run("stop when not running", func(t *testing.T) {
		fix := newTestManager(t, withAutoSync(time.Hour))
		if err := fix.manager.StopAutoSync(); err == nil {
			t.Error("StopAutoSync without a running loop should fail")
		}
	})
}

func TestAutoSyncRapidStartStopCycles(t *testing.T) {
	ctx := context.Background()
	fix := newTestManager(t, withAutoSync(50*time.Millisecond))

	if err := fix.manager.StartAutoSync(ctx); err != nil {
		t.Fatalf("StartAutoSync failed: %v", err)
	}

	// Stress the start/stop handoff.
	for i := 0; i < 100; i++ {
		if err := fix.manager.StopAutoSync(); err != nil {
			t.Fatalf("StopAutoSync failed on iteration %d: %v", i, err)
		}
		if err := fix.manager.StartAutoSync(ctx); err != nil {
			t.Fatalf("StartAutoSync failed on iteration %d: %v", i, err)
		}
	}
}

func TestAutoSyncConcurrentLifecycle(t *testing.T) {
	ctx := context.Background()
	fix := newTestManager(t, withAutoSync(50*time.Millisecond))

	if err := fix.manager.StartAutoSync(ctx); err != nil {
		t.Fatalf("StartAutoSync failed: %v", err)
	}

	errchan := make(chan error, 3)
	go func() { errchan <- fix.manager.StopAutoSync() }()
	go func() { errchan <- fix.manager.StartAutoSync(ctx) }()
	go func() { errchan <- fix.manager.Close() }()

	// The operations race, so some are expected to fail; anything outside
	// the lifecycle errors is a bug.
	for i := 0; i < 3; i++ {
		err := <-errchan
		if err == nil || errors.Is(err, ErrManagerClosed) {
			continue
		}
		if err.Error() != "auto sync is not running" &&
			err.Error() != "auto sync is already running" {
			t.Errorf("unexpected error type: %v", err)
		}
	}
}
