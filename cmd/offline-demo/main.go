// Command offline-demo walks the kit through a full offline-first cycle:
// actions queued while disconnected, a reconnect drain against the backend,
// cached dashboard reads and the diagnostic event feed.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	offlinekit "github.com/c0deZ3R0/go-offline-kit"
	"github.com/c0deZ3R0/go-offline-kit/cache"
	"github.com/c0deZ3R0/go-offline-kit/connectivity"
	"github.com/c0deZ3R0/go-offline-kit/eventlog"
	"github.com/c0deZ3R0/go-offline-kit/logging"
	"github.com/c0deZ3R0/go-offline-kit/storage/filestore"
	"github.com/c0deZ3R0/go-offline-kit/storage/sqlite"
	"github.com/c0deZ3R0/go-offline-kit/transport/httpremote"
)

func main() {
	// Initialize structured logging from environment
	logging.Init(logging.GetConfigFromEnv())

	ctx := context.Background()

	cfg, err := offlinekit.ConfigFromEnv()
	if err != nil {
		logging.Fatal("Failed to load configuration", slog.String("error", err.Error()))
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir, err = os.MkdirTemp("", "offline-kit-demo-")
		if err != nil {
			logging.Fatal("Failed to create data directory", slog.String("error", err.Error()))
		}
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		logging.Fatal("Failed to create data directory", slog.String("error", err.Error()))
	}

	logging.Info("Demo starting",
		slog.String("data_dir", dataDir),
		slog.Int("max_retries", cfg.MaxRetries),
	)

	// Durable storage: sqlite for the queue and cache index, files for
	// large cached values.
	store, err := sqlite.NewWithPath(filepath.Join(dataDir, "offline.db"))
	if err != nil {
		logging.Fatal("Failed to open sqlite store", slog.String("error", err.Error()))
	}
	files, err := filestore.New(filepath.Join(dataDir, "cache"))
	if err != nil {
		logging.Fatal("Failed to open file store", slog.String("error", err.Error()))
	}

	// One event feed shared by the monitor and the manager.
	events := eventlog.New(cfg.EventLogCapacity)
	monitor := connectivity.NewMonitor(&connectivity.Config{
		Events:   events,
		Interval: time.Duration(cfg.ProbeInterval),
	})
	// The demo drives connectivity by hand instead of probing interfaces.
	monitor.SetState(connectivity.State{Online: false, Type: connectivity.None})

	remote := buildRemote(cfg)

	manager, err := offlinekit.NewBuilder().
		WithConfig(cfg).
		WithStore(store).
		WithFileStore(files).
		WithRemote(remote).
		WithMonitor(monitor).
		WithEventLog(events).
		Build()
	if err != nil {
		logging.Fatal("Failed to build the kit", slog.String("error", err.Error()))
	}
	defer manager.Close()

	// Phase 1: the network is down, mutations pile up in the durable queue.
	logging.Info("Network is down, queueing actions offline")

	for _, orderID := range []string{"ord-1001", "ord-1002"} {
		if _, err := manager.Enqueue(ctx, offlinekit.ActionUpdateOrderStatus, map[string]any{
			"order_id": orderID,
			"status":   "shipped",
		}); err != nil {
			logging.Fatal("Failed to enqueue action", slog.String("error", err.Error()))
		}
	}
	if _, err := manager.Enqueue(ctx, offlinekit.ActionCreateProduct, map[string]any{
		"name":  "anvil",
		"price": 49.99,
	}); err != nil {
		logging.Fatal("Failed to enqueue action", slog.String("error", err.Error()))
	}

	status := manager.Status()
	logging.Info("Actions queued while offline",
		slog.Int("pending", status.PendingActions),
		slog.Bool("online", status.Online),
	)

	// Phase 2: connectivity returns and the queue drains automatically.
	logging.Info("Network restored, waiting for the reconnect drain")
	monitor.SetState(connectivity.State{Online: true, Type: connectivity.Wifi})

	deadline := time.Now().Add(15 * time.Second)
	for {
		status = manager.Status()
		if status.PendingActions == 0 && !status.Syncing {
			break
		}
		if time.Now().After(deadline) {
			logging.Warn("Drain did not finish in time",
				slog.Int("pending", status.PendingActions))
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	logging.Info("Drain finished",
		slog.Int("pending", status.PendingActions),
		slog.Time("last_sync", status.LastSync),
	)

	// Phase 3: cached reads. The first call hits the backend, the second is
	// served locally.
	stats, err := manager.QueryCached(ctx, "dashboard:stats", cache.DataDashboard,
		5*time.Minute, "dashboard:stats", nil)
	if err != nil {
		logging.Fatal("Dashboard query failed", slog.String("error", err.Error()))
	}
	logging.Info("Dashboard stats fetched from the backend", slog.String("payload", string(stats)))

	if _, err := manager.QueryCached(ctx, "dashboard:stats", cache.DataDashboard,
		5*time.Minute, "dashboard:stats", nil); err != nil {
		logging.Fatal("Cached dashboard query failed", slog.String("error", err.Error()))
	}
	logging.Info("Dashboard stats served from cache")

	cs := manager.Cache().Stats()
	logging.Info("Cache statistics",
		slog.Int("entries", cs.TotalEntries),
		slog.Int("valid", cs.ValidEntries),
		slog.Int64("bytes", cs.TotalSize),
	)

	// Phase 4: the diagnostic trail of everything above.
	fmt.Println("\nRecent events:")
	for _, evt := range manager.Events().Recent(25) {
		marker := "ok"
		if !evt.Success {
			marker = "ERR"
		}
		fmt.Printf("  %s  %-18s %-4s %s\n",
			evt.Timestamp.Format("15:04:05.000"), evt.Type, marker, evt.Details)
	}
}

// buildRemote picks the backend: a real HTTP one when a base URL is
// configured, otherwise an in-process fake so the demo runs standalone.
func buildRemote(cfg offlinekit.Config) offlinekit.Remote {
	if os.Getenv("OFFLINE_DEMO_FAKE_REMOTE") == "true" || cfg.Remote.BaseURL == "" {
		logging.Info("Using the in-process fake backend")
		return &fakeRemote{}
	}

	opts := []httpremote.Option{
		httpremote.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Remote.Timeout)}),
		httpremote.WithUserAgent("offline-kit-demo/1.0"),
	}
	if cfg.Remote.Token != "" {
		opts = append(opts, httpremote.WithCredentials(httpremote.StaticToken(cfg.Remote.Token)))
	}

	logging.Info("Using the HTTP backend", slog.String("base_url", cfg.Remote.BaseURL))
	return httpremote.New(cfg.Remote.BaseURL, opts...)
}

// fakeRemote answers mutations and queries in-process.
type fakeRemote struct{}

func (r *fakeRemote) Mutation(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	logging.Info("Fake backend received mutation",
		slog.String("function", name),
		slog.Any("args", args),
	)
	return json.RawMessage(`{"ok":true}`), nil
}

func (r *fakeRemote) Query(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	switch name {
	case "dashboard:stats":
		return json.Marshal(map[string]any{
			"revenue": 42250.75,
			"orders":  128,
			"asOf":    time.Now().UTC().Format(time.RFC3339),
		})
	default:
		return nil, errors.New("unknown query: " + name)
	}
}

func (r *fakeRemote) Close() error { return nil }
