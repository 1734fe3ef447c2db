package offlinekit

import (
	"fmt"
	"time"

	"github.com/c0deZ3R0/go-offline-kit/cache"
	"github.com/c0deZ3R0/go-offline-kit/connectivity"
	"github.com/c0deZ3R0/go-offline-kit/eventlog"
	"github.com/c0deZ3R0/go-offline-kit/logging"
	"github.com/c0deZ3R0/go-offline-kit/storage"
)

// Builder provides a fluent interface for assembling a Manager.
type Builder struct {
	config    Config
	store     storage.Store
	fileStore storage.Store
	remote    Remote
	monitor   *connectivity.Monitor
	events    *eventlog.Log
	logger    *logging.Logger
	metrics   MetricsCollector
	executors map[ActionType]ExecutorFunc
}

// NewBuilder creates a new builder with default configuration.
func NewBuilder() *Builder {
	return &Builder{
		config:    DefaultConfig(),
		executors: make(map[ActionType]ExecutorFunc),
	}
}

// WithConfig replaces the builder's configuration. Zero fields fall back to
// their defaults at Build time.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithStore sets the small-object store backing the queue and the cache
// index. Required.
func (b *Builder) WithStore(store storage.Store) *Builder {
	b.store = store
	return b
}

// WithFileStore sets the large-object store. Providing one enables the
// tiered cache.
func (b *Builder) WithFileStore(store storage.Store) *Builder {
	b.fileStore = store
	return b
}

// WithRemote sets the backend actions are replayed against. Required.
func (b *Builder) WithRemote(remote Remote) *Builder {
	b.remote = remote
	return b
}

// WithMonitor sets the connectivity monitor. The manager subscribes to it
// so reconnects trigger drains; without one the manager assumes it is
// online.
func (b *Builder) WithMonitor(monitor *connectivity.Monitor) *Builder {
	b.monitor = monitor
	return b
}

// WithEventLog shares an existing event log instead of creating one, so
// components built outside the builder (typically the monitor) feed the
// same diagnostic stream.
func (b *Builder) WithEventLog(events *eventlog.Log) *Builder {
	b.events = events
	return b
}

// WithLogger sets the base logger; components derive their own tagged
// loggers from it.
func (b *Builder) WithLogger(logger *logging.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMetrics sets the metrics collector.
func (b *Builder) WithMetrics(metrics MetricsCollector) *Builder {
	b.metrics = metrics
	return b
}

// WithExecutor registers an executor for an action type, overriding the
// built-in registration if the type has one.
func (b *Builder) WithExecutor(t ActionType, fn ExecutorFunc) *Builder {
	b.executors[t] = fn
	return b
}

// Build assembles the Manager and its parts.
func (b *Builder) Build() (*Manager, error) {
	// Validate required components
	if b.store == nil {
		return nil, fmt.Errorf("Store is required")
	}
	if b.remote == nil {
		return nil, fmt.Errorf("Remote is required")
	}

	cfg := b.config
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	events := b.events
	if events == nil {
		events = eventlog.New(cfg.EventLogCapacity)
	}

	var queueLogger, cacheLogger *logging.Logger
	if b.logger != nil {
		queueLogger = b.logger.WithComponent(logging.Component("queue"))
		cacheLogger = b.logger.WithComponent(logging.Component("cache"))
	}

	queue, err := NewActionQueue(&QueueConfig{
		Store:      b.store,
		Events:     events,
		Logger:     queueLogger,
		MaxRetries: cfg.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize action queue: %w", err)
	}

	var tiered *cache.Cache
	if b.fileStore != nil {
		tiered, err = cache.New(&cache.Config{
			Store:         b.store,
			FileStore:     b.fileStore,
			SizeThreshold: cfg.SizeThreshold,
			Events:        events,
			Logger:        cacheLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize cache: %w", err)
		}
	}

	registry := NewRegistry()
	registry.Register(ActionUpdateOrderStatus, MutationExecutor("orders:updateStatus"))
	registry.Register(ActionCreateProduct, MutationExecutor("products:create"))
	registry.Register(ActionUpdateProduct, MutationExecutor("products:update"))
	for t, fn := range b.executors {
		registry.Register(t, fn)
	}

	logger := b.logger
	if logger == nil {
		logger = logging.WithComponent(logging.Component("manager"))
	} else {
		logger = logger.WithComponent(logging.Component("manager"))
	}

	metrics := b.metrics
	if metrics == nil {
		metrics = &NoOpMetricsCollector{}
	}

	m := &Manager{
		queue:            queue,
		registry:         registry,
		remote:           b.remote,
		events:           events,
		monitor:          b.monitor,
		cache:            tiered,
		metrics:          metrics,
		logger:           logger,
		store:            b.store,
		fileStore:        b.fileStore,
		autoSyncInterval: time.Duration(cfg.AutoSyncInterval),
	}

	if b.monitor != nil {
		b.monitor.Subscribe(m.onConnectivityChange)
	}

	return m, nil
}

// Reset clears the builder, allowing reuse.
func (b *Builder) Reset() *Builder {
	*b = Builder{
		config:    DefaultConfig(),
		executors: make(map[ActionType]ExecutorFunc),
	}
	return b
}
