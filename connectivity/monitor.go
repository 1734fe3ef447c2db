// Package connectivity tracks network reachability for the offline kit.
//
// A Monitor polls a Prober on a fixed interval, de-duplicates transitions
// and fans State changes out to subscribers. Online/offline flips are also
// appended to the kit's event log. The sync manager subscribes to trigger a
// queue drain when the connection comes back.
package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c0deZ3R0/go-offline-kit/eventlog"
	"github.com/c0deZ3R0/go-offline-kit/logging"
)

// Operation constant for consistent error reporting
const opProbe = "connectivity.Probe"

// DefaultInterval is the probe interval used when Config.Interval is unset.
const DefaultInterval = 5 * time.Second

// ConnectionType classifies the active network interface.
type ConnectionType string

const (
	Wifi     ConnectionType = "wifi"
	Cellular ConnectionType = "cellular"
	Ethernet ConnectionType = "ethernet"
	Other    ConnectionType = "other"
	None     ConnectionType = "none"
	Unknown  ConnectionType = "unknown"
)

// State is a point-in-time connectivity snapshot. Observers receive it by
// value; there is no shared mutable state.
type State struct {
	Online bool           `json:"online"`
	Type   ConnectionType `json:"type"`
}

// Config holds configuration options for the Monitor.
type Config struct {
	// Prober supplies connectivity snapshots. Defaults to an InterfaceProber.
	Prober Prober

	// Interval between probes. Defaults to DefaultInterval.
	Interval time.Duration

	// Events receives network_online/network_offline entries on transitions.
	// Optional.
	Events *eventlog.Log

	// Logger defaults to the package logger with a "connectivity" component.
	Logger *logging.Logger
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.Prober == nil {
		c.Prober = &InterfaceProber{}
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Logger == nil {
		c.Logger = logging.WithComponent(logging.Component("connectivity"))
	}
}

// Monitor owns the current connectivity State and notifies subscribers on
// every de-duplicated transition.
type Monitor struct {
	prober   Prober
	interval time.Duration
	events   *eventlog.Log
	logger   *logging.Logger

	mu          sync.RWMutex
	current     State
	subscribers []func(State)
	stop        chan struct{}
}

// NewMonitor creates a Monitor from a Config. A nil config uses defaults.
// The initial State is offline/unknown until the first probe completes.
func NewMonitor(config *Config) *Monitor {
	if config == nil {
		config = &Config{}
	}
	config.setDefaults()

	return &Monitor{
		prober:   config.Prober,
		interval: config.Interval,
		events:   config.Events,
		logger:   config.Logger,
		current:  State{Online: false, Type: Unknown},
	}
}

// Start probes once to seed the current State, then begins background
// polling. Starting an already started monitor is an error.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.stop != nil {
		m.mu.Unlock()
		return fmt.Errorf("connectivity monitor already started")
	}
	stop := make(chan struct{})
	m.stop = stop
	m.mu.Unlock()

	m.probeOnce(ctx)

	go m.run(ctx, stop)
	return nil
}

// Stop halts background polling. Stopping a monitor that is not running is
// an error.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stop == nil {
		return fmt.Errorf("connectivity monitor is not running")
	}

	close(m.stop)
	m.stop = nil
	return nil
}

func (m *Monitor) run(ctx context.Context, stop chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			m.probeOnce(ctx)
		}
	}
}

// probeOnce asks the prober for a snapshot. A probe error keeps the
// previous State in place.
func (m *Monitor) probeOnce(ctx context.Context) {
	state, err := m.prober.Probe(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "Connectivity probe failed",
			slog.String("error", err.Error()),
		)
		return
	}
	m.SetState(state)
}

// SetState records a new State, ignoring duplicates. Embedders with a
// platform reachability signal can call it directly instead of polling.
func (m *Monitor) SetState(state State) {
	m.mu.Lock()
	prev := m.current
	if state == prev {
		m.mu.Unlock()
		return
	}
	m.current = state
	m.mu.Unlock()

	m.logger.Info("Connectivity changed",
		slog.Bool("online", state.Online),
		slog.String("connection_type", string(state.Type)),
	)

	if m.events != nil && state.Online != prev.Online {
		eventType := eventlog.NetworkOffline
		if state.Online {
			eventType = eventlog.NetworkOnline
		}
		m.events.Record(eventType, fmt.Sprintf("connection type: %s", state.Type), true, "")
	}

	m.notifySubscribers(state)
}

// Current returns the latest State snapshot.
func (m *Monitor) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Online reports whether the latest State is online.
func (m *Monitor) Online() bool {
	return m.Current().Online
}

// Subscribe registers a callback invoked on every State transition.
// Callbacks run in their own goroutines and must not be assumed to arrive
// in order.
func (m *Monitor) Subscribe(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

func (m *Monitor) notifySubscribers(state State) {
	m.mu.RLock()
	subscribers := make([]func(State), len(m.subscribers))
	copy(subscribers, m.subscribers)
	m.mu.RUnlock()

	for _, handler := range subscribers {
		go func(h func(State)) {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("Connectivity subscriber panicked",
						slog.Any("panic", r),
					)
				}
			}()
			h(state)
		}(handler)
	}
}
