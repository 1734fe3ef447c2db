package offlinekit

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/c0deZ3R0/go-offline-kit/storage"
)

// RemoteCall records one invocation of a remote function.
type RemoteCall struct {
	Name string
	Args map[string]any
}

// TestRemote implements Remote with an in-memory call log for testing.
type TestRemote struct {
	mu          sync.Mutex
	mutations   []RemoteCall
	queryCalls  int
	mutationErr func(call RemoteCall) error
	queryFn     func(call RemoteCall) (json.RawMessage, error)
	closed      bool
}

// FailMutations installs a hook consulted on every mutation; a non-nil
// return fails the call. The call is logged either way.
func (r *TestRemote) FailMutations(fn func(call RemoteCall) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mutationErr = fn
}

// AnswerQueries installs the query handler. Without one, queries return
// {"ok":true}.
func (r *TestRemote) AnswerQueries(fn func(call RemoteCall) (json.RawMessage, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queryFn = fn
}

func (r *TestRemote) Mutation(_ context.Context, name string, args map[string]any) (json.RawMessage, error) {
	call := RemoteCall{Name: name, Args: args}

	r.mu.Lock()
	r.mutations = append(r.mutations, call)
	hook := r.mutationErr
	r.mu.Unlock()

	// The hook runs outside the lock so it may block without wedging the
	// call log accessors.
	if hook != nil {
		if err := hook(call); err != nil {
			return nil, err
		}
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func (r *TestRemote) Query(_ context.Context, name string, args map[string]any) (json.RawMessage, error) {
	call := RemoteCall{Name: name, Args: args}

	r.mu.Lock()
	r.queryCalls++
	hook := r.queryFn
	r.mu.Unlock()

	if hook != nil {
		return hook(call)
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func (r *TestRemote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Mutations returns a copy of the mutation call log in dispatch order.
func (r *TestRemote) Mutations() []RemoteCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RemoteCall, len(r.mutations))
	copy(out, r.mutations)
	return out
}

// QueryCalls returns how many queries the remote has served.
func (r *TestRemote) QueryCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queryCalls
}

// Closed reports whether Close was called.
func (r *TestRemote) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// TestStore implements a simple in-memory store for testing. Close keeps
// the data so restarts over the same medium can be simulated.
type TestStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	setErr error
}

func NewTestStore() *TestStore {
	return &TestStore{data: make(map[string][]byte)}
}

var _ storage.Store = (*TestStore)(nil)

// FailWrites makes every subsequent Set return err. Pass nil to heal.
func (s *TestStore) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setErr = err
}

// Put seeds a value directly, bypassing the failure knob.
func (s *TestStore) Put(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(value))
	copy(out, value)
	s.data[key] = out
}

func (s *TestStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *TestStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	out := make([]byte, len(value))
	copy(out, value)
	s.data[key] = out
	return nil
}

func (s *TestStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *TestStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *TestStore) Close() error { return nil }

// MockMetricsCollector implements MetricsCollector, recording every call.
type MockMetricsCollector struct {
	mu             sync.Mutex
	drainDurations []time.Duration
	actionCalls    []struct {
		Succeeded, Failed, Dropped int
	}
	cacheHits []bool
}

func (m *MockMetricsCollector) RecordDrainDuration(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drainDurations = append(m.drainDurations, d)
}

func (m *MockMetricsCollector) RecordActions(succeeded, failed, dropped int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actionCalls = append(m.actionCalls, struct {
		Succeeded, Failed, Dropped int
	}{succeeded, failed, dropped})
}

func (m *MockMetricsCollector) RecordCacheHit(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheHits = append(m.cacheHits, hit)
}

// DrainDurations returns a copy of the recorded drain durations.
func (m *MockMetricsCollector) DrainDurations() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]time.Duration, len(m.drainDurations))
	copy(out, m.drainDurations)
	return out
}

// ActionCalls returns a copy of the recorded per-cycle action counts.
func (m *MockMetricsCollector) ActionCalls() []struct{ Succeeded, Failed, Dropped int } {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]struct{ Succeeded, Failed, Dropped int }, len(m.actionCalls))
	copy(out, m.actionCalls)
	return out
}

// CacheHits returns a copy of the recorded cache hit flags.
func (m *MockMetricsCollector) CacheHits() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]bool, len(m.cacheHits))
	copy(out, m.cacheHits)
	return out
}
