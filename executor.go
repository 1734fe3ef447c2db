package offlinekit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
)

// ExecutorFunc replays one pending action against the remote. A nil return
// removes the action from the queue; an error schedules a retry on the next
// cycle until the action's retry ceiling is reached.
type ExecutorFunc func(ctx context.Context, remote Remote, action PendingAction) error

// Registry maps action types to their executors. It is safe for concurrent
// use, though registrations normally happen once during assembly.
type Registry struct {
	mu        sync.RWMutex
	executors map[ActionType]ExecutorFunc
}

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[ActionType]ExecutorFunc),
	}
}

// Register adds an executor for the given action type, replacing any
// previous registration.
func (r *Registry) Register(t ActionType, fn ExecutorFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[t] = fn
}

// Get returns the executor for the given action type.
func (r *Registry) Get(t ActionType) (ExecutorFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.executors[t]
	return fn, ok
}

// Kinds returns the registered action types in sorted order.
func (r *Registry) Kinds() []ActionType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]ActionType, 0, len(r.executors))
	for t := range r.executors {
		kinds = append(kinds, t)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// MutationExecutor returns the standard executor for mutation-backed action
// types: the action payload is decoded into the argument map of the named
// remote function.
func MutationExecutor(functionName string) ExecutorFunc {
	return func(ctx context.Context, remote Remote, action PendingAction) error {
		var args map[string]any
		if len(action.Payload) > 0 {
			if err := json.Unmarshal(action.Payload, &args); err != nil {
				return syncErrors.NewSerializationError(syncErrors.OpExecute,
					fmt.Errorf("failed to decode %s payload: %w", action.Type, err))
			}
		}
		if _, err := remote.Mutation(ctx, functionName, args); err != nil {
			return err
		}
		return nil
	}
}
