package server

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/D4ffi/allay-app/internal/model"
)

// Status is the UI-facing state of a server instance
type Status string

const (
	StatusOffline Status = "offline"
	StatusOnline  Status = "online"
)

// Backend performs the actual start and stop of a server instance on
// behalf of the status registry.
type Backend interface {
	// LoaderKind returns the loader of a stored instance ("vanilla",
	// "fabric", ...) or an error if the instance is unknown.
	LoaderKind(serverName string) (string, error)
	StartServer(serverName, loader string) error
	StopServer(serverName string) error
}

// StatusRegistry tracks the last known status of every server instance.
// Servers never seen before read as offline.
type StatusRegistry struct {
	mu       sync.RWMutex
	statuses map[string]Status
	backend  Backend
	onChange func(model.StatusEvent)
}

// NewStatusRegistry creates a registry backed by the given Backend.
func NewStatusRegistry(backend Backend) *StatusRegistry {
	return &StatusRegistry{
		statuses: make(map[string]Status),
		backend:  backend,
	}
}

// SetOnChange sets a callback invoked after every status transition.
func (r *StatusRegistry) SetOnChange(cb func(model.StatusEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = cb
}

// Get returns the last known status of a server. Unknown servers are offline.
func (r *StatusRegistry) Get(serverName string) Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.statuses[serverName]; ok {
		return s
	}
	return StatusOffline
}

// All returns a snapshot of every tracked server's status, sorted by name.
func (r *StatusRegistry) All() map[string]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Status, len(r.statuses))
	for name, s := range r.statuses {
		out[name] = s
	}
	return out
}

// Names returns the tracked server names in sorted order.
func (r *StatusRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.statuses))
	for name := range r.statuses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Set records a status observed elsewhere (e.g. the process exiting on
// its own) and fires the change callback.
func (r *StatusRegistry) Set(serverName string, status Status) {
	r.transition(serverName, status)
}

// Start marks the server online, then launches it. If the launch fails
// the status is reverted to what it was before.
func (r *StatusRegistry) Start(serverName string) error {
	prev := r.Get(serverName)
	r.transition(serverName, StatusOnline)

	loader, err := r.backend.LoaderKind(serverName)
	if err != nil {
		r.transition(serverName, prev)
		return fmt.Errorf("failed to resolve server %s: %w", serverName, err)
	}

	if err := r.backend.StartServer(serverName, loader); err != nil {
		r.transition(serverName, prev)
		return fmt.Errorf("failed to start server %s: %w", serverName, err)
	}
	return nil
}

// Stop marks the server offline, then asks the backend to stop it. A
// failed stop does not revert the status: the process is on its way
// down and the monitor will reconcile whatever is actually left.
func (r *StatusRegistry) Stop(serverName string) error {
	r.transition(serverName, StatusOffline)

	if err := r.backend.StopServer(serverName); err != nil {
		return fmt.Errorf("failed to stop server %s: %w", serverName, err)
	}
	return nil
}

func (r *StatusRegistry) transition(serverName string, status Status) {
	r.mu.Lock()
	old, ok := r.statuses[serverName]
	if !ok {
		old = StatusOffline
	}
	r.statuses[serverName] = status
	cb := r.onChange
	r.mu.Unlock()

	if cb != nil && old != status {
		cb(model.StatusEvent{
			ServerName: serverName,
			OldStatus:  string(old),
			NewStatus:  string(status),
			Timestamp:  time.Now().UnixMilli(),
		})
	}
}
