// Package rcon implements the RCON connection lifecycle for managed servers:
// the authoritative per-server connection registry, the session coordinator
// that drives connect/disconnect/execute against the backend, the background
// health monitor, and the wire-protocol client used by the production backend.
package rcon

import (
	"sort"
	"sync"
)

// State is the explicit connection state of a server's RCON session.
// A tagged state (instead of independent connected/connecting booleans)
// makes combinations like "connected while connecting" unrepresentable.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

// String returns the state name as shown in logs and the frontend.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

// Config holds RCON connection parameters for one server.
// The password here is only a last-resort fallback; the per-server password
// from server.properties supersedes it before any connection attempt.
type Config struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
}

// DefaultConfig returns the connection parameters used until the dynamic
// per-server password has been fetched.
func DefaultConfig() Config {
	return Config{Host: "127.0.0.1", Port: 25575}
}

// Connection is the UI-visible snapshot of one server's RCON state.
// The booleans are derived from the internal state tag.
type Connection struct {
	ServerName   string `json:"serverName"`
	IsConnected  bool   `json:"isConnected"`
	IsConnecting bool   `json:"isConnecting"`
	Error        string `json:"error,omitempty"`
	Config       Config `json:"config"`
}

// Patch is a partial update merged into a registry entry. Nil fields are
// left untouched; a non-nil empty Error clears the stored error.
type Patch struct {
	State  *State
	Error  *string
	Config *Config
}

type entry struct {
	state  State
	err    string
	config Config
}

// Registry is the single source of truth for per-server RCON connection
// state. All mutation goes through Apply (or TryBeginConnect, which is an
// atomic read-and-Apply); consumers observe changes via SetOnChange or
// Subscribe rather than holding private copies.
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]*entry
	subs     map[chan Connection]struct{}
	onChange func(Connection)
}

// NewRegistry creates an empty connection registry
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*entry),
		subs:  make(map[chan Connection]struct{}),
	}
}

// SetOnChange sets a callback invoked with a snapshot after every state change
// (e.g. to forward it to the frontend as an event).
func (r *Registry) SetOnChange(cb func(Connection)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = cb
}

// Get returns the snapshot for a server, or false if it was never referenced.
func (r *Registry) Get(serverName string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.conns[serverName]
	if !exists {
		return Connection{}, false
	}
	return snapshot(serverName, e), true
}

// Snapshot returns all known connections sorted by server name.
func (r *Registry) Snapshot() []Connection {
	r.mu.RLock()
	out := make([]Connection, 0, len(r.conns))
	for name, e := range r.conns {
		out = append(out, snapshot(name, e))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ServerName < out[j].ServerName })
	return out
}

// Apply merges a partial update into the server's entry, creating it with
// defaults first if absent, and returns the resulting snapshot. This is the
// only mutation primitive; it never suspends between read and write.
func (r *Registry) Apply(serverName string, p Patch) Connection {
	r.mu.Lock()
	e := r.entryLocked(serverName)
	if p.State != nil {
		e.state = *p.State
	}
	if p.Error != nil {
		e.err = *p.Error
	}
	if p.Config != nil {
		e.config = *p.Config
	}
	conn := snapshot(serverName, e)
	cb := r.onChange
	for ch := range r.subs {
		select {
		case ch <- conn:
		default:
			// subscriber is slow, drop rather than block the registry
		}
	}
	r.mu.Unlock()

	if cb != nil {
		cb(conn)
	}
	return conn
}

// TryBeginConnect atomically transitions the server to Connecting and clears
// its error, unless an attempt is already in flight. It returns false when
// the caller must back off. This is the gate that keeps connect attempts to
// at most one per server.
func (r *Registry) TryBeginConnect(serverName string) bool {
	r.mu.Lock()
	e := r.entryLocked(serverName)
	if e.state == StateConnecting {
		r.mu.Unlock()
		return false
	}
	e.state = StateConnecting
	e.err = ""
	conn := snapshot(serverName, e)
	cb := r.onChange
	for ch := range r.subs {
		select {
		case ch <- conn:
		default:
		}
	}
	r.mu.Unlock()

	if cb != nil {
		cb(conn)
	}
	return true
}

// Subscribe returns a channel of connection snapshots and an unsubscribe
// function. Updates are dropped rather than buffered when the channel is full.
func (r *Registry) Subscribe() (<-chan Connection, func()) {
	ch := make(chan Connection, 32)

	r.mu.Lock()
	r.subs[ch] = struct{}{}
	r.mu.Unlock()

	unsubscribe := func() {
		r.mu.Lock()
		delete(r.subs, ch)
		close(ch)
		r.mu.Unlock()
	}
	return ch, unsubscribe
}

// entryLocked returns the entry for a server, creating it with defaults if
// absent. Caller must hold r.mu.
func (r *Registry) entryLocked(serverName string) *entry {
	e, exists := r.conns[serverName]
	if !exists {
		e = &entry{state: StateDisconnected, config: DefaultConfig()}
		r.conns[serverName] = e
	}
	return e
}

func snapshot(name string, e *entry) Connection {
	return Connection{
		ServerName:   name,
		IsConnected:  e.state == StateConnected,
		IsConnecting: e.state == StateConnecting,
		Error:        e.err,
		Config:       e.config,
	}
}
