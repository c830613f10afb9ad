package rcon

import (
	"context"
	"log"
	"sync"
	"time"
)

// Monitor periodically reconciles registry state against backend reality.
// For every server the registry believes is connected it asks the gateway
// whether the server process is still running: a dead process gets a full
// disconnect (releasing any backend-held session), a live one gets its RCON
// reachability re-checked. Poll errors carry no information and never change
// state, so a flaky gateway cannot flap a working connection.
type Monitor struct {
	registry *Registry
	sessions *Coordinator
	gw       Gateway

	interval time.Duration
	// adaptive cadence for detail views: poll faster while a connect is
	// in flight, slower when settled
	activeInterval time.Duration
	idleInterval   time.Duration
	adaptive       bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a health monitor with a fixed polling cadence
// (production uses 5 seconds).
func NewMonitor(registry *Registry, sessions *Coordinator, gw Gateway, interval time.Duration) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		registry: registry,
		sessions: sessions,
		gw:       gw,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// NewAdaptiveMonitor creates a health monitor that polls at the active
// cadence while any connect attempt is in flight and at the idle cadence
// otherwise. Used by per-server detail views (3s active, 15s idle).
func NewAdaptiveMonitor(registry *Registry, sessions *Coordinator, gw Gateway, active, idle time.Duration) *Monitor {
	m := NewMonitor(registry, sessions, gw, idle)
	m.activeInterval = active
	m.idleInterval = idle
	m.adaptive = true
	return m
}

// Start runs the polling loop until the context is canceled.
// It blocks; run it in a goroutine.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	defer m.wg.Done()

	if ctx == nil {
		ctx = m.ctx
	}

	log.Printf("RCON health monitor started (interval %v)", m.nextInterval())

	timer := time.NewTimer(m.nextInterval())
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			m.checkAll(ctx)
			timer.Reset(m.nextInterval())
		case <-ctx.Done():
			log.Println("RCON health monitor stopping")
			return
		case <-m.ctx.Done():
			log.Println("RCON health monitor stopping")
			return
		}
	}
}

// Stop shuts the monitor down and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *Monitor) nextInterval() time.Duration {
	if !m.adaptive {
		return m.interval
	}
	for _, conn := range m.registry.Snapshot() {
		if conn.IsConnecting {
			return m.activeInterval
		}
	}
	return m.idleInterval
}

// checkAll runs one reconciliation pass over every connected server.
func (m *Monitor) checkAll(ctx context.Context) {
	for _, conn := range m.registry.Snapshot() {
		if !conn.IsConnected {
			continue
		}
		m.checkServer(ctx, conn)
	}
}

func (m *Monitor) checkServer(ctx context.Context, conn Connection) {
	name := conn.ServerName

	opCtx, cancel := context.WithTimeout(ctx, m.sessions.opTimeout)
	running, err := m.gw.CheckServerRunning(opCtx, name)
	cancel()
	if err != nil {
		// No information; leave state alone.
		log.Printf("Health poll failed for %s, keeping state: %v", name, err)
		return
	}

	if !running {
		// The server process is gone. A full disconnect (not just a flag
		// flip) releases whatever session the backend still holds.
		log.Printf("Server %s stopped, disconnecting RCON", name)
		if err := m.sessions.Disconnect(ctx, name); err != nil {
			log.Printf("Failed to disconnect RCON for stopped server %s: %v", name, err)
		}
		return
	}

	// Process alive: catch silent RCON drops.
	opCtx, cancel = context.WithTimeout(ctx, m.sessions.opTimeout)
	connected, err := m.gw.IsRconConnected(opCtx, name)
	cancel()
	if err != nil {
		log.Printf("RCON reachability poll failed for %s, keeping state: %v", name, err)
		return
	}

	if connected != conn.IsConnected {
		state := StateDisconnected
		if connected {
			state = StateConnected
		}
		log.Printf("RCON state for %s corrected to %v", name, state)
		m.registry.Apply(name, Patch{State: &state})
	}
}
