package rcon

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Gateway is the slice of the backend command surface the RCON core drives.
// The production implementation lives in internal/gateway; tests substitute
// func-field fakes.
type Gateway interface {
	CheckServerRunning(ctx context.Context, serverName string) (bool, error)
	GetRconPassword(ctx context.Context, serverName string) (string, error)
	ConfigureRcon(ctx context.Context, serverName string, cfg Config) error
	ConnectRcon(ctx context.Context, serverName string) error
	IsRconConnected(ctx context.Context, serverName string) (bool, error)
	DisconnectRcon(ctx context.Context, serverName string) error
	ExecuteRconCommand(ctx context.Context, serverName, command string) (string, error)
	TestRconConnection(ctx context.Context, serverName string) (bool, error)
}

// defaultOpTimeout bounds every gateway call so a hung backend transitions
// the session to Failed instead of pinning it in Connecting forever.
const defaultOpTimeout = 10 * time.Second

// Coordinator orchestrates the connect/disconnect/execute protocol per
// server, keeping the Registry consistent with what the gateway reports.
type Coordinator struct {
	registry  *Registry
	gw        Gateway
	opTimeout time.Duration
}

// NewCoordinator creates a session coordinator over the given registry and gateway
func NewCoordinator(registry *Registry, gw Gateway) *Coordinator {
	return &Coordinator{
		registry:  registry,
		gw:        gw,
		opTimeout: defaultOpTimeout,
	}
}

// Connect establishes the RCON session for a server. A zero-value config
// means "use the defaults". If an attempt is already in flight for this
// server the call is a no-op.
//
// The configured password is only a fallback: the per-server password is
// fetched from the gateway first and supersedes it. A failed fetch is logged
// and the fallback used; every other failure marks the session Failed and is
// returned to the caller.
func (c *Coordinator) Connect(ctx context.Context, serverName string, cfg Config) error {
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}

	// The gate must be taken before the first suspension point so that a
	// second Connect racing with this one sees Connecting and backs off.
	if !c.registry.TryBeginConnect(serverName) {
		return nil
	}

	working := cfg
	password, err := c.fetchPassword(ctx, serverName)
	if err != nil {
		log.Printf("RCON password lookup failed for %s, using configured default: %v", serverName, err)
	} else if password != "" {
		working.Password = password
	}

	if err := c.configure(ctx, serverName, working); err != nil {
		return c.fail(serverName, fmt.Errorf("Failed to setup RCON: %v", err))
	}

	if err := c.connectRcon(ctx, serverName); err != nil {
		return c.fail(serverName, fmt.Errorf("Failed to connect RCON: %v", err))
	}

	// Confirm the actual state rather than trusting the connect call's
	// mere absence of failure.
	connected, err := c.isConnected(ctx, serverName)
	if err != nil {
		return c.fail(serverName, fmt.Errorf("Failed to verify RCON connection: %v", err))
	}

	state := StateDisconnected
	if connected {
		state = StateConnected
	}
	empty := ""
	c.registry.Apply(serverName, Patch{State: &state, Error: &empty, Config: &working})
	return nil
}

// Disconnect tears down the RCON session. A failed disconnect records the
// error but leaves the connection state unchanged; failing to disconnect
// does not tell us whether the session is alive.
func (c *Coordinator) Disconnect(ctx context.Context, serverName string) error {
	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	err := c.gw.DisconnectRcon(opCtx, serverName)
	cancel()
	if err != nil {
		msg := err.Error()
		c.registry.Apply(serverName, Patch{Error: &msg})
		return err
	}

	state := StateDisconnected
	empty := ""
	c.registry.Apply(serverName, Patch{State: &state, Error: &empty})
	return nil
}

// Execute runs a console command over the server's RCON session and returns
// the response. Execution doubles as the cheapest liveness probe available:
// a success flips a disconnected entry to connected, a failure marks the
// session Failed immediately instead of waiting for the next monitor tick.
// Failures are always returned to the caller, never swallowed.
func (c *Coordinator) Execute(ctx context.Context, serverName, command string) (string, error) {
	empty := ""
	c.registry.Apply(serverName, Patch{Error: &empty})

	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	response, err := c.gw.ExecuteRconCommand(opCtx, serverName, command)
	cancel()
	if err != nil {
		state := StateFailed
		msg := err.Error()
		c.registry.Apply(serverName, Patch{State: &state, Error: &msg})
		return "", err
	}

	if conn, ok := c.registry.Get(serverName); !ok || (!conn.IsConnected && !conn.IsConnecting) {
		state := StateConnected
		c.registry.Apply(serverName, Patch{State: &state, Error: &empty})
	}
	return response, nil
}

// Test probes the RCON endpoint without touching registry state.
func (c *Coordinator) Test(ctx context.Context, serverName string) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	return c.gw.TestRconConnection(opCtx, serverName)
}

func (c *Coordinator) fetchPassword(ctx context.Context, serverName string) (string, error) {
	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	return c.gw.GetRconPassword(opCtx, serverName)
}

func (c *Coordinator) configure(ctx context.Context, serverName string, cfg Config) error {
	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	return c.gw.ConfigureRcon(opCtx, serverName, cfg)
}

func (c *Coordinator) connectRcon(ctx context.Context, serverName string) error {
	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	return c.gw.ConnectRcon(opCtx, serverName)
}

func (c *Coordinator) isConnected(ctx context.Context, serverName string) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	return c.gw.IsRconConnected(opCtx, serverName)
}

// fail records the failure for UI display and returns it to the caller.
func (c *Coordinator) fail(serverName string, err error) error {
	state := StateFailed
	msg := err.Error()
	c.registry.Apply(serverName, Patch{State: &state, Error: &msg})
	return err
}
