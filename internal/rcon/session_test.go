package rcon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway is a func-field test double for the Gateway interface.
// Unset fields return zero values without error.
type fakeGateway struct {
	checkServerRunning func(ctx context.Context, serverName string) (bool, error)
	getRconPassword    func(ctx context.Context, serverName string) (string, error)
	configureRcon      func(ctx context.Context, serverName string, cfg Config) error
	connectRcon        func(ctx context.Context, serverName string) error
	isRconConnected    func(ctx context.Context, serverName string) (bool, error)
	disconnectRcon     func(ctx context.Context, serverName string) error
	executeRconCommand func(ctx context.Context, serverName, command string) (string, error)
	testRconConnection func(ctx context.Context, serverName string) (bool, error)
}

func (g *fakeGateway) CheckServerRunning(ctx context.Context, serverName string) (bool, error) {
	if g.checkServerRunning != nil {
		return g.checkServerRunning(ctx, serverName)
	}
	return false, nil
}

func (g *fakeGateway) GetRconPassword(ctx context.Context, serverName string) (string, error) {
	if g.getRconPassword != nil {
		return g.getRconPassword(ctx, serverName)
	}
	return "", nil
}

func (g *fakeGateway) ConfigureRcon(ctx context.Context, serverName string, cfg Config) error {
	if g.configureRcon != nil {
		return g.configureRcon(ctx, serverName, cfg)
	}
	return nil
}

func (g *fakeGateway) ConnectRcon(ctx context.Context, serverName string) error {
	if g.connectRcon != nil {
		return g.connectRcon(ctx, serverName)
	}
	return nil
}

func (g *fakeGateway) IsRconConnected(ctx context.Context, serverName string) (bool, error) {
	if g.isRconConnected != nil {
		return g.isRconConnected(ctx, serverName)
	}
	return false, nil
}

func (g *fakeGateway) DisconnectRcon(ctx context.Context, serverName string) error {
	if g.disconnectRcon != nil {
		return g.disconnectRcon(ctx, serverName)
	}
	return nil
}

func (g *fakeGateway) ExecuteRconCommand(ctx context.Context, serverName, command string) (string, error) {
	if g.executeRconCommand != nil {
		return g.executeRconCommand(ctx, serverName, command)
	}
	return "", nil
}

func (g *fakeGateway) TestRconConnection(ctx context.Context, serverName string) (bool, error) {
	if g.testRconConnection != nil {
		return g.testRconConnection(ctx, serverName)
	}
	return false, nil
}

// TestConnectHappyPath walks a full connect for server "Survival" with a
// per-server password: fetch supersedes the fallback, configure and connect
// succeed, verification confirms, and the registry ends Connected with the
// working config recorded.
func TestConnectHappyPath(t *testing.T) {
	registry := NewRegistry()

	var configured Config
	gw := &fakeGateway{
		getRconPassword: func(ctx context.Context, serverName string) (string, error) {
			return "abc123", nil
		},
		configureRcon: func(ctx context.Context, serverName string, cfg Config) error {
			configured = cfg
			return nil
		},
		isRconConnected: func(ctx context.Context, serverName string) (bool, error) {
			return true, nil
		},
	}
	sessions := NewCoordinator(registry, gw)

	err := sessions.Connect(context.Background(), "Survival", Config{})
	require.NoError(t, err)

	// The fetched password supersedes the default fallback.
	assert.Equal(t, "abc123", configured.Password)
	assert.Equal(t, "127.0.0.1", configured.Host)
	assert.Equal(t, 25575, configured.Port)

	conn, ok := registry.Get("Survival")
	require.True(t, ok)
	assert.True(t, conn.IsConnected)
	assert.False(t, conn.IsConnecting)
	assert.Empty(t, conn.Error)
	assert.Equal(t, "abc123", conn.Config.Password)
}

// TestConnectPasswordFallback verifies that a failed password lookup is
// tolerated: the configured password is used and the connect proceeds.
func TestConnectPasswordFallback(t *testing.T) {
	registry := NewRegistry()

	var configured Config
	gw := &fakeGateway{
		getRconPassword: func(ctx context.Context, serverName string) (string, error) {
			return "", errors.New("no server.properties yet")
		},
		configureRcon: func(ctx context.Context, serverName string, cfg Config) error {
			configured = cfg
			return nil
		},
		isRconConnected: func(ctx context.Context, serverName string) (bool, error) {
			return true, nil
		},
	}
	sessions := NewCoordinator(registry, gw)

	err := sessions.Connect(context.Background(), "Survival", Config{Host: "127.0.0.1", Port: 25575, Password: "fallback"})
	require.NoError(t, err)
	assert.Equal(t, "fallback", configured.Password)

	conn, _ := registry.Get("Survival")
	assert.True(t, conn.IsConnected)
}

// TestConnectConfigureFailure verifies the "Failed to setup RCON" error
// path: the session ends Failed with the wrapped message visible to the UI.
func TestConnectConfigureFailure(t *testing.T) {
	registry := NewRegistry()

	gw := &fakeGateway{
		configureRcon: func(ctx context.Context, serverName string, cfg Config) error {
			return errors.New("ECONNREFUSED")
		},
	}
	sessions := NewCoordinator(registry, gw)

	err := sessions.Connect(context.Background(), "Survival", Config{})
	require.Error(t, err)
	assert.Equal(t, "Failed to setup RCON: ECONNREFUSED", err.Error())

	conn, ok := registry.Get("Survival")
	require.True(t, ok)
	assert.False(t, conn.IsConnected)
	assert.False(t, conn.IsConnecting)
	assert.Equal(t, "Failed to setup RCON: ECONNREFUSED", conn.Error)
}

// TestConnectConnectFailure verifies the "Failed to connect RCON" error path.
func TestConnectConnectFailure(t *testing.T) {
	registry := NewRegistry()

	gw := &fakeGateway{
		connectRcon: func(ctx context.Context, serverName string) error {
			return errors.New("connection refused")
		},
	}
	sessions := NewCoordinator(registry, gw)

	err := sessions.Connect(context.Background(), "Survival", Config{})
	require.Error(t, err)
	assert.Equal(t, "Failed to connect RCON: connection refused", err.Error())

	conn, _ := registry.Get("Survival")
	assert.Equal(t, "Failed to connect RCON: connection refused", conn.Error)
}

// TestConnectVerificationDisagrees verifies that when the connect call
// succeeds but the backend reports no live session, the registry ends
// Disconnected without an error rather than claiming success.
func TestConnectVerificationDisagrees(t *testing.T) {
	registry := NewRegistry()

	gw := &fakeGateway{
		isRconConnected: func(ctx context.Context, serverName string) (bool, error) {
			return false, nil
		},
	}
	sessions := NewCoordinator(registry, gw)

	err := sessions.Connect(context.Background(), "Survival", Config{})
	require.NoError(t, err)

	conn, _ := registry.Get("Survival")
	assert.False(t, conn.IsConnected)
	assert.False(t, conn.IsConnecting)
	assert.Empty(t, conn.Error)
}

// TestConnectDoubleAttempt verifies the at-most-one gate: a second Connect
// issued while the first is still in flight returns immediately without
// driving the gateway a second time.
func TestConnectDoubleAttempt(t *testing.T) {
	registry := NewRegistry()

	var mu sync.Mutex
	connectCalls := 0
	release := make(chan struct{})

	gw := &fakeGateway{
		connectRcon: func(ctx context.Context, serverName string) error {
			mu.Lock()
			connectCalls++
			mu.Unlock()
			<-release
			return nil
		},
		isRconConnected: func(ctx context.Context, serverName string) (bool, error) {
			return true, nil
		},
	}
	sessions := NewCoordinator(registry, gw)

	done := make(chan error, 1)
	go func() {
		done <- sessions.Connect(context.Background(), "Survival", Config{})
	}()

	// Wait for the first attempt to reach the blocking connect call.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connectCalls == 1
	}, time.Second, 5*time.Millisecond)

	// Second attempt must back off without touching the gateway.
	err := sessions.Connect(context.Background(), "Survival", Config{})
	assert.NoError(t, err)

	close(release)
	require.NoError(t, <-done)

	mu.Lock()
	assert.Equal(t, 1, connectCalls)
	mu.Unlock()

	conn, _ := registry.Get("Survival")
	assert.True(t, conn.IsConnected)
}

// TestDisconnectSuccess verifies a clean teardown ends Disconnected with a
// cleared error.
func TestDisconnectSuccess(t *testing.T) {
	registry := NewRegistry()
	state := StateConnected
	msg := "stale"
	registry.Apply("Survival", Patch{State: &state, Error: &msg})

	sessions := NewCoordinator(registry, &fakeGateway{})

	require.NoError(t, sessions.Disconnect(context.Background(), "Survival"))

	conn, _ := registry.Get("Survival")
	assert.False(t, conn.IsConnected)
	assert.False(t, conn.IsConnecting)
	assert.Empty(t, conn.Error)
}

// TestDisconnectFailureKeepsState verifies that a failed disconnect records
// the error but does not change the connection state, since the session may
// well still be alive.
func TestDisconnectFailureKeepsState(t *testing.T) {
	registry := NewRegistry()
	state := StateConnected
	registry.Apply("Survival", Patch{State: &state})

	gw := &fakeGateway{
		disconnectRcon: func(ctx context.Context, serverName string) error {
			return errors.New("backend unavailable")
		},
	}
	sessions := NewCoordinator(registry, gw)

	err := sessions.Disconnect(context.Background(), "Survival")
	require.Error(t, err)

	conn, _ := registry.Get("Survival")
	assert.True(t, conn.IsConnected, "state must survive a failed disconnect")
	assert.Equal(t, "backend unavailable", conn.Error)
}

// TestExecuteSuccessConfirmsLiveness verifies that a successful command on
// a server the registry thought was disconnected flips it to Connected.
func TestExecuteSuccessConfirmsLiveness(t *testing.T) {
	registry := NewRegistry()

	gw := &fakeGateway{
		executeRconCommand: func(ctx context.Context, serverName, command string) (string, error) {
			return "There are 3 of a max of 20 players online", nil
		},
	}
	sessions := NewCoordinator(registry, gw)

	resp, err := sessions.Execute(context.Background(), "Survival", "list")
	require.NoError(t, err)
	assert.Equal(t, "There are 3 of a max of 20 players online", resp)

	conn, ok := registry.Get("Survival")
	require.True(t, ok)
	assert.True(t, conn.IsConnected)
	assert.Empty(t, conn.Error)
}

// TestExecuteSuccessDoesNotDisturbConnecting verifies that a command racing
// an in-flight connect attempt does not stomp the Connecting state.
func TestExecuteSuccessDoesNotDisturbConnecting(t *testing.T) {
	registry := NewRegistry()
	require.True(t, registry.TryBeginConnect("Survival"))

	sessions := NewCoordinator(registry, &fakeGateway{
		executeRconCommand: func(ctx context.Context, serverName, command string) (string, error) {
			return "ok", nil
		},
	})

	_, err := sessions.Execute(context.Background(), "Survival", "list")
	require.NoError(t, err)

	conn, _ := registry.Get("Survival")
	assert.True(t, conn.IsConnecting)
	assert.False(t, conn.IsConnected)
}

// TestExecuteFailure verifies that a failed command marks the session
// Failed, records the message, and surfaces the error to the caller.
func TestExecuteFailure(t *testing.T) {
	registry := NewRegistry()
	state := StateConnected
	registry.Apply("Survival", Patch{State: &state})

	gw := &fakeGateway{
		executeRconCommand: func(ctx context.Context, serverName, command string) (string, error) {
			return "", errors.New("broken pipe")
		},
	}
	sessions := NewCoordinator(registry, gw)

	_, err := sessions.Execute(context.Background(), "Survival", "list")
	require.Error(t, err)
	assert.Equal(t, "broken pipe", err.Error())

	conn, _ := registry.Get("Survival")
	assert.False(t, conn.IsConnected)
	assert.Equal(t, "broken pipe", conn.Error)
}

// TestExecuteClearsPreviousError verifies that each execution starts with a
// clean error slate so stale failures don't linger in the UI.
func TestExecuteClearsPreviousError(t *testing.T) {
	registry := NewRegistry()
	state := StateConnected
	msg := "old failure"
	registry.Apply("Survival", Patch{State: &state, Error: &msg})

	sessions := NewCoordinator(registry, &fakeGateway{
		executeRconCommand: func(ctx context.Context, serverName, command string) (string, error) {
			return "done", nil
		},
	})

	_, err := sessions.Execute(context.Background(), "Survival", "say hi")
	require.NoError(t, err)

	conn, _ := registry.Get("Survival")
	assert.Empty(t, conn.Error)
	assert.True(t, conn.IsConnected)
}

// TestTestPassthrough verifies that Test reports the gateway's probe result
// without touching registry state.
func TestTestPassthrough(t *testing.T) {
	registry := NewRegistry()

	sessions := NewCoordinator(registry, &fakeGateway{
		testRconConnection: func(ctx context.Context, serverName string) (bool, error) {
			return true, nil
		},
	})

	ok, err := sessions.Test(context.Background(), "Survival")
	require.NoError(t, err)
	assert.True(t, ok)

	_, exists := registry.Get("Survival")
	assert.False(t, exists, "Test must not create registry entries")
}
