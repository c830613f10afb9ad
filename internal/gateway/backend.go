package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/D4ffi/allay-app/internal/rcon"
	"github.com/D4ffi/allay-app/internal/server"
)

// Backend connects the session layer to the concrete machinery: the
// process manager for liveness, the instance store for configuration,
// and one RCON wire client per server.
type Backend struct {
	procs   *server.ProcessManager
	store   *server.Store
	logsDir string

	mu      sync.Mutex
	clients map[string]*rcon.Client
	configs map[string]rcon.Config
	loggers map[string]*rcon.Logger
}

var (
	_ rcon.Gateway   = (*Backend)(nil)
	_ server.Backend = (*Backend)(nil)
)

// NewBackend wires the gateway over a process manager and instance store.
// RCON activity logs are written under logsDir/<server>/rcon.log.
func NewBackend(procs *server.ProcessManager, store *server.Store, logsDir string) *Backend {
	return &Backend{
		procs:   procs,
		store:   store,
		logsDir: logsDir,
		clients: make(map[string]*rcon.Client),
		configs: make(map[string]rcon.Config),
		loggers: make(map[string]*rcon.Logger),
	}
}

// CheckServerRunning reports whether the server's process is alive.
func (b *Backend) CheckServerRunning(ctx context.Context, serverName string) (bool, error) {
	return b.procs.IsRunning(serverName), nil
}

// GetRconPassword reads the password from the instance's server.properties.
func (b *Backend) GetRconPassword(ctx context.Context, serverName string) (string, error) {
	props, err := server.LoadProperties(b.store.InstanceDir(serverName))
	if err != nil {
		return "", err
	}
	password := props.RconPassword()
	if password == "" {
		return "", fmt.Errorf("no RCON password configured for %s", serverName)
	}
	return password, nil
}

// ConfigureRcon replaces the server's wire client with one built from cfg
// and mirrors the settings into server.properties so the next server boot
// picks them up.
func (b *Backend) ConfigureRcon(ctx context.Context, serverName string, cfg rcon.Config) error {
	b.mu.Lock()
	if old, ok := b.clients[serverName]; ok {
		old.Close()
	}
	b.clients[serverName] = rcon.NewClient(cfg.Host, cfg.Port, cfg.Password)
	b.configs[serverName] = cfg
	b.mu.Unlock()

	// Best effort: the file may not exist yet for a never-started server.
	props, err := server.LoadProperties(b.store.InstanceDir(serverName))
	if err == nil {
		if err := props.EnableRcon(cfg.Port, cfg.Password); err != nil {
			b.logger(serverName).Info(fmt.Sprintf("could not persist RCON settings: %v", err))
		}
	}
	return nil
}

// ConnectRcon dials and authenticates the server's client.
func (b *Backend) ConnectRcon(ctx context.Context, serverName string) error {
	client, cfg, err := b.client(serverName)
	if err != nil {
		return err
	}

	if err := client.Connect(ctx); err != nil {
		b.logger(serverName).ConnectionFailed(cfg.Host, cfg.Port, err)
		return err
	}
	b.logger(serverName).Connection(cfg.Host, cfg.Port)
	return nil
}

// IsRconConnected reports whether the client holds an authenticated session.
func (b *Backend) IsRconConnected(ctx context.Context, serverName string) (bool, error) {
	b.mu.Lock()
	client, ok := b.clients[serverName]
	b.mu.Unlock()
	if !ok {
		return false, nil
	}
	return client.Connected(), nil
}

// DisconnectRcon closes the server's client connection.
func (b *Backend) DisconnectRcon(ctx context.Context, serverName string) error {
	b.mu.Lock()
	client, ok := b.clients[serverName]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	if err := client.Close(); err != nil {
		return err
	}
	b.logger(serverName).Disconnection()
	return nil
}

// ExecuteRconCommand runs a console command over the server's client.
func (b *Backend) ExecuteRconCommand(ctx context.Context, serverName, command string) (string, error) {
	client, _, err := b.client(serverName)
	if err != nil {
		return "", err
	}

	lg := b.logger(serverName)
	lg.Command(command)
	resp, err := client.Run(ctx, command)
	if err != nil {
		lg.CommandError(command, err)
		return "", err
	}
	lg.CommandResponse(resp)
	return resp, nil
}

// TestRconConnection probes the session with a harmless command. A clean
// refusal (not connected, bad auth) is a false result, not an error.
func (b *Backend) TestRconConnection(ctx context.Context, serverName string) (bool, error) {
	client, _, err := b.client(serverName)
	if err != nil {
		return false, nil
	}
	if _, err := client.Run(ctx, "list"); err != nil {
		if errors.Is(err, rcon.ErrNotConnected) || errors.Is(err, rcon.ErrAuthFailed) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// LoaderKind looks up the loader of a stored instance.
func (b *Backend) LoaderKind(serverName string) (string, error) {
	inst, err := b.store.Get(serverName)
	if err != nil {
		return "", err
	}
	return inst.Loader, nil
}

// StartServer launches the instance's process.
func (b *Backend) StartServer(serverName, loader string) error {
	inst, err := b.store.Get(serverName)
	if err != nil {
		return err
	}
	return b.procs.Start(serverName, loader, inst.MemoryMB)
}

// StopServer stops the instance's process.
func (b *Backend) StopServer(serverName string) error {
	return b.procs.Stop(serverName)
}

// CloseAll shuts down every wire client and log file.
func (b *Backend) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, client := range b.clients {
		client.Close()
	}
	for _, lg := range b.loggers {
		lg.Close()
	}
	b.clients = make(map[string]*rcon.Client)
	b.loggers = make(map[string]*rcon.Logger)
}

func (b *Backend) client(serverName string) (*rcon.Client, rcon.Config, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	client, ok := b.clients[serverName]
	if !ok {
		return nil, rcon.Config{}, fmt.Errorf("RCON not configured for %s", serverName)
	}
	return client, b.configs[serverName], nil
}

// logger returns the per-server activity log, creating it on first use.
// Logging must never break a connection, so failures degrade to a no-op.
func (b *Backend) logger(serverName string) *rcon.Logger {
	b.mu.Lock()
	defer b.mu.Unlock()
	if lg, ok := b.loggers[serverName]; ok {
		return lg
	}
	lg, err := rcon.NewLogger(b.logsDir, serverName)
	if err != nil {
		lg = &rcon.Logger{}
	}
	b.loggers[serverName] = lg
	return lg
}
