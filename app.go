package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/D4ffi/allay-app/internal/config"
	"github.com/D4ffi/allay-app/internal/gateway"
	"github.com/D4ffi/allay-app/internal/model"
	"github.com/D4ffi/allay-app/internal/rcon"
	"github.com/D4ffi/allay-app/internal/server"
)

const healthPollInterval = 5 * time.Second

// App struct holds the application state and dependencies
type App struct {
	ctx context.Context

	store    *server.Store
	procs    *server.ProcessManager
	backend  *gateway.Backend
	statuses *server.StatusRegistry
	registry *rcon.Registry
	sessions *rcon.Coordinator
	monitor  *rcon.Monitor

	// Stream cancellation
	streamMu      sync.Mutex
	activeStreams map[string]context.CancelFunc
}

// NewApp creates a new App instance
func NewApp(cfg *config.Config) *App {
	store := server.NewStore(cfg.StorageDir)
	procs := server.NewProcessManager(cfg.StorageDir)
	backend := gateway.NewBackend(procs, store, cfg.LogsDir)
	statuses := server.NewStatusRegistry(backend)
	registry := rcon.NewRegistry()
	sessions := rcon.NewCoordinator(registry, backend)
	monitor := rcon.NewMonitor(registry, sessions, backend, healthPollInterval)

	return &App{
		store:         store,
		procs:         procs,
		backend:       backend,
		statuses:      statuses,
		registry:      registry,
		sessions:      sessions,
		monitor:       monitor,
		activeStreams: make(map[string]context.CancelFunc),
	}
}

// Startup is called when the app starts
func (a *App) Startup(ctx context.Context) {
	a.ctx = ctx

	a.registry.SetOnChange(func(conn rcon.Connection) {
		runtime.EventsEmit(a.ctx, "allay:rcon:state", map[string]interface{}{
			"server":       conn.ServerName,
			"isConnected":  conn.IsConnected,
			"isConnecting": conn.IsConnecting,
			"error":        conn.Error,
		})
	})

	a.statuses.SetOnChange(func(ev model.StatusEvent) {
		runtime.EventsEmit(a.ctx, "allay:server:status", map[string]interface{}{
			"server":    ev.ServerName,
			"oldStatus": ev.OldStatus,
			"newStatus": ev.NewStatus,
			"timestamp": ev.Timestamp,
		})
	})

	// When a server process dies on its own, fold that back into status.
	a.procs.SetOnExit(func(serverName string, err error, lastOutput []string) {
		a.statuses.Set(serverName, server.StatusOffline)
	})

	go a.monitor.Start(a.ctx)
}

// Shutdown is called when the app is closing
func (a *App) Shutdown(ctx context.Context) {
	// Cancel all active streams
	a.streamMu.Lock()
	for _, cancel := range a.activeStreams {
		cancel()
	}
	a.activeStreams = make(map[string]context.CancelFunc)
	a.streamMu.Unlock()

	a.monitor.Stop()
	a.backend.CloseAll()
	a.procs.StopAll()
}

// ====================
// Servers API
// ====================

// ListServers returns all server instances with live status attached
func (a *App) ListServers() ([]model.ServerView, error) {
	instances, err := a.store.List()
	if err != nil {
		return nil, err
	}

	views := make([]model.ServerView, 0, len(instances))
	for _, inst := range instances {
		view := model.ServerView{
			ServerInstance: inst,
			Status:         string(a.statuses.Get(inst.Name)),
			PID:            a.procs.GetPID(inst.Name),
		}
		if conn, ok := a.registry.Get(inst.Name); ok {
			view.RconConnected = conn.IsConnected
		}
		views = append(views, view)
	}
	return views, nil
}

// CreateServer registers a new server instance and seeds its directory
func (a *App) CreateServer(inst model.ServerInstance) (map[string]string, error) {
	if err := a.store.Add(inst); err != nil {
		return nil, err
	}

	dir := a.store.InstanceDir(inst.Name)
	if err := server.WriteEula(dir); err != nil {
		return nil, err
	}
	if err := server.WriteDefaultProperties(dir, inst.Name); err != nil {
		return nil, err
	}

	return map[string]string{"message": fmt.Sprintf("Server instance '%s' created successfully", inst.Name)}, nil
}

// RemoveServer deletes a server instance from the library
func (a *App) RemoveServer(name string) (map[string]string, error) {
	if name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if a.procs.IsRunning(name) {
		return nil, fmt.Errorf("server %s is running; stop it first", name)
	}
	if err := a.store.Remove(name); err != nil {
		return nil, err
	}
	return map[string]string{"message": fmt.Sprintf("Removed %s", name)}, nil
}

// ReorderServers saves the user's display order
func (a *App) ReorderServers(names []string) (map[string]string, error) {
	if err := a.store.SetOrder(names); err != nil {
		return nil, err
	}
	return map[string]string{"message": "Server order saved"}, nil
}

// StartServer launches a server instance
func (a *App) StartServer(name string) (map[string]string, error) {
	if name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if err := a.statuses.Start(name); err != nil {
		return nil, err
	}
	return map[string]string{"message": fmt.Sprintf("Started %s", name)}, nil
}

// StopServer stops a server instance
func (a *App) StopServer(name string) (map[string]string, error) {
	if name == "" {
		return nil, fmt.Errorf("server name is required")
	}

	// Drop the RCON session first so the monitor doesn't race the stop.
	_ = a.sessions.Disconnect(a.ctx, name)

	if err := a.statuses.Stop(name); err != nil {
		return nil, err
	}
	return map[string]string{"message": fmt.Sprintf("Stopped %s", name)}, nil
}

// ServerStatus returns the last known status of one server
func (a *App) ServerStatus(name string) string {
	return string(a.statuses.Get(name))
}

// AllServerStatuses returns the status of every tracked server
func (a *App) AllServerStatuses() map[string]string {
	all := a.statuses.All()
	out := make(map[string]string, len(all))
	for name, s := range all {
		out[name] = string(s)
	}
	return out
}

// GetServerOutput returns the last console lines for a server (e.g. crash reason)
func (a *App) GetServerOutput(name string) []string {
	return a.procs.GetLastOutput(name)
}

// ====================
// RCON API
// ====================

// ConnectRcon connects the RCON session for a server using its stored settings
func (a *App) ConnectRcon(name string) error {
	if name == "" {
		return fmt.Errorf("server name is required")
	}
	return a.sessions.Connect(a.ctx, name, rcon.Config{})
}

// ConnectRconWithConfig connects the RCON session with explicit settings
func (a *App) ConnectRconWithConfig(name, host string, port int, password string) error {
	if name == "" {
		return fmt.Errorf("server name is required")
	}
	return a.sessions.Connect(a.ctx, name, rcon.Config{Host: host, Port: port, Password: password})
}

// DisconnectRcon drops the RCON session for a server
func (a *App) DisconnectRcon(name string) error {
	return a.sessions.Disconnect(a.ctx, name)
}

// SendRconCommand runs a console command over RCON and emits the response
// to the console feed
func (a *App) SendRconCommand(name, command string) (string, error) {
	if command == "" {
		return "", fmt.Errorf("command is required")
	}

	resp, err := a.sessions.Execute(a.ctx, name, command)
	if err != nil {
		runtime.EventsEmit(a.ctx, "allay:console", map[string]interface{}{
			"server": name,
			"line":   fmt.Sprintf("[ERROR] %v", err),
		})
		return "", fmt.Errorf("server %q is unreachable", name)
	}

	runtime.EventsEmit(a.ctx, "allay:console", map[string]interface{}{
		"server": name,
		"line":   resp,
	})
	return resp, nil
}

// RconState returns the RCON connection snapshot for one server
func (a *App) RconState(name string) map[string]interface{} {
	conn, _ := a.registry.Get(name)
	return map[string]interface{}{
		"server":       name,
		"isConnected":  conn.IsConnected,
		"isConnecting": conn.IsConnecting,
		"error":        conn.Error,
	}
}

// AllRconStates returns the RCON connection snapshot for every server
func (a *App) AllRconStates() []map[string]interface{} {
	snaps := a.registry.Snapshot()
	out := make([]map[string]interface{}, 0, len(snaps))
	for _, conn := range snaps {
		out = append(out, map[string]interface{}{
			"server":       conn.ServerName,
			"isConnected":  conn.IsConnected,
			"isConnecting": conn.IsConnecting,
			"error":        conn.Error,
		})
	}
	return out
}

// TestRcon probes whether the RCON session actually works
func (a *App) TestRcon(name string) (bool, error) {
	return a.sessions.Test(a.ctx, name)
}

// ====================
// Console stream API
// ====================

// StartConsoleStream starts streaming server console output
// Emits: allay:console and allay:console:done
func (a *App) StartConsoleStream(name string) error {
	if name == "" {
		return fmt.Errorf("server name is required")
	}

	streamID := fmt.Sprintf("console:%s", name)
	ctx, cancel := context.WithCancel(a.ctx)

	a.streamMu.Lock()
	if existing, ok := a.activeStreams[streamID]; ok {
		existing()
	}
	a.activeStreams[streamID] = cancel
	a.streamMu.Unlock()

	go func() {
		defer func() {
			a.streamMu.Lock()
			delete(a.activeStreams, streamID)
			a.streamMu.Unlock()
		}()

		logCh, unsubscribe := a.procs.SubscribeLogs(name)
		defer unsubscribe()

		runtime.EventsEmit(a.ctx, "allay:console", map[string]interface{}{
			"server": name,
			"line":   fmt.Sprintf("[Connected to %s console]", name),
		})

		for {
			select {
			case <-ctx.Done():
				return
			case line, ok := <-logCh:
				if !ok {
					runtime.EventsEmit(a.ctx, "allay:console", map[string]interface{}{
						"server": name,
						"line":   "[Console stream ended]",
					})
					runtime.EventsEmit(a.ctx, "allay:console:done", map[string]interface{}{
						"server": name,
					})
					return
				}
				runtime.EventsEmit(a.ctx, "allay:console", map[string]interface{}{
					"server": name,
					"line":   line,
				})
			}
		}
	}()

	return nil
}

// StopConsoleStream stops an active console stream
func (a *App) StopConsoleStream(name string) {
	streamID := fmt.Sprintf("console:%s", name)
	a.streamMu.Lock()
	if cancel, ok := a.activeStreams[streamID]; ok {
		cancel()
		delete(a.activeStreams, streamID)
	}
	a.streamMu.Unlock()
}

// ====================
// Prerequisites API
// ====================

// GetPrerequisites returns the status of tools servers need on this machine
func (a *App) GetPrerequisites() ([]model.Prerequisite, error) {
	return server.CheckPrerequisites(), nil
}
