package server

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/D4ffi/allay-app/internal/model"
)

// ProcessState represents the lifecycle state of a managed server process
type ProcessState string

const (
	ProcessStopped  ProcessState = "stopped"
	ProcessStarting ProcessState = "starting"
	ProcessRunning  ProcessState = "running"
	ProcessStopping ProcessState = "stopping"
	ProcessError    ProcessState = "error"
)

const maxLastOutputLines = 50

// stopTimeout is how long a graceful "stop" gets before the process is killed.
const stopTimeout = 30 * time.Second

// ManagedServer represents a running Minecraft server process
type ManagedServer struct {
	Name      string
	State     ProcessState
	PID       int
	Cmd       *exec.Cmd
	Stdin     io.WriteCloser
	StartTime time.Time
	Error     error

	// Console streaming
	logMu         sync.RWMutex
	subscribers   map[chan string]struct{}
	done          chan struct{}
	lastOutput    []string // last N lines of stdout/stderr for failed servers
	onConsoleLine func(line string)
}

// ServerExitCallback is called when a server process exits (optional, for the UI feed).
type ServerExitCallback func(serverName string, err error, lastOutput []string)

// ConsoleLineCallback is called for each stdout/stderr line from a server (optional, for the UI feed).
type ConsoleLineCallback func(serverName string, line string)

// ProcessManager tracks running Minecraft server processes.
// Server working directories live under storageDir/<name>.
type ProcessManager struct {
	mu            sync.RWMutex
	servers       map[string]*ManagedServer
	storageDir    string
	onExit        ServerExitCallback
	onConsoleLine ConsoleLineCallback
}

// NewProcessManager creates a new process manager
func NewProcessManager(storageDir string) *ProcessManager {
	return &ProcessManager{
		servers:    make(map[string]*ManagedServer),
		storageDir: storageDir,
	}
}

// SetOnExit sets a callback invoked when a server process exits.
func (pm *ProcessManager) SetOnExit(cb ServerExitCallback) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.onExit = cb
}

// SetOnConsoleLine sets a callback invoked for each stdout/stderr line from any server.
func (pm *ProcessManager) SetOnConsoleLine(cb ConsoleLineCallback) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.onConsoleLine = cb
}

// Start launches the server with the right command for its loader
func (pm *ProcessManager) Start(name, loader string, memoryMB int) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if proc, exists := pm.servers[name]; exists && (proc.State == ProcessRunning || proc.State == ProcessStarting) {
		return fmt.Errorf("server %s is already running", name)
	}

	dir := filepath.Join(pm.storageDir, name)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("server directory not found: %s", dir)
	}

	cmd, err := buildStartCommand(dir, loader, memoryMB)
	if err != nil {
		return err
	}
	cmd.Dir = dir
	setSysProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	proc := &ManagedServer{
		Name:        name,
		State:       ProcessStarting,
		Cmd:         cmd,
		Stdin:       stdin,
		subscribers: make(map[chan string]struct{}),
		done:        make(chan struct{}),
	}
	if pm.onConsoleLine != nil {
		cb := pm.onConsoleLine
		proc.onConsoleLine = func(line string) { cb(name, line) }
	}

	if err := cmd.Start(); err != nil {
		proc.State = ProcessError
		proc.Error = err
		return fmt.Errorf("failed to start server process: %w", err)
	}

	proc.PID = cmd.Process.Pid
	proc.StartTime = time.Now()

	go proc.captureOutput(stdout, "")
	go proc.captureOutput(stderr, "[stderr] ")

	go func() {
		err := cmd.Wait()
		pm.mu.Lock()

		close(proc.done)

		if err != nil {
			proc.State = ProcessError
			proc.Error = err
			log.Printf("Server %s exited with error: %v", name, err)
		} else {
			proc.State = ProcessStopped
			log.Printf("Server %s stopped", name)
		}

		proc.broadcast("[Process exited]")

		// Copy lastOutput and invoke exit callback (must not hold logMu long)
		var exitOutput []string
		proc.logMu.RLock()
		if len(proc.lastOutput) > 0 {
			exitOutput = make([]string, len(proc.lastOutput))
			copy(exitOutput, proc.lastOutput)
		}
		proc.logMu.RUnlock()
		cb := pm.onExit
		pm.mu.Unlock()

		if cb != nil {
			cb(name, err, exitOutput)
		}
	}()

	// Wait briefly to detect immediate failures (bad jar, missing java)
	pm.mu.Unlock()
	time.Sleep(500 * time.Millisecond)
	pm.mu.Lock()

	if proc.State == ProcessError {
		return proc.Error
	}

	proc.State = ProcessRunning
	pm.servers[name] = proc
	log.Printf("Started server %s (PID: %d)", name, proc.PID)

	return nil
}

// Stop asks the server to shut down by writing "stop" to its console,
// then kills it if it does not exit within stopTimeout.
func (pm *ProcessManager) Stop(name string) error {
	pm.mu.Lock()
	proc, exists := pm.servers[name]
	if !exists || (proc.State != ProcessRunning && proc.State != ProcessStarting) {
		pm.mu.Unlock()
		return nil
	}
	proc.State = ProcessStopping
	pm.mu.Unlock()

	graceful := false
	if proc.Stdin != nil {
		if _, err := io.WriteString(proc.Stdin, "stop\n"); err == nil {
			graceful = true
		}
	}
	if !graceful {
		terminateProcess(proc.Cmd)
	}

	select {
	case <-proc.done:
		// Clean exit
	case <-time.After(stopTimeout):
		forceKillProcess(proc.Cmd)
		<-proc.done
	}

	pm.mu.Lock()
	proc.State = ProcessStopped
	pm.mu.Unlock()

	log.Printf("Stopped server %s", name)
	return nil
}

// StopAll stops all running servers
func (pm *ProcessManager) StopAll() error {
	pm.mu.RLock()
	names := make([]string, 0, len(pm.servers))
	for name, proc := range pm.servers {
		if proc.State == ProcessRunning || proc.State == ProcessStarting {
			names = append(names, name)
		}
	}
	pm.mu.RUnlock()

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(n string) {
			defer wg.Done()
			pm.Stop(n)
		}(name)
	}
	wg.Wait()

	return nil
}

// IsRunning reports whether the named server process is alive
func (pm *ProcessManager) IsRunning(name string) bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	proc, exists := pm.servers[name]
	return exists && (proc.State == ProcessRunning || proc.State == ProcessStarting)
}

// GetStatus returns the process state of a server
func (pm *ProcessManager) GetStatus(name string) string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	proc, exists := pm.servers[name]
	if !exists {
		return string(ProcessStopped)
	}
	return string(proc.State)
}

// GetPID returns the PID of a running server
func (pm *ProcessManager) GetPID(name string) int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	proc, exists := pm.servers[name]
	if !exists || proc.State != ProcessRunning {
		return 0
	}
	return proc.PID
}

// GetError returns the error for a server in error state
func (pm *ProcessManager) GetError(name string) string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	proc, exists := pm.servers[name]
	if !exists || proc.Error == nil {
		return ""
	}
	return proc.Error.Error()
}

// GetLastOutput returns the last N console lines for a server (e.g. to show why it crashed)
func (pm *ProcessManager) GetLastOutput(name string) []string {
	pm.mu.RLock()
	proc, exists := pm.servers[name]
	pm.mu.RUnlock()
	if !exists {
		return nil
	}
	proc.logMu.RLock()
	defer proc.logMu.RUnlock()
	if len(proc.lastOutput) == 0 {
		return nil
	}
	out := make([]string, len(proc.lastOutput))
	copy(out, proc.lastOutput)
	return out
}

// SubscribeLogs subscribes to console output from a server
func (pm *ProcessManager) SubscribeLogs(name string) (<-chan string, func()) {
	pm.mu.RLock()
	proc, exists := pm.servers[name]
	pm.mu.RUnlock()

	ch := make(chan string, 100)

	if !exists {
		close(ch)
		return ch, func() {}
	}

	proc.logMu.Lock()
	proc.subscribers[ch] = struct{}{}
	proc.logMu.Unlock()

	unsubscribe := func() {
		proc.logMu.Lock()
		delete(proc.subscribers, ch)
		close(ch)
		proc.logMu.Unlock()
	}

	return ch, unsubscribe
}

// SendCommand writes a line to the server's console stdin.
func (pm *ProcessManager) SendCommand(name, command string) error {
	pm.mu.RLock()
	proc, exists := pm.servers[name]
	pm.mu.RUnlock()

	if !exists || proc.State != ProcessRunning || proc.Stdin == nil {
		return fmt.Errorf("server %s is not running", name)
	}
	_, err := io.WriteString(proc.Stdin, command+"\n")
	if err != nil {
		return fmt.Errorf("failed to write to server console: %w", err)
	}
	return nil
}

// buildStartCommand picks the launch command for the loader. Forge and
// NeoForge ship run scripts; every other loader launches a jar directly.
func buildStartCommand(dir, loader string, memoryMB int) (*exec.Cmd, error) {
	switch loader {
	case model.LoaderForge, model.LoaderNeoForge:
		return buildScriptCommand(dir, loader)
	default:
		return buildJarCommand(dir, loader, memoryMB)
	}
}

func buildScriptCommand(dir, loader string) (*exec.Cmd, error) {
	if runtime.GOOS == "windows" {
		script := filepath.Join(dir, "run.bat")
		if _, err := os.Stat(script); err != nil {
			return nil, fmt.Errorf("no run.bat found for %s server in %s", loader, dir)
		}
		return exec.Command("cmd", "/c", "run.bat"), nil
	}
	script := filepath.Join(dir, "run.sh")
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("no run.sh found for %s server in %s", loader, dir)
	}
	return exec.Command("bash", "run.sh"), nil
}

func buildJarCommand(dir, loader string, memoryMB int) (*exec.Cmd, error) {
	jar, err := findServerJar(dir, loader)
	if err != nil {
		return nil, err
	}

	memoryGB := memoryMB / 1024
	if memoryGB < 1 {
		memoryGB = 1
	}
	minGB := memoryGB / 2
	if minGB < 1 {
		minGB = 1
	}

	args := []string{
		fmt.Sprintf("-Xmx%dG", memoryGB),
		fmt.Sprintf("-Xms%dG", minGB),
		"-jar", jar,
		"nogui",
	}
	return exec.Command("java", args...), nil
}

// findServerJar locates the launch jar for a loader inside the server dir.
// Each loader names its jar differently; fall back to any jar present.
func findServerJar(dir, loader string) (string, error) {
	patterns := map[string][]string{
		model.LoaderVanilla: {"server-*.jar", "server.jar", "minecraft_server*.jar"},
		model.LoaderFabric:  {"fabric-server-mc.*-launcher.*.jar", "fabric-server-launch.jar"},
		model.LoaderPaper:   {"paper-*.jar"},
		model.LoaderQuilt:   {"quilt-server-launch.jar"},
	}

	for _, pattern := range patterns[loader] {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err == nil && len(matches) > 0 {
			return filepath.Base(matches[0]), nil
		}
	}

	// Fallback: any jar in the directory
	matches, err := filepath.Glob(filepath.Join(dir, "*.jar"))
	if err == nil && len(matches) > 0 {
		return filepath.Base(matches[0]), nil
	}

	return "", fmt.Errorf("no server jar found for %s server in %s", loader, dir)
}

// captureOutput reads from a reader and broadcasts to subscribers
func (proc *ManagedServer) captureOutput(reader io.Reader, prefix string) {
	scanner := bufio.NewScanner(reader)
	// Increase buffer size for long lines
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := prefix + scanner.Text()
		proc.broadcast(line)
		proc.appendLastOutput(line)
	}
}

// broadcast sends a console line to all subscribers and the optional callback
func (proc *ManagedServer) broadcast(line string) {
	if proc.onConsoleLine != nil {
		proc.onConsoleLine(line)
	}
	proc.logMu.RLock()
	defer proc.logMu.RUnlock()

	for ch := range proc.subscribers {
		select {
		case ch <- line:
		default:
			// Channel full, skip
		}
	}
}

// appendLastOutput keeps the last maxLastOutputLines for debugging failed starts
func (proc *ManagedServer) appendLastOutput(line string) {
	proc.logMu.Lock()
	defer proc.logMu.Unlock()
	proc.lastOutput = append(proc.lastOutput, line)
	if len(proc.lastOutput) > maxLastOutputLines {
		proc.lastOutput = proc.lastOutput[len(proc.lastOutput)-maxLastOutputLines:]
	}
}
