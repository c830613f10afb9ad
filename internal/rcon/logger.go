package rcon

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger appends RCON activity for one server to a per-server log file
// under the storage logs directory. All methods are best-effort; a logging
// failure never blocks the connection itself.
type Logger struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewLogger opens (or creates) logDir/<serverName>/rcon.log for appending.
func NewLogger(logDir, serverName string) (*Logger, error) {
	dir := filepath.Join(logDir, serverName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, "rcon.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return &Logger{path: path, file: f}, nil
}

func (l *Logger) Connection(host string, port int) {
	l.write("INFO", fmt.Sprintf("Connected to RCON at %s:%d", host, port))
}

func (l *Logger) ConnectionFailed(host string, port int, err error) {
	l.write("ERROR", fmt.Sprintf("Connection to %s:%d failed: %v", host, port, err))
}

func (l *Logger) Disconnection() {
	l.write("INFO", "Disconnected from RCON")
}

func (l *Logger) Command(cmd string) {
	l.write("INFO", fmt.Sprintf("Command: %s", cmd))
}

func (l *Logger) CommandResponse(resp string) {
	if resp == "" {
		resp = "(empty)"
	}
	l.write("INFO", fmt.Sprintf("Response: %s", resp))
}

func (l *Logger) CommandError(cmd string, err error) {
	l.write("ERROR", fmt.Sprintf("Command %q failed: %v", cmd, err))
}

func (l *Logger) Info(msg string) {
	l.write("INFO", msg)
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *Logger) write(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(l.file, "[%s] [%s] %s\n", ts, level, msg)
}
