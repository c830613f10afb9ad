package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PropertiesFile is a line-preserving editor for server.properties.
// Comments and key order survive round trips so user edits stay intact.
type PropertiesFile struct {
	path  string
	lines []string
}

// LoadProperties reads server.properties from a server directory. A
// missing file yields an empty editor that Save will create.
func LoadProperties(serverDir string) (*PropertiesFile, error) {
	path := filepath.Join(serverDir, "server.properties")
	p := &PropertiesFile{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	p.lines = strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	return p, nil
}

// Get returns the value for a key, or "" if absent.
func (p *PropertiesFile) Get(key string) string {
	for _, line := range p.lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			continue
		}
		if k, v, ok := strings.Cut(trimmed, "="); ok && strings.TrimSpace(k) == key {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Set updates a key in place or appends it at the end.
func (p *PropertiesFile) Set(key, value string) {
	for i, line := range p.lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			continue
		}
		if k, _, ok := strings.Cut(trimmed, "="); ok && strings.TrimSpace(k) == key {
			p.lines[i] = key + "=" + value
			return
		}
	}
	p.lines = append(p.lines, key+"="+value)
}

// Save writes the file back to disk.
func (p *PropertiesFile) Save() error {
	content := strings.Join(p.lines, "\n") + "\n"
	if err := os.WriteFile(p.path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", p.path, err)
	}
	return nil
}

// EnableRcon sets the RCON keys and saves.
func (p *PropertiesFile) EnableRcon(port int, password string) error {
	p.Set("enable-rcon", "true")
	p.Set("rcon.port", strconv.Itoa(port))
	p.Set("rcon.password", password)
	return p.Save()
}

// RconPassword returns the configured RCON password, or "" if RCON is
// not set up in this file.
func (p *PropertiesFile) RconPassword() string {
	return p.Get("rcon.password")
}

// RconPort returns the configured RCON port, or 0 if absent or invalid.
func (p *PropertiesFile) RconPort() int {
	v := p.Get("rcon.port")
	if v == "" {
		return 0
	}
	port, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return port
}

// WriteDefaultProperties creates a fresh server.properties for a new
// instance. Matches vanilla defaults except the motd.
func WriteDefaultProperties(serverDir, serverName string) error {
	p := &PropertiesFile{path: filepath.Join(serverDir, "server.properties")}
	defaults := [][2]string{
		{"motd", serverName + " - Managed by Allay"},
		{"server-port", "25565"},
		{"gamemode", "survival"},
		{"difficulty", "easy"},
		{"max-players", "20"},
		{"online-mode", "true"},
		{"pvp", "true"},
		{"view-distance", "10"},
		{"spawn-protection", "16"},
		{"enable-rcon", "false"},
	}
	for _, kv := range defaults {
		p.Set(kv[0], kv[1])
	}
	return p.Save()
}

// WriteEula writes an accepted eula.txt into the server directory.
func WriteEula(serverDir string) error {
	path := filepath.Join(serverDir, "eula.txt")
	content := "# EULA accepted automatically by Allay\neula=true\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
