package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Config holds application configuration for the Wails desktop app
type Config struct {
	DataDir    string // platform Application Support path for Allay
	StorageDir string // root for instance dirs, server_config.json, server_order.json
	LogsDir    string // per-server log directories (rcon.log etc.)
}

const appDataDirName = "allay"

// appDataDir returns the platform-specific Application Support path for Allay.
func appDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appDataDirName), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, appDataDirName), nil
	default:
		dataHome := os.Getenv("XDG_DATA_HOME")
		if dataHome == "" {
			dataHome = filepath.Join(home, ".local", "share")
		}
		return filepath.Join(dataHome, appDataDirName), nil
	}
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	dataDir := os.Getenv("ALLAY_DATA_DIR")
	if dataDir == "" {
		var err error
		dataDir, err = appDataDir()
		if err != nil {
			return nil, err
		}
	}

	storageDir := os.Getenv("ALLAY_STORAGE_DIR")
	if storageDir == "" {
		storageDir = filepath.Join(dataDir, "storage")
	}

	logsDir := filepath.Join(storageDir, "logs")

	// Ensure directories exist
	for _, dir := range []string{dataDir, storageDir, logsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	return &Config{
		DataDir:    dataDir,
		StorageDir: storageDir,
		LogsDir:    logsDir,
	}, nil
}
