package model

import "time"

// Loader kinds supported for server instances
const (
	LoaderVanilla  = "vanilla"
	LoaderFabric   = "fabric"
	LoaderForge    = "forge"
	LoaderNeoForge = "neoforge"
	LoaderPaper    = "paper"
	LoaderQuilt    = "quilt"
)

// ValidLoader returns true if the loader kind is one Allay can launch
func ValidLoader(loader string) bool {
	switch loader {
	case LoaderVanilla, LoaderFabric, LoaderForge, LoaderNeoForge, LoaderPaper, LoaderQuilt:
		return true
	}
	return false
}

// ServerInstance represents a managed Minecraft server, persisted in server_config.json
type ServerInstance struct {
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Version       string    `json:"version"`
	Loader        string    `json:"loader"`
	LoaderVersion string    `json:"loaderVersion,omitempty"`
	MemoryMB      int       `json:"memoryMb"`
	HasCustomImg  bool      `json:"hasCustomImg,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ServerView is an instance enriched with live state for the server list
type ServerView struct {
	ServerInstance
	Status        string `json:"status"` // "online", "offline"
	PID           int    `json:"pid,omitempty"`
	RconConnected bool   `json:"rconConnected"`
}
