package model

// StatusEvent describes a server status transition pushed to the frontend
type StatusEvent struct {
	ServerName string `json:"serverName"`
	OldStatus  string `json:"oldStatus"`
	NewStatus  string `json:"newStatus"`
	Timestamp  int64  `json:"timestamp"` // Unix milliseconds
}

// Prerequisite represents a required or optional tool
type Prerequisite struct {
	Name      string `json:"name"`
	Installed bool   `json:"installed"`
	Version   string `json:"version,omitempty"`
	Required  bool   `json:"required"`
	Message   string `json:"message,omitempty"`
}
