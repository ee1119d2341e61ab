package models

import "time"

// Session maps a board to a bus-session id. At most one Session per board has
// Valid=true; creating a new one atomically invalidates any prior valid one.
type Session struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"session_id"`
	BoardUUID string    `json:"board_uuid"`
	Valid     bool      `json:"valid"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Agent is a message-bus agent: a broker-connected process that carries board
// sessions. At most one online agent has Ragent=true (the registration agent).
type Agent struct {
	Hostname  string    `json:"hostname"`
	WSURL     string    `json:"wsurl"`
	Online    bool      `json:"online"`
	Ragent    bool      `json:"ragent"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Conductor is a running Conductor process, tracked independently of the
// per-device Agent Registry so that a multi-Conductor deployment can tell
// which processes are alive. Restored from original_source's
// register_conductor/touch_conductor/unregister_conductor (dropped by the
// spec.md distillation; not excluded by any of its Non-goals).
type Conductor struct {
	Hostname  string    `json:"hostname"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
