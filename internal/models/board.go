// Package models defines the persistent entities of the Conductor's data model.
//
// These are plain structs with json tags, the way the teacher keeps its
// internal/models package free of persistence concerns — the SQL mapping lives
// entirely in internal/repository, not here.
package models

import "time"

// Board status values. status=ONLINE implies a valid Session references the board.
const (
	BoardStatusRegistered = "REGISTERED"
	BoardStatusOffline    = "OFFLINE"
	BoardStatusOnline     = "ONLINE"
)

// Connectivity describes how a board reaches the Conductor, as reported by the
// device in its "connection" message.
type Connectivity struct {
	IfaceName string `json:"iface_name,omitempty"`
	MobileMCC string `json:"mobile_mcc,omitempty"`
	MobileMNC string `json:"mobile_mnc,omitempty"`
	IP        string `json:"ip,omitempty"`
	Type      string `json:"type,omitempty"`
}

// Board is a managed remote device.
type Board struct {
	ID           int64             `json:"id"`
	UUID         string            `json:"uuid"`
	Name         string            `json:"name"`
	Code         string            `json:"code"`
	Status       string            `json:"status"`
	Agent        string            `json:"agent,omitempty"` // hostname of the bus agent carrying its session; empty when offline
	FleetUUID    string            `json:"fleet_uuid,omitempty"`
	Config       map[string]any    `json:"config"`
	Extra        map[string]any    `json:"extra"`
	LRVersion    string            `json:"lr_version,omitempty"`
	Connectivity *Connectivity     `json:"connectivity,omitempty"`
	MACAddr      string            `json:"mac_addr,omitempty"`
	Type         string            `json:"type"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Location is a single board's physical/geographic description, preserved from
// create_board's single-Location creation step.
type Location struct {
	ID        int64     `json:"id"`
	BoardUUID string    `json:"board_uuid"`
	Longitude string    `json:"longitude,omitempty"`
	Latitude  string    `json:"latitude,omitempty"`
	Altitude  string    `json:"altitude,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Fleet is a grouping container for boards.
type Fleet struct {
	ID        int64     `json:"id"`
	UUID      string    `json:"uuid"`
	Name      string    `json:"name"`
	Project   string    `json:"project"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
