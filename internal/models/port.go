package models

import "time"

// Port is a virtual network interface attached to a board.
type Port struct {
	ID        int64     `json:"id"`
	UUID      string    `json:"uuid"`
	VIFName   string    `json:"vif_name"`
	MAC       string    `json:"mac"`
	IP        string    `json:"ip"`
	Network   string    `json:"network"`
	BoardUUID string    `json:"board_uuid"`
	TCPPort   int       `json:"tcp_port"` // socat tunnel port, persisted in the ports table's tcp_port column
	CreatedAt time.Time `json:"created_at"`
}
