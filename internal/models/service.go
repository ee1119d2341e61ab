package models

import "time"

// Service is a logical description of a remote TCP service exposed by a board.
type Service struct {
	ID        int64     `json:"id"`
	UUID      string    `json:"uuid"`
	Name      string    `json:"name"`
	Protocol  string    `json:"protocol"`
	Port      int       `json:"port"` // device-local port
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExposedService tunnels a public port to a board-local Service port.
// PublicPort is unique across every live ExposedService row.
type ExposedService struct {
	ID         int64     `json:"id"`
	BoardUUID  string    `json:"board_uuid"`
	ServiceUUID string   `json:"service_uuid"`
	PublicPort int       `json:"public_port"`
	CreatedAt  time.Time `json:"created_at"`
}
