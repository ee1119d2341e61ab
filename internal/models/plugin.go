package models

import "time"

// InjectionPlugin status values.
const (
	InjectionStatusInjected = "injected"
	InjectionStatusUpdated  = "updated"
)

// Plugin is a code blob, owned by a user, that can be injected onto a board.
type Plugin struct {
	ID         int64          `json:"id"`
	UUID       string         `json:"uuid"`
	Name       string         `json:"name"`
	Owner      string         `json:"owner"`
	Code       []byte         `json:"-"`
	Public     bool           `json:"public"`
	Callable   bool           `json:"callable"`
	Parameters map[string]any `json:"parameters"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// InjectionPlugin records a Plugin injected onto a Board.
type InjectionPlugin struct {
	BoardUUID  string    `json:"board_uuid"`
	PluginUUID string    `json:"plugin_uuid"`
	Onboot     bool      `json:"onboot"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
