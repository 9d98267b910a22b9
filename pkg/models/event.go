package models

import (
	"encoding/json"
	"time"
)

// EventTypeStateChanged is the only event type the dashboard consumes
const EventTypeStateChanged = "state_changed"

// EntityState is a Home Assistant entity state object
type EntityState struct {
	EntityID    string                 `json:"entity_id"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes"`
	LastChanged time.Time              `json:"last_changed"`
	LastUpdated time.Time              `json:"last_updated"`
}

// StateChangedEvent represents a state change forwarded from Home Assistant
type StateChangedEvent struct {
	Type     string       `json:"type"`
	EntityID string       `json:"entity_id"`
	OldState *EntityState `json:"old_state,omitempty"`
	NewState *EntityState `json:"new_state"`
}

// AttributesJSON encodes the attributes for passing to tile apps
func (s *EntityState) AttributesJSON() string {
	if s == nil || len(s.Attributes) == 0 {
		return "{}"
	}
	data, err := json.Marshal(s.Attributes)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// UploadResult is published after each tile upload
type UploadResult struct {
	Tile       string    `json:"tile"`
	UploadID   string    `json:"upload_id,omitempty"`
	AppID      string    `json:"app_id"`
	X          int       `json:"x"`
	Y          int       `json:"y"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Format     string    `json:"format"`
	Patches    int       `json:"patches"`
	Bytes      int       `json:"bytes"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// TileStatus is the management API view of a tile
type TileStatus struct {
	Name        string        `json:"name"`
	Type        string        `json:"type"`
	App         string        `json:"app"`
	EntityID    string        `json:"entity_id,omitempty"`
	LastResult  *UploadResult `json:"last_result,omitempty"`
	LastRefresh time.Time     `json:"last_refresh,omitempty"`
	// CacheEntries counts the app's cached values for this tile.
	CacheEntries int64 `json:"cache_entries"`
}
