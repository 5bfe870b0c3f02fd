package models

import (
	"encoding/json"
	"time"
)

// EntityState is the authoritative server-side snapshot of a domain
// entity at conflict-detection time.
type EntityState struct {
	EntityType     EntityType      `json:"entity_type"`
	EntityID       string          `json:"entity_id"`
	Data           json.RawMessage `json:"data"`
	LastModifiedAt time.Time       `json:"last_modified_at"`
}
