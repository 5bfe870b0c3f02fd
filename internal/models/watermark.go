package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncWatermark is the per (device, entity type) cursor recording the
// last point up to which the device's view of server state is known
// consistent. It only ever moves forward.
type SyncWatermark struct {
	DeviceID     uuid.UUID  `json:"device_id"`
	EntityType   EntityType `json:"entity_type"`
	LastSyncedAt time.Time  `json:"last_synced_at"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}
