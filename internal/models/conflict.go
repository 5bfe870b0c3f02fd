package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type ConflictStatus string

const (
	ConflictPending  ConflictStatus = "PENDING"
	ConflictResolved ConflictStatus = "RESOLVED"
	ConflictDeferred ConflictStatus = "DEFERRED"
)

type ResolutionStrategy string

const (
	ResolutionClientWins ResolutionStrategy = "CLIENT_WINS"
	ResolutionServerWins ResolutionStrategy = "SERVER_WINS"
	ResolutionNewestWins ResolutionStrategy = "NEWEST_WINS"
	ResolutionMerge      ResolutionStrategy = "MERGE"
	ResolutionManual     ResolutionStrategy = "MANUAL"
)

// SyncConflict records a divergence between a queued client mutation and
// server state that changed independently since the device's watermark.
// A conflict stays PENDING (or DEFERRED) until exactly one resolution
// transition moves it to RESOLVED; it is never re-opened.
type SyncConflict struct {
	ID          uuid.UUID `json:"id"`
	QueueItemID uuid.UUID `json:"queue_item_id"`
	UserID      uuid.UUID `json:"user_id"`
	DeviceID    uuid.UUID `json:"device_id"`

	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`

	ClientData json.RawMessage `json:"client_data"`
	ServerData json.RawMessage `json:"server_data"`

	// ClientTimestamp and ServerModifiedAt are captured at detection time
	// so NEWEST_WINS stays decidable after server state moves on.
	ClientTimestamp  time.Time `json:"client_timestamp"`
	ServerModifiedAt time.Time `json:"server_modified_at"`
	DetectedAt       time.Time `json:"detected_at"`

	Status       ConflictStatus      `json:"status"`
	Resolution   *ResolutionStrategy `json:"resolution,omitempty"`
	ResolvedData json.RawMessage     `json:"resolved_data,omitempty"`
	ResolvedAt   *time.Time          `json:"resolved_at,omitempty"`
	ResolvedBy   *string             `json:"resolved_by,omitempty"`
}

// Active reports whether the conflict still blocks its entity.
func (c *SyncConflict) Active() bool {
	return c.Status == ConflictPending || c.Status == ConflictDeferred
}
