package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type ActionType string

const (
	ActionCreate ActionType = "CREATE"
	ActionUpdate ActionType = "UPDATE"
	ActionDelete ActionType = "DELETE"
	ActionRead   ActionType = "READ"
)

// SyncPriority controls queue drain order. Lower sorts first.
type SyncPriority int

const (
	PriorityHigh   SyncPriority = 0
	PriorityNormal SyncPriority = 1
	PriorityLow    SyncPriority = 2
)

// DefaultMaxAttempts is the retry budget for a queued action.
const DefaultMaxAttempts = 3

// SyncQueueItem is a single client-originated mutation waiting to be
// applied to server state. Items are never physically deleted; terminal
// states are synced=true or attempts==max_attempts.
type SyncQueueItem struct {
	ID         uuid.UUID       `json:"id"`
	UserID     uuid.UUID       `json:"user_id"`
	DeviceID   uuid.UUID       `json:"device_id"`
	ActionType ActionType      `json:"action_type"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Data       json.RawMessage `json:"data"`

	// Timestamp is the client-side event time, not the enqueue time.
	Timestamp      time.Time    `json:"timestamp"`
	Priority       SyncPriority `json:"priority"`
	RequiresOnline bool         `json:"requires_online"`

	Synced      bool       `json:"synced"`
	SyncedAt    *time.Time `json:"synced_at,omitempty"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	LastError   *string    `json:"last_error,omitempty"`

	ConflictDetected   bool                `json:"conflict_detected"`
	ConflictResolution *ResolutionStrategy `json:"conflict_resolution,omitempty"`

	// Archived marks an item handed off to the external retention job.
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"created_at"`
}

// TerminallyFailed reports whether the item exhausted its retry budget
// without syncing. Terminal items are never retried automatically.
func (i *SyncQueueItem) TerminallyFailed() bool {
	return !i.Synced && i.Attempts >= i.MaxAttempts
}

// PendingDevice identifies a (user, device) pair with unsynced work.
type PendingDevice struct {
	UserID   uuid.UUID `json:"user_id"`
	DeviceID uuid.UUID `json:"device_id"`
}
