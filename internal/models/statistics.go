package models

import "time"

// SyncStatistics summarizes queue and conflict state for one device.
type SyncStatistics struct {
	QueuedItems       int        `json:"queued_items"`
	PendingItems      int        `json:"pending_items"`
	SyncedItems       int        `json:"synced_items"`
	FailedItems       int        `json:"failed_items"`
	ConflictsDetected int        `json:"conflicts_detected"`
	ConflictsResolved int        `json:"conflicts_resolved"`
	ConflictsPending  int        `json:"conflicts_pending"`
	LastSyncAt        *time.Time `json:"last_sync_at,omitempty"`
}
