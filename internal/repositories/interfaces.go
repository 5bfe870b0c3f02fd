package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/medisync/server/internal/models"
)

type SyncQueueRepository interface {
	Enqueue(ctx context.Context, item *models.SyncQueueItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.SyncQueueItem, error)
	GetPending(ctx context.Context, userID, deviceID uuid.UUID, batchSize int, retryFailed bool) ([]*models.SyncQueueItem, error)
	MarkSynced(ctx context.Context, id uuid.UUID, syncedAt time.Time) error
	UpdateAttempts(ctx context.Context, id uuid.UUID, attempts int, lastError *string) error
	MarkConflictDetected(ctx context.Context, id uuid.UUID) error
	UpdateConflictResolution(ctx context.Context, id uuid.UUID, resolution models.ResolutionStrategy) error
	GetStatistics(ctx context.Context, userID, deviceID uuid.UUID) (*models.SyncStatistics, error)
	ListDevicesWithPending(ctx context.Context) ([]models.PendingDevice, error)
	ArchiveSynced(ctx context.Context, before time.Time) (int64, error)
}

type SyncConflictRepository interface {
	Create(ctx context.Context, conflict *models.SyncConflict) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.SyncConflict, error)
	GetByQueueItemID(ctx context.Context, queueItemID uuid.UUID) (*models.SyncConflict, error)
	GetActiveByEntity(ctx context.Context, deviceID uuid.UUID, entityType models.EntityType, entityID string) (*models.SyncConflict, error)
	ListByStatus(ctx context.Context, userID, deviceID uuid.UUID, status models.ConflictStatus) ([]*models.SyncConflict, error)
	Resolve(ctx context.Context, conflict *models.SyncConflict) error
	Defer(ctx context.Context, id uuid.UUID) error
	CountByDevice(ctx context.Context, userID, deviceID uuid.UUID) (detected, resolved, pending int, err error)
}

type WatermarkRepository interface {
	Get(ctx context.Context, deviceID uuid.UUID, entityType models.EntityType) (*models.SyncWatermark, error)
	Advance(ctx context.Context, deviceID uuid.UUID, entityType models.EntityType, lastSyncedAt time.Time) error
	GetAllForDevice(ctx context.Context, deviceID uuid.UUID) ([]*models.SyncWatermark, error)
}

type DeviceRepository interface {
	Create(ctx context.Context, device *models.Device) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Device, error)
	GetDevicesByUserID(ctx context.Context, userID uuid.UUID) ([]*models.Device, error)
	TouchLastSync(ctx context.Context, id uuid.UUID, at time.Time) error
	Revoke(ctx context.Context, id uuid.UUID) error
}

// SyncLockRepository guards a (user, device) pair against concurrent
// sync passes double-applying the same queue items.
type SyncLockRepository interface {
	Acquire(ctx context.Context, userID, deviceID uuid.UUID, ttl time.Duration) (bool, error)
	Release(ctx context.Context, userID, deviceID uuid.UUID) error
}
