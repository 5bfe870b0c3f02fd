package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/medisync/server/internal/models"
	"github.com/medisync/server/internal/repositories"
	"github.com/medisync/server/internal/utils"
)

var (
	ErrUnknownEntityType = errors.New("unknown entity type")
	ErrInvalidResolution = errors.New("invalid resolution request")
	ErrAlreadyResolved   = errors.New("conflict already resolved")
)

type ConflictService struct {
	conflictRepo repositories.SyncConflictRepository
	queueRepo    repositories.SyncQueueRepository
}

func NewConflictService(
	conflictRepo repositories.SyncConflictRepository,
	queueRepo repositories.SyncQueueRepository,
) *ConflictService {
	return &ConflictService{
		conflictRepo: conflictRepo,
		queueRepo:    queueRepo,
	}
}

// DetectConflict decides whether applying a queued mutation would
// clobber a server-side change the device has not seen. A conflict is
// raised only when the server record moved past the device's watermark
// AND the payloads differ materially on the registered fields. While an
// active conflict exists for the entity, no second one is created.
func (s *ConflictService) DetectConflict(ctx context.Context, item *models.SyncQueueItem, serverState *models.EntityState, watermark time.Time) (*models.SyncConflict, error) {
	if serverState == nil {
		return nil, nil
	}

	desc, ok := models.LookupEntity(item.EntityType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntityType, item.EntityType)
	}

	// Server untouched since the device's last consistent view: the
	// queued mutation applies cleanly.
	if !serverState.LastModifiedAt.After(watermark) {
		return nil, nil
	}

	if !utils.FieldsDiffer(item.Data, serverState.Data, desc.ConflictFields) {
		return nil, nil
	}

	existing, err := s.conflictRepo.GetActiveByEntity(ctx, item.DeviceID, item.EntityType, item.EntityID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	conflict := &models.SyncConflict{
		ID:               uuid.New(),
		QueueItemID:      item.ID,
		UserID:           item.UserID,
		DeviceID:         item.DeviceID,
		EntityType:       item.EntityType,
		EntityID:         item.EntityID,
		ClientData:       item.Data,
		ServerData:       serverState.Data,
		ClientTimestamp:  item.Timestamp,
		ServerModifiedAt: serverState.LastModifiedAt,
		DetectedAt:       time.Now().UTC(),
		Status:           models.ConflictPending,
	}

	if err := s.conflictRepo.Create(ctx, conflict); err != nil {
		return nil, err
	}
	return conflict, nil
}

// ResolveConflict transitions a PENDING or DEFERRED conflict to
// RESOLVED, picks the winning payload per strategy, and stamps the
// resolution on the originating queue item. A RESOLVED conflict never
// re-opens.
func (s *ConflictService) ResolveConflict(ctx context.Context, conflictID uuid.UUID, resolution models.ResolutionStrategy, resolvedBy string, mergedData json.RawMessage) (*models.SyncConflict, error) {
	if resolution == models.ResolutionManual {
		return nil, fmt.Errorf("%w: MANUAL is not an applicable resolution", ErrInvalidResolution)
	}
	if resolution == models.ResolutionMerge && len(mergedData) == 0 {
		return nil, fmt.Errorf("%w: MERGE requires merged data", ErrInvalidResolution)
	}

	conflict, err := s.conflictRepo.GetByID(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if conflict.Status == models.ConflictResolved {
		return nil, ErrAlreadyResolved
	}

	resolvedData, err := pickResolvedData(conflict, resolution, mergedData)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	conflict.Status = models.ConflictResolved
	conflict.Resolution = &resolution
	conflict.ResolvedData = resolvedData
	conflict.ResolvedAt = &now
	conflict.ResolvedBy = &resolvedBy

	if err := s.conflictRepo.Resolve(ctx, conflict); err != nil {
		if errors.Is(err, repositories.ErrConflictClosed) {
			return nil, ErrAlreadyResolved
		}
		return nil, err
	}

	if resolution == models.ResolutionServerWins {
		// Intentional data loss: the queued client mutation is discarded.
		log.Printf("conflict %s on %s/%s resolved SERVER_WINS, discarding client change from device %s",
			conflict.ID, conflict.EntityType, conflict.EntityID, conflict.DeviceID)
	}

	if err := s.queueRepo.UpdateConflictResolution(ctx, conflict.QueueItemID, resolution); err != nil {
		return nil, fmt.Errorf("failed to record resolution on queue item: %w", err)
	}
	return conflict, nil
}

// DeferConflict parks a PENDING conflict for manual review. Deferred
// conflicts keep blocking their entity and stay resolvable.
func (s *ConflictService) DeferConflict(ctx context.Context, conflictID uuid.UUID) error {
	err := s.conflictRepo.Defer(ctx, conflictID)
	if errors.Is(err, repositories.ErrConflictClosed) {
		return ErrAlreadyResolved
	}
	return err
}

// ListConflicts returns a device's PENDING conflicts, newest first.
func (s *ConflictService) ListConflicts(ctx context.Context, userID, deviceID uuid.UUID) ([]*models.SyncConflict, error) {
	return s.conflictRepo.ListByStatus(ctx, userID, deviceID, models.ConflictPending)
}

// pickResolvedData selects the winning payload. NEWEST_WINS takes the
// client payload only when its timestamp is strictly newer; the server
// is authoritative on ties.
func pickResolvedData(conflict *models.SyncConflict, resolution models.ResolutionStrategy, mergedData json.RawMessage) (json.RawMessage, error) {
	switch resolution {
	case models.ResolutionClientWins:
		return conflict.ClientData, nil
	case models.ResolutionServerWins:
		return conflict.ServerData, nil
	case models.ResolutionNewestWins:
		if conflict.ClientTimestamp.After(conflict.ServerModifiedAt) {
			return conflict.ClientData, nil
		}
		return conflict.ServerData, nil
	case models.ResolutionMerge:
		return mergedData, nil
	default:
		return nil, fmt.Errorf("%w: unsupported strategy %q", ErrInvalidResolution, resolution)
	}
}
