package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/medisync/server/internal/models"
	"github.com/medisync/server/internal/repositories"
)

var (
	ErrSyncInProgress = errors.New("sync already in progress for device")
	ErrInvalidAction  = errors.New("invalid action type")
)

const (
	DefaultBatchSize = 50

	// syncLockTTL bounds how long a crashed pass keeps its device locked.
	syncLockTTL = 60 * time.Second
)

// SyncOptions controls a single sync pass.
type SyncOptions struct {
	// ForceSync skips the per-device debounce interval.
	ForceSync bool
	BatchSize int
	// RetryFailed restricts the batch to items with retry budget left.
	RetryFailed bool
	// ConflictStrategy is applied to conflicts detected during the pass.
	// MANUAL leaves them pending for external resolution.
	ConflictStrategy models.ResolutionStrategy
}

func DefaultSyncOptions() SyncOptions {
	return SyncOptions{
		BatchSize:        DefaultBatchSize,
		RetryFailed:      true,
		ConflictStrategy: models.ResolutionManual,
	}
}

// SyncResult aggregates the outcome of one pass. Individual item
// failures and conflicts are reported here, never as errors.
type SyncResult struct {
	Processed  int           `json:"processed"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Conflicted int           `json:"conflicted"`
	StartTime  time.Time     `json:"start_time"`
	Duration   time.Duration `json:"duration"`
}

// QueueActionRequest carries a client-originated mutation into the queue.
type QueueActionRequest struct {
	UserID     uuid.UUID
	DeviceID   uuid.UUID
	ActionType models.ActionType
	EntityType models.EntityType
	EntityID   string
	Data       []byte
	// Timestamp is the client-side event time; zero means now.
	Timestamp      time.Time
	Priority       models.SyncPriority
	RequiresOnline bool
}

type SyncService struct {
	queueRepo     repositories.SyncQueueRepository
	conflictRepo  repositories.SyncConflictRepository
	watermarkRepo repositories.WatermarkRepository
	deviceRepo    repositories.DeviceRepository
	lockRepo      repositories.SyncLockRepository
	conflicts     *ConflictService
	reader        EntityStateReader
	applier       EntityMutationApplier

	// minInterval debounces back-to-back passes for the same device.
	minInterval time.Duration
}

func NewSyncService(
	queueRepo repositories.SyncQueueRepository,
	conflictRepo repositories.SyncConflictRepository,
	watermarkRepo repositories.WatermarkRepository,
	deviceRepo repositories.DeviceRepository,
	lockRepo repositories.SyncLockRepository,
	conflicts *ConflictService,
	reader EntityStateReader,
	applier EntityMutationApplier,
	minInterval time.Duration,
) *SyncService {
	return &SyncService{
		queueRepo:     queueRepo,
		conflictRepo:  conflictRepo,
		watermarkRepo: watermarkRepo,
		deviceRepo:    deviceRepo,
		lockRepo:      lockRepo,
		conflicts:     conflicts,
		reader:        reader,
		applier:       applier,
		minInterval:   minInterval,
	}
}

// QueueAction persists a new pending mutation. Duplicate submissions
// create distinct entries; the queue is at-least-once by design.
func (s *SyncService) QueueAction(ctx context.Context, req QueueActionRequest) (*models.SyncQueueItem, error) {
	if _, ok := models.LookupEntity(req.EntityType); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntityType, req.EntityType)
	}
	switch req.ActionType {
	case models.ActionCreate, models.ActionUpdate, models.ActionDelete, models.ActionRead:
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidAction, req.ActionType)
	}

	timestamp := req.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	item := &models.SyncQueueItem{
		ID:             uuid.New(),
		UserID:         req.UserID,
		DeviceID:       req.DeviceID,
		ActionType:     req.ActionType,
		EntityType:     req.EntityType,
		EntityID:       req.EntityID,
		Data:           req.Data,
		Timestamp:      timestamp,
		Priority:       req.Priority,
		RequiresOnline: req.RequiresOnline,
		MaxAttempts:    models.DefaultMaxAttempts,
	}

	if err := s.queueRepo.Enqueue(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// SyncPendingActions drives one synchronization pass for a device.
// Items are processed strictly in batch order; a single item's failure
// never aborts the pass. Only storage-level errors propagate.
func (s *SyncService) SyncPendingActions(ctx context.Context, userID, deviceID uuid.UUID, opts SyncOptions) (*SyncResult, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.ConflictStrategy == "" {
		opts.ConflictStrategy = models.ResolutionManual
	}
	// MERGE needs explicit merged data per conflict; it cannot act as a
	// blanket pass policy.
	if opts.ConflictStrategy == models.ResolutionMerge {
		return nil, fmt.Errorf("%w: MERGE cannot be a pass-level strategy", ErrInvalidResolution)
	}

	result := &SyncResult{StartTime: time.Now().UTC()}
	defer func() {
		result.Duration = time.Since(result.StartTime)
	}()

	device, err := s.deviceRepo.GetByID(ctx, deviceID)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, err
	}
	if device != nil && !opts.ForceSync && s.minInterval > 0 &&
		device.LastSyncAt != nil && time.Since(*device.LastSyncAt) < s.minInterval {
		return result, nil
	}

	locked, err := s.lockRepo.Acquire(ctx, userID, deviceID, syncLockTTL)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, ErrSyncInProgress
	}
	defer func() {
		if err := s.lockRepo.Release(context.WithoutCancel(ctx), userID, deviceID); err != nil {
			log.Printf("failed to release sync lock for device %s: %v", deviceID, err)
		}
	}()

	items, err := s.queueRepo.GetPending(ctx, userID, deviceID, opts.BatchSize, opts.RetryFailed)
	if err != nil {
		return nil, err
	}

	// Entities blocked this pass by a conflict or ordering dependency.
	contested := make(map[string]bool)
	// Per entity type: highest event time synced in contiguous batch
	// order, and whether an unsynced item froze the cursor.
	candidate := make(map[models.EntityType]time.Time)
	frozen := make(map[models.EntityType]bool)

	for _, item := range items {
		result.Processed++
		key := entityKey(item.EntityType, item.EntityID)

		if item.TerminallyFailed() {
			result.Failed++
			frozen[item.EntityType] = true
			continue
		}

		if contested[key] {
			result.Conflicted++
			frozen[item.EntityType] = true
			continue
		}

		active, err := s.conflictRepo.GetActiveByEntity(ctx, deviceID, item.EntityType, item.EntityID)
		if err != nil {
			return nil, err
		}
		if active != nil {
			contested[key] = true
			result.Conflicted++
			frozen[item.EntityType] = true
			continue
		}

		// A conflict resolved since the last pass completes its item now.
		if item.ConflictDetected && item.ConflictResolution != nil {
			if s.completeResolvedItem(ctx, item, result) {
				noteSynced(candidate, frozen, item)
			} else {
				frozen[item.EntityType] = true
			}
			continue
		}

		wm, err := s.watermarkRepo.Get(ctx, deviceID, item.EntityType)
		if err != nil {
			return nil, err
		}

		state, err := s.reader.GetCurrentState(ctx, item.EntityType, item.EntityID)
		if err != nil {
			s.recordFailure(ctx, item, err, result)
			frozen[item.EntityType] = true
			continue
		}

		conflict, err := s.conflicts.DetectConflict(ctx, item, state, wm.LastSyncedAt)
		if err != nil {
			return nil, err
		}

		if conflict != nil {
			if err := s.queueRepo.MarkConflictDetected(ctx, item.ID); err != nil {
				return nil, err
			}

			if opts.ConflictStrategy == models.ResolutionManual {
				contested[key] = true
				result.Conflicted++
				frozen[item.EntityType] = true
				continue
			}

			if s.autoResolve(ctx, item, conflict, opts.ConflictStrategy, result) {
				noteSynced(candidate, frozen, item)
			} else {
				frozen[item.EntityType] = true
			}
			continue
		}

		if err := s.applier.Apply(ctx, item.EntityType, item.EntityID, item.ActionType, item.Data); err != nil {
			s.recordFailure(ctx, item, err, result)
			frozen[item.EntityType] = true
			continue
		}

		if err := s.queueRepo.MarkSynced(ctx, item.ID, time.Now().UTC()); err != nil {
			return nil, err
		}
		result.Succeeded++
		noteSynced(candidate, frozen, item)
	}

	for entityType, ts := range candidate {
		if err := s.watermarkRepo.Advance(ctx, deviceID, entityType, ts); err != nil {
			return nil, err
		}
	}

	if device != nil {
		if err := s.deviceRepo.TouchLastSync(ctx, deviceID, time.Now().UTC()); err != nil {
			log.Printf("failed to record last sync for device %s: %v", deviceID, err)
		}
	}
	return result, nil
}

// completeResolvedItem applies the outcome of an externally resolved
// conflict. SERVER_WINS syncs the item without touching server state;
// every other strategy writes the resolved payload. Reports success.
func (s *SyncService) completeResolvedItem(ctx context.Context, item *models.SyncQueueItem, result *SyncResult) bool {
	conflict, err := s.conflictRepo.GetByQueueItemID(ctx, item.ID)
	if err != nil {
		s.recordFailure(ctx, item, err, result)
		return false
	}

	if *item.ConflictResolution != models.ResolutionServerWins {
		if err := s.applier.Apply(ctx, item.EntityType, item.EntityID, item.ActionType, conflict.ResolvedData); err != nil {
			s.recordFailure(ctx, item, err, result)
			return false
		}
	}

	if err := s.queueRepo.MarkSynced(ctx, item.ID, time.Now().UTC()); err != nil {
		s.recordFailure(ctx, item, err, result)
		return false
	}
	result.Succeeded++
	return true
}

// autoResolve applies the pass-level strategy to a freshly detected
// conflict and finishes the item in the same pass. Reports success.
func (s *SyncService) autoResolve(ctx context.Context, item *models.SyncQueueItem, conflict *models.SyncConflict, strategy models.ResolutionStrategy, result *SyncResult) bool {
	resolved, err := s.conflicts.ResolveConflict(ctx, conflict.ID, strategy, "sync-policy", nil)
	if err != nil {
		s.recordFailure(ctx, item, err, result)
		return false
	}

	if *resolved.Resolution != models.ResolutionServerWins {
		if err := s.applier.Apply(ctx, item.EntityType, item.EntityID, item.ActionType, resolved.ResolvedData); err != nil {
			s.recordFailure(ctx, item, err, result)
			return false
		}
	}

	if err := s.queueRepo.MarkSynced(ctx, item.ID, time.Now().UTC()); err != nil {
		s.recordFailure(ctx, item, err, result)
		return false
	}
	result.Succeeded++
	return true
}

// recordFailure books one failed attempt against the item. Exhausting
// the retry budget makes the item terminal; the pass itself continues.
func (s *SyncService) recordFailure(ctx context.Context, item *models.SyncQueueItem, cause error, result *SyncResult) {
	attempts := item.Attempts + 1
	if attempts > item.MaxAttempts {
		attempts = item.MaxAttempts
	}
	msg := cause.Error()

	if err := s.queueRepo.UpdateAttempts(ctx, item.ID, attempts, &msg); err != nil {
		log.Printf("failed to record attempt for item %s: %v", item.ID, err)
	}
	result.Failed++
}

// GetStatistics aggregates queue and conflict counters for a device.
func (s *SyncService) GetStatistics(ctx context.Context, userID, deviceID uuid.UUID) (*models.SyncStatistics, error) {
	stats, err := s.queueRepo.GetStatistics(ctx, userID, deviceID)
	if err != nil {
		return nil, err
	}

	detected, resolved, pending, err := s.conflictRepo.CountByDevice(ctx, userID, deviceID)
	if err != nil {
		return nil, err
	}
	stats.ConflictsDetected = detected
	stats.ConflictsResolved = resolved
	stats.ConflictsPending = pending
	return stats, nil
}

func noteSynced(candidate map[models.EntityType]time.Time, frozen map[models.EntityType]bool, item *models.SyncQueueItem) {
	if frozen[item.EntityType] {
		return
	}
	if item.Timestamp.After(candidate[item.EntityType]) {
		candidate[item.EntityType] = item.Timestamp
	}
}

func entityKey(entityType models.EntityType, entityID string) string {
	return string(entityType) + "/" + entityID
}
