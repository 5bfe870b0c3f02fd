package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/medisync/server/internal/models"
	"github.com/medisync/server/internal/repositories"
)

// In-memory fakes mirroring the Postgres/Redis repository semantics
// closely enough for orchestrator and conflict tests.

type fakeQueueRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*models.SyncQueueItem
}

func newFakeQueueRepo() *fakeQueueRepo {
	return &fakeQueueRepo{items: make(map[uuid.UUID]*models.SyncQueueItem)}
}

func (r *fakeQueueRepo) Enqueue(ctx context.Context, item *models.SyncQueueItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item.CreatedAt = time.Now().UTC()
	copied := *item
	r.items[item.ID] = &copied
	return nil
}

func (r *fakeQueueRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.SyncQueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *item
	return &copied, nil
}

func (r *fakeQueueRepo) GetPending(ctx context.Context, userID, deviceID uuid.UUID, batchSize int, retryFailed bool) ([]*models.SyncQueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pending []*models.SyncQueueItem
	for _, item := range r.items {
		if item.UserID != userID || item.DeviceID != deviceID || item.Synced || item.Archived {
			continue
		}
		if retryFailed && item.Attempts >= item.MaxAttempts {
			continue
		}
		copied := *item
		pending = append(pending, &copied)
	}

	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority < pending[j].Priority
		}
		return pending[i].Timestamp.Before(pending[j].Timestamp)
	})

	if len(pending) > batchSize {
		pending = pending[:batchSize]
	}
	return pending, nil
}

func (r *fakeQueueRepo) MarkSynced(ctx context.Context, id uuid.UUID, syncedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return repositories.ErrNotFound
	}
	item.Synced = true
	if item.SyncedAt == nil {
		item.SyncedAt = &syncedAt
	}
	item.LastError = nil
	return nil
}

func (r *fakeQueueRepo) UpdateAttempts(ctx context.Context, id uuid.UUID, attempts int, lastError *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok || item.Synced {
		return repositories.ErrNotFound
	}
	if attempts > item.MaxAttempts {
		attempts = item.MaxAttempts
	}
	item.Attempts = attempts
	item.LastError = lastError
	return nil
}

func (r *fakeQueueRepo) MarkConflictDetected(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return repositories.ErrNotFound
	}
	item.ConflictDetected = true
	return nil
}

func (r *fakeQueueRepo) UpdateConflictResolution(ctx context.Context, id uuid.UUID, resolution models.ResolutionStrategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return repositories.ErrNotFound
	}
	item.ConflictResolution = &resolution
	return nil
}

func (r *fakeQueueRepo) GetStatistics(ctx context.Context, userID, deviceID uuid.UUID) (*models.SyncStatistics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := &models.SyncStatistics{}
	for _, item := range r.items {
		if item.UserID != userID || item.DeviceID != deviceID || item.Archived {
			continue
		}
		stats.QueuedItems++
		switch {
		case item.Synced:
			stats.SyncedItems++
			if stats.LastSyncAt == nil || item.SyncedAt.After(*stats.LastSyncAt) {
				stats.LastSyncAt = item.SyncedAt
			}
		case item.Attempts >= item.MaxAttempts:
			stats.FailedItems++
		default:
			stats.PendingItems++
		}
	}
	return stats, nil
}

func (r *fakeQueueRepo) ListDevicesWithPending(ctx context.Context) ([]models.PendingDevice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[models.PendingDevice]bool)
	var devices []models.PendingDevice
	for _, item := range r.items {
		if item.Synced || item.Archived || item.Attempts >= item.MaxAttempts {
			continue
		}
		d := models.PendingDevice{UserID: item.UserID, DeviceID: item.DeviceID}
		if !seen[d] {
			seen[d] = true
			devices = append(devices, d)
		}
	}
	return devices, nil
}

func (r *fakeQueueRepo) ArchiveSynced(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var archived int64
	for _, item := range r.items {
		if item.Synced && !item.Archived && item.SyncedAt != nil && item.SyncedAt.Before(before) {
			item.Archived = true
			archived++
		}
	}
	return archived, nil
}

type fakeConflictRepo struct {
	mu        sync.Mutex
	conflicts map[uuid.UUID]*models.SyncConflict
}

func newFakeConflictRepo() *fakeConflictRepo {
	return &fakeConflictRepo{conflicts: make(map[uuid.UUID]*models.SyncConflict)}
}

func (r *fakeConflictRepo) Create(ctx context.Context, conflict *models.SyncConflict) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conflicts {
		if c.DeviceID == conflict.DeviceID && c.EntityType == conflict.EntityType &&
			c.EntityID == conflict.EntityID && c.Active() {
			return fmt.Errorf("duplicate active conflict for %s/%s", conflict.EntityType, conflict.EntityID)
		}
	}
	copied := *conflict
	r.conflicts[conflict.ID] = &copied
	return nil
}

func (r *fakeConflictRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.SyncConflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conflict, ok := r.conflicts[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *conflict
	return &copied, nil
}

func (r *fakeConflictRepo) GetByQueueItemID(ctx context.Context, queueItemID uuid.UUID) (*models.SyncConflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest *models.SyncConflict
	for _, c := range r.conflicts {
		if c.QueueItemID != queueItemID {
			continue
		}
		if latest == nil || c.DetectedAt.After(latest.DetectedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, repositories.ErrNotFound
	}
	copied := *latest
	return &copied, nil
}

func (r *fakeConflictRepo) GetActiveByEntity(ctx context.Context, deviceID uuid.UUID, entityType models.EntityType, entityID string) (*models.SyncConflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conflicts {
		if c.DeviceID == deviceID && c.EntityType == entityType && c.EntityID == entityID && c.Active() {
			copied := *c
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeConflictRepo) ListByStatus(ctx context.Context, userID, deviceID uuid.UUID, status models.ConflictStatus) ([]*models.SyncConflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*models.SyncConflict
	for _, c := range r.conflicts {
		if c.UserID == userID && c.DeviceID == deviceID && c.Status == status {
			copied := *c
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DetectedAt.After(result[j].DetectedAt)
	})
	return result, nil
}

func (r *fakeConflictRepo) Resolve(ctx context.Context, conflict *models.SyncConflict) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.conflicts[conflict.ID]
	if !ok || !stored.Active() {
		return repositories.ErrConflictClosed
	}
	copied := *conflict
	r.conflicts[conflict.ID] = &copied
	return nil
}

func (r *fakeConflictRepo) Defer(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.conflicts[id]
	if !ok || stored.Status != models.ConflictPending {
		return repositories.ErrConflictClosed
	}
	stored.Status = models.ConflictDeferred
	return nil
}

func (r *fakeConflictRepo) CountByDevice(ctx context.Context, userID, deviceID uuid.UUID) (detected, resolved, pending int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conflicts {
		if c.UserID != userID || c.DeviceID != deviceID {
			continue
		}
		detected++
		if c.Status == models.ConflictResolved {
			resolved++
		} else {
			pending++
		}
	}
	return detected, resolved, pending, nil
}

type fakeWatermarkRepo struct {
	mu    sync.Mutex
	marks map[uuid.UUID]map[models.EntityType]time.Time
}

func newFakeWatermarkRepo() *fakeWatermarkRepo {
	return &fakeWatermarkRepo{marks: make(map[uuid.UUID]map[models.EntityType]time.Time)}
}

func (r *fakeWatermarkRepo) Get(ctx context.Context, deviceID uuid.UUID, entityType models.EntityType) (*models.SyncWatermark, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &models.SyncWatermark{
		DeviceID:     deviceID,
		EntityType:   entityType,
		LastSyncedAt: r.marks[deviceID][entityType],
	}, nil
}

func (r *fakeWatermarkRepo) Advance(ctx context.Context, deviceID uuid.UUID, entityType models.EntityType, lastSyncedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.marks[deviceID] == nil {
		r.marks[deviceID] = make(map[models.EntityType]time.Time)
	}
	if lastSyncedAt.After(r.marks[deviceID][entityType]) {
		r.marks[deviceID][entityType] = lastSyncedAt
	}
	return nil
}

func (r *fakeWatermarkRepo) GetAllForDevice(ctx context.Context, deviceID uuid.UUID) ([]*models.SyncWatermark, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.SyncWatermark
	for entityType, ts := range r.marks[deviceID] {
		result = append(result, &models.SyncWatermark{DeviceID: deviceID, EntityType: entityType, LastSyncedAt: ts})
	}
	return result, nil
}

type fakeDeviceRepo struct {
	mu      sync.Mutex
	devices map[uuid.UUID]*models.Device
}

func newFakeDeviceRepo() *fakeDeviceRepo {
	return &fakeDeviceRepo{devices: make(map[uuid.UUID]*models.Device)}
}

func (r *fakeDeviceRepo) Create(ctx context.Context, device *models.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}
	device.CreatedAt = time.Now().UTC()
	copied := *device
	r.devices[device.ID] = &copied
	return nil
}

func (r *fakeDeviceRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *device
	return &copied, nil
}

func (r *fakeDeviceRepo) GetDevicesByUserID(ctx context.Context, userID uuid.UUID) ([]*models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.Device
	for _, d := range r.devices {
		if d.UserID == userID {
			copied := *d
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (r *fakeDeviceRepo) TouchLastSync(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[id]
	if !ok {
		return repositories.ErrNotFound
	}
	device.LastSyncAt = &at
	return nil
}

func (r *fakeDeviceRepo) Revoke(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[id]
	if !ok {
		return repositories.ErrNotFound
	}
	now := time.Now().UTC()
	device.RevokedAt = &now
	return nil
}

type fakeLockRepo struct {
	mu    sync.Mutex
	locks map[string]bool
}

func newFakeLockRepo() *fakeLockRepo {
	return &fakeLockRepo{locks: make(map[string]bool)}
}

func lockKey(userID, deviceID uuid.UUID) string {
	return userID.String() + "/" + deviceID.String()
}

func (r *fakeLockRepo) Acquire(ctx context.Context, userID, deviceID uuid.UUID, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := lockKey(userID, deviceID)
	if r.locks[key] {
		return false, nil
	}
	r.locks[key] = true
	return true, nil
}

func (r *fakeLockRepo) Release(ctx context.Context, userID, deviceID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.locks, lockKey(userID, deviceID))
	return nil
}

// fakeEntityStore doubles as EntityStateReader and EntityMutationApplier.
// applyErr injects a failure for a given entity; applied records every
// write so tests can assert what reached server state.
type fakeEntityStore struct {
	mu       sync.Mutex
	states   map[string]*models.EntityState
	applyErr map[string]error
	applied  []appliedMutation
}

type appliedMutation struct {
	EntityType models.EntityType
	EntityID   string
	ActionType models.ActionType
	Data       json.RawMessage
}

func newFakeEntityStore() *fakeEntityStore {
	return &fakeEntityStore{
		states:   make(map[string]*models.EntityState),
		applyErr: make(map[string]error),
	}
}

func stateKey(entityType models.EntityType, entityID string) string {
	return string(entityType) + "/" + entityID
}

func (s *fakeEntityStore) setState(entityType models.EntityType, entityID string, data string, modifiedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[stateKey(entityType, entityID)] = &models.EntityState{
		EntityType:     entityType,
		EntityID:       entityID,
		Data:           json.RawMessage(data),
		LastModifiedAt: modifiedAt,
	}
}

func (s *fakeEntityStore) failNextApply(entityType models.EntityType, entityID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyErr[stateKey(entityType, entityID)] = err
}

func (s *fakeEntityStore) GetCurrentState(ctx context.Context, entityType models.EntityType, entityID string) (*models.EntityState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[stateKey(entityType, entityID)]
	if !ok {
		return nil, nil
	}
	copied := *state
	return &copied, nil
}

func (s *fakeEntityStore) Apply(ctx context.Context, entityType models.EntityType, entityID string, actionType models.ActionType, data json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := stateKey(entityType, entityID)
	if err := s.applyErr[key]; err != nil {
		return err
	}

	s.applied = append(s.applied, appliedMutation{
		EntityType: entityType,
		EntityID:   entityID,
		ActionType: actionType,
		Data:       data,
	})

	switch actionType {
	case models.ActionCreate, models.ActionUpdate:
		s.states[key] = &models.EntityState{
			EntityType:     entityType,
			EntityID:       entityID,
			Data:           data,
			LastModifiedAt: time.Now().UTC(),
		}
	case models.ActionDelete:
		delete(s.states, key)
	}
	return nil
}

func (s *fakeEntityStore) appliedMutations() []appliedMutation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]appliedMutation(nil), s.applied...)
}
