package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/medisync/server/internal/models"
)

var ErrNotFound = errors.New("not found")

const queueItemColumns = `id, user_id, device_id, action_type, entity_type, entity_id, data,
	event_timestamp, priority, requires_online, synced, synced_at,
	attempts, max_attempts, last_error, conflict_detected, conflict_resolution,
	archived, created_at`

type PostgresSyncQueueRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresSyncQueueRepository(pool *pgxpool.Pool) *PostgresSyncQueueRepository {
	return &PostgresSyncQueueRepository{pool: pool}
}

func (r *PostgresSyncQueueRepository) Enqueue(ctx context.Context, item *models.SyncQueueItem) error {
	query := `INSERT INTO sync_queue_items
	          (id, user_id, device_id, action_type, entity_type, entity_id, data,
	           event_timestamp, priority, requires_online, max_attempts)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	          RETURNING created_at`

	err := r.pool.QueryRow(ctx, query,
		item.ID,
		item.UserID,
		item.DeviceID,
		item.ActionType,
		item.EntityType,
		item.EntityID,
		item.Data,
		item.Timestamp,
		item.Priority,
		item.RequiresOnline,
		item.MaxAttempts,
	).Scan(&item.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to enqueue item: %w", err)
	}
	return nil
}

func (r *PostgresSyncQueueRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SyncQueueItem, error) {
	query := `SELECT ` + queueItemColumns + ` FROM sync_queue_items WHERE id = $1`

	item, err := scanQueueItem(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}
	return item, nil
}

// GetPending returns unsynced items ordered by priority then event time.
// With retryFailed the result is restricted to items that still have
// retry budget; otherwise terminally failed items are included and the
// caller decides what to do with them.
func (r *PostgresSyncQueueRepository) GetPending(ctx context.Context, userID, deviceID uuid.UUID, batchSize int, retryFailed bool) ([]*models.SyncQueueItem, error) {
	query := `SELECT ` + queueItemColumns + `
	          FROM sync_queue_items
	          WHERE user_id = $1 AND device_id = $2 AND NOT synced AND NOT archived`
	if retryFailed {
		query += ` AND attempts < max_attempts`
	}
	query += ` ORDER BY priority ASC, event_timestamp ASC LIMIT $3`

	rows, err := r.pool.Query(ctx, query, userID, deviceID, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending items: %w", err)
	}
	defer rows.Close()

	var items []*models.SyncQueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue items: %w", err)
	}
	return items, nil
}

// MarkSynced is idempotent: marking an already-synced item keeps the
// original synced_at.
func (r *PostgresSyncQueueRepository) MarkSynced(ctx context.Context, id uuid.UUID, syncedAt time.Time) error {
	query := `UPDATE sync_queue_items
	          SET synced = TRUE, synced_at = COALESCE(synced_at, $1), last_error = NULL
	          WHERE id = $2`

	result, err := r.pool.Exec(ctx, query, syncedAt, id)
	if err != nil {
		return fmt.Errorf("failed to mark item synced: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAttempts records an attempt count and the last apply error.
// The count is capped at max_attempts so the retry invariant holds even
// if the caller over-increments.
func (r *PostgresSyncQueueRepository) UpdateAttempts(ctx context.Context, id uuid.UUID, attempts int, lastError *string) error {
	query := `UPDATE sync_queue_items
	          SET attempts = LEAST($1, max_attempts), last_error = $2
	          WHERE id = $3 AND NOT synced`

	result, err := r.pool.Exec(ctx, query, attempts, lastError, id)
	if err != nil {
		return fmt.Errorf("failed to update attempts: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresSyncQueueRepository) MarkConflictDetected(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE sync_queue_items SET conflict_detected = TRUE WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark conflict detected: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresSyncQueueRepository) UpdateConflictResolution(ctx context.Context, id uuid.UUID, resolution models.ResolutionStrategy) error {
	query := `UPDATE sync_queue_items SET conflict_resolution = $1 WHERE id = $2`

	result, err := r.pool.Exec(ctx, query, resolution, id)
	if err != nil {
		return fmt.Errorf("failed to update conflict resolution: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresSyncQueueRepository) GetStatistics(ctx context.Context, userID, deviceID uuid.UUID) (*models.SyncStatistics, error) {
	// Conflict counters are filled in by the conflict repository; this
	// query only covers the queue side.
	query := `SELECT
	            COUNT(*),
	            COUNT(*) FILTER (WHERE NOT synced AND attempts < max_attempts),
	            COUNT(*) FILTER (WHERE synced),
	            COUNT(*) FILTER (WHERE NOT synced AND attempts >= max_attempts),
	            MAX(synced_at)
	          FROM sync_queue_items
	          WHERE user_id = $1 AND device_id = $2 AND NOT archived`

	var stats models.SyncStatistics
	err := r.pool.QueryRow(ctx, query, userID, deviceID).Scan(
		&stats.QueuedItems,
		&stats.PendingItems,
		&stats.SyncedItems,
		&stats.FailedItems,
		&stats.LastSyncAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue statistics: %w", err)
	}
	return &stats, nil
}

func (r *PostgresSyncQueueRepository) ListDevicesWithPending(ctx context.Context) ([]models.PendingDevice, error) {
	query := `SELECT DISTINCT user_id, device_id
	          FROM sync_queue_items
	          WHERE NOT synced AND NOT archived AND attempts < max_attempts`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices with pending items: %w", err)
	}
	defer rows.Close()

	var devices []models.PendingDevice
	for rows.Next() {
		var d models.PendingDevice
		if err := rows.Scan(&d.UserID, &d.DeviceID); err != nil {
			return nil, fmt.Errorf("failed to scan pending device: %w", err)
		}
		devices = append(devices, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending devices: %w", err)
	}
	return devices, nil
}

// ArchiveSynced flags synced items older than the cutoff for the
// external retention job. Rows are never deleted here.
func (r *PostgresSyncQueueRepository) ArchiveSynced(ctx context.Context, before time.Time) (int64, error) {
	query := `UPDATE sync_queue_items
	          SET archived = TRUE
	          WHERE synced AND NOT archived AND synced_at < $1`

	result, err := r.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to archive synced items: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanQueueItem(row pgx.Row) (*models.SyncQueueItem, error) {
	var item models.SyncQueueItem
	err := row.Scan(
		&item.ID,
		&item.UserID,
		&item.DeviceID,
		&item.ActionType,
		&item.EntityType,
		&item.EntityID,
		&item.Data,
		&item.Timestamp,
		&item.Priority,
		&item.RequiresOnline,
		&item.Synced,
		&item.SyncedAt,
		&item.Attempts,
		&item.MaxAttempts,
		&item.LastError,
		&item.ConflictDetected,
		&item.ConflictResolution,
		&item.Archived,
		&item.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}
