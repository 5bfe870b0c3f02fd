package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/medisync/server/internal/models"
)

// ErrConflictClosed is returned when a resolution races another and
// loses: the conflict already left the PENDING/DEFERRED state.
var ErrConflictClosed = errors.New("conflict already resolved")

const conflictColumns = `id, queue_item_id, user_id, device_id, entity_type, entity_id,
	client_data, server_data, client_timestamp, server_modified_at, detected_at,
	status, resolution, resolved_data, resolved_at, resolved_by`

type PostgresSyncConflictRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresSyncConflictRepository(pool *pgxpool.Pool) *PostgresSyncConflictRepository {
	return &PostgresSyncConflictRepository{pool: pool}
}

func (r *PostgresSyncConflictRepository) Create(ctx context.Context, conflict *models.SyncConflict) error {
	query := `INSERT INTO sync_conflicts
	          (id, queue_item_id, user_id, device_id, entity_type, entity_id,
	           client_data, server_data, client_timestamp, server_modified_at, detected_at, status)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.pool.Exec(ctx, query,
		conflict.ID,
		conflict.QueueItemID,
		conflict.UserID,
		conflict.DeviceID,
		conflict.EntityType,
		conflict.EntityID,
		conflict.ClientData,
		conflict.ServerData,
		conflict.ClientTimestamp,
		conflict.ServerModifiedAt,
		conflict.DetectedAt,
		conflict.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to create conflict: %w", err)
	}
	return nil
}

func (r *PostgresSyncConflictRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SyncConflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM sync_conflicts WHERE id = $1`

	conflict, err := scanConflict(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conflict: %w", err)
	}
	return conflict, nil
}

func (r *PostgresSyncConflictRepository) GetByQueueItemID(ctx context.Context, queueItemID uuid.UUID) (*models.SyncConflict, error) {
	query := `SELECT ` + conflictColumns + `
	          FROM sync_conflicts
	          WHERE queue_item_id = $1
	          ORDER BY detected_at DESC
	          LIMIT 1`

	conflict, err := scanConflict(r.pool.QueryRow(ctx, query, queueItemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conflict by queue item: %w", err)
	}
	return conflict, nil
}

// GetActiveByEntity returns the PENDING or DEFERRED conflict for an
// entity, or nil if the entity is not contested. At most one active
// conflict per entity exists at a time.
func (r *PostgresSyncConflictRepository) GetActiveByEntity(ctx context.Context, deviceID uuid.UUID, entityType models.EntityType, entityID string) (*models.SyncConflict, error) {
	query := `SELECT ` + conflictColumns + `
	          FROM sync_conflicts
	          WHERE device_id = $1 AND entity_type = $2 AND entity_id = $3
	            AND status IN ('PENDING', 'DEFERRED')
	          ORDER BY detected_at DESC
	          LIMIT 1`

	conflict, err := scanConflict(r.pool.QueryRow(ctx, query, deviceID, entityType, entityID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active conflict: %w", err)
	}
	return conflict, nil
}

func (r *PostgresSyncConflictRepository) ListByStatus(ctx context.Context, userID, deviceID uuid.UUID, status models.ConflictStatus) ([]*models.SyncConflict, error) {
	query := `SELECT ` + conflictColumns + `
	          FROM sync_conflicts
	          WHERE user_id = $1 AND device_id = $2 AND status = $3
	          ORDER BY detected_at DESC`

	rows, err := r.pool.Query(ctx, query, userID, deviceID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []*models.SyncConflict
	for rows.Next() {
		conflict, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		conflicts = append(conflicts, conflict)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conflicts: %w", err)
	}
	return conflicts, nil
}

// Resolve transitions a conflict to RESOLVED. The WHERE clause only
// matches active conflicts, so a second resolution of the same conflict
// loses the race and gets ErrConflictClosed.
func (r *PostgresSyncConflictRepository) Resolve(ctx context.Context, conflict *models.SyncConflict) error {
	query := `UPDATE sync_conflicts
	          SET status = 'RESOLVED',
	              resolution = $1,
	              resolved_data = $2,
	              resolved_at = $3,
	              resolved_by = $4
	          WHERE id = $5 AND status IN ('PENDING', 'DEFERRED')`

	result, err := r.pool.Exec(ctx, query,
		conflict.Resolution,
		conflict.ResolvedData,
		conflict.ResolvedAt,
		conflict.ResolvedBy,
		conflict.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to resolve conflict: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrConflictClosed
	}
	return nil
}

func (r *PostgresSyncConflictRepository) Defer(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE sync_conflicts SET status = 'DEFERRED' WHERE id = $1 AND status = 'PENDING'`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to defer conflict: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrConflictClosed
	}
	return nil
}

func (r *PostgresSyncConflictRepository) CountByDevice(ctx context.Context, userID, deviceID uuid.UUID) (detected, resolved, pending int, err error) {
	query := `SELECT
	            COUNT(*),
	            COUNT(*) FILTER (WHERE status = 'RESOLVED'),
	            COUNT(*) FILTER (WHERE status IN ('PENDING', 'DEFERRED'))
	          FROM sync_conflicts
	          WHERE user_id = $1 AND device_id = $2`

	err = r.pool.QueryRow(ctx, query, userID, deviceID).Scan(&detected, &resolved, &pending)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count conflicts: %w", err)
	}
	return detected, resolved, pending, nil
}

func scanConflict(row pgx.Row) (*models.SyncConflict, error) {
	var conflict models.SyncConflict
	err := row.Scan(
		&conflict.ID,
		&conflict.QueueItemID,
		&conflict.UserID,
		&conflict.DeviceID,
		&conflict.EntityType,
		&conflict.EntityID,
		&conflict.ClientData,
		&conflict.ServerData,
		&conflict.ClientTimestamp,
		&conflict.ServerModifiedAt,
		&conflict.DetectedAt,
		&conflict.Status,
		&conflict.Resolution,
		&conflict.ResolvedData,
		&conflict.ResolvedAt,
		&conflict.ResolvedBy,
	)
	if err != nil {
		return nil, err
	}
	return &conflict, nil
}
