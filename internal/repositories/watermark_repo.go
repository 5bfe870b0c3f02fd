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

type PostgresWatermarkRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresWatermarkRepository(pool *pgxpool.Pool) *PostgresWatermarkRepository {
	return &PostgresWatermarkRepository{pool: pool}
}

// Get returns the watermark for a (device, entity type) pair. A device
// that never synced the entity type gets a zero watermark, not an error.
func (r *PostgresWatermarkRepository) Get(ctx context.Context, deviceID uuid.UUID, entityType models.EntityType) (*models.SyncWatermark, error) {
	query := `SELECT device_id, entity_type, last_synced_at, updated_at
	          FROM sync_watermarks
	          WHERE device_id = $1 AND entity_type = $2`

	var wm models.SyncWatermark
	err := r.pool.QueryRow(ctx, query, deviceID, entityType).Scan(
		&wm.DeviceID,
		&wm.EntityType,
		&wm.LastSyncedAt,
		&wm.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return &models.SyncWatermark{
			DeviceID:   deviceID,
			EntityType: entityType,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get watermark: %w", err)
	}
	return &wm, nil
}

// Advance moves the watermark forward. GREATEST makes the cursor
// monotonic even if two passes race: a stale advance is a no-op.
func (r *PostgresWatermarkRepository) Advance(ctx context.Context, deviceID uuid.UUID, entityType models.EntityType, lastSyncedAt time.Time) error {
	query := `INSERT INTO sync_watermarks (device_id, entity_type, last_synced_at, updated_at)
	          VALUES ($1, $2, $3, NOW())
	          ON CONFLICT (device_id, entity_type) DO UPDATE SET
	            last_synced_at = GREATEST(sync_watermarks.last_synced_at, EXCLUDED.last_synced_at),
	            updated_at = NOW()`

	_, err := r.pool.Exec(ctx, query, deviceID, entityType, lastSyncedAt)
	if err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}
	return nil
}

func (r *PostgresWatermarkRepository) GetAllForDevice(ctx context.Context, deviceID uuid.UUID) ([]*models.SyncWatermark, error) {
	query := `SELECT device_id, entity_type, last_synced_at, updated_at
	          FROM sync_watermarks
	          WHERE device_id = $1
	          ORDER BY entity_type ASC`

	rows, err := r.pool.Query(ctx, query, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query watermarks: %w", err)
	}
	defer rows.Close()

	var watermarks []*models.SyncWatermark
	for rows.Next() {
		var wm models.SyncWatermark
		err := rows.Scan(&wm.DeviceID, &wm.EntityType, &wm.LastSyncedAt, &wm.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan watermark: %w", err)
		}
		watermarks = append(watermarks, &wm)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating watermarks: %w", err)
	}
	return watermarks, nil
}
