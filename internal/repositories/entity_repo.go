package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/medisync/server/internal/models"
)

// PostgresEntityStateRepository is the default adapter for reading and
// writing authoritative entity state. The domain CRUD services own the
// real entity tables; this generic record store stands in behind the
// same reader/applier contracts and keeps a last-modified marker for
// conflict comparison.
type PostgresEntityStateRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresEntityStateRepository(pool *pgxpool.Pool) *PostgresEntityStateRepository {
	return &PostgresEntityStateRepository{pool: pool}
}

// GetCurrentState returns the server-side snapshot for an entity, or
// nil if no record exists yet.
func (r *PostgresEntityStateRepository) GetCurrentState(ctx context.Context, entityType models.EntityType, entityID string) (*models.EntityState, error) {
	query := `SELECT entity_type, entity_id, data, last_modified_at
	          FROM entity_records
	          WHERE entity_type = $1 AND entity_id = $2 AND deleted_at IS NULL`

	var state models.EntityState
	err := r.pool.QueryRow(ctx, query, entityType, entityID).Scan(
		&state.EntityType,
		&state.EntityID,
		&state.Data,
		&state.LastModifiedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity state: %w", err)
	}
	return &state, nil
}

// Apply performs the client mutation against the record store. READ
// actions carry no server-side effect.
func (r *PostgresEntityStateRepository) Apply(ctx context.Context, entityType models.EntityType, entityID string, actionType models.ActionType, data json.RawMessage) error {
	switch actionType {
	case models.ActionCreate, models.ActionUpdate:
		query := `INSERT INTO entity_records (entity_type, entity_id, data, last_modified_at)
		          VALUES ($1, $2, $3, NOW())
		          ON CONFLICT (entity_type, entity_id) DO UPDATE SET
		            data = EXCLUDED.data,
		            last_modified_at = NOW(),
		            deleted_at = NULL`

		if _, err := r.pool.Exec(ctx, query, entityType, entityID, data); err != nil {
			return fmt.Errorf("failed to apply %s: %w", actionType, err)
		}
		return nil

	case models.ActionDelete:
		query := `UPDATE entity_records
		          SET deleted_at = NOW(), last_modified_at = NOW()
		          WHERE entity_type = $1 AND entity_id = $2 AND deleted_at IS NULL`

		if _, err := r.pool.Exec(ctx, query, entityType, entityID); err != nil {
			return fmt.Errorf("failed to apply delete: %w", err)
		}
		return nil

	case models.ActionRead:
		return nil

	default:
		return fmt.Errorf("unsupported action type %q", actionType)
	}
}
