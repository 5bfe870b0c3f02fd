package services

import (
	"context"
	"encoding/json"

	"github.com/medisync/server/internal/models"
)

// EntityStateReader reads the current authoritative server state for an
// entity. A nil state means no server record exists yet.
type EntityStateReader interface {
	GetCurrentState(ctx context.Context, entityType models.EntityType, entityID string) (*models.EntityState, error)
}

// EntityMutationApplier performs the actual create/update/delete against
// domain storage. Implementations live with the entity CRUD services.
type EntityMutationApplier interface {
	Apply(ctx context.Context, entityType models.EntityType, entityID string, actionType models.ActionType, data json.RawMessage) error
}
