package capability

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Upsert writes g, last write wins. created reports whether the row is new.
	Upsert(ctx context.Context, g *Grant) (created bool, err error)
	Delete(ctx context.Context, userID, dossierID uuid.UUID) (bool, error)
	Get(ctx context.Context, userID, dossierID uuid.UUID) (*Grant, error)
	ListByDossier(ctx context.Context, dossierID uuid.UUID, limit, offset int) ([]*Grant, int, error)
}
