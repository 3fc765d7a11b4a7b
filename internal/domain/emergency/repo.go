package emergency

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository has no update or delete: grants end by expiring.
type Repository interface {
	Create(ctx context.Context, g *Grant) error
	HasActive(ctx context.Context, userID, dossierID uuid.UUID, now time.Time) (bool, error)
	ListActiveByUser(ctx context.Context, userID uuid.UUID, now time.Time, limit, offset int) ([]*Grant, int, error)
	ListByDossier(ctx context.Context, dossierID uuid.UUID, limit, offset int) ([]*Grant, int, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Grant, int, error)
	List(ctx context.Context, limit, offset int) ([]*Grant, int, error)
}
