package audit

import (
	"context"

	"github.com/google/uuid"
)

// Repository is append-only: there is deliberately no update or delete.
type Repository interface {
	Append(ctx context.Context, e *Entry) error
	ListByEntity(ctx context.Context, entityKind, entityID string, limit, offset int) ([]*Entry, int, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Entry, int, error)
	List(ctx context.Context, limit, offset int) ([]*Entry, int, error)
}
