package capability

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dossier/accessd/internal/domain/access"
	"github.com/dossier/accessd/internal/platform/db"
)

type RepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

func (r *RepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const grantCols = `user_id, dossier_id, can_read, can_append, can_modify, can_delete, granted_by, granted_at, updated_at`

func scanGrant(row pgx.Row) (*Grant, error) {
	var g Grant
	err := row.Scan(&g.UserID, &g.DossierID, &g.Read, &g.Append, &g.Modify, &g.Delete,
		&g.GrantedBy, &g.GrantedAt, &g.UpdatedAt)
	return &g, err
}

// Upsert relies on the primary key for same-key contention; xmax is zero only
// for a freshly inserted row.
func (r *RepoPG) Upsert(ctx context.Context, g *Grant) (bool, error) {
	var created bool
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO capability_grant (user_id, dossier_id, can_read, can_append, can_modify, can_delete, granted_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, dossier_id) DO UPDATE SET
			can_read = EXCLUDED.can_read,
			can_append = EXCLUDED.can_append,
			can_modify = EXCLUDED.can_modify,
			can_delete = EXCLUDED.can_delete,
			granted_by = EXCLUDED.granted_by,
			updated_at = NOW()
		RETURNING granted_at, updated_at, (xmax = 0)`,
		g.UserID, g.DossierID, g.Read, g.Append, g.Modify, g.Delete, g.GrantedBy,
	).Scan(&g.GrantedAt, &g.UpdatedAt, &created)
	if err != nil {
		return false, fmt.Errorf("upsert capability grant: %w", err)
	}
	return created, nil
}

func (r *RepoPG) Delete(ctx context.Context, userID, dossierID uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM capability_grant WHERE user_id = $1 AND dossier_id = $2`, userID, dossierID)
	if err != nil {
		return false, fmt.Errorf("delete capability grant: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *RepoPG) Get(ctx context.Context, userID, dossierID uuid.UUID) (*Grant, error) {
	g, err := scanGrant(r.conn(ctx).QueryRow(ctx,
		`SELECT `+grantCols+` FROM capability_grant WHERE user_id = $1 AND dossier_id = $2`, userID, dossierID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get capability grant: %w", err)
	}
	return g, nil
}

func (r *RepoPG) ListByDossier(ctx context.Context, dossierID uuid.UUID, limit, offset int) ([]*Grant, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM capability_grant WHERE dossier_id = $1`, dossierID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count capability grants: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+grantCols+` FROM capability_grant WHERE dossier_id = $1 ORDER BY granted_at, user_id LIMIT $2 OFFSET $3`,
		dossierID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query capability grants: %w", err)
	}
	defer rows.Close()

	var items []*Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan capability grant: %w", err)
		}
		items = append(items, g)
	}
	return items, total, rows.Err()
}
