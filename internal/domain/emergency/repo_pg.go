package emergency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

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

const grantCols = `id, user_id, dossier_id, reason, granted_at, expires_at,
	circumstances, location, vital_signs, first_aid, destination`

func scanGrant(row pgx.Row) (*Grant, error) {
	var g Grant
	err := row.Scan(&g.ID, &g.UserID, &g.DossierID, &g.Reason, &g.GrantedAt, &g.ExpiresAt,
		&g.Circumstances, &g.Location, &g.VitalSigns, &g.FirstAid, &g.Destination)
	return &g, err
}

func (r *RepoPG) Create(ctx context.Context, g *Grant) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO emergency_grant (id, user_id, dossier_id, reason, granted_at, expires_at,
			circumstances, location, vital_signs, first_aid, destination)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		g.ID, g.UserID, g.DossierID, g.Reason, g.GrantedAt, g.ExpiresAt,
		g.Circumstances, g.Location, g.VitalSigns, g.FirstAid, g.Destination)
	if err != nil {
		return fmt.Errorf("insert emergency grant: %w", err)
	}
	return nil
}

// HasActive compares expires_at with now at query time; nothing is cached.
func (r *RepoPG) HasActive(ctx context.Context, userID, dossierID uuid.UUID, now time.Time) (bool, error) {
	var ok bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM emergency_grant
			WHERE user_id = $1 AND dossier_id = $2 AND expires_at > $3
		)`, userID, dossierID, now).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("emergency grant lookup: %w", err)
	}
	return ok, nil
}

func (r *RepoPG) ListActiveByUser(ctx context.Context, userID uuid.UUID, now time.Time, limit, offset int) ([]*Grant, int, error) {
	return r.list(ctx, "WHERE user_id = $1 AND expires_at > $2", []interface{}{userID, now}, limit, offset)
}

func (r *RepoPG) ListByDossier(ctx context.Context, dossierID uuid.UUID, limit, offset int) ([]*Grant, int, error) {
	return r.list(ctx, "WHERE dossier_id = $1", []interface{}{dossierID}, limit, offset)
}

func (r *RepoPG) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Grant, int, error) {
	return r.list(ctx, "WHERE user_id = $1", []interface{}{userID}, limit, offset)
}

func (r *RepoPG) List(ctx context.Context, limit, offset int) ([]*Grant, int, error) {
	return r.list(ctx, "", nil, limit, offset)
}

func (r *RepoPG) list(ctx context.Context, where string, args []interface{}, limit, offset int) ([]*Grant, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM emergency_grant "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count emergency grants: %w", err)
	}

	n := len(args)
	q := fmt.Sprintf("SELECT %s FROM emergency_grant %s ORDER BY granted_at DESC, id LIMIT $%d OFFSET $%d",
		grantCols, where, n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, q, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("query emergency grants: %w", err)
	}
	defer rows.Close()

	var items []*Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan emergency grant: %w", err)
		}
		items = append(items, g)
	}
	return items, total, rows.Err()
}
