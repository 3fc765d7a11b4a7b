package audit

import (
	"context"
	"fmt"

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

const entryCols = `seq, id, action, entity_kind, entity_id, user_id, recorded_at, origin_address`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.Seq, &e.ID, &e.Action, &e.EntityKind, &e.EntityID, &e.UserID, &e.RecordedAt, &e.OriginAddress)
	return &e, err
}

func (r *RepoPG) Append(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO audit_entry (id, action, entity_kind, entity_id, user_id, recorded_at, origin_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq`,
		e.ID, e.Action, e.EntityKind, e.EntityID, e.UserID, e.RecordedAt, e.OriginAddress,
	).Scan(&e.Seq)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (r *RepoPG) ListByEntity(ctx context.Context, entityKind, entityID string, limit, offset int) ([]*Entry, int, error) {
	return r.list(ctx, "WHERE entity_kind = $1 AND entity_id = $2", []interface{}{entityKind, entityID}, limit, offset)
}

func (r *RepoPG) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	return r.list(ctx, "WHERE user_id = $1", []interface{}{userID}, limit, offset)
}

func (r *RepoPG) List(ctx context.Context, limit, offset int) ([]*Entry, int, error) {
	return r.list(ctx, "", nil, limit, offset)
}

func (r *RepoPG) list(ctx context.Context, where string, args []interface{}, limit, offset int) ([]*Entry, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM audit_entry "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	n := len(args)
	q := fmt.Sprintf("SELECT %s FROM audit_entry %s ORDER BY recorded_at, seq LIMIT $%d OFFSET $%d",
		entryCols, where, n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, q, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan audit entry: %w", err)
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}
