package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

const (
	DBConnKey      contextKey = "db_conn"
	DBTxKey        contextKey = "db_tx"
	afterCommitKey contextKey = "db_after_commit"
)

// Querier is the subset of pgx shared by pools, connections and transactions.
// Repositories run their statements against whatever Conn returns.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// ConnFromContext retrieves a request-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// TxFromContext retrieves the transaction started by WithTx, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// Conn returns the innermost querier for ctx: the open transaction, then a
// request-scoped connection, then the pool.
func Conn(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := ConnFromContext(ctx); c != nil {
		return c
	}
	if pool == nil {
		return nil
	}
	return pool
}

// ParseIsolation maps the GRANT_TX_ISOLATION setting to a pgx isolation level.
func ParseIsolation(s string) pgx.TxIsoLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read_committed":
		return pgx.ReadCommitted
	case "repeatable_read":
		return pgx.RepeatableRead
	default:
		return pgx.Serializable
	}
}

// Transactor runs fn inside a transaction carried by the context handed to
// fn. *TxRunner is the production implementation.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// maxTxAttempts bounds retries of transactions aborted by a serialization
// failure or a deadlock.
const maxTxAttempts = 3

// TxRunner opens transactions at a fixed isolation level. Nested calls reuse
// the transaction already carried by the context.
type TxRunner struct {
	pool *pgxpool.Pool
	iso  pgx.TxIsoLevel
}

func NewTxRunner(pool *pgxpool.Pool, iso pgx.TxIsoLevel) *TxRunner {
	return &TxRunner{pool: pool, iso: iso}
}

// WithTx runs fn inside a transaction. The transaction is placed on the
// context handed to fn so repositories pick it up through Conn. fn is retried
// when PostgreSQL reports a serialization failure, so it must not have side
// effects outside the database.
func (r *TxRunner) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}
	if r == nil || r.pool == nil {
		return errors.New("no database connection in context")
	}

	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = r.runOnce(ctx, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("transaction retries exhausted: %w", err)
}

func (r *TxRunner) runOnce(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: r.iso})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	hooks := &[]func(context.Context){}
	txCtx := context.WithValue(context.WithValue(ctx, DBTxKey, tx), afterCommitKey, hooks)
	if err := fn(txCtx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	for _, hook := range *hooks {
		hook(ctx)
	}
	return nil
}

// AfterCommit schedules fn to run once the transaction carried by ctx has
// committed. Hooks of an attempt that rolls back are dropped. Without a
// transaction fn runs immediately.
func AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	if hooks, ok := ctx.Value(afterCommitKey).(*[]func(context.Context)); ok && TxFromContext(ctx) != nil {
		*hooks = append(*hooks, fn)
		return
	}
	fn(ctx)
}

// WithSavepoint runs fn on a savepoint of the transaction carried by ctx, so
// a statement that fails can be undone without aborting the transaction.
// Outside a transaction fn runs on Conn(ctx, pool).
func WithSavepoint(ctx context.Context, pool *pgxpool.Pool, fn func(q Querier) error) error {
	tx := TxFromContext(ctx)
	if tx == nil {
		q := Conn(ctx, pool)
		if q == nil {
			return errors.New("no database connection in context")
		}
		return fn(q)
	}
	sp, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin savepoint: %w", err)
	}
	if err := fn(sp); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}

// IsRetryable reports serialization failures (40001) and deadlocks (40P01).
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// IsUniqueViolation reports a unique constraint violation (23505).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
