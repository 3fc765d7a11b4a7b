package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

const healthTimeout = 3 * time.Second

type PoolStats struct {
	TotalConns    int32  `json:"total_conns"`
	IdleConns     int32  `json:"idle_conns"`
	AcquiredConns int32  `json:"acquired_conns"`
	MaxConns      int32  `json:"max_conns"`
	EmptyAcquires int64  `json:"empty_acquire_count"`
	AcquireWait   string `json:"acquire_duration"`
}

func statsOf(pool *pgxpool.Pool) PoolStats {
	s := pool.Stat()
	return PoolStats{
		TotalConns:    s.TotalConns(),
		IdleConns:     s.IdleConns(),
		AcquiredConns: s.AcquiredConns(),
		MaxConns:      s.MaxConns(),
		EmptyAcquires: s.EmptyAcquireCount(),
		AcquireWait:   s.AcquireDuration().String(),
	}
}

// probe is what /health/db needs from the database.
type probe struct {
	ping    func(ctx context.Context) error
	pending func(ctx context.Context) (int, error)
	stats   func() PoolStats
}

// HealthHandler serves /health/db. It answers 503 when the database is
// unreachable or when embedded migrations have not been applied, since the
// evaluator would then fail closed on every request.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	m := NewMigrator(pool, EmbeddedMigrations())
	return healthHandler(probe{
		ping:    pool.Ping,
		pending: m.Pending,
		stats:   func() PoolStats { return statsOf(pool) },
	})
}

func healthHandler(p probe) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()

		if err := p.ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unhealthy", "error": err.Error()})
		}
		pending, err := p.pending(ctx)
		if err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unhealthy", "error": err.Error()})
		}
		if pending > 0 {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "migrations_pending", "pending": pending})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "healthy", "pool": p.stats()})
	}
}
