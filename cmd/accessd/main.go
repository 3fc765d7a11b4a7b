package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dossier/accessd/internal/config"
	"github.com/dossier/accessd/internal/domain/access"
	"github.com/dossier/accessd/internal/domain/audit"
	"github.com/dossier/accessd/internal/domain/capability"
	"github.com/dossier/accessd/internal/domain/dossier"
	"github.com/dossier/accessd/internal/domain/emergency"
	"github.com/dossier/accessd/internal/platform/auditstream"
	"github.com/dossier/accessd/internal/platform/auth"
	"github.com/dossier/accessd/internal/platform/db"
	"github.com/dossier/accessd/internal/platform/metrics"
	"github.com/dossier/accessd/internal/platform/middleware"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "accessd",
		Short: "Dossier access control and emergency override service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(auditCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// connect loads the configuration and opens the pool shared by every command.
func connect(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{
		URL:              cfg.DatabaseURL,
		MaxConns:         cfg.DBMaxConns,
		MinConns:         cfg.DBMinConns,
		StatementTimeout: cfg.RequestTimeout,
	}
}

// migrationsFS reads MIGRATIONS_DIR when set, the embedded set otherwise.
func migrationsFS(cfg *config.Config) fs.FS {
	if cfg.MigrationsDir != "" {
		return os.DirFS(cfg.MigrationsDir)
	}
	return db.EmbeddedMigrations()
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrationsFS(cfg)).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationsFS(cfg)).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format(time.RFC3339)
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit trail",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Print audit entries in recorded order",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("entity-kind")
			entityID, _ := cmd.Flags().GetString("entity-id")
			userID, _ := cmd.Flags().GetString("user-id")
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")

			ctx := context.Background()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			rec := audit.NewRecorder(audit.NewRepoPG(pool), auditstream.Nop{}, zerolog.Nop(), nil)
			var (
				items []*audit.Entry
				total int
			)
			switch {
			case kind != "" && entityID != "":
				items, total, err = rec.ListByEntity(ctx, kind, entityID, limit, offset)
			case userID != "":
				uid, perr := uuid.Parse(userID)
				if perr != nil {
					return fmt.Errorf("invalid --user-id: %w", perr)
				}
				items, total, err = rec.ListByUser(ctx, uid, limit, offset)
			default:
				items, total, err = rec.List(ctx, limit, offset)
			}
			if err != nil {
				return err
			}

			for _, e := range items {
				fmt.Printf("%-8d %s %-12s %-16s %-38s %s %s\n",
					e.Seq, e.RecordedAt.Format(time.RFC3339), e.Action, e.EntityKind, e.EntityID, e.UserID, e.OriginAddress)
			}
			fmt.Printf("%d of %d entries\n", len(items), total)
			return nil
		},
	}
	list.Flags().String("entity-kind", "", "Filter by entity kind (with --entity-id)")
	list.Flags().String("entity-id", "", "Filter by entity id (with --entity-kind)")
	list.Flags().String("user-id", "", "Filter by acting user")
	list.Flags().Int("limit", 100, "Maximum entries to print")
	list.Flags().Int("offset", 0, "Entries to skip")
	cmd.AddCommand(list)

	return cmd
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	stream := auditstream.New(cfg.AuditKafkaBrokers, cfg.AuditKafkaTopic)
	defer stream.Close()
	if len(cfg.AuditKafkaBrokers) > 0 {
		logger.Info().Strs("brokers", cfg.AuditKafkaBrokers).Str("topic", cfg.AuditKafkaTopic).Msg("streaming audit entries")
	}

	e, err := newServer(cfg, pool, stream, metrics.New(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer wires every component onto a fresh echo instance.
func newServer(cfg *config.Config, pool *pgxpool.Pool, stream auditstream.Publisher, m *metrics.Metrics, logger zerolog.Logger) (*echo.Echo, error) {
	signingKey, err := decodeSigningKey(cfg.AuthSigningKey)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(m.Middleware())
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", middleware.RequestIDHeader, auth.HeaderUserID, auth.HeaderUserRole, auth.HeaderUserActive},
		ExposeHeaders: []string{access.HeaderEmergencyAccess, middleware.RequestIDHeader},
	}))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	var tokenAuth echo.MiddlewareFunc
	if len(signingKey) > 0 || cfg.AuthJWKSURL != "" || cfg.AuthIssuer != "" {
		tokenAuth = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: signingKey,
			Skipper:    auth.AuthSkipper,
		})
	}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(tokenAuth))
	} else if tokenAuth != nil {
		e.Use(tokenAuth)
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", m.Handler())

	txRunner := db.NewTxRunner(pool, db.ParseIsolation(cfg.GrantTxIsolation))

	recorder := audit.NewRecorder(audit.NewRepoPG(pool), stream, logger, m)
	capabilities := capability.NewService(capability.NewRepoPG(pool), txRunner, recorder)
	dossiers := dossier.NewService(dossier.NewRepoPG(pool), txRunner, capabilities, recorder, logger)
	grants := emergency.NewService(emergency.NewRepoPG(pool), dossiers, txRunner, recorder, emergency.Policy{
		DefaultMinutes: cfg.EmergencyDefault,
		MinMinutes:     cfg.EmergencyMin,
		MaxMinutes:     cfg.EmergencyMax,
	}, logger, m)
	evaluator := access.NewEvaluator(capabilities, grants, dossiers, cfg.AccessEvalTimeout, logger, m)

	api := e.Group("/api/v1", auth.RequireIdentity())
	access.NewHandler(evaluator).RegisterRoutes(api)
	audit.NewHandler(recorder).RegisterRoutes(api)
	capability.NewHandler(capabilities, evaluator).RegisterRoutes(api)
	dossier.NewHandler(dossiers, evaluator).RegisterRoutes(api)
	emergency.NewHandler(grants).RegisterRoutes(api, middleware.EmergencyRateLimit(logger, cfg.EmergencyPerHour))

	return e, nil
}

func decodeSigningKey(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid AUTH_SIGNING_KEY hex value: %w", err)
	}
	return key, nil
}

// errorHandler renders every error as {"error": message}. Internal errors
// are logged and never echoed.
func errorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		msg := http.StatusText(code)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			msg = fmt.Sprint(he.Message)
			if he.Internal != nil {
				logger.Debug().Err(he.Internal).Int("status", code).Msg("http error")
			}
		} else {
			logger.Error().Err(err).Str("path", c.Request().URL.Path).Msg("unhandled error")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, map[string]string{"error": msg})
		}
		if err != nil {
			logger.Error().Err(err).Msg("failed to write error response")
		}
	}
}
