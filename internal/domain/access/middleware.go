package access

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dossier/accessd/internal/platform/auth"
)

const (
	// DossierParam is the route parameter RequireCapability reads.
	DossierParam = "dossier_id"

	HeaderEmergencyAccess = "X-Emergency-Access"
)

type ctxKey string

const decisionKey ctxKey = "access_decision"

// deniedBody is identical for unknown dossiers and forbidden ones.
var deniedBody = map[string]string{"error": "access denied"}

// Denied writes the uniform 403 response.
func Denied(c echo.Context) error {
	return c.JSON(http.StatusForbidden, deniedBody)
}

// WithDecision returns ctx carrying an allowed decision.
func WithDecision(ctx context.Context, d Decision) context.Context {
	return context.WithValue(ctx, decisionKey, d)
}

// DecisionFromContext returns the decision RequireCapability admitted the
// request with.
func DecisionFromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionKey).(Decision)
	return d, ok
}

// UnderEmergency reports whether the request was admitted by an emergency
// grant. Mutators use it to flag the access to the caller.
func UnderEmergency(ctx context.Context) bool {
	d, ok := DecisionFromContext(ctx)
	return ok && d.Allow && d.Basis == BasisEmergency
}

// RequireCapability gates a route on the :dossier_id parameter. A missing or
// malformed id is a 400; every denial is the same 403.
func (e *Evaluator) RequireCapability(c Capability) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ec echo.Context) error {
			raw := ec.Param(DossierParam)
			if raw == "" {
				return echo.NewHTTPError(http.StatusBadRequest, "dossier_id is required")
			}
			dossierID, err := uuid.Parse(raw)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid dossier_id")
			}

			ctx := ec.Request().Context()
			id, ok := auth.IdentityFromContext(ctx)
			if !ok || !id.Valid() {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}

			d := e.Evaluate(ctx, id, dossierID, c)
			if !d.Allow {
				e.logger.Info().
					Str("user_id", id.UserID.String()).
					Str("role", string(id.Role)).
					Str("dossier_id", dossierID.String()).
					Str("capability", string(c)).
					Str("reason", d.Reason).
					Msg("access denied")
				return Denied(ec)
			}

			if d.Basis == BasisEmergency {
				ec.Response().Header().Set(HeaderEmergencyAccess, "active")
				e.logger.Warn().
					Str("type", "emergency_access").
					Str("user_id", id.UserID.String()).
					Str("dossier_id", dossierID.String()).
					Str("capability", string(c)).
					Str("path", ec.Request().URL.Path).
					Str("method", ec.Request().Method).
					Str("remote_ip", ec.RealIP()).
					Msg("access under emergency grant")
			}

			ec.SetRequest(ec.Request().WithContext(WithDecision(ctx, d)))
			return next(ec)
		}
	}
}
