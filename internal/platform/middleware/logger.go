package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/dossier/accessd/internal/platform/auth"
)

// emergencyHeader is set by the access layer on responses served under an
// emergency grant.
const emergencyHeader = "X-Emergency-Access"

// Logger writes one line per request. Client errors log at warn, server
// errors at error, and anything served under an emergency grant at warn
// with emergency=true.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			res := c.Response()
			emergency := res.Header().Get(emergencyHeader) != ""
			var evt *zerolog.Event
			switch {
			case res.Status >= http.StatusInternalServerError:
				evt = logger.Error().Err(err)
			case res.Status >= http.StatusBadRequest:
				evt = logger.Warn().Err(err)
			case emergency:
				evt = logger.Warn()
			default:
				evt = logger.Info()
			}

			// read after next: handlers replace the request context
			req := c.Request()
			if id, ok := auth.IdentityFromContext(req.Context()); ok {
				evt = evt.Str("user_id", id.UserID.String()).Str("role", string(id.Role))
			}
			if emergency {
				evt = evt.Bool("emergency", true)
			}

			evt.
				Str("request_id", GetRequestID(c)).
				Str("method", req.Method).
				Str("route", c.Path()).
				Str("path", req.URL.Path).
				Int("status", res.Status).
				Int64("bytes_out", res.Size).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")
			return nil
		}
	}
}
