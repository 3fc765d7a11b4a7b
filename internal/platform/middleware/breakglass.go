package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/dossier/accessd/internal/platform/auth"
)

// activationLimiter tracks break-glass activations per user within a rolling
// one hour window.
type activationLimiter struct {
	mu      sync.Mutex
	entries map[string][]time.Time // userID -> activation timestamps
}

func newActivationLimiter() *activationLimiter {
	return &activationLimiter{
		entries: make(map[string][]time.Time),
	}
}

// allow keeps only timestamps within the last hour and admits the call when
// fewer than maxPerHour remain. An admitted call is recorded at now.
func (rl *activationLimiter) allow(userID string, now time.Time, maxPerHour int) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-1 * time.Hour)

	existing := rl.entries[userID]
	pruned := existing[:0]
	for _, ts := range existing {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}

	if len(pruned) >= maxPerHour {
		rl.entries[userID] = pruned
		return false
	}

	rl.entries[userID] = append(pruned, now)
	return true
}

// cleanup drops users with no activation in the last hour.
func (rl *activationLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-1 * time.Hour)
	for userID, timestamps := range rl.entries {
		pruned := timestamps[:0]
		for _, ts := range timestamps {
			if ts.After(cutoff) {
				pruned = append(pruned, ts)
			}
		}
		if len(pruned) == 0 {
			delete(rl.entries, userID)
		} else {
			rl.entries[userID] = pruned
		}
	}
}

const activationCleanupPeriod = 5 * time.Minute

// EmergencyRateLimit bounds how many emergency grants a single user may
// activate per hour. It is mounted on the activation route only and must run
// after authentication. A non-positive maxPerHour disables the limit.
func EmergencyRateLimit(logger zerolog.Logger, maxPerHour int) echo.MiddlewareFunc {
	if maxPerHour <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}

	rl := newActivationLimiter()
	go func() {
		ticker := time.NewTicker(activationCleanupPeriod)
		defer ticker.Stop()
		for range ticker.C {
			rl.cleanup(time.Now())
		}
	}()

	return emergencyRateLimit(logger, rl, maxPerHour, time.Now)
}

func emergencyRateLimit(logger zerolog.Logger, rl *activationLimiter, maxPerHour int, nowFn func() time.Time) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := auth.IdentityFromContext(c.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}

			if !rl.allow(id.UserID.String(), nowFn(), maxPerHour) {
				logger.Warn().
					Str("type", "emergency_access").
					Str("user_id", id.UserID.String()).
					Str("role", string(id.Role)).
					Str("remote_ip", c.RealIP()).
					Int("max_per_hour", maxPerHour).
					Msg("emergency activation rate limit exceeded")
				return echo.NewHTTPError(http.StatusTooManyRequests,
					fmt.Sprintf("emergency access rate limit exceeded: maximum %d activations per hour", maxPerHour))
			}

			return next(c)
		}
	}
}
