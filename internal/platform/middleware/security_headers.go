package middleware

import (
	"github.com/labstack/echo/v4"
)

var apiHeaders = map[string]string{
	"X-Content-Type-Options":            "nosniff",
	"X-Frame-Options":                   "DENY",
	"Content-Security-Policy":           "default-src 'none'; frame-ancestors 'none'",
	"Referrer-Policy":                   "no-referrer",
	"X-Permitted-Cross-Domain-Policies": "none",
	// decisions and patient data are never cacheable
	"Cache-Control": "no-store",
	"Pragma":        "no-cache",
}

// SecurityHeaders sets headers for a JSON API serving patient data.
// Strict-Transport-Security is only sent when hsts is true, which production
// deployments behind TLS should set.
func SecurityHeaders(hsts bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for k, v := range apiHeaders {
				h.Set(k, v)
			}
			if hsts {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			return next(c)
		}
	}
}
