package middleware

import (
	"github.com/labstack/echo/v4"
)

// SecurityHeaders returns middleware that sets security response headers on
// every request. The app serves its own small status surface plus redirect
// endpoints whose URLs carry one-time authorization codes, so referrer
// leakage and response caching are the main concerns.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()

			// Prevent MIME type sniffing
			h.Set("X-Content-Type-Options", "nosniff")

			// The launch surface must never render inside an embedding page
			h.Set("X-Frame-Options", "DENY")

			h.Set("X-XSS-Protection", "0")

			// The status page loads nothing beyond its own origin.
			h.Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'")

			// Never send the callback URL, with its code and state, as a
			// Referer to anyone.
			h.Set("Referrer-Policy", "no-referrer")

			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")

			// Responses can carry patient data and token-derived state.
			h.Set("Cache-Control", "no-store")

			return next(c)
		}
	}
}
