package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RequireClinician rejects requests that reached a handler without an
// authenticated clinician on the context.
func RequireClinician() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if ClinicianFromContext(c.Request().Context()) == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			return next(c)
		}
	}
}

// RequireAdmin returns middleware that only lets administrators through.
// Services check the role again; this only fails fast at the edge.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cl := ClinicianFromContext(c.Request().Context())
			if cl == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			if !cl.IsAdmin() {
				return echo.NewHTTPError(http.StatusForbidden, "required role: admin")
			}
			return next(c)
		}
	}
}
