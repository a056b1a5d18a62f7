package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// UsernameKey is the context key for storing the authenticated username
	UsernameKey ContextKey = "username"

	// UserHeader carries the caller identity set by the upstream gateway
	UserHeader = "X-User-ID"
)

// ExtractUsername stores the X-User-ID header in the request context when present.
// Reads are allowed without it.
//
// Usage:
//
//	e := echo.New()
//	e.Use(middleware.ExtractUsername())
//
// Accessing in handlers:
//
//	username := middleware.GetUsername(c)
func ExtractUsername() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if username := c.Request().Header.Get(UserHeader); username != "" {
				c.Set(string(UsernameKey), username)
			}
			return next(c)
		}
	}
}

// RequireUser rejects requests without X-User-ID. Used on write routes, where the
// caller becomes createdBy/modifiedBy.
func RequireUser() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			username := c.Request().Header.Get(UserHeader)
			if username == "" {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"error": "X-User-ID header is required",
				})
			}

			c.Set(string(UsernameKey), username)
			return next(c)
		}
	}
}

// GetUsername retrieves the username from the request context
// Returns empty string if not set
func GetUsername(c echo.Context) string {
	username, _ := c.Get(string(UsernameKey)).(string)
	return username
}
