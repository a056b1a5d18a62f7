package middleware

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/querystore/common/logger"
)

// TraceID copies the request id into the request context so that
// logger.WithContext tags log lines with it. Register after echo's RequestID.
func TraceID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			if id == "" {
				id = c.Request().Header.Get(echo.HeaderXRequestID)
			}
			if id != "" {
				req := c.Request()
				c.SetRequest(req.WithContext(context.WithValue(req.Context(), logger.TraceIDKey, id)))
			}
			return next(c)
		}
	}
}
