package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/querystore/common/store"
	"github.com/lyzr/querystore/common/validation"
)

// respondError maps service errors to HTTP responses. Only unexpected
// failures are logged; the rest are client errors.
func (h *QueryHandler) respondError(c echo.Context, err error) error {
	var verr *validation.ValidationError

	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error":      validation.ErrValidation.Error(),
			"violations": verr.Violations,
		})
	case errors.Is(err, store.ErrInvalidFilter):
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": err.Error(),
		})
	case errors.Is(err, store.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"error": "query not found",
		})
	case errors.Is(err, store.ErrImmutableID), errors.Is(err, store.ErrConflict):
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error": err.Error(),
		})
	}

	h.log.WithContext(c.Request().Context()).WithFields(map[string]any{
		"method": c.Request().Method,
		"path":   c.Path(),
	}).Error("request failed", "error", err)
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": "internal server error",
	})
}
