package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/querystore/cmd/queries/container"
	"github.com/lyzr/querystore/cmd/queries/handlers"
	"github.com/lyzr/querystore/cmd/queries/middleware"
)

// RegisterQueryRoutes registers all saved-query routes
func RegisterQueryRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewQueryHandler(c.QueryService, c.Components.Logger)

	queries := e.Group("/api/queries", middleware.ExtractUsername())
	{
		queries.GET("", h.ListQueries)                                // GET /api/queries?tag=finance
		queries.GET("/:id", h.GetQuery)                               // GET /api/queries/abc
		queries.POST("", h.CreateQuery, middleware.RequireUser())     // POST /api/queries
		queries.PUT("/:id", h.UpdateQuery, middleware.RequireUser())  // PUT /api/queries/abc
		queries.PATCH("/:id", h.PatchQuery, middleware.RequireUser()) // PATCH /api/queries/abc
		queries.DELETE("/:id", h.DeleteQuery, middleware.RequireUser())
	}
}

// RegisterHealthRoutes registers the health check endpoint
func RegisterHealthRoutes(e *echo.Echo, c *container.Container) {
	e.GET("/health", func(ctx echo.Context) error {
		if err := c.Components.Health(ctx.Request().Context()); err != nil {
			return ctx.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return ctx.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": c.Components.Config.Service.Name,
		})
	})
}
