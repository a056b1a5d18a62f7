package routes

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/lyzr/querystore/cmd/queries/container"
	"github.com/lyzr/querystore/cmd/queries/handlers"
	"github.com/lyzr/querystore/cmd/queries/middleware"
)

// NewEcho builds the echo instance with middleware and every route registered
func NewEcho(c *container.Container) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handlers.NewRequestValidator()

	e.Pre(echomw.RemoveTrailingSlash())
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.TraceID())
	e.Use(echomw.Logger())
	e.Use(echomw.CORS())

	RegisterHealthRoutes(e, c)
	RegisterQueryRoutes(e, c)

	return e
}
