package container

import (
	"github.com/lyzr/querystore/cmd/queries/repository"
	"github.com/lyzr/querystore/cmd/queries/service"
	"github.com/lyzr/querystore/common/bootstrap"
)

// Container holds all initialized services and repositories
type Container struct {
	// Components
	Components *bootstrap.Components

	// Repositories
	QueryRepo *repository.QueryRepository

	// Services
	QueryService *service.QueryService
}

// NewContainer initializes all services and repositories once
func NewContainer(components *bootstrap.Components, opts ...service.Option) *Container {
	queryRepo := repository.NewQueryRepository(components.Store)
	queryService := service.NewQueryService(queryRepo, components.Logger, opts...)

	return &Container{
		Components:   components,
		QueryRepo:    queryRepo,
		QueryService: queryService,
	}
}
