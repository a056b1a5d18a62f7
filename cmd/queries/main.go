package main

import (
	"context"
	"fmt"
	"os"

	"github.com/lyzr/querystore/cmd/queries/container"
	"github.com/lyzr/querystore/cmd/queries/routes"
	"github.com/lyzr/querystore/common/bootstrap"
	"github.com/lyzr/querystore/common/server"
)

func main() {
	ctx := context.Background()

	// Bootstrap common components (config, logger, document store, telemetry)
	components, err := bootstrap.Setup(ctx, "queries")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap queries service: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	serviceContainer := container.NewContainer(components)

	e := routes.NewEcho(serviceContainer)

	port := components.Config.Service.Port
	srv := server.New("queries", port, e, components.Logger)
	if err := srv.Start(); err != nil {
		components.Logger.Error("Server error", "error", err)
		components.Shutdown(ctx)
		os.Exit(1)
	}
}
