package bootstrap

import (
	"context"
	"fmt"

	"github.com/lyzr/querystore/common/config"
	"github.com/lyzr/querystore/common/db"
	"github.com/lyzr/querystore/common/logger"
	rediscommon "github.com/lyzr/querystore/common/redis"
	"github.com/lyzr/querystore/common/store"
	"github.com/lyzr/querystore/common/telemetry"
	"github.com/redis/go-redis/v9"
)

// Setup initializes all service components
// This is the main entry point for all services
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	// Apply options
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	// 1. Load configuration
	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	// 2. Initialize logger
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(
			components.Config.Service.LogLevel,
			components.Config.Service.LogFormat,
		)
	}

	components.Logger.Info("initializing service",
		"service", serviceName,
		"environment", components.Config.Service.Environment,
	)

	// 3. Open the document store
	if options.customStore != nil {
		components.Store = options.customStore
	} else {
		if err := components.openStore(ctx); err != nil {
			components.Shutdown(ctx) // Cleanup what we've initialized
			return nil, err
		}
	}

	// 4. Initialize telemetry (if not skipped)
	if !options.skipTelemetry && components.Config.Telemetry.EnablePprof {
		components.Logger.Info("initializing telemetry")
		components.Telemetry = telemetry.New(
			components.Config.Telemetry.PprofPort,
			components.Logger,
		)

		if err := components.Telemetry.Start(ctx); err != nil {
			components.Logger.Warn("failed to start telemetry", "error", err)
			// Don't fail startup if telemetry fails
		}
		components.addCleanup(func() error {
			components.Logger.Info("stopping telemetry")
			return components.Telemetry.Stop(context.Background())
		})
	}

	components.Logger.Info("service initialization complete",
		"service", serviceName,
		"store", components.Config.Store.Type,
		"collection", components.Store.Name(),
		"db", components.DB != nil,
		"redis", components.Redis != nil,
		"telemetry", components.Telemetry != nil,
	)

	return components, nil
}

// MustSetup is like Setup but panics on error
// Useful for services that can't recover from initialization failure
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to setup service %s: %v", serviceName, err))
	}
	return components
}

// openStore connects the backend selected by STORE_TYPE
func (c *Components) openStore(ctx context.Context) error {
	cfg := c.Config
	name := cfg.Store.Collection
	log := c.Logger.WithCollection(name)

	log.Info("opening document store", "type", cfg.Store.Type)

	var err error
	switch cfg.Store.Type {
	case config.StoreMemory:
		c.Store = store.NewMemory(name)

	case config.StoreSQLite:
		c.Store, err = store.NewSQLite(ctx, cfg.Store.SQLitePath, name)
		if err != nil {
			return fmt.Errorf("failed to open sqlite store: %w", err)
		}
		log.Info("sqlite store ready", "path", cfg.Store.SQLitePath)

	case config.StorePostgres:
		c.DB, err = db.New(ctx, cfg, c.Logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		c.addCleanup(func() error {
			c.Logger.Info("closing database connection")
			c.DB.Close()
			return nil
		})

		c.Store, err = store.NewPostgres(ctx, c.DB, name)
		if err != nil {
			return fmt.Errorf("failed to open postgres store: %w", err)
		}

	case config.StoreRedis:
		raw := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.Redis = rediscommon.NewClient(raw, c.Logger)
		c.addCleanup(func() error {
			c.Logger.Info("closing redis connection")
			return c.Redis.Close()
		})

		if err := c.Redis.Ping(ctx); err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr(), err)
		}
		c.Store = store.NewRedis(c.Redis, name)

	default:
		return fmt.Errorf("unknown store type: %s", cfg.Store.Type)
	}

	c.addCleanup(func() error {
		log.Info("closing document store")
		return c.Store.Close()
	})

	return nil
}
