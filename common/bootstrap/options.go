package bootstrap

import (
	"github.com/lyzr/querystore/common/config"
	"github.com/lyzr/querystore/common/logger"
	"github.com/lyzr/querystore/common/store"
)

// Option configures the bootstrap process
type Option func(*options)

type options struct {
	skipTelemetry bool
	customLogger  *logger.Logger
	customConfig  *config.Config
	customStore   *store.Collection
}

// WithoutTelemetry skips telemetry initialization
func WithoutTelemetry() Option {
	return func(o *options) {
		o.skipTelemetry = true
	}
}

// WithCustomLogger uses a custom logger instead of creating one
func WithCustomLogger(log *logger.Logger) Option {
	return func(o *options) {
		o.customLogger = log
	}
}

// WithCustomConfig uses a custom config instead of loading from env
func WithCustomConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.customConfig = cfg
	}
}

// WithCustomStore uses an already opened collection instead of the one
// selected by STORE_TYPE. The caller keeps ownership of it.
func WithCustomStore(s *store.Collection) Option {
	return func(o *options) {
		o.customStore = s
	}
}

func defaultOptions() *options {
	return &options{
		skipTelemetry: false,
	}
}
