package app

import (
	"github.com/datallboy/dlqueue/internal/engine"
	"github.com/datallboy/dlqueue/internal/events"
	"github.com/datallboy/dlqueue/internal/infra/config"
	"github.com/datallboy/dlqueue/internal/infra/logger"
	"github.com/datallboy/dlqueue/internal/metrics"
)

// Context hold the core environment and shared resources for dlqueue.
// It is built once in the serve command and handed to the HTTP layer.
type Context struct {
	Config *config.Config
	Logger *logger.Logger

	Manager *engine.Manager
	Hub     *events.Hub
	Metrics *metrics.Metrics
	Store   engine.Persistence
}

// NewContext initializes the base environment.
func NewContext(cfg *config.Config, log *logger.Logger) *Context {
	return &Context{
		Config: cfg,
		Logger: log,
	}
}
