package injector

import (
	"fmt"

	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zeusync/entsim/internal/core/actions"
	"github.com/zeusync/entsim/internal/core/config"
	"github.com/zeusync/entsim/internal/core/observability/log"
	"github.com/zeusync/entsim/internal/core/observability/metrics"
	"github.com/zeusync/entsim/internal/core/world"
)

// App is everything cmd/entsim needs to run a world.
type App struct {
	Config    *config.Config
	Logger    log.Log
	Collector *metrics.EngineCollector
	Registry  *prometheus.Registry
	World     *world.World
}

var ProviderSet = wire.NewSet(
	ProvideLogger,
	ProvideCollector,
	ProvideObserver,
	ProvideWorld,
	ProvideRegistry,
	wire.Struct(new(App), "*"),
)

// ProvideLogger builds the process logger from cfg and installs it as the
// default.
func ProvideLogger(cfg *config.Config) log.Log {
	logger := log.New(cfg.LogLevel())
	log.SetDefault(logger)
	logger.Debug("logger configured", log.Stringer("level", logger.Level()))
	return logger
}

func ProvideCollector(cfg *config.Config) *metrics.EngineCollector {
	return metrics.NewEngineCollector(cfg.Metrics.Namespace)
}

func ProvideObserver(c *metrics.EngineCollector) actions.Observer {
	return c
}

func ProvideWorld(cfg *config.Config, logger log.Log, observer actions.Observer) (*world.World, error) {
	return world.New(cfg, logger, observer)
}

// ProvideRegistry registers the engine collector, the root container gauge
// and the runtime collectors on a fresh registry.
func ProvideRegistry(cfg *config.Config, c *metrics.EngineCollector, w *world.World) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	for _, col := range []prometheus.Collector{
		c,
		metrics.NewEntityGauge(cfg.Metrics.Namespace, "root", w.Entities()),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return reg, nil
}
