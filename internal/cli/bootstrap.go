package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/maestro-cli/maestro/internal/config"
	"github.com/maestro-cli/maestro/internal/logger"
	"github.com/maestro-cli/maestro/internal/tracing"
	"github.com/maestro-cli/maestro/pkg/events"
	"github.com/maestro-cli/maestro/pkg/executor"
	"github.com/maestro-cli/maestro/pkg/fusion"
	"github.com/maestro-cli/maestro/pkg/gateway"
	"github.com/maestro-cli/maestro/pkg/provider"
	"github.com/maestro-cli/maestro/pkg/registry"
	"github.com/maestro-cli/maestro/pkg/router"
)

// runtime holds the fully wired engine for one CLI invocation
type runtime struct {
	cfg      *config.Config
	loader   *config.Loader
	log      *logger.Logger
	emitter  *events.Emitter
	registry *registry.Registry
	router   *router.Router
	engine   *executor.Engine
	fuser    *fusion.Fuser
	prober   *registry.Prober
	gateway  *gateway.Server
	watcher  *config.Watcher
}

// newRuntime loads configuration and wires the engine components
func newRuntime(pretty bool) (*runtime, error) {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logCfg := logger.Config{
		Level:     logLevel,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	}
	if cfg.Logging.Level != "" && logLevel == "info" {
		logCfg.Level = cfg.Logging.Level
	}
	log, err := logger.New(logCfg)
	if err != nil {
		return nil, err
	}
	zl := log.Zerolog()

	if err := tracing.InitOpenTelemetry("maestro"); err != nil {
		zl.Warn().Err(err).Msg("Tracing init failed")
	}

	emitter := events.NewEmitter(0, zl)

	reg, err := buildRegistry(cfg, zl, emitter)
	if err != nil {
		log.Close()
		return nil, err
	}

	strategy := router.Strategy(cfg.Routing.Strategy)
	if strategy == "" {
		strategy = router.StrategyBalanced
	}
	rt, err := router.New(reg, strategy, zl, router.WithEmitter(emitter))
	if err != nil {
		log.Close()
		return nil, err
	}

	engine := executor.NewEngine(rt, reg, executor.Config{
		Parallelism: cfg.Executor.Parallelism,
		MaxRetries:  cfg.Executor.MaxRetries,
		CallTimeout: time.Duration(cfg.Executor.CallTimeoutSeconds) * time.Second,
	}, zl, executor.WithEmitter(emitter))

	fuser := fusion.New(reg, rt, fusion.Config{
		MinAgreement: cfg.Fusion.MinAgreement,
		MaxProviders: cfg.Fusion.MaxProviders,
		CallTimeout:  time.Duration(cfg.Executor.CallTimeoutSeconds) * time.Second,
	}, zl, fusion.WithEmitter(emitter))

	prober, err := registry.NewProber(reg, registry.ProberConfig{
		Schedule: cfg.Probe.Schedule,
		Timeout:  time.Duration(cfg.Probe.TimeoutSeconds) * time.Second,
	}, zl)
	if err != nil {
		log.Close()
		return nil, err
	}

	r := &runtime{
		cfg:      cfg,
		loader:   loader,
		log:      log,
		emitter:  emitter,
		registry: reg,
		router:   rt,
		engine:   engine,
		fuser:    fuser,
		prober:   prober,
	}

	if cfg.Gateway.Enabled {
		gw, err := gateway.NewServer(gateway.Config{
			Host:    cfg.Gateway.Host,
			Port:    cfg.Gateway.Port,
			Emitter: emitter,
			Logger:  zl,
		})
		if err != nil {
			log.Close()
			return nil, err
		}
		r.gateway = gw
	}

	return r, nil
}

// start brings up the background pieces: health probing and, when
// enabled, the event gateway
func (r *runtime) start() error {
	r.prober.Start()
	if r.gateway != nil {
		if err := r.gateway.Start(); err != nil {
			return err
		}
	}

	// Tuning values reload live; credentials stay fixed for the run.
	watcher, err := config.NewWatcher(r.loader, r.applyReload)
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		r.log.Warn().Err(err).Msg("Config watcher not started")
	} else {
		r.watcher = watcher
	}
	return nil
}

func (r *runtime) applyReload(cfg *config.Config) {
	if cfg.Routing.Strategy != "" {
		if err := r.router.SetStrategy(router.Strategy(cfg.Routing.Strategy)); err != nil {
			r.log.Warn().Err(err).Msg("Reloaded routing strategy rejected")
		}
	}
}

// close tears the runtime down in reverse order
func (r *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if r.watcher != nil {
		if err := r.watcher.Stop(); err != nil {
			r.log.Warn().Err(err).Msg("Config watcher shutdown failed")
		}
	}
	if r.gateway != nil {
		if err := r.gateway.Stop(ctx); err != nil {
			r.log.Warn().Err(err).Msg("Gateway shutdown failed")
		}
	}
	r.prober.Stop()
	r.emitter.Close()
	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
		r.log.Warn().Err(err).Msg("Tracing shutdown failed")
	}
	r.log.Close()
}

// buildRegistry constructs adapters from the provider profiles and
// registers them in config order
func buildRegistry(cfg *config.Config, zl zerolog.Logger, emitter *events.Emitter) (*registry.Registry, error) {
	reg := registry.New(zl, registry.WithEmitter(emitter))
	factory := &provider.Factory{}

	for _, p := range cfg.Providers {
		pricing := make(map[string]provider.Pricing, len(p.Models))
		models := make([]registry.ModelConfig, 0, len(p.Models))
		for _, m := range p.Models {
			price := provider.Pricing{
				InputPerToken:  m.InputCostPerToken,
				OutputPerToken: m.OutputCostPerToken,
			}
			pricing[m.Name] = price
			models = append(models, registry.ModelConfig{
				Name:    m.Name,
				Pricing: price,
				Quality: m.Quality,
			})
		}

		adapter, err := factory.NewAdapter(provider.Profile{
			ID:      p.ID,
			Kind:    p.Kind,
			APIKey:  p.APIKey,
			BaseURL: p.BaseURL,
			Pricing: pricing,
		})
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", p.ID, err)
		}

		class := registry.ClassRemote
		if p.Class == "local" || (p.Class == "" && p.Kind == "local") {
			class = registry.ClassLocal
		}

		capabilities := make([]registry.Capability, 0, len(p.Capabilities))
		for _, c := range p.Capabilities {
			capabilities = append(capabilities, registry.Capability(c))
		}
		if len(capabilities) == 0 {
			capabilities = []registry.Capability{registry.CapChat, registry.CapStreaming, registry.CapTools}
		}

		err = reg.Register(p.ID, adapter, registry.ProviderConfig{
			Class:            class,
			Models:           models,
			Capabilities:     capabilities,
			BreakerThreshold: p.BreakerThreshold,
			BreakerCooldown:  time.Duration(p.BreakerCooldownSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
	}

	return reg, nil
}
