package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Prober periodically health-checks every registered provider and feeds
// the outcomes back through RecordOutcome. A successful probe of an
// unhealthy provider doubles as the breaker's half-open trial, so
// recovered backends come back into rotation without waiting for a
// caller-initiated request.
type Prober struct {
	registry *Registry
	cron     *cron.Cron
	timeout  time.Duration
	logger   zerolog.Logger
	entryID  cron.EntryID
}

// ProberConfig configures the probe loop.
type ProberConfig struct {
	// Schedule is a cron spec, e.g. "@every 30s".
	Schedule string
	// Timeout bounds a single provider health check.
	Timeout time.Duration
}

// NewProber creates a probe loop over the given registry.
func NewProber(registry *Registry, cfg ProberConfig, logger zerolog.Logger) (*Prober, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 30s"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	p := &Prober{
		registry: registry,
		cron:     cron.New(),
		timeout:  cfg.Timeout,
		logger:   logger,
	}

	id, err := p.cron.AddFunc(cfg.Schedule, p.probeAll)
	if err != nil {
		return nil, fmt.Errorf("invalid probe schedule %q: %w", cfg.Schedule, err)
	}
	p.entryID = id

	return p, nil
}

// Start begins probing on the configured schedule.
func (p *Prober) Start() {
	p.cron.Start()
	p.logger.Info().Msg("Provider health prober started")
}

// Stop halts the probe schedule, waiting for a running probe to finish.
func (p *Prober) Stop() {
	ctx := p.cron.Stop()
	<-ctx.Done()
	p.logger.Info().Msg("Provider health prober stopped")
}

// probeAll health-checks every provider the breaker currently admits.
func (p *Prober) probeAll() {
	for _, id := range p.registry.IDs() {
		if !p.registry.Allow(id) {
			continue
		}

		adapter, err := p.registry.Adapter(id)
		if err != nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		start := time.Now()
		healthy := adapter.HealthCheck(ctx)
		cancel()

		out := Outcome{
			Success: healthy,
			Latency: time.Since(start),
		}
		if !healthy {
			out.Err = fmt.Errorf("health check failed")
		}
		p.registry.RecordOutcome(id, out)

		p.logger.Debug().
			Str("provider", id).
			Bool("healthy", healthy).
			Dur("latency", out.Latency).
			Msg("Provider probed")
	}
}
