// Package registry tracks backend providers: capabilities, health,
// rolling performance metrics and a per-provider circuit breaker.
//
// Invariants:
// - Health and metrics records are mutated only through RecordOutcome.
// - A provider is unhealthy exactly while its breaker counts the configured
//   consecutive failures; any success resets it to healthy.
// - AvailableProviders never returns a provider whose breaker is open.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/maestro-cli/maestro/internal/observability"
	"github.com/maestro-cli/maestro/pkg/events"
	"github.com/maestro-cli/maestro/pkg/provider"
)

// ewmaAlpha is the smoothing factor for the rolling latency average.
const ewmaAlpha = 0.1

type entry struct {
	mu      sync.Mutex
	id      string
	index   int
	config  ProviderConfig
	adapter provider.Adapter
	health  HealthRecord
	metrics MetricsRecord
	breaker breaker
}

// Registry is the bookkeeping component behind the routing engine.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	logger  zerolog.Logger
	emitter *events.Emitter
	now     func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithEmitter routes health transition events to an emitter.
func WithEmitter(emitter *events.Emitter) Option {
	return func(r *Registry) { r.emitter = emitter }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates an empty registry.
func New(logger zerolog.Logger, opts ...Option) *Registry {
	observability.EnsureRegistered()

	r := &Registry{
		entries: make(map[string]*entry),
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a provider to the registry. Registration order is
// preserved and used for deterministic routing tie-breaks.
func (r *Registry) Register(id string, adapter provider.Adapter, cfg ProviderConfig) error {
	if id == "" {
		return fmt.Errorf("provider id cannot be empty")
	}
	if adapter == nil {
		return fmt.Errorf("provider %s: adapter is required", id)
	}
	if len(cfg.Models) == 0 {
		return fmt.Errorf("provider %s: at least one model is required", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		return fmt.Errorf("provider already registered: %s", id)
	}

	r.entries[id] = &entry{
		id:      id,
		index:   len(r.order),
		config:  cfg,
		adapter: adapter,
		health:  HealthRecord{Status: StatusHealthy},
		breaker: newBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
	}
	r.order = append(r.order, id)

	r.logger.Info().
		Str("provider", id).
		Str("class", string(cfg.Class)).
		Int("models", len(cfg.Models)).
		Msg("Provider registered")

	return nil
}

// Adapter returns the adapter for a provider id.
func (r *Registry) Adapter(id string) (provider.Adapter, error) {
	e, err := r.entry(id)
	if err != nil {
		return nil, err
	}
	return e.adapter, nil
}

// ModelsOf returns the configured models for a provider id.
func (r *Registry) ModelsOf(id string) ([]ModelConfig, error) {
	e, err := r.entry(id)
	if err != nil {
		return nil, err
	}
	models := make([]ModelConfig, len(e.config.Models))
	copy(models, e.config.Models)
	return models, nil
}

// RecordOutcome folds one call outcome into the provider's health and
// metrics records. Safe under concurrent invocation from parallel workers.
func (r *Registry) RecordOutcome(id string, out Outcome) {
	e, err := r.entry(id)
	if err != nil {
		r.logger.Warn().Str("provider", id).Msg("Outcome recorded for unknown provider")
		return
	}

	now := r.now()

	e.mu.Lock()
	prevStatus := e.health.Status

	e.metrics.TotalCalls++
	if out.Latency > 0 {
		sample := float64(out.Latency.Milliseconds())
		if e.metrics.TotalCalls == 1 {
			e.metrics.AvgLatencyMs = sample
		} else {
			e.metrics.AvgLatencyMs = ewmaAlpha*sample + (1-ewmaAlpha)*e.metrics.AvgLatencyMs
		}
	}
	e.metrics.TotalTokens += out.Tokens
	e.metrics.TotalCost += out.Cost

	if out.Success {
		e.metrics.Successes++
		e.health.ConsecutiveFailures = 0
		e.health.Status = StatusHealthy
		e.health.LastSuccess = now
		e.health.LastError = ""
		e.breaker.onSuccess()
	} else {
		e.metrics.Failures++
		e.health.ConsecutiveFailures++
		e.health.LastFailure = now
		if out.Err != nil {
			e.health.LastError = out.Err.Error()
		}
		if e.health.ConsecutiveFailures >= e.breaker.threshold {
			e.health.Status = StatusUnhealthy
		} else {
			e.health.Status = StatusDegraded
		}
		e.breaker.onFailure(now, e.health.ConsecutiveFailures)
	}

	newStatus := e.health.Status
	breakerOpen := e.breaker.isOpen(now)
	lastError := e.health.LastError
	e.mu.Unlock()

	observability.RecordProviderCall(id, out.Latency, out.Cost, out.Success)
	observability.SetBreakerOpen(id, breakerOpen)

	if newStatus != prevStatus {
		r.logger.Info().
			Str("provider", id).
			Str("from", string(prevStatus)).
			Str("to", string(newStatus)).
			Msg("Provider health changed")

		if r.emitter != nil {
			r.emitter.Emit(events.Event{
				Type: events.TypeHealthChanged,
				HealthChanged: &events.HealthChanged{
					ProviderID: id,
					FromState:  string(prevStatus),
					ToState:    string(newStatus),
					LastError:  lastError,
				},
			})
		}
	}
}

// HealthOf returns a copy of the provider's health record.
func (r *Registry) HealthOf(id string) (HealthRecord, error) {
	e, err := r.entry(id)
	if err != nil {
		return HealthRecord{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.health, nil
}

// MetricsOf returns a copy of the provider's metrics record.
func (r *Registry) MetricsOf(id string) (MetricsRecord, error) {
	e, err := r.entry(id)
	if err != nil {
		return MetricsRecord{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics, nil
}

// AvailableProviders returns snapshots of every provider whose breaker
// admits calls, in registration order. Open breakers are excluded; a
// half-open breaker is included only while its single trial slot is free.
func (r *Registry) AvailableProviders() []Snapshot {
	r.mu.RLock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	r.mu.RUnlock()

	now := r.now()
	snapshots := []Snapshot{}
	for _, id := range ids {
		e, err := r.entry(id)
		if err != nil {
			continue
		}

		e.mu.Lock()
		available := e.breaker.available(now)
		if available {
			snapshots = append(snapshots, Snapshot{
				ID:           e.id,
				Class:        e.config.Class,
				Models:       e.config.Models,
				Capabilities: e.config.Capabilities,
				Status:       e.health.Status,
				AvgLatencyMs: e.metrics.AvgLatencyMs,
				Index:        e.index,
			})
		}
		e.mu.Unlock()
	}

	return snapshots
}

// Allow gates a provider call through the breaker. In the half-open state
// it consumes the single trial slot; callers must follow up with
// RecordOutcome so the trial resolves.
func (r *Registry) Allow(id string) bool {
	e, err := r.entry(id)
	if err != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.breaker.allow(r.now())
}

// BreakerState returns the breaker state for a provider, for status output.
func (r *Registry) BreakerState(id string) (string, error) {
	e, err := r.entry(id)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.breaker.state.String(), nil
}

// IDs returns all registered provider ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

func (r *Registry) entry(id string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("provider not registered: %s", id)
	}
	return e, nil
}
