// Package router selects a primary provider and an ordered fallback list
// for each request, using a pluggable scoring strategy over the registry's
// available providers.
package router

import (
	"fmt"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/maestro-cli/maestro/internal/observability"
	"github.com/maestro-cli/maestro/pkg/events"
	"github.com/maestro-cli/maestro/pkg/registry"
)

// maxFallbacks bounds the fallback list of a decision.
const maxFallbacks = 3

// Router computes routing decisions. A fresh decision is computed per
// request; decisions are immutable once produced.
type Router struct {
	registry   *registry.Registry
	strategyMu sync.RWMutex
	strategy   Strategy
	logger     zerolog.Logger
	emitter    *events.Emitter
}

// Option configures a Router.
type Option func(*Router)

// WithEmitter routes decision events to an emitter.
func WithEmitter(emitter *events.Emitter) Option {
	return func(r *Router) { r.emitter = emitter }
}

// New creates a router over the given registry.
func New(reg *registry.Registry, strategy Strategy, logger zerolog.Logger, opts ...Option) (*Router, error) {
	if strategy == "" {
		strategy = StrategyBalanced
	}
	if !strategy.Valid() {
		return nil, fmt.Errorf("unknown routing strategy: %s", strategy)
	}

	r := &Router{
		registry: reg,
		strategy: strategy,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Strategy returns the router's configured strategy.
func (r *Router) Strategy() Strategy {
	r.strategyMu.RLock()
	defer r.strategyMu.RUnlock()
	return r.strategy
}

// SetStrategy changes the configured strategy. In-flight requests keep
// the strategy they started with.
func (r *Router) SetStrategy(strategy Strategy) error {
	if !strategy.Valid() {
		return fmt.Errorf("unknown routing strategy: %s", strategy)
	}
	r.strategyMu.Lock()
	r.strategy = strategy
	r.strategyMu.Unlock()
	return nil
}

// Route computes a decision for the request using the configured strategy.
func (r *Router) Route(req Request) (*Decision, error) {
	return r.RouteWithStrategy(req, r.Strategy())
}

// RouteWithStrategy computes a decision using an explicit strategy,
// overriding the configured one for this request only.
func (r *Router) RouteWithStrategy(req Request, strategy Strategy) (*Decision, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("unknown routing strategy: %s", strategy)
	}
	if req.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return nil, fmt.Errorf("failed to generate request id: %w", err)
		}
		req.ID = id
	}

	available := r.registry.AvailableProviders()
	if len(available) == 0 {
		return nil, ErrNoProvidersAvailable
	}

	candidates := scoreCandidates(strategy, available, req)
	if len(candidates) == 0 {
		return nil, ErrNoProvidersAvailable
	}

	primary := candidates[0]
	fallbacks := []string{}
	for _, c := range candidates[1:] {
		if len(fallbacks) >= maxFallbacks {
			break
		}
		fallbacks = append(fallbacks, c.snapshot.ID)
	}

	decision := &Decision{
		RequestID:     req.ID,
		Provider:      primary.snapshot.ID,
		Model:         primary.model.Name,
		EstimatedCost: primary.cost,
		Fallbacks:     fallbacks,
		Reason: fmt.Sprintf("%s: chose %s/%s (est. $%.6f) from %d candidates",
			strategy, primary.snapshot.ID, primary.model.Name, primary.cost, len(candidates)),
		Confidence: decisionConfidence(strategy, primary),
	}

	r.logger.Debug().
		Str("request_id", req.ID).
		Str("strategy", string(strategy)).
		Str("provider", decision.Provider).
		Str("model", decision.Model).
		Float64("estimated_cost", decision.EstimatedCost).
		Strs("fallbacks", decision.Fallbacks).
		Msg("Routing decision")

	observability.RecordRoutingDecision(string(strategy), decision.Provider, decision.Confidence)

	if r.emitter != nil {
		r.emitter.Emit(events.Event{
			Type: events.TypeRoutingDecided,
			RoutingDecided: &events.RoutingDecided{
				RequestID:      req.ID,
				ChosenProvider: decision.Provider,
				Model:          decision.Model,
				FinalStatus:    "decided",
			},
		})
	}

	return decision, nil
}

// decisionConfidence maps the winning candidate's score into [0,1].
func decisionConfidence(strategy Strategy, primary candidate) float64 {
	switch strategy {
	case StrategyCost:
		return normalizeCost(primary.cost)
	case StrategyPerformance:
		return clamp01(normalizeLatency(primary.snapshot.AvgLatencyMs))
	default:
		return clamp01(primary.score)
	}
}
