// Package executor drives a plan's work items to completion: it walks the
// scheduler's levels, routes each item to a provider, retries transient
// failures with backoff, falls back across providers, caches repeat
// results and reports progress through typed events.
//
// Invariants:
// - Level k never starts before level k-1 fully resolved.
// - An item failure never aborts the plan; only transitive dependents block.
// - Health and cache state are safe under the level worker pool.
package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"

	"github.com/maestro-cli/maestro/internal/observability"
	"github.com/maestro-cli/maestro/internal/tracing"
	"github.com/maestro-cli/maestro/pkg/events"
	"github.com/maestro-cli/maestro/pkg/provider"
	"github.com/maestro-cli/maestro/pkg/registry"
	"github.com/maestro-cli/maestro/pkg/router"
	"github.com/maestro-cli/maestro/pkg/scheduler"
)

// backoffCap bounds the exponential retry backoff between attempts.
const backoffCap = 10 * time.Second

// Config holds engine tuning knobs. Zero values take defaults.
type Config struct {
	// Parallelism bounds concurrent items within one level. Default 4.
	Parallelism int
	// MaxRetries is the extra attempts per provider for transient
	// failures before moving to the next fallback. Default 2.
	MaxRetries int
	// CallTimeout bounds a single provider call. Exceeding it is treated
	// as a failure and triggers the fallback chain. Default 60s.
	CallTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Parallelism <= 0 {
		c.Parallelism = 4
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 60 * time.Second
	}
}

// Engine executes plans. One engine may run many plans; per-plan state
// lives in the Plan and PlanResult, the cache spans the engine's lifetime.
type Engine struct {
	router   *router.Router
	registry *registry.Registry
	config   Config
	logger   zerolog.Logger
	emitter  *events.Emitter
	pauser   *PauseController
	cache    *resultCache

	schemasMu sync.RWMutex
	schemas   map[string]*gojsonschema.Schema
}

// Option configures an Engine.
type Option func(*Engine)

// WithEmitter routes item transition events to an emitter.
func WithEmitter(emitter *events.Emitter) Option {
	return func(e *Engine) { e.emitter = emitter }
}

// NewEngine creates an execution engine.
func NewEngine(rt *router.Router, reg *registry.Registry, cfg Config, logger zerolog.Logger, opts ...Option) *Engine {
	cfg.applyDefaults()
	observability.EnsureRegistered()

	e := &Engine{
		router:   rt,
		registry: reg,
		config:   cfg,
		logger:   logger,
		pauser:   NewPauseController(),
		cache:    newResultCache(),
		schemas:  make(map[string]*gojsonschema.Schema),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterToolSchema registers a JSON schema for a tool name. Tool items
// with a registered schema have their params validated before execution;
// validation failures are logical errors and are not retried.
func (e *Engine) RegisterToolSchema(name string, schema map[string]interface{}) error {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return fmt.Errorf("invalid schema for tool %s: %w", name, err)
	}

	e.schemasMu.Lock()
	e.schemas[name] = compiled
	e.schemasMu.Unlock()
	return nil
}

// Pause closes the gate checked before each item begins.
func (e *Engine) Pause() {
	e.pauser.Pause()
	e.logger.Info().Msg("Execution paused")
}

// Resume releases any execution blocked on the pause gate.
func (e *Engine) Resume() {
	e.pauser.Resume()
	e.logger.Info().Msg("Execution resumed")
}

// IsPaused reports whether the engine is paused.
func (e *Engine) IsPaused() bool {
	return e.pauser.IsPaused()
}

// Execute runs the plan level by level and returns a result listing every
// item's final status. It returns an error only for an invalid dependency
// graph, cancellation, or total provider exhaustion across all items.
func (e *Engine) Execute(ctx context.Context, plan *Plan) (*PlanResult, error) {
	start := time.Now()

	ids := make([]string, len(plan.Items))
	byID := make(map[string]*WorkItem, len(plan.Items))
	for i := range plan.Items {
		ids[i] = plan.Items[i].ID
		byID[plan.Items[i].ID] = &plan.Items[i]
	}

	levels, err := scheduler.BuildLevels(ids, plan.Dependencies())
	if err != nil {
		return nil, fmt.Errorf("failed to build schedule: %w", err)
	}

	ctx = tracing.NewPlanContext(ctx, plan.ID)
	ctx, span := tracing.StartSpan(ctx, "executor", "plan.execute",
		attribute.String("plan_id", plan.ID),
		attribute.Int("items", len(plan.Items)),
	)
	defer span.End()

	e.logger.Info().
		Str("plan_id", plan.ID).
		Int("items", len(plan.Items)).
		Int("levels", len(levels)).
		Msg("Plan execution started")

	plan.Status = StatusInProgress

	var resultsMu sync.Mutex
	results := make(map[string]ItemResult, len(plan.Items))

	for _, level := range levels {
		if err := e.pauser.WaitIfPaused(ctx); err != nil {
			return e.finish(plan, results, start), err
		}
		if ctx.Err() != nil {
			return e.finish(plan, results, start), ctx.Err()
		}

		sem := make(chan struct{}, e.config.Parallelism)
		var wg sync.WaitGroup
		for _, id := range level {
			item := byID[id]
			wg.Add(1)
			go func(item *WorkItem) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				// The gate is re-checked here so a pause lands between
				// items, not just between levels.
				if err := e.pauser.WaitIfPaused(ctx); err != nil {
					return
				}

				itemCtx := tracing.PropagateToItem(ctx, item.ID)
				res := e.runItem(itemCtx, plan, item, byID)
				resultsMu.Lock()
				results[item.ID] = res
				resultsMu.Unlock()
				completed := plan.countStatus(StatusCompleted)

				e.logger.Debug().
					Str("plan_id", plan.ID).
					Str("item_id", item.ID).
					Str("status", string(res.Status)).
					Int("completed", completed).
					Int("total", len(plan.Items)).
					Msg("Item resolved")
			}(item)
		}
		wg.Wait()
	}

	result := e.finish(plan, results, start)

	if result.Status == StatusFailed && allExhausted(plan, results) {
		return result, ErrAllProvidersExhausted
	}
	return result, nil
}

// runItem resolves one work item to a terminal status.
func (e *Engine) runItem(ctx context.Context, plan *Plan, item *WorkItem, byID map[string]*WorkItem) ItemResult {
	if ctx.Err() != nil {
		status, _ := plan.itemState(item)
		return ItemResult{Status: status}
	}

	// Dependencies resolved in earlier levels; any that did not complete
	// blocks this item.
	for _, dep := range item.DependsOn {
		if prereq, ok := byID[dep]; ok {
			if status, _ := plan.itemState(prereq); status != StatusCompleted {
				e.transition(plan, item, StatusBlocked, fmt.Sprintf("dependency %s did not complete", dep))
				return ItemResult{Status: StatusBlocked, Error: item.Error}
			}
		}
	}

	e.transition(plan, item, StatusInProgress, "")
	now := time.Now()
	item.StartedAt = &now

	if err := e.validateParams(item); err != nil {
		// Logical error: never retried.
		e.transition(plan, item, StatusFailed, err.Error())
		return ItemResult{Status: StatusFailed, Error: item.Error}
	}

	var (
		outcome itemOutcome
		cached  bool
		err     error
	)
	if item.Cacheable {
		var key string
		key, err = cacheKey(item)
		if err == nil {
			outcome, cached, err = e.cache.do(key, func() (itemOutcome, error) {
				observability.RecordCacheMiss()
				return e.executeItem(ctx, item)
			})
			if cached {
				observability.RecordCacheHit()
			}
		}
	} else {
		outcome, err = e.executeItem(ctx, item)
	}

	if err != nil {
		e.transition(plan, item, StatusFailed, err.Error())
		return ItemResult{Status: StatusFailed, Error: item.Error, Attempts: outcome.Attempts}
	}

	e.transition(plan, item, StatusCompleted, "")
	doneAt := time.Now()
	item.CompletedAt = &doneAt

	return ItemResult{
		Status:   StatusCompleted,
		Output:   outcome.Output,
		Provider: outcome.Provider,
		Model:    outcome.Model,
		Cost:     outcome.Cost,
		Attempts: outcome.Attempts,
		Cached:   cached,
	}
}

// executeItem obtains a routing decision and works through the primary
// and fallback providers until one succeeds.
func (e *Engine) executeItem(ctx context.Context, item *WorkItem) (itemOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "executor", "item.execute",
		attribute.String("item_id", item.ID),
		attribute.String("kind", string(item.Kind)),
	)
	defer span.End()

	// Tool items only route to providers that declare tool support.
	var capability registry.Capability
	if item.Kind == KindTool {
		capability = registry.CapTools
	}

	decision, err := e.router.Route(router.Request{
		Prompt:     e.promptFor(item),
		Complexity: item.Complexity,
		Capability: capability,
	})
	if err != nil {
		return itemOutcome{}, err
	}

	ctx = tracing.WithRequestID(ctx, decision.RequestID)
	log := tracing.LoggerWithTrace(ctx, e.logger)

	order := append([]string{decision.Provider}, decision.Fallbacks...)
	attempts := 0
	var lastErr error
	var fallbacksUsed []string

	for i, providerID := range order {
		if ctx.Err() != nil {
			return itemOutcome{Attempts: attempts}, ctx.Err()
		}
		if !e.registry.Allow(providerID) {
			continue
		}

		model := decision.Model
		if i > 0 {
			model = e.fallbackModel(providerID, item.Complexity)
			if model == "" {
				continue
			}
			observability.RecordFallbackUsed(providerID)
			fallbacksUsed = append(fallbacksUsed, providerID)
		}

		outcome, callErr := e.callProvider(ctx, providerID, model, item, &attempts)
		if callErr == nil {
			e.emitRoutingOutcome(decision.RequestID, outcome.Provider, outcome.Model, fallbacksUsed, "completed")
			return outcome, nil
		}
		lastErr = callErr

		log.Warn().
			Str("provider", providerID).
			Err(callErr).
			Msg("Provider exhausted for item, trying next")
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no provider admitted the call")
	}
	e.emitRoutingOutcome(decision.RequestID, decision.Provider, decision.Model, fallbacksUsed, "exhausted")
	return itemOutcome{Attempts: attempts}, fmt.Errorf("%w: %v", ErrAllProvidersExhausted, lastErr)
}

// emitRoutingOutcome reports how a routing decision actually played out:
// the provider that served (or was meant to serve) the call, the fallbacks
// attempted, and the terminal status.
func (e *Engine) emitRoutingOutcome(requestID, providerID, model string, fallbacksUsed []string, finalStatus string) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(events.Event{
		Type: events.TypeRoutingDecided,
		RoutingDecided: &events.RoutingDecided{
			RequestID:      requestID,
			ChosenProvider: providerID,
			Model:          model,
			FallbacksUsed:  fallbacksUsed,
			FinalStatus:    finalStatus,
		},
	})
}

// callProvider tries a single provider with the configured transient-error
// retry budget and exponential backoff capped at backoffCap.
func (e *Engine) callProvider(ctx context.Context, providerID, model string, item *WorkItem, attempts *int) (itemOutcome, error) {
	adapter, err := e.registry.Adapter(providerID)
	if err != nil {
		return itemOutcome{}, err
	}

	request := provider.CompletionRequest{
		Model: model,
		Messages: []provider.Message{
			{Role: "user", Content: e.promptFor(item)},
		},
	}

	var lastErr error
	maxAttempts := e.config.MaxRetries + 1

	for attempt := 0; attempt < maxAttempts; attempt++ {
		*attempts++

		callCtx, cancel := context.WithTimeout(ctx, e.config.CallTimeout)
		start := time.Now()
		response, callErr := adapter.Complete(callCtx, request)
		latency := time.Since(start)
		cancel()

		if callErr == nil {
			e.registry.RecordOutcome(providerID, registry.Outcome{
				Success: true,
				Latency: latency,
				Tokens:  int64(response.Usage.PromptTokens + response.Usage.CompletionTokens),
				Cost:    response.Cost,
			})
			return itemOutcome{
				Output:   response.Content,
				Provider: providerID,
				Model:    model,
				Cost:     response.Cost,
				Attempts: *attempts,
			}, nil
		}

		lastErr = callErr
		e.registry.RecordOutcome(providerID, registry.Outcome{
			Success: false,
			Latency: latency,
			Err:     callErr,
		})

		if !provider.IsRetryableError(callErr) {
			break
		}
		if attempt == maxAttempts-1 {
			break
		}

		backoff := time.Duration(1<<attempt) * time.Second
		if backoff > backoffCap {
			backoff = backoffCap
		}
		select {
		case <-ctx.Done():
			return itemOutcome{}, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return itemOutcome{}, lastErr
}

// fallbackModel picks the best-quality model a fallback provider serves
// for the item's complexity tier.
func (e *Engine) fallbackModel(providerID string, tier router.Complexity) string {
	models, err := e.registry.ModelsOf(providerID)
	if err != nil || len(models) == 0 {
		return ""
	}

	if tier == "" {
		tier = router.ComplexityMedium
	}
	best := models[0]
	for _, m := range models[1:] {
		if m.QualityFor(string(tier)) > best.QualityFor(string(tier)) {
			best = m
		}
	}
	return best.Name
}

// validateParams checks a tool item's params against its registered schema.
func (e *Engine) validateParams(item *WorkItem) error {
	if item.Kind != KindTool {
		return nil
	}

	e.schemasMu.RLock()
	schema, ok := e.schemas[item.Name]
	e.schemasMu.RUnlock()
	if !ok {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(item.Params))
	if err != nil {
		return fmt.Errorf("failed to validate params for %s: %w", item.Name, err)
	}
	if !result.Valid() {
		return fmt.Errorf("invalid params for %s: %s", item.Name, result.Errors()[0].String())
	}
	return nil
}

// promptFor renders the opaque payload for the provider call.
func (e *Engine) promptFor(item *WorkItem) string {
	if item.Prompt != "" {
		return item.Prompt
	}
	return item.Name
}

// transition moves an item to a new status and publishes the change.
func (e *Engine) transition(plan *Plan, item *WorkItem, to Status, errText string) {
	from := plan.setItemState(item, to, errText)

	switch to {
	case StatusCompleted, StatusFailed, StatusBlocked:
		observability.RecordPlanItem(string(to))
	}

	if e.emitter != nil {
		e.emitter.Emit(events.Event{
			Type: events.TypeItemTransition,
			ItemTransition: &events.ItemTransition{
				PlanID:     plan.ID,
				ItemID:     item.ID,
				FromStatus: string(from),
				ToStatus:   string(to),
				Error:      errText,
			},
		})
	}
}

// finish computes the plan's terminal status, progress and result.
func (e *Engine) finish(plan *Plan, results map[string]ItemResult, start time.Time) *PlanResult {
	completed := plan.countStatus(StatusCompleted)
	failed := plan.countStatus(StatusFailed)
	blocked := plan.countStatus(StatusBlocked)
	total := len(plan.Items)

	switch {
	case completed == total:
		plan.Status = StatusCompleted
	case failed > 0 || blocked > 0:
		plan.Status = StatusFailed
	default:
		plan.Status = StatusInProgress
	}

	percent := 0.0
	if total > 0 {
		percent = float64(completed) / float64(total) * 100
	}

	duration := time.Since(start)
	observability.RecordPlanDuration(duration)

	if e.emitter != nil {
		e.emitter.Emit(events.Event{
			Type: events.TypePlanCompleted,
			PlanCompleted: &events.PlanCompleted{
				PlanID:    plan.ID,
				Status:    string(plan.Status),
				Completed: completed,
				Failed:    failed,
				Blocked:   blocked,
				Total:     total,
			},
		})
	}

	e.logger.Info().
		Str("plan_id", plan.ID).
		Str("status", string(plan.Status)).
		Int("completed", completed).
		Int("failed", failed).
		Int("blocked", blocked).
		Dur("duration", duration).
		Msg("Plan execution finished")

	// Items never reached (cancellation) keep their current status.
	for i := range plan.Items {
		if _, ok := results[plan.Items[i].ID]; !ok {
			status, errText := plan.itemState(&plan.Items[i])
			results[plan.Items[i].ID] = ItemResult{
				Status: status,
				Error:  errText,
			}
		}
	}

	return &PlanResult{
		PlanID:   plan.ID,
		Status:   plan.Status,
		Items:    results,
		Progress: Progress{Completed: completed, Total: total, Percent: percent},
		Duration: duration,
	}
}

// allExhausted reports whether every item failed from provider exhaustion.
func allExhausted(plan *Plan, results map[string]ItemResult) bool {
	if len(plan.Items) == 0 {
		return false
	}
	for _, res := range results {
		if res.Status != StatusFailed || !strings.Contains(res.Error, ErrAllProvidersExhausted.Error()) {
			return false
		}
	}
	return true
}
