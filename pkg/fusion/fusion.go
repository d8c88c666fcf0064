// Package fusion queries several providers with the same prompt and picks
// a consensus answer by majority textual agreement.
//
// Invariants:
// - At least 2 successful responses, else the call fails.
// - Responses cluster by normalized Levenshtein similarity at 0.80.
// - Agreement below the minimum flags the result, it never fails it.
package fusion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/maestro-cli/maestro/internal/observability"
	"github.com/maestro-cli/maestro/pkg/events"
	"github.com/maestro-cli/maestro/pkg/provider"
	"github.com/maestro-cli/maestro/pkg/registry"
	"github.com/maestro-cli/maestro/pkg/router"
)

// similarityThreshold is the minimum normalized similarity for a response
// to join an existing group.
const similarityThreshold = 0.80

// ErrInsufficientResponses is returned when fewer than 2 providers answered
// successfully.
var ErrInsufficientResponses = errors.New("at least 2 successful responses required")

// Config holds fusion tuning knobs. Zero values take defaults.
type Config struct {
	// MinAgreement is the agreement ratio below which the result is
	// flagged low-confidence. Default 0.66.
	MinAgreement float64
	// MaxProviders caps how many providers are queried when the caller
	// does not name a set. Default 3.
	MaxProviders int
	// CallTimeout bounds each provider call. Default 60s.
	CallTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.MinAgreement <= 0 || c.MinAgreement > 1 {
		c.MinAgreement = 0.66
	}
	if c.MaxProviders <= 0 {
		c.MaxProviders = 3
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 60 * time.Second
	}
}

// Response is one provider's answer with its derived confidence.
type Response struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	Content      string  `json:"content"`
	FinishReason string  `json:"finish_reason"`
	Confidence   float64 `json:"confidence"`
	Cost         float64 `json:"cost"`
}

// Result is the consensus outcome of one fusion call. It is produced once
// and holds no live references.
type Result struct {
	RequestID      string     `json:"request_id"`
	Consensus      string     `json:"consensus"`
	Responses      []Response `json:"responses"`
	AgreementRatio float64    `json:"agreement_ratio"`
	LowConfidence  bool       `json:"low_confidence"`
	TotalCost      float64    `json:"total_cost"`
}

// Fuser runs consensus queries against the provider registry.
type Fuser struct {
	registry *registry.Registry
	router   *router.Router
	config   Config
	logger   zerolog.Logger
	emitter  *events.Emitter
}

// Option configures a Fuser.
type Option func(*Fuser)

// WithEmitter routes fusion events to an emitter.
func WithEmitter(emitter *events.Emitter) Option {
	return func(f *Fuser) { f.emitter = emitter }
}

// New creates a Fuser backed by the registry. The router picks providers
// when the caller does not name a set.
func New(reg *registry.Registry, rt *router.Router, cfg Config, logger zerolog.Logger, opts ...Option) *Fuser {
	cfg.applyDefaults()
	observability.EnsureRegistered()

	f := &Fuser{
		registry: reg,
		router:   rt,
		config:   cfg,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fuse queries the named providers concurrently and returns the consensus.
// With an empty provider set it queries the quality strategy's top picks.
func (f *Fuser) Fuse(ctx context.Context, prompt string, providers []string) (*Result, error) {
	requestID, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate request id: %w", err)
	}

	if len(providers) == 0 {
		providers, err = f.qualityPicks(prompt)
		if err != nil {
			return nil, err
		}
	}

	answers := make([]*Response, len(providers))
	var wg sync.WaitGroup
	for i, providerID := range providers {
		wg.Add(1)
		go func(i int, providerID string) {
			defer wg.Done()
			answers[i] = f.queryOne(ctx, providerID, prompt)
		}(i, providerID)
	}
	wg.Wait()

	responses := make([]Response, 0, len(answers))
	totalCost := 0.0
	for _, a := range answers {
		if a == nil {
			continue
		}
		responses = append(responses, *a)
		totalCost += a.Cost
	}

	if len(responses) < 2 {
		observability.RecordFusion(false, 0)
		return nil, fmt.Errorf("%w: got %d", ErrInsufficientResponses, len(responses))
	}

	majority := majorityGroup(responses)
	agreement := float64(len(majority)) / float64(len(responses))
	low := agreement < f.config.MinAgreement

	consensus := responses[majority[0]]
	for _, idx := range majority[1:] {
		if responses[idx].Confidence > consensus.Confidence {
			consensus = responses[idx]
		}
	}

	if low {
		f.logger.Warn().
			Str("request_id", requestID).
			Float64("agreement", agreement).
			Float64("min_agreement", f.config.MinAgreement).
			Msg("Fusion agreement below threshold")
	}

	observability.RecordFusion(true, agreement)
	if f.emitter != nil {
		f.emitter.Emit(events.Event{
			Type: events.TypeFusionDone,
			FusionDone: &events.FusionDone{
				RequestID:      requestID,
				Providers:      len(responses),
				AgreementRatio: agreement,
				LowConfidence:  low,
			},
		})
	}

	f.logger.Info().
		Str("request_id", requestID).
		Int("responses", len(responses)).
		Float64("agreement", agreement).
		Bool("low_confidence", low).
		Msg("Fusion completed")

	return &Result{
		RequestID:      requestID,
		Consensus:      consensus.Content,
		Responses:      responses,
		AgreementRatio: agreement,
		LowConfidence:  low,
		TotalCost:      totalCost,
	}, nil
}

// qualityPicks asks the routing engine for the top quality-ranked
// providers, capped at MaxProviders.
func (f *Fuser) qualityPicks(prompt string) ([]string, error) {
	decision, err := f.router.RouteWithStrategy(router.Request{
		Prompt:     prompt,
		Complexity: router.ComplexityComplex,
	}, router.StrategyQuality)
	if err != nil {
		return nil, err
	}

	picks := append([]string{decision.Provider}, decision.Fallbacks...)
	if len(picks) > f.config.MaxProviders {
		picks = picks[:f.config.MaxProviders]
	}
	return picks, nil
}

// queryOne calls a single provider and derives the response confidence.
// A nil return means the provider was unavailable or the call failed.
func (f *Fuser) queryOne(ctx context.Context, providerID, prompt string) *Response {
	if !f.registry.Allow(providerID) {
		f.logger.Debug().Str("provider", providerID).Msg("Provider not admitted for fusion query")
		return nil
	}

	adapter, err := f.registry.Adapter(providerID)
	if err != nil {
		return nil
	}
	model := f.bestModel(providerID)
	if model == "" {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, f.config.CallTimeout)
	defer cancel()

	start := time.Now()
	resp, err := adapter.Complete(callCtx, provider.CompletionRequest{
		Model: model,
		Messages: []provider.Message{
			{Role: "user", Content: prompt},
		},
	})
	latency := time.Since(start)

	if err != nil {
		f.registry.RecordOutcome(providerID, registry.Outcome{
			Success: false,
			Latency: latency,
			Err:     err,
		})
		f.logger.Warn().Str("provider", providerID).Err(err).Msg("Fusion query failed")
		return nil
	}

	f.registry.RecordOutcome(providerID, registry.Outcome{
		Success: true,
		Latency: latency,
		Tokens:  int64(resp.Usage.PromptTokens + resp.Usage.CompletionTokens),
		Cost:    resp.Cost,
	})

	return &Response{
		Provider:     providerID,
		Model:        model,
		Content:      resp.Content,
		FinishReason: resp.FinishReason,
		Confidence:   responseConfidence(resp),
		Cost:         resp.Cost,
	}
}

// bestModel returns the provider's highest-quality model for complex work.
func (f *Fuser) bestModel(providerID string) string {
	models, err := f.registry.ModelsOf(providerID)
	if err != nil || len(models) == 0 {
		return ""
	}

	best := models[0]
	for _, m := range models[1:] {
		if m.QualityFor(string(router.ComplexityComplex)) > best.QualityFor(string(router.ComplexityComplex)) {
			best = m
		}
	}
	return best.Name
}

// responseConfidence scores one response from its finish reason, length
// and any provider-reported confidence, clipped to [0,1].
func responseConfidence(resp *provider.CompletionResponse) float64 {
	score := 0.5

	switch resp.FinishReason {
	case "stop":
		score += 0.2
	case "length":
		score -= 0.2
	}

	if len(resp.Content) >= 200 {
		score += 0.1
	} else if len(resp.Content) < 20 {
		score -= 0.2
	}

	if resp.Confidence > 0 {
		score = (score + resp.Confidence) / 2
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// majorityGroup clusters responses by similarity and returns the indexes
// of the largest group. A response joins the first group whose
// representative (first member) scores at or above the threshold.
func majorityGroup(responses []Response) []int {
	var groups [][]int
	for i := range responses {
		placed := false
		for g := range groups {
			rep := responses[groups[g][0]]
			if similarity(responses[i].Content, rep.Content) >= similarityThreshold {
				groups[g] = append(groups[g], i)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []int{i})
		}
	}

	best := groups[0]
	for _, g := range groups[1:] {
		if len(g) > len(best) {
			best = g
		}
	}
	return best
}
