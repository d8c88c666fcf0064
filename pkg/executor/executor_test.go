package executor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-cli/maestro/pkg/events"
	"github.com/maestro-cli/maestro/pkg/provider"
	"github.com/maestro-cli/maestro/pkg/registry"
	"github.com/maestro-cli/maestro/pkg/router"
)

type scriptedAdapter struct {
	name  string
	calls int64
	fn    func(call int64, req provider.CompletionRequest) (*provider.CompletionResponse, error)
}

func (s *scriptedAdapter) Complete(ctx context.Context, req provider.CompletionRequest) (*provider.CompletionResponse, error) {
	call := atomic.AddInt64(&s.calls, 1)
	if s.fn != nil {
		return s.fn(call, req)
	}
	return &provider.CompletionResponse{Content: "done", FinishReason: "stop"}, nil
}

func (s *scriptedAdapter) CompleteStream(ctx context.Context, req provider.CompletionRequest, onChunk func(provider.StreamChunk)) (*provider.CompletionResponse, error) {
	return s.Complete(ctx, req)
}

func (s *scriptedAdapter) ListModels(ctx context.Context) ([]string, error) { return nil, nil }

func (s *scriptedAdapter) HealthCheck(ctx context.Context) bool { return true }

func (s *scriptedAdapter) Name() string { return s.name }

func (s *scriptedAdapter) callCount() int64 { return atomic.LoadInt64(&s.calls) }

func providerConfig(price float64) registry.ProviderConfig {
	return registry.ProviderConfig{
		Class: registry.ClassRemote,
		Models: []registry.ModelConfig{
			{
				Name:    "test-model",
				Pricing: provider.Pricing{InputPerToken: price, OutputPerToken: price},
				Quality: map[string]float64{"medium": 0.8},
			},
		},
	}
}

// newTestEngine wires a registry, router and engine around one adapter.
// Retries are disabled so failure paths stay fast.
func newTestEngine(t *testing.T, adapter *scriptedAdapter) (*Engine, *registry.Registry) {
	t.Helper()

	reg := registry.New(zerolog.Nop())
	require.NoError(t, reg.Register("alpha", adapter, providerConfig(1e-6)))

	rt, err := router.New(reg, router.StrategyCost, zerolog.Nop())
	require.NoError(t, err)

	engine := NewEngine(rt, reg, Config{Parallelism: 2, MaxRetries: -1}, zerolog.Nop())
	return engine, reg
}

func TestExecuteSingleItem(t *testing.T) {
	adapter := &scriptedAdapter{name: "alpha"}
	engine, _ := newTestEngine(t, adapter)

	plan, err := NewPlan("one task", []WorkItem{
		{ID: "a", Name: "summarize", Prompt: "summarize this"},
	})
	require.NoError(t, err)

	result, err := engine.Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	res := result.Items["a"]
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "done", res.Output)
	assert.Equal(t, "alpha", res.Provider)
	assert.Equal(t, "test-model", res.Model)
	assert.Equal(t, 1, res.Attempts)
	assert.InDelta(t, 100.0, result.Progress.Percent, 0.001)
}

func TestExecuteFailureBlocksDependentsOnly(t *testing.T) {
	adapter := &scriptedAdapter{
		name: "alpha",
		fn: func(call int64, req provider.CompletionRequest) (*provider.CompletionResponse, error) {
			if req.Messages[0].Content == "will fail" {
				return nil, errors.New("bad request")
			}
			return &provider.CompletionResponse{Content: "ok", FinishReason: "stop"}, nil
		},
	}
	engine, _ := newTestEngine(t, adapter)

	plan, err := NewPlan("partial failure", []WorkItem{
		{ID: "a", Name: "root", Prompt: "will fail"},
		{ID: "b", Name: "child", Prompt: "needs a", DependsOn: []string{"a"}},
		{ID: "c", Name: "independent", Prompt: "fine"},
	})
	require.NoError(t, err)

	result, err := engine.Execute(context.Background(), plan)
	require.NoError(t, err, "one item failing must not abort the plan")

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, StatusFailed, result.Items["a"].Status)
	assert.Equal(t, StatusBlocked, result.Items["b"].Status)
	assert.Contains(t, result.Items["b"].Error, "dependency a did not complete")
	assert.Equal(t, StatusCompleted, result.Items["c"].Status)
	assert.Equal(t, 1, result.Progress.Completed)
}

func TestExecuteAllProvidersExhausted(t *testing.T) {
	adapter := &scriptedAdapter{
		name: "alpha",
		fn: func(call int64, req provider.CompletionRequest) (*provider.CompletionResponse, error) {
			return nil, errors.New("bad request")
		},
	}
	engine, _ := newTestEngine(t, adapter)

	plan, err := NewPlan("doomed", []WorkItem{
		{ID: "a", Name: "task", Prompt: "anything"},
	})
	require.NoError(t, err)

	result, err := engine.Execute(context.Background(), plan)
	assert.ErrorIs(t, err, ErrAllProvidersExhausted)
	require.NotNil(t, result)
	assert.Equal(t, StatusFailed, result.Status)
}

func TestExecuteFallsBackToSecondProvider(t *testing.T) {
	primary := &scriptedAdapter{
		name: "alpha",
		fn: func(call int64, req provider.CompletionRequest) (*provider.CompletionResponse, error) {
			return nil, errors.New("bad request")
		},
	}
	backup := &scriptedAdapter{name: "beta"}

	reg := registry.New(zerolog.Nop())
	// Cheaper provider routes first, so the failing one is primary.
	require.NoError(t, reg.Register("alpha", primary, providerConfig(1e-7)))
	require.NoError(t, reg.Register("beta", backup, providerConfig(1e-6)))

	rt, err := router.New(reg, router.StrategyCost, zerolog.Nop())
	require.NoError(t, err)
	engine := NewEngine(rt, reg, Config{MaxRetries: -1}, zerolog.Nop())

	plan, err := NewPlan("fallback", []WorkItem{
		{ID: "a", Name: "task", Prompt: "hello"},
	})
	require.NoError(t, err)

	result, err := engine.Execute(context.Background(), plan)
	require.NoError(t, err)

	res := result.Items["a"]
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "beta", res.Provider)
	assert.Equal(t, int64(1), primary.callCount())
	assert.Equal(t, int64(1), backup.callCount())
}

func TestExecuteRetriesTransientError(t *testing.T) {
	adapter := &scriptedAdapter{
		name: "alpha",
		fn: func(call int64, req provider.CompletionRequest) (*provider.CompletionResponse, error) {
			if call == 1 {
				return nil, errors.New("429 rate limit exceeded")
			}
			return &provider.CompletionResponse{Content: "recovered", FinishReason: "stop"}, nil
		},
	}

	reg := registry.New(zerolog.Nop())
	require.NoError(t, reg.Register("alpha", adapter, providerConfig(1e-6)))
	rt, err := router.New(reg, router.StrategyCost, zerolog.Nop())
	require.NoError(t, err)
	engine := NewEngine(rt, reg, Config{MaxRetries: 1}, zerolog.Nop())

	plan, err := NewPlan("retry", []WorkItem{
		{ID: "a", Name: "task", Prompt: "flaky"},
	})
	require.NoError(t, err)

	result, err := engine.Execute(context.Background(), plan)
	require.NoError(t, err)

	res := result.Items["a"]
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "recovered", res.Output)
	assert.Equal(t, 2, res.Attempts)
}

func TestExecuteCachesRepeatedItems(t *testing.T) {
	adapter := &scriptedAdapter{name: "alpha"}
	engine, _ := newTestEngine(t, adapter)

	// Same identity and params; the dependency forces sequential levels so
	// the second lookup is a straight cache hit.
	params := map[string]interface{}{"url": "https://example.com"}
	plan, err := NewPlan("cached", []WorkItem{
		{ID: "a", Name: "fetch", Prompt: "fetch it", Params: params, Cacheable: true},
		{ID: "b", Name: "fetch", Prompt: "fetch it again", Params: params, Cacheable: true, DependsOn: []string{"a"}},
	})
	require.NoError(t, err)

	result, err := engine.Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, int64(1), adapter.callCount())
	assert.False(t, result.Items["a"].Cached)
	assert.True(t, result.Items["b"].Cached)
	assert.Equal(t, result.Items["a"].Output, result.Items["b"].Output)
}

func TestExecuteToolSchemaValidation(t *testing.T) {
	adapter := &scriptedAdapter{name: "alpha"}
	engine, _ := newTestEngine(t, adapter)

	require.NoError(t, engine.RegisterToolSchema("search", map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"query"},
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string"},
		},
	}))

	plan, err := NewPlan("tool call", []WorkItem{
		{ID: "a", Kind: KindTool, Name: "search", Params: map[string]interface{}{"limit": 3}},
	})
	require.NoError(t, err)

	result, err := engine.Execute(context.Background(), plan)
	require.NoError(t, err)

	res := result.Items["a"]
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, "invalid params for search")
	assert.Equal(t, int64(0), adapter.callCount(), "validation failures never reach a provider")
}

func TestExecuteCancelledContext(t *testing.T) {
	adapter := &scriptedAdapter{name: "alpha"}
	engine, _ := newTestEngine(t, adapter)

	plan, err := NewPlan("cancelled", []WorkItem{
		{ID: "a", Name: "task", Prompt: "never runs"},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = engine.Execute(ctx, plan)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(0), adapter.callCount())
}

func TestExecuteRejectsCyclicPlan(t *testing.T) {
	adapter := &scriptedAdapter{name: "alpha"}
	engine, _ := newTestEngine(t, adapter)

	plan, err := NewPlan("cycle", []WorkItem{
		{ID: "a", Name: "task", DependsOn: []string{"b"}},
		{ID: "b", Name: "task", DependsOn: []string{"a"}},
	})
	require.NoError(t, err)

	_, err = engine.Execute(context.Background(), plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to build schedule")
}

func TestPauseAndResume(t *testing.T) {
	adapter := &scriptedAdapter{name: "alpha"}
	engine, _ := newTestEngine(t, adapter)

	assert.False(t, engine.IsPaused())
	engine.Pause()
	assert.True(t, engine.IsPaused())

	plan, err := NewPlan("paused", []WorkItem{
		{ID: "a", Name: "task", Prompt: "waits for resume"},
	})
	require.NoError(t, err)

	done := make(chan *PlanResult, 1)
	go func() {
		result, execErr := engine.Execute(context.Background(), plan)
		assert.NoError(t, execErr)
		done <- result
	}()

	select {
	case <-done:
		t.Fatal("execution must block while paused")
	case <-time.After(50 * time.Millisecond):
	}

	engine.Resume()
	assert.False(t, engine.IsPaused())

	select {
	case result := <-done:
		assert.Equal(t, StatusCompleted, result.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("execution did not resume")
	}
}

func TestNewPlanValidation(t *testing.T) {
	_, err := NewPlan("", []WorkItem{{ID: "a"}})
	assert.Error(t, err)

	_, err = NewPlan("empty", nil)
	assert.Error(t, err)

	_, err = NewPlan("dup", []WorkItem{{ID: "a"}, {ID: "a"}})
	assert.Error(t, err)

	plan, err := NewPlan("auto ids", []WorkItem{{Name: "first"}, {Name: "second"}})
	require.NoError(t, err)
	assert.Equal(t, "item-1", plan.Items[0].ID)
	assert.Equal(t, "item-2", plan.Items[1].ID)
	assert.Equal(t, KindTask, plan.Items[0].Kind)
	assert.Equal(t, StatusPending, plan.Items[0].Status)
}

func TestExecuteWideLevelConcurrently(t *testing.T) {
	adapter := &scriptedAdapter{name: "alpha"}
	reg := registry.New(zerolog.Nop())
	require.NoError(t, reg.Register("alpha", adapter, providerConfig(1e-6)))
	rt, err := router.New(reg, router.StrategyCost, zerolog.Nop())
	require.NoError(t, err)
	engine := NewEngine(rt, reg, Config{Parallelism: 16, MaxRetries: -1}, zerolog.Nop())

	items := make([]WorkItem, 32)
	for i := range items {
		items[i] = WorkItem{Name: fmt.Sprintf("task-%d", i), Prompt: "go"}
	}
	plan, err := NewPlan("wide level", items)
	require.NoError(t, err)

	result, err := engine.Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, len(items), result.Progress.Completed)
	assert.Equal(t, int64(len(items)), adapter.callCount())
}

func TestPauseBlocksNextItemInLevel(t *testing.T) {
	var engine *Engine
	adapter := &scriptedAdapter{
		name: "alpha",
		fn: func(call int64, req provider.CompletionRequest) (*provider.CompletionResponse, error) {
			if call == 1 {
				engine.Pause()
			}
			return &provider.CompletionResponse{Content: "ok", FinishReason: "stop"}, nil
		},
	}

	reg := registry.New(zerolog.Nop())
	require.NoError(t, reg.Register("alpha", adapter, providerConfig(1e-6)))
	rt, err := router.New(reg, router.StrategyCost, zerolog.Nop())
	require.NoError(t, err)
	engine = NewEngine(rt, reg, Config{Parallelism: 1, MaxRetries: -1}, zerolog.Nop())

	plan, err := NewPlan("mid-level pause", []WorkItem{
		{ID: "a", Name: "first", Prompt: "pauses the engine"},
		{ID: "b", Name: "second", Prompt: "must wait"},
	})
	require.NoError(t, err)

	done := make(chan *PlanResult, 1)
	go func() {
		result, execErr := engine.Execute(context.Background(), plan)
		assert.NoError(t, execErr)
		done <- result
	}()

	// The pause lands mid-level; the second item must not start.
	time.Sleep(100 * time.Millisecond)
	assert.True(t, engine.IsPaused())
	assert.Equal(t, int64(1), adapter.callCount(), "second item started while the engine was paused")

	select {
	case <-done:
		t.Fatal("execution must block while paused")
	default:
	}

	engine.Resume()

	select {
	case result := <-done:
		assert.Equal(t, StatusCompleted, result.Status)
		assert.Equal(t, int64(2), adapter.callCount())
	case <-time.After(2 * time.Second):
		t.Fatal("execution did not resume")
	}
}

func TestExecuteEmitsRoutingOutcome(t *testing.T) {
	primary := &scriptedAdapter{
		name: "alpha",
		fn: func(call int64, req provider.CompletionRequest) (*provider.CompletionResponse, error) {
			return nil, errors.New("bad request")
		},
	}
	backup := &scriptedAdapter{name: "beta"}

	emitter := events.NewEmitter(64, zerolog.Nop())
	reg := registry.New(zerolog.Nop())
	require.NoError(t, reg.Register("alpha", primary, providerConfig(1e-7)))
	require.NoError(t, reg.Register("beta", backup, providerConfig(1e-6)))
	rt, err := router.New(reg, router.StrategyCost, zerolog.Nop())
	require.NoError(t, err)
	engine := NewEngine(rt, reg, Config{MaxRetries: -1}, zerolog.Nop(), WithEmitter(emitter))

	plan, err := NewPlan("fallback outcome", []WorkItem{
		{ID: "a", Name: "task", Prompt: "hello"},
	})
	require.NoError(t, err)

	_, err = engine.Execute(context.Background(), plan)
	require.NoError(t, err)

	var routed *events.RoutingDecided
	for drained := false; !drained; {
		select {
		case ev := <-emitter.Events():
			if ev.Type == events.TypeRoutingDecided {
				routed = ev.RoutingDecided
			}
		default:
			drained = true
		}
	}

	require.NotNil(t, routed, "a routing outcome event must be published")
	assert.NotEmpty(t, routed.RequestID)
	assert.Equal(t, "beta", routed.ChosenProvider)
	assert.Equal(t, []string{"beta"}, routed.FallbacksUsed)
	assert.Equal(t, "completed", routed.FinalStatus)
}

func TestExecuteEmitsExhaustedRoutingOutcome(t *testing.T) {
	adapter := &scriptedAdapter{
		name: "alpha",
		fn: func(call int64, req provider.CompletionRequest) (*provider.CompletionResponse, error) {
			return nil, errors.New("bad request")
		},
	}

	emitter := events.NewEmitter(64, zerolog.Nop())
	reg := registry.New(zerolog.Nop())
	require.NoError(t, reg.Register("alpha", adapter, providerConfig(1e-6)))
	rt, err := router.New(reg, router.StrategyCost, zerolog.Nop())
	require.NoError(t, err)
	engine := NewEngine(rt, reg, Config{MaxRetries: -1}, zerolog.Nop(), WithEmitter(emitter))

	plan, err := NewPlan("doomed outcome", []WorkItem{
		{ID: "a", Name: "task", Prompt: "hello"},
	})
	require.NoError(t, err)

	_, err = engine.Execute(context.Background(), plan)
	assert.ErrorIs(t, err, ErrAllProvidersExhausted)

	var routed *events.RoutingDecided
	for drained := false; !drained; {
		select {
		case ev := <-emitter.Events():
			if ev.Type == events.TypeRoutingDecided {
				routed = ev.RoutingDecided
			}
		default:
			drained = true
		}
	}

	require.NotNil(t, routed)
	assert.Equal(t, "alpha", routed.ChosenProvider)
	assert.Empty(t, routed.FallbacksUsed)
	assert.Equal(t, "exhausted", routed.FinalStatus)
}

func TestExecuteToolItemRoutesToToolCapableProvider(t *testing.T) {
	chatOnly := &scriptedAdapter{name: "chat-only"}
	toolCapable := &scriptedAdapter{name: "toolful"}

	reg := registry.New(zerolog.Nop())
	// Cheaper provider lacks tool support and must be skipped for tool items.
	require.NoError(t, reg.Register("chat-only", chatOnly, registry.ProviderConfig{
		Class: registry.ClassRemote,
		Models: []registry.ModelConfig{
			{Name: "cheap", Pricing: provider.Pricing{InputPerToken: 1e-8, OutputPerToken: 1e-8}},
		},
		Capabilities: []registry.Capability{registry.CapChat},
	}))
	require.NoError(t, reg.Register("toolful", toolCapable, registry.ProviderConfig{
		Class: registry.ClassRemote,
		Models: []registry.ModelConfig{
			{Name: "full", Pricing: provider.Pricing{InputPerToken: 1e-6, OutputPerToken: 1e-6}},
		},
		Capabilities: []registry.Capability{registry.CapChat, registry.CapStreaming, registry.CapTools},
	}))

	rt, err := router.New(reg, router.StrategyCost, zerolog.Nop())
	require.NoError(t, err)
	engine := NewEngine(rt, reg, Config{MaxRetries: -1}, zerolog.Nop())

	plan, err := NewPlan("tool routing", []WorkItem{
		{ID: "a", Kind: KindTool, Name: "search", Params: map[string]interface{}{"query": "go"}},
	})
	require.NoError(t, err)

	result, err := engine.Execute(context.Background(), plan)
	require.NoError(t, err)

	res := result.Items["a"]
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "toolful", res.Provider)
	assert.Equal(t, int64(0), chatOnly.callCount())
}
