package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-cli/maestro/pkg/events"
	"github.com/maestro-cli/maestro/pkg/provider"
)

type fakeAdapter struct {
	name    string
	healthy bool
}

func (f *fakeAdapter) Complete(ctx context.Context, req provider.CompletionRequest) (*provider.CompletionResponse, error) {
	return &provider.CompletionResponse{Content: "ok", FinishReason: "stop"}, nil
}

func (f *fakeAdapter) CompleteStream(ctx context.Context, req provider.CompletionRequest, onChunk func(provider.StreamChunk)) (*provider.CompletionResponse, error) {
	return f.Complete(ctx, req)
}

func (f *fakeAdapter) ListModels(ctx context.Context) ([]string, error) {
	return []string{"fake-model"}, nil
}

func (f *fakeAdapter) HealthCheck(ctx context.Context) bool { return f.healthy }

func (f *fakeAdapter) Name() string { return f.name }

func testConfig() ProviderConfig {
	return ProviderConfig{
		Class: ClassRemote,
		Models: []ModelConfig{
			{Name: "fake-model", Quality: map[string]float64{"medium": 0.8}},
		},
		BreakerThreshold: 3,
		BreakerCooldown:  30 * time.Second,
	}
}

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	return New(zerolog.Nop(), opts...)
}

func TestRegisterDuplicate(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("p1", &fakeAdapter{name: "p1"}, testConfig()))
	assert.Error(t, r.Register("p1", &fakeAdapter{name: "p1"}, testConfig()))
}

func TestRecordOutcomeEWMA(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("p1", &fakeAdapter{name: "p1"}, testConfig()))

	// First sample is taken verbatim
	r.RecordOutcome("p1", Outcome{Success: true, Latency: 100 * time.Millisecond})
	m, err := r.MetricsOf("p1")
	require.NoError(t, err)
	assert.InDelta(t, 100.0, m.AvgLatencyMs, 0.001)

	// average = 0.1*sample + 0.9*previous
	r.RecordOutcome("p1", Outcome{Success: true, Latency: 200 * time.Millisecond})
	m, err = r.MetricsOf("p1")
	require.NoError(t, err)
	assert.InDelta(t, 0.1*200+0.9*100, m.AvgLatencyMs, 0.001)
}

func TestRecordOutcomeCounters(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("p1", &fakeAdapter{name: "p1"}, testConfig()))

	r.RecordOutcome("p1", Outcome{Success: true, Latency: 10 * time.Millisecond, Tokens: 120, Cost: 0.002})
	r.RecordOutcome("p1", Outcome{Success: false, Latency: 10 * time.Millisecond, Err: errors.New("boom")})

	m, err := r.MetricsOf("p1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), m.TotalCalls)
	assert.Equal(t, int64(1), m.Successes)
	assert.Equal(t, int64(1), m.Failures)
	assert.Equal(t, int64(120), m.TotalTokens)
	assert.InDelta(t, 0.002, m.TotalCost, 0.000001)

	h, err := r.HealthOf("p1")
	require.NoError(t, err)
	assert.Equal(t, 1, h.ConsecutiveFailures)
	assert.Equal(t, StatusDegraded, h.Status)
	assert.Equal(t, "boom", h.LastError)
}

func TestConsecutiveFailuresOpenBreaker(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("p1", &fakeAdapter{name: "p1"}, testConfig()))

	for i := 0; i < 3; i++ {
		r.RecordOutcome("p1", Outcome{Success: false, Err: errors.New("down")})
	}

	h, err := r.HealthOf("p1")
	require.NoError(t, err)
	assert.Equal(t, StatusUnhealthy, h.Status)

	state, err := r.BreakerState("p1")
	require.NoError(t, err)
	assert.Equal(t, "open", state)

	assert.Empty(t, r.AvailableProviders())
	assert.False(t, r.Allow("p1"))
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("p1", &fakeAdapter{name: "p1"}, testConfig()))

	r.RecordOutcome("p1", Outcome{Success: false, Err: errors.New("down")})
	r.RecordOutcome("p1", Outcome{Success: false, Err: errors.New("down")})
	r.RecordOutcome("p1", Outcome{Success: true, Latency: 5 * time.Millisecond})

	h, err := r.HealthOf("p1")
	require.NoError(t, err)
	assert.Equal(t, 0, h.ConsecutiveFailures)
	assert.Equal(t, StatusHealthy, h.Status)
	assert.Empty(t, h.LastError)
}

func TestHalfOpenRecovery(t *testing.T) {
	now := time.Now()
	r := newTestRegistry(t, WithClock(func() time.Time { return now }))
	require.NoError(t, r.Register("p1", &fakeAdapter{name: "p1"}, testConfig()))

	for i := 0; i < 3; i++ {
		r.RecordOutcome("p1", Outcome{Success: false, Err: errors.New("down")})
	}
	assert.False(t, r.Allow("p1"))

	// After the cooldown the provider is listed again and exactly one
	// trial call is admitted.
	now = now.Add(31 * time.Second)
	assert.Len(t, r.AvailableProviders(), 1)
	assert.True(t, r.Allow("p1"))
	assert.False(t, r.Allow("p1"), "second call during trial must be rejected")

	r.RecordOutcome("p1", Outcome{Success: true, Latency: 5 * time.Millisecond})

	state, err := r.BreakerState("p1")
	require.NoError(t, err)
	assert.Equal(t, "closed", state)
	assert.True(t, r.Allow("p1"))
}

func TestHalfOpenTrialFailureReopens(t *testing.T) {
	now := time.Now()
	r := newTestRegistry(t, WithClock(func() time.Time { return now }))
	require.NoError(t, r.Register("p1", &fakeAdapter{name: "p1"}, testConfig()))

	for i := 0; i < 3; i++ {
		r.RecordOutcome("p1", Outcome{Success: false, Err: errors.New("down")})
	}

	now = now.Add(31 * time.Second)
	assert.True(t, r.Allow("p1"))
	r.RecordOutcome("p1", Outcome{Success: false, Err: errors.New("still down")})

	state, err := r.BreakerState("p1")
	require.NoError(t, err)
	assert.Equal(t, "open", state)
	assert.False(t, r.Allow("p1"))
}

func TestAvailableProvidersRegistrationOrder(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("zeta", &fakeAdapter{name: "zeta"}, testConfig()))
	require.NoError(t, r.Register("alpha", &fakeAdapter{name: "alpha"}, testConfig()))
	require.NoError(t, r.Register("mid", &fakeAdapter{name: "mid"}, testConfig()))

	snaps := r.AvailableProviders()
	require.Len(t, snaps, 3)
	assert.Equal(t, "zeta", snaps[0].ID)
	assert.Equal(t, "alpha", snaps[1].ID)
	assert.Equal(t, "mid", snaps[2].ID)
}

func TestHealthChangedEventEmitted(t *testing.T) {
	emitter := events.NewEmitter(16, zerolog.Nop())
	defer emitter.Close()

	r := newTestRegistry(t, WithEmitter(emitter))
	require.NoError(t, r.Register("p1", &fakeAdapter{name: "p1"}, testConfig()))

	r.RecordOutcome("p1", Outcome{Success: false, Err: errors.New("down")})

	select {
	case ev := <-emitter.Events():
		assert.Equal(t, events.TypeHealthChanged, ev.Type)
		require.NotNil(t, ev.HealthChanged)
		assert.Equal(t, "p1", ev.HealthChanged.ProviderID)
		assert.Equal(t, string(StatusDegraded), ev.HealthChanged.ToState)
	case <-time.After(time.Second):
		t.Fatal("expected a health changed event")
	}
}

func TestModelsOfUnknownProvider(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.ModelsOf("ghost")
	assert.Error(t, err)
}
