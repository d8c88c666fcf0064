package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-cli/maestro/pkg/events"
)

func TestNewServerValidation(t *testing.T) {
	emitter := events.NewEmitter(1, zerolog.Nop())
	defer emitter.Close()

	_, err := NewServer(Config{Port: 0, Emitter: emitter})
	assert.Error(t, err)

	_, err = NewServer(Config{Port: 8080})
	assert.Error(t, err, "an emitter is required")

	s, err := NewServer(Config{Port: 8080, Emitter: emitter})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", s.host)
}

func TestClientRegistry(t *testing.T) {
	reg := NewClientRegistry()
	assert.Equal(t, 0, reg.Count())

	before := time.Now()
	reg.Add(&Client{ID: "c1", ConnectedAt: before, LastActivity: before, IPAddress: "10.0.0.1:1234"})
	reg.Add(&Client{ID: "c2", ConnectedAt: before, LastActivity: before})
	assert.Equal(t, 2, reg.Count())

	infos := reg.GetConnectedClients()
	assert.Len(t, infos, 2)

	reg.UpdateActivity("c1")
	for _, c := range reg.GetAll() {
		if c.ID == "c1" {
			assert.True(t, c.LastActivity.After(before) || c.LastActivity.Equal(before))
		}
	}

	reg.Remove("c1")
	assert.Equal(t, 1, reg.Count())
	reg.Remove("missing")
	assert.Equal(t, 1, reg.Count())
}

// dialTestClient connects a websocket client to the server's handler and
// waits for the registration to land.
func dialTestClient(t *testing.T, s *Server) (*websocket.Conn, *httptest.Server) {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	url := "ws" + strings.TrimPrefix(ts.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for s.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn, ts
}

func TestBroadcastDeliversSequencedFrames(t *testing.T) {
	emitter := events.NewEmitter(8, zerolog.Nop())
	defer emitter.Close()

	s, err := NewServer(Config{Port: 8080, Emitter: emitter, Logger: zerolog.Nop()})
	require.NoError(t, err)

	conn, ts := dialTestClient(t, s)
	defer ts.Close()
	defer conn.Close()

	s.broadcaster.Broadcast("plan_completed", map[string]string{"plan_id": "p1"})
	s.broadcaster.Broadcast("item_transition", map[string]string{"item_id": "a"})

	var first, second EventMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &first))

	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &second))

	assert.Equal(t, "event", first.Type)
	assert.Equal(t, "plan_completed", first.Event)
	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, "item_transition", second.Event)
	assert.Equal(t, int64(2), second.Seq)
	assert.NotZero(t, first.Timestamp)
}

func TestPumpForwardsEmitterEvents(t *testing.T) {
	emitter := events.NewEmitter(8, zerolog.Nop())

	s, err := NewServer(Config{Port: 8080, Emitter: emitter, Logger: zerolog.Nop()})
	require.NoError(t, err)

	conn, ts := dialTestClient(t, s)
	defer ts.Close()
	defer conn.Close()

	s.pumpWG.Add(1)
	go s.pumpEvents()

	emitter.Emit(events.Event{
		Type:          events.TypeHealthChanged,
		HealthChanged: &events.HealthChanged{ProviderID: "claude", ToState: "degraded"},
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg EventMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, string(events.TypeHealthChanged), msg.Event)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	emitter.Close()
}

func TestClientsEndpointListsSubscribers(t *testing.T) {
	emitter := events.NewEmitter(8, zerolog.Nop())
	defer emitter.Close()

	s, err := NewServer(Config{Port: 8080, Emitter: emitter, Logger: zerolog.Nop()})
	require.NoError(t, err)

	conn, ts := dialTestClient(t, s)
	defer ts.Close()
	defer conn.Close()

	rec := httptest.NewRecorder()
	s.handleClients(rec, httptest.NewRequest(http.MethodGet, "/clients", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var infos []ClientInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 1)
	assert.NotEmpty(t, infos[0].ID)
	assert.NotEmpty(t, infos[0].IPAddress)
	assert.False(t, infos[0].ConnectedAt.IsZero())
}
