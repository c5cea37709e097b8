package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justmebob123/autonomy-sub005/internal/bus"
	"github.com/justmebob123/autonomy-sub005/internal/correlate"
	"github.com/justmebob123/autonomy-sub005/internal/objective"
	"github.com/justmebob123/autonomy-sub005/internal/state"
	"github.com/justmebob123/autonomy-sub005/internal/store"
)

func newServer(t *testing.T, st store.Store) (*Server, *state.Manager, *bus.Bus) {
	t.Helper()
	states := state.NewManager("run-api", nil)
	b := bus.New(nil)
	objectives := objective.New(states, correlate.New(nil), objective.Thresholds{}, nil)
	s := New(states, objectives, b, st, nil)
	t.Cleanup(s.Close)
	return s, states, b
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	s, states, b := newServer(t, nil)
	states.RecordRun("coding", true, "", nil, []string{"a.go"})
	b.Publish(bus.NewMessage("test", bus.Broadcast, bus.SystemInfo, bus.PriorityNormal, nil))

	rec := get(t, s.Handler(), "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run-api", body["run_id"])
	assert.Contains(t, body, "summary")
	assert.Contains(t, body, "bus")
}

func TestStateEndpointRoundTrips(t *testing.T) {
	s, states, _ := newServer(t, nil)
	states.RecordRun("qa", false, "t-1", nil, nil)

	rec := get(t, s.Handler(), "/api/state")
	require.Equal(t, http.StatusOK, rec.Code)

	restored := state.NewManager("other", nil)
	require.NoError(t, restored.Deserialize(rec.Body.Bytes()))
	assert.Equal(t, 1, restored.GetPhaseState("qa").Failures)
}

func TestObjectivesEndpoint(t *testing.T) {
	s, states, _ := newServer(t, nil)
	states.AddObjective(&state.Objective{
		ID: "o1", Description: "fix the crash", CreatedAt: time.Now(),
	})

	rec := get(t, s.Handler(), "/api/objectives")
	require.Equal(t, http.StatusOK, rec.Code)

	var assessed []objective.Assessment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &assessed))
	require.Len(t, assessed, 1)
	assert.Equal(t, "o1", assessed[0].Objective.ID)
	assert.NotEmpty(t, assessed[0].Health)
}

func TestRunEndpoints(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.SaveState("run-api", []byte("{}")))
	require.NoError(t, st.AppendPhaseRun("run-api", "planning", true, time.Second, "ok"))

	s, _, _ := newServer(t, st)

	rec := get(t, s.Handler(), "/api/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []store.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)

	rec = get(t, s.Handler(), "/api/runs/run-api/phases?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	var phaseRuns []store.PhaseRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &phaseRuns))
	require.Len(t, phaseRuns, 1)
	assert.Equal(t, "planning", phaseRuns[0].Phase)
}

func TestRunEndpointsWithoutStore(t *testing.T) {
	s, _, _ := newServer(t, nil)
	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/api/runs").Code)
	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/api/runs/x/phases").Code)
}

func TestWebsocketStreamsBusTraffic(t *testing.T) {
	s, _, b := newServer(t, nil)
	go s.hub.Run()

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// give the read loop a beat to register the client
	time.Sleep(50 * time.Millisecond)
	b.Publish(bus.NewMessage("test", bus.Broadcast, bus.PhaseCompleted, bus.PriorityNormal, map[string]any{
		"phase": "coding",
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg bus.Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, bus.PhaseCompleted, msg.Type)
	assert.Equal(t, "coding", msg.Payload["phase"])
}
