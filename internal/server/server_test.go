package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesmerkit/mesmerd/internal/config"
	"github.com/mesmerkit/mesmerd/internal/daemon"
	"github.com/mesmerkit/mesmerd/internal/events"
)

type stubController struct {
	status    daemon.Status
	bus       *events.Bus
	startErr  error
	pauseErr  error
	resumeErr error
	started   []string
	stopped   int
}

func newStubController() *stubController {
	return &stubController{
		status: daemon.Status{State: "stopped", StartedAt: time.Now()},
		bus:    events.NewBus(nil),
	}
}

func (c *stubController) Status() daemon.Status { return c.status }

func (c *stubController) StartSession(path string, override time.Duration) error {
	if c.startErr != nil {
		return c.startErr
	}
	c.started = append(c.started, path)
	return nil
}

func (c *stubController) PauseSession() error  { return c.pauseErr }
func (c *stubController) ResumeSession() error { return c.resumeErr }
func (c *stubController) StopSession()         { c.stopped++ }
func (c *stubController) Events() *events.Bus  { return c.bus }

func newTestServer(t *testing.T) (*stubController, *httptest.Server) {
	t.Helper()
	control := newStubController()
	srv := New(config.ServerConfig{}, control, nil, "test")
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return control, ts
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "test", body.Version)
}

func TestSessionStatus(t *testing.T) {
	control, ts := newTestServer(t)
	control.status = daemon.Status{
		State:     "running",
		RunID:     "01HXYZ",
		Cue:       "induction",
		Playback:  "spiral_fast",
		StartedAt: time.Now().Add(-time.Minute),
	}

	resp, err := http.Get(ts.URL + "/api/v1/session")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body sessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "running", body.State)
	assert.Equal(t, "induction", body.Cue)
	assert.Greater(t, body.UptimeSeconds, 59.0)
}

func TestSessionStart(t *testing.T) {
	control, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/session/start", "application/json",
		bytes.NewBufferString(`{"cuelist":"evening.json"}`))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []string{"evening.json"}, control.started)
}

func TestSessionStartRequiresCuelist(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/session/start", "application/json",
		bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionStartConflict(t *testing.T) {
	control, ts := newTestServer(t)
	control.startErr = fmt.Errorf("session already active")

	resp, err := http.Post(ts.URL+"/api/v1/session/start", "application/json",
		bytes.NewBufferString(`{"cuelist":"evening.json"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusConflict, resp.StatusCode)
	var body errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body.Error, "already active")
}

func TestSessionStop(t *testing.T) {
	control, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/session/stop", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, control.stopped)
}

func TestPauseConflictWhenNothingRunning(t *testing.T) {
	control, ts := newTestServer(t)
	control.pauseErr = fmt.Errorf("no pausable session")

	resp, err := http.Post(ts.URL+"/api/v1/session/pause", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestEventFeedDeliversSessionEvents(t *testing.T) {
	control, ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Wait for the handler to register its subscription before publishing.
	require.Eventually(t, func() bool { return control.bus.SubscriberCount() == 1 },
		2*time.Second, 5*time.Millisecond)

	control.bus.Publish(events.SessionEvent{
		Type:  events.TypeCueStarted,
		RunID: "r1",
		Cue:   "induction",
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev events.SessionEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.TypeCueStarted, ev.Type)
	assert.Equal(t, "induction", ev.Cue)
}
