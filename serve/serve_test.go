package serve

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siteguard/pipeline"
)

type fakeStatus struct {
	st pipeline.Status
}

func (f *fakeStatus) Status() pipeline.Status {
	return f.st
}

func getJSON(t *testing.T, h http.Handler) map[string]interface{} {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestStatusNotInitialized(t *testing.T) {
	assert.Equal(t, map[string]interface{}{"status": "not initialized"}, getJSON(t, &StatusServer{}))

	p := &fakeStatus{st: pipeline.Status{Status: "not initialized"}}
	assert.Equal(t, map[string]interface{}{"status": "not initialized"}, getJSON(t, &StatusServer{Pipeline: p}))
}

func TestStatusRunning(t *testing.T) {
	p := &fakeStatus{st: pipeline.Status{
		Status:  "running",
		Streams: 2,
		FPS:     map[string]float64{"0": 9.8, "1": 0},
	}}
	assert.Equal(t, map[string]interface{}{
		"status":  "running",
		"streams": float64(2),
		"fps":     map[string]interface{}{"0": 9.8, "1": float64(0)},
	}, getJSON(t, &StatusServer{Pipeline: p}))
}

func TestStatusWebsocketPushes(t *testing.T) {
	p := &fakeStatus{st: pipeline.Status{Status: "running", Streams: 1, FPS: map[string]float64{"0": 5}}}
	u := NewStatusUpdater(p, 20*time.Millisecond)
	defer u.Close()
	ts := httptest.NewServer(u)
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, b, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	var st pipeline.Status
	require.NoError(t, json.Unmarshal(b, &st))
	assert.Equal(t, p.st, st)
}

func TestIndexLinksStreams(t *testing.T) {
	ts := httptest.NewServer(&IndexServer{Title: "siteguard", Streams: 2})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(b), `/video_feed/0`)
	assert.Contains(t, string(b), `/video_feed/1`)
	assert.NotContains(t, string(b), `/video_feed/2`)

	resp, err = http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
