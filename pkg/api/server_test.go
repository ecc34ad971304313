package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/dexhand/pkg/bus"
	"github.com/gwillem/dexhand/pkg/engine"
	"github.com/gwillem/dexhand/pkg/gesture"
	"github.com/gwillem/dexhand/pkg/robot"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	handler http.Handler
	engine  *engine.Engine
	model   *robot.Model
	sim     *bus.Simulator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	sim := bus.NewSimulator(robot.NumChannels)
	for _, id := range robot.AllChannels() {
		sim.Configure(id, func(s *bus.SimServo) { s.Rate = 0 })
	}
	tr, err := bus.NewTransport(sim, bus.Config{
		Timeout:    5 * time.Millisecond,
		Retries:    1,
		CommandGap: 10 * time.Microsecond,
		Logger:     log,
	})
	require.NoError(t, err)
	model := robot.NewModel(robot.ModelOptions{})
	e, err := engine.New(tr, model, engine.Options{Gesture: gesture.DefaultProfile(), Logger: log})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	s := NewServer(e, t.TempDir(), log)
	return &testServer{handler: s.Handler(), engine: e, model: model, sim: sim}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(strings.TrimSpace(w.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func TestGetChannels(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/channels", nil)
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var channels []robot.ChannelSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &channels))
	require.Len(t, channels, robot.NumChannels)
	assert.Equal(t, robot.ThumbRoll, channels[0].Name)
	assert.Nil(t, channels[0].Target)
}

func TestSetTargetErrors(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.model.ApplyCalibration(robot.Profile{ServoID: 3, Min: 1000, Max: 3000}))

	tests := []struct {
		name    string
		path    string
		body    string
		status  int
		kind    string
		channel float64
	}{
		{"ok", "/api/channels/3/target", `{"value": 2000}`, http.StatusOK, "", 0},
		{"out of range", "/api/channels/3/target", `{"value": 3500}`, http.StatusUnprocessableEntity, "out_of_range", 3},
		{"unknown channel", "/api/channels/18/target", `{"value": 2000}`, http.StatusNotFound, "unknown_channel", 18},
		{"missing value", "/api/channels/3/target", `{}`, http.StatusBadRequest, "bad_request", 0},
		{"bad id", "/api/channels/x/target", `{"value": 1}`, http.StatusBadRequest, "bad_request", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ts.do(t, http.MethodPut, tt.path, tt.body)
			assert.Equal(t, tt.status, status)
			if tt.kind == "" {
				return
			}
			assert.Equal(t, tt.kind, body["kind"])
			assert.NotEmpty(t, body["error"])
			if tt.channel != 0 {
				assert.Equal(t, tt.channel, body["channel"])
			}
		})
	}
}

func TestBusTimeoutReported(t *testing.T) {
	ts := newTestServer(t)
	ts.sim.Remove(4)

	status, body := ts.do(t, http.MethodPut, "/api/channels/4/enabled", `{"enabled": true}`)
	assert.Equal(t, http.StatusGatewayTimeout, status)
	assert.Equal(t, "bus_timeout", body["kind"])
	assert.Equal(t, float64(4), body["channel"])

	status, body = ts.do(t, http.MethodPut, "/api/enabled", `{"enabled": true}`)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "bus_broadcast", body["kind"])
	assert.Equal(t, []any{float64(4)}, body["channels"])
}

func TestRecordAndPlay(t *testing.T) {
	ts := newTestServer(t)

	status, _ := ts.do(t, http.MethodPost, "/api/recording/start", `{"mode": "frame"}`)
	require.Equal(t, http.StatusOK, status)

	status, _ = ts.do(t, http.MethodPut, "/api/channels/1/target", `{"value": 1200}`)
	require.Equal(t, http.StatusOK, status)
	status, _ = ts.do(t, http.MethodPost, "/api/recording/frames", `{"offset_ms": 0}`)
	require.Equal(t, http.StatusOK, status)
	status, body := ts.do(t, http.MethodPost, "/api/recording/frames", `{"offset_ms": 0}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "frame_ordering", body["kind"])
	assert.Equal(t, float64(1), body["frame"])
	status, _ = ts.do(t, http.MethodPost, "/api/recording/frames", `{"offset_ms": 4000}`)
	require.Equal(t, http.StatusOK, status)

	status, body = ts.do(t, http.MethodPost, "/api/playback/start", `{"name": "x.json"}`)
	assert.Equal(t, http.StatusNotFound, status, "missing file is reported before the mode check")

	status, body = ts.do(t, http.MethodPost, "/api/recording/stop", "")
	require.Equal(t, http.StatusOK, status)
	name := body["name"].(string)
	assert.Equal(t, float64(2), body["frames"])

	status, body = ts.do(t, http.MethodGet, "/api/recordings", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{name}, body["recordings"])

	status, body = ts.do(t, http.MethodPost, "/api/playback/start", fmt.Sprintf(`{"name": %q, "speed": 9}`, name))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_speed", body["kind"])

	status, body = ts.do(t, http.MethodPost, "/api/playback/start", fmt.Sprintf(`{"name": %q, "speed": 0.5}`, name))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(2), body["frames"])

	status, body = ts.do(t, http.MethodPost, "/api/recording/start", `{"mode": "realtime"}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "mode_conflict", body["kind"])

	status, body = ts.do(t, http.MethodPost, "/api/playback/pause", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "paused", body["state"])

	status, body = ts.do(t, http.MethodPost, "/api/playback/seek", `{"ms": 40}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(40), body["cursor_ms"])

	status, _ = ts.do(t, http.MethodPost, "/api/playback/stop", "")
	require.Equal(t, http.StatusOK, status)
	status, body = ts.do(t, http.MethodPost, "/api/playback/resume", "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_state", body["kind"])

	status, body = ts.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "idle", body["mode"])
}

func TestPutRecordingRejectsBadDocument(t *testing.T) {
	ts := newTestServer(t)
	positions := strings.TrimSuffix(strings.Repeat("2048,", robot.NumChannels), ",")
	doc := fmt.Sprintf(`{"version": 1, "mode": "frame", "servo_count": 17, "frames": [
		{"offset_ms": 0, "positions": [%[1]s]},
		{"offset_ms": 100, "positions": [%[1]s]},
		{"offset_ms": 100, "positions": [%[1]s]}]}`, positions)

	status, body := ts.do(t, http.MethodPut, "/api/recordings/bad.json", doc)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "recording_format", body["kind"])
	assert.Equal(t, float64(2), body["frame"])

	good := strings.Replace(doc, `"offset_ms": 100, "positions": [`+positions+`]}]`, `"offset_ms": 200, "positions": [`+positions+`]}]`, 1)
	status, body = ts.do(t, http.MethodPut, "/api/recordings/good.json", good)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, float64(3), body["frames"])

	status, _ = ts.do(t, http.MethodPut, "/api/recordings/notes.txt", good)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestMirroringReportsUncalibrated(t *testing.T) {
	ts := newTestServer(t)
	for _, id := range robot.AllChannels() {
		if id != 6 {
			require.NoError(t, ts.model.ApplyCalibration(robot.Profile{ServoID: id, Min: 1000, Max: 3000}))
		}
	}

	landmarks := make([]gesture.Landmark, gesture.NumLandmarks)
	for i := range landmarks {
		landmarks[i] = gesture.Landmark{X: 0.5 + 0.01*float64(i%5), Y: 0.9 - 0.03*float64(i), Z: 0.001 * float64(i%3), Confidence: 1}
	}
	frame, err := json.Marshal(map[string]any{"landmarks": landmarks})
	require.NoError(t, err)

	status, body := ts.do(t, http.MethodPost, "/api/mirroring/frames", string(frame))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_state", body["kind"])

	status, _ = ts.do(t, http.MethodPost, "/api/mirroring/start", "")
	require.Equal(t, http.StatusOK, status)

	status, body = ts.do(t, http.MethodPost, "/api/mirroring/frames", string(frame))
	require.Equal(t, http.StatusOK, status)
	errs := body["errors"].(map[string]any)
	require.Contains(t, errs, "6")
	e6 := errs["6"].(map[string]any)
	assert.Equal(t, "uncalibrated", e6["kind"])
	assert.Equal(t, float64(6), e6["channel"])
	assert.NotContains(t, body["targets"].(map[string]any), "6")

	status, body = ts.do(t, http.MethodPost, "/api/calibration/start", `{"channels": [6]}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "mode_conflict", body["kind"])

	status, _ = ts.do(t, http.MethodPost, "/api/mirroring/stop", "")
	require.Equal(t, http.StatusOK, status)
}
