package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/devilrob/felshare-cloud/internal/device"
	"github.com/devilrob/felshare-cloud/internal/hub"
	"github.com/devilrob/felshare-cloud/internal/infrastructure/config"
	"github.com/devilrob/felshare-cloud/internal/infrastructure/database"
	"github.com/devilrob/felshare-cloud/internal/infrastructure/logging"
	"github.com/devilrob/felshare-cloud/internal/store"
	_ "github.com/devilrob/felshare-cloud/migrations"
)

// fakePublisher records published payloads.
type fakePublisher struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (f *fakePublisher) Publish(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, append([]byte(nil), payload...))
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

// testServer spins up a hub backed by a temp database and an httptest
// server in front of the API router. The hub's state-change hook is
// wired to the WebSocket hub the way main wires it.
func testServer(t *testing.T) (*httptest.Server, *hub.Hub, *fakePublisher) {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "api.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := config.Config{
		Cloud: config.CloudConfig{DeviceID: "dev-1"},
		Throttle: config.ThrottleConfig{
			MinPublishIntervalSeconds: 0.02,
			MaxBurstMessages:          3,
			StatusMinIntervalSeconds:  60,
			BulkIntervalHours:         6,
			StartupStaleMinutes:       30,
			DispatchTickMillis:        5,
		},
		HVACSync: config.HVACSyncConfig{
			AirflowMode:     "cooling_only",
			OnDelaySeconds:  60,
			OffDelaySeconds: 60,
		},
		Logging: config.LoggingConfig{Level: "error", Format: "text"},
	}
	logger := logging.New(cfg.Logging, "test")

	pub := &fakePublisher{}
	ws := NewWSHub(logger)
	h, err := hub.New(ctx, cfg, hub.Deps{
		Store:         store.New(db),
		Publisher:     pub,
		OnStateChange: ws.BroadcastState,
	}, logger)
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	go h.Run(runCtx)
	go ws.Run(runCtx)
	t.Cleanup(cancel)

	srv, err := New(Deps{
		Config:     config.APIConfig{Host: "127.0.0.1", Port: 0},
		Logger:     logger,
		Hub:        h,
		ExternalWS: ws,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)
	return ts, h, pub
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	ts, _, _ := testServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["version"] != "test" {
		t.Errorf("version = %v, want test", body["version"])
	}
}

func TestStateReflectsDeviceFrames(t *testing.T) {
	ts, h, _ := testServer(t)

	h.HandleDeviceFrame([]byte{device.OpPower, 0x01})
	h.HandleDeviceFrame([]byte{device.OpRemaining, 0x00, 0x64})

	resp, err := http.Get(ts.URL + "/api/state")
	if err != nil {
		t.Fatalf("GET /api/state: %v", err)
	}
	defer resp.Body.Close()

	var st device.State
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Power == nil || !*st.Power {
		t.Error("power not reflected in state")
	}
	if st.RemainingMl == nil || *st.RemainingMl != 100 {
		t.Error("remaining not reflected in state")
	}
}

func TestPowerCommandQueued(t *testing.T) {
	ts, h, pub := testServer(t)
	h.HandleConnected()

	resp := postJSON(t, ts.URL+"/api/commands/power", map[string]bool{"on": true})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && pub.count() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if pub.count() == 0 {
		t.Error("power command never published")
	}
}

func TestLockedCommandsConflict(t *testing.T) {
	ts, h, _ := testServer(t)
	ctx := context.Background()
	h.HandleConnected()

	sched, _ := device.EncodeSchedule(device.Schedule{
		Enabled: true, Start: "08:00", End: "22:00",
		RunSeconds: 30, StopSeconds: 190, DaysMask: device.DaysAll,
	})
	h.HandleDeviceFrame(sched)
	if err := h.SetHvacSync(ctx, true); err != nil {
		t.Fatalf("enable sync: %v", err)
	}

	resp := postJSON(t, ts.URL+"/api/commands/power", map[string]bool{"on": true})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("power while locked: status = %d, want 409", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/api/commands/schedule", device.Schedule{
		Start: "09:00", End: "21:00",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("schedule while locked: status = %d, want 409", resp.StatusCode)
	}

	// Fan is not covered by the lock.
	resp = postJSON(t, ts.URL+"/api/commands/fan", map[string]bool{"on": true})
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("fan while locked: status = %d, want 202", resp.StatusCode)
	}
}

func TestScheduleValidation(t *testing.T) {
	ts, _, _ := testServer(t)

	resp := postJSON(t, ts.URL+"/api/commands/schedule", device.Schedule{
		Start: "25:99", End: "22:00",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad time: status = %d, want 400", resp.StatusCode)
	}

	resp, err := http.Post(ts.URL+"/api/commands/schedule", "application/json",
		strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad body: status = %d, want 400", resp.StatusCode)
	}
}

func TestNegativeVolumesRejected(t *testing.T) {
	ts, _, _ := testServer(t)

	resp := postJSON(t, ts.URL+"/api/commands/capacity", map[string]int{"ml": -1})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("negative capacity: status = %d, want 400", resp.StatusCode)
	}
	resp = postJSON(t, ts.URL+"/api/commands/consumption", map[string]float64{"ml_per_hour": -0.5})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("negative consumption: status = %d, want 400", resp.StatusCode)
	}
}

func TestDiagnosticsAndHvacSyncToggle(t *testing.T) {
	ts, _, _ := testServer(t)

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/hvac-sync",
		strings.NewReader(`{"enabled": false}`))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT /api/hvac-sync: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	diagResp, err := http.Get(ts.URL + "/api/diagnostics")
	if err != nil {
		t.Fatalf("GET /api/diagnostics: %v", err)
	}
	defer diagResp.Body.Close()

	var diag hub.Diagnostics
	if err := json.NewDecoder(diagResp.Body).Decode(&diag); err != nil {
		t.Fatalf("decode diagnostics: %v", err)
	}
	if diag.HvacSync.State != "disabled" {
		t.Errorf("hvac state = %q, want disabled", diag.HvacSync.State)
	}
}

func TestRefreshReportsGovernorDecision(t *testing.T) {
	ts, h, _ := testServer(t)
	h.HandleConnected()

	resp := postJSON(t, ts.URL+"/api/refresh", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var first hub.RefreshResult
	if err := json.NewDecoder(resp.Body).Decode(&first); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// A second refresh inside the debounce window sends nothing.
	resp = postJSON(t, ts.URL+"/api/refresh", nil)
	var second hub.RefreshResult
	if err := json.NewDecoder(resp.Body).Decode(&second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if second.StatusRequested {
		t.Error("second refresh inside debounce window requested status")
	}
}

func TestWebSocketBroadcast(t *testing.T) {
	ts, h, _ := testServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	// The initial snapshot arrives first.
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read initial snapshot: %v", err)
	}
	if msg.Type != WSTypeEvent || msg.EventType != WSEventState {
		t.Fatalf("unexpected message: %+v", msg)
	}

	// A state-changing device frame is broadcast to connected clients.
	h.HandleDeviceFrame([]byte{device.OpPower, 0x01})

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		t.Fatalf("re-marshal payload: %v", err)
	}
	var st device.State
	if err := json.Unmarshal(payload, &st); err != nil {
		t.Fatalf("decode state payload: %v", err)
	}
	if st.Power == nil || !*st.Power {
		t.Error("broadcast state missing power change")
	}
}
