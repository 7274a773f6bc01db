package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shaunagostinho/pytes-bridge/internal/config"
	"github.com/shaunagostinho/pytes-bridge/internal/poller"
	"github.com/shaunagostinho/pytes-bridge/internal/publish"
	"github.com/shaunagostinho/pytes-bridge/internal/record"
)

type fakeSource struct {
	res *record.CycleResult
	st  poller.Status
}

func (f *fakeSource) Latest() (record.CycleResult, bool) {
	if f.res == nil {
		return record.CycleResult{}, false
	}
	return *f.res, true
}

func (f *fakeSource) Status() poller.Status { return f.st }

func finished(n int) *record.CycleResult {
	agg := record.Begin(n)
	var p record.Partial
	p.SetNumber(record.FieldVoltage, 52.1)
	agg.ApplyBattery(1, p)
	res := agg.Finish()
	return &res
}

func newServer(cfg *config.Config, src Source) *Server {
	s := New(cfg, nil)
	s.Attach(src)
	return s
}

func TestLatestBeforeFirstCycle(t *testing.T) {
	s := newServer(config.Default(), &fakeSource{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/latest", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestLatest(t *testing.T) {
	s := newServer(config.Default(), &fakeSource{res: finished(2)})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/latest", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got struct {
		Batteries []struct {
			ID      int      `json:"id"`
			Voltage *float64 `json:"voltage"`
		} `json:"batteries"`
		FailedIDs []int `json:"failedIds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Batteries) != 2 || got.Batteries[0].Voltage == nil || *got.Batteries[0].Voltage != 52.1 {
		t.Fatalf("batteries = %+v", got.Batteries)
	}
	if got.Batteries[1].Voltage != nil {
		t.Fatalf("absent voltage should be null")
	}
	if len(got.FailedIDs) != 1 || got.FailedIDs[0] != 2 {
		t.Fatalf("failed = %v", got.FailedIDs)
	}
}

func TestStatus(t *testing.T) {
	cfg := config.Default()
	cfg.Rack.NumBatteries = 4
	cfg.Rack.CapacityAh = 280
	s := newServer(cfg, &fakeSource{st: poller.Status{State: "idle", LinkDown: true, ConsecutiveFailures: 3}})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	var got StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.LinkDown || got.ConsecutiveFailures != 3 || got.Batteries != 4 || got.CapacityAh != 280 {
		t.Fatalf("status = %+v", got)
	}
	if got.Instance == "" {
		t.Fatalf("missing instance id")
	}
}

func TestConfigReadOnly(t *testing.T) {
	cfg := config.Default()
	cfg.MQTT.Password = "hunter2"
	s := newServer(cfg, &fakeSource{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	if rec.Code != http.StatusOK || strings.Contains(rec.Body.String(), "hunter2") {
		t.Fatalf("GET /api/config: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/config", strings.NewReader("{}")))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST status = %d", rec.Code)
	}
}

func TestWebSocketFeed(t *testing.T) {
	s := newServer(config.Default(), &fakeSource{res: finished(1)})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first Frame
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if first.Cycle == nil || len(first.Cycle.Batteries) != 1 {
		t.Fatalf("snapshot = %+v", first)
	}

	// The client is registered before the snapshot is queued.
	s.Publish(publish.Target{Battery: 1}, []publish.Value{
		{Entity: "b1_v", Field: record.FieldVoltage, Unit: "V", Number: record.Some(52.1)},
		{Entity: "b1_t", Field: record.FieldTemperature, Unit: "°C"},
	})

	var got Frame
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if got.Target != "battery:1" || len(got.Values) != 2 {
		t.Fatalf("update = %+v", got)
	}
	if got.Values[0].Value != "52.1" || got.Values[0].Unit != "V" {
		t.Fatalf("value = %+v", got.Values[0])
	}
	if got.Values[1].Value != publish.Unavailable || got.Values[1].Unit != "" {
		t.Fatalf("absent value = %+v", got.Values[1])
	}
}
