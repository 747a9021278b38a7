package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"hydrosense-cloud/internal/auth"
	"hydrosense-cloud/internal/eventing"
	"hydrosense-cloud/internal/realtime"
	"hydrosense-cloud/internal/sensors/application"
	sensors "hydrosense-cloud/internal/sensors/domain"
	"hydrosense-cloud/internal/storage"
	"hydrosense-cloud/internal/storage/memory"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func quietLogger() *log.Logger { return log.New(discard{}, "", 0) }

type failingSink struct{}

func (failingSink) Insert(context.Context, []sensors.Reading) error { return errors.New("down") }
func (failingSink) LatestByType(context.Context, sensors.SensorKind, int) ([]sensors.Reading, error) {
	return nil, errors.New("down")
}
func (failingSink) Readings(context.Context, storage.ReadingFilter) ([]sensors.Reading, error) {
	return nil, errors.New("down")
}
func (failingSink) HourlyAverages(context.Context, sensors.SensorKind, time.Time, time.Time) ([]sensors.HourlyStat, error) {
	return nil, errors.New("down")
}
func (failingSink) DeviceSummary(context.Context) ([]sensors.TypeSummary, error) {
	return nil, errors.New("down")
}

type stubFeed struct{ connected bool }

func (f stubFeed) Connected() bool { return f.connected }

type stubPublisher struct {
	topics   []string
	payloads [][]byte
	err      error
}

func (p *stubPublisher) Publish(topic string, payload []byte, _ byte, _ bool) error {
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return nil
}

func f64(v float64) *float64 { return &v }

func newTestServer(t *testing.T, sink storage.Sink, opts ...Option) (*Server, *application.Service) {
	t.Helper()
	bus := eventing.NewInMemoryBus()
	svc, err := application.NewService(sink, bus, sensors.StatusOffline, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	hub, err := realtime.NewHub(func() (sensors.Snapshot, sensors.StatusReport) {
		return svc.Snapshot(), svc.Report()
	}, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	srv, err := NewServer(svc, sink, hub, stubFeed{connected: true}, quietLogger(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return srv, svc
}

func seedBatch(t *testing.T, svc *application.Service) {
	t.Helper()
	err := svc.ApplyBatch(context.Background(), application.CombinedBatch{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Devices: map[string]application.SubDeviceReading{
			application.KeyPowerMeter: {Power: f64(2750)},
			application.KeyFlowSensor: {Value: f64(2.0)},
			application.KeyORP1:       {Value: f64(440)},
			application.KeyORP2:       {Value: f64(460)},
			application.KeyPH1:        {Value: f64(7.2)},
			application.KeyPH2:        {Value: f64(7.4)},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func getJSON(t *testing.T, router http.Handler, path string, want int) map[string]any {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != want {
		t.Fatalf("GET %s = %d, want %d: %s", path, resp.Code, want, resp.Body.String())
	}
	if want != http.StatusOK {
		return nil
	}
	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("GET %s: bad json: %v", path, err)
	}
	return body
}

func TestDevicesEndpoint(t *testing.T) {
	srv, svc := newTestServer(t, memory.NewStore())
	seedBatch(t, svc)
	router := srv.Router()

	body := getJSON(t, router, "/api/devices", http.StatusOK)

	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("missing data object: %v", body)
	}
	if data["flowRate"] != 120.0 {
		t.Fatalf("flowRate = %v, want 120", data["flowRate"])
	}
	if data["powerConsumption"] != 2.75 {
		t.Fatalf("powerConsumption = %v, want 2.75", data["powerConsumption"])
	}
	status, ok := body["status"].(map[string]any)
	if !ok {
		t.Fatalf("missing status object: %v", body)
	}
	if _, ok := status["orpDevices"]; !ok {
		t.Fatal("status missing orpDevices")
	}
	if _, ok := body["summary"]; !ok {
		t.Fatal("missing summary")
	}
}

func TestDevicesEndpointSinkDownStillServes(t *testing.T) {
	srv, svc := newTestServer(t, failingSink{})
	seedBatch(t, svc)

	body := getJSON(t, srv.Router(), "/api/devices", http.StatusOK)
	if _, ok := body["summary"]; ok {
		t.Fatal("summary present although sink is down")
	}
	if _, ok := body["data"]; !ok {
		t.Fatal("live data missing")
	}
}

func TestDeviceCategoryEndpoint(t *testing.T) {
	srv, svc := newTestServer(t, memory.NewStore())
	seedBatch(t, svc)
	router := srv.Router()

	body := getJSON(t, router, "/api/devices/flow-rate", http.StatusOK)
	if body["value"] != 120.0 {
		t.Fatalf("value = %v, want 120", body["value"])
	}
	if body["unit"] != "L/h" {
		t.Fatalf("unit = %v, want L/h", body["unit"])
	}
	devices, ok := body["devices"].(map[string]any)
	if !ok {
		t.Fatalf("missing devices: %v", body)
	}
	if devices["total"] != 3.0 {
		t.Fatalf("total = %v, want 3", devices["total"])
	}
	recent, ok := body["recentReadings"].([]any)
	if !ok || len(recent) == 0 {
		t.Fatalf("recentReadings missing or empty: %v", body["recentReadings"])
	}

	getJSON(t, router, "/api/devices/turbidity", http.StatusNotFound)
}

func TestHistoryEndpoint(t *testing.T) {
	srv, svc := newTestServer(t, memory.NewStore())
	seedBatch(t, svc)
	router := srv.Router()

	body := getJSON(t, router, "/api/history/orp", http.StatusOK)
	if body["count"] != 2.0 {
		t.Fatalf("count = %v, want the two probe readings", body["count"])
	}

	body = getJSON(t, router, "/api/history/orp?deviceId=ORP_01", http.StatusOK)
	if body["count"] != 1.0 {
		t.Fatalf("count = %v, want 1 for ORP_01", body["count"])
	}

	getJSON(t, router, "/api/history/orp?limit=0", http.StatusBadRequest)
	getJSON(t, router, "/api/history/orp?startTime=yesterday", http.StatusBadRequest)
	getJSON(t, router, "/api/history/turbidity", http.StatusNotFound)
}

func TestHistoryFailsClosed(t *testing.T) {
	srv, _ := newTestServer(t, failingSink{})
	getJSON(t, srv.Router(), "/api/history/ph", http.StatusInternalServerError)
	getJSON(t, srv.Router(), "/api/analytics/ph", http.StatusInternalServerError)
	getJSON(t, srv.Router(), "/api/devices/ph", http.StatusInternalServerError)
}

func TestAnalyticsEndpoint(t *testing.T) {
	srv, svc := newTestServer(t, memory.NewStore())
	seedBatch(t, svc)
	router := srv.Router()

	body := getJSON(t, router, "/api/analytics/orp", http.StatusOK)
	stats, ok := body["hourlyStats"].([]any)
	if !ok || len(stats) != 1 {
		t.Fatalf("hourlyStats = %v, want one bucket", body["hourlyStats"])
	}
	bucket := stats[0].(map[string]any)
	if bucket["avg_value"] != 450.0 {
		t.Fatalf("avg = %v, want 450", bucket["avg_value"])
	}
	if bucket["reading_count"] != 2.0 {
		t.Fatalf("count = %v, want 2", bucket["reading_count"])
	}

	getJSON(t, router, "/api/analytics/orp?startTime=not-a-time", http.StatusBadRequest)
	getJSON(t, router, "/api/analytics/orp?startTime=2026-03-01T12:00:00Z&endTime=2026-03-01T10:00:00Z", http.StatusBadRequest)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, memory.NewStore())
	body := getJSON(t, srv.Router(), "/api/health", http.StatusOK)
	if body["status"] != "ok" {
		t.Fatalf("status = %v", body["status"])
	}
	if body["mqttConnected"] != true {
		t.Fatalf("mqttConnected = %v, want true", body["mqttConnected"])
	}
	if body["connectedClients"] != 0.0 {
		t.Fatalf("connectedClients = %v, want 0", body["connectedClients"])
	}
}

func TestPublishEndpoint(t *testing.T) {
	pub := &stubPublisher{}
	srv, _ := newTestServer(t, memory.NewStore(), WithPublisher(pub))
	router := srv.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/mqtt/publish",
		strings.NewReader(`{"topic":"sensors/combined","message":{"batch":1,"devices":{}},"options":{"qos":1}}`))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("publish = %d: %s", resp.Code, resp.Body.String())
	}
	if len(pub.topics) != 1 || pub.topics[0] != "sensors/combined" {
		t.Fatalf("published topics = %v", pub.topics)
	}
	if string(pub.payloads[0]) != `{"batch":1,"devices":{}}` {
		t.Fatalf("published payload = %s", pub.payloads[0])
	}

	// String messages are unwrapped before they hit the wire.
	req = httptest.NewRequest(http.MethodPost, "/api/mqtt/publish",
		strings.NewReader(`{"topic":"sensors/ping","message":"hello"}`))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("string publish = %d: %s", resp.Code, resp.Body.String())
	}
	if string(pub.payloads[1]) != "hello" {
		t.Fatalf("string payload = %s", pub.payloads[1])
	}

	req = httptest.NewRequest(http.MethodPost, "/api/mqtt/publish", strings.NewReader(`{"message":{}}`))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("missing topic = %d, want 400", resp.Code)
	}
}

func TestPublishDisabled(t *testing.T) {
	srv, _ := newTestServer(t, memory.NewStore())
	req := httptest.NewRequest(http.MethodPost, "/api/mqtt/publish",
		strings.NewReader(`{"topic":"t","message":1}`))
	resp := httptest.NewRecorder()
	srv.Router().ServeHTTP(resp, req)
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("publish without publisher = %d, want 503", resp.Code)
	}
}

func TestPublishAuthEnforced(t *testing.T) {
	secret := []byte("test-secret")
	mw := auth.NewMiddleware(secret, auth.NewDefaultPolicy(nil, nil))
	srv, _ := newTestServer(t, memory.NewStore(), WithPublisher(&stubPublisher{}), WithAuth(mw))
	router := srv.Router()

	body := `{"topic":"sensors/combined","message":{}}`
	req := httptest.NewRequest(http.MethodPost, "/api/mqtt/publish", strings.NewReader(body))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous publish = %d, want 401", resp.Code)
	}

	claims := auth.Claims{
		Role: "operator",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "op-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatal(err)
	}
	req = httptest.NewRequest(http.MethodPost, "/api/mqtt/publish", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("operator publish = %d, want 202: %s", resp.Code, resp.Body.String())
	}

	// Reads stay open even with auth enabled.
	getJSON(t, router, "/api/devices", http.StatusOK)
}

func TestBrokerEndpointsDisabled(t *testing.T) {
	srv, _ := newTestServer(t, memory.NewStore())
	getJSON(t, srv.Router(), "/api/mqtt/stats", http.StatusServiceUnavailable)
	getJSON(t, srv.Router(), "/api/mqtt/clients", http.StatusServiceUnavailable)
}

func TestHistoryExportCSV(t *testing.T) {
	srv, svc := newTestServer(t, memory.NewStore())
	seedBatch(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/history/orp/export.csv", nil)
	resp := httptest.NewRecorder()
	srv.Router().ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("export = %d: %s", resp.Code, resp.Body.String())
	}
	if ct := resp.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("content type = %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(resp.Body.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("csv lines = %d, want header plus two readings", len(lines))
	}
	if !strings.HasPrefix(lines[0], "device_id,device_type,value") {
		t.Fatalf("csv header = %q", lines[0])
	}
}

func TestHistoryExportFormats(t *testing.T) {
	srv, svc := newTestServer(t, memory.NewStore())
	seedBatch(t, svc)
	router := srv.Router()

	for format, contentType := range map[string]string{
		"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"pdf":  "application/pdf",
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/history/ph/export."+format, nil)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("export %s = %d", format, resp.Code)
		}
		if ct := resp.Header().Get("Content-Type"); ct != contentType {
			t.Fatalf("export %s content type = %q", format, ct)
		}
		if resp.Body.Len() == 0 {
			t.Fatalf("export %s produced empty body", format)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/history/ph/export.docx", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("unknown format = %d, want 404", resp.Code)
	}
}
