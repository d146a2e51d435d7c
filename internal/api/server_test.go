package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/jmuc-msm/onpass-socket/internal/access"
	"github.com/jmuc-msm/onpass-socket/internal/audit"
	"github.com/jmuc-msm/onpass-socket/internal/backend"
	"github.com/jmuc-msm/onpass-socket/internal/infrastructure/config"
	"github.com/jmuc-msm/onpass-socket/internal/infrastructure/logging"
)

// mockAccess stands in for access.Processor.
type mockAccess struct {
	mu        sync.Mutex
	submitted []access.ScanEvent
	submitErr error
	requests  []access.UserAccessRequest
	accessErr error
	inFlight  int

	// notice is delivered through notify on a successful user access.
	notice any
}

func (m *mockAccess) Submit(_ context.Context, ev access.ScanEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return m.submitErr
	}
	m.submitted = append(m.submitted, ev)
	return nil
}

func (m *mockAccess) HandleUserAccess(_ context.Context, req access.UserAccessRequest, notify access.Broadcaster) error {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	err, notice := m.accessErr, m.notice
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if notify != nil && notice != nil {
		notify.Broadcast("access_user-1_success", notice)
	}
	return nil
}

func (m *mockAccess) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

func (m *mockAccess) submittedEvents() []access.ScanEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]access.ScanEvent(nil), m.submitted...)
}

type mockAudit struct {
	filter audit.Filter
	result *audit.ListResult
	err    error
}

func (m *mockAudit) List(_ context.Context, f audit.Filter) (*audit.ListResult, error) {
	m.filter = f
	return m.result, m.err
}

type mockCheck struct{ err error }

func (m mockCheck) HealthCheck(context.Context) error { return m.err }

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

func testServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = testLogger()
	}
	if deps.Access == nil {
		deps.Access = &mockAccess{}
	}
	if deps.WS.MaxMessageSize == 0 {
		deps.WS = config.WebSocketConfig{Path: "/ws", MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}
	}
	deps.Version = "test"

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Access: &mockAccess{}}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without access service should fail")
	}
}

func TestNew_ExternalHub(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, testLogger())
	svc := &mockAccess{}
	srv := testServer(t, Deps{ExternalHub: hub, Access: svc})

	if srv.Hub() != hub {
		t.Error("server should use the external hub")
	}
	if hub.accessService() != svc {
		t.Error("hub should be wired to the access service")
	}
}

func TestHandleScanEvent(t *testing.T) {
	valid := `{"msgType":"on_uart_receive","msgArg":{"sData":"QR1","sEUI64":"EUI-1"}}`

	tests := []struct {
		name       string
		body       string
		submitErr  error
		wantStatus int
		wantBody   string
		wantEvents int
	}{
		{name: "accepted", body: valid, wantStatus: http.StatusAccepted, wantBody: `"accepted"`, wantEvents: 1},
		{name: "string wrapped", body: `"` + strings.ReplaceAll(valid, `"`, `\"`) + `"`, wantStatus: http.StatusAccepted, wantEvents: 1},
		{name: "other message type", body: `{"msgType":"on_boot","msgArg":{"sEUI64":"EUI-1"}}`, wantStatus: http.StatusOK, wantBody: `"ignored"`},
		{name: "malformed", body: `{nope`, wantStatus: http.StatusBadRequest, wantBody: ErrCodeBadRequest},
		{name: "missing device", body: `{"msgType":"on_uart_receive","msgArg":{"sData":"QR1"}}`, wantStatus: http.StatusBadRequest},
		{name: "device busy", body: valid, submitErr: access.ErrScanInProgress, wantStatus: http.StatusConflict, wantBody: ErrCodeConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAccess{submitErr: tt.submitErr}
			srv := testServer(t, Deps{Access: svc})

			rec := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/events", tt.body)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want it to contain %s", rec.Body.String(), tt.wantBody)
			}
			if got := len(svc.submittedEvents()); got != tt.wantEvents {
				t.Errorf("submitted = %d, want %d", got, tt.wantEvents)
			}
		})
	}
}

func TestHandleUserAccess(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		accessErr  error
		wantStatus int
	}{
		{name: "opened", body: `{"door_id":5,"qr_code":"QR1"}`, wantStatus: http.StatusOK},
		{name: "missing door", body: `{"qr_code":"QR1"}`, wantStatus: http.StatusBadRequest},
		{name: "backend refused", body: `{"door_id":5,"qr_code":"QR1"}`, accessErr: fmt.Errorf("%w: denied", backend.ErrAuthorization), wantStatus: http.StatusBadGateway},
		{name: "invalid after parse", body: `{"door_id":5,"qr_code":"QR1"}`, accessErr: access.ErrInvalidEvent, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAccess{accessErr: tt.accessErr}
			srv := testServer(t, Deps{Access: svc})

			rec := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/access", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestHandleListAccessEvents(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		srv := testServer(t, Deps{})
		rec := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/access/events", "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})

	t.Run("filters", func(t *testing.T) {
		store := &mockAudit{result: &audit.ListResult{Events: []audit.Event{{ID: "a", Outcome: "granted"}}, Total: 1, Limit: 10}}
		srv := testServer(t, Deps{Audit: store})

		rec := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/access/events?device_id=EUI-1&outcome=granted&limit=10&offset=20", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		want := audit.Filter{DeviceID: "EUI-1", Outcome: "granted", Limit: 10, Offset: 20}
		if store.filter != want {
			t.Errorf("filter = %+v, want %+v", store.filter, want)
		}
		var got audit.ListResult
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatal(err)
		}
		if got.Total != 1 || len(got.Events) != 1 || got.Events[0].ID != "a" {
			t.Errorf("result = %+v", got)
		}
	})

	t.Run("bad limit", func(t *testing.T) {
		srv := testServer(t, Deps{Audit: &mockAudit{}})
		rec := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/access/events?limit=ten", "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("store error", func(t *testing.T) {
		srv := testServer(t, Deps{Audit: &mockAudit{err: errors.New("disk gone")}})
		rec := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/access/events", "")
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", rec.Code)
		}
	})
}

func TestHandleHealth(t *testing.T) {
	srv := testServer(t, Deps{Checks: map[string]HealthChecker{
		"database": mockCheck{},
		"mqtt":     mockCheck{err: errors.New("not connected")},
	}})

	rec := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "degraded" || resp.Components["database"] != "ok" || resp.Components["mqtt"] != "not connected" {
		t.Errorf("health = %+v", resp)
	}

	healthy := testServer(t, Deps{})
	if rec := do(t, healthy.buildRouter(), http.MethodGet, "/api/v1/health", ""); rec.Code != http.StatusOK {
		t.Errorf("status without checks = %d, want 200", rec.Code)
	}
}

type mockBroker struct{ connected bool }

func (m mockBroker) IsConnected() bool { return m.connected }

func TestHandleMetrics(t *testing.T) {
	srv := testServer(t, Deps{Access: &mockAccess{inFlight: 2}, MQTT: mockBroker{connected: true}})

	rec := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var m SystemMetrics
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatal(err)
	}
	if m.Access.InFlight != 2 || m.MQTT == nil || !m.MQTT.Connected || m.Version != "test" {
		t.Errorf("metrics = %+v", m)
	}
	if m.Runtime.Goroutines == 0 {
		t.Error("goroutine count should be reported")
	}
}

func TestPrometheusEndpoint(t *testing.T) {
	srv := testServer(t, Deps{})
	h := srv.buildRouter()

	do(t, h, http.MethodGet, "/api/v1/health", "")
	rec := do(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "onpass_http_requests_total") {
		t.Error("exposition should include the HTTP request counter")
	}
}

func TestRateLimit(t *testing.T) {
	srv := testServer(t, Deps{Security: config.SecurityConfig{
		RateLimit: config.RateLimitConfig{Enabled: true, RequestsPerMinute: 60, Burst: 2},
	}})
	h := srv.buildRouter()

	for i := range 2 {
		if rec := do(t, h, http.MethodGet, "/api/v1/metrics", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, rec.Code)
		}
	}
	rec := do(t, h, http.MethodGet, "/api/v1/metrics", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}

	// Health stays reachable for probes.
	if rec := do(t, h, http.MethodGet, "/api/v1/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}
}

func TestIPRateLimiter(t *testing.T) {
	l := NewIPRateLimiter(60, 1)
	a := l.GetLimiter("10.0.0.1")
	if a != l.GetLimiter("10.0.0.1") {
		t.Error("same address should reuse its limiter")
	}
	l.GetLimiter("10.0.0.2")
	if l.Len() != 2 {
		t.Errorf("Len() = %d, want 2", l.Len())
	}
	if !a.Allow() || a.Allow() {
		t.Error("burst of 1 should allow exactly one immediate request")
	}
}

func TestCORS(t *testing.T) {
	srv := testServer(t, Deps{Config: config.APIConfig{CORS: config.CORSConfig{AllowedOrigins: []string{"https://panel.example"}}}})
	h := srv.buildRouter()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/events", nil)
	req.Header.Set("Origin", "https://panel.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") != "https://panel.example" {
		t.Errorf("allow origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unlisted origin should not be allowed")
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv := testServer(t, Deps{})
	h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := do(t, h, http.MethodGet, "/", "")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestServer_StartClose(t *testing.T) {
	srv := testServer(t, Deps{Config: config.APIConfig{Host: "127.0.0.1", Port: 0}})

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}
