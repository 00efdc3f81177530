package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandler_nilMetrics(t *testing.T) {
	var m *Metrics
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	m.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}

	// nil receivers are no-ops
	m.ObserveDatasetLoad("streets", "ok", time.Second)
	m.AddRendered("street", 3)
	m.IncStaleWrite()
	m.SessionOpened()
	m.SessionClosed()
}

func TestHandler_exposesRegisteredMetrics(t *testing.T) {
	m := New()
	m.ObserveHTTPRequest(http.MethodGet, "/health", http.StatusOK, 12*time.Millisecond)
	m.ObserveDatasetLoad("floodplains", "error", 30*time.Millisecond)
	m.AddRendered("street", 3)
	m.AddSkipped("street", 1)
	m.IncStaleWrite()
	m.SessionOpened()
	m.ObserveSessionReady(2 * time.Second)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	m.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	body := rr.Body.String()
	for _, want := range []string{
		`citymap_http_requests_total{method="GET",path="/health",status="200"} 1`,
		`citymap_dataset_loads_total{dataset="floodplains",outcome="error"} 1`,
		`citymap_features_rendered_total{layer="street"} 3`,
		`citymap_features_skipped_total{layer="street"} 1`,
		`citymap_stale_session_writes_total 1`,
		`citymap_active_sessions 1`,
		`citymap_session_ready_seconds_count 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in metrics body", want)
		}
	}
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	m := New()
	mux := http.NewServeMux()
	mux.HandleFunc("/brew", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := m.Middleware(mux)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/brew", nil))

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rr.Body.String(), `citymap_http_requests_total{method="GET",path="/brew",status="418"} 1`) {
		t.Fatalf("middleware did not record request; body=%s", rr.Body.String())
	}
}

func TestMiddlewareLabelsByPattern(t *testing.T) {
	m := New()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {})
	h := m.Middleware(mux)

	for _, path := range []string{"/api/v1/sessions/a-1", "/api/v1/sessions/b-2", "/nothing/here", "/or/here"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	for _, want := range []string{
		`citymap_http_requests_total{method="GET",path="/api/v1/sessions/{id}",status="200"} 2`,
		`citymap_http_requests_total{method="GET",path="unmatched",status="404"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %s\nbody=%s", want, body)
		}
	}
	if strings.Contains(body, "a-1") || strings.Contains(body, "/nothing/here") {
		t.Errorf("raw paths leaked into labels:\n%s", body)
	}
}
