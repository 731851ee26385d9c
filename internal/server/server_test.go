package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nmwade/edupay/internal/config"
	"github.com/nmwade/edupay/internal/escrow"
	"github.com/nmwade/edupay/internal/reconciler"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing; no PRIVATE_KEY means
// the manual reconciler, no DATABASE_URL means in-memory storage.
func testConfig() *config.Config {
	return &config.Config{
		Port:                "0",
		Env:                 "development",
		LogLevel:            "error",
		Release30Bps:        3000,
		Release40Bps:        4000,
		WatchThreshold:      0.8,
		DisputeWindow:       72 * time.Hour,
		ConfirmPollInterval: time.Second,
		ConfirmReportAfter:  time.Minute,
		AdminSecret:         "test-admin",
		RateLimitRPM:        10000,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig(), WithReconciler(reconciler.NewManual()))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("Expected healthy, got %v", resp["status"])
	}

	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest("GET", "/health/live", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 from liveness, got %d", w.Code)
	}

	// Readiness flips only after Run
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest("GET", "/health/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 before Run, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("edupay_")) {
		t.Error("Expected edupay metrics in output")
	}
}

// End-to-end over the wired router: create, pay, engage, resolve.
func TestFullSettlementOverHTTP(t *testing.T) {
	s := newTestServer(t)

	post := func(path string, body any, headers map[string]string) *httptest.ResponseRecorder {
		t.Helper()
		data, _ := json.Marshal(body)
		req := httptest.NewRequest("POST", path, bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		return w
	}

	oracle := "0x2222222222222222222222222222222222222222"
	w := post("/v1/escrow", escrow.CreateRequest{
		CourseID:  "go-101",
		PayoutKey: "0x1111111111111111111111111111111111111111",
		OracleKey: oracle,
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = post("/v1/escrow/add-payment", escrow.AddPaymentRequest{
		CourseID:       "go-101",
		GrossAmount:    "1000000",
		IdempotencyKey: "evt-1",
		WatchMet:       true,
		RatingX10:      45,
		Commented:      true,
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("payment: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var result escrow.PaymentResult
	json.Unmarshal(w.Body.Bytes(), &result)
	if result.PaidOut != "400000" {
		t.Fatalf("expected both partial milestones released, got %+v", result)
	}

	// Resolve requires a caller; anonymous is rejected by middleware
	w = post("/v1/escrow/go-101/resolve", escrow.ResolveRequest{Action: "release"}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without caller, got %d", w.Code)
	}

	// Window has not elapsed; the admin override path drains the escrow
	w = post("/v1/escrow/go-101/resolve", escrow.ResolveRequest{Action: "release", Override: true},
		map[string]string{"X-Admin-Secret": "test-admin"})
	if w.Code != http.StatusOK {
		t.Fatalf("resolve: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resolved struct {
		Status  escrow.Status `json:"status"`
		PaidOut string        `json:"paidOut"`
	}
	json.Unmarshal(w.Body.Bytes(), &resolved)
	if resolved.Status != escrow.StatusReleased || resolved.PaidOut != "1000000" {
		t.Fatalf("unexpected resolution: %+v", resolved)
	}
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff header")
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing request ID header")
	}
}
