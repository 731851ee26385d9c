package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nmwade/edupay/internal/auth"
	"github.com/nmwade/edupay/internal/reconciler"
)

func setupTestRouter() (*gin.Engine, *Service, *mockReconciler, *fakeClock) {
	gin.SetMode(gin.TestMode)

	svc, _, rec, clock := newTestService()
	handler := NewHandler(svc)

	r := gin.New()
	// Test stand-ins for the auth middleware context keys
	r.Use(func(c *gin.Context) {
		if key := c.GetHeader("X-Caller-Key"); key != "" {
			c.Set(auth.ContextKeyCallerKey, key)
		}
		if c.GetHeader("X-Admin-Secret") == "test-admin" {
			c.Set(auth.ContextKeyIsAdmin, true)
		}
		c.Next()
	})
	v1 := r.Group("/v1")
	handler.RegisterRoutes(v1)
	handler.RegisterProtectedRoutes(v1)

	return r, svc, rec, clock
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandler_CreateAndGetEscrow(t *testing.T) {
	router, _, _, _ := setupTestRouter()

	w := doJSON(t, router, "POST", "/v1/escrow", CreateRequest{
		CourseID:  "go-101",
		PayoutKey: payoutKey,
		OracleKey: oracleKey,
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var createResp struct {
		Escrow struct {
			CourseID string `json:"courseId"`
			Status   Status `json:"status"`
			NetTotal string `json:"netTotal"`
		} `json:"escrow"`
	}
	json.Unmarshal(w.Body.Bytes(), &createResp)
	if createResp.Escrow.Status != StatusPending {
		t.Errorf("Expected PENDING, got %s", createResp.Escrow.Status)
	}
	if createResp.Escrow.NetTotal != "0" {
		t.Errorf("Expected netTotal 0, got %s", createResp.Escrow.NetTotal)
	}

	// Duplicate create conflicts
	w = doJSON(t, router, "POST", "/v1/escrow", CreateRequest{
		CourseID:  "go-101",
		PayoutKey: payoutKey,
		OracleKey: oracleKey,
	}, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409 on duplicate create, got %d", w.Code)
	}

	w = doJSON(t, router, "GET", "/v1/escrow/go-101", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	w = doJSON(t, router, "GET", "/v1/escrow/missing", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", w.Code)
	}
}

func TestHandler_CreateValidation(t *testing.T) {
	router, _, _, _ := setupTestRouter()

	cases := []struct {
		name string
		req  CreateRequest
	}{
		{"bad course id", CreateRequest{CourseID: "-bad!", PayoutKey: payoutKey, OracleKey: oracleKey}},
		{"bad payout key", CreateRequest{CourseID: "go-101", PayoutKey: "not-a-key", OracleKey: oracleKey}},
		{"bad initial amount", CreateRequest{CourseID: "go-101", PayoutKey: payoutKey, OracleKey: oracleKey, InitialAmount: "12.5"}},
	}
	for _, tc := range cases {
		w := doJSON(t, router, "POST", "/v1/escrow", tc.req, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d: %s", tc.name, w.Code, w.Body.String())
		}
	}
}

func TestHandler_AddPayment(t *testing.T) {
	router, _, _, _ := setupTestRouter()
	doJSON(t, router, "POST", "/v1/escrow", CreateRequest{
		CourseID: "go-101", PayoutKey: payoutKey, OracleKey: oracleKey,
	}, nil)

	payment := AddPaymentRequest{
		CourseID:       "go-101",
		GrossAmount:    "1000000",
		IdempotencyKey: "evt-1",
		WatchMet:       true,
	}
	w := doJSON(t, router, "POST", "/v1/escrow/add-payment", payment, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var result PaymentResult
	json.Unmarshal(w.Body.Bytes(), &result)
	if !result.Accepted || result.PaidOut != "300000" {
		t.Fatalf("unexpected result: %+v", result)
	}

	// Replay is a 200 with the duplicate flag
	w = doJSON(t, router, "POST", "/v1/escrow/add-payment", payment, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 on replay, got %d", w.Code)
	}
	json.Unmarshal(w.Body.Bytes(), &result)
	if !result.Duplicate {
		t.Fatal("expected duplicate flag on replay")
	}

	// Missing idempotency key
	w = doJSON(t, router, "POST", "/v1/escrow/add-payment", AddPaymentRequest{
		CourseID: "go-101", GrossAmount: "100",
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}

	// Unknown course
	w = doJSON(t, router, "POST", "/v1/escrow/add-payment", AddPaymentRequest{
		CourseID: "missing", GrossAmount: "100", IdempotencyKey: "evt-2",
	}, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", w.Code)
	}
}

func TestHandler_Engagement(t *testing.T) {
	router, svc, _, _ := setupTestRouter()
	doJSON(t, router, "POST", "/v1/escrow", CreateRequest{
		CourseID: "go-101", PayoutKey: payoutKey, OracleKey: oracleKey,
	}, nil)

	body := map[string]any{
		"type": "watch.recorded",
		"data": map[string]any{
			"courseId":        "go-101",
			"watcherRef":      "learner-1",
			"completionRatio": 0.95,
		},
	}
	w := doJSON(t, router, "POST", "/v1/escrow/go-101/engagement", body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	e, _ := svc.Get(context.Background(), "go-101")
	if !e.AllWatchMet {
		t.Fatal("watch event did not apply")
	}

	// Course mismatch between URL and payload
	w = doJSON(t, router, "POST", "/v1/escrow/other/engagement", body, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 on mismatch, got %d", w.Code)
	}

	// Non-engagement events are rejected here
	w = doJSON(t, router, "POST", "/v1/escrow/go-101/engagement", map[string]any{
		"type": "dispute.raised",
		"data": map[string]any{"courseId": "go-101", "reason": "x"},
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for non-engagement event, got %d", w.Code)
	}

	// Unknown event type
	w = doJSON(t, router, "POST", "/v1/escrow/go-101/engagement", map[string]any{
		"type": "nonsense",
		"data": map[string]any{"courseId": "go-101"},
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for unknown type, got %d", w.Code)
	}
}

func TestHandler_DisputeAndResolve(t *testing.T) {
	router, _, _, clock := setupTestRouter()
	doJSON(t, router, "POST", "/v1/escrow", CreateRequest{
		CourseID: "go-101", PayoutKey: payoutKey, OracleKey: oracleKey,
	}, nil)
	doJSON(t, router, "POST", "/v1/escrow/add-payment", AddPaymentRequest{
		CourseID: "go-101", GrossAmount: "1000000", IdempotencyKey: "evt-1", WatchMet: true,
	}, nil)

	// Missing reason
	w := doJSON(t, router, "POST", "/v1/escrow/go-101/dispute", map[string]any{}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}

	w = doJSON(t, router, "POST", "/v1/escrow/go-101/dispute", DisputeRequest{Reason: "content missing"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, router, "POST", "/v1/escrow/go-101/dispute", DisputeRequest{Reason: "again"}, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409 on second dispute, got %d", w.Code)
	}

	// Release is blocked while disputed
	clock.Advance(80 * time.Hour)
	w = doJSON(t, router, "POST", "/v1/escrow/go-101/resolve", ResolveRequest{Action: "release"},
		map[string]string{"X-Caller-Key": oracleKey})
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409 while disputed, got %d: %s", w.Code, w.Body.String())
	}

	// Wrong caller cannot resolve
	w = doJSON(t, router, "POST", "/v1/escrow/go-101/resolve", ResolveRequest{Action: "refund"},
		map[string]string{"X-Caller-Key": "0x9999999999999999999999999999999999999999"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401, got %d", w.Code)
	}

	// Bad action
	w = doJSON(t, router, "POST", "/v1/escrow/go-101/resolve", ResolveRequest{Action: "split"},
		map[string]string{"X-Caller-Key": oracleKey})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for bad action, got %d", w.Code)
	}

	w = doJSON(t, router, "POST", "/v1/escrow/go-101/resolve", ResolveRequest{Action: "refund"},
		map[string]string{"X-Caller-Key": oracleKey})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Status        Status `json:"status"`
		ReleasedFinal bool   `json:"releasedFinal"`
		PaidOut       string `json:"paidOut"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != StatusRefunded || resp.ReleasedFinal {
		t.Fatalf("unexpected resolve response: %+v", resp)
	}
}

func TestHandler_UpstreamOutage(t *testing.T) {
	router, _, rec, clock := setupTestRouter()
	doJSON(t, router, "POST", "/v1/escrow", CreateRequest{
		CourseID: "go-101", PayoutKey: payoutKey, OracleKey: oracleKey,
	}, nil)
	doJSON(t, router, "POST", "/v1/escrow/add-payment", AddPaymentRequest{
		CourseID: "go-101", GrossAmount: "1000000", IdempotencyKey: "evt-1", WatchMet: true,
	}, nil)
	doJSON(t, router, "POST", "/v1/escrow/go-101/engagement", map[string]any{
		"type": "comment.recorded",
		"data": map[string]any{"courseId": "go-101"},
	}, nil)
	clock.Advance(80 * time.Hour)

	rec.submitErr = reconciler.ErrUnavailable
	w := doJSON(t, router, "POST", "/v1/escrow/go-101/resolve", ResolveRequest{Action: "release"},
		map[string]string{"X-Caller-Key": oracleKey})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d: %s", w.Code, w.Body.String())
	}

	rec.submitErr = nil
	w = doJSON(t, router, "POST", "/v1/escrow/go-101/resolve", ResolveRequest{Action: "release"},
		map[string]string{"X-Caller-Key": oracleKey})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 after retry, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_ListSubmissions(t *testing.T) {
	router, _, _, _ := setupTestRouter()
	doJSON(t, router, "POST", "/v1/escrow", CreateRequest{
		CourseID: "go-101", PayoutKey: payoutKey, OracleKey: oracleKey,
	}, nil)
	doJSON(t, router, "POST", "/v1/escrow/add-payment", AddPaymentRequest{
		CourseID: "go-101", GrossAmount: "1000000", IdempotencyKey: "evt-1", WatchMet: true,
	}, nil)

	w := doJSON(t, router, "GET", "/v1/escrow/go-101/submissions", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp struct {
		Count       int `json:"count"`
		Submissions []struct {
			Milestone Milestone       `json:"milestone"`
			State     SubmissionState `json:"state"`
		} `json:"submissions"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 1 || resp.Submissions[0].State != SubmissionConfirmed {
		t.Fatalf("unexpected submissions: %+v", resp)
	}
}
