package courses

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestContentReady_Idempotent(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	ev := ContentReadyEvent{CourseID: "go-101", AssetID: "asset-1", Kind: AssetVideo}
	course, dup, err := svc.ContentReady(ctx, ev)
	if err != nil || dup {
		t.Fatalf("first delivery: dup=%v err=%v", dup, err)
	}
	if !course.Publishable || len(course.Assets) != 1 {
		t.Fatalf("unexpected course: %+v", course)
	}

	// At-least-once delivery replays the same asset
	course, dup, err = svc.ContentReady(ctx, ev)
	if err != nil || !dup {
		t.Fatalf("redelivery: dup=%v err=%v", dup, err)
	}
	if len(course.Assets) != 1 {
		t.Fatalf("redelivery duplicated the asset: %d", len(course.Assets))
	}
}

func TestContentReady_PublishableOnVideoOnly(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	course, _, err := svc.ContentReady(ctx, ContentReadyEvent{
		CourseID: "go-101", AssetID: "cap-1", Kind: AssetCaption,
	})
	if err != nil {
		t.Fatalf("ContentReady failed: %v", err)
	}
	if course.Publishable {
		t.Fatal("captions alone must not make a course publishable")
	}

	course, _, _ = svc.ContentReady(ctx, ContentReadyEvent{
		CourseID: "go-101", AssetID: "vid-1", Kind: AssetVideo,
	})
	if !course.Publishable {
		t.Fatal("video asset should flip publishable")
	}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := NewService(NewMemoryStore())
	handler := NewHandler(svc, "whsec")

	r := gin.New()
	v1 := r.Group("/v1")
	handler.RegisterRoutes(v1)

	body, _ := json.Marshal(ContentReadyEvent{
		CourseID: "go-101", AssetID: "vid-1", Kind: AssetVideo, CourseTitle: "Go from scratch",
	})

	// Missing signature
	req := httptest.NewRequest("POST", "/v1/webhooks/content-ready", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401 without signature, got %d", w.Code)
	}

	// Valid signature
	req = httptest.NewRequest("POST", "/v1/webhooks/content-ready", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", sign("whsec", body))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Snapshot endpoint
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/courses/go-101", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp struct {
		Course Course `json:"course"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Course.Publishable || resp.Course.Title != "Go from scratch" {
		t.Fatalf("unexpected snapshot: %+v", resp.Course)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/courses/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", w.Code)
	}

	// Tampered body
	req = httptest.NewRequest("POST", "/v1/webhooks/content-ready", bytes.NewReader(append(body, ' ')))
	req.Header.Set("X-Webhook-Signature", sign("whsec", body))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401 for tampered body, got %d", w.Code)
	}
}
