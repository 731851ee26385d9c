package courses

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nmwade/edupay/internal/logging"
)

// Handler provides the content-ready webhook and the course snapshot
// endpoint.
type Handler struct {
	service       *Service
	webhookSecret []byte
}

// NewHandler creates a course handler. An empty secret disables
// signature verification (development mode).
func NewHandler(service *Service, webhookSecret string) *Handler {
	h := &Handler{service: service}
	if webhookSecret != "" {
		h.webhookSecret = []byte(webhookSecret)
	}
	return h
}

// RegisterRoutes sets up course routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/content-ready", h.ContentReady)
	r.GET("/courses/:courseId", h.GetCourse)
}

// verify checks the X-Webhook-Signature header, hex HMAC-SHA256 of the
// raw body.
func (h *Handler) verify(body []byte, signature string) bool {
	if h.webhookSecret == nil {
		return true
	}
	mac := hmac.New(sha256.New, h.webhookSecret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ContentReady handles POST /v1/webhooks/content-ready
func (h *Handler) ContentReady(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "unreadable body",
		})
		return
	}

	if !h.verify(body, c.GetHeader("X-Webhook-Signature")) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "invalid_signature",
			"message": "webhook signature verification failed",
		})
		return
	}

	var ev ContentReadyEvent
	if err := json.Unmarshal(body, &ev); err != nil || ev.CourseID == "" || ev.AssetID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "courseId and assetId are required",
		})
		return
	}

	course, duplicate, err := h.service.ContentReady(c.Request.Context(), ev)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	if !duplicate {
		logging.L(c.Request.Context()).Info("content asset ready",
			"courseId", ev.CourseID, "assetId", ev.AssetID, "publishable", course.Publishable)
	}
	c.JSON(http.StatusOK, gin.H{
		"course":    course,
		"duplicate": duplicate,
	})
}

// GetCourse handles GET /v1/courses/:courseId
func (h *Handler) GetCourse(c *gin.Context) {
	course, err := h.service.Get(c.Request.Context(), c.Param("courseId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "course not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"course": course})
}
