package escrow

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nmwade/edupay/internal/auth"
	"github.com/nmwade/edupay/internal/events"
	"github.com/nmwade/edupay/internal/validation"
)

// Handler provides HTTP endpoints for escrow operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public escrow routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/escrow", h.CreateEscrow)
	r.POST("/escrow/add-payment", h.AddPayment)
	r.GET("/escrow/:courseId", h.GetEscrow)
	r.GET("/escrow/:courseId/submissions", h.ListSubmissions)
	r.POST("/escrow/:courseId/dispute", h.OpenDispute)
	r.POST("/escrow/:courseId/engagement", h.RecordEngagement)
}

// RegisterProtectedRoutes sets up routes requiring a verified caller.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/escrow/:courseId/resolve", h.ResolveEscrow)
}

// writeError maps service errors onto the HTTP surface.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrInvalidAmount):
		status = http.StatusBadRequest
		code = "invalid_amount"
	case errors.Is(err, ErrAlreadyExists):
		status = http.StatusConflict
		code = "already_exists"
	case errors.Is(err, ErrAlreadyResolved):
		status = http.StatusConflict
		code = "already_resolved"
	case errors.Is(err, ErrResolutionConflict):
		status = http.StatusConflict
		code = "resolution_conflict"
	case errors.Is(err, ErrWindowClosed):
		status = http.StatusConflict
		code = "window_closed"
	case errors.Is(err, ErrAlreadyDisputed):
		status = http.StatusConflict
		code = "already_disputed"
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusUnauthorized
		code = "unauthorized"
	case errors.Is(err, ErrUpstreamUnavailable):
		status = http.StatusServiceUnavailable
		code = "upstream_unavailable"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

// CreateEscrow handles POST /v1/escrow
func (h *Handler) CreateEscrow(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidCourseID("course_id", req.CourseID),
		validation.ValidKey("payout_key", req.PayoutKey),
		validation.ValidKey("oracle_key", req.OracleKey),
		validation.ValidAmount("initial_amount", req.InitialAmount),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	escrow, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"escrow": escrow})
}

// AddPayment handles POST /v1/escrow/add-payment
func (h *Handler) AddPayment(c *gin.Context) {
	var req AddPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "courseId, grossAmount, and idempotencyKey are required",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidCourseID("course_id", req.CourseID),
		validation.ValidAmount("gross_amount", req.GrossAmount),
		validation.Required("idempotency_key", req.IdempotencyKey),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	result, err := h.service.AddPayment(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetEscrow handles GET /v1/escrow/:courseId
func (h *Handler) GetEscrow(c *gin.Context) {
	escrow, err := h.service.Get(c.Request.Context(), c.Param("courseId"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": escrow})
}

// ListSubmissions handles GET /v1/escrow/:courseId/submissions
func (h *Handler) ListSubmissions(c *gin.Context) {
	subs, err := h.service.ListSubmissions(c.Request.Context(), c.Param("courseId"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"submissions": subs,
		"count":       len(subs),
	})
}

// OpenDispute handles POST /v1/escrow/:courseId/dispute
func (h *Handler) OpenDispute(c *gin.Context) {
	var req DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Reason is required",
		})
		return
	}

	// Admins may open a dispute past the window (grace override)
	escrow, err := h.service.OpenDispute(c.Request.Context(), c.Param("courseId"), req.Reason, auth.IsAdmin(c))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": escrow})
}

// ResolveEscrow handles POST /v1/escrow/:courseId/resolve
func (h *Handler) ResolveEscrow(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil || (req.Action != "release" && req.Action != "refund") {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "action is required (release or refund)",
		})
		return
	}

	authority := Authority{Key: auth.CallerKey(c), Admin: auth.IsAdmin(c)}
	escrow, err := h.service.Resolve(c.Request.Context(), c.Param("courseId"), req, authority)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        escrow.Status,
		"releasedFinal": escrow.ReleasedFinal,
		"paidOut":       escrow.PaidOut,
		"escrow":        escrow,
	})
}

// RecordEngagement handles POST /v1/escrow/:courseId/engagement.
// The body is a tagged event envelope; only engagement variants are
// accepted here.
func (h *Handler) RecordEngagement(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "unreadable body",
		})
		return
	}

	ev, err := events.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_event",
			"message": err.Error(),
		})
		return
	}
	if ev.CourseID() != c.Param("courseId") {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_event",
			"message": "event courseId does not match the URL",
		})
		return
	}

	ctx := c.Request.Context()
	var escrow *Escrow
	switch e := ev.(type) {
	case *events.WatchRecorded:
		escrow, err = h.service.RecordWatch(ctx, e.Course, e.WatcherRef, e.CompletionRatio, e.At)
	case *events.RatingRecorded:
		escrow, err = h.service.RecordRating(ctx, e.Course, e.ValueX10)
	case *events.CommentRecorded:
		escrow, err = h.service.RecordComment(ctx, e.Course)
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_event",
			"message": "only engagement events are accepted on this endpoint",
		})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": escrow})
}
