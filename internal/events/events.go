// Package events defines the closed set of engagement and settlement
// events the escrow engine accepts and emits.
//
// External webhooks deliver loosely-typed JSON bags. Everything crossing
// into the engine is parsed here into one of the tagged variants below;
// payloads that do not match a known shape are rejected at the boundary
// rather than passed through.
package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nmwade/edupay/internal/validation"
)

// Type tags an event variant
type Type string

const (
	TypePaymentReceived     Type = "payment.received"
	TypeWatchRecorded       Type = "watch.recorded"
	TypeRatingRecorded      Type = "rating.recorded"
	TypeCommentRecorded     Type = "comment.recorded"
	TypeDisputeRaised       Type = "dispute.raised"
	TypeResolutionRequested Type = "resolution.requested"
)

var (
	ErrUnknownType = errors.New("unknown event type")
	ErrBadPayload  = errors.New("malformed event payload")
)

// Event is implemented by every variant
type Event interface {
	Kind() Type
	CourseID() string
	// Validate checks the variant's fields; parse rejects events that fail it
	Validate() error
}

// PaymentReceived is a gross payment into a course escrow
type PaymentReceived struct {
	Course         string `json:"courseId"`
	GrossAmount    string `json:"grossAmount"`
	IdempotencyKey string `json:"idempotencyKey"`
}

func (e PaymentReceived) Kind() Type       { return TypePaymentReceived }
func (e PaymentReceived) CourseID() string { return e.Course }

func (e PaymentReceived) Validate() error {
	if !validation.IsValidCourseID(e.Course) {
		return fmt.Errorf("%w: invalid courseId", ErrBadPayload)
	}
	if !validation.IsValidAmount(e.GrossAmount) {
		return fmt.Errorf("%w: grossAmount must be a base-unit integer string", ErrBadPayload)
	}
	if e.IdempotencyKey == "" {
		return fmt.Errorf("%w: idempotencyKey is required", ErrBadPayload)
	}
	return nil
}

// WatchRecorded is a learner's watch-completion report
type WatchRecorded struct {
	Course          string     `json:"courseId"`
	WatcherRef      string     `json:"watcherRef"`
	CompletionRatio float64    `json:"completionRatio"`
	At              *time.Time `json:"at,omitempty"`
}

func (e WatchRecorded) Kind() Type       { return TypeWatchRecorded }
func (e WatchRecorded) CourseID() string { return e.Course }

func (e WatchRecorded) Validate() error {
	if !validation.IsValidCourseID(e.Course) {
		return fmt.Errorf("%w: invalid courseId", ErrBadPayload)
	}
	if e.WatcherRef == "" {
		return fmt.Errorf("%w: watcherRef is required", ErrBadPayload)
	}
	if e.CompletionRatio < 0 || e.CompletionRatio > 1 {
		return fmt.Errorf("%w: completionRatio must be in [0,1]", ErrBadPayload)
	}
	return nil
}

// RatingRecorded is a learner rating, fixed-point x10 (e.g. 45 = 4.5 stars)
type RatingRecorded struct {
	Course    string `json:"courseId"`
	ValueX10  int    `json:"valueX10"`
	LearnerID string `json:"learnerId,omitempty"`
}

func (e RatingRecorded) Kind() Type       { return TypeRatingRecorded }
func (e RatingRecorded) CourseID() string { return e.Course }

func (e RatingRecorded) Validate() error {
	if !validation.IsValidCourseID(e.Course) {
		return fmt.Errorf("%w: invalid courseId", ErrBadPayload)
	}
	if e.ValueX10 < 10 || e.ValueX10 > 50 {
		return fmt.Errorf("%w: valueX10 must be in [10,50]", ErrBadPayload)
	}
	return nil
}

// CommentRecorded is a learner comment on the course
type CommentRecorded struct {
	Course    string `json:"courseId"`
	LearnerID string `json:"learnerId,omitempty"`
}

func (e CommentRecorded) Kind() Type       { return TypeCommentRecorded }
func (e CommentRecorded) CourseID() string { return e.Course }

func (e CommentRecorded) Validate() error {
	if !validation.IsValidCourseID(e.Course) {
		return fmt.Errorf("%w: invalid courseId", ErrBadPayload)
	}
	return nil
}

// DisputeRaised contests release before the window closes
type DisputeRaised struct {
	Course string `json:"courseId"`
	Reason string `json:"reason"`
}

func (e DisputeRaised) Kind() Type       { return TypeDisputeRaised }
func (e DisputeRaised) CourseID() string { return e.Course }

func (e DisputeRaised) Validate() error {
	if !validation.IsValidCourseID(e.Course) {
		return fmt.Errorf("%w: invalid courseId", ErrBadPayload)
	}
	if e.Reason == "" {
		return fmt.Errorf("%w: reason is required", ErrBadPayload)
	}
	return nil
}

// ResolutionRequested asks for terminal settlement of the escrow
type ResolutionRequested struct {
	Course string `json:"courseId"`
	Action string `json:"action"` // "release" or "refund"
}

func (e ResolutionRequested) Kind() Type       { return TypeResolutionRequested }
func (e ResolutionRequested) CourseID() string { return e.Course }

func (e ResolutionRequested) Validate() error {
	if !validation.IsValidCourseID(e.Course) {
		return fmt.Errorf("%w: invalid courseId", ErrBadPayload)
	}
	if e.Action != "release" && e.Action != "refund" {
		return fmt.Errorf("%w: action must be release or refund", ErrBadPayload)
	}
	return nil
}

// envelope is the wire shape: a type tag plus the variant's fields inline
type envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Parse decodes a raw webhook payload into its tagged variant.
// Unknown types return ErrUnknownType; shape or field violations
// return ErrBadPayload. Nothing partial ever comes back.
func Parse(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: missing data", ErrBadPayload)
	}

	var ev Event
	switch env.Type {
	case TypePaymentReceived:
		ev = &PaymentReceived{}
	case TypeWatchRecorded:
		ev = &WatchRecorded{}
	case TypeRatingRecorded:
		ev = &RatingRecorded{}
	case TypeCommentRecorded:
		ev = &CommentRecorded{}
	case TypeDisputeRaised:
		ev = &DisputeRaised{}
	case TypeResolutionRequested:
		ev = &ResolutionRequested{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	dec := json.NewDecoder(bytes.NewReader(env.Data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}
