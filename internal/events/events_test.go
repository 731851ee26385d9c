package events

import (
	"errors"
	"testing"
)

func TestParsePaymentReceived(t *testing.T) {
	raw := []byte(`{"type":"payment.received","data":{"courseId":"go-101","grossAmount":"1000000","idempotencyKey":"pay-1"}}`)
	ev, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	p, ok := ev.(*PaymentReceived)
	if !ok {
		t.Fatalf("expected *PaymentReceived, got %T", ev)
	}
	if p.Course != "go-101" || p.GrossAmount != "1000000" || p.IdempotencyKey != "pay-1" {
		t.Fatalf("unexpected payload: %+v", p)
	}
	if ev.Kind() != TypePaymentReceived {
		t.Fatalf("expected kind %s, got %s", TypePaymentReceived, ev.Kind())
	}
}

func TestParseWatchRecorded(t *testing.T) {
	raw := []byte(`{"type":"watch.recorded","data":{"courseId":"go-101","watcherRef":"learner-9","completionRatio":0.85}}`)
	ev, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	w := ev.(*WatchRecorded)
	if w.CompletionRatio != 0.85 {
		t.Fatalf("expected ratio 0.85, got %v", w.CompletionRatio)
	}
}

func TestParseRejectsUnknownType(t *testing.T) {
	raw := []byte(`{"type":"course.published","data":{"courseId":"go-101"}}`)
	_, err := Parse(raw)
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	raw := []byte(`{"type":"comment.recorded","data":{"courseId":"go-101","surprise":true}}`)
	_, err := Parse(raw)
	if !errors.Is(err, ErrBadPayload) {
		t.Fatalf("expected ErrBadPayload for unknown field, got %v", err)
	}
}

func TestParseRejectsMissingData(t *testing.T) {
	raw := []byte(`{"type":"comment.recorded"}`)
	_, err := Parse(raw)
	if !errors.Is(err, ErrBadPayload) {
		t.Fatalf("expected ErrBadPayload, got %v", err)
	}
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"float amount", `{"type":"payment.received","data":{"courseId":"go-101","grossAmount":"10.5","idempotencyKey":"k"}}`},
		{"missing idempotency key", `{"type":"payment.received","data":{"courseId":"go-101","grossAmount":"100"}}`},
		{"ratio above one", `{"type":"watch.recorded","data":{"courseId":"go-101","watcherRef":"w","completionRatio":1.5}}`},
		{"rating above range", `{"type":"rating.recorded","data":{"courseId":"go-101","valueX10":60}}`},
		{"rating below half star", `{"type":"rating.recorded","data":{"courseId":"go-101","valueX10":5}}`},
		{"zero rating", `{"type":"rating.recorded","data":{"courseId":"go-101","valueX10":0}}`},
		{"empty dispute reason", `{"type":"dispute.raised","data":{"courseId":"go-101","reason":""}}`},
		{"bad resolution action", `{"type":"resolution.requested","data":{"courseId":"go-101","action":"split"}}`},
		{"bad course id", `{"type":"comment.recorded","data":{"courseId":"-bad"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			if !errors.Is(err, ErrBadPayload) {
				t.Fatalf("expected ErrBadPayload, got %v", err)
			}
		})
	}
}

func TestParseResolutionRequested(t *testing.T) {
	for _, action := range []string{"release", "refund"} {
		raw := []byte(`{"type":"resolution.requested","data":{"courseId":"go-101","action":"` + action + `"}}`)
		ev, err := Parse(raw)
		if err != nil {
			t.Fatalf("Parse(%s): %v", action, err)
		}
		if ev.(*ResolutionRequested).Action != action {
			t.Fatalf("action mismatch")
		}
	}
}
