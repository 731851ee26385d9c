package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

func TestWants_AllEvents(t *testing.T) {
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: "payment.accepted", CourseID: "go-101", Timestamp: time.Now()}
	if !client.wants(event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestWants_EventTypeFilter(t *testing.T) {
	client := &Client{sub: Subscription{
		EventTypes: []string{"milestone.released", "escrow.resolved"},
	}}

	if !client.wants(&Event{Type: "milestone.released"}) {
		t.Error("Should receive milestone events")
	}
	if !client.wants(&Event{Type: "escrow.resolved"}) {
		t.Error("Should receive resolution events")
	}
	if client.wants(&Event{Type: "payment.accepted"}) {
		t.Error("Should NOT receive payment events")
	}
}

func TestWants_CourseFilter(t *testing.T) {
	client := &Client{sub: Subscription{
		AllEvents: true,
		CourseIDs: []string{"go-101"},
	}}

	if !client.wants(&Event{Type: "payment.accepted", CourseID: "go-101"}) {
		t.Error("Should match subscribed course")
	}
	if client.wants(&Event{Type: "payment.accepted", CourseID: "rust-201"}) {
		t.Error("Should NOT match other courses")
	}
}

func TestWants_EmptySubscription(t *testing.T) {
	client := &Client{}
	if client.wants(&Event{Type: "payment.accepted"}) {
		t.Error("Zero-value subscription should receive nothing")
	}
}

func TestHub_RegisterBroadcastUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 4),
		sub:  Subscription{AllEvents: true},
	}
	h.register <- client

	h.Publish("milestone.released", "go-101", map[string]any{"milestone": "release30"})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Fatal("empty broadcast payload")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast never delivered")
	}

	h.unregister <- client
	select {
	case _, ok := <-client.send:
		if ok {
			t.Fatal("expected send channel closed after unregister")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send channel not closed")
	}
}

func TestHub_SlowClientDropped(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	// No buffer and no reader: the broadcast cannot be queued
	client := &Client{
		hub:  h,
		send: make(chan []byte),
		sub:  Subscription{AllEvents: true},
	}
	h.register <- client

	h.Publish("payment.accepted", "go-101", nil)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if n := h.Stats()["connectedClients"].(int); n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("slow client never dropped")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
