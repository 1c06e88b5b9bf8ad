package events

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func TestNewEvent(t *testing.T) {
	event := NewEvent(EventAttemptSubmitted, map[string]interface{}{"attempt_id": uint(7)})

	if event.ID == "" {
		t.Error("expected a generated event id")
	}
	if event.Type != EventAttemptSubmitted {
		t.Errorf("expected type %s, got %s", EventAttemptSubmitted, event.Type)
	}
	if event.Source != "assessment-service" {
		t.Errorf("expected source assessment-service, got %s", event.Source)
	}
	if event.Version != "1.0" {
		t.Errorf("expected version 1.0, got %s", event.Version)
	}
	if event.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}

	other := NewEvent(EventAttemptSubmitted, nil)
	if other.ID == event.ID {
		t.Error("event ids must be unique")
	}
}

func TestMockEventPublisher(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	publisher := NewMockEventPublisher(logger)
	ctx := context.Background()

	if err := publisher.Publish(ctx, NewEvent(EventExamActivated, nil)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if err := publisher.Publish(ctx, NewEvent(EventAttemptStarted, nil)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	recorded := requireEventCount(t, publisher, 2)
	if recorded[0].Type != EventExamActivated || recorded[1].Type != EventAttemptStarted {
		t.Errorf("unexpected event order: %s, %s", recorded[0].Type, recorded[1].Type)
	}

	// The returned slice is a copy; mutating it does not touch the
	// recorded events.
	recorded[0].Type = "mutated"
	if got := publisher.GetPublishedEvents()[0].Type; got != EventExamActivated {
		t.Errorf("recorded events changed through the copy: %s", got)
	}

	publisher.ClearEvents()
	requireEventCount(t, publisher, 0)

	if err := publisher.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
}

func requireEventCount(t *testing.T, publisher *MockEventPublisher, want int) []Event {
	t.Helper()
	events := publisher.GetPublishedEvents()
	if len(events) != want {
		t.Fatalf("expected %d events, got %d", want, len(events))
	}
	return events
}
