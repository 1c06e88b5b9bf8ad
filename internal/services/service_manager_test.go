package services

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/schoolcore/assessment-service/internal/events"
	"github.com/schoolcore/assessment-service/internal/validator"
)

func newTestServiceManager(t *testing.T) ServiceManager {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	publisher := events.NewMockEventPublisher(logger)
	return NewDefaultServiceManager(nil, newMockRepository(), logger, validator.New(), publisher)
}

func TestServiceManager_Initialize(t *testing.T) {
	manager := newTestServiceManager(t)
	ctx := context.Background()

	if err := manager.Initialize(ctx); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	// A second initialize is a no-op.
	if err := manager.Initialize(ctx); err != nil {
		t.Fatalf("re-initialize failed: %v", err)
	}

	if manager.Exam() == nil {
		t.Error("expected exam service")
	}
	if manager.QuestionBank() == nil {
		t.Error("expected question bank service")
	}
	if manager.Run() == nil {
		t.Error("expected run service")
	}
	if manager.Attempt() == nil {
		t.Error("expected attempt service")
	}
	if manager.Grading() == nil {
		t.Error("expected grading service")
	}
	if manager.Student() == nil {
		t.Error("expected student service")
	}
	if manager.ImportExport() == nil {
		t.Error("expected import export service")
	}
}

func TestServiceManager_HealthCheck(t *testing.T) {
	manager := newTestServiceManager(t)
	ctx := context.Background()

	if err := manager.Initialize(ctx); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if err := manager.HealthCheck(ctx); err != nil {
		t.Errorf("health check failed: %v", err)
	}
}

func TestServiceManager_Shutdown(t *testing.T) {
	manager := newTestServiceManager(t)
	ctx := context.Background()

	if err := manager.Initialize(ctx); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if err := manager.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	// Shutdown twice must not fail.
	if err := manager.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown failed: %v", err)
	}
}

func TestServiceManager_UninitializedAccessPanics(t *testing.T) {
	manager := newTestServiceManager(t)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on uninitialized access")
		}
	}()
	manager.Attempt()
}
