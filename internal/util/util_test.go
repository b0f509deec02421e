package util

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 5, 0, func() error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry() = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryGivesUpAndWrapsLastError(t *testing.T) {
	calls := 0
	broken := errors.New("still broken")
	err := Retry(context.Background(), 3, 0, func() error {
		calls++
		return broken
	})

	if !errors.Is(err, broken) {
		t.Fatalf("Retry() = %v, want wrapped %v", err, broken)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryStopsWaitingOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Retry(ctx, 3, time.Hour, func() error {
		calls++
		return errors.New("flaky")
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Retry() = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 before the cancelled wait", calls)
	}
}

func TestNewLogger(t *testing.T) {
	log := NewLogger(LogOptions{Level: "debug"})
	if log == nil {
		t.Fatal("NewLogger returned nil")
	}
	if !log.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug level should be enabled")
	}
}
