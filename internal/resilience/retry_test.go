package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Strob0t/QuantForge/internal/domain"
)

func testPolicy() RetryPolicy {
	return RetryPolicy{
		MaxTries:        3,
		InitialInterval: time.Millisecond,
		Multiplier:      2.0,
		MaxInterval:     5 * time.Millisecond,
	}
}

func TestRetryTransientUntilSuccess(t *testing.T) {
	attempts := 0
	err := testPolicy().Retry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("%w: connection reset", domain.ErrTransient)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry = %v, want nil", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetryExhaustsTries(t *testing.T) {
	attempts := 0
	transient := fmt.Errorf("%w: 503", domain.ErrTransient)
	err := testPolicy().Retry(context.Background(), func() error {
		attempts++
		return transient
	})
	if !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("Retry = %v, want ErrTransient", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetryAbortsOnPermanentError(t *testing.T) {
	attempts := 0
	permanent := fmt.Errorf("%w: bad argument", domain.ErrValidation)
	err := testPolicy().Retry(context.Background(), func() error {
		attempts++
		return permanent
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Retry = %v, want ErrValidation", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (no retry of permanent errors)", attempts)
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := testPolicy().Retry(ctx, func() error {
		attempts++
		cancel()
		return fmt.Errorf("%w: timeout", domain.ErrTransient)
	})
	if err == nil {
		t.Fatal("Retry = nil, want error after cancellation")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{fmt.Errorf("%w: flaky", domain.ErrTransient), true},
		{domain.ErrValidation, false},
		{domain.ErrDependencyUnavailable, false},
		{domain.ErrNonIdempotent, false},
		{errors.New("plain"), false},
	}
	for _, tt := range tests {
		if got := Retryable(tt.err); got != tt.want {
			t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
