package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "kiln/pkg/resilience"
)

func failing(ctx context.Context) error { return errors.New("backend error") }
func succeeding(ctx context.Context) error { return nil }

func TestBreaker_InitialState(t *testing.T) {
	b := NewBreaker("test", DefaultBreakerConfig())

	if b.State() != BreakerClosed {
		t.Errorf("expected initial state to be Closed, got %v", b.State())
	}
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	config := BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Cooldown:         100 * time.Millisecond,
		MaxProbes:        1,
	}
	b := NewBreaker("test", config)

	for i := 0; i < 3; i++ {
		_ = b.Do(context.Background(), failing)
	}

	if b.State() != BreakerOpen {
		t.Errorf("expected state to be Open after %d failures, got %v", config.FailureThreshold, b.State())
	}
}

func TestBreaker_RejectsWhenOpen(t *testing.T) {
	config := BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Cooldown:         1 * time.Second,
		MaxProbes:        1,
	}
	b := NewBreaker("test", config)

	_ = b.Do(context.Background(), failing)

	err := b.Do(context.Background(), succeeding)
	if err != ErrBreakerOpen {
		t.Errorf("expected ErrBreakerOpen, got %v", err)
	}
}

func TestBreaker_TransitionsToHalfOpen(t *testing.T) {
	config := BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Cooldown:         50 * time.Millisecond,
		MaxProbes:        1,
	}
	b := NewBreaker("test", config)

	_ = b.Do(context.Background(), failing)

	time.Sleep(60 * time.Millisecond)

	if b.State() != BreakerHalfOpen {
		t.Errorf("expected state to be HalfOpen after cooldown, got %v", b.State())
	}
}

func TestBreaker_ClosesAfterProbeSuccesses(t *testing.T) {
	config := BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Cooldown:         50 * time.Millisecond,
		MaxProbes:        3,
	}
	b := NewBreaker("test", config)

	_ = b.Do(context.Background(), failing)
	time.Sleep(60 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := b.Do(context.Background(), succeeding); err != nil {
			t.Fatalf("probe %d rejected: %v", i, err)
		}
	}

	if b.State() != BreakerClosed {
		t.Errorf("expected state to be Closed after probe successes, got %v", b.State())
	}
}

func TestBreaker_ReopensOnProbeFailure(t *testing.T) {
	config := BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Cooldown:         50 * time.Millisecond,
		MaxProbes:        1,
	}
	b := NewBreaker("test", config)

	_ = b.Do(context.Background(), failing)
	time.Sleep(60 * time.Millisecond)

	_ = b.Do(context.Background(), failing)

	if b.State() != BreakerOpen {
		t.Errorf("expected state to be Open after a probe failure, got %v", b.State())
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	config := BreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Cooldown:         1 * time.Second,
		MaxProbes:        1,
	}
	b := NewBreaker("test", config)

	_ = b.Do(context.Background(), failing)
	_ = b.Do(context.Background(), succeeding)
	_ = b.Do(context.Background(), failing)

	if b.State() != BreakerClosed {
		t.Errorf("expected state to remain Closed when failures are not consecutive, got %v", b.State())
	}
}
