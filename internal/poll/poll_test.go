package poll

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUntilSatisfiedImmediately(t *testing.T) {
	calls := 0
	outcome := Until(context.Background(), time.Hour, 5, func(context.Context) (bool, error) {
		calls++
		return true, nil
	})
	if outcome != Satisfied {
		t.Fatalf("expected Satisfied, got %v", outcome)
	}
	if calls != 1 {
		t.Errorf("expected 1 predicate call, got %d", calls)
	}
}

func TestUntilSatisfiedAfterRetries(t *testing.T) {
	calls := 0
	outcome := Until(context.Background(), time.Millisecond, 10, func(context.Context) (bool, error) {
		calls++
		return calls >= 3, nil
	})
	if outcome != Satisfied {
		t.Fatalf("expected Satisfied, got %v", outcome)
	}
	if calls != 3 {
		t.Errorf("expected 3 predicate calls, got %d", calls)
	}
}

func TestUntilExhaustsWithinBound(t *testing.T) {
	calls := 0
	start := time.Now()
	outcome := Until(context.Background(), time.Millisecond, 5, func(context.Context) (bool, error) {
		calls++
		return false, nil
	})
	if outcome != Exhausted {
		t.Fatalf("expected Exhausted, got %v", outcome)
	}
	if calls != 5 {
		t.Errorf("expected 5 predicate calls, got %d", calls)
	}
	// Bound: attempts*interval plus slack. Generous to avoid CI flakes.
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("poll took too long: %v", elapsed)
	}
}

func TestUntilTreatsErrorsAsNotYet(t *testing.T) {
	calls := 0
	outcome := Until(context.Background(), time.Millisecond, 10, func(context.Context) (bool, error) {
		calls++
		if calls < 4 {
			return true, errors.New("probe channel down")
		}
		return true, nil
	})
	if outcome != Satisfied {
		t.Fatalf("expected Satisfied after errors clear, got %v", outcome)
	}
	if calls != 4 {
		t.Errorf("expected 4 predicate calls, got %d", calls)
	}
}

func TestUntilCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcome := Until(ctx, time.Hour, 5, func(context.Context) (bool, error) {
		return false, nil
	})
	if outcome != Canceled {
		t.Fatalf("expected Canceled, got %v", outcome)
	}
}

func TestProbePresent(t *testing.T) {
	got := Probe(context.Background(), time.Millisecond, 3, func(context.Context) (bool, error) {
		return true, nil
	})
	if got != Present {
		t.Fatalf("expected Present, got %v", got)
	}
}

func TestProbeAbsent(t *testing.T) {
	got := Probe(context.Background(), time.Millisecond, 3, func(context.Context) (bool, error) {
		return false, nil
	})
	if got != Absent {
		t.Fatalf("expected Absent, got %v", got)
	}
}

func TestProbeUncertainOnPersistentError(t *testing.T) {
	got := Probe(context.Background(), time.Millisecond, 3, func(context.Context) (bool, error) {
		return false, errors.New("evaluator unavailable")
	})
	if got != Uncertain {
		t.Fatalf("expected Uncertain, got %v", got)
	}
}
