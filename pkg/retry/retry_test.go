package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(maxRetries int) *Config {
	return &Config{
		MaxRetries:      maxRetries,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	res := Do(context.Background(), fastConfig(3), func(ctx context.Context) error {
		calls++
		return nil
	})

	if res.Err != nil {
		t.Fatalf("Err = %v, want nil", res.Err)
	}
	if res.Attempts != 1 || calls != 1 {
		t.Errorf("Attempts = %d, calls = %d, want 1", res.Attempts, calls)
	}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	res := Do(context.Background(), fastConfig(5), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if res.Err != nil {
		t.Fatalf("Err = %v, want nil", res.Err)
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	boom := errors.New("boom")
	res := Do(context.Background(), fastConfig(2), func(ctx context.Context) error {
		return boom
	})

	if !errors.Is(res.Err, ErrMaxRetriesExceeded) {
		t.Errorf("Err = %v, want ErrMaxRetriesExceeded", res.Err)
	}
	if !errors.Is(res.LastError, boom) {
		t.Errorf("LastError = %v, want boom", res.LastError)
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	bad := errors.New("bad request")
	calls := 0
	res := Do(context.Background(), fastConfig(5), func(ctx context.Context) error {
		calls++
		return Permanent(bad)
	})

	if !errors.Is(res.Err, bad) {
		t.Errorf("Err = %v, want bad request", res.Err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !IsPermanent(Permanent(bad)) || IsPermanent(bad) {
		t.Error("IsPermanent misreports")
	}
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := Do(ctx, fastConfig(3), func(ctx context.Context) error {
		t.Fatal("operation must not run with a canceled context")
		return nil
	})

	if !errors.Is(res.Err, ErrContextCanceled) {
		t.Errorf("Err = %v, want ErrContextCanceled", res.Err)
	}
}

func TestDoWithCallback_ReportsEachRetry(t *testing.T) {
	var seen []int
	DoWithCallback(context.Background(), fastConfig(2), func(ctx context.Context) error {
		return errors.New("x")
	}, func(attempt int, err error, wait time.Duration) {
		seen = append(seen, attempt)
	})

	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("callback attempts = %v, want [1 2]", seen)
	}
}

func TestBackoff_GrowsAndCaps(t *testing.T) {
	cfg := &Config{InitialInterval: 10 * time.Millisecond, MaxInterval: 35 * time.Millisecond, Multiplier: 2}

	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 35 * time.Millisecond, 35 * time.Millisecond}
	for attempt, w := range want {
		if got := Backoff(cfg, attempt); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", attempt, got, w)
		}
	}
}
