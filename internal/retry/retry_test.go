package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func noSleep(delays *[]time.Duration) Option {
	return WithSleeper(func(ctx context.Context, d time.Duration) error {
		if delays != nil {
			*delays = append(*delays, d)
		}
		return ctx.Err()
	})
}

func TestBackoff_Bounds(t *testing.T) {
	p := Policy{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	want := map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second}
	for attempt, d := range want {
		if got := p.Delay(attempt); got != d {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, d)
		}
	}
	if got := p.Delay(10); got > 10*time.Second {
		t.Errorf("Delay(10) = %v, want <= 10s", got)
	}
}

func TestDelay_JitterWithinTwentyPercent(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 10 * time.Second, Jitter: true}
	for i := 0; i < 200; i++ {
		d := p.Delay(2)
		if d < 1600*time.Millisecond || d > 2400*time.Millisecond {
			t.Fatalf("Delay(2) = %v, outside ±20%% of 2s", d)
		}
	}
}

func TestDelay_Floor(t *testing.T) {
	p := Policy{BaseDelay: time.Millisecond, MaxDelay: time.Second}
	if got := p.Delay(1); got != MinDelay {
		t.Errorf("Delay(1) = %v, want floor %v", got, MinDelay)
	}
}

func TestExecute_SucceedsAfterRetries(t *testing.T) {
	var delays []time.Duration
	s := New(Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}, noSleep(&delays))

	calls := 0
	got, err := Execute(context.Background(), s, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errTransient
		}
		return "ok", nil
	}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("got %q after %d calls", got, calls)
	}
	if len(delays) != 2 || delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Errorf("delays = %v, want [1s 2s]", delays)
	}
}

func TestExecute_NonRetriableStopsImmediately(t *testing.T) {
	s := New(Policy{MaxAttempts: 5, BaseDelay: time.Second}, noSleep(nil))
	fatal := errors.New("bad request")

	calls := 0
	_, err := Execute(context.Background(), s, func(context.Context) (int, error) {
		calls++
		return 0, fatal
	}, func(err error) bool { return !errors.Is(err, fatal) })
	if !errors.Is(err, fatal) {
		t.Fatalf("err = %v, want %v", err, fatal)
	}
	if errors.Is(err, ErrExhausted) {
		t.Error("non-retriable error should not be reported as exhausted")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestExecute_ExhaustedWrapsLastError(t *testing.T) {
	var observed []int
	s := New(Policy{MaxAttempts: 3, BaseDelay: time.Second}, noSleep(nil),
		WithObserver(func(attempt int, _ time.Duration, _ error) { observed = append(observed, attempt) }))

	calls := 0
	_, err := Execute(context.Background(), s, func(context.Context) (int, error) {
		calls++
		return 0, errTransient
	}, nil)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	if !errors.Is(err, errTransient) {
		t.Error("exhausted error should unwrap to the last underlying error")
	}
	var ex *ExhaustedError
	if !errors.As(err, &ex) || ex.Attempts != 3 {
		t.Errorf("ExhaustedError = %+v", ex)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(observed) != 2 {
		t.Errorf("observer calls = %v, want 2", observed)
	}
}

func TestExecute_CancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(Policy{MaxAttempts: 3, BaseDelay: time.Hour, MaxDelay: time.Hour})

	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := Execute(ctx, s, func(context.Context) (int, error) {
			calls++
			return 0, errTransient
		}, nil)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestExecute_ZeroAttemptsRunsOnce(t *testing.T) {
	s := New(Policy{}, noSleep(nil))
	calls := 0
	_, err := Execute(context.Background(), s, func(context.Context) (int, error) {
		calls++
		return 0, errTransient
	}, nil)
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, ErrExhausted) {
		t.Errorf("err = %v", err)
	}
}
