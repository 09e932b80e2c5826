package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDo_Success(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), testConfig(), nil, func(ctx context.Context) error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Do() returned error = %v, want nil", err)
	}
	if attempts != 1 {
		t.Errorf("Do() made %d attempts, want 1", attempts)
	}
}

func TestDo_PermanentError(t *testing.T) {
	attempts := 0
	permanentErr := errors.New("permanent")
	classifier := func(err error) bool {
		return !errors.Is(err, permanentErr)
	}

	err := Do(context.Background(), testConfig(), classifier, func(ctx context.Context) error {
		attempts++
		return permanentErr
	})

	if !errors.Is(err, permanentErr) {
		t.Errorf("Do() returned error = %v, want %v", err, permanentErr)
	}
	if attempts != 1 {
		t.Errorf("Do() made %d attempts, want 1", attempts)
	}
}

func TestDo_RetryableErrorEventualSuccess(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), testConfig(), nil, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Do() returned error = %v, want nil", err)
	}
	if attempts != 3 {
		t.Errorf("Do() made %d attempts, want 3", attempts)
	}
}

func TestDo_Exhausted(t *testing.T) {
	attempts := 0
	transient := errors.New("transient")
	err := Do(context.Background(), testConfig(), nil, func(ctx context.Context) error {
		attempts++
		return transient
	})

	if attempts != 4 {
		t.Errorf("Do() made %d attempts, want 4 (1 initial + 3 retries)", attempts)
	}

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Do() returned %T, want *ExhaustedError", err)
	}
	if !errors.Is(err, transient) {
		t.Errorf("ExhaustedError does not unwrap to the underlying error")
	}
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := Do(ctx, testConfig(), nil, func(ctx context.Context) error {
		attempts++
		cancel()
		return errors.New("transient")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() returned error = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Errorf("Do() made %d attempts, want 1", attempts)
	}
}

// hintedError carries a server-specified wait, like a 429 response
// with a Retry-After header.
type hintedError struct {
	hint time.Duration
}

func (e *hintedError) Error() string                 { return "throttled" }
func (e *hintedError) RetryAfterHint() time.Duration { return e.hint }

func TestDo_HonorsRetryAfterHint(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 1

	hint := 120 * time.Millisecond
	attempts := 0
	start := time.Now()
	err := Do(context.Background(), cfg, nil, func(ctx context.Context) error {
		attempts++
		if attempts == 1 {
			return &hintedError{hint: hint}
		}
		return nil
	})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Do() returned error = %v, want nil", err)
	}
	if attempts != 2 {
		t.Errorf("Do() made %d attempts, want 2", attempts)
	}
	// The hint exceeds both the 5ms initial backoff and the 50ms cap
	// and must win over them.
	if elapsed < hint {
		t.Errorf("Do() waited %v before retrying, want at least %v", elapsed, hint)
	}
}

func TestDo_ShortHintKeepsBackoff(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 1
	cfg.InitialBackoff = 30 * time.Millisecond

	attempts := 0
	start := time.Now()
	err := Do(context.Background(), cfg, nil, func(ctx context.Context) error {
		attempts++
		if attempts == 1 {
			return &hintedError{hint: time.Millisecond}
		}
		return nil
	})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Do() returned error = %v, want nil", err)
	}
	if elapsed < 30*time.Millisecond {
		t.Errorf("Do() waited %v, want the 30ms backoff to win over a shorter hint", elapsed)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"generic error", errors.New("boom"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestJitter_Bounds(t *testing.T) {
	d := 100 * time.Millisecond
	for i := 0; i < 100; i++ {
		j := jitter(d, 0.2)
		if j < -20*time.Millisecond || j > 20*time.Millisecond {
			t.Fatalf("jitter(%v, 0.2) = %v, outside +/-20ms", d, j)
		}
	}
	if j := jitter(d, 0); j != 0 {
		t.Errorf("jitter with zero fraction = %v, want 0", j)
	}
}
