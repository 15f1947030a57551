package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	coalErrors "github.com/bardlex/gocoal/pkg/errors"
)

type timingAbort struct{}

func (timingAbort) Error() string                      { return "spam" }
func (timingAbort) ErrorType() coalErrors.ErrorType { return coalErrors.ErrorTypeTiming }

func fastConfig(attempts int) *Config {
	return &Config{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func TestPresetConfigs(t *testing.T) {
	tests := []struct {
		name     string
		config   *Config
		attempts int
		base     time.Duration
		maxDelay time.Duration
	}{
		{"default", DefaultConfig(), 3, 100 * time.Millisecond, 5 * time.Second},
		{"network", NetworkConfig(), 5, 50 * time.Millisecond, 2 * time.Second},
		{"database", DatabaseConfig(), 3, 200 * time.Millisecond, 3 * time.Second},
		{"submission", SubmissionConfig(), 4, 5 * time.Second, 60 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.config.MaxAttempts != tt.attempts {
				t.Errorf("MaxAttempts = %d, want %d", tt.config.MaxAttempts, tt.attempts)
			}
			if tt.config.BaseDelay != tt.base {
				t.Errorf("BaseDelay = %v, want %v", tt.config.BaseDelay, tt.base)
			}
			if tt.config.MaxDelay != tt.maxDelay {
				t.Errorf("MaxDelay = %v, want %v", tt.config.MaxDelay, tt.maxDelay)
			}
		})
	}
}

func TestDo_SucceedsAfterRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		if calls == 1 {
			return coalErrors.New(coalErrors.ErrorTypeNetwork, "fetch", "retryable")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected 2 calls, got %d", calls)
	}
}

func TestDo_MaxAttemptsReached(t *testing.T) {
	calls := 0
	var retried []int
	config := fastConfig(2)
	config.OnRetry = func(attempt int, _ time.Duration, _ error) {
		retried = append(retried, attempt)
	}

	err := Do(context.Background(), config, func() error {
		calls++
		return coalErrors.New(coalErrors.ErrorTypeNetwork, "fetch", "persistent")
	})
	if err == nil {
		t.Fatal("Expected error after max attempts")
	}
	if calls != 2 {
		t.Errorf("Expected 2 calls, got %d", calls)
	}
	if len(retried) != 1 || retried[0] != 1 {
		t.Errorf("OnRetry calls = %v, want [1]", retried)
	}
	if coalErrors.GetContext(err)["max_attempts"] != 2 {
		t.Errorf("Expected max_attempts context, got %v", coalErrors.GetContext(err))
	}
}

func TestDo_NonRetryableError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultConfig(), func() error {
		calls++
		return coalErrors.New(coalErrors.ErrorTypeProofOfWork, "mine", "hash too easy")
	})
	if !coalErrors.IsType(err, coalErrors.ErrorTypeProofOfWork) {
		t.Errorf("Expected original error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestDo_RegularError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultConfig(), func() error {
		calls++
		return errors.New("regular error")
	})
	if err == nil || calls != 1 {
		t.Errorf("Expected single failing call, got calls=%d err=%v", calls, err)
	}
}

func TestDo_ShouldRetryOverride(t *testing.T) {
	config := fastConfig(3)
	config.ShouldRetry = SubmissionConfig().ShouldRetry

	calls := 0
	err := Do(context.Background(), config, func() error {
		calls++
		if calls < 3 {
			return timingAbort{}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}

	calls = 0
	_ = Do(context.Background(), config, func() error {
		calls++
		return coalErrors.New(coalErrors.ErrorTypeNetwork, "submit", "refused")
	})
	if calls != 1 {
		t.Errorf("Submission retry should only retry timing errors, got %d calls", calls)
	}
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := &Config{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}

	calls := 0
	err := Do(ctx, config, func() error {
		calls++
		cancel()
		return coalErrors.New(coalErrors.ErrorTypeNetwork, "fetch", "network error")
	})
	if err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	result, err := DoWithResult(context.Background(), fastConfig(3), func() (uint64, error) {
		calls++
		if calls == 1 {
			return 0, coalErrors.New(coalErrors.ErrorTypeTimeout, "fetch", "slow")
		}
		return 42, nil
	})
	if err != nil || result != 42 {
		t.Errorf("DoWithResult = %d, %v", result, err)
	}

	result, err = DoWithResult(context.Background(), fastConfig(2), func() (uint64, error) {
		return 7, coalErrors.New(coalErrors.ErrorTypeNetwork, "fetch", "down")
	})
	if err == nil || result != 0 {
		t.Errorf("Expected zero value and error, got %d, %v", result, err)
	}
}

func TestDo_NilConfig(t *testing.T) {
	calls := 0
	err := Do(context.Background(), nil, func() error {
		calls++
		if calls == 1 {
			return coalErrors.New(coalErrors.ErrorTypeNetwork, "fetch", "retryable")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Errorf("Expected success on second call, got calls=%d err=%v", calls, err)
	}
}

func TestConfig_calculateDelay(t *testing.T) {
	config := &Config{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{5, time.Second},
	}

	for _, tt := range tests {
		if got := config.calculateDelay(tt.attempt); got != tt.expected {
			t.Errorf("attempt %d: delay = %v, want %v", tt.attempt, got, tt.expected)
		}
	}

	config.Jitter = true
	if got := config.calculateDelay(0); got < 100*time.Millisecond || got > 110*time.Millisecond {
		t.Errorf("jittered delay out of range: %v", got)
	}
}
