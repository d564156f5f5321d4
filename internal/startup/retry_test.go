package startup

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestIsNetworkError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"dns", &net.DNSError{Err: "no such host", Name: "example.com"}, true},
		{"connection refused", errors.New("dial tcp 127.0.0.1:8080: connection refused"), true},
		{"logic error", errors.New("invalid argument"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsNetworkError(tc.err); got != tc.want {
				t.Errorf("IsNetworkError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestWithRetrySucceedsAfterTransientFailure(t *testing.T) {
	cfg := RetryConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		MaxAttempts:  5,
		Multiplier:   2.0,
	}

	attempts := 0
	err := WithRetry(context.Background(), "test", cfg, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("WithRetry: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestWithRetryStopsOnLogicError(t *testing.T) {
	cfg := DefaultRetryConfig()

	attempts := 0
	wantErr := errors.New("bad request")
	err := WithRetry(context.Background(), "test", cfg, func() error {
		attempts++
		return wantErr
	}, zerolog.Nop())
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestWithRetryGivesUpAfterMaxAttempts(t *testing.T) {
	cfg := RetryConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		MaxAttempts:  3,
		Multiplier:   2.0,
	}

	attempts := 0
	err := WithRetry(context.Background(), "test", cfg, func() error {
		attempts++
		return errors.New("no route to host")
	}, zerolog.Nop())
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestWithRetryHonorsContextCancellation(t *testing.T) {
	cfg := RetryConfig{
		InitialDelay: time.Hour,
		MaxDelay:     time.Hour,
		MaxAttempts:  5,
		Multiplier:   2.0,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := WithRetry(ctx, "test", cfg, func() error {
		return errors.New("connection refused")
	}, zerolog.Nop())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
