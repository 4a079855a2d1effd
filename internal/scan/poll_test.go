package scan

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestPoll(t *testing.T) {
	t.Run("succeeds once resource is non-empty", func(t *testing.T) {
		calls := 0
		got, err := Poll(context.Background(), PollConfig{Interval: time.Millisecond, Attempts: 5},
			func(ctx context.Context) ([]string, error) {
				calls++
				if calls < 3 {
					return nil, nil
				}
				return []string{"https://abc.ngrok.app"}, nil
			})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
		if len(got) != 1 || got[0] != "https://abc.ngrok.app" {
			t.Errorf("got %v", got)
		}
	})

	t.Run("transient errors are retried", func(t *testing.T) {
		calls := 0
		_, err := Poll(context.Background(), PollConfig{Interval: time.Millisecond, Attempts: 5},
			func(ctx context.Context) ([]string, error) {
				calls++
				if calls == 1 {
					return nil, errors.New("connection refused")
				}
				return []string{"https://abc.ngrok.app"}, nil
			})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 2 {
			t.Errorf("expected 2 calls, got %d", calls)
		}
	})

	t.Run("exhausted budget", func(t *testing.T) {
		calls := 0
		_, err := Poll(context.Background(), PollConfig{Interval: time.Millisecond, Attempts: 4},
			func(ctx context.Context) ([]string, error) {
				calls++
				return nil, errors.New("connection refused")
			})
		if !errors.Is(err, ErrPollExhausted) {
			t.Fatalf("expected ErrPollExhausted, got %v", err)
		}
		if !strings.Contains(err.Error(), "connection refused") {
			t.Errorf("expected last error in message, got %v", err)
		}
		if calls != 4 {
			t.Errorf("expected 4 calls, got %d", calls)
		}
	})

	t.Run("abort stops immediately", func(t *testing.T) {
		calls := 0
		exited := errors.New("process exited: exit status 1")
		_, err := Poll(context.Background(), PollConfig{Interval: time.Millisecond, Attempts: 10},
			func(ctx context.Context) ([]string, error) {
				calls++
				return nil, Abort(exited)
			})
		if !errors.Is(err, exited) {
			t.Fatalf("expected abort cause, got %v", err)
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		_, err := Poll(ctx, PollConfig{Interval: 10 * time.Millisecond, Attempts: 100},
			func(ctx context.Context) ([]string, error) {
				calls++
				if calls == 2 {
					cancel()
				}
				return nil, nil
			})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("notify sees failed attempts", func(t *testing.T) {
		var attempts []int
		_, _ = Poll(context.Background(), PollConfig{
			Interval: time.Millisecond,
			Attempts: 3,
			Notify:   func(err error, attempt int) { attempts = append(attempts, attempt) },
		}, func(ctx context.Context) ([]string, error) {
			return nil, nil
		})
		if len(attempts) < 2 {
			t.Errorf("expected a notification per failed attempt, got %v", attempts)
		}
	})
}
