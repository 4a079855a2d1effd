package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
)

// ErrPollExhausted is returned when the polled resource never became ready
var ErrPollExhausted = errors.New("tunnel URL not available")

var errNotReady = errors.New("not ready")

// PollConfig bounds a polling loop
type PollConfig struct {
	Interval time.Duration
	Attempts int

	// Clock defaults to the wall clock
	Clock clock.Clock

	// Notify is called after every failed attempt
	Notify func(err error, attempt int)
}

type abortError struct {
	err error
}

func (e *abortError) Error() string { return e.err.Error() }
func (e *abortError) Unwrap() error { return e.err }

// Abort wraps err so Poll stops immediately instead of retrying
func Abort(err error) error {
	return &abortError{err: err}
}

// Poll calls fn every Interval until it returns a non-empty result, an
// aborting error, or the attempt budget runs out
func Poll(ctx context.Context, cfg PollConfig, fn func(ctx context.Context) ([]string, error)) ([]string, error) {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	var (
		result  []string
		aborted *abortError
	)
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			values, err := fn(ctx)
			if err != nil {
				errors.As(err, &aborted)
				return err
			}
			if len(values) == 0 {
				return errNotReady
			}
			result = values
			return nil
		},
		IsFatalError: func(err error) bool {
			return aborted != nil
		},
		NotifyFunc: cfg.Notify,
		Attempts:   cfg.Attempts,
		Delay:      cfg.Interval,
		Clock:      clk,
		Stop:       ctx.Done(),
	})
	if err == nil {
		return result, nil
	}

	if aborted != nil {
		return nil, aborted.err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if retry.IsAttemptsExceeded(err) {
		last := retry.LastError(err)
		if last == nil || errors.Is(last, errNotReady) {
			return nil, fmt.Errorf("%w after %d attempts", ErrPollExhausted, cfg.Attempts)
		}
		return nil, fmt.Errorf("%w after %d attempts: %v", ErrPollExhausted, cfg.Attempts, last)
	}
	return nil, err
}
