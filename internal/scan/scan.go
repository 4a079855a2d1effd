// Package scan resolves public tunnel URLs from unstructured process output.
//
// Match reads a stream incrementally and returns as soon as one of a set of
// patterns appears in the accumulated text, or fails when a deadline passes
// or the stream ends first. Poll is the equivalent bounded-retry loop for
// providers that query an API instead of reading output.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/juju/clock"
)

var (
	// ErrTimeout is returned when no pattern matched before the deadline
	ErrTimeout = errors.New("timed out waiting for tunnel URL")

	// ErrStreamEnded is returned when the stream ends before any pattern matched
	ErrStreamEnded = errors.New("output ended before tunnel URL appeared")
)

const (
	// DefaultMaxBuffer caps the accumulated text; older bytes are dropped
	DefaultMaxBuffer = 1 << 20

	defaultReadSize = 4096
)

type options struct {
	clock     clock.Clock
	onChunk   func(string)
	maxBuffer int
	readSize  int
}

// Option configures Match
type Option func(*options)

// WithClock sets the clock used for the deadline
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithChunkFunc registers an observer called with every chunk read, before
// patterns are checked. Providers use it to log intermediate progress.
func WithChunkFunc(fn func(chunk string)) Option {
	return func(o *options) { o.onChunk = fn }
}

// WithMaxBuffer caps how much accumulated output is kept for matching
func WithMaxBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBuffer = n
		}
	}
}

// WithReadSize sets the size of each read from the stream
func WithReadSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readSize = n
		}
	}
}

type chunk struct {
	data []byte
	err  error
}

// Match reads r until one of patterns matches the accumulated output and
// returns the matched text, or the first capture group when the pattern has
// one. Patterns are tried in order after every read, so for a given input the
// earliest listed pattern that matches wins.
//
// Match does not close r, and no read is issued after the one that produced
// the match. On timeout or cancellation a read may still be pending; it
// completes when the caller closes or kills the stream's producer.
func Match(ctx context.Context, r io.Reader, patterns []*regexp.Regexp, timeout time.Duration, opts ...Option) (string, error) {
	if len(patterns) == 0 {
		return "", errors.New("scan: no patterns given")
	}

	o := options{
		clock:     clock.WallClock,
		maxBuffer: DefaultMaxBuffer,
		readSize:  defaultReadSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	timer := o.clock.NewTimer(timeout)
	defer timer.Stop()

	chunks := make(chan chunk)
	next := make(chan struct{}, 1)
	done := make(chan struct{})
	defer close(done)

	go readChunks(r, o.readSize, chunks, next, done)

	var buf []byte
	next <- struct{}{}

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()

		case <-timer.Chan():
			return "", fmt.Errorf("%w after %s", ErrTimeout, timeout)

		case c := <-chunks:
			if len(c.data) > 0 {
				if o.onChunk != nil {
					o.onChunk(string(c.data))
				}
				buf = append(buf, c.data...)
				if m := firstMatch(buf, patterns); m != "" {
					return m, nil
				}
				if len(buf) > o.maxBuffer {
					buf = append([]byte(nil), buf[len(buf)-o.maxBuffer:]...)
				}
			}
			if c.err != nil {
				if errors.Is(c.err, io.EOF) {
					return "", ErrStreamEnded
				}
				return "", fmt.Errorf("%w: %v", ErrStreamEnded, c.err)
			}
			next <- struct{}{}
		}
	}
}

// readChunks performs one read per request on next, so nothing is consumed
// past the chunk that satisfied the caller
func readChunks(r io.Reader, size int, out chan<- chunk, next <-chan struct{}, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-next:
		}

		buf := make([]byte, size)
		n, err := r.Read(buf)

		select {
		case out <- chunk{data: buf[:n], err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

func firstMatch(buf []byte, patterns []*regexp.Regexp) string {
	for _, p := range patterns {
		m := p.FindSubmatch(buf)
		if len(m) == 0 || len(m[0]) == 0 {
			continue
		}
		if len(m) > 1 && len(m[1]) > 0 {
			return string(m[1])
		}
		return string(m[0])
	}
	return ""
}
