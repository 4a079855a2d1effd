package scan

import (
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"
)

var (
	quickURL  = regexp.MustCompile(`https://[a-z0-9-]+\.trycloudflare\.com`)
	anyHTTPS  = regexp.MustCompile(`https://[a-z0-9.-]+`)
	lhrURL    = regexp.MustCompile(`https://[a-z0-9]+\.lhr\.life`)
	neverSeen = regexp.MustCompile(`will-not-appear`)
)

// countingReader records how many reads were issued
type countingReader struct {
	mu     sync.Mutex
	chunks []string
	reads  int
}

func (r *countingReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reads >= len(r.chunks) {
		r.reads++
		return 0, io.EOF
	}
	n := copy(p, r.chunks[r.reads])
	r.reads++
	return n, nil
}

func (r *countingReader) Reads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads
}

func TestMatch(t *testing.T) {
	t.Run("returns matched substring", func(t *testing.T) {
		out := "2024-01-14T10:00:00Z INF Your quick Tunnel has been created! Visit it at:\n" +
			"2024-01-14T10:00:00Z INF |  https://calm-river-1234.trycloudflare.com  |\n"

		got, err := Match(context.Background(), strings.NewReader(out), []*regexp.Regexp{quickURL}, time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "https://calm-river-1234.trycloudflare.com" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("matches text split across reads", func(t *testing.T) {
		r := iotest.OneByteReader(strings.NewReader("abc.lhr.life tunneled, https://abc123.lhr.life\n"))

		got, err := Match(context.Background(), r, []*regexp.Regexp{lhrURL}, time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "https://abc123.lhr.life" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("returns the capture group when present", func(t *testing.T) {
		tunneled := regexp.MustCompile(`tunneled with tls termination, (https://\S+)`)
		out := "manage domains at https://admin.localhost.run/\r\n" +
			"abc123.lhr.life tunneled with tls termination, https://abc123.lhr.life\r\n"

		got, err := Match(context.Background(), strings.NewReader(out), []*regexp.Regexp{tunneled}, time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "https://abc123.lhr.life" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("earlier pattern wins when both match", func(t *testing.T) {
		out := "docs at https://docs.example.com then https://calm-river-1234.trycloudflare.com"

		got, err := Match(context.Background(), strings.NewReader(out), []*regexp.Regexp{quickURL, anyHTTPS}, time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "https://calm-river-1234.trycloudflare.com" {
			t.Errorf("got %q, want the primary pattern's match", got)
		}
	})

	t.Run("fallback pattern used when primary absent", func(t *testing.T) {
		got, err := Match(context.Background(), strings.NewReader("visit https://abc.example.org now"), []*regexp.Regexp{quickURL, anyHTTPS}, time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "https://abc.example.org" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("deterministic for a fixed input", func(t *testing.T) {
		out := "https://first.example.com https://calm-river-1234.trycloudflare.com"
		var first string
		for i := 0; i < 20; i++ {
			got, err := Match(context.Background(), strings.NewReader(out), []*regexp.Regexp{anyHTTPS, quickURL}, time.Second)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if i == 0 {
				first = got
			}
			if got != first {
				t.Fatalf("run %d got %q, first run got %q", i, got, first)
			}
		}
		if first != "https://first.example.com" {
			t.Errorf("got %q", first)
		}
	})

	t.Run("stream end without match", func(t *testing.T) {
		_, err := Match(context.Background(), strings.NewReader("failed to connect\n"), []*regexp.Regexp{quickURL}, time.Second)
		if !errors.Is(err, ErrStreamEnded) {
			t.Errorf("expected ErrStreamEnded, got %v", err)
		}
	})

	t.Run("read error ends the stream", func(t *testing.T) {
		r := iotest.ErrReader(errors.New("broken pipe"))
		_, err := Match(context.Background(), r, []*regexp.Regexp{quickURL}, time.Second)
		if !errors.Is(err, ErrStreamEnded) {
			t.Errorf("expected ErrStreamEnded, got %v", err)
		}
		if !strings.Contains(err.Error(), "broken pipe") {
			t.Errorf("expected cause in message, got %v", err)
		}
	})

	t.Run("no patterns is an error", func(t *testing.T) {
		if _, err := Match(context.Background(), strings.NewReader("x"), nil, time.Second); err == nil {
			t.Error("expected error for empty pattern list")
		}
	})
}

func TestMatch_Timeout(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	// Keep producing output that never matches
	go func() {
		for i := 0; i < 5; i++ {
			if _, err := pw.Write([]byte("INF still starting\n")); err != nil {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	timeout := 100 * time.Millisecond
	start := time.Now()
	_, err := Match(context.Background(), pr, []*regexp.Regexp{neverSeen}, timeout)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed < timeout {
		t.Errorf("returned after %s, before the %s deadline", elapsed, timeout)
	}
	if elapsed > timeout+time.Second {
		t.Errorf("returned after %s, long past the %s deadline", elapsed, timeout)
	}
}

func TestMatch_ContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := Match(ctx, pr, []*regexp.Regexp{neverSeen}, 10*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestMatch_StopsReadingAfterMatch(t *testing.T) {
	r := &countingReader{chunks: []string{
		"starting\n",
		"url https://abc123.lhr.life\n",
		"more output\n",
		"even more\n",
	}}

	got, err := Match(context.Background(), r, []*regexp.Regexp{lhrURL}, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "https://abc123.lhr.life" {
		t.Errorf("got %q", got)
	}

	// Give a stray reader goroutine a moment to misbehave
	time.Sleep(20 * time.Millisecond)
	if reads := r.Reads(); reads != 2 {
		t.Errorf("expected 2 reads, got %d", reads)
	}
}

func TestMatch_ChunkFunc(t *testing.T) {
	var mu sync.Mutex
	var seen []string

	r := &countingReader{chunks: []string{"Registered tunnel connection\n", "https://abc123.lhr.life"}}
	_, err := Match(context.Background(), r, []*regexp.Regexp{lhrURL}, time.Second,
		WithChunkFunc(func(c string) {
			mu.Lock()
			seen = append(seen, c)
			mu.Unlock()
		}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("expected 2 chunks observed, got %d: %q", len(seen), seen)
	}
	if !strings.Contains(seen[0], "Registered") {
		t.Errorf("first chunk = %q", seen[0])
	}
}

func TestMatch_MaxBuffer(t *testing.T) {
	// A match split across the trim boundary is still found because only
	// the oldest bytes are dropped
	noise := strings.Repeat("x", 64)
	r := &countingReader{chunks: []string{noise, noise, "https://abc", "123.lhr.life"}}

	got, err := Match(context.Background(), r, []*regexp.Regexp{lhrURL}, time.Second, WithMaxBuffer(32))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "https://abc123.lhr.life" {
		t.Errorf("got %q", got)
	}
}
