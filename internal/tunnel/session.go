package tunnel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bobbyrathoree/tunneldash/internal/process"
	"github.com/bobbyrathoree/tunneldash/internal/scan"
)

const exitGrace = time.Second

// processSession owns a spawned tunnel CLI
type processSession struct {
	proc process.Process
}

func (s *processSession) Close() error {
	return s.proc.Kill()
}

// lineSplitter turns arbitrary output chunks into whole lines
type lineSplitter struct {
	mu      sync.Mutex
	partial string
	emit    func(line string)
}

func newLineSplitter(emit func(string)) *lineSplitter {
	return &lineSplitter{emit: emit}
}

// Write feeds a chunk; complete lines are emitted in order
func (s *lineSplitter) Write(chunk string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.partial + chunk
	for {
		idx := strings.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimRight(data[:idx], "\r")
		data = data[idx+1:]
		if strings.TrimSpace(line) != "" {
			s.emit(line)
		}
	}
	s.partial = data
}

// interesting returns a log filter that keeps lines containing any marker
func interesting(markers ...string) func(string) bool {
	return func(line string) bool {
		lower := strings.ToLower(line)
		for _, m := range markers {
			if strings.Contains(lower, strings.ToLower(m)) {
				return true
			}
		}
		return false
	}
}

// follow keeps draining a live process's output so it never blocks on a full
// pipe, copies interesting lines to the instance log and flags an unexpected
// exit while the instance still owns the process
func follow(inst *Instance, sess *processSession, keep func(string) bool) {
	go func() {
		scanner := bufio.NewScanner(sess.proc.Output())
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" && keep(line) {
				inst.Logf("%s %s", MarkWarning, line)
			}
		}
		_, _ = io.Copy(io.Discard, sess.proc.Output())

		<-sess.proc.Done()
		if inst.Status() != StatusLive || !inst.ReleaseSession(sess) {
			// Stopped on purpose, or the start path reports the exit
			return
		}
		_ = sess.proc.Kill()

		err := errors.New("process exited unexpectedly")
		if exitErr := sess.proc.Wait(); exitErr != nil {
			err = fmt.Errorf("process exited unexpectedly: %v", exitErr)
		}
		log.WithFields(log.Fields{
			"tunnel":   inst.ID(),
			"provider": inst.Config().Provider,
		}).WithError(err).Warn("Tunnel process ended")
		inst.Fail(err)
	}()
}

// startFailure explains why a process never produced a URL. An exited
// process is reported over a generic scan error.
func startFailure(proc process.Process, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, scan.ErrStreamEnded) {
		// Output closes just before the exit status is recorded
		select {
		case <-proc.Done():
		case <-time.After(exitGrace):
		}
	}
	if exitErr := process.ExitError(proc); exitErr != nil {
		return fmt.Errorf("%w: %v", err, exitErr)
	}
	return err
}

// runOnce runs a short-lived command to completion and returns its output
func runOnce(ctx context.Context, spawner process.Spawner, spec process.Spec) (string, error) {
	proc, err := spawner.Spawn(spec)
	if err != nil {
		return "", err
	}

	type result struct {
		out []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		out, _ := io.ReadAll(proc.Output())
		ch <- result{out: out, err: proc.Wait()}
	}()

	select {
	case r := <-ch:
		return strings.TrimSpace(string(r.out)), r.err
	case <-ctx.Done():
		_ = proc.Kill()
		return "", ctx.Err()
	}
}
