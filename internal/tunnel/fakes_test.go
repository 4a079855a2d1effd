package tunnel

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/bobbyrathoree/tunneldash/internal/process"
)

// fakeProcess is a process whose output and exit are driven by the test
type fakeProcess struct {
	pr   *io.PipeReader
	pw   *io.PipeWriter
	done chan struct{}

	mu      sync.Mutex
	kills   int
	exitErr error
	once    sync.Once
}

func newFakeProcess() *fakeProcess {
	pr, pw := io.Pipe()
	return &fakeProcess{pr: pr, pw: pw, done: make(chan struct{})}
}

func (p *fakeProcess) Pid() int              { return 4242 }
func (p *fakeProcess) Output() io.Reader     { return p.pr }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.kills++
	p.mu.Unlock()
	p.pr.Close()
	p.exit(errors.New("signal: killed"))
	return nil
}

func (p *fakeProcess) Wait() error {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// write emits output; it blocks until read, so call it off the test goroutine
func (p *fakeProcess) write(s string) {
	_, _ = p.pw.Write([]byte(s))
}

// exit ends the process with err
func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		p.pw.Close()
		close(p.done)
	})
}

func (p *fakeProcess) killCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kills
}

// fakeSpawner records specs and runs script against every process it spawns
type fakeSpawner struct {
	script func(n int, spec process.Spec, p *fakeProcess)
	err    error

	mu    sync.Mutex
	specs []process.Spec
	procs []*fakeProcess
}

func (s *fakeSpawner) Spawn(spec process.Spec) (process.Process, error) {
	if s.err != nil {
		return nil, s.err
	}
	p := newFakeProcess()

	s.mu.Lock()
	n := len(s.procs)
	s.specs = append(s.specs, spec)
	s.procs = append(s.procs, p)
	s.mu.Unlock()

	if s.script != nil {
		go s.script(n, spec, p)
	}
	return p, nil
}

func (s *fakeSpawner) spawned() []*fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeProcess(nil), s.procs...)
}

func (s *fakeSpawner) spec(i int) process.Spec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.specs[i]
}

// fakeProvider is a scriptable provider for manager tests
type fakeProvider struct {
	name       ProviderName
	start      func(ctx context.Context, inst *Instance) error
	stopPanics bool

	mu     sync.Mutex
	starts int
	stops  int
}

type fakeSession struct {
	mu     sync.Mutex
	closes int
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return nil
}

func (p *fakeProvider) Name() ProviderName {
	if p.name == "" {
		return ProviderSSHRelay
	}
	return p.name
}

func (p *fakeProvider) Start(ctx context.Context, inst *Instance) error {
	p.mu.Lock()
	p.starts++
	n := p.starts
	p.mu.Unlock()

	if p.start != nil {
		return p.start(ctx, inst)
	}
	inst.SetSession(&fakeSession{})
	url := "https://fake-" + string(rune('a'+n%26)) + ".example.com"
	inst.SetLive(url)
	inst.Logf("%s Tunnel live: %s", MarkLive, url)
	return nil
}

func (p *fakeProvider) Stop(ctx context.Context, inst *Instance) {
	p.mu.Lock()
	p.stops++
	p.mu.Unlock()

	if p.stopPanics {
		panic("stop exploded")
	}
	stopSession(inst)
}

func (p *fakeProvider) counts() (starts, stops int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts, p.stops
}

// waitFor polls cond until it holds or the test times out
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
