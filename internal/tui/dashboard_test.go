package tui

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	log "github.com/sirupsen/logrus"

	"github.com/bobbyrathoree/tunneldash/internal/logging"
	"github.com/bobbyrathoree/tunneldash/internal/tunnel"
)

type fakeBackend struct {
	mu        sync.Mutex
	instances []*tunnel.Instance
	calls     []string
	events    chan tunnel.Event
	stopped   bool
}

func newFakeBackend(instances ...*tunnel.Instance) *fakeBackend {
	return &fakeBackend{instances: instances, events: make(chan tunnel.Event, 8)}
}

func (f *fakeBackend) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) GetAll() []*tunnel.Instance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*tunnel.Instance(nil), f.instances...)
}

func (f *fakeBackend) Stats() tunnel.Stats {
	s := tunnel.Stats{}
	for _, inst := range f.GetAll() {
		s.Total++
		switch inst.Status() {
		case tunnel.StatusLive:
			s.Live++
		case tunnel.StatusStarting:
			s.Starting++
		case tunnel.StatusError:
			s.Error++
		case tunnel.StatusClosed:
			s.Closed++
		}
	}
	return s
}

func (f *fakeBackend) find(id string) *tunnel.Instance {
	for _, inst := range f.GetAll() {
		if inst.ID() == id {
			return inst
		}
	}
	return nil
}

func (f *fakeBackend) Stop(_ context.Context, id string) bool {
	f.record("stop " + id)
	inst := f.find(id)
	if inst == nil {
		return false
	}
	inst.MarkClosed()
	return true
}

func (f *fakeBackend) Restart(_ context.Context, id string) (*tunnel.Instance, bool) {
	f.record("restart " + id)
	inst := f.find(id)
	return inst, inst != nil
}

func (f *fakeBackend) Delete(_ context.Context, id string) bool {
	f.record("delete " + id)
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, inst := range f.instances {
		if inst.ID() == id {
			f.instances = append(f.instances[:i], f.instances[i+1:]...)
			return true
		}
	}
	return false
}

func (f *fakeBackend) StopAll(_ context.Context) {
	f.record("stopall")
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeBackend) Subscribe() (<-chan tunnel.Event, func()) {
	var once sync.Once
	return f.events, func() { once.Do(func() { close(f.events) }) }
}

func newTestInstance(id, name string, provider tunnel.ProviderName, port int) *tunnel.Instance {
	return tunnel.NewInstance(tunnel.Config{
		ID:        id,
		Name:      name,
		Provider:  provider,
		LocalHost: "localhost",
		LocalPort: port,
	})
}

func key(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func sized(m Model) Model {
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return next.(Model)
}

func press(t *testing.T, m Model, k string) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(key(k))
	return next.(Model), cmd
}

func fixture() (*fakeBackend, *tunnel.Instance, *tunnel.Instance) {
	web := newTestInstance("t1", "web", tunnel.ProviderCloudflared, 3000)
	web.Logf("%s starting cloudflared", tunnel.MarkProgress)
	web.SetLive("https://quiet-river.trycloudflare.com")
	web.SetExtra("note", "Quick tunnels are rate limited")

	api := newTestInstance("t2", "api", tunnel.ProviderSSHRelay, 8080)
	api.Fail(context.DeadlineExceeded)

	return newFakeBackend(web, api), web, api
}

func TestNewDashboard_SelectsFirstTunnel(t *testing.T) {
	backend, _, _ := fixture()
	m := NewDashboard(backend, "tunneldash", nil)

	if m.selected != "t1" {
		t.Errorf("selected = %q, want t1", m.selected)
	}
	if m.stats.Live != 1 || m.stats.Error != 1 {
		t.Errorf("unexpected stats %+v", m.stats)
	}
	if m.View() != "Loading..." {
		t.Error("expected loading view before the first window size")
	}
}

func TestView(t *testing.T) {
	backend, _, _ := fixture()
	m := sized(NewDashboard(backend, "tunneldash", nil))

	view := m.View()
	for _, want := range []string{
		"tunneldash",
		"TUNNELS (2)",
		"web",
		"api",
		"https://quiet-river.trycloudflare.com",
		"context deadline exceeded",
		"http://localhost:3000",
		"Quick tunnels are rate limited",
		"LOGS web",
		"starting cloudflared",
		"[q]",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestView_Empty(t *testing.T) {
	m := sized(NewDashboard(newFakeBackend(), "tunneldash", nil))

	view := m.View()
	if !strings.Contains(view, "No tunnels") || !strings.Contains(view, "TUNNELS (0)") {
		t.Errorf("unexpected empty view:\n%s", view)
	}

	// Actions without a selection do nothing
	if _, cmd := press(t, m, "s"); cmd != nil {
		t.Error("expected no command without a selection")
	}
}

func TestSelection(t *testing.T) {
	backend, _, _ := fixture()
	m := sized(NewDashboard(backend, "tunneldash", nil))

	m, _ = press(t, m, "down")
	if m.selected != "t2" {
		t.Fatalf("selected = %q after down, want t2", m.selected)
	}
	m, _ = press(t, m, "j")
	if m.selected != "t2" {
		t.Errorf("selection should stop at the last row, got %q", m.selected)
	}
	if !strings.Contains(m.View(), "LOGS api") {
		t.Error("logs pane should follow the selection")
	}
	m, _ = press(t, m, "k")
	if m.selected != "t1" {
		t.Errorf("selected = %q after up, want t1", m.selected)
	}
}

func TestActions(t *testing.T) {
	tests := []struct {
		key       string
		wantCall  string
		wantFlash string
	}{
		{"s", "stop t1", "Stopped web"},
		{"r", "restart t1", "Restarted web"},
		{"d", "delete t1", "Deleted web"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			backend, _, _ := fixture()
			m := sized(NewDashboard(backend, "tunneldash", nil))

			m, cmd := press(t, m, tt.key)
			if cmd == nil {
				t.Fatal("expected a command")
			}
			msg := cmd()
			calls := backend.Calls()
			if len(calls) != 1 || calls[0] != tt.wantCall {
				t.Fatalf("calls = %v, want [%s]", calls, tt.wantCall)
			}

			next, _ := m.Update(msg)
			m = next.(Model)
			if m.flash != tt.wantFlash {
				t.Errorf("flash = %q, want %q", m.flash, tt.wantFlash)
			}
			if m.lastError != nil {
				t.Errorf("unexpected error %v", m.lastError)
			}
		})
	}
}

func TestActions_DeleteMovesSelection(t *testing.T) {
	backend, _, _ := fixture()
	m := sized(NewDashboard(backend, "tunneldash", nil))

	m, cmd := press(t, m, "d")
	next, _ := m.Update(cmd())
	m = next.(Model)

	if len(m.tunnels) != 1 || m.selected != "t2" {
		t.Errorf("expected selection to move to t2, got %q with %d tunnels", m.selected, len(m.tunnels))
	}
}

func TestActions_NotFound(t *testing.T) {
	backend, _, _ := fixture()
	m := sized(NewDashboard(backend, "tunneldash", nil))

	next, _ := m.Update(actionMsg{verb: "Stopped", name: "gone", ok: false})
	m = next.(Model)
	if m.lastError == nil || !strings.Contains(m.lastError.Error(), "not found") {
		t.Errorf("expected not found error, got %v", m.lastError)
	}
	if !strings.Contains(m.View(), "Error: Stopped gone") {
		t.Error("error should be shown in the help bar")
	}
}

func TestQuit_StopsAllTunnels(t *testing.T) {
	for _, k := range []string{"q", "ctrl+c"} {
		t.Run(k, func(t *testing.T) {
			backend, _, _ := fixture()
			m := sized(NewDashboard(backend, "tunneldash", nil))

			m, cmd := press(t, m, k)
			if !m.quitting || cmd == nil {
				t.Fatal("expected quitting with a stop command")
			}
			msg := cmd()
			if _, ok := msg.(stoppedAllMsg); !ok {
				t.Fatalf("expected stoppedAllMsg, got %T", msg)
			}
			if !backend.stopped {
				t.Error("StopAll was not called")
			}

			// Keys are ignored while shutting down
			if _, cmd := press(t, m, "s"); cmd != nil {
				t.Error("expected keys to be ignored while quitting")
			}

			_, cmd = m.Update(msg)
			if cmd == nil {
				t.Fatal("expected quit command")
			}
			if _, ok := cmd().(tea.QuitMsg); !ok {
				t.Error("expected tea.QuitMsg")
			}
		})
	}
}

func TestFocusAndOverlays(t *testing.T) {
	backend, _, _ := fixture()
	m := sized(NewDashboard(backend, "tunneldash", nil))

	m, _ = press(t, m, "tab")
	if m.focused != focusLogs {
		t.Errorf("focused = %d after tab, want logs", m.focused)
	}
	// Arrow keys scroll logs instead of moving the selection
	m, _ = press(t, m, "down")
	if m.selected != "t1" {
		t.Error("selection moved while logs focused")
	}

	m, _ = press(t, m, "l")
	if !m.fullscreen || !strings.Contains(m.View(), "fullscreen") {
		t.Error("expected fullscreen logs")
	}
	m, _ = press(t, m, "l")

	m, _ = press(t, m, "?")
	if !strings.Contains(m.View(), "KEYBOARD SHORTCUTS") {
		t.Error("expected help overlay")
	}
	m, _ = press(t, m, "x")
	if m.showHelp {
		t.Error("any key should close help")
	}
}

func TestEvents(t *testing.T) {
	backend, web, _ := fixture()
	m := sized(NewDashboard(backend, "tunneldash", nil))

	cmd := waitForEvent(backend.events)
	web.Logf("%s reconnected", tunnel.MarkWarning)
	backend.events <- tunnel.Event{Type: tunnel.EventUpdated, ID: "t1"}

	msg := cmd()
	if _, ok := msg.(eventMsg); !ok {
		t.Fatalf("expected eventMsg, got %T", msg)
	}
	next, follow := m.Update(msg)
	m = next.(Model)
	if follow == nil {
		t.Error("expected the next wait command")
	}
	if !strings.Contains(m.View(), "reconnected") {
		t.Error("new log line should be shown after an event")
	}

	m.unsubscribe()
	if _, ok := waitForEvent(backend.events)().(eventsClosedMsg); !ok {
		t.Error("expected eventsClosedMsg after unsubscribe")
	}
}

func TestTick_UpdatesUptime(t *testing.T) {
	backend, web, _ := fixture()
	m := sized(NewDashboard(backend, "tunneldash", nil))

	now := web.StartedAt().Add(90 * time.Second)
	next, cmd := m.Update(tickMsg(now))
	m = next.(Model)
	if cmd == nil {
		t.Error("expected the next tick")
	}
	if !strings.Contains(m.View(), "1m") {
		t.Error("expected uptime in the table")
	}
}

func TestAppLogs(t *testing.T) {
	hook := logging.NewHook(log.InfoLevel, 10)
	hook.Fire(&log.Entry{Time: time.Now(), Level: log.WarnLevel, Message: "relay keepalive failed"})

	backend, _, _ := fixture()
	m := sized(NewDashboard(backend, "tunneldash", hook))

	m, _ = press(t, m, "a")
	view := m.View()
	if !strings.Contains(view, "APPLICATION LOGS") || !strings.Contains(view, "relay keepalive failed") {
		t.Error("expected application logs in view")
	}

	// Without a hook the key does nothing
	m2 := sized(NewDashboard(newFakeBackend(), "tunneldash", nil))
	m2, _ = press(t, m2, "a")
	if m2.appLogs {
		t.Error("app logs enabled without a hook")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "-"},
		{45 * time.Second, "45s"},
		{5 * time.Minute, "5m"},
		{2*time.Hour + 5*time.Minute, "2h05m"},
		{50 * time.Hour, "2d"},
	}

	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%s) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestPrimaryURL(t *testing.T) {
	if got := primaryURL([]string{"http://a", "https://b"}); got != "https://b" {
		t.Errorf("primaryURL = %q", got)
	}
	if got := primaryURL(nil); got != "-" {
		t.Errorf("primaryURL(nil) = %q", got)
	}
}
