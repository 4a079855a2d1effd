package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/bobbyrathoree/tunneldash/internal/logging"
	"github.com/bobbyrathoree/tunneldash/internal/tui/components"
	"github.com/bobbyrathoree/tunneldash/internal/tunnel"
)

const (
	refreshInterval = time.Second
	maxLogLines     = 1000
	actionTimeout   = 30 * time.Second
)

// Focus panels
const (
	focusTunnels = iota
	focusLogs
)

// Backend is the part of the tunnel manager the dashboard drives
type Backend interface {
	GetAll() []*tunnel.Instance
	Stats() tunnel.Stats
	Stop(ctx context.Context, id string) bool
	Restart(ctx context.Context, id string) (*tunnel.Instance, bool)
	Delete(ctx context.Context, id string) bool
	StopAll(ctx context.Context)
	Subscribe() (<-chan tunnel.Event, func())
}

// Model is the main Bubbletea model for the dashboard
type Model struct {
	backend Backend
	title   string
	hook    *logging.Hook

	// Data
	tunnels  []tunnel.Snapshot
	stats    tunnel.Stats
	selected string
	now      time.Time

	// UI state
	focused       int
	fullscreen    bool
	appLogs       bool
	width, height int
	lastError     error
	flash         string
	showHelp      bool
	quitting      bool

	// Components
	logsViewport viewport.Model
	logsFor      string

	events      <-chan tunnel.Event
	unsubscribe func()
}

// Message types
type eventMsg tunnel.Event
type eventsClosedMsg struct{}
type tickMsg time.Time
type actionMsg struct {
	verb string
	name string
	ok   bool
}
type stoppedAllMsg struct{}

// NewDashboard creates a new dashboard model. hook may be nil; when set the
// logs pane can switch to application logs.
func NewDashboard(backend Backend, title string, hook *logging.Hook) Model {
	vp := viewport.New(80, 10)
	vp.SetContent("")

	events, unsubscribe := backend.Subscribe()
	m := Model{
		backend:      backend,
		title:        title,
		hook:         hook,
		logsViewport: vp,
		focused:      focusTunnels,
		events:       events,
		unsubscribe:  unsubscribe,
		now:          time.Now(),
	}
	m.refresh()
	return m
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		waitForEvent(m.events),
		m.tick(),
	)
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateViewportSize()
		m.updateLogsContent(true)
		return m, nil

	case eventMsg:
		m.refresh()
		return m, waitForEvent(m.events)

	case eventsClosedMsg:
		return m, nil

	case tickMsg:
		m.now = time.Time(msg)
		m.refresh()
		return m, m.tick()

	case actionMsg:
		if msg.ok {
			m.flash = fmt.Sprintf("%s %s", msg.verb, msg.name)
			m.lastError = nil
		} else {
			m.lastError = fmt.Errorf("%s %s: tunnel not found", msg.verb, msg.name)
		}
		m.refresh()
		return m, nil

	case stoppedAllMsg:
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
		return m, tea.Quit

	}

	if m.focused == focusLogs {
		var cmd tea.Cmd
		m.logsViewport, cmd = m.logsViewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// handleKeyPress handles keyboard input
func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.quitting {
		return m, nil
	}
	if m.showHelp {
		m.showHelp = false
		return m, nil
	}

	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		m.flash = "Stopping all tunnels..."
		return m, m.stopAll()

	case "tab":
		m.focused = (m.focused + 1) % 2
		return m, nil

	case "l":
		m.fullscreen = !m.fullscreen
		m.updateViewportSize()
		return m, nil

	case "a":
		if m.hook != nil {
			m.appLogs = !m.appLogs
			m.updateLogsContent(true)
		}
		return m, nil

	case "?":
		m.showHelp = true
		return m, nil

	case "s":
		return m, m.act("Stopped", func(ctx context.Context, id string) bool {
			return m.backend.Stop(ctx, id)
		})

	case "r":
		return m, m.act("Restarted", func(ctx context.Context, id string) bool {
			_, ok := m.backend.Restart(ctx, id)
			return ok
		})

	case "d":
		return m, m.act("Deleted", func(ctx context.Context, id string) bool {
			return m.backend.Delete(ctx, id)
		})

	case "up", "k":
		if m.focused == focusLogs {
			m.logsViewport.LineUp(1)
		} else {
			m.moveSelection(-1)
		}
		return m, nil

	case "down", "j":
		if m.focused == focusLogs {
			m.logsViewport.LineDown(1)
		} else {
			m.moveSelection(1)
		}
		return m, nil

	case "pgup":
		m.logsViewport.ViewUp()
		return m, nil

	case "pgdown":
		m.logsViewport.ViewDown()
		return m, nil
	}

	return m, nil
}

// View renders the UI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	if m.showHelp {
		return m.renderHelp()
	}

	if m.fullscreen {
		return m.renderFullscreenLogs()
	}

	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	b.WriteString(m.renderTunnels())
	b.WriteString("\n")

	b.WriteString(m.renderLogs())
	b.WriteString("\n")

	b.WriteString(m.renderHelpBar())

	return b.String()
}

// renderHeader renders the title bar with stats
func (m Model) renderHeader() string {
	title := components.TitleStyle.Render(m.title)
	s := m.stats
	stats := fmt.Sprintf("%s %d live  %s %d starting  %s %d error  %s %d closed",
		components.StatusIcon(tunnel.StatusLive), s.Live,
		components.StatusIcon(tunnel.StatusStarting), s.Starting,
		components.StatusIcon(tunnel.StatusError), s.Error,
		components.StatusIcon(tunnel.StatusClosed), s.Closed,
	)

	left := fmt.Sprintf("%s │ %s", title, stats)
	right := components.HelpKeyStyle.Render("[?]") + " " + components.HelpDescStyle.Render("help")

	padding := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if padding < 0 {
		padding = 0
	}

	return left + strings.Repeat(" ", padding) + right
}

// renderTunnels renders the tunnel table and details of the selection
func (m Model) renderTunnels() string {
	var content strings.Builder

	content.WriteString(components.HeaderStyle.Render(fmt.Sprintf("TUNNELS (%d)", len(m.tunnels))))
	content.WriteString("\n")

	if len(m.tunnels) == 0 {
		content.WriteString(components.LabelStyle.Render("No tunnels"))
	}

	urlWidth := m.width - 64
	if urlWidth < 20 {
		urlWidth = 20
	}
	for _, s := range m.tunnels {
		url := primaryURL(s.URLs)
		if s.Status == tunnel.StatusError {
			url = components.ErrorStyle.Render(components.TruncateWithEllipsis(s.Error, urlWidth))
		} else {
			url = components.TruncateWithEllipsis(url, urlWidth)
		}
		name := fmt.Sprintf("%-20s", components.TruncateWithEllipsis(s.Config.Name, 20))
		if s.Config.ID == m.selected {
			name = components.SelectedStyle.Render(name)
		}
		line := fmt.Sprintf("%s %s %-12s %-8s %-7s %s",
			components.StatusIcon(s.Status),
			name,
			s.Config.Provider,
			s.Status,
			formatDuration(m.uptime(s)),
			url,
		)
		if s.Config.ID == m.selected {
			line = "▸ " + line
		} else {
			line = "  " + line
		}
		content.WriteString(line)
		content.WriteString("\n")
	}

	if sel, ok := m.selectedSnapshot(); ok {
		content.WriteString("\n")
		content.WriteString(components.LabelStyle.Render("Status: ") + components.StatusText(sel.Status))
		content.WriteString("  " + components.LabelStyle.Render("Local: ") + components.ValueStyle.Render(sel.Config.TargetURL()))
		if sel.Password != "" {
			content.WriteString("  " + components.LabelStyle.Render("Auth: ") + components.ValueStyle.Render("tunnel / "+sel.Password))
		}
		if note := sel.Extra["note"]; note != "" {
			content.WriteString("\n" + components.LabelStyle.Render("Note: ") + note)
		}
	}

	style := components.PanelStyle
	if m.focused == focusTunnels {
		style = components.FocusedPanelStyle
	}

	return style.Width(m.width - 2).Render(content.String())
}

// renderLogs renders the logs panel
func (m Model) renderLogs() string {
	header := "LOGS"
	if m.appLogs {
		header = "APPLICATION LOGS"
	} else if sel, ok := m.selectedSnapshot(); ok {
		header = fmt.Sprintf("LOGS %s (%d lines)", sel.Config.Name, len(sel.Logs))
	}

	style := components.PanelStyle
	if m.focused == focusLogs {
		style = components.FocusedPanelStyle
	}

	content := components.HeaderStyle.Render(header) + "\n" + m.logsViewport.View()
	return style.Width(m.width - 2).Render(content)
}

// renderFullscreenLogs renders logs in fullscreen mode
func (m Model) renderFullscreenLogs() string {
	header := components.TitleStyle.Render("LOGS - Press 'l' to exit fullscreen")
	return header + "\n\n" + m.logsViewport.View() + "\n\n" + m.renderHelpBar()
}

// renderHelp renders the help overlay
func (m Model) renderHelp() string {
	help := `
KEYBOARD SHORTCUTS

  Navigation
  ──────────
  ↑/↓ or j/k Select tunnel / scroll logs
  Tab        Switch between tunnels and logs panes
  PgUp/PgDn  Page through logs

  Actions
  ───────
  s          Stop selected tunnel
  r          Restart selected tunnel
  d          Delete selected tunnel
  l          Toggle fullscreen logs
  a          Toggle application logs

  General
  ───────
  ?          Toggle this help
  q          Stop all tunnels and quit

Press any key to close help...
`
	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(components.ColorPrimary).
		Padding(1, 2).
		Width(50)

	return lipgloss.Place(
		m.width, m.height,
		lipgloss.Center, lipgloss.Center,
		style.Render(help),
	)
}

// renderHelpBar renders the bottom help bar
func (m Model) renderHelpBar() string {
	items := []string{
		components.HelpKeyStyle.Render("[s]") + " " + components.HelpDescStyle.Render("stop"),
		components.HelpKeyStyle.Render("[r]") + " " + components.HelpDescStyle.Render("restart"),
		components.HelpKeyStyle.Render("[d]") + " " + components.HelpDescStyle.Render("delete"),
		components.HelpKeyStyle.Render("[l]") + " " + components.HelpDescStyle.Render("fullscreen logs"),
		components.HelpKeyStyle.Render("[Tab]") + " " + components.HelpDescStyle.Render("switch pane"),
		components.HelpKeyStyle.Render("[q]") + " " + components.HelpDescStyle.Render("quit"),
	}

	if m.flash != "" {
		items = append([]string{components.LogLiveStyle.Render(m.flash)}, items...)
	}
	if m.lastError != nil {
		items = append([]string{components.ErrorStyle.Render("Error: " + m.lastError.Error())}, items...)
	}

	return "  " + strings.Join(items, "  ")
}

// Helper methods

func (m *Model) refresh() {
	all := m.backend.GetAll()
	m.tunnels = make([]tunnel.Snapshot, 0, len(all))
	for _, inst := range all {
		m.tunnels = append(m.tunnels, inst.Snapshot())
	}
	m.stats = m.backend.Stats()

	if _, ok := m.selectedSnapshot(); !ok {
		m.selected = ""
		if len(m.tunnels) > 0 {
			m.selected = m.tunnels[0].Config.ID
		}
	}
	m.updateLogsContent(false)
}

func (m *Model) moveSelection(delta int) {
	if len(m.tunnels) == 0 {
		return
	}
	idx := 0
	for i, s := range m.tunnels {
		if s.Config.ID == m.selected {
			idx = i
		}
	}
	idx += delta
	if idx < 0 {
		idx = 0
	}
	if idx >= len(m.tunnels) {
		idx = len(m.tunnels) - 1
	}
	m.selected = m.tunnels[idx].Config.ID
	m.updateLogsContent(true)
}

func (m Model) selectedSnapshot() (tunnel.Snapshot, bool) {
	for _, s := range m.tunnels {
		if s.Config.ID == m.selected {
			return s, true
		}
	}
	return tunnel.Snapshot{}, false
}

func (m Model) uptime(s tunnel.Snapshot) time.Duration {
	if s.Status != tunnel.StatusLive || s.StartedAt.IsZero() {
		return 0
	}
	return m.now.Sub(s.StartedAt)
}

func (m *Model) updateViewportSize() {
	// Header (1) + tunnels panel (rows + details + borders) + help bar (1)
	usedHeight := 12 + len(m.tunnels)
	availableHeight := m.height - usedHeight
	if availableHeight < 5 {
		availableHeight = 5
	}

	if m.fullscreen {
		availableHeight = m.height - 4
	}

	m.logsViewport.Width = m.width - 6
	m.logsViewport.Height = availableHeight
}

// updateLogsContent renders the selected tunnel's log, or the application
// log, keeping the scroll position unless the view was at the bottom
func (m *Model) updateLogsContent(force bool) {
	key := m.selected
	if m.appLogs {
		key = "app"
	}

	var lines []string
	if m.appLogs && m.hook != nil {
		for _, e := range m.hook.Events() {
			lines = append(lines, e.String())
		}
	} else if sel, ok := m.selectedSnapshot(); ok {
		lines = sel.Logs
	}
	if len(lines) > maxLogLines {
		lines = lines[len(lines)-maxLogLines:]
	}

	var content strings.Builder
	for _, line := range lines {
		content.WriteString(components.LogLine(line))
		content.WriteString("\n")
	}

	follow := force || key != m.logsFor || m.logsViewport.AtBottom()
	m.logsViewport.SetContent(content.String())
	m.logsFor = key
	if follow {
		m.logsViewport.GotoBottom()
	}
}

// Commands

func waitForEvent(ch <-chan tunnel.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg(e)
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// act runs an action against the selected tunnel off the UI goroutine
func (m Model) act(verb string, fn func(ctx context.Context, id string) bool) tea.Cmd {
	sel, ok := m.selectedSnapshot()
	if !ok {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return actionMsg{verb: verb, name: sel.Config.Name, ok: fn(ctx, sel.Config.ID)}
	}
}

func (m Model) stopAll() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		m.backend.StopAll(ctx)
		return stoppedAllMsg{}
	}
}

func primaryURL(urls []string) string {
	for _, u := range urls {
		if strings.HasPrefix(u, "https://") {
			return u
		}
	}
	if len(urls) > 0 {
		return urls[0]
	}
	return "-"
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}
