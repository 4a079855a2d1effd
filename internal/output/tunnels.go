package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"

	"github.com/bobbyrathoree/tunneldash/internal/secrets"
	"github.com/bobbyrathoree/tunneldash/internal/tunnel"
)

// BasicAuthUser is the username providers attach to password-protected tunnels
const BasicAuthUser = "tunnel"

// TunnelResult is the structured view of a tunnel. Credentials are masked.
type TunnelResult struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Provider      string            `json:"provider"`
	Status        string            `json:"status"`
	URLs          []string          `json:"urls"`
	Local         string            `json:"local"`
	Mode          string            `json:"mode,omitempty"`
	Token         string            `json:"token,omitempty"`
	Password      string            `json:"password,omitempty"`
	UptimeSeconds int64             `json:"uptimeSeconds"`
	Error         string            `json:"error,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// TunnelList is the structured view of several tunnels
type TunnelList struct {
	Tunnels    []TunnelResult `json:"tunnels"`
	Stats      tunnel.Stats   `json:"stats"`
	DurationMs int64          `json:"duration_ms,omitempty"`
}

// NewTunnelResult converts a snapshot for output
func NewTunnelResult(s tunnel.Snapshot, now time.Time) TunnelResult {
	var uptime time.Duration
	if s.Status == tunnel.StatusLive && !s.StartedAt.IsZero() {
		uptime = now.Sub(s.StartedAt)
	}
	urls := s.URLs
	if urls == nil {
		urls = []string{}
	}
	return TunnelResult{
		ID:            s.Config.ID,
		Name:          s.Config.Name,
		Provider:      string(s.Config.Provider),
		Status:        string(s.Status),
		URLs:          urls,
		Local:         s.Config.TargetURL(),
		Mode:          string(s.Config.Mode),
		Token:         secrets.Mask(s.Config.Token),
		Password:      secrets.Mask(s.Password),
		UptimeSeconds: int64(uptime / time.Second),
		Error:         s.Error,
		Extra:         s.Extra,
	}
}

// StatusIcon returns the marker shown next to a status
func StatusIcon(s tunnel.Status) string {
	switch s {
	case tunnel.StatusLive:
		return "●"
	case tunnel.StatusStarting:
		return "◌"
	case tunnel.StatusError:
		return "✗"
	case tunnel.StatusClosed:
		return "■"
	}
	return "?"
}

// FormatUptime renders a duration the way people say it ("3 minutes")
func FormatUptime(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	now := time.Now()
	return strings.TrimSpace(humanize.RelTime(now.Add(-d), now, "", ""))
}

// PrimaryURL returns the first URL, preferring https
func PrimaryURL(urls []string) string {
	for _, u := range urls {
		if strings.HasPrefix(u, "https://") {
			return u
		}
	}
	if len(urls) > 0 {
		return urls[0]
	}
	return ""
}

// WriteTunnels writes a tunnel table or its structured form
func (w *Writer) WriteTunnels(snaps []tunnel.Snapshot, stats tunnel.Stats, now time.Time) error {
	if w.IsStructured() {
		list := TunnelList{Tunnels: make([]TunnelResult, 0, len(snaps)), Stats: stats}
		for _, s := range snaps {
			list.Tunnels = append(list.Tunnels, NewTunnelResult(s, now))
		}
		return w.Encode(list)
	}

	if len(snaps) == 0 {
		fmt.Fprintln(w.out, "No tunnels.")
		return nil
	}

	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("NAME", "PROVIDER", "STATUS", "URL", "LOCAL", "UPTIME")
	for _, s := range snaps {
		r := NewTunnelResult(s, now)
		url := PrimaryURL(s.URLs)
		if s.Status == tunnel.StatusError {
			url = s.Error
		}
		table.AddRow(r.Name, r.Provider, StatusIcon(s.Status)+" "+r.Status, url, s.Config.Target(),
			FormatUptime(time.Duration(r.UptimeSeconds)*time.Second))
	}
	fmt.Fprintln(w.out, table)
	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, FormatStats(stats))
	return nil
}

// FormatStats renders stats on one line
func FormatStats(s tunnel.Stats) string {
	return fmt.Sprintf("%d %s: %d live, %d starting, %d error, %d closed",
		s.Total, pluralize(s.Total, "tunnel"), s.Live, s.Starting, s.Error, s.Closed)
}

func pluralize(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

var (
	shareBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("82")).
			Padding(0, 2)
	shareLabel = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Width(10)
	shareURL   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
)

// WriteShare announces a live tunnel. Decorated output gets a box; CI and
// pipes get the bare URL so it can be captured.
func (w *Writer) WriteShare(s tunnel.Snapshot) error {
	if w.IsStructured() {
		r := NewTunnelResult(s, s.StartedAt)
		r.Password = s.Password
		return w.Encode(r)
	}

	if !w.Decorated() {
		for _, u := range s.URLs {
			fmt.Fprintln(w.out, u)
		}
		return nil
	}

	row := func(label, value string) string {
		return shareLabel.Render(label) + value
	}
	lines := []string{
		row("Public", shareURL.Render(PrimaryURL(s.URLs))),
	}
	for _, u := range s.URLs {
		if u != PrimaryURL(s.URLs) {
			lines = append(lines, row("", u))
		}
	}
	lines = append(lines, row("Local", s.Config.TargetURL()))
	lines = append(lines, row("Provider", string(s.Config.Provider)))
	if s.Password != "" {
		lines = append(lines, row("Auth", BasicAuthUser+" / "+s.Password))
	}
	if note := s.Extra["note"]; note != "" {
		lines = append(lines, row("Note", note))
	}
	if inspector := s.Extra["inspector"]; inspector != "" {
		lines = append(lines, row("Inspector", inspector))
	}

	fmt.Fprintln(w.out, shareBox.Render(strings.Join(lines, "\n")))
	return nil
}
