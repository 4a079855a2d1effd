package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/bobbyrathoree/tunneldash/internal/tunnel"
)

// Colors
var (
	ColorPrimary   = lipgloss.Color("86")  // Cyan
	ColorSecondary = lipgloss.Color("243") // Gray
	ColorSuccess   = lipgloss.Color("82")  // Green
	ColorWarning   = lipgloss.Color("214") // Orange
	ColorError     = lipgloss.Color("196") // Red
	ColorMuted     = lipgloss.Color("240") // Dark gray
	ColorHighlight = lipgloss.Color("212") // Pink/magenta
)

// Base styles
var (
	// Title bar
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	// Section headers
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			MarginBottom(1)

	// Panel border
	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorSecondary).
			Padding(0, 1)

	// Focused panel border
	FocusedPanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(ColorPrimary).
				Padding(0, 1)

	// Selected table row
	SelectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorHighlight)

	// Status indicators
	StatusRunning = lipgloss.NewStyle().
			Foreground(ColorSuccess).
			SetString("●")

	StatusPending = lipgloss.NewStyle().
			Foreground(ColorWarning).
			SetString("◌")

	StatusError = lipgloss.NewStyle().
			Foreground(ColorError).
			SetString("✗")

	StatusUnknown = lipgloss.NewStyle().
			Foreground(ColorMuted).
			SetString("■")

	// Labels
	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorSecondary)

	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	// Help bar
	HelpKeyStyle = lipgloss.NewStyle().
			Foreground(ColorPrimary).
			Bold(true)

	HelpDescStyle = lipgloss.NewStyle().
			Foreground(ColorSecondary)

	// Log line styles
	LogTimestampStyle = lipgloss.NewStyle().
				Foreground(ColorMuted)

	LogSourceStyle = lipgloss.NewStyle().
			Foreground(ColorPrimary)

	LogEventStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	LogLiveStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	// Error message
	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorError)
)

// StatusIcon returns the indicator for a tunnel status
func StatusIcon(status tunnel.Status) string {
	switch status {
	case tunnel.StatusLive:
		return StatusRunning.String()
	case tunnel.StatusStarting:
		return StatusPending.String()
	case tunnel.StatusError:
		return StatusError.String()
	default:
		return StatusUnknown.String()
	}
}

// StatusText renders a status name in its colour
func StatusText(status tunnel.Status) string {
	switch status {
	case tunnel.StatusLive:
		return lipgloss.NewStyle().Foreground(ColorSuccess).Render(string(status))
	case tunnel.StatusStarting:
		return lipgloss.NewStyle().Foreground(ColorWarning).Render(string(status))
	case tunnel.StatusError:
		return ErrorStyle.Render(string(status))
	default:
		return LabelStyle.Render(string(status))
	}
}

// LogLine colours a tunnel log line by its leading marker
func LogLine(line string) string {
	switch {
	case strings.HasPrefix(line, tunnel.MarkLive):
		return LogLiveStyle.Render(line)
	case strings.HasPrefix(line, tunnel.MarkFailed):
		return ErrorStyle.Render(line)
	case strings.HasPrefix(line, tunnel.MarkWarning):
		return LogEventStyle.Render(line)
	case strings.HasPrefix(line, tunnel.MarkProgress):
		return LogSourceStyle.Render(line)
	case strings.HasPrefix(line, tunnel.MarkStopped):
		return LogTimestampStyle.Render(line)
	}
	return line
}

// TruncateWithEllipsis truncates a string to maxLen runes and adds an
// ellipsis if needed
func TruncateWithEllipsis(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 1 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-1]) + "…"
}
