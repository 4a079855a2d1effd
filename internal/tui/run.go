package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	log "github.com/sirupsen/logrus"

	"github.com/bobbyrathoree/tunneldash/internal/logging"
)

// Options configures Run
type Options struct {
	Title string
	// CaptureLogs routes application logs into the dashboard while it owns
	// the terminal
	CaptureLogs bool
}

// Run shows the dashboard until the user quits or ctx is cancelled. Quitting
// from the keyboard stops every tunnel before returning.
func Run(ctx context.Context, backend Backend, opts Options) error {
	title := opts.Title
	if title == "" {
		title = "tunneldash"
	}

	var hook *logging.Hook
	if opts.CaptureLogs {
		hook = logging.NewHook(log.InfoLevel, maxLogLines)
		remove := hook.Install()
		defer remove()
	}
	restore := logging.Silence()
	defer restore()

	model := NewDashboard(backend, title, hook)
	defer model.unsubscribe()

	p := tea.NewProgram(
		model,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("dashboard error: %w", err)
	}
	return nil
}
