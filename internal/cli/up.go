package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bobbyrathoree/tunneldash/internal/config"
	"github.com/bobbyrathoree/tunneldash/internal/output"
	"github.com/bobbyrathoree/tunneldash/internal/tui"
	"github.com/bobbyrathoree/tunneldash/internal/tunnel"
)

var upCmd = &cobra.Command{
	Use:   "up [tunnel-name...]",
	Short: "Start the tunnels defined in tunneldash.yaml",
	Long: `Start every enabled tunnel in tunneldash.yaml, or only the named ones.

Tunnels start concurrently. Status changes are printed as they happen and a
summary table follows once every tunnel is live or has failed. Everything
is stopped on Ctrl+C.

Examples:
  tunneldash up                  # Start all enabled tunnels
  tunneldash up web api          # Start only web and api
  tunneldash up --dashboard      # Same, inside the interactive dashboard
  tunneldash up --ci -o json     # Print JSON and fail if any tunnel fails`,
	RunE: runUp,
}

func init() {
	upCmd.Flags().StringP("file", "f", "", "Path to tunneldash.yaml (default: ./tunneldash.yaml)")
	upCmd.Flags().Bool("dashboard", false, "Show the interactive dashboard")
	rootCmd.AddCommand(upCmd)
}

func runUp(cmd *cobra.Command, args []string) error {
	dashboard, _ := cmd.Flags().GetBool("dashboard")

	m, path, err := loadManifest(cmd)
	if err != nil {
		return err
	}
	specs, err := selectTunnels(m, args)
	if err != nil {
		return err
	}

	title := "tunneldash │ " + projectName(m, path)

	manager := newManager(app.settings)
	ctx, cancel := interruptContext(cmd.Context())
	defer cancel()

	if dashboard && !app.out.IsCIMode() {
		return runDashboard(ctx, manager, specs, title)
	}
	return runPlain(ctx, manager, specs)
}

// runPlain starts the tunnels, streams status changes and waits for Ctrl+C
func runPlain(ctx context.Context, manager *tunnel.Manager, specs []config.TunnelSpec) error {
	timer := output.NewTimer()
	events, unsubscribe := manager.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		streamStatus(events, app.out)
	}()

	app.out.Printf("%s Starting %d %s...\n", tunnel.MarkProgress, len(specs), plural(len(specs), "tunnel"))
	if err := startTunnels(ctx, manager, specs); err != nil {
		unsubscribe()
		<-done
		stopAll(manager)
		return err
	}
	unsubscribe()
	<-done

	stats := manager.Stats()
	if ctx.Err() == nil {
		app.out.Printf("\n")
		if err := app.out.WriteTunnels(snapshots(manager), stats, time.Now()); err != nil {
			return err
		}
		log.WithField("duration_ms", timer.ElapsedMs()).Debug("Tunnels started")
	}

	switch {
	case ctx.Err() != nil:
	case stats.Live == 0:
		stopAll(manager)
		return fmt.Errorf("no tunnel came up\n  → Run 'tunneldash doctor' to check the provider setup")
	case app.out.IsCIMode() && stats.Error > 0:
		stopAll(manager)
		return fmt.Errorf("%d of %d tunnels failed", stats.Error, stats.Total)
	default:
		app.out.Printf("\nPress Ctrl+C to stop\n")
		<-ctx.Done()
	}

	stopAll(manager)
	app.out.Printf("%s Stopped %d %s\n", tunnel.MarkStopped, stats.Total, plural(stats.Total, "tunnel"))
	return nil
}

// runDashboard starts the tunnels in the background and hands the terminal
// to the dashboard until the user quits
func runDashboard(ctx context.Context, manager *tunnel.Manager, specs []config.TunnelSpec, title string) error {
	startErr := make(chan error, 1)
	go func() {
		startErr <- startTunnels(ctx, manager, specs)
	}()

	err := tui.Run(ctx, manager, tui.Options{Title: title, CaptureLogs: true})
	stopAll(manager)
	if err != nil {
		return err
	}

	select {
	case err := <-startErr:
		if err != nil && ctx.Err() == nil {
			return err
		}
	default:
	}
	return nil
}

// startTunnels creates every tunnel concurrently and waits until each is
// live or failed. Only invalid requests are returned as errors.
func startTunnels(ctx context.Context, manager *tunnel.Manager, specs []config.TunnelSpec) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, spec := range specs {
		spec := spec
		g.Go(func() error {
			if _, err := manager.Create(gctx, spec.Request()); err != nil {
				return fmt.Errorf("tunnel %s: %w", spec.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// streamStatus prints one line per status change until events is closed
func streamStatus(events <-chan tunnel.Event, out *output.Writer) {
	last := make(map[string]tunnel.Status)
	for e := range events {
		s := e.Snapshot
		if e.Type == tunnel.EventDeleted || last[e.ID] == s.Status {
			continue
		}
		last[e.ID] = s.Status

		switch s.Status {
		case tunnel.StatusLive:
			out.Printf("  %s %-16s %s\n", tunnel.MarkLive, s.Config.Name, output.PrimaryURL(s.URLs))
		case tunnel.StatusError:
			out.Printf("  %s %-16s %s\n", tunnel.MarkFailed, s.Config.Name, s.Error)
		case tunnel.StatusStarting:
			out.Printf("  %s %-16s starting %s on %s\n", tunnel.MarkProgress, s.Config.Name, s.Config.Provider, s.Config.Target())
		}
	}
}

func snapshots(manager *tunnel.Manager) []tunnel.Snapshot {
	all := manager.GetAll()
	snaps := make([]tunnel.Snapshot, 0, len(all))
	for _, inst := range all {
		snaps = append(snaps, inst.Snapshot())
	}
	return snaps
}

// loadManifest reads tunneldash.yaml from --file or the working directory
func loadManifest(cmd *cobra.Command) (*config.Manifest, string, error) {
	file, _ := cmd.Flags().GetString("file")
	loader := config.NewLoader(".")

	var (
		m   *config.Manifest
		err error
	)
	if file != "" {
		m, err = loader.LoadFile(file)
	} else {
		m, err = loader.Load()
		file = loader.Path()
	}
	if err != nil {
		return nil, file, err
	}
	return m, file, nil
}

// selectTunnels returns the enabled tunnels, or exactly the named ones
func selectTunnels(m *config.Manifest, names []string) ([]config.TunnelSpec, error) {
	if len(names) == 0 {
		specs := m.Enabled()
		if len(specs) == 0 {
			return nil, fmt.Errorf("no enabled tunnels in %s\n  → Run 'tunneldash add <name> --port <port>' to add one", config.DefaultConfigFile)
		}
		return specs, nil
	}

	specs := make([]config.TunnelSpec, 0, len(names))
	for _, name := range names {
		spec, ok := m.Find(name)
		if !ok {
			return nil, fmt.Errorf("tunnel %q not found in %s", name, config.DefaultConfigFile)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// projectName is metadata.name, or the directory holding the manifest
func projectName(m *config.Manifest, path string) string {
	if m.Metadata.Name != "" {
		return m.Metadata.Name
	}
	if abs, err := filepath.Abs(path); err == nil {
		return filepath.Base(filepath.Dir(abs))
	}
	return filepath.Base(filepath.Dir(path))
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
