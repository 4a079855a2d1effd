package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bobbyrathoree/tunneldash/internal/config"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard [tunnel-name...]",
	Short: "Launch the interactive tunnel dashboard",
	Long: `Start tunnels inside a terminal UI for real-time monitoring.

Tunnels come from tunneldash.yaml. Without a manifest, --port starts a single
tunnel described by flags.

Features:
  - Live status, public URL and uptime of every tunnel
  - Log stream of the selected tunnel
  - Stop, restart and delete tunnels without leaving the dashboard

Controls:
  ↑/↓       Select tunnel
  s         Stop selected tunnel
  r         Restart selected tunnel
  d         Delete selected tunnel
  Tab       Switch between tunnels and logs panes
  l         Toggle fullscreen logs
  a         Toggle application logs
  ?         Show help
  q         Stop all tunnels and quit

Examples:
  tunneldash dashboard               # All enabled tunnels from tunneldash.yaml
  tunneldash dashboard web           # Only the web tunnel
  tunneldash dashboard --port 3000   # One cloudflared quick tunnel`,
	RunE: runDashboardCmd,
}

func init() {
	dashboardCmd.Flags().StringP("file", "f", "", "Path to tunneldash.yaml (default: ./tunneldash.yaml)")
	addTunnelFlags(dashboardCmd, "cloudflared")
	rootCmd.AddCommand(dashboardCmd)
}

func runDashboardCmd(cmd *cobra.Command, args []string) error {
	if app.out.IsCIMode() {
		return fmt.Errorf("the dashboard needs an interactive terminal\n  → Use 'tunneldash up' in CI")
	}

	var (
		specs []config.TunnelSpec
		title string
	)

	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		spec := applyTunnelFlags(cmd, config.TunnelSpec{})
		if errs := config.ValidateTunnel(spec, "tunnel"); len(errs) > 0 {
			return errs
		}
		specs = []config.TunnelSpec{spec}
		title = "tunneldash │ " + spec.Name
	} else {
		m, path, err := loadManifest(cmd)
		if err != nil {
			return fmt.Errorf("%w\n\n"+
				"Usage:\n"+
				"  tunneldash dashboard               # Tunnels from tunneldash.yaml\n"+
				"  tunneldash dashboard --port 3000   # One tunnel from flags", err)
		}
		specs, err = selectTunnels(m, args)
		if err != nil {
			return err
		}
		title = "tunneldash │ " + projectName(m, path)
	}

	manager := newManager(app.settings)
	ctx, cancel := interruptContext(cmd.Context())
	defer cancel()

	return runDashboard(ctx, manager, specs, title)
}
