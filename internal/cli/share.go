package cli

import (
	"fmt"
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bobbyrathoree/tunneldash/internal/config"
	"github.com/bobbyrathoree/tunneldash/internal/tunnel"
)

var shareCmd = &cobra.Command{
	Use:   "share [port | tunnel-name]",
	Short: "Share a local port via a public URL",
	Long: `Create a public URL for a service running on this machine.

The tunnel stays up until you press Ctrl+C. The argument is either a port
or the name of a tunnel defined in tunneldash.yaml.

Authentication:
  cloudflared quick tunnels and the SSH relay need no account.
  ngrok needs NGROK_AUTHTOKEN (or --token). Get a token at ngrok.com

Examples:
  tunneldash share 3000                      # cloudflared quick tunnel
  tunneldash share 3000 -p sshrelay          # SSH relay, nothing to install
  tunneldash share 8080 -p ngrok --secret pw # Password protected ngrok tunnel
  tunneldash share api                       # Tunnel "api" from tunneldash.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runShare,
}

func init() {
	addTunnelFlags(shareCmd, string(tunnel.ProviderCloudflared))
	rootCmd.AddCommand(shareCmd)
}

func runShare(cmd *cobra.Command, args []string) error {
	spec, err := resolveShareTarget(cmd, args)
	if err != nil {
		return err
	}

	manager := newManager(app.settings)
	ctx, cancel := interruptContext(cmd.Context())
	defer cancel()

	events, unsubscribe := manager.Subscribe()
	defer unsubscribe()

	app.out.Printf("%s Starting %s tunnel to %s:%d...\n", tunnel.MarkProgress, spec.Provider, spec.Host, spec.Port)

	inst, err := manager.Create(ctx, spec.Request())
	if err != nil {
		return fmt.Errorf("cannot create tunnel: %w", err)
	}

	if inst.Status() != tunnel.StatusLive {
		stopAll(manager)
		if ctx.Err() != nil {
			return nil
		}
		printLogTail(inst, 10)
		return fmt.Errorf("%s tunnel failed: %s\n  → Run 'tunneldash doctor' to check the provider setup", spec.Provider, inst.Error())
	}

	if err := app.out.WriteShare(inst.Snapshot()); err != nil {
		return err
	}
	app.out.Printf("\nPress Ctrl+C to stop\n")

	// Run until interrupted or the tunnel dies
	var failure error
	for failure == nil && ctx.Err() == nil {
		select {
		case <-ctx.Done():
		case e, ok := <-events:
			if !ok {
				cancel()
				break
			}
			if e.ID == inst.ID() && e.Snapshot.Status == tunnel.StatusError {
				failure = fmt.Errorf("tunnel %s failed: %s", spec.Name, e.Snapshot.Error)
			}
		}
	}

	log.WithField("tunnel", inst.ID()).Debug("Shutting down")
	stopAll(manager)
	app.out.Printf("%s Stopped %s\n", tunnel.MarkStopped, spec.Name)
	return failure
}

// resolveShareTarget builds the tunnel from the argument and flags. A
// numeric argument is a port; anything else names a manifest tunnel.
func resolveShareTarget(cmd *cobra.Command, args []string) (config.TunnelSpec, error) {
	var spec config.TunnelSpec

	if len(args) > 0 {
		if port, err := strconv.Atoi(args[0]); err == nil {
			spec.Port = port
		} else {
			m, err := config.NewLoader(".").Load()
			if err != nil {
				return spec, err
			}
			found, ok := m.Find(args[0])
			if !ok {
				return spec, fmt.Errorf("tunnel %q not found in %s\n  → Run 'tunneldash add %s --port <port>' to define it", args[0], config.DefaultConfigFile, args[0])
			}
			spec = found
		}
	}

	spec = applyTunnelFlags(cmd, spec)
	if spec.Port == 0 {
		return spec, fmt.Errorf("no port specified\n\n" +
			"Usage:\n" +
			"  tunneldash share <port>          # Share a local port\n" +
			"  tunneldash share <tunnel-name>   # Share a tunnel from tunneldash.yaml")
	}

	if errs := config.ValidateTunnel(spec, "tunnel"); len(errs) > 0 {
		return spec, errs
	}
	return spec, nil
}

// printLogTail shows the last lines of a tunnel's log on stderr
func printLogTail(inst *tunnel.Instance, n int) {
	logs := inst.Logs()
	if len(logs) > n {
		logs = logs[len(logs)-n:]
	}
	for _, line := range logs {
		fmt.Fprintf(os.Stderr, "  %s\n", line)
	}
}
