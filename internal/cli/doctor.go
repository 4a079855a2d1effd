package cli

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bobbyrathoree/tunneldash/internal/config"
	"github.com/bobbyrathoree/tunneldash/internal/output"
	"github.com/bobbyrathoree/tunneldash/internal/tunnel"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check your tunneldash setup and diagnose issues",
	Long: `Diagnose your tunneldash setup by checking:
  - Provider CLIs (cloudflared, ngrok) and their versions
  - Provider credentials from settings and environment
  - SSH relay reachability and the ngrok inspector port
  - Settings file and tunneldash.yaml in the current directory
  - Optional tools (sops)`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	s := app.settings
	app.out.Printf("tunneldash doctor - checking your setup\n\n")

	var checks []output.Check

	// Provider CLIs
	for _, name := range []tunnel.ProviderName{tunnel.ProviderCloudflared, tunnel.ProviderNgrok} {
		checks = append(checks, checkTool(s.Binary(name), tunnel.Catalog[name]))
	}

	// Credentials
	for _, name := range []tunnel.ProviderName{tunnel.ProviderNgrokGo, tunnel.ProviderCloudflared} {
		checks = append(checks, checkCredential(s, tunnel.Catalog[name]))
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	checks = append(checks, checkRelay(ctx, s.SSHRelayHost))
	checks = append(checks, checkInspectorPort(ctx, s.NgrokInspectorAddr))

	checks = append(checks, checkOptionalTool("sops", "optional, for encrypted --env-file"))
	checks = append(checks, checkSettings(s))
	checks = append(checks, checkManifest())

	if err := app.out.WriteChecks(checks); err != nil {
		return err
	}

	if report := output.NewCheckReport(checks); !report.OK && app.out.IsCIMode() {
		return fmt.Errorf("doctor found problems")
	}
	return nil
}

func checkTool(binary string, info tunnel.ProviderInfo) output.Check {
	path, err := exec.LookPath(binary)
	if err != nil {
		return output.Check{
			Name:    binary,
			Status:  output.CheckWarn,
			Message: fmt.Sprintf("not found (needed for the %s provider)", info.Name),
			Hint:    "Install from " + info.InstallURL,
		}
	}

	return output.Check{
		Name:    binary,
		Status:  output.CheckOK,
		Message: fmt.Sprintf("%s (%s)", toolVersion(path), path),
	}
}

func checkOptionalTool(name, description string) output.Check {
	path, err := exec.LookPath(name)
	if err != nil {
		return output.Check{
			Name:    name,
			Status:  output.CheckWarn,
			Message: fmt.Sprintf("not found (%s)", description),
		}
	}
	return output.Check{
		Name:    name,
		Status:  output.CheckOK,
		Message: fmt.Sprintf("%s (%s)", toolVersion(path), path),
	}
}

// toolVersion returns the first line of `<tool> --version`
func toolVersion(path string) string {
	out, err := exec.Command(path, "--version").Output()
	if err != nil || len(out) == 0 {
		return "found"
	}

	// Just take first line, truncate if needed
	version := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	if len(version) > 50 {
		version = version[:50] + "..."
	}
	return version
}

func checkCredential(s *config.Settings, info tunnel.ProviderInfo) output.Check {
	name := fmt.Sprintf("%s credential", info.Name)
	if s.HasCredential(info.Name) {
		return output.Check{Name: name, Status: output.CheckOK, Message: "set"}
	}
	return output.Check{
		Name:    name,
		Status:  output.CheckWarn,
		Message: "not set",
		Hint:    fmt.Sprintf("Set %s, pass --token, or use --env-file", info.TokenEnv),
	}
}

func checkRelay(ctx context.Context, addr string) output.Check {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return output.Check{
			Name:    "sshrelay host",
			Status:  output.CheckWarn,
			Message: fmt.Sprintf("%s unreachable: %v", addr, err),
			Hint:    "Check your network or set sshrelay.host",
		}
	}
	conn.Close()
	return output.Check{Name: "sshrelay host", Status: output.CheckOK, Message: addr + " reachable"}
}

// checkInspectorPort warns when something already listens on the ngrok
// inspector address; the ngrok provider would read that agent's tunnels
func checkInspectorPort(ctx context.Context, addr string) output.Check {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return output.Check{Name: "ngrok inspector", Status: output.CheckOK, Message: addr + " free"}
	}
	conn.Close()
	return output.Check{
		Name:    "ngrok inspector",
		Status:  output.CheckWarn,
		Message: addr + " already in use",
		Hint:    "Stop other ngrok agents or set ngrok.inspector_addr",
	}
}

func checkSettings(s *config.Settings) output.Check {
	if s.File == "" {
		return output.Check{Name: "settings", Status: output.CheckOK, Message: "defaults (no settings file)"}
	}
	return output.Check{Name: "settings", Status: output.CheckOK, Message: s.File}
}

func checkManifest() output.Check {
	loader := config.NewLoader(".")
	if !loader.HasConfigFile() {
		return output.Check{
			Name:    config.DefaultConfigFile,
			Status:  output.CheckWarn,
			Message: "not found in current directory",
			Hint:    "Run 'tunneldash add <name> --port <port>' to create one",
		}
	}

	m, err := loader.Load()
	if err != nil {
		return output.Check{
			Name:    config.DefaultConfigFile,
			Status:  output.CheckFail,
			Message: "invalid",
			Hint:    "Run 'tunneldash validate' for details",
		}
	}
	return output.Check{
		Name:    config.DefaultConfigFile,
		Status:  output.CheckOK,
		Message: fmt.Sprintf("%d %s", len(m.Tunnels), plural(len(m.Tunnels), "tunnel")),
	}
}
