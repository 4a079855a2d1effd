package cli

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bobbyrathoree/tunneldash/internal/config"
	"github.com/bobbyrathoree/tunneldash/internal/logging"
	"github.com/bobbyrathoree/tunneldash/internal/output"
	"github.com/bobbyrathoree/tunneldash/internal/process"
	"github.com/bobbyrathoree/tunneldash/internal/secrets"
	"github.com/bobbyrathoree/tunneldash/internal/tunnel"
)

var (
	// Version information set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "tunneldash",
	Short: "Public URLs for local ports, from any tunnel provider",
	Long: `tunneldash - one dashboard for cloudflared, ngrok and SSH relay tunnels

Start, watch and stop public tunnels to services on your machine:
  tunneldash share   Share one local port right now
  tunneldash up      Start every tunnel in tunneldash.yaml
  tunneldash dashboard  Start tunnels inside an interactive dashboard

Which command should I use?
  tunneldash share   → Quick one-off link for a demo or a webhook.
  tunneldash up      → A project with several services, or CI.

Get started:
  tunneldash share --port 3000          # Quick cloudflared tunnel
  tunneldash add web --port 3000        # Save it in tunneldash.yaml
  tunneldash doctor                     # Check installed providers`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: teardown,
}

// Execute runs the root command
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Settings file (default: ~/.tunneldash/config.yaml)")
	rootCmd.PersistentFlags().String("env-file", "", "Load environment variables from a dotenv or sops file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")

	// CI mode flags
	rootCmd.PersistentFlags().Bool("ci", false, "CI mode: no prompts, clean exit codes, minimal output")
	rootCmd.PersistentFlags().StringP("output", "o", "text", "Output format: text, json, yaml")
}

// env is the state shared by every command, built once before it runs
type env struct {
	settings *config.Settings
	out      *output.Writer
	closeLog func() error
}

var app *env

// setup loads the env file, settings and logging for the command being run
func setup(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(GetOutputFormat(cmd))
	if err != nil {
		return err
	}

	if envFile, _ := cmd.Flags().GetString("env-file"); envFile != "" {
		keys, err := secrets.LoadAndApply(envFile)
		if err != nil {
			return err
		}
		defer log.WithField("file", envFile).Debugf("Loaded %d variables", len(keys))
	}

	settingsPath, _ := cmd.Flags().GetString("config")
	settings, err := config.LoadSettings(settingsPath)
	if err != nil {
		return err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	ci := IsCIMode(cmd)
	closeLog, err := logging.Setup(logging.Options{
		Level:   settings.LogLevel,
		File:    settings.LogFile,
		Verbose: verbose,
		JSON:    ci && format == output.FormatJSON,
	})
	if err != nil {
		return err
	}
	if settings.File != "" {
		log.WithField("file", settings.File).Debug("Loaded settings")
	}

	app = &env{
		settings: settings,
		out:      output.NewWriter(cmd.OutOrStdout(), format, ci),
		closeLog: closeLog,
	}
	return nil
}

func teardown(cmd *cobra.Command, args []string) {
	if app != nil && app.closeLog != nil {
		_ = app.closeLog()
	}
}

// IsCIMode returns true if CI mode is enabled via flag or environment
func IsCIMode(cmd *cobra.Command) bool {
	ci, _ := cmd.Flags().GetBool("ci")
	if ci {
		return true
	}
	// Also check environment variables
	if os.Getenv("CI") == "true" || os.Getenv("TUNNELDASH_CI") == "true" {
		return true
	}
	return false
}

// GetOutputFormat returns the output format flag value
func GetOutputFormat(cmd *cobra.Command) string {
	format, _ := cmd.Flags().GetString("output")
	if format == "" {
		format = "text"
	}
	return format
}

// newManager builds a tunnel manager wired to real processes and the
// configured provider credentials
func newManager(s *config.Settings) *tunnel.Manager {
	registry := tunnel.DefaultRegistry(s.ProviderDefaults(), process.ExecSpawner{})
	return tunnel.NewManager(registry, tunnel.WithStartTimeout(s.StartTimeout))
}
