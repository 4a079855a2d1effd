package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bobbyrathoree/tunneldash/internal/config"
	"github.com/bobbyrathoree/tunneldash/internal/tunnel"
)

var addCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a tunnel to tunneldash.yaml",
	Long: `Add a tunnel definition to tunneldash.yaml, creating the file if needed.

Comments and formatting in an existing file are preserved. Credentials are
best given as ${ENV_VAR} references so the file can be committed.

Examples:
  tunneldash add web --port 3000                         # cloudflared quick tunnel
  tunneldash add api --port 8080 -p ngrok --secret '${API_PASSWORD}'
  tunneldash add docs --port 4000 -p sshrelay
  tunneldash add shop --port 3000 --mode local --tunnel-name shop --domain shop.example.com`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

func runAdd(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	if file == "" {
		file = config.NewLoader(".").Path()
	}

	spec := applyTunnelFlags(cmd, config.TunnelSpec{Name: args[0]})
	if spec.Port == 0 {
		return fmt.Errorf("--port is required\n  → Example: tunneldash add %s --port 3000", args[0])
	}

	// Validate on its own before touching the file
	check := config.NewDefaultManifest("check")
	check.Tunnels = []config.TunnelSpec{spec}
	warnings, err := config.ValidateWithWarnings(check)
	if err != nil {
		return err
	}

	if err := config.AppendTunnel(file, spec); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s → %s:%d) to %s\n", spec.Name, spec.Provider, spec.Host, spec.Port, file)
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "  Warning: %s\n", w)
	}
	if info, ok := tunnel.Catalog[tunnel.ProviderName(spec.Provider)]; ok && info.TokenEnv != "" && spec.Token == "" {
		fmt.Fprintf(cmd.OutOrStdout(), "  → Set %s or add a token to use a provider account\n", info.TokenEnv)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "  → Run 'tunneldash up %s' to start it\n", spec.Name)

	return nil
}

var removeCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a tunnel from tunneldash.yaml",
	Long: `Remove a tunnel definition from tunneldash.yaml.

Comments on the remaining tunnels are preserved.

Examples:
  tunneldash remove web`,
	Args: cobra.ExactArgs(1),
	RunE: runRemove,
}

func runRemove(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	if file == "" {
		loader := config.NewLoader(".")
		path, err := loader.FindConfigFile()
		if err != nil {
			return err
		}
		file = path
	}

	if err := config.RemoveTunnel(file, args[0]); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from %s\n", args[0], file)
	return nil
}

func init() {
	addTunnelFlags(addCmd, string(tunnel.ProviderCloudflared))
	addCmd.Flags().StringP("file", "f", "", "Path to tunneldash.yaml (default: ./tunneldash.yaml)")
	removeCmd.Flags().StringP("file", "f", "", "Path to tunneldash.yaml (default: ./tunneldash.yaml)")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(removeCmd)
}
