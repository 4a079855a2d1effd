package cli

import (
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/bobbyrathoree/tunneldash/internal/config"
	"github.com/bobbyrathoree/tunneldash/internal/output"
	"github.com/bobbyrathoree/tunneldash/internal/tunnel"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List tunnel providers and whether they are ready",
	Long: `List the built-in tunnel providers.

A provider is ready when its CLI (if any) is on PATH. Credentials are read
from settings, the environment, or --env-file.

Examples:
  tunneldash providers
  tunneldash providers -o json`,
	Args: cobra.NoArgs,
	RunE: runProviders,
}

func init() {
	rootCmd.AddCommand(providersCmd)
}

func runProviders(cmd *cobra.Command, args []string) error {
	registry := newManager(app.settings).Registry()
	return app.out.WriteProviders(providerStatuses(app.settings, registry.Infos(), lookPath))
}

func lookPath(binary string) (string, bool) {
	path, err := exec.LookPath(binary)
	return path, err == nil
}

// providerStatuses checks each provider against the local machine
func providerStatuses(s *config.Settings, infos []tunnel.ProviderInfo, find func(binary string) (string, bool)) []output.ProviderStatus {
	statuses := make([]output.ProviderStatus, 0, len(infos))
	for _, info := range infos {
		status := output.ProviderStatus{
			ProviderInfo: info,
			Installed:    true,
			Credential:   s.HasCredential(info.Name),
		}
		if info.RequiresBinary() {
			status.Path, status.Installed = find(s.Binary(info.Name))
		}
		statuses = append(statuses, status)
	}
	return statuses
}
