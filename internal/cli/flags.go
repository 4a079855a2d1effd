package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bobbyrathoree/tunneldash/internal/config"
)

// addTunnelFlags registers the flags that describe a single tunnel
func addTunnelFlags(cmd *cobra.Command, defaultProvider string) {
	cmd.Flags().StringP("provider", "p", defaultProvider, "Tunnel provider: "+strings.Join(config.ProviderNames(), ", "))
	cmd.Flags().Int("port", 0, "Local port to expose")
	cmd.Flags().String("host", "", "Local host to forward to (default: localhost)")
	cmd.Flags().String("name", "", "Tunnel name")
	cmd.Flags().String("token", "", "Provider credential (default: from settings or environment)")
	cmd.Flags().String("secret", "", "Password protect the tunnel (ngrok, ngrok-go)")
	cmd.Flags().String("subdomain", "", "Reserved subdomain (ngrok)")
	cmd.Flags().String("mode", "", "cloudflared mode: quick, local, token")
	cmd.Flags().String("tunnel-name", "", "Named cloudflared tunnel (local mode)")
	cmd.Flags().String("domain", "", "Custom domain routed to the tunnel (cloudflared local mode)")
}

// applyTunnelFlags overlays explicitly set flags onto spec
func applyTunnelFlags(cmd *cobra.Command, spec config.TunnelSpec) config.TunnelSpec {
	flags := cmd.Flags()
	str := func(name string, dst *string) {
		if flags.Changed(name) || *dst == "" {
			if v, _ := flags.GetString(name); v != "" {
				*dst = v
			}
		}
	}

	str("provider", &spec.Provider)
	str("host", &spec.Host)
	str("name", &spec.Name)
	str("token", &spec.Token)
	str("secret", &spec.Secret)
	str("subdomain", &spec.Subdomain)
	str("mode", &spec.Mode)
	str("tunnel-name", &spec.TunnelName)
	str("domain", &spec.Domain)
	if port, _ := flags.GetInt("port"); port != 0 {
		spec.Port = port
	}

	if spec.Host == "" {
		spec.Host = config.DefaultHost
	}
	if spec.Provider == "cloudflared" && spec.Mode == "" {
		spec.Mode = "quick"
	}
	if spec.Name == "" && spec.Port > 0 {
		spec.Name = fmt.Sprintf("%s-%d", spec.Provider, spec.Port)
	}
	return spec
}
