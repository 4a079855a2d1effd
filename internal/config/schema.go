package config

import (
	"os"

	"github.com/bobbyrathoree/tunneldash/internal/tunnel"
)

const (
	// DefaultAPIVersion is the manifest schema version
	DefaultAPIVersion = "tunneldash/v1"

	// DefaultKind is the manifest kind
	DefaultKind = "Tunnels"

	// DefaultHost is the local host tunnels forward to
	DefaultHost = "localhost"
)

// Manifest represents the full tunneldash.yaml file
type Manifest struct {
	APIVersion string       `yaml:"apiVersion" json:"apiVersion"`
	Kind       string       `yaml:"kind" json:"kind"`
	Metadata   Metadata     `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	Tunnels    []TunnelSpec `yaml:"tunnels" json:"tunnels"`
}

// Metadata identifies the project the tunnels belong to
type Metadata struct {
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
}

// TunnelSpec declares one tunnel
type TunnelSpec struct {
	// Name identifies the tunnel within the manifest
	Name string `yaml:"name" json:"name"`

	// Provider is one of sshrelay, cloudflared, ngrok, ngrok-go
	Provider string `yaml:"provider" json:"provider"`

	// Port is the local port to expose
	Port int `yaml:"port" json:"port"`

	// Host is the local host (default: localhost)
	Host string `yaml:"host,omitempty" json:"host,omitempty"`

	// Token overrides the provider credential. ${VAR} references are expanded.
	Token string `yaml:"token,omitempty" json:"token,omitempty"`

	// Secret is the basic-auth password for providers that support it
	Secret string `yaml:"secret,omitempty" json:"secret,omitempty"`

	Subdomain string `yaml:"subdomain,omitempty" json:"subdomain,omitempty"`

	// Mode selects the cloudflared mode: quick, local or token
	Mode string `yaml:"mode,omitempty" json:"mode,omitempty"`

	// TunnelName is the cloudflared named tunnel for local mode
	TunnelName string `yaml:"tunnelName,omitempty" json:"tunnelName,omitempty"`

	// Domain is the custom public hostname
	Domain string `yaml:"domain,omitempty" json:"domain,omitempty"`

	// Disabled tunnels are validated but not started by `up`
	Disabled bool `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// WithDefaults applies default values to the manifest
func (m *Manifest) WithDefaults() *Manifest {
	if m.APIVersion == "" {
		m.APIVersion = DefaultAPIVersion
	}
	if m.Kind == "" {
		m.Kind = DefaultKind
	}
	for i := range m.Tunnels {
		if m.Tunnels[i].Host == "" {
			m.Tunnels[i].Host = DefaultHost
		}
		if m.Tunnels[i].Provider == string(tunnel.ProviderCloudflared) && m.Tunnels[i].Mode == "" {
			m.Tunnels[i].Mode = string(tunnel.ModeQuick)
		}
	}
	return m
}

// Enabled returns the tunnels that `up` should start
func (m *Manifest) Enabled() []TunnelSpec {
	var specs []TunnelSpec
	for _, t := range m.Tunnels {
		if !t.Disabled {
			specs = append(specs, t)
		}
	}
	return specs
}

// Find returns the tunnel with name
func (m *Manifest) Find(name string) (TunnelSpec, bool) {
	for _, t := range m.Tunnels {
		if t.Name == name {
			return t, true
		}
	}
	return TunnelSpec{}, false
}

// Request converts the spec into a manager request, expanding ${VAR}
// references in credentials
func (t TunnelSpec) Request() tunnel.CreateRequest {
	return tunnel.CreateRequest{
		Provider:   tunnel.ProviderName(t.Provider),
		Name:       t.Name,
		LocalPort:  t.Port,
		LocalHost:  t.Host,
		Token:      os.ExpandEnv(t.Token),
		Secret:     os.ExpandEnv(t.Secret),
		Subdomain:  t.Subdomain,
		Mode:       tunnel.Mode(t.Mode),
		TunnelName: t.TunnelName,
		Domain:     t.Domain,
	}
}

// NewDefaultManifest creates an empty manifest for a project
func NewDefaultManifest(name string) *Manifest {
	return &Manifest{
		APIVersion: DefaultAPIVersion,
		Kind:       DefaultKind,
		Metadata:   Metadata{Name: name},
		Tunnels:    []TunnelSpec{},
	}
}
