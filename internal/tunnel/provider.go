package tunnel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bobbyrathoree/tunneldash/internal/process"
)

// Provider establishes tunnels with one external mechanism.
//
// Start must leave the instance live with at least one URL, or errored with a
// message and return an error. Stop must terminate whatever Start left
// running, tolerate being called twice, always mark the instance closed and
// never fail.
type Provider interface {
	Name() ProviderName
	Start(ctx context.Context, inst *Instance) error
	Stop(ctx context.Context, inst *Instance)
}

// ErrUnknownProvider is returned for provider names nobody registered
var ErrUnknownProvider = errors.New("unknown provider")

// UnknownProviderError names the provider that could not be found
type UnknownProviderError struct {
	Name  ProviderName
	Known []ProviderName
}

func (e *UnknownProviderError) Error() string {
	known := make([]string, len(e.Known))
	for i, k := range e.Known {
		known[i] = string(k)
	}
	return fmt.Sprintf("unknown provider %q (available: %s)", e.Name, strings.Join(known, ", "))
}

func (e *UnknownProviderError) Is(target error) bool {
	return target == ErrUnknownProvider
}

// StartError is a provider start failure
type StartError struct {
	Provider ProviderName
	Err      error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// ProviderInfo describes a provider for the CLI and doctor checks
type ProviderInfo struct {
	Name        ProviderName `json:"name"`
	DisplayName string       `json:"displayName"`
	Description string       `json:"description"`

	// Binary is the CLI the provider spawns, empty for in-process providers
	Binary string `json:"binary,omitempty"`

	// TokenEnv is the environment variable holding the default credential
	TokenEnv string `json:"tokenEnv,omitempty"`

	// InstallURL points at installation instructions
	InstallURL string `json:"installUrl,omitempty"`
}

// RequiresBinary reports whether the provider needs an installed CLI
func (p ProviderInfo) RequiresBinary() bool {
	return p.Binary != ""
}

// Catalog lists the built-in providers
var Catalog = map[ProviderName]ProviderInfo{
	ProviderSSHRelay: {
		Name:        ProviderSSHRelay,
		DisplayName: "SSH relay",
		Description: "Remote port forward over SSH to localhost.run, no install needed",
		TokenEnv:    "SSHRELAY_TOKEN",
	},
	ProviderCloudflared: {
		Name:        ProviderCloudflared,
		DisplayName: "Cloudflare Tunnel",
		Description: "cloudflared quick tunnels, named local tunnels or token tunnels",
		Binary:      "cloudflared",
		TokenEnv:    "CLOUDFLARE_TUNNEL_TOKEN",
		InstallURL:  "https://developers.cloudflare.com/cloudflare-one/connections/connect-networks/downloads/",
	},
	ProviderNgrok: {
		Name:        ProviderNgrok,
		DisplayName: "ngrok",
		Description: "ngrok CLI agent, URLs read from its local inspector",
		Binary:      "ngrok",
		TokenEnv:    "NGROK_AUTHTOKEN",
		InstallURL:  "https://ngrok.com/download",
	},
	ProviderNgrokGo: {
		Name:        ProviderNgrokGo,
		DisplayName: "ngrok (embedded)",
		Description: "ngrok-go SDK linked into tunneldash, needs an authtoken",
		TokenEnv:    "NGROK_AUTHTOKEN",
	},
}

// Registry maps provider names to implementations. It is built once at
// start-up and read-only afterwards.
type Registry struct {
	providers map[ProviderName]Provider
}

// NewRegistry creates a registry of the given providers
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[ProviderName]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Lookup returns the provider registered under name
func (r *Registry) Lookup(name ProviderName) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, &UnknownProviderError{Name: name, Known: r.Names()}
	}
	return p, nil
}

// Names returns the registered provider names, sorted
func (r *Registry) Names() []ProviderName {
	names := make([]ProviderName, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Infos returns catalog entries for the registered providers
func (r *Registry) Infos() []ProviderInfo {
	var infos []ProviderInfo
	for _, name := range r.Names() {
		info, ok := Catalog[name]
		if !ok {
			info = ProviderInfo{Name: name, DisplayName: string(name)}
		}
		infos = append(infos, info)
	}
	return infos
}

// Defaults carries provider credentials and settings read once at start-up
type Defaults struct {
	NgrokAuthtoken     string
	NgrokBinary        string
	NgrokInspectorAddr string

	CloudflaredToken  string
	CloudflaredBinary string

	SSHRelayAddr       string
	SSHRelayUser       string
	SSHRelayToken      string
	SSHRelayRemotePort int
}

// DefaultRegistry builds the registry of all built-in providers
func DefaultRegistry(d Defaults, spawner process.Spawner) *Registry {
	if spawner == nil {
		spawner = process.ExecSpawner{}
	}
	return NewRegistry(
		NewSSHRelayProvider(SSHRelayOptions{
			Addr:       d.SSHRelayAddr,
			User:       d.SSHRelayUser,
			Token:      d.SSHRelayToken,
			RemotePort: d.SSHRelayRemotePort,
		}),
		NewCloudflaredProvider(spawner, CloudflaredOptions{
			Binary: d.CloudflaredBinary,
			Token:  d.CloudflaredToken,
		}),
		NewNgrokCLIProvider(spawner, NgrokCLIOptions{
			Binary:        d.NgrokBinary,
			Authtoken:     d.NgrokAuthtoken,
			InspectorAddr: d.NgrokInspectorAddr,
		}),
		NewNgrokProvider(NgrokOptions{
			Authtoken: d.NgrokAuthtoken,
		}),
	)
}

// failStart records a start failure on the instance, releases any session
// the provider had already attached and returns the error for the caller
func failStart(inst *Instance, name ProviderName, err error) error {
	if s := inst.TakeSession(); s != nil {
		_ = s.Close()
	}
	inst.Fail(err)
	return &StartError{Provider: name, Err: err}
}

// stopSession closes whatever session the instance owns and marks it closed
func stopSession(inst *Instance) {
	if s := inst.TakeSession(); s != nil {
		_ = s.Close()
	}
	inst.MarkClosed()
}
