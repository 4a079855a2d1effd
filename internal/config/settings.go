package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bobbyrathoree/tunneldash/internal/tunnel"
)

// Settings keys
const (
	KeyLogLevel           = "log.level"
	KeyLogFile            = "log.file"
	KeyStartTimeout       = "start_timeout"
	KeyNgrokAuthtoken     = "ngrok.authtoken"
	KeyNgrokBinary        = "ngrok.binary"
	KeyNgrokInspectorAddr = "ngrok.inspector_addr"
	KeyCloudflaredToken   = "cloudflared.token"
	KeyCloudflaredBinary  = "cloudflared.binary"
	KeySSHRelayHost       = "sshrelay.host"
	KeySSHRelayUser       = "sshrelay.user"
	KeySSHRelayToken      = "sshrelay.token"
	KeySSHRelayRemotePort = "sshrelay.remote_port"
)

// EnvPrefix prefixes every settings environment variable
const EnvPrefix = "TUNNELDASH"

// conventionalEnv maps keys to the variables the provider CLIs already use
var conventionalEnv = map[string]string{
	KeyNgrokAuthtoken:   "NGROK_AUTHTOKEN",
	KeyCloudflaredToken: "CLOUDFLARE_TUNNEL_TOKEN",
	KeySSHRelayToken:    "SSHRELAY_TOKEN",
}

// Settings holds user-level settings, read once at start-up
type Settings struct {
	LogLevel     string
	LogFile      string
	StartTimeout time.Duration

	NgrokAuthtoken     string
	NgrokBinary        string
	NgrokInspectorAddr string

	CloudflaredToken  string
	CloudflaredBinary string

	SSHRelayHost       string
	SSHRelayUser       string
	SSHRelayToken      string
	SSHRelayRemotePort int

	// File is the settings file that was read, empty if none
	File string
}

// LoadSettings reads settings from path (or the default location when
// empty), overlaid with the environment
func LoadSettings(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range conventionalEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, err
		}
	}

	explicit := path != ""
	if !explicit {
		if p, err := DefaultSettingsPath(); err == nil {
			path = p
		}
	}

	var file string
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading settings file %s: %w", path, err)
			}
			file = path
		} else if explicit {
			return nil, fmt.Errorf("settings file %s not found\n  → Check the --config path", path)
		}
	}

	s := &Settings{
		LogLevel:           v.GetString(KeyLogLevel),
		LogFile:            v.GetString(KeyLogFile),
		StartTimeout:       v.GetDuration(KeyStartTimeout),
		NgrokAuthtoken:     v.GetString(KeyNgrokAuthtoken),
		NgrokBinary:        v.GetString(KeyNgrokBinary),
		NgrokInspectorAddr: v.GetString(KeyNgrokInspectorAddr),
		CloudflaredToken:   v.GetString(KeyCloudflaredToken),
		CloudflaredBinary:  v.GetString(KeyCloudflaredBinary),
		SSHRelayHost:       v.GetString(KeySSHRelayHost),
		SSHRelayUser:       v.GetString(KeySSHRelayUser),
		SSHRelayToken:      v.GetString(KeySSHRelayToken),
		SSHRelayRemotePort: v.GetInt(KeySSHRelayRemotePort),
		File:               file,
	}

	if s.StartTimeout <= 0 {
		return nil, fmt.Errorf("%s must be a positive duration, got %q\n  → Use a value like 90s or 2m", KeyStartTimeout, v.GetString(KeyStartTimeout))
	}
	if s.SSHRelayRemotePort < 0 || s.SSHRelayRemotePort > 65535 {
		return nil, fmt.Errorf("%s must be between 0 and 65535", KeySSHRelayRemotePort)
	}

	return s, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyLogLevel, "warn")
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyStartTimeout, tunnel.DefaultStartTimeout)
	v.SetDefault(KeyNgrokAuthtoken, "")
	v.SetDefault(KeyNgrokBinary, "ngrok")
	v.SetDefault(KeyNgrokInspectorAddr, tunnel.DefaultInspectorAddr)
	v.SetDefault(KeyCloudflaredToken, "")
	v.SetDefault(KeyCloudflaredBinary, "cloudflared")
	v.SetDefault(KeySSHRelayHost, tunnel.DefaultSSHRelayAddr)
	v.SetDefault(KeySSHRelayUser, tunnel.DefaultSSHRelayUser)
	v.SetDefault(KeySSHRelayToken, "")
	v.SetDefault(KeySSHRelayRemotePort, 80)
}

// DefaultSettingsPath returns ~/.tunneldash/config.yaml
func DefaultSettingsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("error getting home directory: %w", err)
	}
	return filepath.Join(home, ".tunneldash", "config.yaml"), nil
}

// ProviderDefaults returns the provider credentials and binaries
func (s *Settings) ProviderDefaults() tunnel.Defaults {
	return tunnel.Defaults{
		NgrokAuthtoken:     s.NgrokAuthtoken,
		NgrokBinary:        s.NgrokBinary,
		NgrokInspectorAddr: s.NgrokInspectorAddr,
		CloudflaredToken:   s.CloudflaredToken,
		CloudflaredBinary:  s.CloudflaredBinary,
		SSHRelayAddr:       s.SSHRelayHost,
		SSHRelayUser:       s.SSHRelayUser,
		SSHRelayToken:      s.SSHRelayToken,
		SSHRelayRemotePort: s.SSHRelayRemotePort,
	}
}

// Binary returns the configured binary for a provider, falling back to
// the catalog name
func (s *Settings) Binary(name tunnel.ProviderName) string {
	switch name {
	case tunnel.ProviderNgrok:
		if s.NgrokBinary != "" {
			return s.NgrokBinary
		}
	case tunnel.ProviderCloudflared:
		if s.CloudflaredBinary != "" {
			return s.CloudflaredBinary
		}
	}
	return tunnel.Catalog[name].Binary
}

// HasCredential reports whether a default credential is configured for a provider
func (s *Settings) HasCredential(name tunnel.ProviderName) bool {
	switch name {
	case tunnel.ProviderNgrok, tunnel.ProviderNgrokGo:
		return s.NgrokAuthtoken != ""
	case tunnel.ProviderCloudflared:
		return s.CloudflaredToken != ""
	case tunnel.ProviderSSHRelay:
		return s.SSHRelayToken != ""
	}
	return false
}
