package tunnel

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Status is the lifecycle state of a tunnel instance
type Status string

const (
	StatusStarting Status = "starting"
	StatusLive     Status = "live"
	StatusError    Status = "error"
	StatusClosed   Status = "closed"
)

// ProviderName identifies a tunnel backend
type ProviderName string

const (
	// ProviderSSHRelay forwards over SSH to a public relay (localhost.run by default)
	ProviderSSHRelay ProviderName = "sshrelay"

	// ProviderCloudflared spawns the cloudflared CLI (quick, local and token modes)
	ProviderCloudflared ProviderName = "cloudflared"

	// ProviderNgrok spawns the ngrok CLI and reads URLs from its inspector API
	ProviderNgrok ProviderName = "ngrok"

	// ProviderNgrokGo uses the linked ngrok-go SDK
	ProviderNgrokGo ProviderName = "ngrok-go"
)

// Mode is the cloudflared operating mode
type Mode string

const (
	// ModeQuick creates an ephemeral trycloudflare.com URL, no account needed
	ModeQuick Mode = "quick"

	// ModeLocal runs a locally-managed named tunnel routed to a custom domain
	ModeLocal Mode = "local"

	// ModeToken runs a remotely-managed tunnel from a connector token
	ModeToken Mode = "token"
)

// Log line markers
const (
	MarkProgress = "→"
	MarkLive     = "✓"
	MarkFailed   = "✗"
	MarkWarning  = "!"
	MarkStopped  = "■"
)

// ErrInvalidRequest is returned for structurally invalid create requests
var ErrInvalidRequest = errors.New("invalid tunnel request")

// Config holds the immutable configuration of a tunnel
type Config struct {
	ID        string       `json:"id"`
	Provider  ProviderName `json:"provider"`
	Name      string       `json:"name"`
	LocalHost string       `json:"localHost"`
	LocalPort int          `json:"localPort"`
	CreatedAt time.Time    `json:"createdAt"`

	// Provider-specific options
	Token      string `json:"token,omitempty"`
	Secret     string `json:"secret,omitempty"`
	Subdomain  string `json:"subdomain,omitempty"`
	Mode       Mode   `json:"mode,omitempty"`
	TunnelName string `json:"tunnelName,omitempty"`
	Domain     string `json:"domain,omitempty"`
}

// Target returns the local host:port traffic is forwarded to
func (c Config) Target() string {
	return net.JoinHostPort(c.LocalHost, strconv.Itoa(c.LocalPort))
}

// TargetURL returns the local target as an http URL
func (c Config) TargetURL() string {
	return "http://" + c.Target()
}

// CreateRequest is the input to Manager.Create
type CreateRequest struct {
	Provider   ProviderName `json:"provider" yaml:"provider"`
	Name       string       `json:"name,omitempty" yaml:"name,omitempty"`
	LocalPort  int          `json:"port" yaml:"port"`
	LocalHost  string       `json:"host,omitempty" yaml:"host,omitempty"`
	Token      string       `json:"token,omitempty" yaml:"token,omitempty"`
	Secret     string       `json:"secret,omitempty" yaml:"secret,omitempty"`
	Subdomain  string       `json:"subdomain,omitempty" yaml:"subdomain,omitempty"`
	Mode       Mode         `json:"mode,omitempty" yaml:"mode,omitempty"`
	TunnelName string       `json:"tunnelName,omitempty" yaml:"tunnelName,omitempty"`
	Domain     string       `json:"domain,omitempty" yaml:"domain,omitempty"`
}

// Validate checks the request at the boundary
func (r CreateRequest) Validate() error {
	var problems []string

	if r.Provider == "" {
		problems = append(problems, "provider is required")
	}
	if r.LocalPort < 1 || r.LocalPort > 65535 {
		problems = append(problems, fmt.Sprintf("port %d must be between 1 and 65535", r.LocalPort))
	}
	if r.Provider == ProviderCloudflared {
		switch r.Mode {
		case "", ModeQuick, ModeToken:
		case ModeLocal:
			if r.TunnelName == "" {
				problems = append(problems, "tunnelName is required for cloudflared local mode")
			}
			if r.Domain == "" {
				problems = append(problems, "domain is required for cloudflared local mode")
			}
		default:
			problems = append(problems, fmt.Sprintf("unknown cloudflared mode %q (quick, local, token)", r.Mode))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(problems, "; "))
	}
	return nil
}

// config normalises the request into an immutable Config
func (r CreateRequest) config(id string, now time.Time) Config {
	name := r.Name
	if name == "" {
		name = fmt.Sprintf("%s:%d", r.Provider, r.LocalPort)
	}
	host := r.LocalHost
	if host == "" {
		host = "localhost"
	}
	mode := r.Mode
	if r.Provider == ProviderCloudflared && mode == "" {
		mode = ModeQuick
	}

	return Config{
		ID:         id,
		Provider:   r.Provider,
		Name:       name,
		LocalHost:  host,
		LocalPort:  r.LocalPort,
		CreatedAt:  now,
		Token:      r.Token,
		Secret:     r.Secret,
		Subdomain:  r.Subdomain,
		Mode:       mode,
		TunnelName: r.TunnelName,
		Domain:     r.Domain,
	}
}

// Session is a provider-owned handle to whatever keeps the tunnel open:
// a spawned process, an SSH connection or an SDK listener
type Session interface {
	Close() error
}

// Instance is the mutable runtime record of one tunnel.
// Providers mutate only the instance they are handed; all accessors are
// safe for concurrent use.
type Instance struct {
	config Config

	mu        sync.RWMutex
	status    Status
	urls      []string
	errMsg    string
	password  string
	extra     map[string]string
	logs      []string
	startedAt time.Time
	session   Session
	cancel    func()
	notify    func(*Instance)

	// op serialises start/stop/restart sequences for this instance
	op sync.Mutex
}

func newInstance(cfg Config, now time.Time) *Instance {
	return &Instance{
		config:    cfg,
		status:    StatusStarting,
		urls:      []string{},
		logs:      []string{},
		startedAt: now,
	}
}

// NewInstance creates a detached instance in the starting state. The manager
// creates its own; this exists for driving a provider directly.
func NewInstance(cfg Config) *Instance {
	return newInstance(cfg, time.Now())
}

// ID returns the tunnel identifier
func (i *Instance) ID() string { return i.config.ID }

// Config returns the immutable configuration
func (i *Instance) Config() Config { return i.config }

// Status returns the current status
func (i *Instance) Status() Status {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.status
}

// URLs returns a copy of the public URLs
func (i *Instance) URLs() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return append([]string(nil), i.urls...)
}

// Error returns the last error message, if any
func (i *Instance) Error() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.errMsg
}

// Logs returns a copy of the log lines
func (i *Instance) Logs() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return append([]string(nil), i.logs...)
}

// Password returns the secondary secret the provider used, if any
func (i *Instance) Password() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.password
}

// Extra returns a copy of the free-form metadata
func (i *Instance) Extra() map[string]string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return copyMap(i.extra)
}

// StartedAt returns when the current lifecycle segment began
func (i *Instance) StartedAt() time.Time {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.startedAt
}

// Uptime returns how long the tunnel has been up, zero unless live
func (i *Instance) Uptime(now time.Time) time.Duration {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.status != StatusLive || i.startedAt.IsZero() {
		return 0
	}
	return now.Sub(i.startedAt)
}

// Logf appends a human-readable line to the instance log
func (i *Instance) Logf(format string, args ...interface{}) {
	line := format
	if len(args) > 0 {
		line = fmt.Sprintf(format, args...)
	}
	i.mu.Lock()
	i.logs = append(i.logs, line)
	i.mu.Unlock()
	i.changed()
}

// SetLive marks the tunnel live with its public URLs
func (i *Instance) SetLive(urls ...string) {
	i.mu.Lock()
	i.status = StatusLive
	i.urls = append([]string(nil), urls...)
	i.errMsg = ""
	i.mu.Unlock()
	i.changed()
}

// Fail marks the tunnel as errored
func (i *Instance) Fail(err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	i.mu.Lock()
	i.status = StatusError
	i.errMsg = msg
	i.logs = append(i.logs, fmt.Sprintf("%s %s", MarkFailed, msg))
	i.mu.Unlock()
	i.changed()
}

// SetPassword records a secondary secret
func (i *Instance) SetPassword(password string) {
	i.mu.Lock()
	i.password = password
	i.mu.Unlock()
}

// SetExtra records a metadata value
func (i *Instance) SetExtra(key, value string) {
	i.mu.Lock()
	if i.extra == nil {
		i.extra = make(map[string]string)
	}
	i.extra[key] = value
	i.mu.Unlock()
}

// SetSession hands ownership of a provider session to the instance
func (i *Instance) SetSession(s Session) {
	i.mu.Lock()
	i.session = s
	i.mu.Unlock()
}

// TakeSession removes and returns the current session. Only one caller ever
// receives a given session, so it is closed exactly once.
func (i *Instance) TakeSession() Session {
	i.mu.Lock()
	defer i.mu.Unlock()
	s := i.session
	i.session = nil
	return s
}

// ReleaseSession removes s if it is still the current session and reports
// whether it was
func (i *Instance) ReleaseSession(s Session) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.session == nil || i.session != s {
		return false
	}
	i.session = nil
	return true
}

// MarkClosed sets the closed status and logs the stop
func (i *Instance) MarkClosed() {
	i.mu.Lock()
	i.status = StatusClosed
	i.logs = append(i.logs, MarkStopped+" Tunnel stopped")
	i.mu.Unlock()
	i.changed()
}

// reset prepares the instance for another start
func (i *Instance) reset(now time.Time) {
	i.mu.Lock()
	i.status = StatusStarting
	i.urls = []string{}
	i.errMsg = ""
	i.startedAt = now
	i.logs = append(i.logs, "↻ Restarting tunnel")
	i.mu.Unlock()
	i.changed()
}

func (i *Instance) setCancel(cancel func()) {
	i.mu.Lock()
	i.cancel = cancel
	i.mu.Unlock()
}

// interrupt cancels an in-flight start, if any
func (i *Instance) interrupt() {
	i.mu.RLock()
	cancel := i.cancel
	i.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

func (i *Instance) changed() {
	i.mu.RLock()
	notify := i.notify
	i.mu.RUnlock()
	if notify != nil {
		notify(i)
	}
}

// Snapshot is a point-in-time copy of an instance
type Snapshot struct {
	Config    Config            `json:"config"`
	Status    Status            `json:"status"`
	URLs      []string          `json:"urls"`
	Error     string            `json:"error,omitempty"`
	Password  string            `json:"password,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
	Logs      []string          `json:"logs"`
	StartedAt time.Time         `json:"startedAt"`
}

// Snapshot returns a deep copy of the instance state
func (i *Instance) Snapshot() Snapshot {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return Snapshot{
		Config:    i.config,
		Status:    i.status,
		URLs:      append([]string{}, i.urls...),
		Error:     i.errMsg,
		Password:  i.password,
		Extra:     copyMap(i.extra),
		Logs:      append([]string{}, i.logs...),
		StartedAt: i.startedAt,
	}
}

// Stats summarises tunnel counts by status
type Stats struct {
	Total    int `json:"total"`
	Starting int `json:"starting"`
	Live     int `json:"live"`
	Error    int `json:"error"`
	Closed   int `json:"closed"`
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
