package tunnel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	log "github.com/sirupsen/logrus"

	"github.com/bobbyrathoree/tunneldash/internal/process"
	"github.com/bobbyrathoree/tunneldash/internal/scan"
)

const (
	// DefaultInspectorAddr is where the ngrok agent serves its local API
	DefaultInspectorAddr = "127.0.0.1:4040"

	inspectorInterval = time.Second
	inspectorAttempts = 20
)

var (
	ngrokFatal  = interesting("ERR_NGROK_", "authentication failed")
	ngrokErrors = interesting("lvl=eror", "lvl=crit", "ERR_NGROK_")
)

// NgrokCLIOptions configures the ngrok CLI provider
type NgrokCLIOptions struct {
	// Binary defaults to "ngrok" on PATH
	Binary string

	// Authtoken is used when the request carries no token
	Authtoken string

	// InspectorAddr is the host:port of the agent's local API
	InspectorAddr string

	PollInterval time.Duration
	PollAttempts int
	Clock        clock.Clock
	HTTPClient   *http.Client
}

// NgrokCLIProvider runs the ngrok agent and reads URLs from its inspector
type NgrokCLIProvider struct {
	spawner process.Spawner
	opts    NgrokCLIOptions
}

// NewNgrokCLIProvider creates an ngrok CLI provider
func NewNgrokCLIProvider(spawner process.Spawner, opts NgrokCLIOptions) *NgrokCLIProvider {
	if opts.Binary == "" {
		opts.Binary = "ngrok"
	}
	if opts.InspectorAddr == "" {
		opts.InspectorAddr = DefaultInspectorAddr
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = inspectorInterval
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = inspectorAttempts
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 2 * time.Second}
	}
	return &NgrokCLIProvider{spawner: spawner, opts: opts}
}

// Name returns the provider name
func (p *NgrokCLIProvider) Name() ProviderName {
	return ProviderNgrok
}

// args builds the agent command line and the values to mask when printing it
func (p *NgrokCLIProvider) args(cfg Config) ([]string, []string) {
	args := []string{"http", cfg.Target(), "--log", "stdout", "--log-format", "logfmt"}
	var secrets []string

	token := cfg.Token
	if token == "" {
		token = p.opts.Authtoken
	}
	if token != "" {
		args = append(args, "--authtoken", token)
		secrets = append(secrets, token)
	}
	if cfg.Secret != "" {
		args = append(args, "--basic-auth", "tunnel:"+cfg.Secret)
		secrets = append(secrets, cfg.Secret)
	}
	if cfg.Domain != "" {
		args = append(args, "--url", cfg.Domain)
	} else if cfg.Subdomain != "" {
		args = append(args, "--subdomain", cfg.Subdomain)
	}
	return args, secrets
}

// Start spawns the agent and polls the inspector until the tunnel appears
func (p *NgrokCLIProvider) Start(ctx context.Context, inst *Instance) error {
	cfg := inst.Config()
	logger := log.WithFields(log.Fields{
		"tunnel":   inst.ID(),
		"provider": p.Name(),
	})

	args, secrets := p.args(cfg)
	spec := process.Spec{Name: p.opts.Binary, Args: args, Secrets: secrets}

	inst.Logf("%s Starting ngrok agent for %s", MarkProgress, cfg.Target())
	logger.WithField("command", spec.String()).Debug("Starting ngrok")

	proc, err := p.spawner.Spawn(spec)
	if err != nil {
		return failStart(inst, p.Name(), err)
	}
	sess := &processSession{proc: proc}
	inst.SetSession(sess)
	if cfg.Secret != "" {
		inst.SetPassword(cfg.Secret)
	}

	var fatal atomic.Value
	follow(inst, sess, func(line string) bool {
		if ngrokFatal(line) {
			fatal.Store(line)
			return true
		}
		return ngrokErrors(line)
	})

	inspector := "http://" + p.opts.InspectorAddr
	inst.Logf("%s Waiting for tunnel on %s", MarkProgress, inspector)

	urls, err := scan.Poll(ctx, scan.PollConfig{
		Interval: p.opts.PollInterval,
		Attempts: p.opts.PollAttempts,
		Clock:    p.opts.Clock,
		Notify: func(err error, attempt int) {
			logger.WithField("attempt", attempt).WithError(err).Debug("Inspector not ready")
		},
	}, func(ctx context.Context) ([]string, error) {
		if line, ok := fatal.Load().(string); ok {
			return nil, scan.Abort(fmt.Errorf("ngrok reported an error: %s", line))
		}
		if err := process.ExitError(proc); err != nil {
			return nil, scan.Abort(err)
		}
		return p.fetchURLs(ctx, cfg.LocalPort)
	})
	if err != nil {
		logger.WithError(err).Debug("ngrok did not come up")
		return failStart(inst, p.Name(), err)
	}

	inst.SetExtra("inspector", inspector)
	inst.SetLive(urls...)
	inst.Logf("%s Tunnel live: %s", MarkLive, urls[0])
	logger.WithField("url", urls[0]).Info("Tunnel live")
	return nil
}

// inspectorTunnels is the subset of GET /api/tunnels we read
type inspectorTunnels struct {
	Tunnels []struct {
		Name      string `json:"name"`
		PublicURL string `json:"public_url"`
		Proto     string `json:"proto"`
		Config    struct {
			Addr string `json:"addr"`
		} `json:"config"`
	} `json:"tunnels"`
}

// fetchURLs returns the public URLs forwarding to port, https first
func (p *NgrokCLIProvider) fetchURLs(ctx context.Context, port int) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+p.opts.InspectorAddr+"/api/tunnels", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inspector unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inspector returned %s", resp.Status)
	}

	var body inspectorTunnels
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("invalid inspector response: %w", err)
	}

	suffix := ":" + strconv.Itoa(port)
	var urls []string
	for _, t := range body.Tunnels {
		if t.PublicURL == "" {
			continue
		}
		if t.Config.Addr != "" && !strings.HasSuffix(t.Config.Addr, suffix) {
			continue
		}
		urls = append(urls, t.PublicURL)
	}
	sort.SliceStable(urls, func(i, j int) bool {
		return strings.HasPrefix(urls[i], "https://") && !strings.HasPrefix(urls[j], "https://")
	})
	return urls, nil
}

// Stop kills the ngrok agent
func (p *NgrokCLIProvider) Stop(ctx context.Context, inst *Instance) {
	stopSession(inst)
}
