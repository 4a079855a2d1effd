package tunnel

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/juju/clock"
	log "github.com/sirupsen/logrus"

	"github.com/bobbyrathoree/tunneldash/internal/process"
	"github.com/bobbyrathoree/tunneldash/internal/scan"
)

const (
	quickTimeout = 30 * time.Second
	namedTimeout = 60 * time.Second

	// DashboardURL is where remotely-managed tunnel hostnames are configured
	DashboardURL = "https://one.dash.cloudflare.com"
)

var (
	quickURLPattern   = regexp.MustCompile(`https://[a-z0-9-]+\.trycloudflare\.com`)
	registeredPattern = regexp.MustCompile(`Registered tunnel connection`)

	cloudflaredMarkers = interesting("Registered tunnel connection", "registered", "ERR", "failed")
	cloudflaredErrors  = interesting(" ERR ", "error", "failed")
)

// CloudflaredOptions configures the cloudflared provider
type CloudflaredOptions struct {
	// Binary defaults to "cloudflared" on PATH
	Binary string

	// Token is the default connector token for token mode
	Token string

	// QuickTimeout and NamedTimeout override the readiness deadlines
	QuickTimeout time.Duration
	NamedTimeout time.Duration

	Clock clock.Clock
}

// CloudflaredProvider runs Cloudflare tunnels through the cloudflared CLI
type CloudflaredProvider struct {
	spawner process.Spawner
	opts    CloudflaredOptions
}

// NewCloudflaredProvider creates a cloudflared provider
func NewCloudflaredProvider(spawner process.Spawner, opts CloudflaredOptions) *CloudflaredProvider {
	if opts.Binary == "" {
		opts.Binary = "cloudflared"
	}
	if opts.QuickTimeout <= 0 {
		opts.QuickTimeout = quickTimeout
	}
	if opts.NamedTimeout <= 0 {
		opts.NamedTimeout = namedTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	return &CloudflaredProvider{spawner: spawner, opts: opts}
}

// Name returns the provider name
func (p *CloudflaredProvider) Name() ProviderName {
	return ProviderCloudflared
}

// Start launches cloudflared in the configured mode and waits for it to come up
func (p *CloudflaredProvider) Start(ctx context.Context, inst *Instance) error {
	cfg := inst.Config()

	switch cfg.Mode {
	case ModeQuick, "":
		return p.startQuick(ctx, inst, cfg)
	case ModeLocal:
		return p.startLocal(ctx, inst, cfg)
	case ModeToken:
		return p.startToken(ctx, inst, cfg)
	default:
		return failStart(inst, p.Name(), fmt.Errorf("unknown cloudflared mode %q", cfg.Mode))
	}
}

func (p *CloudflaredProvider) startQuick(ctx context.Context, inst *Instance, cfg Config) error {
	inst.Logf("%s Starting quick tunnel to %s", MarkProgress, cfg.TargetURL())

	spec := process.Spec{
		Name: p.opts.Binary,
		Args: []string{"tunnel", "--no-autoupdate", "--url", cfg.TargetURL()},
	}
	return p.run(ctx, inst, spec, quickURLPattern, p.opts.QuickTimeout, func(match string) string {
		return match
	})
}

func (p *CloudflaredProvider) startLocal(ctx context.Context, inst *Instance, cfg Config) error {
	if cfg.TunnelName == "" || cfg.Domain == "" {
		return failStart(inst, p.Name(), errors.New("local mode requires tunnelName and domain"))
	}

	inst.Logf("%s Routing %s to tunnel %s", MarkProgress, cfg.Domain, cfg.TunnelName)
	route := process.Spec{
		Name: p.opts.Binary,
		Args: []string{"tunnel", "route", "dns", cfg.TunnelName, cfg.Domain},
	}
	if out, err := runOnce(ctx, p.spawner, route); err != nil {
		if ctx.Err() != nil {
			return failStart(inst, p.Name(), ctx.Err())
		}
		// An existing record makes the route command fail; the tunnel may
		// still serve the domain
		inst.Logf("%s DNS route failed: %v %s", MarkWarning, err, out)
	} else {
		inst.Logf("%s DNS route ready for %s", MarkProgress, cfg.Domain)
	}

	inst.Logf("%s Starting named tunnel %s", MarkProgress, cfg.TunnelName)
	spec := process.Spec{
		Name: p.opts.Binary,
		Args: []string{"tunnel", "--no-autoupdate", "run", "--url", cfg.TargetURL(), cfg.TunnelName},
	}
	return p.run(ctx, inst, spec, registeredPattern, p.opts.NamedTimeout, func(string) string {
		return "https://" + cfg.Domain
	})
}

func (p *CloudflaredProvider) startToken(ctx context.Context, inst *Instance, cfg Config) error {
	token := cfg.Token
	if token == "" {
		token = p.opts.Token
	}
	if token == "" {
		return failStart(inst, p.Name(), errors.New("token mode requires a tunnel token (set CLOUDFLARE_TUNNEL_TOKEN)"))
	}

	inst.Logf("%s Starting remotely-managed tunnel", MarkProgress)
	spec := process.Spec{
		Name:    p.opts.Binary,
		Args:    []string{"tunnel", "--no-autoupdate", "run", "--token", token},
		Secrets: []string{token},
	}
	return p.run(ctx, inst, spec, registeredPattern, p.opts.NamedTimeout, func(string) string {
		if cfg.Domain != "" {
			return "https://" + cfg.Domain
		}
		inst.SetExtra("note", "Public hostnames for this tunnel are configured in the Cloudflare dashboard")
		inst.SetExtra("dashboard", DashboardURL)
		return DashboardURL
	})
}

// run spawns cloudflared and scans its output for pattern. On success the
// instance goes live with the URL derived from the match and the process is
// left running, owned by the instance.
func (p *CloudflaredProvider) run(ctx context.Context, inst *Instance, spec process.Spec, pattern *regexp.Regexp, timeout time.Duration, urlFor func(match string) string) error {
	logger := log.WithFields(log.Fields{
		"tunnel":   inst.ID(),
		"provider": p.Name(),
	})
	logger.WithField("command", spec.String()).Debug("Starting cloudflared")

	proc, err := p.spawner.Spawn(spec)
	if err != nil {
		return failStart(inst, p.Name(), err)
	}
	sess := &processSession{proc: proc}
	inst.SetSession(sess)

	progress := newLineSplitter(func(line string) {
		if cloudflaredMarkers(line) {
			inst.Logf("%s %s", MarkProgress, line)
		}
	})

	match, err := scan.Match(ctx, proc.Output(), []*regexp.Regexp{pattern}, timeout,
		scan.WithClock(p.opts.Clock),
		scan.WithChunkFunc(progress.Write),
	)
	if err != nil {
		logger.WithError(err).Debug("cloudflared did not come up")
		return failStart(inst, p.Name(), startFailure(proc, err))
	}

	url := urlFor(match)
	inst.SetLive(url)
	inst.Logf("%s Tunnel live: %s", MarkLive, url)
	logger.WithField("url", url).Info("Tunnel live")

	follow(inst, sess, cloudflaredErrors)
	return nil
}

// Stop kills the cloudflared process
func (p *CloudflaredProvider) Stop(ctx context.Context, inst *Instance) {
	stopSession(inst)
}
