package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/juju/clock"
	log "github.com/sirupsen/logrus"
	"golang.ngrok.com/ngrok"
	"golang.ngrok.com/ngrok/config"

	"github.com/bobbyrathoree/tunneldash/internal/scan"
)

const (
	sdkPollInterval = 500 * time.Millisecond
	sdkPollAttempts = 20
)

// sdkListener is the part of an ngrok tunnel the provider uses
type sdkListener interface {
	net.Listener
	URL() string
}

type listenFunc func(ctx context.Context, cfg Config, authtoken string) (sdkListener, error)

// NgrokOptions configures the embedded ngrok provider
type NgrokOptions struct {
	// Authtoken is used when the request carries no token
	Authtoken string

	PollInterval time.Duration
	PollAttempts int
	Clock        clock.Clock

	listen listenFunc
}

// NgrokProvider implements Provider using ngrok-go
type NgrokProvider struct {
	opts NgrokOptions
}

// NewNgrokProvider creates a new ngrok provider
func NewNgrokProvider(opts NgrokOptions) *NgrokProvider {
	if opts.PollInterval <= 0 {
		opts.PollInterval = sdkPollInterval
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = sdkPollAttempts
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.listen == nil {
		opts.listen = ngrokListen
	}
	return &NgrokProvider{opts: opts}
}

// Name returns the provider name
func (p *NgrokProvider) Name() ProviderName {
	return ProviderNgrokGo
}

// ngrokListen opens an HTTP endpoint on the ngrok edge
func ngrokListen(ctx context.Context, cfg Config, authtoken string) (sdkListener, error) {
	endpoint := []config.HTTPEndpointOption{
		config.WithMetadata("tunneldash:" + cfg.ID),
	}
	if cfg.Domain != "" {
		endpoint = append(endpoint, config.WithDomain(cfg.Domain))
	}
	if cfg.Secret != "" {
		endpoint = append(endpoint, config.WithBasicAuth("tunnel", cfg.Secret))
	}

	opts := make([]ngrok.ConnectOption, 0, 1)
	if authtoken != "" {
		opts = append(opts, ngrok.WithAuthtoken(authtoken))
	}

	listener, err := ngrok.Listen(ctx, config.HTTPEndpoint(endpoint...), opts...)
	if err != nil {
		return nil, err
	}
	return listener, nil
}

// sdkSession owns the ngrok listener and the forwarder draining it
type sdkSession struct {
	listener sdkListener
	fwd      *forwarder
}

func (s *sdkSession) Close() error {
	return s.listener.Close()
}

// Start connects to ngrok and forwards accepted connections to the target
func (p *NgrokProvider) Start(ctx context.Context, inst *Instance) error {
	cfg := inst.Config()
	logger := log.WithFields(log.Fields{
		"tunnel":   inst.ID(),
		"provider": p.Name(),
	})

	authtoken := cfg.Token
	if authtoken == "" {
		authtoken = p.opts.Authtoken
	}
	if authtoken == "" {
		return failStart(inst, p.Name(), errors.New("an ngrok authtoken is required (set NGROK_AUTHTOKEN)"))
	}

	inst.Logf("%s Connecting to ngrok", MarkProgress)
	listener, err := p.listen(ctx, cfg, authtoken)
	if err != nil {
		return failStart(inst, p.Name(), fmt.Errorf("failed to create ngrok tunnel: %w", err))
	}

	fwd := newForwarder(listener, cfg.Target(), inst)
	sess := &sdkSession{listener: listener, fwd: fwd}
	inst.SetSession(sess)
	fwd.start()
	if cfg.Secret != "" {
		inst.SetPassword(cfg.Secret)
	}

	urls, err := scan.Poll(ctx, scan.PollConfig{
		Interval: p.opts.PollInterval,
		Attempts: p.opts.PollAttempts,
		Clock:    p.opts.Clock,
	}, func(ctx context.Context) ([]string, error) {
		select {
		case <-fwd.Done():
			return nil, scan.Abort(sessionEnded(fwd))
		default:
		}
		if url := listener.URL(); url != "" {
			return []string{url}, nil
		}
		return nil, nil
	})
	if err != nil {
		return failStart(inst, p.Name(), err)
	}

	inst.SetLive(urls...)
	inst.Logf("%s Tunnel live: %s", MarkLive, urls[0])
	logger.WithField("url", urls[0]).Info("Tunnel live")

	go p.watch(inst, sess)
	return nil
}

// listen opens the listener without tying the session to ctx; ctx only
// bounds how long we wait for it
func (p *NgrokProvider) listen(ctx context.Context, cfg Config, authtoken string) (sdkListener, error) {
	type result struct {
		l   sdkListener
		err error
	}
	ch := make(chan result, 1)
	go func() {
		l, err := p.opts.listen(context.WithoutCancel(ctx), cfg, authtoken)
		ch <- result{l: l, err: err}
	}()

	select {
	case r := <-ch:
		return r.l, r.err
	case <-ctx.Done():
		go func() {
			// Close a listener that arrives after we gave up on it
			if r := <-ch; r.l != nil {
				_ = r.l.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// watch flags the tunnel as errored if the ngrok session drops while live
func (p *NgrokProvider) watch(inst *Instance, sess *sdkSession) {
	<-sess.fwd.Done()
	if inst.Status() != StatusLive || !inst.ReleaseSession(sess) {
		return
	}
	_ = sess.listener.Close()
	err := sessionEnded(sess.fwd)
	log.WithField("tunnel", inst.ID()).WithError(err).Warn("ngrok session ended")
	inst.Fail(err)
}

func sessionEnded(fwd *forwarder) error {
	if err := fwd.Err(); err != nil {
		return fmt.Errorf("ngrok session ended: %w", err)
	}
	return errors.New("ngrok session ended")
}

// Stop closes the ngrok listener
func (p *NgrokProvider) Stop(ctx context.Context, inst *Instance) {
	stopSession(inst)
}
