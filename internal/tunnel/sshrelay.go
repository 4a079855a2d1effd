package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/juju/clock"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/bobbyrathoree/tunneldash/internal/scan"
)

const (
	// DefaultSSHRelayAddr is the public relay used when none is configured
	DefaultSSHRelayAddr = "localhost.run:22"

	// DefaultSSHRelayUser requests an anonymous tunnel on localhost.run
	DefaultSSHRelayUser = "nokey"

	relayTimeout      = 30 * time.Second
	relayKeepAlive    = 20 * time.Second
	relayClientBanner = "SSH-2.0-tunneldash"
)

// The welcome banner links to admin.localhost.run, so a bare localhost.run
// URL only counts on the "tunneled with" line
var relayURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`tunneled with tls termination, (https://[a-z0-9-]+\.(?:lhr\.life|localhost\.run))`),
	regexp.MustCompile(`https://[a-z0-9-]+\.lhr\.life`),
}

// SSHRelayOptions configures the SSH relay provider
type SSHRelayOptions struct {
	// Addr is the relay host:port
	Addr string

	// User is the SSH user name
	User string

	// Token is sent as the SSH password when the request carries none
	Token string

	// RemotePort is the port requested on the relay
	RemotePort int

	Timeout   time.Duration
	KeepAlive time.Duration
	Clock     clock.Clock

	// HostKeyCallback defaults to accepting any host key
	HostKeyCallback ssh.HostKeyCallback
}

// SSHRelayProvider forwards a remote port on an SSH relay to the local target
type SSHRelayProvider struct {
	opts SSHRelayOptions
}

// NewSSHRelayProvider creates an SSH relay provider
func NewSSHRelayProvider(opts SSHRelayOptions) *SSHRelayProvider {
	if opts.Addr == "" {
		opts.Addr = DefaultSSHRelayAddr
	}
	if _, _, err := net.SplitHostPort(opts.Addr); err != nil {
		opts.Addr = net.JoinHostPort(opts.Addr, "22")
	}
	if opts.User == "" {
		opts.User = DefaultSSHRelayUser
	}
	if opts.RemotePort <= 0 {
		opts.RemotePort = 80
	}
	if opts.Timeout <= 0 {
		opts.Timeout = relayTimeout
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = relayKeepAlive
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.HostKeyCallback == nil {
		opts.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}
	return &SSHRelayProvider{opts: opts}
}

// Name returns the provider name
func (p *SSHRelayProvider) Name() ProviderName {
	return ProviderSSHRelay
}

// sshSession owns the relay connection and everything opened over it
type sshSession struct {
	client   *ssh.Client
	listener net.Listener
	shell    *ssh.Session
	fwd      *forwarder

	stop      chan struct{}
	closeOnce sync.Once
}

func (s *sshSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		if s.shell != nil {
			_ = s.shell.Close()
		}
		if s.listener != nil {
			_ = s.listener.Close()
		}
		err = s.client.Close()
	})
	return err
}

func (p *SSHRelayProvider) clientConfig(cfg Config) *ssh.ClientConfig {
	var auth []ssh.AuthMethod
	token := cfg.Token
	if token == "" {
		token = p.opts.Token
	}
	if token != "" {
		auth = append(auth, ssh.Password(token))
	}
	auth = append(auth, ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
		return make([]string, len(questions)), nil
	}))

	return &ssh.ClientConfig{
		User:            p.opts.User,
		Auth:            auth,
		HostKeyCallback: p.opts.HostKeyCallback,
		ClientVersion:   relayClientBanner,
		Timeout:         p.opts.Timeout,
	}
}

// dial connects and completes the SSH handshake, honouring ctx
func (p *SSHRelayProvider) dial(ctx context.Context, cfg Config) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: p.opts.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to reach relay %s: %w", p.opts.Addr, err)
	}

	// Abort the handshake if ctx ends first
	handshook := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-handshook:
		}
	}()
	_ = conn.SetDeadline(time.Now().Add(p.opts.Timeout))

	c, chans, reqs, err := ssh.NewClientConn(conn, p.opts.Addr, p.clientConfig(cfg))
	close(handshook)
	if err != nil {
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", p.opts.Addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(c, chans, reqs), nil
}

// Start dials the relay, requests the remote forward and reads the public
// URL from the relay's shell banner
func (p *SSHRelayProvider) Start(ctx context.Context, inst *Instance) error {
	cfg := inst.Config()
	logger := log.WithFields(log.Fields{
		"tunnel":   inst.ID(),
		"provider": p.Name(),
		"relay":    p.opts.Addr,
	})

	inst.Logf("%s Connecting to %s as %s", MarkProgress, p.opts.Addr, p.opts.User)
	client, err := p.dial(ctx, cfg)
	if err != nil {
		return failStart(inst, p.Name(), err)
	}
	sess := &sshSession{client: client, stop: make(chan struct{})}
	inst.SetSession(sess)

	remote := net.JoinHostPort("0.0.0.0", strconv.Itoa(p.opts.RemotePort))
	listener, err := client.Listen("tcp", remote)
	if err != nil {
		return failStart(inst, p.Name(), fmt.Errorf("relay refused remote forward %s: %w", remote, err))
	}
	sess.listener = listener
	sess.fwd = newForwarder(listener, cfg.Target(), inst)
	sess.fwd.start()
	inst.Logf("%s Remote forward %s -> %s", MarkProgress, remote, cfg.Target())

	shell, err := client.NewSession()
	if err != nil {
		return failStart(inst, p.Name(), fmt.Errorf("failed to open relay session: %w", err))
	}
	sess.shell = shell

	if err := shell.RequestPty("xterm", 40, 200, ssh.TerminalModes{ssh.ECHO: 0}); err != nil {
		logger.WithError(err).Debug("Relay refused pty")
	}
	stdout, err := shell.StdoutPipe()
	if err != nil {
		return failStart(inst, p.Name(), err)
	}
	if err := shell.Shell(); err != nil {
		return failStart(inst, p.Name(), fmt.Errorf("failed to start relay shell: %w", err))
	}

	url, err := scan.Match(ctx, stdout, relayURLPatterns, p.opts.Timeout,
		scan.WithClock(p.opts.Clock),
	)
	if err != nil {
		logger.WithError(err).Debug("Relay did not report a URL")
		return failStart(inst, p.Name(), err)
	}

	inst.SetLive(url)
	inst.Logf("%s Tunnel live: %s", MarkLive, url)
	logger.WithField("url", url).Info("Tunnel live")

	// The relay keeps writing to the shell; unread output stalls the channel
	go func() { _, _ = io.Copy(io.Discard, stdout) }()
	go p.keepAlive(sess, logger)
	go p.watch(inst, sess)
	return nil
}

// keepAlive pings the relay so idle tunnels are not dropped
func (p *SSHRelayProvider) keepAlive(sess *sshSession, logger *log.Entry) {
	for {
		select {
		case <-sess.stop:
			return
		case <-p.opts.Clock.After(p.opts.KeepAlive):
		}
		if _, _, err := sess.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			logger.WithError(err).Debug("Keepalive failed")
			return
		}
	}
}

// watch flags the tunnel as errored when the relay connection drops while live
func (p *SSHRelayProvider) watch(inst *Instance, sess *sshSession) {
	err := sess.client.Wait()
	if inst.Status() != StatusLive || !inst.ReleaseSession(sess) {
		return
	}
	_ = sess.Close()

	msg := errors.New("relay connection closed")
	if err != nil && !errors.Is(err, io.EOF) {
		msg = fmt.Errorf("relay connection closed: %w", err)
	}
	log.WithField("tunnel", inst.ID()).WithError(msg).Warn("SSH relay dropped")
	inst.Fail(msg)
}

// Stop closes the relay session, listener and connection
func (p *SSHRelayProvider) Stop(ctx context.Context, inst *Instance) {
	stopSession(inst)
}
