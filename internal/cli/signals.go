package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bobbyrathoree/tunneldash/internal/tunnel"
)

// shutdownTimeout bounds StopAll once the user asked to exit
const shutdownTimeout = 30 * time.Second

// interruptContext returns a context cancelled on SIGINT or SIGTERM
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.WithField("signal", sig.String()).Debug("Received signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// stopAll stops every tunnel with a fresh deadline, since the command
// context is usually already cancelled at this point
func stopAll(m *tunnel.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	m.StopAll(ctx)
}
