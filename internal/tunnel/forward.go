package tunnel

import (
	"errors"
	"io"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
)

const dialTimeout = 10 * time.Second

// forwarder proxies connections accepted on a public listener to the local
// target. It is shared by the in-process providers (SSH relay and ngrok-go).
type forwarder struct {
	listener net.Listener
	target   string
	inst     *Instance

	done chan struct{}
	err  error
}

func newForwarder(l net.Listener, target string, inst *Instance) *forwarder {
	return &forwarder{
		listener: l,
		target:   target,
		inst:     inst,
		done:     make(chan struct{}),
	}
}

// start begins accepting in the background
func (f *forwarder) start() {
	go f.serve()
}

// Done is closed once the listener stops accepting
func (f *forwarder) Done() <-chan struct{} {
	return f.done
}

// Err returns the accept error that ended serving
func (f *forwarder) Err() error {
	<-f.done
	return f.err
}

func (f *forwarder) serve() {
	defer close(f.done)
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
				f.err = err
			}
			return
		}

		go f.handleConn(conn)
	}
}

// handleConn proxies a single connection
func (f *forwarder) handleConn(remote net.Conn) {
	defer remote.Close()

	local, err := net.DialTimeout("tcp", f.target, dialTimeout)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"tunnel": f.inst.ID(),
			"target": f.target,
		}).Debug("Failed to reach local target")
		f.inst.Logf("%s Local target %s unreachable: %v", MarkWarning, f.target, err)
		return
	}
	defer local.Close()

	// Bidirectional copy; the first side to finish ends the connection
	done := make(chan struct{}, 2)
	go func() {
		copyData(local, remote)
		done <- struct{}{}
	}()
	go func() {
		copyData(remote, local)
		done <- struct{}{}
	}()
	<-done
}

// copyData copies data between connections
func copyData(dst, src net.Conn) {
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}
