package tunnel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultStartTimeout bounds a single provider start
const DefaultStartTimeout = 2 * time.Minute

// EventType describes a change to the tunnel collection
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// Event is a change notification
type Event struct {
	Type     EventType
	ID       string
	Snapshot Snapshot
}

// Manager owns the tunnel collection and drives providers through the
// tunnel lifecycle. Construct one per process and call StopAll on shutdown.
type Manager struct {
	registry     *Registry
	clock        clock.Clock
	startTimeout time.Duration
	newID        func(now time.Time) string

	mu      sync.RWMutex
	tunnels map[string]*Instance
	order   []string

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithStartTimeout bounds how long a provider may spend starting
func WithStartTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.startTimeout = d
		}
	}
}

// WithManagerClock sets the clock used for timestamps
func WithManagerClock(c clock.Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

// NewManager creates a manager for the providers in registry
func NewManager(registry *Registry, opts ...ManagerOption) *Manager {
	m := &Manager{
		registry:     registry,
		clock:        clock.WallClock,
		startTimeout: DefaultStartTimeout,
		newID:        newID,
		tunnels:      make(map[string]*Instance),
		subs:         make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry returns the provider registry
func (m *Manager) Registry() *Registry {
	return m.registry
}

// newID combines a millisecond timestamp with a random suffix
func newID(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}

// Create validates the request, records a new tunnel and starts it. Provider
// failures are recorded on the returned instance; only invalid requests and
// unknown providers are returned as errors.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Instance, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	provider, err := m.registry.Lookup(req.Provider)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()

	m.mu.Lock()
	id := m.newID(now)
	for m.tunnels[id] != nil {
		id = m.newID(now)
	}
	inst := newInstance(req.config(id, now), now)
	inst.notify = m.instanceChanged
	// Armed before the record is visible, so a Stop issued meanwhile cancels
	// the start and then queues behind it
	inst.op.Lock()
	defer inst.op.Unlock()
	startCtx, cancel := m.armStart(ctx, inst)
	defer cancel()
	m.tunnels[id] = inst
	m.order = append(m.order, id)
	m.mu.Unlock()

	log.WithFields(log.Fields{
		"tunnel":   id,
		"provider": req.Provider,
		"target":   inst.config.Target(),
	}).Info("Creating tunnel")
	m.publish(Event{Type: EventCreated, ID: id, Snapshot: inst.Snapshot()})

	m.startLocked(ctx, startCtx, inst, provider)
	return inst, nil
}

// Stop stops the tunnel with id. It returns false for unknown ids or when
// the provider's stop panicked.
func (m *Manager) Stop(ctx context.Context, id string) bool {
	inst, ok := m.Get(id)
	if !ok {
		return false
	}

	// Abort a start still in flight so its process dies promptly
	inst.interrupt()
	inst.op.Lock()
	defer inst.op.Unlock()
	return m.stopLocked(ctx, inst)
}

// Restart stops the tunnel and starts it again with the same configuration.
// The log is kept. It returns false for unknown ids.
func (m *Manager) Restart(ctx context.Context, id string) (*Instance, bool) {
	inst, ok := m.Get(id)
	if !ok {
		return nil, false
	}
	provider, err := m.registry.Lookup(inst.config.Provider)
	if err != nil {
		return nil, false
	}

	inst.interrupt()
	inst.op.Lock()
	defer inst.op.Unlock()

	// Deleted while we waited
	if current, ok := m.Get(id); !ok || current != inst {
		return nil, false
	}

	m.stopLocked(ctx, inst)
	inst.reset(m.clock.Now())
	startCtx, cancel := m.armStart(ctx, inst)
	defer cancel()
	m.startLocked(ctx, startCtx, inst, provider)
	return inst, true
}

// Delete stops the tunnel and forgets it. It reports whether a record existed.
func (m *Manager) Delete(ctx context.Context, id string) bool {
	inst, ok := m.Get(id)
	if !ok {
		return false
	}

	inst.interrupt()
	inst.op.Lock()
	defer inst.op.Unlock()

	m.stopLocked(ctx, inst)

	m.mu.Lock()
	if m.tunnels[id] != inst {
		m.mu.Unlock()
		return false
	}
	delete(m.tunnels, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	log.WithField("tunnel", id).Info("Deleted tunnel")
	m.publish(Event{Type: EventDeleted, ID: id, Snapshot: inst.Snapshot()})
	return true
}

// Get returns the tunnel with id
func (m *Manager) Get(id string) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.tunnels[id]
	return inst, ok
}

// GetAll returns all tunnels in creation order
func (m *Manager) GetAll() []*Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]*Instance, 0, len(m.order))
	for _, id := range m.order {
		all = append(all, m.tunnels[id])
	}
	return all
}

// StopAll stops every tunnel concurrently and waits for all of them
func (m *Manager) StopAll(ctx context.Context) {
	var g errgroup.Group
	for _, inst := range m.GetAll() {
		id := inst.ID()
		g.Go(func() error {
			if !m.Stop(ctx, id) {
				log.WithField("tunnel", id).Warn("Tunnel did not stop cleanly")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Stats counts tunnels by status
func (m *Manager) Stats() Stats {
	var s Stats
	for _, inst := range m.GetAll() {
		s.Total++
		switch inst.Status() {
		case StatusStarting:
			s.Starting++
		case StatusLive:
			s.Live++
		case StatusError:
			s.Error++
		case StatusClosed:
			s.Closed++
		}
	}
	return s
}

// Subscribe returns a channel of change events and a function that ends the
// subscription. Slow subscribers miss events rather than block the manager.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)

	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, id)
			m.subMu.Unlock()
			close(ch)
		})
	}
}

func (m *Manager) publish(e Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (m *Manager) instanceChanged(inst *Instance) {
	m.publish(Event{Type: EventUpdated, ID: inst.ID(), Snapshot: inst.Snapshot()})
}

// armStart derives the watchdog context for a start and registers its cancel
// func on the instance. The returned func disarms and releases it.
func (m *Manager) armStart(ctx context.Context, inst *Instance) (context.Context, func()) {
	startCtx, cancel := context.WithTimeout(ctx, m.startTimeout)
	inst.setCancel(cancel)
	return startCtx, func() {
		inst.setCancel(nil)
		cancel()
	}
}

// startLocked runs the provider's start under the armed watchdog context.
// ctx is the caller's context. The caller holds inst.op.
func (m *Manager) startLocked(ctx, startCtx context.Context, inst *Instance, provider Provider) {
	logger := log.WithFields(log.Fields{
		"tunnel":   inst.ID(),
		"provider": provider.Name(),
	})

	err := safeStart(startCtx, provider, inst)
	if err == nil && (inst.Status() != StatusLive || len(inst.URLs()) == 0) {
		err = errors.New("provider returned without a public URL")
		inst.Fail(err)
	}
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			err = fmt.Errorf("start did not finish within %s: %w", m.startTimeout, err)
			inst.Fail(err)
		case inst.Status() != StatusError:
			inst.Fail(err)
		}
		logger.WithError(err).Warn("Tunnel failed to start")
		return
	}

	logger.WithField("urls", inst.URLs()).Debug("Tunnel started")
}

// stopLocked runs the provider's stop. The caller holds inst.op.
func (m *Manager) stopLocked(ctx context.Context, inst *Instance) bool {
	provider, err := m.registry.Lookup(inst.config.Provider)
	if err != nil {
		inst.MarkClosed()
		return false
	}
	if !safeStop(ctx, provider, inst) {
		if inst.Status() != StatusClosed {
			inst.MarkClosed()
		}
		return false
	}
	log.WithField("tunnel", inst.ID()).Debug("Tunnel stopped")
	return true
}

func safeStart(ctx context.Context, p Provider, inst *Instance) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &StartError{Provider: p.Name(), Err: fmt.Errorf("provider panicked: %v", r)}
		}
	}()
	return p.Start(ctx, inst)
}

func safeStop(ctx context.Context, p Provider, inst *Instance) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"tunnel":   inst.ID(),
				"provider": p.Name(),
			}).Errorf("Provider stop panicked: %v", r)
			ok = false
		}
	}()
	p.Stop(ctx, inst)
	return true
}
