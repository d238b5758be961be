package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/apostoltudor/bdnsv/internal/backend"
)

const (
	DefaultInterval = time.Second
	DefaultTimeout  = time.Second
)

var (
	ErrUnknownBackend = errors.New("unknown backend")
	ErrLoopActive     = errors.New("probing loop already active for backend")
	ErrNoBackends     = errors.New("no backends to monitor")
)

type Option func(*Monitor)

func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithWindow(k int) Option {
	return func(m *Monitor) {
		if k > 0 {
			m.window = k
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

func WithNotifier(n Notifier) Option {
	return func(m *Monitor) {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
}

// BackendState is a point-in-time view of one monitored backend.
type BackendState struct {
	Name                string               `json:"name"`
	Status              Status               `json:"status"`
	ConsecutiveFailures int                  `json:"consecutive_failures"`
	Probes              int64                `json:"probes"`
	Changes             int64                `json:"changes"`
	LastProbe           *backend.ProbeResult `json:"last_probe,omitempty"`
}

type entry struct {
	adapter backend.Adapter
	tracker *Tracker

	// owner is held by the probing loop for its lifetime, or briefly by
	// ProbeOnce; whoever holds it is the only writer of the fields below.
	owner sync.Mutex

	status      atomic.Int32
	consecutive atomic.Int32
	probes      atomic.Int64
	changes     atomic.Int64
	last        atomic.Pointer[backend.ProbeResult]
}

// Monitor probes each backend on its own loop and keeps a status cell per
// backend that readers can observe without blocking.
type Monitor struct {
	interval  time.Duration
	timeout   time.Duration
	window    int
	logger    *slog.Logger
	notifiers []Notifier

	order   []string
	entries map[string]*entry
}

func New(adapters []backend.Adapter, opts ...Option) (*Monitor, error) {
	if len(adapters) == 0 {
		return nil, ErrNoBackends
	}

	m := &Monitor{
		interval: DefaultInterval,
		timeout:  DefaultTimeout,
		window:   DefaultWindow,
		logger:   slog.Default(),
		entries:  make(map[string]*entry, len(adapters)),
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, a := range adapters {
		name := a.Name()
		if _, dup := m.entries[name]; dup {
			return nil, fmt.Errorf("duplicate backend %q", name)
		}
		e := &entry{adapter: a, tracker: NewTracker(m.window)}
		e.status.Store(int32(StatusOnline))
		m.entries[name] = e
		m.order = append(m.order, name)
	}
	return m, nil
}

func (m *Monitor) Backends() []string {
	return append([]string(nil), m.order...)
}

func (m *Monitor) Interval() time.Duration { return m.interval }
func (m *Monitor) Timeout() time.Duration  { return m.timeout }

// Observe returns the last computed status without probing.
func (m *Monitor) Observe(name string) (Status, error) {
	e, ok := m.entries[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
	return Status(e.status.Load()), nil
}

func (m *Monitor) State(name string) (BackendState, error) {
	e, ok := m.entries[name]
	if !ok {
		return BackendState{}, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
	return m.state(name, e), nil
}

func (m *Monitor) Snapshot() []BackendState {
	out := make([]BackendState, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.state(name, m.entries[name]))
	}
	return out
}

func (m *Monitor) state(name string, e *entry) BackendState {
	st := BackendState{
		Name:                name,
		Status:              Status(e.status.Load()),
		ConsecutiveFailures: int(e.consecutive.Load()),
		Probes:              e.probes.Load(),
		Changes:             e.changes.Load(),
	}
	if last := e.last.Load(); last != nil {
		p := *last
		st.LastProbe = &p
	}
	return st
}

// ProbeOnce probes a backend synchronously and applies the outcome. It is
// refused while that backend's loop is running.
func (m *Monitor) ProbeOnce(ctx context.Context, name string) (backend.ProbeResult, error) {
	e, ok := m.entries[name]
	if !ok {
		return backend.ProbeResult{}, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
	if !e.owner.TryLock() {
		return backend.ProbeResult{}, fmt.Errorf("%w: %s", ErrLoopActive, name)
	}
	defer e.owner.Unlock()

	res := m.probe(ctx, name, e)
	return res, nil
}

// Run starts one probing loop per backend and blocks until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range m.order {
		e := m.entries[name]
		g.Go(func() error {
			m.loop(gctx, name, e)
			return nil
		})
	}
	return g.Wait()
}

func (m *Monitor) loop(ctx context.Context, name string, e *entry) {
	e.owner.Lock()
	defer e.owner.Unlock()

	logger := m.logger.With("backend", name)
	logger.Debug("probing loop started", "interval", m.interval, "timeout", m.timeout)
	defer logger.Debug("probing loop stopped")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		m.probe(ctx, name, e)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// probe must be called with e.owner held. The probe itself is detached from
// ctx cancellation so a shutdown mid-probe is not recorded as a failure; the
// probe timeout still bounds it.
func (m *Monitor) probe(ctx context.Context, name string, e *entry) backend.ProbeResult {
	res := e.adapter.HealthProbe(context.WithoutCancel(ctx), m.timeout)
	if res.Backend == "" {
		res.Backend = name
	}

	prev := e.tracker.Status()
	next := e.tracker.Apply(res.OK)

	e.status.Store(int32(next))
	e.consecutive.Store(int32(e.tracker.ConsecutiveFailures()))
	e.probes.Add(1)
	e.last.Store(&res)

	for _, n := range m.notifiers {
		if rec, ok := n.(ProbeRecorder); ok {
			rec.RecordProbe(res, next)
		}
	}

	if next != prev {
		e.changes.Add(1)
		m.announce(StatusChange{Backend: name, From: prev, To: next, Probe: res, At: res.At})
	}
	return res
}

func (m *Monitor) announce(change StatusChange) {
	attrs := []any{
		"backend", change.Backend,
		"from", change.From.String(),
		"to", change.To.String(),
	}
	if !change.Probe.OK {
		attrs = append(attrs, "kind", string(change.Probe.Kind), "error", change.Probe.Err)
	}
	if change.To == StatusOnline {
		m.logger.Info("backend status changed", attrs...)
	} else {
		m.logger.Warn("backend status changed", attrs...)
	}

	for _, n := range m.notifiers {
		n.Notify(change)
	}
}

// Close releases the monitor's own adapter connections.
func (m *Monitor) Close() error {
	var errs []error
	for _, name := range m.order {
		if err := m.entries[name].adapter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
