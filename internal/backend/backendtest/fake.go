// Package backendtest provides scripted in-memory adapters and a manual
// clock for exercising the runner and monitor without live databases.
package backendtest

import (
	"context"
	"errors"
	"net"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/apostoltudor/bdnsv/internal/backend"
)

var ErrInjected = errors.New("injected failure")

// Clock is a manually advanced clock. The zero value starts at the Unix epoch.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Unix(1_700_000_000, 0)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type Option func(*Fake)

// WithLatency makes every data call advance clock by d.
func WithLatency(clock *Clock, d time.Duration) Option {
	return func(f *Fake) {
		f.clock = clock
		f.latency = d
	}
}

// WithFailures decides per data call (1-based, across all data operations)
// whether it fails.
func WithFailures(fail func(call int) error) Option {
	return func(f *Fake) { f.fail = fail }
}

func FailEveryOther() Option {
	return WithFailures(func(call int) error {
		if call%2 == 0 {
			return backend.Unavailable("fake", ErrInjected)
		}
		return nil
	})
}

func WithRecords(records ...backend.Record) Option {
	return func(f *Fake) {
		for _, r := range records {
			f.records[r.Key] = r
		}
	}
}

func WithGroups(groups ...backend.GroupResult) Option {
	return func(f *Fake) { f.groups = append(f.groups, groups...) }
}

// WithProbeOutcomes scripts successive HealthProbe calls. FailureNone is a
// success; calls past the end of the script use the probe default.
func WithProbeOutcomes(kinds ...backend.FailureKind) Option {
	return func(f *Fake) { f.probes = append(f.probes, kinds...) }
}

// WithProbeDefault sets the outcome of probes past the end of the script.
func WithProbeDefault(kind backend.FailureKind) Option {
	return func(f *Fake) { f.probeDefault = kind }
}

// WithPartialWrites makes Write persist only the first n items of a batch.
func WithPartialWrites(n int) Option {
	return func(f *Fake) { f.partial = n }
}

type Fake struct {
	name    string
	clock   *Clock
	latency time.Duration
	fail    func(call int) error
	records map[string]backend.Record
	groups  []backend.GroupResult
	probes  []backend.FailureKind
	partial int

	probeDefault backend.FailureKind

	mu        sync.Mutex
	dataCalls int
	probeCall int
	written   int
	closed    bool
}

func New(name string, opts ...Option) *Fake {
	f := &Fake{name: name, records: make(map[string]backend.Record), partial: -1}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fake) Name() string { return f.name }

func (f *Fake) step() error {
	f.mu.Lock()
	f.dataCalls++
	call := f.dataCalls
	f.mu.Unlock()

	if f.clock != nil {
		f.clock.Advance(f.latency)
	}
	if f.fail != nil {
		return f.fail(call)
	}
	return nil
}

func (f *Fake) PointLookup(_ context.Context, key string) (backend.Record, error) {
	if err := f.step(); err != nil {
		return backend.Record{}, err
	}
	if len(f.records) == 0 {
		return backend.Record{Key: key}, nil
	}
	r, ok := f.records[key]
	if !ok {
		return backend.Record{}, backend.ErrNotFound
	}
	return r, nil
}

func (f *Fake) Aggregate(_ context.Context, spec backend.AggregateSpec) ([]backend.GroupResult, error) {
	if err := f.step(); err != nil {
		return nil, err
	}
	out := append([]backend.GroupResult(nil), f.groups...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Value > out[j].Value })
	if len(out) > spec.TopN {
		out = out[:spec.TopN]
	}
	return out, nil
}

func (f *Fake) Write(_ context.Context, batch backend.Batch) (int, error) {
	if err := f.step(); err != nil {
		return 0, err
	}
	n := len(batch)
	if f.partial >= 0 && f.partial < n {
		n = f.partial
	}
	f.mu.Lock()
	f.written += n
	f.mu.Unlock()
	return backend.WriteResult(n, len(batch), ErrInjected)
}

func (f *Fake) HealthProbe(ctx context.Context, timeout time.Duration) backend.ProbeResult {
	f.mu.Lock()
	idx := f.probeCall
	f.probeCall++
	f.mu.Unlock()

	kind := f.probeDefault
	if idx < len(f.probes) {
		kind = f.probes[idx]
	}
	return backend.Probe(ctx, f.name, timeout, func(ctx context.Context) error {
		switch kind {
		case backend.FailureTimeout:
			<-ctx.Done()
			return ctx.Err()
		case backend.FailureRefused:
			return &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
		case backend.FailureProtocolError:
			return errors.New("unexpected handshake reply")
		}
		return nil
	})
}

func (f *Fake) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *Fake) DataCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dataCalls
}

func (f *Fake) ProbeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probeCall
}

func (f *Fake) Written() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written
}

func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
