package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

type FailureKind string

const (
	FailureNone          FailureKind = ""
	FailureTimeout       FailureKind = "TIMEOUT"
	FailureRefused       FailureKind = "REFUSED"
	FailureProtocolError FailureKind = "PROTOCOL_ERROR"
)

type ProbeResult struct {
	Backend string        `json:"backend"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency"`
	Kind    FailureKind   `json:"kind,omitempty"`
	Err     string        `json:"error,omitempty"`
	At      time.Time     `json:"at"`
}

func (r ProbeResult) String() string {
	if r.OK {
		return fmt.Sprintf("%s ok (%s)", r.Backend, r.Latency)
	}
	return fmt.Sprintf("%s %s: %s", r.Backend, r.Kind, r.Err)
}

// Classifier maps a driver error to a failure kind. It returns FailureNone
// when it does not recognise the error so the next classifier can try.
type Classifier func(err error) FailureKind

// Probe runs fn under a timeout on its own goroutine. The result is
// returned once fn finishes or the timeout elapses, whichever comes first;
// a hung driver call is abandoned with its context cancelled.
func Probe(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error, classifiers ...Classifier) ProbeResult {
	start := time.Now()
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("probe panicked: %v", r)
			}
		}()
		done <- fn(probeCtx)
	}()

	result := ProbeResult{Backend: name, At: start}
	var err error
	select {
	case err = <-done:
	case <-probeCtx.Done():
		err = probeCtx.Err()
	}
	result.Latency = time.Since(start)

	if err == nil {
		result.OK = true
		return result
	}
	result.Err = err.Error()
	result.Kind = classify(err, classifiers)
	return result
}

func classify(err error, classifiers []Classifier) FailureKind {
	for _, c := range classifiers {
		if c == nil {
			continue
		}
		if kind := c(err); kind != FailureNone {
			return kind
		}
	}
	return Classify(err)
}

// Classify is the driver-agnostic fallback.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EHOSTUNREACH) {
		return FailureRefused
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return FailureRefused
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return FailureRefused
	}
	if errors.Is(err, ErrBackendUnavailable) {
		return FailureRefused
	}
	return FailureProtocolError
}
