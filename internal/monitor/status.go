package monitor

import "fmt"

type Status int32

const (
	StatusOnline Status = iota
	StatusDegraded
	StatusDown
)

var statuses = []Status{StatusOnline, StatusDegraded, StatusDown}

func (s Status) String() string {
	switch s {
	case StatusOnline:
		return "ONLINE"
	case StatusDegraded:
		return "DEGRADED"
	case StatusDown:
		return "DOWN"
	default:
		return fmt.Sprintf("Status(%d)", int32(s))
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// DefaultWindow is the number of consecutive failed probes that mark a
// backend DOWN.
const DefaultWindow = 3

// Tracker folds probe outcomes into a status. It belongs to exactly one
// probing loop and is not safe for concurrent use.
type Tracker struct {
	window      int
	recent      []bool
	consecutive int
	status      Status
}

func NewTracker(window int) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{window: window, recent: make([]bool, 0, window), status: StatusOnline}
}

func (t *Tracker) Status() Status {
	return t.status
}

func (t *Tracker) ConsecutiveFailures() int {
	return t.consecutive
}

// Apply records one probe outcome and returns the new status.
//
// A failure yields DOWN once window consecutive failures have been seen and
// DEGRADED before that. A success while DOWN recovers straight to ONLINE and
// clears the history; any other success stays DEGRADED while a failure is
// still among the last window outcomes.
func (t *Tracker) Apply(ok bool) Status {
	if !ok {
		t.consecutive++
		t.push(false)
		if t.consecutive >= t.window {
			t.status = StatusDown
		} else {
			t.status = StatusDegraded
		}
		return t.status
	}

	t.consecutive = 0
	if t.status == StatusDown {
		t.recent = t.recent[:0]
		t.push(true)
		t.status = StatusOnline
		return t.status
	}

	t.push(true)
	t.status = StatusOnline
	for _, outcome := range t.recent {
		if !outcome {
			t.status = StatusDegraded
			break
		}
	}
	return t.status
}

func (t *Tracker) push(ok bool) {
	if len(t.recent) == t.window {
		copy(t.recent, t.recent[1:])
		t.recent = t.recent[:t.window-1]
	}
	t.recent = append(t.recent, ok)
}
