package monitor

import (
	"time"

	"github.com/apostoltudor/bdnsv/internal/backend"
)

type StatusChange struct {
	Backend string              `json:"backend"`
	From    Status              `json:"from"`
	To      Status              `json:"to"`
	Probe   backend.ProbeResult `json:"probe"`
	At      time.Time           `json:"at"`
}

// Notifier receives status transitions. Notify runs on the probing loop of
// the backend that changed, so it must return quickly.
type Notifier interface {
	Notify(change StatusChange)
}

// ProbeRecorder is an optional extension of Notifier that sees every probe,
// not only transitions.
type ProbeRecorder interface {
	RecordProbe(result backend.ProbeResult, status Status)
}

type NotifierFunc func(change StatusChange)

func (f NotifierFunc) Notify(change StatusChange) {
	f(change)
}

// Channel forwards changes to ch without blocking; changes are dropped when
// the receiver falls behind.
func Channel(ch chan<- StatusChange) Notifier {
	return NotifierFunc(func(change StatusChange) {
		select {
		case ch <- change:
		default:
		}
	})
}
