package monitor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// Board prints one combined status line per interval, reading the status
// cells only.
type Board struct {
	monitor  *Monitor
	out      io.Writer
	interval time.Duration
	style    func(Status, string) string
}

func NewBoard(m *Monitor, out io.Writer, style func(Status, string) string) *Board {
	if style == nil {
		style = func(_ Status, s string) string { return s }
	}
	return &Board{monitor: m, out: out, interval: m.Interval(), style: style}
}

// Line renders e.g. "[15:04:05] Iteration 3: postgres=[ONLINE] | mongodb=[DOWN (REFUSED)]".
func (b *Board) Line(iteration int, now time.Time) string {
	parts := make([]string, 0, len(b.monitor.order))
	for _, st := range b.monitor.Snapshot() {
		label := st.Status.String()
		if st.Status != StatusOnline && st.LastProbe != nil && !st.LastProbe.OK {
			label = fmt.Sprintf("%s (%s)", label, st.LastProbe.Kind)
		}
		parts = append(parts, fmt.Sprintf("%s=[%s]", st.Name, b.style(st.Status, label)))
	}
	return fmt.Sprintf("[%s] Iteration %d: %s", now.Format(time.TimeOnly), iteration, strings.Join(parts, " | "))
}

func (b *Board) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	iteration := 0
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			iteration++
			fmt.Fprintf(b.out, "%s\n", b.Line(iteration, now))
		}
	}
}
