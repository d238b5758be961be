package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	SymbolPass    = "✓"
	SymbolFail    = "✗"
	SymbolArrow   = "→"
	SymbolDot     = "•"
	SymbolWarning = "⚠"
	SymbolInfo    = "ℹ"

	Indent = "  "
)

var (
	outMu sync.Mutex
	out   io.Writer = os.Stdout
)

// SetOutput redirects all human-readable output. Machine-readable records
// keep stdout to themselves by sending this to stderr.
func SetOutput(w io.Writer) {
	outMu.Lock()
	defer outMu.Unlock()
	out = w
}

func Output() io.Writer {
	outMu.Lock()
	defer outMu.Unlock()
	return out
}

func printf(format string, args ...any) {
	_, _ = fmt.Fprintf(Output(), format, args...)
}

func Header(title string) {
	width := 60
	padding := (width - len(title) - 2) / 2
	border := strings.Repeat("═", width)

	printf("\n")
	printf("╔%s╗\n", border)
	printf("║%s %s %s║\n", strings.Repeat(" ", padding), title, strings.Repeat(" ", width-padding-len(title)-2))
	printf("╚%s╝\n", border)
	printf("\n")
}

func Section(title string) {
	printf("\n━━ %s ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n", title)
}

func BackendHeader(name string) {
	dashes := max(58-len(name), 2)
	printf("\n┌─ %s %s\n", name, strings.Repeat("─", dashes))
}

func BackendFooter() {
	printf("└%s\n", strings.Repeat("─", 60))
}

func Infof(format string, args ...any) {
	printf("%s%s %s\n", Indent, SymbolInfo, fmt.Sprintf(format, args...))
}

func Successf(format string, args ...any) {
	printf("%s%s %s\n", Indent, SymbolPass, fmt.Sprintf(format, args...))
}

func Failf(format string, args ...any) {
	printf("%s%s %s\n", Indent, SymbolFail, fmt.Sprintf(format, args...))
}

func Warnf(format string, args ...any) {
	printf("%s%s %s\n", Indent, SymbolWarning, fmt.Sprintf(format, args...))
}

func Linef(format string, args ...any) {
	printf("%s%s\n", Indent, fmt.Sprintf(format, args...))
}

func KeyValue(key, value string) {
	printf("%s%-20s %s\n", Indent, key+":", value)
}

func KeyValuePairs(pairs ...string) {
	if len(pairs)%2 != 0 {
		return
	}
	var parts []string
	for i := 0; i < len(pairs); i += 2 {
		parts = append(parts, fmt.Sprintf("%s: %s", pairs[i], pairs[i+1]))
	}
	printf("%s%s\n", Indent, strings.Join(parts, "  │  "))
}

func StatusLinef(status bool, format string, args ...any) {
	symbol := SymbolPass
	if !status {
		symbol = SymbolFail
	}
	printf("%s%s %s\n", Indent, symbol, fmt.Sprintf(format, args...))
}

func TableHeader(columns ...string) {
	header := make([]string, 0, len(columns))
	separator := make([]string, 0, len(columns))
	for _, col := range columns {
		header = append(header, col)
		separator = append(separator, strings.Repeat("─", len(col)))
	}
	printf("%s%s\n", Indent, strings.Join(header, "  "))
	printf("%s%s\n", Indent, strings.Join(separator, "──"))
}

func Blank() {
	printf("\n")
}

func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func FormatLatency[T int64 | time.Duration](t T) string {
	ns := int64(t)
	if ns < 1000 {
		return fmt.Sprintf("%5dns", ns)
	}
	if ns < 1_000_000 {
		us := float64(ns) / 1000
		return fmt.Sprintf("%5.1fµs", us)
	}
	if ns < 10_000_000_000 {
		ms := float64(ns) / 1_000_000
		return fmt.Sprintf("%5.2fms", ms)
	}
	return fmt.Sprintf("%5.2fs", float64(ns)/1e9)
}

// FormatSeconds renders a latency held as float seconds.
func FormatSeconds(s float64) string {
	return FormatLatency(time.Duration(s * float64(time.Second)))
}

func FormatPercent(value float64) string {
	return fmt.Sprintf("%.1f%%", value*100)
}

func FormatRate(rate float64) string {
	pct := rate * 100
	if pct >= 99.95 {
		return "100%"
	}
	if pct >= 9.95 {
		return fmt.Sprintf("%.1f%%", pct)
	}
	return fmt.Sprintf("%.2f%%", pct)
}

func FormatRatio(ratio float64) string {
	if ratio < 10 {
		return fmt.Sprintf("%.2fx", ratio)
	}
	return fmt.Sprintf("%.0fx", ratio)
}

func Truncate(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}
