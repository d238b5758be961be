// Package summary renders finished benchmark reports: a per-run table, a
// per-operation comparison across backends, and the JSON record stream.
package summary

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/apostoltudor/bdnsv/internal/cli"
	"github.com/apostoltudor/bdnsv/internal/runner"
)

const rule = "  ───────────────────────────────────────────────────────────────────────────────────────"

// Entry is one backend's standing within an operation comparison.
type Entry struct {
	Backend string  `json:"backend"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"stddev"`
	Ratio   float64 `json:"ratio"`
}

// Comparison ranks every backend that completed the same operation.
type Comparison struct {
	Operation string  `json:"operation"`
	Entries   []Entry `json:"entries"`
}

// Compare groups results by operation and ranks backends by mean latency.
// Ratio is relative to the fastest backend of that operation.
func Compare(results []*runner.BenchmarkResult) []Comparison {
	byOp := make(map[string][]Entry)
	for _, r := range results {
		byOp[r.Operation] = append(byOp[r.Operation], Entry{
			Backend: r.Backend,
			Mean:    r.Summary.Mean,
			StdDev:  r.Summary.StdDev,
		})
	}

	out := make([]Comparison, 0, len(byOp))
	for _, op := range slices.Sorted(maps.Keys(byOp)) {
		entries := byOp[op]
		slices.SortFunc(entries, func(a, b Entry) int {
			if c := cmp.Compare(a.Mean, b.Mean); c != 0 {
				return c
			}
			return cmp.Compare(a.Backend, b.Backend)
		})
		fastest := entries[0].Mean
		for i := range entries {
			entries[i].Ratio = 1
			if fastest > 0 {
				entries[i].Ratio = entries[i].Mean / fastest
			}
		}
		out = append(out, Comparison{Operation: op, Entries: entries})
	}
	return out
}

// WriteJSON emits the flat record list, one element per completed run.
func WriteJSON(w io.Writer, results []*runner.BenchmarkResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(runner.Records(results)); err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	return nil
}

// Print writes the results table, the comparison and any failed runs.
func Print(report *runner.Report, elapsed time.Duration) {
	out := cli.Output()

	cli.Header("Results")
	if len(report.Results) == 0 && len(report.Failures) == 0 {
		cli.Linef("No benchmarks to display.")
		return
	}

	if len(report.Results) > 0 {
		printResults(out, report.Results)
		printComparisons(out, Compare(report.Results))
	}

	if len(report.Failures) > 0 {
		cli.Linef("Issues")
		fmt.Fprintln(out, rule)
		for _, f := range report.Failures {
			fmt.Fprintf(out, "  %-10s  %-16s  %s\n",
				cli.Truncate(f.Backend, 10),
				cli.Truncate(f.Operation, 16),
				cli.Truncate(f.Message, 60))
		}
		cli.Blank()
	}

	fmt.Fprintln(out, rule)
	statusStr := fmt.Sprintf("%s %d completed", cli.SymbolPass, len(report.Results))
	if len(report.Failures) > 0 {
		statusStr += fmt.Sprintf("  %s %d failed", cli.SymbolFail, len(report.Failures))
	}
	fmt.Fprintf(out, "  %d runs │ %s │ %s\n",
		len(report.Results)+len(report.Failures),
		cli.FormatDuration(elapsed),
		statusStr)
	cli.Blank()
}

func printResults(out io.Writer, results []*runner.BenchmarkResult) {
	sorted := slices.Clone(results)
	slices.SortStableFunc(sorted, func(a, b *runner.BenchmarkResult) int {
		if c := cmp.Compare(a.Backend, b.Backend); c != 0 {
			return c
		}
		return cmp.Compare(a.Operation, b.Operation)
	})

	cli.Linef("Runs (latency per item, warm-up excluded)")
	fmt.Fprintln(out, rule)
	fmt.Fprintf(out, "  %-10s  %-16s  %8s  %8s  %8s  %8s  %8s  %8s  %5s  %6s\n",
		"Backend", "Operation", "Mean", "StdDev", "P50", "P95", "Min", "Max", "N", "Rate")
	for _, r := range sorted {
		s := r.Summary
		rate := 1.0
		if r.Trials > 0 {
			rate = float64(r.Trials-r.FailureCount) / float64(r.Trials)
		}
		fmt.Fprintf(out, "  %-10s  %-16s  %8s  %8s  %8s  %8s  %8s  %8s  %5d  %6s\n",
			cli.Truncate(r.Backend, 10),
			cli.Truncate(r.Operation, 16),
			cli.FormatSeconds(s.Mean),
			cli.FormatSeconds(s.StdDev),
			cli.FormatSeconds(s.P50),
			cli.FormatSeconds(s.P95),
			cli.FormatSeconds(s.Min),
			cli.FormatSeconds(s.Max),
			s.N,
			cli.FormatRate(rate))
		if r.AllMissed() {
			fmt.Fprintf(out, "  %-10s  %s every lookup missed, keys do not match stored records\n", "", cli.SymbolWarning)
		} else if r.NotFoundCount > 0 {
			fmt.Fprintf(out, "  %-10s  %s %d lookups found no record\n", "", cli.SymbolInfo, r.NotFoundCount)
		}
	}
	cli.Blank()
}

func printComparisons(out io.Writer, comparisons []Comparison) {
	for _, c := range comparisons {
		if len(c.Entries) < 2 {
			continue
		}
		cli.Linef("%s (by mean latency)", c.Operation)
		fmt.Fprintln(out, rule)
		fmt.Fprintf(out, "  %2s  %-10s  %10s  %10s  %7s\n", "#", "Backend", "Mean", "StdDev", "Ratio")
		for i, e := range c.Entries {
			fmt.Fprintf(out, "  %2d  %-10s  %10s  %10s  %7s\n",
				i+1,
				cli.Truncate(e.Backend, 10),
				cli.FormatSeconds(e.Mean),
				cli.FormatSeconds(e.StdDev),
				cli.FormatRatio(e.Ratio))
		}
		cli.Blank()
	}
}
