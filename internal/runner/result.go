package runner

import (
	"errors"
	"fmt"
	"time"

	"github.com/apostoltudor/bdnsv/internal/backend"
	"github.com/apostoltudor/bdnsv/internal/stats"
)

var ErrBenchmarkIncomplete = errors.New("benchmark incomplete")

// IncompleteError voids a run whose measured failure rate exceeded the
// configured threshold.
type IncompleteError struct {
	Backend   string
	Operation string
	Failures  int
	Trials    int
	Threshold float64
	LastErr   error
}

func (e *IncompleteError) Error() string {
	msg := fmt.Sprintf("%s: %s/%s: %d of %d trials failed (threshold %.1f%%)",
		ErrBenchmarkIncomplete, e.Backend, e.Operation, e.Failures, e.Trials, e.Threshold*100)
	if e.LastErr != nil {
		msg += ": " + e.LastErr.Error()
	}
	return msg
}

func (e *IncompleteError) Unwrap() []error {
	if e.LastErr == nil {
		return []error{ErrBenchmarkIncomplete}
	}
	return []error{ErrBenchmarkIncomplete, e.LastErr}
}

func (e *IncompleteError) FailureRate() float64 {
	if e.Trials == 0 {
		return 0
	}
	return float64(e.Failures) / float64(e.Trials)
}

type BenchmarkResult struct {
	RunID          string                `json:"run_id"`
	Backend        string                `json:"backend"`
	Operation      string                `json:"operation"`
	Kind           backend.OperationKind `json:"kind"`
	Items          int                   `json:"items"`
	Summary        stats.Summary         `json:"summary"`
	Trials         int                   `json:"trials"`
	Warmup         int                   `json:"warmup"`
	FailureCount   int                   `json:"failure_count"`
	WarmupFailures int                   `json:"warmup_failures,omitempty"`
	NotFoundCount  int                   `json:"not_found_count,omitempty"`
	LastError      string                `json:"last_error,omitempty"`
	StartedAt      time.Time             `json:"started_at"`
	Elapsed        time.Duration         `json:"elapsed"`
}

// AllMissed reports a lookup run in which no completed trial found a single
// record. Its latencies measure misses, not reads.
func (r *BenchmarkResult) AllMissed() bool {
	if r.Kind != backend.KindPointLookup || r.NotFoundCount == 0 || r.Items == 0 {
		return false
	}
	completed := r.Trials - r.FailureCount - r.WarmupFailures
	return r.NotFoundCount >= completed*r.Items
}

// Record is the flat shape handed to external reporters.
type Record struct {
	Backend      string  `json:"backend"`
	Operation    string  `json:"operation"`
	MeanLatency  float64 `json:"meanLatency"`
	MinLatency   float64 `json:"minLatency"`
	MaxLatency   float64 `json:"maxLatency"`
	SampleCount  int     `json:"sampleCount"`
	FailureCount int     `json:"failureCount"`
}

func (r *BenchmarkResult) Record() Record {
	return Record{
		Backend:      r.Backend,
		Operation:    r.Operation,
		MeanLatency:  r.Summary.Mean,
		MinLatency:   r.Summary.Min,
		MaxLatency:   r.Summary.Max,
		SampleCount:  r.Summary.N,
		FailureCount: r.FailureCount,
	}
}

func Records(results []*BenchmarkResult) []Record {
	out := make([]Record, 0, len(results))
	for _, r := range results {
		out = append(out, r.Record())
	}
	return out
}
