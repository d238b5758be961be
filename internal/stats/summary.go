package stats

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"
)

var ErrInsufficientSamples = errors.New("insufficient samples")

// Sample is an ordered series of trial latencies in fractional seconds for
// a single (backend, operation) pair.
type Sample []float64

func (s *Sample) Add(d time.Duration) {
	*s = append(*s, d.Seconds())
}

// Summary contains latency statistics in seconds for the measured trials.
type Summary struct {
	N      int     `json:"n"`
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"stddev"`
	P50    float64 `json:"p50"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
}

// Summarize drops the first warmup samples and describes the rest.
// StdDev is the sample standard deviation, zero when a single sample remains.
func Summarize(samples Sample, warmup int) (Summary, error) {
	if warmup < 0 {
		warmup = 0
	}
	if len(samples) < warmup+1 {
		return Summary{}, fmt.Errorf("%w: have %d, need at least %d after %d warm-up",
			ErrInsufficientSamples, len(samples), warmup+1, warmup)
	}

	measured := slices.Clone(samples[warmup:])
	n := len(measured)

	var total float64
	low := math.Inf(1)
	high := math.Inf(-1)
	for _, v := range measured {
		total += v
		low = min(low, v)
		high = max(high, v)
	}
	mean := total / float64(n)
	// Clamp float drift so min <= mean <= max holds exactly.
	mean = min(max(mean, low), high)

	var stddev float64
	if n > 1 {
		var sq float64
		for _, v := range measured {
			d := v - mean
			sq += d * d
		}
		stddev = math.Sqrt(sq / float64(n-1))
	}

	slices.Sort(measured)

	return Summary{
		N:      n,
		Mean:   mean,
		Min:    low,
		Max:    high,
		StdDev: stddev,
		P50:    Percentile(measured, 50),
		P95:    Percentile(measured, 95),
		P99:    Percentile(measured, 99),
	}, nil
}

// Percentile returns the nearest-rank p-th percentile of an ascending slice:
// the smallest value with at least p percent of the samples at or below it.
func Percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	idx := (p*len(sorted)+99)/100 - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}

func Duration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
