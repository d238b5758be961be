package stats

import (
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct {
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func (c *stepClock) Since(t time.Time) time.Duration { return c.now.Sub(t) }

func TestMeasure(t *testing.T) {
	clock := &stepClock{now: time.Unix(0, 0), step: 3 * time.Millisecond}
	calls := 0

	got, d, err := Measure(clock, func() (string, error) {
		calls++
		clock.now = clock.now.Add(2 * time.Millisecond)
		return "row", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "row", got)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 5*time.Millisecond, d)
}

func TestMeasurePassesErrorThrough(t *testing.T) {
	boom := errors.New("boom")
	_, d, err := Measure(nil, func() (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	assert.GreaterOrEqual(t, d, time.Duration(0))
}

func TestSummarize(t *testing.T) {
	s, err := Summarize(Sample{9, 9, 1, 2, 3, 4}, 2)
	require.NoError(t, err)

	assert.Equal(t, 4, s.N)
	assert.InDelta(t, 2.5, s.Mean, 1e-12)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 4.0, s.Max)
	assert.InDelta(t, 1.2909944487, s.StdDev, 1e-9)
	assert.Equal(t, 2.0, s.P50)
	assert.Equal(t, 4.0, s.P99)
}

func TestSummarizeSingleSample(t *testing.T) {
	s, err := Summarize(Sample{0.5, 0.25}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, s.N)
	assert.Equal(t, 0.25, s.Mean)
	assert.Zero(t, s.StdDev)
}

func TestSummarizeInsufficient(t *testing.T) {
	tests := []struct {
		name    string
		samples Sample
		warmup  int
	}{
		{"empty", nil, 0},
		{"all warm-up", Sample{1, 2, 3}, 3},
		{"fewer than warm-up", Sample{1}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Summarize(tt.samples, tt.warmup)
			assert.ErrorIs(t, err, ErrInsufficientSamples)
		})
	}
}

func TestSummarizeDoesNotReorderInput(t *testing.T) {
	samples := Sample{3, 1, 2}
	_, err := Summarize(samples, 0)
	require.NoError(t, err)
	assert.Equal(t, Sample{3, 1, 2}, samples)
}

func TestSampleAdd(t *testing.T) {
	var s Sample
	s.Add(2 * time.Millisecond)
	s.Add(1500 * time.Millisecond)
	assert.Equal(t, Sample{0.002, 1.5}, s)
	assert.Equal(t, 1500*time.Millisecond, Duration(s[1]))
}

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, 1.0, Percentile(sorted, 0))
	assert.Equal(t, 5.0, Percentile(sorted, 50))
	assert.Equal(t, 9.0, Percentile(sorted, 90))
	assert.Equal(t, 10.0, Percentile(sorted, 95))
	assert.Equal(t, 10.0, Percentile(sorted, 100))
	assert.Equal(t, 1.0, Percentile(sorted, 1))
	assert.Equal(t, 7.0, Percentile([]float64{7}, 99))
	assert.Zero(t, Percentile(nil, 50))
}

func TestPercentileNearestRank(t *testing.T) {
	hundred := make([]float64, 100)
	for i := range hundred {
		hundred[i] = float64(i + 1)
	}
	for _, p := range []int{1, 25, 50, 95, 99, 100} {
		assert.Equal(t, float64(p), Percentile(hundred, p), "p%d", p)
	}
}

func TestSummarizeProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("min <= mean <= max and stddev >= 0", prop.ForAll(
		func(samples []float64, warmup int) bool {
			s, err := Summarize(samples, warmup)
			if len(samples) < warmup+1 {
				return errors.Is(err, ErrInsufficientSamples)
			}
			if err != nil {
				return false
			}
			return s.Min <= s.Mean && s.Mean <= s.Max && s.StdDev >= 0 && s.N == len(samples)-warmup
		},
		gen.SliceOf(gen.Float64Range(0, 5)),
		gen.IntRange(0, 10),
	))

	properties.Property("constant samples have zero spread", prop.ForAll(
		func(n int, v float64) bool {
			samples := make([]float64, n)
			for i := range samples {
				samples[i] = v
			}
			s, err := Summarize(samples, 0)
			return err == nil && s.Mean == v && s.StdDev == 0
		},
		gen.IntRange(1, 200),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}
