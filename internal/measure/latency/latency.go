package latency

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Quantiles are the percentile cut points included in every Report.
var Quantiles = []float64{50, 90, 95, 99, 99.9, 99.99}

// Percentile is one nearest-rank cut point in microseconds.
type Percentile struct {
	Quantile float64 `json:"quantile"`
	Value    int64   `json:"value_us"`
}

// Report summarises a run. All durations are whole microseconds.
type Report struct {
	Count       int          `json:"count"`
	Min         int64        `json:"min_us"`
	Max         int64        `json:"max_us"`
	Mean        int64        `json:"mean_us"`
	Percentiles []Percentile `json:"percentiles"`
}

// NewReport sorts a copy of samples and derives the summary statistics.
// The input is left untouched.
func NewReport(samples []time.Duration) (Report, error) {
	if len(samples) == 0 {
		return Report{}, fmt.Errorf("no samples to report")
	}

	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total int64
	for _, s := range sorted {
		total += s.Microseconds()
	}

	r := Report{
		Count:       len(sorted),
		Min:         sorted[0].Microseconds(),
		Max:         sorted[len(sorted)-1].Microseconds(),
		Mean:        total / int64(len(sorted)),
		Percentiles: make([]Percentile, 0, len(Quantiles)),
	}

	for _, q := range Quantiles {
		r.Percentiles = append(r.Percentiles, Percentile{
			Quantile: q,
			Value:    sorted[rankIndex(len(sorted), q)].Microseconds(),
		})
	}

	return r, nil
}

// rankIndex is floor(count * q / 100), clamped to the slice.
func rankIndex(count int, q float64) int {
	idx := int(math.Floor(float64(count) * (q / 100)))
	if idx >= count {
		idx = count - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

// Quantile returns the value recorded for q, if q is one of Quantiles.
func (r Report) Quantile(q float64) (int64, bool) {
	for _, p := range r.Percentiles {
		if p.Quantile == q {
			return p.Value, true
		}
	}
	return 0, false
}

func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "min    = %dus\n", r.Min)
	fmt.Fprintf(&b, "max    = %dus\n", r.Max)
	fmt.Fprintf(&b, "avg    = %dus\n", r.Mean)
	for _, p := range r.Percentiles {
		fmt.Fprintf(&b, "p%-5s = %dus\n", strconv.FormatFloat(p.Quantile, 'f', -1, 64), p.Value)
	}
	return b.String()
}
