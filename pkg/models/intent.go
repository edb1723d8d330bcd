package models

import "time"

// Metric identifies the aggregate a query intent asks for.
type Metric string

const (
	MetricSum     Metric = "sum"
	MetricAvg     Metric = "avg"
	MetricTrend   Metric = "trend"
	MetricCompare Metric = "compare"
)

// Valid reports whether the metric is one of the known values.
func (m Metric) Valid() bool {
	switch m {
	case MetricSum, MetricAvg, MetricTrend, MetricCompare:
		return true
	}
	return false
}

// DateRange is a half-open [Start, End) time window.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the length of the window.
func (r DateRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Previous returns the comparable window immediately preceding this one,
// with the same length. Used for historical baselines.
func (r DateRange) Previous() DateRange {
	d := r.Duration()
	return DateRange{Start: r.Start.Add(-d), End: r.Start}
}

// Contains reports whether t falls inside the window.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Intent is the structured form of a natural-language query,
// produced once per request by the understanding stage and immutable after.
type Intent struct {
	RawText            string    `json:"raw_text"`
	Category           string    `json:"category,omitempty"`
	DateRange          DateRange `json:"date_range"`
	Metric             Metric    `json:"metric"`
	ComparisonTarget   string    `json:"comparison_target,omitempty"`
	NeedsVisualization bool      `json:"needs_visualization"`
}
