package model

// MetricSet groups metric samples taken at the same time with the same labels.
type MetricSet struct {
	Timestamp   int64                  `json:"timestamp"`
	Samples     map[string]MetricValue `json:"samples"`
	Labels      Labels                 `json:"tags,omitempty"`
	Transaction *MetricTransaction     `json:"transaction,omitempty"`
	Span        *MetricSpan            `json:"span,omitempty"`
}

// MetricValue is a single sample.
type MetricValue struct {
	Value float64 `json:"value"`
}

// MetricTransaction scopes a metric set to a transaction group.
type MetricTransaction struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// MetricSpan scopes a metric set to a span group.
type MetricSpan struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`
}
