package model

// Span is a timed sub-operation of a transaction.
type Span struct {
	ID            string       `json:"id"`
	TransactionID string       `json:"transaction_id"`
	ParentID      string       `json:"parent_id"`
	TraceID       string       `json:"trace_id"`
	Name          string       `json:"name"`
	Type          string       `json:"type"`
	Subtype       string       `json:"subtype,omitempty"`
	Action        string       `json:"action,omitempty"`
	Timestamp     int64        `json:"timestamp"`
	Duration      float64      `json:"duration"`
	Outcome       Outcome      `json:"outcome,omitempty"`
	SampleRate    *float64     `json:"sample_rate,omitempty"`
	Context       *SpanContext `json:"context,omitempty"`
}

// SpanContext carries exit-call details.
type SpanContext struct {
	HTTP        *HTTPSpanContext `json:"http,omitempty"`
	DB          *DBSpanContext   `json:"db,omitempty"`
	Destination *Destination     `json:"destination,omitempty"`
	Labels      Labels           `json:"tags,omitempty"`
}

// HTTPSpanContext describes an outgoing HTTP call.
type HTTPSpanContext struct {
	URL        string `json:"url,omitempty"`
	Method     string `json:"method,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
}

// DBSpanContext describes a database call.
type DBSpanContext struct {
	Instance  string `json:"instance,omitempty"`
	Statement string `json:"statement,omitempty"`
	Type      string `json:"type,omitempty"`
	User      string `json:"user,omitempty"`
}

// Destination identifies the remote end of an exit span.
type Destination struct {
	Address string              `json:"address,omitempty"`
	Port    int                 `json:"port,omitempty"`
	Service *DestinationService `json:"service,omitempty"`
}

// DestinationService names the downstream service resource.
type DestinationService struct {
	Resource string `json:"resource,omitempty"`
}
