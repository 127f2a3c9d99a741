package model

// Transaction is the root timed operation of a trace within one service.
type Transaction struct {
	ID         string              `json:"id"`
	TraceID    string              `json:"trace_id"`
	ParentID   string              `json:"parent_id,omitempty"`
	Name       string              `json:"name"`
	Type       string              `json:"type"`
	Timestamp  int64               `json:"timestamp"`
	Duration   float64             `json:"duration"`
	Result     string              `json:"result,omitempty"`
	Outcome    Outcome             `json:"outcome,omitempty"`
	Sampled    bool                `json:"sampled"`
	SampleRate *float64            `json:"sample_rate,omitempty"`
	SpanCount  SpanCount           `json:"span_count"`
	Context    *TransactionContext `json:"context,omitempty"`
}

// SpanCount summarises the spans of a transaction.
type SpanCount struct {
	Started int `json:"started"`
	Dropped int `json:"dropped"`
}

// TransactionContext is only attached to sampled transactions.
type TransactionContext struct {
	Request  *Request  `json:"request,omitempty"`
	Response *Response `json:"response,omitempty"`
	User     *User     `json:"user,omitempty"`
	Labels   Labels    `json:"tags,omitempty"`
}

// Request describes an inbound HTTP request.
type Request struct {
	Method      string            `json:"method"`
	URL         URL               `json:"url"`
	Headers     map[string]string `json:"headers,omitempty"`
	HTTPVersion string            `json:"http_version,omitempty"`
	Socket      *Socket           `json:"socket,omitempty"`
}

// URL is the decomposed request URL.
type URL struct {
	Full     string `json:"full,omitempty"`
	Protocol string `json:"protocol,omitempty"`
	Hostname string `json:"hostname,omitempty"`
	Port     string `json:"port,omitempty"`
	Path     string `json:"pathname,omitempty"`
	Search   string `json:"search,omitempty"`
}

// Socket holds the peer address of a request.
type Socket struct {
	RemoteAddress string `json:"remote_address,omitempty"`
}

// Response describes the response written for a request.
type Response struct {
	StatusCode  int               `json:"status_code,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	HeadersSent bool              `json:"headers_sent"`
	Finished    bool              `json:"finished"`
}

// User identifies the authenticated end user.
type User struct {
	ID       string `json:"id,omitempty"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
}
