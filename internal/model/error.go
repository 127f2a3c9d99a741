package model

// Error is a captured exception, optionally linked to the span or
// transaction that was active when it happened.
type Error struct {
	ID            string            `json:"id"`
	TraceID       string            `json:"trace_id,omitempty"`
	TransactionID string            `json:"transaction_id,omitempty"`
	ParentID      string            `json:"parent_id,omitempty"`
	Timestamp     int64             `json:"timestamp"`
	Culprit       string            `json:"culprit,omitempty"`
	Exception     Exception         `json:"exception"`
	Transaction   *ErrorTransaction `json:"transaction,omitempty"`
	Context       *ErrorContext     `json:"context,omitempty"`
}

// Exception describes the error value.
type Exception struct {
	Message    string            `json:"message"`
	Type       string            `json:"type,omitempty"`
	Handled    bool              `json:"handled"`
	Stacktrace []StacktraceFrame `json:"stacktrace,omitempty"`
}

// StacktraceFrame is one frame of a captured call stack.
type StacktraceFrame struct {
	Function string `json:"function,omitempty"`
	Module   string `json:"module,omitempty"`
	File     string `json:"filename"`
	AbsPath  string `json:"abs_path,omitempty"`
	Line     int    `json:"lineno"`
}

// ErrorTransaction repeats the owning transaction's summary.
type ErrorTransaction struct {
	Sampled bool   `json:"sampled"`
	Name    string `json:"name,omitempty"`
	Type    string `json:"type,omitempty"`
}

// ErrorContext holds labels attached when the error was captured.
type ErrorContext struct {
	Labels Labels `json:"tags,omitempty"`
}
