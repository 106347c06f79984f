package harness

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq     int64  `json:"seq"`
	Op      string `json:"op"`            // insert, resolve, reverse, assign or delete
	Subject string `json:"subject"`       // entity, Entity.field or row label
	Row     string `json:"row,omitempty"` // label the step worked on
	Outcome string `json:"outcome"`       // ok, absent, not_found or error

	// Result holds what the step produced: inserted values, the resolved
	// label, referencing labels, deletion counts or the error message.
	Result any `json:"result,omitempty"`
}

// Key returns the "op subject" form used by trace_order assertions.
func (e TraceEvent) Key() string {
	return e.Op + " " + e.Subject
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every expect clause and assertion matches.
	Pass bool `json:"pass"`

	// Trace contains every setup and flow step in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation and assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an event to the trace.
func (r *Result) AddTrace(e TraceEvent) {
	r.Trace = append(r.Trace, e)
}
