package harness

// Trace event types.
const (
	EventAdmit  = "admit"
	EventDerive = "derive"
)

// TraceEvent records one step of a scenario run.
//
// Scores are carried as 4-decimal strings so traces serialize through
// canonical JSON, which has no floats.
type TraceEvent struct {
	Seq  int64  `json:"seq"`
	Type string `json:"type"`

	// Admit fields.
	Label    string   `json:"label,omitempty"`
	Score    string   `json:"score,omitempty"`
	Admitted bool     `json:"admitted,omitempty"`
	Retained bool     `json:"retained,omitempty"`
	SampleID string   `json:"sample_id,omitempty"`
	Evicted  []string `json:"evicted,omitempty"`

	// Derive fields.
	Method   string   `json:"method,omitempty"`
	Key      string   `json:"key,omitempty"` // hex
	RecordID string   `json:"record_id,omitempty"`
	Blocks   []string `json:"blocks,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// FinalSample describes one sample left in the store after a run.
type FinalSample struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Score string `json:"score"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace lists every step in order.
	Trace []TraceEvent `json:"trace"`

	// Final lists the retained samples in store order.
	Final []FinalSample `json:"final"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Final:  []FinalSample{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
