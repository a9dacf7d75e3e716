package harness

import "github.com/roach88/rulecore/internal/ir"

// Trace event types.
const (
	EventInsert  = "insert"
	EventUpdate  = "update"
	EventDelete  = "delete"
	EventFire    = "fire"
	EventAdvance = "advance"
	EventHalt    = "halt"
	EventRestore = "restore"
)

// TraceEvent is one observable change in a scenario run.
type TraceEvent struct {
	Type    string   `json:"type"`
	Seq     int64    `json:"seq"`
	Time    int64    `json:"time"`
	Handle  int64    `json:"handle,omitempty"`
	Fact    *ir.Fact `json:"fact,omitempty"`
	Logical bool     `json:"logical,omitempty"`
	Rule    string   `json:"rule,omitempty"`
	Handles []int64  `json:"handles,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	Pass bool `json:"pass"`

	// Trace contains every fact change, firing and clock advance in order.
	Trace []TraceEvent `json:"trace"`

	// Fired lists rule names in firing order.
	Fired []string `json:"fired"`

	// Facts holds the final facts in handle order.
	Facts []ir.Fact `json:"facts"`

	// Time is the final clock time.
	Time int64 `json:"time"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Fired:  []string{},
		Facts:  []ir.Fact{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// FactsOf returns final facts of one type in handle order.
func (r *Result) FactsOf(typ string) []ir.Fact {
	var out []ir.Fact
	for _, f := range r.Facts {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}
