package harness

import "github.com/roach88/pdfjson/internal/ir"

// TraceEvent records one step of a scenario run.
type TraceEvent struct {
	Step     int    `json:"step"`
	Action   string `json:"action"` // "load", "edit", "regenerate" or "engine"
	State    string `json:"state"`
	Revision uint64 `json:"revision"`
	Error    string `json:"error,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`
}

// JournalEntry is the digest-free part of a conversion record. Digests and
// byte counts are left out so golden files stay readable.
type JournalEntry struct {
	ID        string `json:"id"`
	Seq       int64  `json:"seq"`
	Direction string `json:"direction"`
	Outcome   string `json:"outcome"`
	ExitCode  int    `json:"exit_code,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Journal contains the conversion records the run produced, in order.
	Journal []JournalEntry `json:"journal"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// FinalState, FinalText and FinalPDF capture the workflow at the end.
	FinalState string    `json:"final_state"`
	FinalText  string    `json:"-"`
	FinalPDF   ir.Binary `json:"-"`

	records []ir.ConversionRecord
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Journal: []JournalEntry{},
		Errors:  []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step event.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}

func newJournalEntry(rec ir.ConversionRecord) JournalEntry {
	return JournalEntry{
		ID:        rec.ID,
		Seq:       rec.Seq,
		Direction: string(rec.Direction),
		Outcome:   rec.Outcome,
		ExitCode:  rec.ExitCode,
	}
}
