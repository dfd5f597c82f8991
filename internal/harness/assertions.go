package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes the trace to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		line := fmt.Sprintf("  [%d] %s -> %s (rev %d)", ev.Step, ev.Action, ev.State, ev.Revision)
		if ev.Error != "" {
			line += " " + ev.Error
		}
		buf.WriteString(line + "\n")
	}
	return buf.String()
}

// EvaluateAssertions runs all assertions against a result and returns the
// failure messages. An empty slice means every assertion held.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	fail := func(expected, actual string) error {
		return &AssertionError{Type: a.Type, Expected: expected, Actual: actual, Trace: result.Trace}
	}

	switch a.Type {
	case AssertFinalState:
		if result.FinalState != a.State {
			return fail("state "+a.State, "state "+result.FinalState)
		}
	case AssertTextContains:
		if !strings.Contains(result.FinalText, a.Value) {
			return fail(fmt.Sprintf("text containing %q", a.Value), summarize(result.FinalText))
		}
	case AssertTextExcludes:
		if strings.Contains(result.FinalText, a.Value) {
			return fail(fmt.Sprintf("text without %q", a.Value), summarize(result.FinalText))
		}
	case AssertPDFContains:
		pdf := string(result.FinalPDF.Bytes())
		if !strings.Contains(pdf, a.Value) {
			return fail(fmt.Sprintf("PDF containing %q", a.Value), summarize(pdf))
		}
	case AssertJournalCount:
		n := 0
		for _, e := range result.Journal {
			if (a.Direction == "" || e.Direction == a.Direction) && (a.Outcome == "" || e.Outcome == a.Outcome) {
				n++
			}
		}
		if n != a.Count {
			return fail(fmt.Sprintf("%d records (direction=%q outcome=%q)", a.Count, a.Direction, a.Outcome),
				fmt.Sprintf("%d records", n))
		}
	case AssertJournalOrder:
		got := make([]string, len(result.Journal))
		for i, e := range result.Journal {
			got[i] = e.Direction
		}
		if !slices.Equal(got, a.Directions) {
			return fail(fmt.Sprintf("%v", a.Directions), fmt.Sprintf("%v", got))
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// summarize shortens long text for failure messages.
func summarize(s string) string {
	const limit = 120
	if s == "" {
		return "(empty)"
	}
	if len(s) > limit {
		return fmt.Sprintf("%q... (%d bytes)", s[:limit], len(s))
	}
	return fmt.Sprintf("%q", s)
}
