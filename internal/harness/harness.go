package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/pdfjson/internal/engine"
	"github.com/roach88/pdfjson/internal/gateway"
	"github.com/roach88/pdfjson/internal/ir"
	"github.com/roach88/pdfjson/internal/store"
	"github.com/roach88/pdfjson/internal/testutil"
	"github.com/roach88/pdfjson/internal/workflow"
)

// harness holds the per-scenario wiring.
type harness struct {
	fake    *testutil.FakeQPDF
	machine *workflow.Machine
	logger  *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh fake engine and a fresh in-memory
// journal. A non-nil error means the scenario could not run at all; expect
// and assertion mismatches are reported through Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	st, err := store.Open(store.MemoryDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	session, err := st.BeginSession(ctx, "scenario:"+scenario.Name, "fake")
	if err != nil {
		return nil, fmt.Errorf("failed to begin session: %w", err)
	}

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	fake := testutil.NewFakeQPDF()
	loader := engine.NewLoader(fake.Factory(), engine.WithLoaderLogger(quiet))
	defer loader.Close()

	gw := gateway.New(loader,
		gateway.WithLogger(quiet),
		gateway.WithIDGenerator(testutil.NewSequentialIDGenerator("inv")),
		gateway.WithClock(engine.NewClock()),
		gateway.WithRecorder(session),
	)

	h := &harness{
		fake:    fake,
		machine: workflow.New(gw, workflow.WithLogger(quiet)),
		logger:  quiet,
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	snap := h.machine.Snapshot()
	result.FinalState = string(snap.State)
	result.FinalText = snap.Text.String()
	result.FinalPDF = snap.Binary

	records, err := st.ListConversions(ctx, session.ID())
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	result.records = records
	for _, rec := range records {
		result.Journal = append(result.Journal, newJournalEntry(rec))
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	var (
		action string
		err    error
	)
	switch {
	case step.Load != "":
		action = "load"
		doc, ferr := h.fixture(step.Load)
		if ferr != nil {
			return ferr
		}
		err = h.machine.Load(ctx, doc)
	case step.Edit != nil:
		action = "edit"
		text, terr := h.editedText(step.Edit)
		if terr != nil {
			return terr
		}
		err = h.machine.Edit(ir.Structural(text))
	case step.Regenerate:
		action = "regenerate"
		err = h.machine.Regenerate(ctx)
	case step.Engine != nil:
		action = "engine"
		h.configureEngine(step.Engine)
	}

	snap := h.machine.Snapshot()
	ev := TraceEvent{
		Step:     i,
		Action:   action,
		State:    string(snap.State),
		Revision: snap.Revision,
	}
	if err != nil {
		ev.Error = ErrorName(err)
		var f *ir.Failure
		if errors.As(err, &f) {
			ev.ExitCode = f.ExitCode
		}
	}
	result.AddTrace(ev)

	h.logger.Info("step completed", "step", i, "action", action, "state", ev.State, "error", ev.Error)

	checkExpect(i, step.Expect, ev, result)
	return nil
}

// fixture resolves a load step's document.
func (h *harness) fixture(name string) (ir.Binary, error) {
	switch name {
	case FixtureBlankPage:
		return testutil.BlankPage(), nil
	case FixtureNotAPDF:
		return ir.NewBinary([]byte("plain text, not a document\n")), nil
	case FixtureRegenerated:
		snap := h.machine.Snapshot()
		if snap.Binary.IsEmpty() {
			return ir.Binary{}, fmt.Errorf("load %s: no regenerated PDF available", name)
		}
		return snap.Binary, nil
	}
	return ir.Binary{}, fmt.Errorf("unknown fixture %q", name)
}

// editedText computes the new text of an edit step.
func (h *harness) editedText(e *EditStep) (string, error) {
	if e.Text != nil {
		return *e.Text, nil
	}
	current := h.machine.Snapshot().Text.String()
	if !strings.Contains(current, e.Replace.Old) {
		return "", fmt.Errorf("edit: %q not found in current text", e.Replace.Old)
	}
	return strings.Replace(current, e.Replace.Old, e.Replace.New, 1), nil
}

func (h *harness) configureEngine(e *EngineStep) {
	if e.Reset {
		h.fake.ForceExit(0, "")
		h.fake.SkipOutput(false)
		return
	}
	if e.Exit != 0 {
		h.fake.ForceExit(e.Exit, e.Diagnostics)
	}
	if e.SkipOutput {
		h.fake.SkipOutput(true)
	}
}

// checkExpect compares a step's event with its expect clause.
func checkExpect(i int, expect *Expect, ev TraceEvent, result *Result) {
	if ev.Action == "engine" {
		return
	}

	wantErr := ErrorNone
	if expect != nil && expect.Error != "" {
		wantErr = expect.Error
	}
	gotErr := ev.Error
	if gotErr == "" {
		gotErr = ErrorNone
	}
	if gotErr != wantErr {
		result.AddError(fmt.Sprintf("step %d (%s): expected error %s, got %s", i, ev.Action, wantErr, gotErr))
	}

	if expect != nil && expect.State != "" && expect.State != ev.State {
		result.AddError(fmt.Sprintf("step %d (%s): expected state %s, got %s", i, ev.Action, expect.State, ev.State))
	}
}

// ErrorName maps a workflow error to the name used in scenarios.
func ErrorName(err error) string {
	var f *ir.Failure
	switch {
	case err == nil:
		return ErrorNone
	case errors.Is(err, workflow.ErrNoDocument):
		return ErrorNoDocument
	case errors.Is(err, workflow.ErrStaleResult):
		return ErrorStaleResult
	case errors.As(err, &f):
		return string(f.Kind)
	}
	return "UNKNOWN"
}
