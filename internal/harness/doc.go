// Package harness runs workflow scenarios against the in-memory engine and
// checks the resulting states, errors, and conversion journal.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	steps:
//	  - load: blank_page
//	    expect: { state: structural }
//	  - edit:
//	      replace: { old: '"/Rotate": 0', new: '"/Rotate": 90' }
//	  - regenerate: true
//	    expect: { state: regenerated }
//	  - engine: { exit: 2, diagnostics: "qpdf: damaged" }
//	  - regenerate: true
//	    expect: { error: CONVERSION_FAILURE }
//	assertions:
//	  - type: final_state
//	    state: structural
//	  - type: text_contains
//	    value: '"/Rotate": 90'
//	  - type: journal_count
//	    direction: to_binary
//	    count: 2
//
// # Steps
//
// Each step performs exactly one action:
//
//   - load: loads a fixture ("blank_page", "not_a_pdf") or "regenerated",
//     the PDF of the previous successful regeneration
//   - edit: replaces the text, either whole (text) or by substitution (replace)
//   - regenerate: regenerates the PDF from the current text
//   - engine: injects a fault into the engine (exit code, missing output) or
//     clears it (reset)
//
// An expect clause checks the step's error ("none" by default) and
// optionally the state after it. Errors are named by failure kind, or
// NO_DOCUMENT and STALE_RESULT for the workflow's own errors.
//
// # Assertion Types
//
//   - final_state: the state after the last step
//   - text_contains / text_excludes: the final structural text
//   - pdf_contains: the final regenerated PDF
//   - journal_count: number of journal records matching direction/outcome
//   - journal_order: directions of all journal records, in order
//
// # Deterministic Testing
//
// Every scenario runs with a fresh fake engine, sequential invocation IDs
// ("inv-0001", ...), a logical clock starting at 1, and an in-memory SQLite
// journal, so traces are identical across runs and can be compared against
// golden files.
package harness
