package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is a sequence of workflow steps with expectations.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Steps run in order against one workflow session.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state and the journal.
	Assertions []Assertion `yaml:"assertions"`
}

// Step performs exactly one action.
type Step struct {
	Load       string      `yaml:"load,omitempty"`
	Edit       *EditStep   `yaml:"edit,omitempty"`
	Regenerate bool        `yaml:"regenerate,omitempty"`
	Engine     *EngineStep `yaml:"engine,omitempty"`

	// Expect checks the step's outcome. Nil means the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// EditStep replaces the structural text.
type EditStep struct {
	// Text replaces the whole text.
	Text *string `yaml:"text,omitempty"`

	// Replace substitutes the first occurrence of Old with New in the
	// current text. Old must occur.
	Replace *Replace `yaml:"replace,omitempty"`
}

// Replace is a single text substitution.
type Replace struct {
	Old string `yaml:"old"`
	New string `yaml:"new"`
}

// EngineStep changes the fake engine's behavior for later steps.
type EngineStep struct {
	Exit        int    `yaml:"exit,omitempty"`
	Diagnostics string `yaml:"diagnostics,omitempty"`
	SkipOutput  bool   `yaml:"skip_output,omitempty"`
	Reset       bool   `yaml:"reset,omitempty"`
}

// Expect checks a step's outcome.
type Expect struct {
	// Error is the expected error name, or ErrorNone.
	Error string `yaml:"error,omitempty"`

	// State, if set, is the expected state after the step.
	State string `yaml:"state,omitempty"`
}

// Assertion validates the final state or the journal.
type Assertion struct {
	// Type selects the assertion; see the Assert* constants.
	Type string `yaml:"type"`

	// State is the expected final state (final_state).
	State string `yaml:"state,omitempty"`

	// Value is the expected substring (text_contains, text_excludes,
	// pdf_contains).
	Value string `yaml:"value,omitempty"`

	// Direction and Outcome filter journal records (journal_count).
	// Empty matches any.
	Direction string `yaml:"direction,omitempty"`
	Outcome   string `yaml:"outcome,omitempty"`

	// Count is the expected number of matching records (journal_count).
	Count int `yaml:"count,omitempty"`

	// Directions is the expected direction sequence (journal_order).
	Directions []string `yaml:"directions,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalState   = "final_state"
	AssertTextContains = "text_contains"
	AssertTextExcludes = "text_excludes"
	AssertPDFContains  = "pdf_contains"
	AssertJournalCount = "journal_count"
	AssertJournalOrder = "journal_order"
)

// Fixture names accepted by load steps.
const (
	FixtureBlankPage   = "blank_page"
	FixtureNotAPDF     = "not_a_pdf"
	FixtureRegenerated = "regenerated"
)

// Error names used in expect clauses and traces.
const (
	ErrorNone        = "none"
	ErrorNoDocument  = "NO_DOCUMENT"
	ErrorStaleResult = "STALE_RESULT"
)

var validStates = map[string]bool{"empty": true, "structural": true, "regenerated": true}

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos do not silently disable checks.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step *Step) error {
	actions := 0
	if step.Load != "" {
		actions++
		switch step.Load {
		case FixtureBlankPage, FixtureNotAPDF, FixtureRegenerated:
		default:
			return fmt.Errorf("steps[%d]: unknown fixture %q", i, step.Load)
		}
	}
	if step.Edit != nil {
		actions++
		if (step.Edit.Text == nil) == (step.Edit.Replace == nil) {
			return fmt.Errorf("steps[%d].edit: exactly one of text or replace is required", i)
		}
		if step.Edit.Replace != nil && step.Edit.Replace.Old == "" {
			return fmt.Errorf("steps[%d].edit.replace: old is required", i)
		}
	}
	if step.Regenerate {
		actions++
	}
	if step.Engine != nil {
		actions++
		if step.Expect != nil {
			return fmt.Errorf("steps[%d]: engine steps take no expect clause", i)
		}
	}
	if actions != 1 {
		return fmt.Errorf("steps[%d]: exactly one of load, edit, regenerate or engine is required", i)
	}

	if step.Expect != nil && step.Expect.State != "" && !validStates[step.Expect.State] {
		return fmt.Errorf("steps[%d].expect: unknown state %q", i, step.Expect.State)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertFinalState:
		if !validStates[a.State] {
			return fmt.Errorf("assertions[%d]: final_state needs a valid state, got %q", index, a.State)
		}
	case AssertTextContains, AssertTextExcludes, AssertPDFContains:
		if a.Value == "" {
			return fmt.Errorf("assertions[%d]: value is required for %s", index, a.Type)
		}
	case AssertJournalCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for journal_count", index)
		}
	case AssertJournalOrder:
		if len(a.Directions) == 0 {
			return fmt.Errorf("assertions[%d]: directions list is required for journal_order", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
