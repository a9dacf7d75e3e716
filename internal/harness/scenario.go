package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/rulecore/internal/timer"
)

// Scenario drives a real session through a sequence of steps and checks
// what fired, which facts remain and what time it is at the end.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description,omitempty"`

	// Rules is a directory of CUE rule files, relative to the scenario file.
	Rules string `yaml:"rules,omitempty"`

	// RulesInline holds CUE source used instead of a directory.
	RulesInline string `yaml:"rules_inline,omitempty"`

	// Clock overrides the rule base's session clock. Scenarios default to
	// the pseudo clock when neither sets one.
	Clock string `yaml:"clock,omitempty"`

	// StartTime is the initial pseudo clock time in epoch milliseconds.
	StartTime *int64 `yaml:"start_time,omitempty"`

	Steps []Step `yaml:"steps"`

	Expect *Expect `yaml:"expect,omitempty"`

	// Assertions are finer-grained checks on the trace and final facts.
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// baseDir resolves Rules. Set by LoadScenario.
	baseDir string
}

// Step is one operation on the session. Exactly one operation key is set.
type Step struct {
	Insert  *InsertStep `yaml:"insert,omitempty"`
	Update  *ChangeStep `yaml:"update,omitempty"` // replaces all fields
	Modify  *ChangeStep `yaml:"modify,omitempty"` // merges fields
	Delete  string      `yaml:"delete,omitempty"`
	Fire    *int        `yaml:"fire,omitempty"` // limit, 0 fires to quiescence
	Advance string      `yaml:"advance,omitempty"`
	Halt    bool        `yaml:"halt,omitempty"`
	Focus   string      `yaml:"focus,omitempty"`
	Restore bool        `yaml:"restore,omitempty"`

	// Error, when set, is a substring the step's error must contain.
	Error string `yaml:"error,omitempty"`
}

// InsertStep inserts a fact, optionally naming its handle for later steps.
type InsertStep struct {
	As         string         `yaml:"as,omitempty"`
	Type       string         `yaml:"type"`
	EntryPoint string         `yaml:"entry_point,omitempty"`
	Fields     map[string]any `yaml:"fields,omitempty"`
}

// ChangeStep updates or modifies a named fact.
type ChangeStep struct {
	Ref    string         `yaml:"ref"`
	Fields map[string]any `yaml:"fields"`
}

// Expect holds the end-state checks.
type Expect struct {
	// Fired is the exact sequence of rule names fired.
	Fired []string `yaml:"fired,omitempty"`

	// Facts lists the final facts in handle order. Fields are matched as a
	// subset: unlisted fields are ignored.
	Facts []FactExpect `yaml:"facts,omitempty"`

	// Time is the final clock time in epoch milliseconds.
	Time *int64 `yaml:"time,omitempty"`
}

// FactExpect matches one fact.
type FactExpect struct {
	Type   string         `yaml:"type"`
	Fields map[string]any `yaml:"fields,omitempty"`
}

// Assertion validates the trace or the final facts.
type Assertion struct {
	// Type specifies the assertion type:
	// - "fired_contains": Check rule fired at least once
	// - "fired_order": Check rules fired in order
	// - "fired_count": Check rule fired exactly N times
	// - "fact_count": Check N facts of a type match where
	// - "fact_state": Check a fact matching where has the expected fields
	Type string `yaml:"type"`

	// Rule is the rule name (used by fired_contains, fired_count).
	Rule string `yaml:"rule,omitempty"`

	// Rules is the expected firing order (used by fired_order).
	Rules []string `yaml:"rules,omitempty"`

	// Fact is the fact type (used by fact_count, fact_state).
	Fact string `yaml:"fact,omitempty"`

	// Where filters facts. All fields must match exactly.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected field values (used by fact_state).
	// Subset match - only specified fields are validated.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of occurrences.
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertFiredContains = "fired_contains"
	AssertFiredOrder    = "fired_order"
	AssertFiredCount    = "fired_count"
	AssertFactCount     = "fact_count"
	AssertFactState     = "fact_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// A relative rules directory resolves against the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, filepath.Dir(path))
}

// ParseScenario parses scenario YAML, resolving a relative rules directory
// against baseDir.
func ParseScenario(data []byte, baseDir string) (*Scenario, error) {
	// Reject unknown fields (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	scenario.baseDir = baseDir

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// rulesDir returns the resolved rules directory.
func (s *Scenario) rulesDir() string {
	if s.Rules == "" || filepath.IsAbs(s.Rules) || s.baseDir == "" {
		return s.Rules
	}
	return filepath.Join(s.baseDir, s.Rules)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	switch {
	case s.Rules == "" && s.RulesInline == "":
		return fmt.Errorf("rules or rules_inline is required")
	case s.Rules != "" && s.RulesInline != "":
		return fmt.Errorf("rules and rules_inline are mutually exclusive")
	}
	if s.Rules != "" {
		if _, err := os.Stat(s.rulesDir()); os.IsNotExist(err) {
			return fmt.Errorf("rules directory not found: %s", s.rulesDir())
		}
	}

	if s.Clock != "" {
		if _, err := timer.ParseClockType(s.Clock); err != nil {
			return fmt.Errorf("clock: %w", err)
		}
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	if s.Expect != nil {
		for i, f := range s.Expect.Facts {
			if f.Type == "" {
				return fmt.Errorf("expect.facts[%d]: type is required", i)
			}
		}
	}
	return nil
}

// validateStep checks that exactly one operation is set and that it is
// complete.
func validateStep(step Step) error {
	ops := 0
	for _, set := range []bool{
		step.Insert != nil,
		step.Update != nil,
		step.Modify != nil,
		step.Delete != "",
		step.Fire != nil,
		step.Advance != "",
		step.Halt,
		step.Focus != "",
		step.Restore,
	} {
		if set {
			ops++
		}
	}
	if ops != 1 {
		return fmt.Errorf("expected exactly one operation, found %d", ops)
	}

	switch {
	case step.Insert != nil:
		if step.Insert.Type == "" {
			return fmt.Errorf("insert: type is required")
		}
	case step.Update != nil:
		if step.Update.Ref == "" {
			return fmt.Errorf("update: ref is required")
		}
	case step.Modify != nil:
		if step.Modify.Ref == "" {
			return fmt.Errorf("modify: ref is required")
		}
	case step.Fire != nil:
		if *step.Fire < 0 {
			return fmt.Errorf("fire: limit must be non-negative")
		}
	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("advance: %w", err)
		}
		if d < 0 {
			return fmt.Errorf("advance: duration must be non-negative")
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertFiredContains:
		if a.Rule == "" {
			return fmt.Errorf("assertions[%d]: rule is required for fired_contains", index)
		}
	case AssertFiredOrder:
		if len(a.Rules) == 0 {
			return fmt.Errorf("assertions[%d]: rules list is required for fired_order", index)
		}
	case AssertFiredCount:
		if a.Rule == "" {
			return fmt.Errorf("assertions[%d]: rule is required for fired_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for fired_count", index)
		}
	case AssertFactCount:
		if a.Fact == "" {
			return fmt.Errorf("assertions[%d]: fact is required for fact_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for fact_count", index)
		}
	case AssertFactState:
		if a.Fact == "" {
			return fmt.Errorf("assertions[%d]: fact is required for fact_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for fact_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
