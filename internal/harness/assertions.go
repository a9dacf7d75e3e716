package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/rulecore/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
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

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFirings:\n")
		n := 0
		for _, event := range e.Trace {
			if event.Type == EventFire {
				n++
				fmt.Fprintf(&buf, "  [%d] %s %v\n", n, event.Rule, event.Handles)
			}
		}
	}

	return buf.String()
}

// assertFiredContains checks that the rule fired at least once.
func assertFiredContains(result *Result, assertion Assertion) error {
	for _, rule := range result.Fired {
		if rule == assertion.Rule {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertFiredContains,
		Expected: fmt.Sprintf("rule %s fired", assertion.Rule),
		Actual:   "never fired",
		Trace:    result.Trace,
	}
}

// assertFiredOrder checks that rules first fired in the specified order.
// Firings don't need to be consecutive (other rules may fire in between).
func assertFiredOrder(result *Result, assertion Assertion) error {
	// Step 1: Find first position of each expected rule
	positions := make(map[string]int)
	for i, rule := range result.Fired {
		if _, seen := positions[rule]; !seen {
			positions[rule] = i + 1 // 1-indexed for readability
		}
	}

	// Step 2: Verify all rules fired
	for _, rule := range assertion.Rules {
		if positions[rule] == 0 {
			return &AssertionError{
				Type:     AssertFiredOrder,
				Expected: fmt.Sprintf("all rules fired: %v", assertion.Rules),
				Actual:   fmt.Sprintf("missing rule: %s", rule),
				Trace:    result.Trace,
			}
		}
	}

	// Step 3: Verify order
	for i := 1; i < len(assertion.Rules); i++ {
		prev := assertion.Rules[i-1]
		curr := assertion.Rules[i]

		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertFiredOrder,
				Expected: fmt.Sprintf("rules in order: %v", assertion.Rules),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: result.Trace,
			}
		}
	}

	return nil
}

// assertFiredCount checks that the rule fired exactly Count times.
func assertFiredCount(result *Result, assertion Assertion) error {
	count := 0
	for _, rule := range result.Fired {
		if rule == assertion.Rule {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertFiredCount,
			Expected: fmt.Sprintf("rule %s fired %d time(s)", assertion.Rule, assertion.Count),
			Actual:   fmt.Sprintf("fired %d time(s)", count),
			Trace:    result.Trace,
		}
	}
	return nil
}

// matchingFacts returns final facts of the assertion's type whose fields
// match Where.
func matchingFacts(result *Result, assertion Assertion) ([]ir.Fact, error) {
	var out []ir.Fact
	for _, f := range result.FactsOf(assertion.Fact) {
		ok, err := matchFields(f.Fields, assertion.Where)
		if err != nil {
			return nil, fmt.Errorf("where: %w", err)
		}
		if ok {
			out = append(out, f)
		}
	}
	return out, nil
}

// assertFactCount checks how many final facts match.
func assertFactCount(result *Result, assertion Assertion) error {
	facts, err := matchingFacts(result, assertion)
	if err != nil {
		return err
	}
	if len(facts) != assertion.Count {
		return &AssertionError{
			Type:     AssertFactCount,
			Expected: fmt.Sprintf("%d %s fact(s) where %s", assertion.Count, assertion.Fact, formatWhere(assertion.Where)),
			Actual:   fmt.Sprintf("%d", len(facts)),
		}
	}
	return nil
}

// assertFactState checks that some fact matching Where has the expected
// fields.
func assertFactState(result *Result, assertion Assertion) error {
	facts, err := matchingFacts(result, assertion)
	if err != nil {
		return err
	}
	if len(facts) == 0 {
		return &AssertionError{
			Type:     AssertFactState,
			Expected: fmt.Sprintf("%s fact where %s", assertion.Fact, formatWhere(assertion.Where)),
			Actual:   "fact not found",
		}
	}

	var seen []string
	for _, f := range facts {
		ok, err := matchFields(f.Fields, assertion.Expect)
		if err != nil {
			return fmt.Errorf("expect: %w", err)
		}
		if ok {
			return nil
		}
		seen = append(seen, formatFields(f.Fields))
	}
	return &AssertionError{
		Type:     AssertFactState,
		Expected: fmt.Sprintf("%s fact with %s", assertion.Fact, formatWhere(assertion.Expect)),
		Actual:   strings.Join(seen, ", "),
	}
}

// formatWhere formats a field map for error messages.
func formatWhere(where map[string]any) string {
	if len(where) == 0 {
		return "(any)"
	}
	obj, err := ConvertFields(where)
	if err != nil {
		return fmt.Sprintf("%v", where)
	}
	return formatFields(obj)
}

// checkExpect compares the final state with the scenario's expect block.
func checkExpect(result *Result, expect *Expect) []string {
	if expect == nil {
		return nil
	}
	var errs []string

	if expect.Fired != nil && !slices.Equal(expect.Fired, result.Fired) {
		errs = append(errs, fmt.Sprintf("fired: expected %v, got %v", expect.Fired, result.Fired))
	}

	if expect.Facts != nil {
		if len(expect.Facts) != len(result.Facts) {
			errs = append(errs, fmt.Sprintf("facts: expected %d, got %d: %s",
				len(expect.Facts), len(result.Facts), describeFacts(result.Facts)))
		} else {
			for i, want := range expect.Facts {
				got := result.Facts[i]
				ok, err := matchFields(got.Fields, want.Fields)
				switch {
				case err != nil:
					errs = append(errs, fmt.Sprintf("facts[%d]: %v", i, err))
				case got.Type != want.Type || !ok:
					errs = append(errs, fmt.Sprintf("facts[%d]: expected %s %s, got %s %s",
						i, want.Type, formatWhere(want.Fields), got.Type, formatFields(got.Fields)))
				}
			}
		}
	}

	if expect.Time != nil && *expect.Time != result.Time {
		errs = append(errs, fmt.Sprintf("time: expected %d, got %d", *expect.Time, result.Time))
	}
	return errs
}

func describeFacts(facts []ir.Fact) string {
	parts := make([]string, len(facts))
	for i, f := range facts {
		parts[i] = f.Type + formatFields(f.Fields)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertFiredContains:
			err = assertFiredContains(result, assertion)
		case AssertFiredOrder:
			err = assertFiredOrder(result, assertion)
		case AssertFiredCount:
			err = assertFiredCount(result, assertion)
		case AssertFactCount:
			err = assertFactCount(result, assertion)
		case AssertFactState:
			err = assertFactState(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
