package harness

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const thermostatInline = `
rule: hot: {
	when: [{pattern: {type: "Reading", bind: "r", where: [{field: "temp", op: ">", value: 30}]}}]
	then: [{insert_logical: {type: "Alarm", fields: {temp: "${r.temp}"}}}]
}
rule: "notify-later": {
	timer: {delay: "5s"}
	when: [{pattern: {type: "Alarm", bind: "a"}}]
	then: [{insert: {type: "Notice", fields: {temp: "${a.temp}"}}}]
}
`

// inline builds a scenario on the inline thermostat rules.
func inline(t *testing.T, body string) *Scenario {
	t.Helper()
	var buf strings.Builder
	buf.WriteString("name: " + strings.ReplaceAll(t.Name(), "/", "_") + "\n")
	buf.WriteString("rules_inline: |\n")
	for _, line := range strings.Split(strings.TrimSpace(thermostatInline), "\n") {
		buf.WriteString("  " + line + "\n")
	}
	buf.WriteString(body)
	scenario, err := ParseScenario([]byte(buf.String()), ".")
	require.NoError(t, err)
	return scenario
}

func requirePass(t *testing.T, result *Result) {
	t.Helper()
	require.NotNil(t, result)
	require.True(t, result.Pass, "scenario failed:\n%s", strings.Join(result.Errors, "\n"))
}

func TestRun_ScenarioFiles(t *testing.T) {
	files, err := FindScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, sr := range RunSuite(files) {
		t.Run(sr.Name, func(t *testing.T) {
			require.NoError(t, sr.Err)
			requirePass(t, sr.Result)
		})
	}
}

func TestRun_UpdateReplacesFields(t *testing.T) {
	result, err := Run(inline(t, `
steps:
  - insert: {as: r, type: Reading, fields: {temp: 41, unit: C}}
  - fire: 0
  - update: {ref: r, fields: {temp: 50}}
  - fire: 0
expect:
  fired: [hot, hot]
  facts:
    - {type: Reading, fields: {temp: 50}}
    - {type: Alarm, fields: {temp: 50}}
`))
	require.NoError(t, err)
	requirePass(t, result)

	reading := result.FactsOf("Reading")
	require.Len(t, reading, 1)
	_, hasUnit := reading[0].Fields["unit"]
	assert.False(t, hasUnit, "update should replace every field")
}

func TestRun_ModifyMergesFields(t *testing.T) {
	result, err := Run(inline(t, `
steps:
  - insert: {as: r, type: Reading, fields: {temp: 20, unit: C}}
  - fire: 0
  - modify: {ref: r, fields: {temp: 35}}
  - fire: 0
expect:
  fired: [hot]
  facts:
    - {type: Reading, fields: {temp: 35, unit: C}}
    - {type: Alarm, fields: {temp: 35}}
`))
	require.NoError(t, err)
	requirePass(t, result)
}

func TestRun_DeleteRetractsLogicalFacts(t *testing.T) {
	result, err := Run(inline(t, `
steps:
  - insert: {as: r, type: Reading, fields: {temp: 41}}
  - fire: 0
  - delete: r
  - advance: 10s
  - fire: 0
expect:
  fired: [hot]
  facts: []
  time: 10000
`))
	require.NoError(t, err)
	requirePass(t, result)

	var deleted []string
	for _, ev := range result.Trace {
		if ev.Type == EventDelete {
			deleted = append(deleted, ev.Fact.Type)
		}
	}
	assert.ElementsMatch(t, []string{"Reading", "Alarm"}, deleted)
}

func TestRun_StartTime(t *testing.T) {
	result, err := Run(inline(t, `
start_time: 1000
steps:
  - advance: 1s
expect:
  fired: []
  time: 2000
`))
	require.NoError(t, err)
	requirePass(t, result)

	require.Len(t, result.Trace, 1)
	assert.Equal(t, EventAdvance, result.Trace[0].Type)
	assert.Equal(t, int64(2000), result.Trace[0].Time)
}

func TestRun_RestoreKeepsNamedFacts(t *testing.T) {
	result, err := Run(inline(t, `
steps:
  - insert: {as: r, type: Reading, fields: {temp: 41}}
  - fire: 0
  - restore: true
  - modify: {ref: r, fields: {temp: 20}}
  - advance: 5s
  - fire: 0
expect:
  fired: [hot]
  facts:
    - {type: Reading, fields: {temp: 20}}
`))
	require.NoError(t, err)
	requirePass(t, result)

	var restores int
	for _, ev := range result.Trace {
		if ev.Type == EventRestore {
			restores++
		}
	}
	assert.Equal(t, 1, restores)
}

func TestRun_RestoreTwice(t *testing.T) {
	result, err := Run(inline(t, `
steps:
  - insert: {type: Reading, fields: {temp: 41}}
  - fire: 0
  - restore: true
  - advance: 2s
  - restore: true
  - advance: 3s
  - fire: 0
expect:
  fired: [hot, notify-later]
  time: 5000
`))
	require.NoError(t, err)
	requirePass(t, result)
}

func TestRun_ExpectedStepError(t *testing.T) {
	result, err := Run(inline(t, `
steps:
  - insert: {as: r, type: Reading, fields: {temp: 10}}
  - delete: r
  - update: {ref: r, fields: {temp: 50}}
    error: has been deleted
  - fire: 0
expect:
  fired: []
  facts: []
`))
	require.NoError(t, err)
	requirePass(t, result)
}

func TestRun_ExpectedErrorMissing(t *testing.T) {
	result, err := Run(inline(t, `
steps:
  - insert: {type: Reading, fields: {temp: 10}}
    error: boom
`))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `expected error containing "boom"`)
}

func TestRun_UnexpectedStepErrorStops(t *testing.T) {
	result, err := Run(inline(t, `
clock: realtime
steps:
  - insert: {type: Reading, fields: {temp: 41}}
  - advance: 1s
  - fire: 0
expect:
  fired: [hot]
`))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1, "expect is not checked after a failed step")
	assert.Contains(t, result.Errors[0], "steps[1]")
	assert.Contains(t, result.Errors[0], "cannot be advanced")
	assert.Empty(t, result.Fired)
	assert.Len(t, result.Facts, 1)
}

func TestRun_ExpectMismatch(t *testing.T) {
	result, err := Run(inline(t, `
steps:
  - insert: {type: Reading, fields: {temp: 41}}
  - fire: 0
expect:
  fired: []
  facts:
    - {type: Reading, fields: {temp: 40}}
  time: 7
`))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "fired: expected [], got [hot]")
	assert.Contains(t, result.Errors[1], "facts: expected 1, got 2")
	assert.Contains(t, result.Errors[2], "time: expected 7, got 0")
}

func TestRun_UnknownFactName(t *testing.T) {
	_, err := Run(inline(t, `
steps:
  - delete: ghost
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "steps[0]")
	assert.Contains(t, err.Error(), `no fact named "ghost"`)
}

func TestRun_InvalidRules(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: broken
rules_inline: |
  rule: r: {
    when: [{pattern: {type: "A", bind: "a"}}]
    then: [{insert: {type: "B", fields: {x: "${missing.x}"}}}]
  }
steps:
  - fire: 0
`), ".")
	require.NoError(t, err)

	_, err = Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rules")
}

func TestRun_AssertionFailure(t *testing.T) {
	result, err := Run(inline(t, `
steps:
  - insert: {type: Reading, fields: {temp: 41}}
  - fire: 0
assertions:
  - type: fired_count
    rule: hot
    count: 2
`))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "fired_count")
	assert.Contains(t, result.Errors[0], "fired 1 time(s)")
}

func TestRun_FireLimit(t *testing.T) {
	result, err := Run(inline(t, `
steps:
  - insert: {type: Reading, fields: {temp: 41}}
  - insert: {type: Reading, fields: {temp: 42}}
  - fire: 1
expect:
  fired: [hot]
`))
	require.NoError(t, err)
	requirePass(t, result)
	assert.Len(t, result.FactsOf("Alarm"), 1)
}
