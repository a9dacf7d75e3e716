package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rulecore/internal/ir"
)

func TestRunWithGolden_Overheat(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/overheat.yaml")
	require.NoError(t, err)

	// Regenerate with:
	//   go test ./internal/harness -run TestRunWithGolden_Overheat -update
	result, err := RunWithGolden(t, scenario)
	require.NoError(t, err)
	requirePass(t, result)
}

func TestCanonicalTrace_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/restart.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := CanonicalTrace(scenario.Name, first)
	require.NoError(t, err)
	b, err := CanonicalTrace(scenario.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestCanonicalTrace_OmitsEmptyFields(t *testing.T) {
	fact := ir.NewFact("Reading", ir.F("temp", ir.IRInt(41)))
	result := NewResult()
	result.Trace = []TraceEvent{
		{Type: EventInsert, Seq: 1, Handle: 1, Fact: &fact},
		{Type: EventFire, Seq: 2, Rule: "hot", Handles: []int64{1}, Error: "boom"},
		{Type: EventAdvance, Seq: 3, Time: 10},
	}
	result.Fired = []string{"hot"}
	result.Time = 10

	data, err := CanonicalTrace("sample", result)
	require.NoError(t, err)

	want := `{"fired":["hot"],"scenario_name":"sample","time":10,"trace":[` +
		`{"fact":{"fields":{"temp":41},"type":"Reading"},"handle":1,"seq":1,"time":0,"type":"insert"},` +
		`{"error":"boom","handles":[1],"rule":"hot","seq":2,"time":0,"type":"fire"},` +
		`{"seq":3,"time":10,"type":"advance"}]}`
	assert.Equal(t, want, string(data))
}
