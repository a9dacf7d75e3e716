package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const readingsFile = `facts:
  - type: Reading
    fields: {sensor: s1, temp: 41}
  - type: Reading
    fields: {sensor: s2, temp: 12}
`

type runResponse struct {
	Status string `json:"status"`
	Data   struct {
		Session string   `json:"session"`
		Fired   []string `json:"fired"`
		Facts   []struct {
			Handle  int64          `json:"handle"`
			Type    string         `json:"type"`
			Logical bool           `json:"logical"`
			Fields  map[string]any `json:"fields"`
		} `json:"facts"`
		Time     int64 `json:"time"`
		Snapshot int64 `json:"snapshot"`
	} `json:"data"`
}

func runJSON(t *testing.T, args ...string) runResponse {
	t.Helper()
	out, _, err := execute(t, append([]string{"--format", "json", "run"}, args...)...)
	require.NoError(t, err)
	var resp runResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	return resp
}

func TestRun_Text(t *testing.T) {
	rules := writeRules(t, thermostatRules)
	facts := writeFile(t, t.TempDir(), "facts.yaml", readingsFile)

	out, _, err := execute(t, "run", rules, "--facts", facts, "--session", "plant-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Session plant-1 at t=0")
	assert.Contains(t, out, "Fired 1 rule(s):")
	assert.Contains(t, out, "[1] hot")
	assert.Contains(t, out, `#3 Alarm {"sensor":"s1","temp":41} (logical)`)
	assert.NotContains(t, out, "Saved snapshot")
}

func TestRun_AdvanceFiresTimers(t *testing.T) {
	rules := writeRules(t, thermostatRules)
	facts := writeFile(t, t.TempDir(), "facts.yaml", readingsFile)

	resp := runJSON(t, rules, "--facts", facts, "--advance", "5s")
	assert.Equal(t, []string{"hot", "notify-later"}, resp.Data.Fired)
	assert.Equal(t, int64(5000), resp.Data.Time)

	var types []string
	for _, f := range resp.Data.Facts {
		types = append(types, f.Type)
	}
	assert.Equal(t, []string{"Reading", "Reading", "Alarm", "Notice"}, types)
	assert.True(t, resp.Data.Facts[2].Logical)
	assert.Equal(t, "s1", resp.Data.Facts[3].Fields["sensor"])
}

func TestRun_Limit(t *testing.T) {
	rules := writeRules(t, thermostatRules)
	facts := writeFile(t, t.TempDir(), "facts.yaml", `facts:
  - {type: Reading, fields: {sensor: a, temp: 50}}
  - {type: Reading, fields: {sensor: b, temp: 60}}
`)

	out, _, err := execute(t, "run", rules, "--facts", facts, "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Fired 1 rule(s):")
	assert.Contains(t, out, "1 activation(s) still queued")
}

func TestRun_SaveAndResume(t *testing.T) {
	rules := writeRules(t, thermostatRules)
	tmp := t.TempDir()
	facts := writeFile(t, tmp, "facts.yaml", readingsFile)
	db := filepath.Join(tmp, "state.db")

	first := runJSON(t, rules, "--facts", facts, "--db", db, "--session", "plant-1")
	assert.Equal(t, "plant-1", first.Data.Session)
	assert.Equal(t, int64(1), first.Data.Snapshot)
	assert.Equal(t, []string{"hot"}, first.Data.Fired)

	// The pending timer survives in the snapshot.
	second := runJSON(t, rules, "--db", db, "--session", "plant-1", "--resume", "--advance", "5s")
	assert.Equal(t, "plant-1", second.Data.Session)
	assert.Equal(t, int64(2), second.Data.Snapshot)
	assert.Equal(t, []string{"notify-later"}, second.Data.Fired)
	assert.Equal(t, int64(5000), second.Data.Time)
	require.Len(t, second.Data.Facts, 4)
	assert.Equal(t, "Notice", second.Data.Facts[3].Type)
}

func TestRun_ResumeUnknownSession(t *testing.T) {
	rules := writeRules(t, thermostatRules)
	db := filepath.Join(t.TempDir(), "state.db")

	_, _, err := execute(t, "run", rules, "--db", db, "--session", "ghost", "--resume")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `no snapshot for session "ghost"`)
}

func TestRun_FlagErrors(t *testing.T) {
	rules := writeRules(t, thermostatRules)
	facts := writeFile(t, t.TempDir(), "facts.yaml", readingsFile)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no facts", []string{rules}, "--facts is required"},
		{"resume without db", []string{rules, "--resume", "--session", "s"}, "--resume needs --db"},
		{"bad advance", []string{rules, "--facts", facts, "--advance", "soon"}, "invalid --advance"},
		{"missing rules", []string{filepath.Join(t.TempDir(), "none"), "--facts", facts}, "failed to load rules"},
		{"missing facts", []string{rules, "--facts", filepath.Join(t.TempDir(), "none.yaml")}, "failed to load facts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, append([]string{"run"}, tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRun_InvalidRules(t *testing.T) {
	rules := writeRules(t, unknownTypeRules)
	facts := writeFile(t, t.TempDir(), "facts.yaml", readingsFile)

	_, _, err := execute(t, "run", rules, "--facts", facts)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid rules")
}

func TestLoadFacts(t *testing.T) {
	dir := t.TempDir()

	facts, err := loadFacts(writeFile(t, dir, "ok.yaml", `facts:
  - type: Reading
    entry_point: sensors
    fields: {temp: 1}
`))
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "sensors", facts[0].EntryPoint)

	_, err = loadFacts(writeFile(t, dir, "typo.yaml", "facts:\n  - type: Reading\n    feilds: {}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feilds")

	_, err = loadFacts(writeFile(t, dir, "untyped.yaml", "facts:\n  - fields: {temp: 1}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "type is required")
}
