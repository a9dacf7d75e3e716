package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const thermostatRules = `package rules

type: Reading: {}
type: Alarm: {}
type: Notice: {}

session: clock: "pseudo"

rule: hot: {
	when: [{pattern: {type: "Reading", bind: "r", where: [{field: "temp", op: ">", value: 30}]}}]
	then: [{insert_logical: {type: "Alarm", fields: {sensor: "${r.sensor}", temp: "${r.temp}"}}}]
}

rule: "notify-later": {
	timer: {delay: "5s"}
	when: [{pattern: {type: "Alarm", bind: "a"}}]
	then: [{insert: {type: "Notice", fields: {sensor: "${a.sensor}"}}}]
}
`

// writeRules writes one CUE file into a fresh rules directory.
func writeRules(t *testing.T, src string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "rules")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules.cue"), []byte(src), 0644))
	return dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// execute runs the root command and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}
