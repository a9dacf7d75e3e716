// Package testutil holds fixtures shared by tests that drive sessions built
// from CUE rule source.
package testutil

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/rulecore/internal/compiler"
	"github.com/roach88/rulecore/internal/engine"
	"github.com/roach88/rulecore/internal/ir"
	"github.com/roach88/rulecore/internal/network"
)

// CompileRules compiles and validates CUE rule source, failing the test on
// any error.
func CompileRules(t testing.TB, src string) *ir.RuleBase {
	t.Helper()
	rb, errs := compiler.CompileString(src, "rules.cue")
	require.NoError(t, errors.Join(errs...), "compile")

	verrs := compiler.Validate(rb)
	joined := make([]error, len(verrs))
	for i, e := range verrs {
		joined[i] = e
	}
	require.NoError(t, errors.Join(joined...), "validate")
	return rb
}

// BuildRules compiles src and builds its network.
func BuildRules(t testing.TB, src string) (*ir.RuleBase, *network.Network) {
	t.Helper()
	rb := CompileRules(t, src)
	net, err := engine.Build(rb)
	require.NoError(t, err)
	return rb, net
}

// NewSession starts a session over src configured by its session block.
// Extra options are applied last. The session is disposed when the test
// ends.
func NewSession(t testing.TB, src string, opts ...engine.Option) *engine.Session {
	t.Helper()
	rb, net := BuildRules(t, src)
	base, err := engine.ConfigOptions(rb.Session)
	require.NoError(t, err)
	base = append(base, engine.WithLogger(DiscardLogger()))

	s, err := engine.NewSession(net, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(s.Dispose)
	return s
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
