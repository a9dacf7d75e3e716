package engine

import (
	"github.com/roach88/rulecore/internal/ir"
	"github.com/roach88/rulecore/internal/network"
)

// Build turns a compiled rule base into the network sessions are created
// over. A malformed rule base fails here, never during propagation.
func Build(rb *ir.RuleBase) (*network.Network, error) {
	net, err := network.BuildRuleBase(rb)
	if err != nil {
		return nil, &RuntimeError{Code: ErrCodeBuild, Message: "building network", Err: err}
	}
	return net, nil
}

// NewSessionFromRuleBase builds rb and opens a session configured by its
// session settings. Options override those settings.
func NewSessionFromRuleBase(rb *ir.RuleBase, opts ...Option) (*Session, error) {
	net, err := Build(rb)
	if err != nil {
		return nil, err
	}
	base, err := ConfigOptions(rb.Session)
	if err != nil {
		return nil, usageError("session config", err)
	}
	return NewSession(net, append(base, opts...)...)
}
