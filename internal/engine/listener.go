package engine

import (
	"github.com/roach88/rulecore/internal/agenda"
	"github.com/roach88/rulecore/internal/factstore"
	"github.com/roach88/rulecore/internal/network"
)

// Listener observes a session. Callbacks run synchronously on the session's
// goroutine and must not call back into the session.
type Listener interface {
	FactInserted(h *factstore.Handle)
	FactUpdated(h *factstore.Handle)
	FactDeleted(h *factstore.Handle)

	MatchCreated(a *agenda.Activation)
	MatchCancelled(a *agenda.Activation)

	BeforeFire(a *agenda.Activation)
	AfterFire(a *agenda.Activation, err error)

	EvaluationFailed(err *network.EvaluationError)
}

// NoopListener implements Listener with empty methods. Embed it to observe
// only some events.
type NoopListener struct{}

func (NoopListener) FactInserted(*factstore.Handle)            {}
func (NoopListener) FactUpdated(*factstore.Handle)             {}
func (NoopListener) FactDeleted(*factstore.Handle)             {}
func (NoopListener) MatchCreated(*agenda.Activation)           {}
func (NoopListener) MatchCancelled(*agenda.Activation)         {}
func (NoopListener) BeforeFire(*agenda.Activation)             {}
func (NoopListener) AfterFire(*agenda.Activation, error)       {}
func (NoopListener) EvaluationFailed(*network.EvaluationError) {}

var _ Listener = NoopListener{}
