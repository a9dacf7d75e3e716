package testutil

import (
	"sync"

	"github.com/roach88/rulecore/internal/agenda"
	"github.com/roach88/rulecore/internal/engine"
)

// FiringLog is a session listener that records rule names in firing order.
//
// Realtime sessions fire from the goroutine running FireUntilHalt while the
// test reads from its own, so every method takes the mutex.
type FiringLog struct {
	engine.NoopListener

	mu    sync.Mutex
	rules []string
}

// NewFiringLog creates an empty log.
func NewFiringLog() *FiringLog {
	return &FiringLog{rules: []string{}}
}

// BeforeFire implements engine.Listener.
func (l *FiringLog) BeforeFire(a *agenda.Activation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rules = append(l.rules, a.Rule.Name)
}

// Rules returns a copy of the names recorded so far.
func (l *FiringLog) Rules() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string{}, l.rules...)
}

// Count returns how many times rule fired.
func (l *FiringLog) Count(rule string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, r := range l.rules {
		if r == rule {
			n++
		}
	}
	return n
}

// Reset forgets every recorded firing.
func (l *FiringLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rules = []string{}
}

var _ engine.Listener = (*FiringLog)(nil)
