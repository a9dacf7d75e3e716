package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/rulecore/internal/ir"
)

func newRealtimeSession(t *testing.T, rules ...ir.RuleSpec) *Session {
	t.Helper()
	s, err := NewSession(buildNet(t, nil, rules...), WithLogger(discardLogger()))
	require.NoError(t, err)
	t.Cleanup(s.Dispose)
	return s
}

func TestFireUntilHalt_RealtimeTimer(t *testing.T) {
	var fires atomic.Int32
	ping := rule("ping", func(ctx ir.Context) error {
		fires.Add(1)
		ctx.Halt()
		return nil
	}, pattern("Person", "p"))
	ping.Durations = []ir.DurationSpec{{Duration: 20 * time.Millisecond}}
	s := newRealtimeSession(t, ping)

	_, err := s.Insert(person("ann", 30))
	require.NoError(t, err)
	n, err := s.FireAll(0)
	require.NoError(t, err)
	assert.Zero(t, n, "timer not due yet")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.FireUntilHalt(ctx))
	assert.Equal(t, int32(1), fires.Load())
	assert.Equal(t, int64(-1), s.TimeToNextJob())
}

func TestFireUntilHalt_HaltFromAnotherGoroutine(t *testing.T) {
	s := newRealtimeSession(t, rule("any", noop, pattern("Person", "p")))

	go func() {
		time.Sleep(20 * time.Millisecond)
		s.Halt()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, s.FireUntilHalt(ctx))
}

func TestFireUntilHalt_ContextCancelled(t *testing.T) {
	s := newRealtimeSession(t, rule("any", noop, pattern("Person", "p")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.FireUntilHalt(ctx), context.DeadlineExceeded)
}

func TestNotifyRepropagates(t *testing.T) {
	var open atomic.Bool
	var rec fired
	r := rule("open", rec.record)
	r.Conditions = []ir.Condition{{Kind: ir.CondPattern, Pattern: &ir.Pattern{
		Type: "Person",
		Bind: "p",
		Test: func(ir.Fact) (bool, error) { return open.Load(), nil },
	}}}
	s := newRealtimeSession(t, r)

	h, err := s.Insert(person("ann", 30))
	require.NoError(t, err)
	n, err := s.FireAll(0)
	require.NoError(t, err)
	assert.Zero(t, n)

	open.Store(true)
	done := make(chan bool)
	go func() { done <- s.Notify(h) }()
	require.True(t, <-done)

	n, err = s.FireAll(0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"open:ann"}, rec.take())
}

func TestSessionsShareNetwork(t *testing.T) {
	adult := rule("adult", func(ctx ir.Context) error {
		ref, _ := ctx.Ref("p")
		_, err := ctx.InsertLogical(named("Adult", ref.Fact().String("name")))
		return err
	}, pattern("Person", "p", ge("age", 18)))
	net := buildNet(t, nil, adult)

	const sessions = 8
	counts := make([]int, sessions)
	var g errgroup.Group
	for i := 0; i < sessions; i++ {
		g.Go(func() error {
			s, err := NewSession(net, WithLogger(discardLogger()))
			if err != nil {
				return err
			}
			defer s.Dispose()
			for j := 0; j <= i; j++ {
				if _, err := s.Insert(person(fmt.Sprintf("p%d", j), 30)); err != nil {
					return err
				}
			}
			if _, err := s.FireAll(0); err != nil {
				return err
			}
			counts[i] = len(s.Facts())
			return nil
		})
	}
	require.NoError(t, g.Wait())
	for i, n := range counts {
		assert.Equal(t, 2*(i+1), n, "session %d", i)
	}
}
