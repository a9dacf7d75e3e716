package engine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rulecore/internal/ir"
	"github.com/roach88/rulecore/internal/network"
	"github.com/roach88/rulecore/internal/timer"
)

// snapshotNet has plain, logical and timed rules plus an expiring event.
func snapshotNet(t *testing.T, rec *fired) *network.Network {
	t.Helper()
	greet := rule("greet", rec.record, pattern("Person", "p"))
	remind := rule("remind", rec.record, pattern("Person", "p"))
	remind.Durations = []ir.DurationSpec{{Duration: 5 * time.Second}}
	types := []ir.TypeDecl{
		{Name: "Person"},
		{Name: "Adult"},
		{Name: "Tick", Role: ir.RoleEvent, Expires: 10 * time.Second},
	}
	return buildNet(t, types,
		rule("derive", deriveAs("Adult", "p"), pattern("Person", "p", ge("age", 18))),
		greet,
		remind,
	)
}

func roundTrip(t *testing.T, snap *Snapshot) *Snapshot {
	t.Helper()
	b, err := json.Marshal(snap)
	require.NoError(t, err)
	var out Snapshot
	require.NoError(t, json.Unmarshal(b, &out))
	return &out
}

func TestSnapshotRestore(t *testing.T) {
	var rec fired
	net := snapshotNet(t, &rec)
	s := newPseudoSession(t, net, WithIDGenerator(NewFixedGenerator("s-1")))

	_, err := s.Insert(person("ann", 30))
	require.NoError(t, err)
	_, err = s.Insert(person("bob", 40))
	require.NoError(t, err)
	_, err = s.Insert(ir.NewFact("Tick"))
	require.NoError(t, err)
	_, err = s.AdvanceTime(time.Second)
	require.NoError(t, err)

	n, err := s.FireAll(2)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []string{"greet:ann"}, rec.take(), "derive:ann then greet:ann")

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "s-1", snap.SessionID)
	assert.Equal(t, timer.ClockPseudo, snap.Clock)
	assert.Equal(t, int64(1000), snap.Time)
	assert.Len(t, snap.Facts, 4)
	assert.Len(t, snap.Beliefs, 1)
	assert.Len(t, snap.Jobs, 3, "two reminders and one expiry")
	assert.Equal(t, []string{"MAIN"}, snap.Focus)

	r, err := Restore(net, roundTrip(t, snap), WithLogger(discardLogger()))
	require.NoError(t, err)
	t.Cleanup(r.Dispose)

	assert.Equal(t, "s-1", r.ID())
	assert.Equal(t, s.CurrentTime(), r.CurrentTime())
	assert.Equal(t, s.TimeToNextJob(), r.TimeToNextJob())
	assert.Equal(t, factTypes(s), factTypes(r))
	assert.Equal(t, agendaKeys(s), agendaKeys(r))
	adult := findType(r, "Adult")
	require.NotNil(t, adult)
	assert.Equal(t, 1, r.Support(adult))

	// Both sessions continue identically.
	drive := func(s *Session) []string {
		_, err := s.FireAll(0)
		require.NoError(t, err)
		_, err = s.AdvanceTime(4 * time.Second)
		require.NoError(t, err)
		_, err = s.FireAll(0)
		require.NoError(t, err)
		_, err = s.AdvanceTime(5 * time.Second)
		require.NoError(t, err)
		return append(rec.take(), factTypes(s)...)
	}
	want := drive(s)
	got := drive(r)
	assert.Equal(t, want, got)
	assert.Contains(t, want, "remind:ann")
	assert.NotContains(t, factTypes(r), "Tick{}", "the restored expiry ran")

	// Handle IDs continue where the original left off.
	want1, err := s.Insert(person("cid", 1))
	require.NoError(t, err)
	got1, err := r.Insert(person("cid", 1))
	require.NoError(t, err)
	assert.Equal(t, want1.ID(), got1.ID())
}

func TestSnapshotKeepsRetractionsOfDerivedFacts(t *testing.T) {
	var rec fired
	net := snapshotNet(t, &rec)
	s := newPseudoSession(t, net)

	ann, err := s.Insert(person("ann", 30))
	require.NoError(t, err)
	_, err = s.FireAll(0)
	require.NoError(t, err)
	rec.take()

	snap, err := s.Snapshot()
	require.NoError(t, err)
	r, err := Restore(net, roundTrip(t, snap), WithLogger(discardLogger()))
	require.NoError(t, err)
	t.Cleanup(r.Dispose)

	restored, ok := r.Lookup(ann.ID())
	require.True(t, ok)
	require.NoError(t, r.Update(restored, person("ann", 10)))
	assert.Nil(t, findType(r, "Adult"), "restored justification still withdraws support")
}

func TestRestoreRejectsUnknownRule(t *testing.T) {
	var rec fired
	s := newPseudoSession(t, snapshotNet(t, &rec))
	_, err := s.Insert(person("ann", 30))
	require.NoError(t, err)

	snap, err := s.Snapshot()
	require.NoError(t, err)
	snap.Activations[0].Rule = "gone"

	_, err = Restore(snapshotNet(t, &rec), snap, WithLogger(discardLogger()))
	assert.True(t, IsUsageError(err))
}

func TestSnapshotWhileFiringFails(t *testing.T) {
	var snapErr error
	r := rule("snap", func(ctx ir.Context) error {
		_, snapErr = ctx.(*RuleContext).Session().Snapshot()
		return nil
	}, pattern("Person", "p"))
	s := newPseudoSession(t, buildNet(t, nil, r))
	_, err := s.Insert(person("ann", 30))
	require.NoError(t, err)
	_, err = s.FireAll(0)
	require.NoError(t, err)

	assert.True(t, IsUsageError(snapErr))
}
