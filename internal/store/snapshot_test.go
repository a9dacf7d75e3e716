package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rulecore/internal/compiler"
	"github.com/roach88/rulecore/internal/engine"
	"github.com/roach88/rulecore/internal/factstore"
	"github.com/roach88/rulecore/internal/ir"
	"github.com/roach88/rulecore/internal/network"
	"github.com/roach88/rulecore/internal/timer"
)

const thermostatRules = `
type: Sensor: {}
type: Hot: {}
type: Alert: {}
type: Reading: {role: "event", expires: "10s"}

session: clock: "pseudo"

rule: hot: {
	when: [{pattern: {type: "Sensor", bind: "s", where: [{field: "temp", op: ">", value: 30}]}}]
	then: [{insert_logical: {type: "Hot", fields: {id: "${s.id}"}}}]
}
rule: "alert-later": {
	timer: {delay: "5s"}
	when: [{pattern: {type: "Hot", bind: "h"}}]
	then: [{insert: {type: "Alert", fields: {id: "${h.id}"}}}]
}
rule: drop: {
	salience: -1
	when: [{pattern: {type: "Reading", bind: "r"}}]
	then: [{delete: "r"}]
}
`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func thermostatNet(t *testing.T) *network.Network {
	t.Helper()
	rb, errs := compiler.CompileString(thermostatRules, "thermostat.cue")
	require.Empty(t, errs)
	require.Empty(t, compiler.Validate(rb))
	net, err := engine.Build(rb)
	require.NoError(t, err)
	return net
}

// busySession leaves a logical fact, a queued activation, a rule timer and
// an expiry pending.
func busySession(t *testing.T, net *network.Network, id string) *engine.Session {
	t.Helper()
	s, err := engine.NewSession(net,
		engine.WithClock(timer.ClockPseudo),
		engine.WithIDGenerator(engine.NewFixedGenerator(id)),
		engine.WithLogger(discardLogger()),
	)
	require.NoError(t, err)
	t.Cleanup(s.Dispose)

	_, err = s.Insert(ir.NewFact("Sensor", ir.F("id", ir.IRString("s1")), ir.F("temp", ir.IRInt(41))))
	require.NoError(t, err)
	_, err = s.Insert(ir.NewFact("Reading", ir.F("sensor", ir.IRString("s1"))))
	require.NoError(t, err)
	n, err := s.FireAll(1)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	return s
}

func factTypes(s *engine.Session) []string {
	var out []string
	for _, h := range s.Facts() {
		out = append(out, h.Fact().Type)
	}
	return out
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := createTestStore(t)
	net := thermostatNet(t)
	s := busySession(t, net, "s-1")

	snap, err := s.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Facts, 3)
	require.Len(t, snap.Activations, 1)
	require.Len(t, snap.Beliefs, 1)
	require.Len(t, snap.Jobs, 2)

	version, err := st.SaveSnapshot(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	loaded, err := st.LoadSnapshot(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, snap, loaded)
}

func TestRestoreFromStoreContinuesIdentically(t *testing.T) {
	ctx := context.Background()
	st := createTestStore(t)
	net := thermostatNet(t)
	s := busySession(t, net, "s-1")

	snap, err := s.Snapshot()
	require.NoError(t, err)
	_, err = st.SaveSnapshot(ctx, snap)
	require.NoError(t, err)

	loaded, err := st.LoadSnapshot(ctx, "s-1")
	require.NoError(t, err)
	r, err := engine.Restore(net, loaded, engine.WithLogger(discardLogger()))
	require.NoError(t, err)
	t.Cleanup(r.Dispose)

	drive := func(s *engine.Session) []string {
		_, err := s.FireAll(0)
		require.NoError(t, err)
		_, err = s.AdvanceTime(5 * time.Second)
		require.NoError(t, err)
		_, err = s.FireAll(0)
		require.NoError(t, err)
		return factTypes(s)
	}
	want := drive(s)
	assert.Equal(t, want, drive(r))
	assert.Equal(t, []string{"Sensor", "Hot", "Alert"}, want)
}

func TestSaveAppendsVersions(t *testing.T) {
	ctx := context.Background()
	st := createTestStore(t)
	s := busySession(t, thermostatNet(t), "s-1")

	first, err := s.Snapshot()
	require.NoError(t, err)
	v1, err := st.SaveSnapshot(ctx, first)
	require.NoError(t, err)

	_, err = s.FireAll(0)
	require.NoError(t, err)
	second, err := s.Snapshot()
	require.NoError(t, err)
	v2, err := st.SaveSnapshot(ctx, second)
	require.NoError(t, err)

	assert.Equal(t, int64(1), v1)
	assert.Equal(t, int64(2), v2)

	latest, err := st.LoadSnapshot(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, second, latest)
	assert.Empty(t, latest.Activations)

	old, err := st.LoadSnapshotVersion(ctx, "s-1", 1)
	require.NoError(t, err)
	assert.Equal(t, first, old)
}

func TestLoadSnapshotNotFound(t *testing.T) {
	ctx := context.Background()
	st := createTestStore(t)

	_, err := st.LoadSnapshot(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = st.LoadSnapshotVersion(ctx, "missing", 3)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListSnapshotsOrdering(t *testing.T) {
	ctx := context.Background()
	st := createTestStore(t)

	infos, err := st.ListSnapshots(ctx)
	require.NoError(t, err)
	assert.NotNil(t, infos)
	assert.Empty(t, infos)

	net := thermostatNet(t)
	for _, id := range []string{"b", "a", "b"} {
		snap, err := busySession(t, net, id).Snapshot()
		require.NoError(t, err)
		_, err = st.SaveSnapshot(ctx, snap)
		require.NoError(t, err)
	}

	infos, err = st.ListSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 3)
	a := infos[0]
	assert.Equal(t, "a", a.SessionID)
	assert.Equal(t, int64(1), a.Version)
	assert.Equal(t, timer.ClockPseudo, a.Clock)
	assert.Equal(t, 3, a.Facts)
	assert.Equal(t, 1, a.Activations)
	assert.Equal(t, 2, a.Jobs)
	assert.Equal(t, "b", infos[1].SessionID)
	assert.Equal(t, int64(1), infos[1].Version)
	assert.Equal(t, "b", infos[2].SessionID)
	assert.Equal(t, int64(2), infos[2].Version)
}

func TestSaveSnapshotIsAtomic(t *testing.T) {
	ctx := context.Background()
	st := createTestStore(t)

	fact := factstore.Snapshot{ID: 1, EntryPoint: "DEFAULT", Fact: ir.NewFact("T")}
	snap := &engine.Snapshot{
		SessionID: "dup",
		Clock:     timer.ClockPseudo,
		Facts:     []factstore.Snapshot{fact, fact},
		Focus:     []string{"MAIN"},
	}
	_, err := st.SaveSnapshot(ctx, snap)
	require.Error(t, err)

	infos, err := st.ListSnapshots(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos, "failed save leaves nothing behind")
}

func TestSaveSnapshotRejectsAnonymous(t *testing.T) {
	st := createTestStore(t)
	_, err := st.SaveSnapshot(context.Background(), &engine.Snapshot{})
	assert.Error(t, err)
	_, err = st.SaveSnapshot(context.Background(), nil)
	assert.Error(t, err)
}

func TestDeleteSnapshotsCascades(t *testing.T) {
	ctx := context.Background()
	st := createTestStore(t)
	net := thermostatNet(t)

	for range 2 {
		snap, err := busySession(t, net, "gone").Snapshot()
		require.NoError(t, err)
		_, err = st.SaveSnapshot(ctx, snap)
		require.NoError(t, err)
	}
	keep, err := busySession(t, net, "kept").Snapshot()
	require.NoError(t, err)
	_, err = st.SaveSnapshot(ctx, keep)
	require.NoError(t, err)

	n, err := st.DeleteSnapshots(ctx, "gone")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var facts int
	require.NoError(t, st.db.QueryRow("SELECT COUNT(*) FROM snapshot_facts").Scan(&facts))
	assert.Equal(t, 3, facts, "only the kept session's facts remain")

	n, err = st.DeleteSnapshots(ctx, "gone")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLargeIntegersSurvive(t *testing.T) {
	ctx := context.Background()
	st := createTestStore(t)

	big := ir.IRInt(1<<62 + 1)
	snap := &engine.Snapshot{
		SessionID: "big",
		Clock:     timer.ClockPseudo,
		Facts: []factstore.Snapshot{{
			ID:         1,
			EntryPoint: "DEFAULT",
			Fact:       ir.NewFact("T", ir.F("n", big), ir.F("tags", ir.IRArray{ir.IRString("x")})),
		}},
		Focus: []string{"MAIN"},
	}
	_, err := st.SaveSnapshot(ctx, snap)
	require.NoError(t, err)

	loaded, err := st.LoadSnapshot(ctx, "big")
	require.NoError(t, err)
	assert.Equal(t, snap, loaded)
}
