package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rulecore/internal/factstore"
	"github.com/roach88/rulecore/internal/ir"
)

// deriveAs returns a consequence that logically inserts a fact of type typ
// named after the fact bound to bind.
func deriveAs(typ, bind string) ir.Consequence {
	return func(ctx ir.Context) error {
		ref, _ := ctx.Ref(bind)
		_, err := ctx.InsertLogical(named(typ, ref.Fact().String("name")))
		return err
	}
}

func adultNet(t *testing.T) []ir.RuleSpec {
	t.Helper()
	return []ir.RuleSpec{
		rule("derive", deriveAs("Adult", "p"), pattern("Person", "p", ge("age", 18))),
		rule("vote", deriveAs("Voter", "a"), pattern("Adult", "a")),
	}
}

func findType(s *Session, typ string) *factstore.Handle {
	for _, h := range s.Facts() {
		if h.Fact().Type == typ {
			return h
		}
	}
	return nil
}

func TestLogicalInsertCascades(t *testing.T) {
	s := newPseudoSession(t, buildNet(t, nil, adultNet(t)...))

	ann, err := s.Insert(person("ann", 30))
	require.NoError(t, err)
	n, err := s.FireAll(0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	adult := findType(s, "Adult")
	voter := findType(s, "Voter")
	require.NotNil(t, adult)
	require.NotNil(t, voter)
	assert.True(t, adult.IsLogical())
	assert.Equal(t, 1, s.Support(adult))
	assert.Equal(t, 1, s.Support(voter))

	require.NoError(t, s.Update(ann, person("ann", 10)))

	assert.True(t, adult.IsDeleted())
	assert.True(t, voter.IsDeleted(), "support is withdrawn transitively")
	assert.Equal(t, []*factstore.Handle{ann}, s.Facts())
	assert.Empty(t, s.Agenda())
}

func TestLogicalInsertMergesJustifications(t *testing.T) {
	derive := rule("derive", func(ctx ir.Context) error {
		_, err := ctx.InsertLogical(ir.NewFact("HasAdult"))
		return err
	}, pattern("Person", "p", ge("age", 18)))
	s := newPseudoSession(t, buildNet(t, nil, derive))

	ann, err := s.Insert(person("ann", 30))
	require.NoError(t, err)
	bob, err := s.Insert(person("bob", 40))
	require.NoError(t, err)

	_, err = s.FireAll(0)
	require.NoError(t, err)
	require.Len(t, s.Facts(), 3, "one derived fact for both justifications")
	has := findType(s, "HasAdult")
	assert.Equal(t, 2, s.Support(has))

	require.NoError(t, s.Delete(ann))
	assert.False(t, has.IsDeleted())
	assert.Equal(t, 1, s.Support(has))

	require.NoError(t, s.Delete(bob))
	assert.True(t, has.IsDeleted())
	assert.Empty(t, s.Facts())
}

func TestStatedInsertOverridesLogical(t *testing.T) {
	s := newPseudoSession(t, buildNet(t, nil, adultNet(t)...))

	ann, err := s.Insert(person("ann", 30))
	require.NoError(t, err)
	_, err = s.FireAll(0)
	require.NoError(t, err)
	adult := findType(s, "Adult")
	require.NotNil(t, adult)

	stated, err := s.Insert(named("Adult", "ann"))
	require.NoError(t, err)
	assert.Same(t, adult, stated)
	assert.False(t, stated.IsLogical())
	assert.Zero(t, s.Support(stated))

	require.NoError(t, s.Update(ann, person("ann", 10)))
	assert.False(t, adult.IsDeleted(), "stated facts are not withdrawn")
	assert.NotNil(t, findType(s, "Voter"))
}

func TestLogicalInsertOfStatedFactRecordsNothing(t *testing.T) {
	s := newPseudoSession(t, buildNet(t, nil, adultNet(t)...))

	adult, err := s.Insert(named("Adult", "ann"))
	require.NoError(t, err)
	ann, err := s.Insert(person("ann", 30))
	require.NoError(t, err)
	_, err = s.FireAll(0)
	require.NoError(t, err)

	assert.Zero(t, s.Support(adult))
	assert.Len(t, s.Facts(), 3, "person, the stated adult and its voter")

	require.NoError(t, s.Update(ann, person("ann", 10)))
	assert.False(t, adult.IsDeleted())
}

func TestDeleteLogicalFactClearsJustifications(t *testing.T) {
	s := newPseudoSession(t, buildNet(t, nil, adultNet(t)...))

	_, err := s.Insert(person("ann", 30))
	require.NoError(t, err)
	_, err = s.FireAll(0)
	require.NoError(t, err)

	adult := findType(s, "Adult")
	require.NoError(t, s.Delete(adult))

	assert.True(t, adult.IsDeleted())
	assert.Zero(t, s.Support(adult))
	assert.Nil(t, findType(s, "Voter"))

	n, err := s.FireAll(0)
	require.NoError(t, err)
	assert.Zero(t, n, "the justifying match does not re-assert the fact")
	assert.Nil(t, findType(s, "Adult"))
}

func TestLogicalInsertCancelsItsOwnMatch(t *testing.T) {
	// The derived fact defeats the rule's own not-condition: the support
	// is withdrawn as soon as the consequence returns.
	guard := rule("guard", func(ctx ir.Context) error {
		_, err := ctx.InsertLogical(ir.NewFact("Guard"))
		return err
	}, pattern("Person", "p"), notPattern("Guard"))
	s := newPseudoSession(t, buildNet(t, nil, guard))

	_, err := s.Insert(person("ann", 30))
	require.NoError(t, err)
	n, err := s.FireAll(1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Nil(t, findType(s, "Guard"))
	assert.Len(t, s.Agenda(), 1, "the match is recreated once the guard is gone")
}
