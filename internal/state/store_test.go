package state_test

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/justersync/internal/state"
)

type item struct {
	id   int
	name string
}

func (i item) RowID() string { return strconv.Itoa(i.id) }

func TestSetCollection_RoundTripKeepsOrder(t *testing.T) {
	s := state.New()
	rows := []item{{1, "a"}, {2, "b"}, {3, "c"}}

	s.SetCollection("k", state.AsRows(rows))

	assert.Equal(t, rows, state.Rows[item](s, "k"))
}

func TestSetCollection_ReplacesPriorContent(t *testing.T) {
	s := state.New()
	s.SetCollection("k", state.AsRows([]item{{1, "a"}, {2, "b"}}))
	s.SetCollection("k", state.AsRows([]item{{9, "z"}}))

	assert.Equal(t, []item{{9, "z"}}, state.Rows[item](s, "k"))
}

func TestAppendUnique_SkipsDuplicateID(t *testing.T) {
	s := state.New()

	assert.True(t, s.AppendUnique("w", item{1, "first"}))
	assert.False(t, s.AppendUnique("w", item{1, "second"}))

	got := state.Rows[item](s, "w")
	require.Len(t, got, 1)
	assert.Equal(t, "first", got[0].name)
}

func TestRemoveByID(t *testing.T) {
	s := state.New()
	s.SetCollection("k", state.AsRows([]item{{1, "a"}, {2, "b"}, {3, "c"}}))

	assert.True(t, s.RemoveByID("k", "2"))
	assert.False(t, s.RemoveByID("k", "2"))
	assert.False(t, s.RemoveByID("missing", "1"))

	assert.Equal(t, []item{{1, "a"}, {3, "c"}}, state.Rows[item](s, "k"))
}

func TestUpdateByID_ReplaceAndDrop(t *testing.T) {
	s := state.New()
	s.SetCollection("k", state.AsRows([]item{{1, "a"}, {2, "b"}}))

	ok := s.UpdateByID("k", "1", func(old state.Row) (state.Row, bool) {
		it := old.(item)
		it.name = "A"
		return it, true
	})
	assert.True(t, ok)

	ok = s.UpdateByID("k", "2", func(state.Row) (state.Row, bool) { return nil, false })
	assert.True(t, ok)

	assert.False(t, s.UpdateByID("k", "7", func(old state.Row) (state.Row, bool) { return old, true }))
	assert.Equal(t, []item{{1, "A"}}, state.Rows[item](s, "k"))
}

func TestPrependIf(t *testing.T) {
	s := state.New()
	always := func(state.Row, bool) bool { return true }
	never := func(state.Row, bool) bool { return false }

	assert.True(t, s.PrependIf("k", item{1, "a"}, always))
	assert.True(t, s.PrependIf("k", item{2, "b"}, always))
	assert.False(t, s.PrependIf("k", item{3, "c"}, never))

	assert.Equal(t, []item{{2, "b"}, {1, "a"}}, state.Rows[item](s, "k"))
}

func TestPatchScalar_ShallowMerge(t *testing.T) {
	s := state.New()
	s.PatchScalar("bal", map[string]any{"balance": 1, "lockedAmount": 2})
	s.PatchScalar("bal", map[string]any{"balance": 5})

	assert.Equal(t, map[string]any{"balance": 5, "lockedAmount": 2}, s.Scalar("bal"))
}

func TestCollection_ReturnsCopy(t *testing.T) {
	s := state.New()
	s.SetCollection("k", state.AsRows([]item{{1, "a"}}))

	rows := s.Collection("k")
	rows[0] = item{99, "mutated"}

	assert.Equal(t, []item{{1, "a"}}, state.Rows[item](s, "k"))
}

func TestOnChange_NotifiesKeyListenersAndCancels(t *testing.T) {
	s := state.New()
	var got []state.Change
	cancel := s.OnChange("k", func(c state.Change) { got = append(got, c) })

	var all int
	cancelAll := s.OnAnyChange(func(state.Change) { all++ })
	defer cancelAll()

	s.AppendUnique("k", item{1, "a"})
	s.AppendUnique("k", item{1, "a"}) // duplicate, no change
	s.AppendUnique("other", item{1, "a"})
	s.RemoveByID("k", "1")

	cancel()
	cancel()
	s.AppendUnique("k", item{2, "b"})

	require.Len(t, got, 2)
	assert.Equal(t, state.Change{Key: "k", Op: state.OpAppend, ID: "1"}, got[0])
	assert.Equal(t, state.Change{Key: "k", Op: state.OpRemove, ID: "1"}, got[1])
	assert.Equal(t, 4, all)
}

func TestOnChange_ListenerCanReadStore(t *testing.T) {
	s := state.New()
	var seen int
	s.OnChange("k", func(state.Change) { seen = s.Len("k") })

	s.SetCollection("k", state.AsRows([]item{{1, "a"}, {2, "b"}}))

	assert.Equal(t, 2, seen)
}

func TestKeys(t *testing.T) {
	s := state.New()
	s.SetCollection("b", nil)
	s.PatchScalar("a", map[string]any{"x": 1})
	s.PatchScalar("b", map[string]any{"x": 1})

	assert.Equal(t, []state.Key{"a", "b"}, s.Keys())

	s.Clear("b")
	assert.Equal(t, []state.Key{"a"}, s.Keys())
}
