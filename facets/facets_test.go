package facets

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/binderyhq/bindery/sql/books"
	"github.com/binderyhq/bindery/sql/catalogdb"
	"github.com/binderyhq/bindery/sql/facetprefs"
)

func TestUUIDStable(t *testing.T) {
	s := Selector{Source: "tags", Value: "science fiction"}
	first := s.UUID()
	second := Selector{Source: "tags", Value: "science fiction"}.UUID()
	require.Equal(t, first, second)

	parsed, err := uuid.Parse(first)
	require.NoError(t, err)
	require.EqualValues(t, 5, parsed.Version())
}

func TestUUIDDistinguishesSourceAndValue(t *testing.T) {
	ids := map[string]Selector{}
	for _, s := range []Selector{
		{Source: "tags", Value: "history"},
		{Source: "publishers", Value: "history"},
		{Source: "tags", Value: "history=x"},
		{Source: "cc:mood", Value: "bleak"},
		{Source: "cc", Value: "mood=bleak"},
	} {
		id := s.UUID()
		prev, ok := ids[id]
		require.False(t, ok, "%v and %v share id %s", prev, s, id)
		ids[id] = s
	}
}

func TestValidSource(t *testing.T) {
	for _, source := range []string{"tags", "authors", "publishers", "languages", "cc:mood"} {
		require.True(t, ValidSource(source), source)
	}
	for _, source := range []string{"", "ratings", "cc:", "series"} {
		require.False(t, ValidSource(source), source)
	}
}

func TestEnabled(t *testing.T) {
	prefs := []facetprefs.Pref{
		{Source: "tags", Value: "on", SyncEnabled: true},
		{Source: "tags", Value: "off", SyncEnabled: false},
		{Source: "authors", Value: "also on", SyncEnabled: true},
	}
	selectors := Enabled(prefs)
	require.Equal(t, []Selector{
		{Source: "tags", Value: "on"},
		{Source: "authors", Value: "also on"},
	}, selectors)

	require.Empty(t, Enabled(nil))
}

func TestItems(t *testing.T) {
	db := catalogdb.InMemoryTest(t)

	now := time.Unix(1700000000, 0).UTC()
	id, err := books.Add(db, &books.Book{UUID: "f-1", Title: "Tagged", Created: now, Modified: now, Visible: true})
	require.NoError(t, err)
	require.NoError(t, books.AddSubject(db, id, "science fiction"))

	items, err := Items(db, Selector{Source: "tags", Value: "science fiction"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, id, items[0].ID)

	_, err = Items(db, Selector{Source: "bogus", Value: "x"})
	require.Error(t, err)
}
