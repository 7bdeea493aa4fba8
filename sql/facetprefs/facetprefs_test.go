package facetprefs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/binderyhq/bindery/sql/statedb"
)

func TestSetByUser(t *testing.T) {
	db := statedb.InMemoryTest(t)

	now := time.Unix(1700000000, 0).UTC()
	require.NoError(t, Set(db, 1, "tags", "science fiction", true, now))
	require.NoError(t, Set(db, 1, "authors", "Le Guin", true, now))
	require.NoError(t, Set(db, 1, "tags", "essays", false, now))
	require.NoError(t, Set(db, 2, "tags", "other user", true, now))

	prefs, err := ByUser(db, 1)
	require.NoError(t, err)
	require.Len(t, prefs, 3)
	require.Equal(t, "authors", prefs[0].Source)
	require.Equal(t, "essays", prefs[1].Value)
	require.Equal(t, "science fiction", prefs[2].Value)
	require.False(t, prefs[1].SyncEnabled)

	// Toggling updates in place.
	later := now.Add(time.Hour)
	require.NoError(t, Set(db, 1, "tags", "essays", true, later))
	prefs, err = ByUser(db, 1)
	require.NoError(t, err)
	require.Len(t, prefs, 3)
	require.True(t, prefs[1].SyncEnabled)
	require.Equal(t, later, prefs[1].Modified)
}

func TestDelete(t *testing.T) {
	db := statedb.InMemoryTest(t)

	now := time.Unix(1700000000, 0).UTC()
	require.NoError(t, Set(db, 1, "tags", "science fiction", true, now))
	require.NoError(t, Delete(db, 1, "tags", "science fiction"))

	prefs, err := ByUser(db, 1)
	require.NoError(t, err)
	require.Empty(t, prefs)
}
