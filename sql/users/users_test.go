package users

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/binderyhq/bindery/sql"
	"github.com/binderyhq/bindery/sql/statedb"
)

func TestAddGet(t *testing.T) {
	db := statedb.InMemoryTest(t)

	now := time.Unix(1700000000, 0).UTC()
	user := &User{Name: "alice", Created: now, SyncPolicy: "selected", SyncLimit: 100}
	id, err := Add(db, user)
	require.NoError(t, err)
	require.Equal(t, id, user.ID)

	got, err := Get(db, id)
	require.NoError(t, err)
	require.Equal(t, user, got)

	byName, err := GetByName(db, "alice")
	require.NoError(t, err)
	require.Equal(t, user, byName)

	_, err = GetByName(db, "bob")
	require.ErrorIs(t, err, sql.ErrNotFound)
}

func TestDuplicateName(t *testing.T) {
	db := statedb.InMemoryTest(t)

	now := time.Unix(1700000000, 0).UTC()
	_, err := Add(db, &User{Name: "alice", Created: now})
	require.NoError(t, err)
	_, err = Add(db, &User{Name: "alice", Created: now})
	require.ErrorIs(t, err, sql.ErrObjectExists)
}

func TestSetSyncSettings(t *testing.T) {
	db := statedb.InMemoryTest(t)

	now := time.Unix(1700000000, 0).UTC()
	id, err := Add(db, &User{Name: "alice", Created: now})
	require.NoError(t, err)

	require.NoError(t, SetSyncSettings(db, id, "hybrid", 250, true))

	got, err := Get(db, id)
	require.NoError(t, err)
	require.Equal(t, "hybrid", got.SyncPolicy)
	require.Equal(t, 250, got.SyncLimit)
	require.True(t, got.SyncFacets)

	require.ErrorIs(t, SetSyncSettings(db, id+100, "all", 10, false), sql.ErrNotFound)
}

func TestDeviceTokens(t *testing.T) {
	db := statedb.InMemoryTest(t)

	now := time.Unix(1700000000, 0).UTC()
	id, err := Add(db, &User{Name: "alice", Created: now})
	require.NoError(t, err)

	token := &DeviceToken{Token: "tok-1", UserID: id, DeviceID: "kobo-clara", Created: now, LastSeen: now}
	require.NoError(t, AddToken(db, token))

	got, err := GetToken(db, "tok-1")
	require.NoError(t, err)
	require.Equal(t, token, got)

	seen := now.Add(time.Hour)
	require.NoError(t, TouchToken(db, "tok-1", seen))
	got, err = GetToken(db, "tok-1")
	require.NoError(t, err)
	require.Equal(t, seen, got.LastSeen)
	require.Equal(t, now, got.Created)

	require.NoError(t, DeleteToken(db, "tok-1"))
	_, err = GetToken(db, "tok-1")
	require.ErrorIs(t, err, sql.ErrNotFound)
}
