package shelves

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/binderyhq/bindery/sql"
	"github.com/binderyhq/bindery/sql/statedb"
)

func addUser(t *testing.T, db sql.Executor, name string) int64 {
	t.Helper()
	var id int64
	_, err := db.Exec(
		"insert into users (name, created) values (?1, 0) returning id;",
		func(stmt *sql.Statement) {
			stmt.BindText(1, name)
		}, func(stmt *sql.Statement) bool {
			id = stmt.ColumnInt64(0)
			return true
		})
	require.NoError(t, err)
	return id
}

func TestAddGet(t *testing.T) {
	db := statedb.InMemoryTest(t)
	user := addUser(t, db, "alice")

	now := time.Unix(1700000000, 0).UTC()
	shelf := &Shelf{
		UserID:      user,
		UUID:        "dc1b8c3e-0000-4000-8000-000000000001",
		Name:        "To Read",
		Public:      false,
		SyncEnabled: true,
		Created:     now,
		Modified:    now,
	}
	id, err := Add(db, shelf)
	require.NoError(t, err)
	require.Equal(t, id, shelf.ID)

	got, err := Get(db, id)
	require.NoError(t, err)
	require.Equal(t, shelf, got)

	byUUID, err := GetByUUID(db, shelf.UUID)
	require.NoError(t, err)
	require.Equal(t, shelf, byUUID)

	byName, err := GetByName(db, user, "To Read")
	require.NoError(t, err)
	require.Equal(t, shelf, byName)

	_, err = GetByName(db, user, "Missing")
	require.ErrorIs(t, err, sql.ErrNotFound)
}

func TestByUser(t *testing.T) {
	db := statedb.InMemoryTest(t)
	alice := addUser(t, db, "alice")
	bob := addUser(t, db, "bob")

	now := time.Unix(1700000000, 0).UTC()
	_, err := Add(db, &Shelf{UserID: alice, UUID: "u-1", Name: "B shelf", Created: now, Modified: now})
	require.NoError(t, err)
	_, err = Add(db, &Shelf{UserID: alice, UUID: "u-2", Name: "A shelf", SyncEnabled: true, Created: now, Modified: now})
	require.NoError(t, err)
	_, err = Add(db, &Shelf{UserID: bob, UUID: "u-3", Name: "Bob shelf", Created: now, Modified: now})
	require.NoError(t, err)

	all, err := ByUser(db, alice, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "A shelf", all[0].Name)
	require.Equal(t, "B shelf", all[1].Name)

	synced, err := ByUser(db, alice, true)
	require.NoError(t, err)
	require.Len(t, synced, 1)
	require.Equal(t, "A shelf", synced[0].Name)
}

func TestRename(t *testing.T) {
	db := statedb.InMemoryTest(t)
	user := addUser(t, db, "alice")

	now := time.Unix(1700000000, 0).UTC()
	id, err := Add(db, &Shelf{UserID: user, UUID: "r-1", Name: "Old", Created: now, Modified: now})
	require.NoError(t, err)

	later := now.Add(time.Hour)
	require.NoError(t, Rename(db, id, "New", later))

	got, err := Get(db, id)
	require.NoError(t, err)
	require.Equal(t, "New", got.Name)
	require.Equal(t, later, got.Modified)

	require.ErrorIs(t, Rename(db, id+100, "Nope", later), sql.ErrNotFound)
}

func TestSetSyncEnabled(t *testing.T) {
	db := statedb.InMemoryTest(t)
	user := addUser(t, db, "alice")

	now := time.Unix(1700000000, 0).UTC()
	id, err := Add(db, &Shelf{UserID: user, UUID: "s-1", Name: "Shelf", Created: now, Modified: now})
	require.NoError(t, err)

	later := now.Add(time.Minute)
	require.NoError(t, SetSyncEnabled(db, id, true, later))

	got, err := Get(db, id)
	require.NoError(t, err)
	require.True(t, got.SyncEnabled)
	require.Equal(t, later, got.Modified)
}

func TestItems(t *testing.T) {
	db := statedb.InMemoryTest(t)
	user := addUser(t, db, "alice")

	now := time.Unix(1700000000, 0).UTC()
	id, err := Add(db, &Shelf{UserID: user, UUID: "i-1", Name: "Shelf", Created: now, Modified: now})
	require.NoError(t, err)

	require.NoError(t, AddItem(db, id, 11, now.Add(time.Minute)))
	require.NoError(t, AddItem(db, id, 22, now.Add(2*time.Minute)))
	require.NoError(t, AddItem(db, id, 33, now.Add(3*time.Minute)))

	items, err := Items(db, id)
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, int64(11), items[0].BookID)
	require.Equal(t, int64(33), items[2].BookID)
	require.Equal(t, now.Add(2*time.Minute), items[1].Added)

	has, err := HasItem(db, id, 22)
	require.NoError(t, err)
	require.True(t, has)

	require.NoError(t, RemoveItem(db, id, 22, now.Add(4*time.Minute)))
	has, err = HasItem(db, id, 22)
	require.NoError(t, err)
	require.False(t, has)

	shelf, err := Get(db, id)
	require.NoError(t, err)
	require.Equal(t, now.Add(4*time.Minute), shelf.Modified)
}

func TestAddItemRetryIsNoop(t *testing.T) {
	db := statedb.InMemoryTest(t)
	user := addUser(t, db, "alice")

	now := time.Unix(1700000000, 0).UTC()
	id, err := Add(db, &Shelf{UserID: user, UUID: "r-1", Name: "Shelf", Created: now, Modified: now})
	require.NoError(t, err)

	require.NoError(t, AddItem(db, id, 11, now.Add(time.Minute)))
	require.NoError(t, AddItem(db, id, 11, now.Add(time.Hour)))

	items, err := Items(db, id)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, now.Add(time.Minute), items[0].Added)

	// The retry changed nothing, so the collection gate stays put.
	shelf, err := Get(db, id)
	require.NoError(t, err)
	require.Equal(t, now.Add(time.Minute), shelf.Modified)
}

func TestLastAdded(t *testing.T) {
	db := statedb.InMemoryTest(t)
	user := addUser(t, db, "alice")

	last, err := LastAdded(db, user, false)
	require.NoError(t, err)
	require.True(t, last.IsZero())

	now := time.Unix(1700000000, 0).UTC()
	plain, err := Add(db, &Shelf{UserID: user, UUID: "l-1", Name: "Plain", Created: now, Modified: now})
	require.NoError(t, err)
	synced, err := Add(db, &Shelf{UserID: user, UUID: "l-2", Name: "Synced", SyncEnabled: true, Created: now, Modified: now})
	require.NoError(t, err)

	require.NoError(t, AddItem(db, plain, 1, now.Add(3*time.Hour)))
	require.NoError(t, AddItem(db, synced, 2, now.Add(time.Hour)))

	last, err = LastAdded(db, user, false)
	require.NoError(t, err)
	require.Equal(t, now.Add(3*time.Hour), last)

	last, err = LastAdded(db, user, true)
	require.NoError(t, err)
	require.Equal(t, now.Add(time.Hour), last)
}

func TestDeleteLeavesTombstone(t *testing.T) {
	db := statedb.InMemoryTest(t)
	user := addUser(t, db, "alice")

	now := time.Unix(1700000000, 0).UTC()
	id, err := Add(db, &Shelf{UserID: user, UUID: "t-1", Name: "Doomed", Created: now, Modified: now})
	require.NoError(t, err)
	require.NoError(t, AddItem(db, id, 7, now))

	deleted := now.Add(time.Hour)
	require.NoError(t, Delete(db, id, deleted))

	_, err = Get(db, id)
	require.ErrorIs(t, err, sql.ErrNotFound)

	stones, err := Tombstones(db, user, time.Time{})
	require.NoError(t, err)
	require.Len(t, stones, 1)
	require.Equal(t, "t-1", stones[0].UUID)
	require.Equal(t, deleted, stones[0].Deleted)

	// Only tombstones newer than the gate are reported.
	stones, err = Tombstones(db, user, deleted)
	require.NoError(t, err)
	require.Empty(t, stones)

	require.NoError(t, ConsumeTombstone(db, user, "t-1"))
	stones, err = Tombstones(db, user, time.Time{})
	require.NoError(t, err)
	require.Empty(t, stones)
}
