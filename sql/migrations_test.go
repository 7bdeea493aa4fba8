package sql

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func userVersion(tb testing.TB, db *Database) int64 {
	tb.Helper()
	var version int64
	_, err := db.Exec("PRAGMA user_version;", nil, func(stmt *Statement) bool {
		version = stmt.ColumnInt64(0)
		return true
	})
	require.NoError(tb, err)
	return version
}

func TestMigrationsFromFS(t *testing.T) {
	fsys := fstest.MapFS{
		"schema/0001_initial.sql": &fstest.MapFile{Data: []byte(`
			CREATE TABLE things
			(
				id    INTEGER PRIMARY KEY,
				label VARCHAR NOT NULL
			);
		`)},
		"schema/0002_labels_index.sql": &fstest.MapFile{Data: []byte(`
			CREATE INDEX things_by_label ON things (label);
		`)},
	}

	db := InMemory(WithMigrations(MigrationsFromFS(fsys, "schema")))
	defer db.Close()
	require.Equal(t, int64(2), userVersion(t, db))

	_, err := db.Exec("insert into things (id, label) values (1, 'ok');", nil, nil)
	require.NoError(t, err)
}

func TestMigrationsAppliedOnce(t *testing.T) {
	fsys := fstest.MapFS{
		"schema/0001_initial.sql": &fstest.MapFile{Data: []byte(`
			CREATE TABLE things
			(
				id INTEGER PRIMARY KEY
			);
		`)},
	}
	migrations := MigrationsFromFS(fsys, "schema")

	uri := testURI(t)
	db, err := Open(uri, WithMigrations(migrations))
	require.NoError(t, err)
	require.Equal(t, int64(1), userVersion(t, db))
	require.NoError(t, db.Close())

	// Applying the same set to an up-to-date database is a no-op; a second
	// CREATE TABLE would fail if the script ran again.
	db, err = Open(uri, WithMigrations(migrations))
	require.NoError(t, err)
	require.Equal(t, int64(1), userVersion(t, db))
	require.NoError(t, db.Close())
}

func TestMigrationsRejectBadName(t *testing.T) {
	fsys := fstest.MapFS{
		"schema/initial.sql": &fstest.MapFile{Data: []byte(`CREATE TABLE things (id INTEGER PRIMARY KEY);`)},
	}
	_, err := OpenInMemory(WithMigrations(MigrationsFromFS(fsys, "schema")))
	require.ErrorContains(t, err, "invalid migration")
}
