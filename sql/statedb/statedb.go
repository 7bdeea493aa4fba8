// Package statedb opens the state database: everything the server owns —
// users, device tokens, shelves, reading state and sync bookkeeping.
package statedb

import (
	"embed"
	"testing"

	"github.com/binderyhq/bindery/sql"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Open opens the state database at uri.
func Open(uri string, opts ...sql.Opt) (*sql.Database, error) {
	defaultOpts := []sql.Opt{
		sql.WithConnections(16),
		sql.WithMigrations(sql.MigrationsFromFS(migrations, "migrations")),
	}
	return sql.Open(uri, append(defaultOpts, opts...)...)
}

// InMemory creates an in-memory state database and panics on error.
func InMemory(opts ...sql.Opt) *sql.Database {
	defaultOpts := []sql.Opt{
		sql.WithMigrations(sql.MigrationsFromFS(migrations, "migrations")),
	}
	return sql.InMemory(append(defaultOpts, opts...)...)
}

// InMemoryTest returns an in-memory state database for testing and closes it
// during tb.Cleanup.
func InMemoryTest(tb testing.TB, opts ...sql.Opt) *sql.Database {
	db := InMemory(opts...)
	tb.Cleanup(func() { db.Close() })
	return db
}
