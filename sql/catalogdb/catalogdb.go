// Package catalogdb opens the catalog database: read-mostly book metadata that
// out-of-band imports may rewrite while the server is running.
package catalogdb

import (
	"embed"
	"testing"

	"go.uber.org/zap"

	"github.com/binderyhq/bindery/sql"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Open opens the catalog database at uri.
func Open(uri string, opts ...sql.Opt) (*sql.Database, error) {
	defaultOpts := []sql.Opt{
		sql.WithConnections(16),
		sql.WithMigrations(sql.MigrationsFromFS(migrations, "migrations")),
	}
	return sql.Open(uri, append(defaultOpts, opts...)...)
}

// InMemory creates an in-memory catalog database and panics on error.
func InMemory(opts ...sql.Opt) *sql.Database {
	defaultOpts := []sql.Opt{
		sql.WithMigrations(sql.MigrationsFromFS(migrations, "migrations")),
	}
	return sql.InMemory(append(defaultOpts, opts...)...)
}

// InMemoryTest returns an in-memory catalog database for testing and closes it
// during tb.Cleanup.
func InMemoryTest(tb testing.TB, opts ...sql.Opt) *sql.Database {
	db := InMemory(opts...)
	tb.Cleanup(func() { db.Close() })
	return db
}

// InMemoryTestHandle wraps an in-memory catalog database in a static handle
// for components that reload the catalog between rounds.
func InMemoryTestHandle(tb testing.TB, opts ...sql.Opt) *Handle {
	return &Handle{
		logger: zap.NewNop(),
		static: true,
		db:     InMemoryTest(tb, opts...),
	}
}
