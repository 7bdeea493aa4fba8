// Package users stores accounts, per-user sync settings and device tokens.
package users

import (
	"fmt"
	"time"

	"github.com/binderyhq/bindery/sql"
)

// User is an account with its device-sync settings. Zero values of SyncPolicy
// and SyncLimit mean "use the server default".
type User struct {
	ID         int64
	Name       string
	Created    time.Time
	SyncPolicy string
	SyncLimit  int
	SyncFacets bool
}

// Add inserts a user and returns its id.
func Add(db sql.Executor, user *User) (int64, error) {
	facets := int64(0)
	if user.SyncFacets {
		facets = 1
	}
	var id int64
	if _, err := db.Exec(`
		insert into users (name, created, sync_policy, sync_limit, sync_facets)
		values (?1, ?2, ?3, ?4, ?5) returning id;`,
		func(stmt *sql.Statement) {
			stmt.BindText(1, user.Name)
			stmt.BindInt64(2, user.Created.Unix())
			stmt.BindText(3, user.SyncPolicy)
			stmt.BindInt64(4, int64(user.SyncLimit))
			stmt.BindInt64(5, facets)
		}, func(stmt *sql.Statement) bool {
			id = stmt.ColumnInt64(0)
			return true
		},
	); err != nil {
		return 0, fmt.Errorf("add user %s: %w", user.Name, err)
	}
	user.ID = id
	return id, nil
}

func decode(stmt *sql.Statement) *User {
	return &User{
		ID:         stmt.ColumnInt64(0),
		Name:       stmt.ColumnText(1),
		Created:    time.Unix(stmt.ColumnInt64(2), 0).UTC(),
		SyncPolicy: stmt.ColumnText(3),
		SyncLimit:  int(stmt.ColumnInt64(4)),
		SyncFacets: stmt.ColumnInt64(5) != 0,
	}
}

const userColumns = "id, name, created, sync_policy, sync_limit, sync_facets"

// Get returns a user by id.
func Get(db sql.Executor, id int64) (*User, error) {
	var user *User
	rows, err := db.Exec("select "+userColumns+" from users where id = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, id)
		}, func(stmt *sql.Statement) bool {
			user = decode(stmt)
			return true
		})
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	} else if rows == 0 {
		return nil, fmt.Errorf("get user %d: %w", id, sql.ErrNotFound)
	}
	return user, nil
}

// GetByName returns a user by name.
func GetByName(db sql.Executor, name string) (*User, error) {
	var user *User
	rows, err := db.Exec("select "+userColumns+" from users where name = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindText(1, name)
		}, func(stmt *sql.Statement) bool {
			user = decode(stmt)
			return true
		})
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", name, err)
	} else if rows == 0 {
		return nil, fmt.Errorf("get user %s: %w", name, sql.ErrNotFound)
	}
	return user, nil
}

// SetSyncSettings updates the user's device-sync settings.
func SetSyncSettings(db sql.Executor, id int64, policy string, limit int, facets bool) error {
	v := int64(0)
	if facets {
		v = 1
	}
	rows, err := db.Exec(
		"update users set sync_policy = ?2, sync_limit = ?3, sync_facets = ?4 where id = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, id)
			stmt.BindText(2, policy)
			stmt.BindInt64(3, int64(limit))
			stmt.BindInt64(4, v)
		}, nil)
	if err != nil {
		return fmt.Errorf("update sync settings for user %d: %w", id, err)
	} else if rows == 0 {
		return fmt.Errorf("update sync settings for user %d: %w", id, sql.ErrNotFound)
	}
	return nil
}
