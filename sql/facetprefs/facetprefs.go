// Package facetprefs stores per-(user, facet, value) sync toggles for
// generated shelves.
package facetprefs

import (
	"fmt"
	"time"

	"github.com/binderyhq/bindery/sql"
)

// Pref is one generated-shelf sync toggle.
type Pref struct {
	Source      string
	Value       string
	SyncEnabled bool
	Modified    time.Time
}

// Set writes the toggle for (user, source, value).
func Set(db sql.Executor, userID int64, source, value string, enabled bool, when time.Time) error {
	v := int64(0)
	if enabled {
		v = 1
	}
	if _, err := db.Exec(`
		insert into facet_prefs (user_id, source, value, sync_enabled, modified)
		values (?1, ?2, ?3, ?4, ?5)
		on conflict (user_id, source, value) do update set sync_enabled = ?4, modified = ?5;`,
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, userID)
			stmt.BindText(2, source)
			stmt.BindText(3, value)
			stmt.BindInt64(4, v)
			stmt.BindInt64(5, when.Unix())
		}, nil,
	); err != nil {
		return fmt.Errorf("set facet pref %s=%s for user %d: %w", source, value, userID, err)
	}
	return nil
}

// ByUser returns all facet toggles of a user, enabled and disabled, ordered
// by (source, value).
func ByUser(db sql.Executor, userID int64) ([]Pref, error) {
	var rst []Pref
	if _, err := db.Exec(`
		select source, value, sync_enabled, modified from facet_prefs
		where user_id = ?1 order by source asc, value asc;`,
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, userID)
		}, func(stmt *sql.Statement) bool {
			rst = append(rst, Pref{
				Source:      stmt.ColumnText(0),
				Value:       stmt.ColumnText(1),
				SyncEnabled: stmt.ColumnInt64(2) != 0,
				Modified:    time.Unix(stmt.ColumnInt64(3), 0).UTC(),
			})
			return true
		}); err != nil {
		return nil, fmt.Errorf("facet prefs for user %d: %w", userID, err)
	}
	return rst, nil
}

// Delete removes the toggle for (user, source, value).
func Delete(db sql.Executor, userID int64, source, value string) error {
	if _, err := db.Exec(
		"delete from facet_prefs where user_id = ?1 and source = ?2 and value = ?3;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, userID)
			stmt.BindText(2, source)
			stmt.BindText(3, value)
		}, nil,
	); err != nil {
		return fmt.Errorf("delete facet pref %s=%s for user %d: %w", source, value, userID, err)
	}
	return nil
}
