// Package archive stores per-(user, book) archival flags. Archived items are
// excluded from eligibility regardless of the collection-sync policy.
package archive

import (
	"fmt"
	"time"

	"github.com/binderyhq/bindery/sql"
)

// Set flips the archival flag for (user, book).
func Set(db sql.Executor, userID, bookID int64, archived bool, when time.Time) error {
	v := int64(0)
	if archived {
		v = 1
	}
	if _, err := db.Exec(`
		insert into archived_items (user_id, book_id, archived, modified) values (?1, ?2, ?3, ?4)
		on conflict (user_id, book_id) do update set archived = ?3, modified = ?4;`,
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, userID)
			stmt.BindInt64(2, bookID)
			stmt.BindInt64(3, v)
			stmt.BindInt64(4, when.Unix())
		}, nil,
	); err != nil {
		return fmt.Errorf("archive book %d for user %d: %w", bookID, userID, err)
	}
	return nil
}

// Is reports whether (user, book) is archived.
func Is(db sql.Executor, userID, bookID int64) (bool, error) {
	var archived bool
	if _, err := db.Exec(
		"select archived from archived_items where user_id = ?1 and book_id = ?2;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, userID)
			stmt.BindInt64(2, bookID)
		}, func(stmt *sql.Statement) bool {
			archived = stmt.ColumnInt64(0) != 0
			return true
		}); err != nil {
		return false, fmt.Errorf("check archived book %d for user %d: %w", bookID, userID, err)
	}
	return archived, nil
}

// ByUser returns the set of archived book ids for a user.
func ByUser(db sql.Executor, userID int64) (map[int64]struct{}, error) {
	rst := make(map[int64]struct{})
	if _, err := db.Exec(
		"select book_id from archived_items where user_id = ?1 and archived = 1;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, userID)
		}, func(stmt *sql.Statement) bool {
			rst[stmt.ColumnInt64(0)] = struct{}{}
			return true
		}); err != nil {
		return nil, fmt.Errorf("archived items for user %d: %w", userID, err)
	}
	return rst, nil
}
