// Package syncstate tracks which items were sent to a user's device and the
// one-shot force-resync flag for generated collections.
//
// Synced rows are never deleted when an item merely becomes ineligible: the
// protocol has no device acknowledgement, so a row is retired only by the
// explicit archive/delete flow. Device activity against a non-eligible item
// re-marks it synced, which re-queues the removal on the next round.
package syncstate

import (
	"fmt"
	"time"

	"github.com/binderyhq/bindery/sql"
)

// Record marks one item as sent to the user's device.
type Record struct {
	BookID int64
	Synced time.Time
	Reason string
}

// Mark records that an item was sent to the device, keeping the earliest
// timestamp on repeats.
func Mark(db sql.Executor, userID, bookID int64, when time.Time, reason string) error {
	if _, err := db.Exec(`
		insert into synced_items (user_id, book_id, synced, reason) values (?1, ?2, ?3, ?4)
		on conflict (user_id, book_id) do update set reason = ?4;`,
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, userID)
			stmt.BindInt64(2, bookID)
			stmt.BindInt64(3, when.Unix())
			stmt.BindText(4, reason)
		}, nil,
	); err != nil {
		return fmt.Errorf("mark synced user %d book %d: %w", userID, bookID, err)
	}
	return nil
}

// Unmark retires the synced record for (user, book). Used by the explicit
// archive/delete flow only.
func Unmark(db sql.Executor, userID, bookID int64) error {
	if _, err := db.Exec("delete from synced_items where user_id = ?1 and book_id = ?2;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, userID)
			stmt.BindInt64(2, bookID)
		}, nil,
	); err != nil {
		return fmt.Errorf("unmark synced user %d book %d: %w", userID, bookID, err)
	}
	return nil
}

// ByUser returns all synced records of a user keyed by book id.
func ByUser(db sql.Executor, userID int64) (map[int64]Record, error) {
	rst := make(map[int64]Record)
	if _, err := db.Exec(
		"select book_id, synced, reason from synced_items where user_id = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, userID)
		}, func(stmt *sql.Statement) bool {
			rst[stmt.ColumnInt64(0)] = Record{
				BookID: stmt.ColumnInt64(0),
				Synced: time.Unix(stmt.ColumnInt64(1), 0).UTC(),
				Reason: stmt.ColumnText(2),
			}
			return true
		}); err != nil {
		return nil, fmt.Errorf("synced items for user %d: %w", userID, err)
	}
	return rst, nil
}

// Has reports whether the item was already sent to the user's device.
func Has(db sql.Executor, userID, bookID int64) (bool, error) {
	rows, err := db.Exec("select 1 from synced_items where user_id = ?1 and book_id = ?2;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, userID)
			stmt.BindInt64(2, bookID)
		}, nil)
	if err != nil {
		return false, fmt.Errorf("check synced user %d book %d: %w", userID, bookID, err)
	}
	return rows > 0, nil
}

// Any reports whether the user has any synced record at all. A user without
// records is treated as a brand-new device requiring a full resync.
func Any(db sql.Executor, userID int64) (bool, error) {
	rows, err := db.Exec("select 1 from synced_items where user_id = ?1 limit 1;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, userID)
		}, nil)
	if err != nil {
		return false, fmt.Errorf("check any synced for user %d: %w", userID, err)
	}
	return rows > 0, nil
}

// SetForceResync marks the user's generated collections for unconditional
// re-emission on the next round.
func SetForceResync(db sql.Executor, userID int64, when time.Time) error {
	return setForce(db, userID, 1, when)
}

// ClearForceResync consumes the one-shot flag. Called only from the commit of
// a round that successfully emitted generated collections.
func ClearForceResync(db sql.Executor, userID int64, when time.Time) error {
	return setForce(db, userID, 0, when)
}

func setForce(db sql.Executor, userID, v int64, when time.Time) error {
	if _, err := db.Exec(`
		insert into collection_sync_state (user_id, force_resync, updated) values (?1, ?2, ?3)
		on conflict (user_id) do update set force_resync = ?2, updated = ?3;`,
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, userID)
			stmt.BindInt64(2, v)
			stmt.BindInt64(3, when.Unix())
		}, nil,
	); err != nil {
		return fmt.Errorf("set force resync %d for user %d: %w", v, userID, err)
	}
	return nil
}

// ForceResync reports whether generated collections must be re-emitted
// unconditionally this round.
func ForceResync(db sql.Executor, userID int64) (bool, error) {
	var forced bool
	if _, err := db.Exec("select force_resync from collection_sync_state where user_id = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, userID)
		}, func(stmt *sql.Statement) bool {
			forced = stmt.ColumnInt64(0) != 0
			return true
		}); err != nil {
		return false, fmt.Errorf("force resync for user %d: %w", userID, err)
	}
	return forced, nil
}
