// Package progress stores per-(user, book) reading state: bookmark position,
// reading statistics and the coarse status shown on device home screens.
package progress

import (
	"fmt"
	"time"

	"github.com/binderyhq/bindery/sql"
)

// Reading status values understood by devices.
const (
	StatusReadyToRead = "ReadyToRead"
	StatusReading     = "Reading"
	StatusFinished    = "Finished"
)

// State is the reading state of one book for one user.
type State struct {
	UserID   int64
	BookID   int64
	Modified time.Time
	Priority time.Time

	Status       string
	TimesStarted int

	// Bookmark. Percent fields are nil when the device never reported them.
	ProgressPercent       *float64
	SourceProgressPercent *float64
	LocationValue         string
	LocationType          string
	LocationSource        string

	SpentMinutes     int
	RemainingMinutes int
}

// Upsert writes the reading state row for (user, book).
func Upsert(db sql.Executor, state *State) error {
	if state.Status == "" {
		state.Status = StatusReadyToRead
	}
	if _, err := db.Exec(`
		insert into reading_state (user_id, book_id, modified, priority, status, times_started,
			progress_percent, source_progress_percent, location_value, location_type,
			location_source, spent_minutes, remaining_minutes)
		values (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, ?10, ?11, ?12, ?13)
		on conflict (user_id, book_id) do update set
			modified = ?3, priority = ?4, status = ?5, times_started = ?6,
			progress_percent = ?7, source_progress_percent = ?8, location_value = ?9,
			location_type = ?10, location_source = ?11, spent_minutes = ?12,
			remaining_minutes = ?13;`,
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, state.UserID)
			stmt.BindInt64(2, state.BookID)
			stmt.BindInt64(3, state.Modified.Unix())
			stmt.BindInt64(4, state.Priority.Unix())
			stmt.BindText(5, state.Status)
			stmt.BindInt64(6, int64(state.TimesStarted))
			if state.ProgressPercent != nil {
				stmt.BindFloat(7, *state.ProgressPercent)
			} else {
				stmt.BindNull(7)
			}
			if state.SourceProgressPercent != nil {
				stmt.BindFloat(8, *state.SourceProgressPercent)
			} else {
				stmt.BindNull(8)
			}
			stmt.BindText(9, state.LocationValue)
			stmt.BindText(10, state.LocationType)
			stmt.BindText(11, state.LocationSource)
			stmt.BindInt64(12, int64(state.SpentMinutes))
			stmt.BindInt64(13, int64(state.RemainingMinutes))
		}, nil,
	); err != nil {
		return fmt.Errorf("upsert reading state for user %d book %d: %w", state.UserID, state.BookID, err)
	}
	return nil
}

func decode(stmt *sql.Statement) *State {
	state := &State{
		UserID:           stmt.ColumnInt64(0),
		BookID:           stmt.ColumnInt64(1),
		Modified:         time.Unix(stmt.ColumnInt64(2), 0).UTC(),
		Priority:         time.Unix(stmt.ColumnInt64(3), 0).UTC(),
		Status:           stmt.ColumnText(4),
		TimesStarted:     int(stmt.ColumnInt64(5)),
		LocationValue:    stmt.ColumnText(8),
		LocationType:     stmt.ColumnText(9),
		LocationSource:   stmt.ColumnText(10),
		SpentMinutes:     int(stmt.ColumnInt64(11)),
		RemainingMinutes: int(stmt.ColumnInt64(12)),
	}
	if !sql.IsNull(stmt, 6) {
		v := stmt.ColumnFloat(6)
		state.ProgressPercent = &v
	}
	if !sql.IsNull(stmt, 7) {
		v := stmt.ColumnFloat(7)
		state.SourceProgressPercent = &v
	}
	return state
}

const stateColumns = `user_id, book_id, modified, priority, status, times_started,
	progress_percent, source_progress_percent, location_value, location_type,
	location_source, spent_minutes, remaining_minutes`

// Get returns the reading state for (user, book).
func Get(db sql.Executor, userID, bookID int64) (*State, error) {
	var state *State
	rows, err := db.Exec(
		"select "+stateColumns+" from reading_state where user_id = ?1 and book_id = ?2;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, userID)
			stmt.BindInt64(2, bookID)
		}, func(stmt *sql.Statement) bool {
			state = decode(stmt)
			return true
		})
	if err != nil {
		return nil, fmt.Errorf("reading state for user %d book %d: %w", userID, bookID, err)
	} else if rows == 0 {
		return nil, fmt.Errorf("reading state for user %d book %d: %w", userID, bookID, sql.ErrNotFound)
	}
	return state, nil
}

// ModifiedAfter returns reading states changed after the gate, oldest first,
// up to limit rows (limit <= 0 means no cap).
func ModifiedAfter(db sql.Executor, userID int64, gate time.Time, limit int) ([]*State, error) {
	query := "select " + stateColumns + ` from reading_state
		where user_id = ?1 and modified > ?2 order by modified asc, book_id asc`
	if limit > 0 {
		query += fmt.Sprintf(" limit %d", limit)
	}
	var rst []*State
	if _, err := db.Exec(query+";",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, userID)
			stmt.BindInt64(2, gate.Unix())
		}, func(stmt *sql.Statement) bool {
			rst = append(rst, decode(stmt))
			return true
		}); err != nil {
		return nil, fmt.Errorf("reading states for user %d: %w", userID, err)
	}
	return rst, nil
}

// Delete removes the reading state row for (user, book). Missing rows are not
// an error.
func Delete(db sql.Executor, userID, bookID int64) error {
	if _, err := db.Exec("delete from reading_state where user_id = ?1 and book_id = ?2;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, userID)
			stmt.BindInt64(2, bookID)
		}, nil,
	); err != nil {
		return fmt.Errorf("delete reading state for user %d book %d: %w", userID, bookID, err)
	}
	return nil
}
