// Package shelves provides queries over manual shelf records, their
// membership links and the append-only deletion archive used for tombstones.
package shelves

import (
	"fmt"
	"time"

	"github.com/binderyhq/bindery/sql"
)

// Shelf is a user-curated collection of books.
type Shelf struct {
	ID          int64
	UUID        string
	UserID      int64
	Name        string
	Public      bool
	SyncEnabled bool
	Created     time.Time
	Modified    time.Time
}

// Item is one shelf membership link.
type Item struct {
	BookID   int64
	Added    time.Time
	Position int
}

// Tombstone is a deletion record emitted for previously synced shelves.
type Tombstone struct {
	UUID    string
	Deleted time.Time
}

// Add inserts a shelf and returns its id.
func Add(db sql.Executor, shelf *Shelf) (int64, error) {
	public, enabled := int64(0), int64(0)
	if shelf.Public {
		public = 1
	}
	if shelf.SyncEnabled {
		enabled = 1
	}
	var id int64
	if _, err := db.Exec(`
		insert into shelves (uuid, user_id, name, public, sync_enabled, created, modified)
		values (?1, ?2, ?3, ?4, ?5, ?6, ?7) returning id;`,
		func(stmt *sql.Statement) {
			stmt.BindText(1, shelf.UUID)
			stmt.BindInt64(2, shelf.UserID)
			stmt.BindText(3, shelf.Name)
			stmt.BindInt64(4, public)
			stmt.BindInt64(5, enabled)
			stmt.BindInt64(6, shelf.Created.Unix())
			stmt.BindInt64(7, shelf.Modified.Unix())
		}, func(stmt *sql.Statement) bool {
			id = stmt.ColumnInt64(0)
			return true
		},
	); err != nil {
		return 0, fmt.Errorf("add shelf %s: %w", shelf.Name, err)
	}
	shelf.ID = id
	return id, nil
}

func decode(stmt *sql.Statement) *Shelf {
	return &Shelf{
		ID:          stmt.ColumnInt64(0),
		UUID:        stmt.ColumnText(1),
		UserID:      stmt.ColumnInt64(2),
		Name:        stmt.ColumnText(3),
		Public:      stmt.ColumnInt64(4) != 0,
		SyncEnabled: stmt.ColumnInt64(5) != 0,
		Created:     time.Unix(stmt.ColumnInt64(6), 0).UTC(),
		Modified:    time.Unix(stmt.ColumnInt64(7), 0).UTC(),
	}
}

const shelfColumns = "id, uuid, user_id, name, public, sync_enabled, created, modified"

// Get returns a shelf by id.
func Get(db sql.Executor, id int64) (*Shelf, error) {
	var shelf *Shelf
	rows, err := db.Exec("select "+shelfColumns+" from shelves where id = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, id)
		}, func(stmt *sql.Statement) bool {
			shelf = decode(stmt)
			return true
		})
	if err != nil {
		return nil, fmt.Errorf("get shelf %d: %w", id, err)
	} else if rows == 0 {
		return nil, fmt.Errorf("get shelf %d: %w", id, sql.ErrNotFound)
	}
	return shelf, nil
}

// GetByUUID returns a shelf by its stable uuid.
func GetByUUID(db sql.Executor, uuid string) (*Shelf, error) {
	var shelf *Shelf
	rows, err := db.Exec("select "+shelfColumns+" from shelves where uuid = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindText(1, uuid)
		}, func(stmt *sql.Statement) bool {
			shelf = decode(stmt)
			return true
		})
	if err != nil {
		return nil, fmt.Errorf("get shelf %s: %w", uuid, err)
	} else if rows == 0 {
		return nil, fmt.Errorf("get shelf %s: %w", uuid, sql.ErrNotFound)
	}
	return shelf, nil
}

// GetByName returns the user's shelf with the given name.
func GetByName(db sql.Executor, userID int64, name string) (*Shelf, error) {
	var shelf *Shelf
	rows, err := db.Exec(
		"select "+shelfColumns+" from shelves where user_id = ?1 and name = ?2;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, userID)
			stmt.BindText(2, name)
		}, func(stmt *sql.Statement) bool {
			shelf = decode(stmt)
			return true
		})
	if err != nil {
		return nil, fmt.Errorf("get shelf %s for user %d: %w", name, userID, err)
	} else if rows == 0 {
		return nil, fmt.Errorf("get shelf %s for user %d: %w", name, userID, sql.ErrNotFound)
	}
	return shelf, nil
}

// ByUser returns shelves owned by the user ordered by name, restricted to
// sync-enabled shelves when syncOnly is set.
func ByUser(db sql.Executor, userID int64, syncOnly bool) ([]*Shelf, error) {
	query := "select " + shelfColumns + " from shelves where user_id = ?1"
	if syncOnly {
		query += " and sync_enabled = 1"
	}
	var rst []*Shelf
	if _, err := db.Exec(query+" order by name collate nocase asc;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, userID)
		}, func(stmt *sql.Statement) bool {
			rst = append(rst, decode(stmt))
			return true
		}); err != nil {
		return nil, fmt.Errorf("shelves for user %d: %w", userID, err)
	}
	return rst, nil
}

// Rename updates the shelf name and bumps its modification timestamp.
func Rename(db sql.Executor, id int64, name string, when time.Time) error {
	rows, err := db.Exec("update shelves set name = ?2, modified = ?3 where id = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, id)
			stmt.BindText(2, name)
			stmt.BindInt64(3, when.Unix())
		}, nil)
	if err != nil {
		return fmt.Errorf("rename shelf %d: %w", id, err)
	} else if rows == 0 {
		return fmt.Errorf("rename shelf %d: %w", id, sql.ErrNotFound)
	}
	return nil
}

// SetSyncEnabled toggles device sync for a shelf and bumps its modification
// timestamp.
func SetSyncEnabled(db sql.Executor, id int64, enabled bool, when time.Time) error {
	v := int64(0)
	if enabled {
		v = 1
	}
	rows, err := db.Exec("update shelves set sync_enabled = ?2, modified = ?3 where id = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, id)
			stmt.BindInt64(2, v)
			stmt.BindInt64(3, when.Unix())
		}, nil)
	if err != nil {
		return fmt.Errorf("toggle shelf %d: %w", id, err)
	} else if rows == 0 {
		return fmt.Errorf("toggle shelf %d: %w", id, sql.ErrNotFound)
	}
	return nil
}

// SetPublic toggles shelf visibility to other users.
func SetPublic(db sql.Executor, id int64, public bool, when time.Time) error {
	v := int64(0)
	if public {
		v = 1
	}
	rows, err := db.Exec("update shelves set public = ?2, modified = ?3 where id = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, id)
			stmt.BindInt64(2, v)
			stmt.BindInt64(3, when.Unix())
		}, nil)
	if err != nil {
		return fmt.Errorf("set shelf %d public: %w", id, err)
	} else if rows == 0 {
		return fmt.Errorf("set shelf %d public: %w", id, sql.ErrNotFound)
	}
	return nil
}

// Delete removes a shelf with its membership and records a tombstone in the
// deletion archive.
func Delete(db sql.Executor, id int64, when time.Time) error {
	shelf, err := Get(db, id)
	if err != nil {
		return err
	}
	if _, err := db.Exec(
		"insert or replace into shelf_archive (user_id, uuid, deleted) values (?1, ?2, ?3);",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, shelf.UserID)
			stmt.BindText(2, shelf.UUID)
			stmt.BindInt64(3, when.Unix())
		}, nil,
	); err != nil {
		return fmt.Errorf("archive shelf %d: %w", id, err)
	}
	if _, err := db.Exec("delete from shelf_items where shelf_id = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, id)
		}, nil,
	); err != nil {
		return fmt.Errorf("clear shelf %d items: %w", id, err)
	}
	if _, err := db.Exec("delete from shelves where id = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, id)
		}, nil,
	); err != nil {
		return fmt.Errorf("delete shelf %d: %w", id, err)
	}
	return nil
}

// AddItem links a book to a shelf and bumps the shelf modification timestamp
// so the change is visible to the collection gate. Re-adding an existing
// member is a no-op; devices retry membership requests routinely.
func AddItem(db sql.Executor, shelfID, bookID int64, when time.Time) error {
	var position int64
	if _, err := db.Exec(
		"select coalesce(max(position), 0) + 1 from shelf_items where shelf_id = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, shelfID)
		}, func(stmt *sql.Statement) bool {
			position = stmt.ColumnInt64(0)
			return true
		}); err != nil {
		return fmt.Errorf("next position for shelf %d: %w", shelfID, err)
	}
	rows, err := db.Exec(
		`insert into shelf_items (shelf_id, book_id, added, position) values (?1, ?2, ?3, ?4)
		on conflict (shelf_id, book_id) do nothing;`,
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, shelfID)
			stmt.BindInt64(2, bookID)
			stmt.BindInt64(3, when.Unix())
			stmt.BindInt64(4, position)
		}, nil,
	)
	if err != nil {
		return fmt.Errorf("add book %d to shelf %d: %w", bookID, shelfID, err)
	}
	if rows == 0 {
		return nil
	}
	if _, err := db.Exec("update shelves set modified = ?2 where id = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, shelfID)
			stmt.BindInt64(2, when.Unix())
		}, nil,
	); err != nil {
		return fmt.Errorf("bump shelf %d: %w", shelfID, err)
	}
	return nil
}

// RemoveItem unlinks a book from a shelf and bumps the shelf modification
// timestamp so the change is visible to the collection gate.
func RemoveItem(db sql.Executor, shelfID, bookID int64, when time.Time) error {
	if _, err := db.Exec("delete from shelf_items where shelf_id = ?1 and book_id = ?2;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, shelfID)
			stmt.BindInt64(2, bookID)
		}, nil,
	); err != nil {
		return fmt.Errorf("remove book %d from shelf %d: %w", bookID, shelfID, err)
	}
	if _, err := db.Exec("update shelves set modified = ?2 where id = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, shelfID)
			stmt.BindInt64(2, when.Unix())
		}, nil,
	); err != nil {
		return fmt.Errorf("bump shelf %d: %w", shelfID, err)
	}
	return nil
}

// Items returns the membership of a shelf ordered by position.
func Items(db sql.Executor, shelfID int64) ([]Item, error) {
	var rst []Item
	if _, err := db.Exec(
		"select book_id, added, position from shelf_items where shelf_id = ?1 order by position asc, book_id asc;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, shelfID)
		}, func(stmt *sql.Statement) bool {
			rst = append(rst, Item{
				BookID:   stmt.ColumnInt64(0),
				Added:    time.Unix(stmt.ColumnInt64(1), 0).UTC(),
				Position: int(stmt.ColumnInt64(2)),
			})
			return true
		}); err != nil {
		return nil, fmt.Errorf("items of shelf %d: %w", shelfID, err)
	}
	return rst, nil
}

// HasItem reports whether a book is on a shelf.
func HasItem(db sql.Executor, shelfID, bookID int64) (bool, error) {
	rows, err := db.Exec("select 1 from shelf_items where shelf_id = ?1 and book_id = ?2;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, shelfID)
			stmt.BindInt64(2, bookID)
		}, nil)
	if err != nil {
		return false, fmt.Errorf("check book %d on shelf %d: %w", bookID, shelfID, err)
	}
	return rows > 0, nil
}

// LastAdded returns the latest membership timestamp across the user's shelves,
// restricted to sync-enabled shelves when syncOnly is set. Zero time when the
// user has no memberships.
func LastAdded(db sql.Executor, userID int64, syncOnly bool) (time.Time, error) {
	query := `
		select max(si.added) from shelf_items si
		join shelves s on s.id = si.shelf_id
		where s.user_id = ?1`
	if syncOnly {
		query += " and s.sync_enabled = 1"
	}
	var rst time.Time
	if _, err := db.Exec(query+";",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, userID)
		}, func(stmt *sql.Statement) bool {
			if !sql.IsNull(stmt, 0) {
				rst = time.Unix(stmt.ColumnInt64(0), 0).UTC()
			}
			return true
		}); err != nil {
		return time.Time{}, fmt.Errorf("last added for user %d: %w", userID, err)
	}
	return rst, nil
}

// Tombstones returns deletion records for the user newer than since.
func Tombstones(db sql.Executor, userID int64, since time.Time) ([]Tombstone, error) {
	var rst []Tombstone
	if _, err := db.Exec(
		"select uuid, deleted from shelf_archive where user_id = ?1 and deleted > ?2 order by deleted asc;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, userID)
			stmt.BindInt64(2, since.Unix())
		}, func(stmt *sql.Statement) bool {
			rst = append(rst, Tombstone{
				UUID:    stmt.ColumnText(0),
				Deleted: time.Unix(stmt.ColumnInt64(1), 0).UTC(),
			})
			return true
		}); err != nil {
		return nil, fmt.Errorf("tombstones for user %d: %w", userID, err)
	}
	return rst, nil
}

// ConsumeTombstone drops an emitted deletion record.
func ConsumeTombstone(db sql.Executor, userID int64, uuid string) error {
	if _, err := db.Exec("delete from shelf_archive where user_id = ?1 and uuid = ?2;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, userID)
			stmt.BindText(2, uuid)
		}, nil,
	); err != nil {
		return fmt.Errorf("consume tombstone %s for user %d: %w", uuid, userID, err)
	}
	return nil
}
