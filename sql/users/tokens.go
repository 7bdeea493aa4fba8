package users

import (
	"fmt"
	"time"

	"github.com/binderyhq/bindery/sql"
)

// DeviceToken authenticates one device for one user. The token value is the
// opaque string embedded in the device's API base URL.
type DeviceToken struct {
	Token    string
	UserID   int64
	DeviceID string
	Created  time.Time
	LastSeen time.Time
}

// AddToken registers a device token.
func AddToken(db sql.Executor, token *DeviceToken) error {
	if _, err := db.Exec(`
		insert into device_tokens (token, user_id, device_id, created, last_seen)
		values (?1, ?2, ?3, ?4, ?4);`,
		func(stmt *sql.Statement) {
			stmt.BindText(1, token.Token)
			stmt.BindInt64(2, token.UserID)
			stmt.BindText(3, token.DeviceID)
			stmt.BindInt64(4, token.Created.Unix())
		}, nil,
	); err != nil {
		return fmt.Errorf("add device token for user %d: %w", token.UserID, err)
	}
	return nil
}

// GetToken resolves a token value to its owning user and device.
func GetToken(db sql.Executor, token string) (*DeviceToken, error) {
	var dt *DeviceToken
	rows, err := db.Exec(`
		select token, user_id, device_id, created, last_seen
		from device_tokens where token = ?1;`,
		func(stmt *sql.Statement) {
			stmt.BindText(1, token)
		}, func(stmt *sql.Statement) bool {
			dt = &DeviceToken{
				Token:    stmt.ColumnText(0),
				UserID:   stmt.ColumnInt64(1),
				DeviceID: stmt.ColumnText(2),
				Created:  time.Unix(stmt.ColumnInt64(3), 0).UTC(),
				LastSeen: time.Unix(stmt.ColumnInt64(4), 0).UTC(),
			}
			return true
		})
	if err != nil {
		return nil, fmt.Errorf("get device token: %w", err)
	} else if rows == 0 {
		return nil, fmt.Errorf("get device token: %w", sql.ErrNotFound)
	}
	return dt, nil
}

// TouchToken records that the token was used.
func TouchToken(db sql.Executor, token string, when time.Time) error {
	if _, err := db.Exec("update device_tokens set last_seen = ?2 where token = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindText(1, token)
			stmt.BindInt64(2, when.Unix())
		}, nil,
	); err != nil {
		return fmt.Errorf("touch device token: %w", err)
	}
	return nil
}

// DeleteToken revokes a device token.
func DeleteToken(db sql.Executor, token string) error {
	if _, err := db.Exec("delete from device_tokens where token = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindText(1, token)
		}, nil,
	); err != nil {
		return fmt.Errorf("delete device token: %w", err)
	}
	return nil
}
