package syncdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/nolan/converse/internal/store"
)

const deviceColumns = `id, user_id, name, kind, platform, active, last_sync_at, created_at`

// Insert adds a new device, assigning its ID and creation time.
// Returns store.ErrDuplicateDevice when an active device with the same
// name already exists for the user (enforced by a partial unique
// index, so concurrent registrations cannot race past the check).
func (db *DB) Insert(ctx context.Context, d *store.Device) error {
	d.ID = db.ids.NewID(store.DevicePrefix)
	d.CreatedAt = db.clock.Now().UTC()
	d.Active = true

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO devices (id, user_id, name, kind, platform, active, created_at)
		 VALUES (?, ?, ?, ?, ?, 1, ?)`,
		d.ID, d.UserID, d.Name, string(d.Kind), d.Platform, d.CreatedAt.UnixNano())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return store.ErrDuplicateDevice
		}
		return fmt.Errorf("insert device: %w", err)
	}
	return nil
}

// FindByID returns the device with the given ID, or nil.
func (db *DB) FindByID(ctx context.Context, id string) (*store.Device, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
	d, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("device by id %s: %w", id, err)
	}
	return d, nil
}

// FindActiveByUserName returns the user's active device with the given
// name, or nil.
func (db *DB) FindActiveByUserName(ctx context.Context, userID, name string) (*store.Device, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE user_id = ? AND name = ? AND active = 1`,
		userID, name)
	d, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("device by user/name %s/%s: %w", userID, name, err)
	}
	return d, nil
}

// ListForUser returns the user's devices ordered by last sync time,
// most recent first; never-synced devices sort last.
func (db *DB) ListForUser(ctx context.Context, userID string, activeOnly bool) ([]store.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE user_id = ?`
	if activeOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY last_sync_at DESC NULLS LAST, created_at DESC`

	rows, err := db.conn.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list devices for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []store.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// UpdateLastSync advances last_sync_at. Values earlier than the stored
// timestamp are clamped, so acknowledgments never move backwards.
func (db *DB) UpdateLastSync(ctx context.Context, id string, t time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE devices SET last_sync_at = MAX(COALESCE(last_sync_at, 0), ?) WHERE id = ?`,
		t.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("update last sync for %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrDeviceNotFound
	}
	return nil
}

// SetActive flips the active flag. Devices are never hard-deleted.
func (db *DB) SetActive(ctx context.Context, id string, active bool) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE devices SET active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("set active for %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrDeviceNotFound
	}
	return nil
}

func scanDevice(row rowScanner) (*store.Device, error) {
	var (
		d         store.Device
		kind      string
		active    int
		lastSync  sql.NullInt64
		createdAt int64
	)
	err := row.Scan(&d.ID, &d.UserID, &d.Name, &kind, &d.Platform, &active, &lastSync, &createdAt)
	if err != nil {
		return nil, err
	}
	d.Kind = store.DeviceKind(kind)
	d.Active = active != 0
	d.CreatedAt = time.Unix(0, createdAt).UTC()
	if lastSync.Valid {
		t := time.Unix(0, lastSync.Int64).UTC()
		d.LastSyncAt = &t
	}
	return &d, nil
}
