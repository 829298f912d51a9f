package syncdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nolan/converse/internal/store"
	"github.com/nolan/converse/internal/vclock"
)

const eventColumns = `id, device_id, user_id, entity_type, entity_id, operation,
	payload, vector_clock, synced_at, conflict_resolved, resolution_strategy`

// Append inserts the event, assigning its ID and ingest timestamp.
func (db *DB) Append(ctx context.Context, ev *store.SyncEvent) error {
	ev.ID = db.ids.NewID(store.EventPrefix)
	ev.SyncedAt = db.clock.Now().UTC()

	clockJSON, err := marshalClock(ev.Clock)
	if err != nil {
		return err
	}

	payload := ev.Payload
	if len(payload) == 0 {
		payload = []byte("null")
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO sync_events (id, device_id, user_id, entity_type, entity_id, operation,
		 payload, vector_clock, synced_at, conflict_resolved, resolution_strategy)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.DeviceID, ev.UserID, ev.EntityType, ev.EntityID, string(ev.Operation),
		string(payload), clockJSON, ev.SyncedAt.UnixNano(),
		boolToInt(ev.ConflictResolved), nullableStrategy(ev.ResolutionStrategy),
	)
	if err != nil {
		return fmt.Errorf("append event %s: %w", ev.ID, err)
	}
	return nil
}

// ByID returns the event with the given ID, or nil.
func (db *DB) ByID(ctx context.Context, id string) (*store.SyncEvent, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM sync_events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("event by id %s: %w", id, err)
	}
	return ev, nil
}

// ByEntity returns all events for one entity, oldest first.
func (db *DB) ByEntity(ctx context.Context, entityType, entityID string) ([]store.SyncEvent, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM sync_events
		 WHERE entity_type = ? AND entity_id = ?
		 ORDER BY synced_at ASC, id ASC`,
		entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("events by entity %s/%s: %w", entityType, entityID, err)
	}
	return collectEvents(rows)
}

// ByDeviceSince returns the device's user's events ingested after
// since, oldest first. The device's own events are included so a fresh
// device replays the full history.
func (db *DB) ByDeviceSince(ctx context.Context, deviceID string, since time.Time) ([]store.SyncEvent, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM sync_events
		 WHERE user_id = (SELECT user_id FROM devices WHERE id = ?) AND synced_at > ?
		 ORDER BY synced_at ASC, id ASC`,
		deviceID, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("events for device %s: %w", deviceID, err)
	}
	return collectEvents(rows)
}

// CountByDeviceSince counts what ByDeviceSince would return.
func (db *DB) CountByDeviceSince(ctx context.Context, deviceID string, since time.Time) (int64, error) {
	var n int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_events
		 WHERE user_id = (SELECT user_id FROM devices WHERE id = ?) AND synced_at > ?`,
		deviceID, since.UnixNano()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events for device %s: %w", deviceID, err)
	}
	return n, nil
}

// LatestByOrigin returns the newest event originated by the device, or nil.
func (db *DB) LatestByOrigin(ctx context.Context, deviceID string) (*store.SyncEvent, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM sync_events
		 WHERE device_id = ?
		 ORDER BY synced_at DESC, id DESC LIMIT 1`,
		deviceID)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest event for device %s: %w", deviceID, err)
	}
	return ev, nil
}

// UnresolvedForUser returns the user's unresolved events, oldest first.
func (db *DB) UnresolvedForUser(ctx context.Context, userID string) ([]store.SyncEvent, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM sync_events
		 WHERE user_id = ? AND conflict_resolved = 0
		 ORDER BY synced_at ASC, id ASC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("unresolved events for user %s: %w", userID, err)
	}
	return collectEvents(rows)
}

// CountForUser counts all events for a user.
func (db *DB) CountForUser(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_events WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events for user %s: %w", userID, err)
	}
	return n, nil
}

// MarkResolved flips conflict_resolved for the given events. Events
// already resolved keep their original strategy.
func (db *DB) MarkResolved(ctx context.Context, ids []string, strategy store.Strategy) error {
	for _, id := range ids {
		_, err := db.conn.ExecContext(ctx,
			`UPDATE sync_events SET conflict_resolved = 1, resolution_strategy = ?
			 WHERE id = ? AND conflict_resolved = 0`,
			string(strategy), id)
		if err != nil {
			return fmt.Errorf("mark resolved %s: %w", id, err)
		}
	}
	return nil
}

// MarkResolvedAndAppend atomically resolves both events and appends
// the resolution event. The update carries an expected-unresolved
// guard, so a concurrent resolution of either side aborts the whole
// transaction with ErrAlreadyResolved.
func (db *DB) MarkResolvedAndAppend(ctx context.Context, ids [2]string, strategy store.Strategy, resolution *store.SyncEvent) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin resolve tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE sync_events SET conflict_resolved = 1, resolution_strategy = ?
		 WHERE id IN (?, ?) AND conflict_resolved = 0`,
		string(strategy), ids[0], ids[1])
	if err != nil {
		return fmt.Errorf("mark resolved: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 2 {
		return store.ErrAlreadyResolved
	}

	resolution.ID = db.ids.NewID(store.EventPrefix)
	resolution.SyncedAt = db.clock.Now().UTC()

	clockJSON, err := marshalClock(resolution.Clock)
	if err != nil {
		return err
	}
	payload := resolution.Payload
	if len(payload) == 0 {
		payload = []byte("null")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sync_events (id, device_id, user_id, entity_type, entity_id, operation,
		 payload, vector_clock, synced_at, conflict_resolved, resolution_strategy)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL)`,
		resolution.ID, resolution.DeviceID, resolution.UserID,
		resolution.EntityType, resolution.EntityID, string(resolution.Operation),
		string(payload), clockJSON, resolution.SyncedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("append resolution event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit resolve: %w", err)
	}
	return nil
}

// DeleteResolvedBefore purges resolved events ingested before the
// cutoff. Empty deviceID purges across all devices.
func (db *DB) DeleteResolvedBefore(ctx context.Context, deviceID string, cutoff time.Time) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if deviceID != "" {
		res, err = db.conn.ExecContext(ctx,
			`DELETE FROM sync_events WHERE conflict_resolved = 1 AND device_id = ? AND synced_at < ?`,
			deviceID, cutoff.UnixNano())
	} else {
		res, err = db.conn.ExecContext(ctx,
			`DELETE FROM sync_events WHERE conflict_resolved = 1 AND synced_at < ?`,
			cutoff.UnixNano())
	}
	if err != nil {
		return 0, fmt.Errorf("delete resolved events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// --- scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*store.SyncEvent, error) {
	var (
		ev        store.SyncEvent
		op        string
		payload   string
		clockJSON string
		syncedAt  int64
		resolved  int
		strategy  sql.NullString
	)
	err := row.Scan(&ev.ID, &ev.DeviceID, &ev.UserID, &ev.EntityType, &ev.EntityID, &op,
		&payload, &clockJSON, &syncedAt, &resolved, &strategy)
	if err != nil {
		return nil, err
	}

	ev.Operation = store.Operation(op)
	ev.Payload = []byte(payload)
	ev.SyncedAt = time.Unix(0, syncedAt).UTC()
	ev.ConflictResolved = resolved != 0
	if strategy.Valid {
		ev.ResolutionStrategy = store.Strategy(strategy.String)
	}

	clock, err := vclock.Parse([]byte(clockJSON))
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", ev.ID, err)
	}
	ev.Clock = clock
	return &ev, nil
}

func collectEvents(rows *sql.Rows) ([]store.SyncEvent, error) {
	defer rows.Close()
	var out []store.SyncEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

func marshalClock(c vclock.Clock) (string, error) {
	if c == nil {
		c = vclock.Clock{}
	}
	if err := c.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", store.ErrInvalidVectorClock, err)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal vector clock: %w", err)
	}
	return string(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableStrategy(s store.Strategy) any {
	if s == "" {
		return nil
	}
	return string(s)
}
