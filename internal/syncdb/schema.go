package syncdb

// SchemaVersion is the current database schema version.
const SchemaVersion = 2

// Timestamps are stored as INTEGER unix nanoseconds so range scans and
// MAX() comparisons order correctly regardless of driver formatting.
const schema = `
-- Device registry
CREATE TABLE IF NOT EXISTS devices (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL,
    kind TEXT NOT NULL CHECK(kind IN ('desktop', 'mobile', 'web')),
    platform TEXT NOT NULL DEFAULT '',
    active INTEGER NOT NULL DEFAULT 1,
    last_sync_at INTEGER,
    created_at INTEGER NOT NULL
);

-- One active device name per user; deactivated rows free the name.
CREATE UNIQUE INDEX IF NOT EXISTS idx_devices_user_name_active
    ON devices(user_id, name) WHERE active = 1;
CREATE INDEX IF NOT EXISTS idx_devices_user ON devices(user_id);

-- Append-only sync event log
CREATE TABLE IF NOT EXISTS sync_events (
    id TEXT PRIMARY KEY,
    device_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    operation TEXT NOT NULL CHECK(operation IN ('create', 'update', 'delete')),
    payload JSON NOT NULL,
    vector_clock JSON NOT NULL,
    synced_at INTEGER NOT NULL,
    conflict_resolved INTEGER NOT NULL DEFAULT 0,
    resolution_strategy TEXT,
    FOREIGN KEY (device_id) REFERENCES devices(id)
);

CREATE INDEX IF NOT EXISTS idx_events_entity ON sync_events(entity_type, entity_id);
CREATE INDEX IF NOT EXISTS idx_events_device_time ON sync_events(device_id, synced_at);
CREATE INDEX IF NOT EXISTS idx_events_user_time ON sync_events(user_id, synced_at);
CREATE INDEX IF NOT EXISTS idx_events_unresolved ON sync_events(user_id, conflict_resolved);

-- Schema info table
CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Migration defines a database migration.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations is the list of all database migrations in order.
var Migrations = []Migration{
	// Version 1 is the initial schema - no migration needed
	{
		Version:     2,
		Description: "Add resolved-events maintenance index",
		SQL: `CREATE INDEX IF NOT EXISTS idx_events_resolved_time
			ON sync_events(conflict_resolved, synced_at);`,
	},
}
