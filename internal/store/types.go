// Package store defines the persistence ports of the sync engine and
// the domain types that flow through them. Implementations live in
// internal/syncdb; the engine depends only on the interfaces here.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nolan/converse/internal/vclock"
)

// DeviceKind classifies a registered device.
type DeviceKind string

const (
	KindDesktop DeviceKind = "desktop"
	KindMobile  DeviceKind = "mobile"
	KindWeb     DeviceKind = "web"
)

// ValidKind reports whether k is a known device kind.
func ValidKind(k DeviceKind) bool {
	switch k {
	case KindDesktop, KindMobile, KindWeb:
		return true
	}
	return false
}

// Operation is the kind of mutation a sync event carries.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ValidOperation reports whether op is a known operation.
func ValidOperation(op Operation) bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Strategy is a conflict resolution strategy.
type Strategy string

const (
	StrategyLastWriteWins Strategy = "last_write_wins"
	StrategyManual        Strategy = "manual"
	StrategyMerge         Strategy = "merge"
)

// ValidStrategy reports whether s is a known strategy.
func ValidStrategy(s Strategy) bool {
	switch s {
	case StrategyLastWriteWins, StrategyManual, StrategyMerge:
		return true
	}
	return false
}

// Device is a registered endpoint of a user. Devices are soft-deleted
// so their IDs stay resolvable in historical vector clocks.
type Device struct {
	ID         string
	UserID     string
	Name       string
	Kind       DeviceKind
	Platform   string
	Active     bool
	LastSyncAt *time.Time
	CreatedAt  time.Time
}

// SyncEvent is one append-only entry in the per-user event log. The
// payload and clock never change after insert; ConflictResolved flips
// to true at most once when a resolution event is emitted.
type SyncEvent struct {
	ID                 string
	DeviceID           string // originating device
	UserID             string
	EntityType         string
	EntityID           string
	Operation          Operation
	Payload            json.RawMessage
	Clock              vclock.Clock
	SyncedAt           time.Time // server ingest time; LWW tiebreak only
	ConflictResolved   bool
	ResolutionStrategy Strategy // empty until resolved
}

// Conflict is a derived (never persisted) pair of concurrent
// unresolved events on the same entity.
type Conflict struct {
	ID         string
	EntityType string
	EntityID   string
	Events     [2]SyncEvent
	DetectedAt time.Time
}

// Involves reports whether either side of the conflict originated from
// the given device.
func (c Conflict) Involves(deviceID string) bool {
	return c.Events[0].DeviceID == deviceID || c.Events[1].DeviceID == deviceID
}

// EventStore is the append-mostly event log. Append assigns the event
// ID and ingest timestamp. Implementations must not cache events
// across calls; the log is the ground truth.
type EventStore interface {
	Append(ctx context.Context, ev *SyncEvent) error
	ByID(ctx context.Context, id string) (*SyncEvent, error)
	ByEntity(ctx context.Context, entityType, entityID string) ([]SyncEvent, error)
	// ByDeviceSince returns the events of the device's user ingested
	// after t, ascending. This is the pull feed for a sync session.
	ByDeviceSince(ctx context.Context, deviceID string, since time.Time) ([]SyncEvent, error)
	CountByDeviceSince(ctx context.Context, deviceID string, since time.Time) (int64, error)
	// LatestByOrigin returns the most recently ingested event
	// originated by the device, or nil.
	LatestByOrigin(ctx context.Context, deviceID string) (*SyncEvent, error)
	UnresolvedForUser(ctx context.Context, userID string) ([]SyncEvent, error)
	CountForUser(ctx context.Context, userID string) (int64, error)
	MarkResolved(ctx context.Context, ids []string, strategy Strategy) error
	// MarkResolvedAndAppend atomically marks both events resolved and
	// appends the resolution event. Returns ErrAlreadyResolved if
	// either event was resolved concurrently.
	MarkResolvedAndAppend(ctx context.Context, ids [2]string, strategy Strategy, resolution *SyncEvent) error
	// DeleteResolvedBefore purges resolved events ingested before the
	// cutoff. Empty deviceID purges across all devices.
	DeleteResolvedBefore(ctx context.Context, deviceID string, cutoff time.Time) (int64, error)
}

// DeviceStore is the device registry backing store. Lookups return
// (nil, nil) when no row matches.
type DeviceStore interface {
	Insert(ctx context.Context, d *Device) error
	FindByID(ctx context.Context, id string) (*Device, error)
	FindActiveByUserName(ctx context.Context, userID, name string) (*Device, error)
	ListForUser(ctx context.Context, userID string, activeOnly bool) ([]Device, error)
	// UpdateLastSync advances last_sync_at; earlier values are
	// silently clamped to the stored one.
	UpdateLastSync(ctx context.Context, id string, t time.Time) error
	SetActive(ctx context.Context, id string, active bool) error
}

// Clock supplies the current time. Injected so tests are deterministic.
type Clock interface {
	Now() time.Time
}

// IDGen produces collision-resistant opaque IDs with a type prefix.
type IDGen interface {
	NewID(prefix string) string
}
