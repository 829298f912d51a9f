package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nolan/converse/internal/store"
	"github.com/nolan/converse/internal/vclock"
)

// epoch is the feed floor for devices that have never completed a
// sync. The zero time has no defined UnixNano, so it cannot be handed
// to the store directly.
var epoch = time.Unix(0, 0).UTC()

// EventInput is a device-originated mutation to record.
type EventInput struct {
	DeviceID   string
	EntityType string
	EntityID   string
	Operation  store.Operation
	Payload    json.RawMessage
	Clock      vclock.Clock
}

// SyncSession is the server's answer to a sync initiation: everything
// the device has not seen yet, plus its current clock.
type SyncSession struct {
	Device  *store.Device
	Pending []store.SyncEvent
	Clock   vclock.Clock
}

// Status summarizes one device's sync state.
type Status struct {
	DeviceID     string
	Active       bool
	LastSyncAt   *time.Time
	PendingCount int64
	Conflicts    []store.Conflict
	Clock        vclock.Clock
	Healthy      bool
}

// Stats aggregates a user's sync activity.
type Stats struct {
	UserID              string
	Devices             int
	ActiveDevices       int
	Events              int64
	UnresolvedConflicts int
	LastSyncAt          *time.Time
	PerDevice           []DeviceActivity
}

// DeviceActivity is the per-device slice of Stats.
type DeviceActivity struct {
	DeviceID   string
	Name       string
	Kind       store.DeviceKind
	Active     bool
	LastSyncAt *time.Time
}

// BatchError ties a failure to the index of the event that caused it.
type BatchError struct {
	Index int
	Err   error
}

// BatchResult reports how far a batch got. Recorded events stay
// recorded even when later ones fail.
type BatchResult struct {
	Recorded int
	Events   []store.SyncEvent
	Errors   []BatchError
}

// InitiateSync starts a sync session: the device receives every event
// of its user it has not acknowledged, its own included, and its
// current vector clock.
func (e *Engine) InitiateSync(ctx context.Context, deviceID string) (*SyncSession, error) {
	dev, err := e.activeDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	since := epoch
	if dev.LastSyncAt != nil {
		since = *dev.LastSyncAt
	}
	pending, err := e.events.ByDeviceSince(ctx, deviceID, since)
	if err != nil {
		return nil, fmt.Errorf("pending events for %s: %w", deviceID, err)
	}

	clock, err := e.currentClock(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	e.log.Info("sync initiated",
		"device_id", deviceID, "user_id", dev.UserID, "pending", len(pending))
	return &SyncSession{Device: dev, Pending: pending, Clock: clock}, nil
}

// CompleteSync acknowledges that the device has applied events up to
// the given ingest time. Idempotent; stale acknowledgments are clamped
// by the store.
func (e *Engine) CompleteSync(ctx context.Context, deviceID string, syncedUpTo time.Time) error {
	if syncedUpTo.IsZero() {
		return fmt.Errorf("%w: synced_up_to is required", store.ErrValidation)
	}
	if err := e.devices.UpdateLastSync(ctx, deviceID, syncedUpTo); err != nil {
		return err
	}
	e.log.Info("sync completed", "device_id", deviceID, "synced_up_to", syncedUpTo)
	return nil
}

// RecordEvent appends one device-originated event to the log. The
// device's own counter in the clock must strictly exceed its counter
// in the device's latest event; anything else is a replay or an
// out-of-order push. A conflict scan of the touched entity runs after
// the append; its findings are logged, never returned as errors.
func (e *Engine) RecordEvent(ctx context.Context, in EventInput) (*store.SyncEvent, error) {
	unlock := e.lockDevice(in.DeviceID)
	defer unlock()
	return e.recordLocked(ctx, in)
}

func (e *Engine) recordLocked(ctx context.Context, in EventInput) (*store.SyncEvent, error) {
	if in.EntityType == "" || in.EntityID == "" {
		return nil, fmt.Errorf("%w: entity_type and entity_id are required", store.ErrValidation)
	}
	if !store.ValidOperation(in.Operation) {
		return nil, fmt.Errorf("%w: unknown operation %q", store.ErrValidation, in.Operation)
	}

	dev, err := e.activeDevice(ctx, in.DeviceID)
	if err != nil {
		return nil, err
	}

	if in.Clock == nil {
		return nil, fmt.Errorf("%w: vector clock is required", store.ErrInvalidVectorClock)
	}
	if err := in.Clock.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidVectorClock, err)
	}

	latest, err := e.events.LatestByOrigin(ctx, in.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("latest event for %s: %w", in.DeviceID, err)
	}
	if latest != nil && in.Clock.Get(in.DeviceID) <= latest.Clock.Get(in.DeviceID) {
		return nil, fmt.Errorf("%w: counter %d for %s does not advance past %d",
			store.ErrStaleDeviceCounter,
			in.Clock.Get(in.DeviceID), in.DeviceID, latest.Clock.Get(in.DeviceID))
	}

	ev := &store.SyncEvent{
		DeviceID:   in.DeviceID,
		UserID:     dev.UserID,
		EntityType: in.EntityType,
		EntityID:   in.EntityID,
		Operation:  in.Operation,
		Payload:    in.Payload,
		Clock:      in.Clock,
	}
	if err := e.events.Append(ctx, ev); err != nil {
		return nil, err
	}

	e.scanEntity(ctx, ev)
	return ev, nil
}

// scanEntity runs conflict detection on one entity after an append.
// Detection failures are logged; the append already succeeded.
func (e *Engine) scanEntity(ctx context.Context, ev *store.SyncEvent) {
	history, err := e.events.ByEntity(ctx, ev.EntityType, ev.EntityID)
	if err != nil {
		e.log.Warn("conflict scan failed",
			"entity", ev.EntityType+"/"+ev.EntityID, "error", err)
		return
	}
	for _, c := range e.DetectConflicts(history) {
		if !c.Involves(ev.DeviceID) {
			continue
		}
		e.log.Warn("concurrent modification detected",
			"conflict_id", c.ID,
			"entity", c.EntityType+"/"+c.EntityID,
			"devices", []string{c.Events[0].DeviceID, c.Events[1].DeviceID})
	}
}

// BatchRecord records many events in order, in chunks of BatchSize.
// Each failure is reported with the index of the offending event;
// events recorded before a failure stay recorded.
func (e *Engine) BatchRecord(ctx context.Context, inputs []EventInput) (*BatchResult, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: empty batch", store.ErrValidation)
	}

	res := &BatchResult{}
	for start := 0; start < len(inputs); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(inputs) {
			end = len(inputs)
		}
		for i := start; i < end; i++ {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			ev, err := e.RecordEvent(ctx, inputs[i])
			if err != nil {
				res.Errors = append(res.Errors, BatchError{Index: i, Err: err})
				continue
			}
			res.Recorded++
			res.Events = append(res.Events, *ev)
		}
		e.log.Debug("batch chunk processed",
			"from", start, "to", end, "recorded", res.Recorded, "failed", len(res.Errors))
	}
	return res, nil
}

// SyncStatus reports a device's sync health. A device is healthy when
// it is active, no unresolved conflict involves it, and it completed a
// sync within the configured window.
func (e *Engine) SyncStatus(ctx context.Context, deviceID string) (*Status, error) {
	dev, err := e.devices.FindByID(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("find device %s: %w", deviceID, err)
	}
	if dev == nil {
		return nil, store.ErrDeviceNotFound
	}

	since := epoch
	if dev.LastSyncAt != nil {
		since = *dev.LastSyncAt
	}
	pending, err := e.events.CountByDeviceSince(ctx, deviceID, since)
	if err != nil {
		return nil, fmt.Errorf("pending count for %s: %w", deviceID, err)
	}

	all, err := e.UnresolvedConflicts(ctx, dev.UserID)
	if err != nil {
		return nil, err
	}
	var involved []store.Conflict
	for _, c := range all {
		if c.Involves(deviceID) {
			involved = append(involved, c)
		}
	}

	clock, err := e.currentClock(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	healthy := dev.Active && len(involved) == 0 &&
		dev.LastSyncAt != nil &&
		e.clock.Now().Sub(*dev.LastSyncAt) <= e.cfg.HealthySyncWindow

	return &Status{
		DeviceID:     deviceID,
		Active:       dev.Active,
		LastSyncAt:   dev.LastSyncAt,
		PendingCount: pending,
		Conflicts:    involved,
		Clock:        clock,
		Healthy:      healthy,
	}, nil
}

// Statistics aggregates sync activity across all of a user's devices.
func (e *Engine) Statistics(ctx context.Context, userID string) (*Stats, error) {
	devices, err := e.ListDevices(ctx, userID, false)
	if err != nil {
		return nil, err
	}
	total, err := e.events.CountForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count events for %s: %w", userID, err)
	}
	conflicts, err := e.UnresolvedConflicts(ctx, userID)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		UserID:              userID,
		Devices:             len(devices),
		Events:              total,
		UnresolvedConflicts: len(conflicts),
	}
	for _, d := range devices {
		if d.Active {
			stats.ActiveDevices++
		}
		if d.LastSyncAt != nil &&
			(stats.LastSyncAt == nil || d.LastSyncAt.After(*stats.LastSyncAt)) {
			t := *d.LastSyncAt
			stats.LastSyncAt = &t
		}
		stats.PerDevice = append(stats.PerDevice, DeviceActivity{
			DeviceID:   d.ID,
			Name:       d.Name,
			Kind:       d.Kind,
			Active:     d.Active,
			LastSyncAt: d.LastSyncAt,
		})
	}
	return stats, nil
}

// PurgeResolved deletes resolved events ingested before the cutoff.
// Empty deviceID purges across all devices.
func (e *Engine) PurgeResolved(ctx context.Context, deviceID string, cutoff time.Time) (int64, error) {
	n, err := e.events.DeleteResolvedBefore(ctx, deviceID, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.log.Info("purged resolved events", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

func (e *Engine) activeDevice(ctx context.Context, deviceID string) (*store.Device, error) {
	dev, err := e.devices.FindByID(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("find device %s: %w", deviceID, err)
	}
	if dev == nil {
		return nil, store.ErrDeviceNotFound
	}
	if !dev.Active {
		return nil, store.ErrDeviceInactive
	}
	return dev, nil
}

// currentClock is the clock of the device's latest event, or a fresh
// clock at zero for a device that has not recorded anything.
func (e *Engine) currentClock(ctx context.Context, deviceID string) (vclock.Clock, error) {
	latest, err := e.events.LatestByOrigin(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("latest event for %s: %w", deviceID, err)
	}
	if latest == nil {
		return vclock.New(deviceID), nil
	}
	return latest.Clock, nil
}
