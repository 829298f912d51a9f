package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nolan/converse/internal/delta"
	"github.com/nolan/converse/internal/store"
	"github.com/nolan/converse/internal/vclock"
)

// Resolve resolves one detected conflict. The strategy chooses the
// resolved payload; both events are then marked resolved and a
// resolution event is appended atomically. The resolution event carries
// the merge of both clocks without an increment, so it dominates both
// sides and cannot re-conflict with them.
func (e *Engine) Resolve(ctx context.Context, conflictID string, strategy store.Strategy, resolution json.RawMessage) (*store.SyncEvent, error) {
	if !store.ValidStrategy(strategy) {
		return nil, fmt.Errorf("%w: unknown strategy %q", store.ErrValidation, strategy)
	}
	ids, ok := parseConflictID(conflictID)
	if !ok {
		return nil, fmt.Errorf("%w: malformed conflict id %q", store.ErrConflictNotFound, conflictID)
	}

	e1, err := e.events.ByID(ctx, ids[0])
	if err != nil {
		return nil, fmt.Errorf("load event %s: %w", ids[0], err)
	}
	e2, err := e.events.ByID(ctx, ids[1])
	if err != nil {
		return nil, fmt.Errorf("load event %s: %w", ids[1], err)
	}
	if e1 == nil || e2 == nil {
		return nil, store.ErrConflictNotFound
	}
	if e1.EntityType != e2.EntityType || e1.EntityID != e2.EntityID {
		return nil, store.ErrConflictNotFound
	}
	if e1.ConflictResolved || e2.ConflictResolved {
		return nil, store.ErrAlreadyResolved
	}
	if !e1.Clock.ConcurrentWith(e2.Clock) {
		return nil, store.ErrConflictNotFound
	}

	var payload json.RawMessage
	switch strategy {
	case store.StrategyLastWriteWins:
		payload = lastWriteWins(e1, e2).Payload
	case store.StrategyManual:
		if isEmptyJSON(resolution) {
			return nil, store.ErrMissingResolution
		}
		payload = resolution
	case store.StrategyMerge:
		payload, err = e.autoMerge(ctx, e1, e2)
		if err != nil {
			return nil, err
		}
	}

	resolved := &store.SyncEvent{
		DeviceID:   e1.DeviceID,
		UserID:     e1.UserID,
		EntityType: e1.EntityType,
		EntityID:   e1.EntityID,
		Operation:  store.OpUpdate,
		Payload:    payload,
		Clock:      e1.Clock.Merge(e2.Clock),
	}
	err = e.events.MarkResolvedAndAppend(ctx, [2]string{e1.ID, e2.ID}, strategy, resolved)
	if err != nil {
		return nil, err
	}

	e.log.Info("conflict resolved",
		"conflict_id", conflictID,
		"strategy", string(strategy),
		"resolution_event", resolved.ID,
		"entity", e1.EntityType+"/"+e1.EntityID)
	return resolved, nil
}

// lastWriteWins picks the event with the later server ingest time.
// Equal timestamps fall back to the lexicographically greater ID so
// both replicas of the decision agree.
func lastWriteWins(e1, e2 *store.SyncEvent) *store.SyncEvent {
	if e1.SyncedAt.After(e2.SyncedAt) {
		return e1
	}
	if e2.SyncedAt.After(e1.SyncedAt) {
		return e2
	}
	if e1.ID > e2.ID {
		return e1
	}
	return e2
}

// autoMerge three-way-merges both payloads against their common
// ancestor. Disagreeing paths abort with ErrAutoMergeFailed; the
// caller falls back to manual resolution.
func (e *Engine) autoMerge(ctx context.Context, e1, e2 *store.SyncEvent) (json.RawMessage, error) {
	base, err := e.findMergeBase(ctx, e1, e2)
	if err != nil {
		return nil, err
	}

	local, err := decodePayload(e1.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload of %s: %w", e1.ID, err)
	}
	remote, err := decodePayload(e2.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload of %s: %w", e2.ID, err)
	}

	merged, conflicts := delta.ThreeWayMerge(base, local, remote)
	if len(conflicts) > 0 {
		paths := make([]string, len(conflicts))
		for i, c := range conflicts {
			paths[i] = c.Path
		}
		return nil, fmt.Errorf("%w: conflicting paths %v", store.ErrAutoMergeFailed, paths)
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode merged payload: %w", err)
	}
	return out, nil
}

// findMergeBase returns the payload of the most recent event on the
// entity that happened before both conflict sides, or an empty object
// when no common ancestor exists.
func (e *Engine) findMergeBase(ctx context.Context, e1, e2 *store.SyncEvent) (any, error) {
	history, err := e.events.ByEntity(ctx, e1.EntityType, e1.EntityID)
	if err != nil {
		return nil, fmt.Errorf("entity history %s/%s: %w", e1.EntityType, e1.EntityID, err)
	}

	var base *store.SyncEvent
	for i := range history {
		ev := &history[i]
		if ev.ID == e1.ID || ev.ID == e2.ID {
			continue
		}
		if ev.Clock.Compare(e1.Clock) == vclock.Before && ev.Clock.Compare(e2.Clock) == vclock.Before {
			base = ev // history is ascending, keep the latest match
		}
	}
	if base == nil {
		return map[string]any{}, nil
	}
	v, err := decodePayload(base.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode base payload of %s: %w", base.ID, err)
	}
	if v == nil {
		return map[string]any{}, nil
	}
	return v, nil
}

func decodePayload(raw json.RawMessage) (any, error) {
	if isEmptyJSON(raw) {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
