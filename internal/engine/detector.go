package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/nolan/converse/internal/store"
)

// DetectConflicts finds every unordered pair of unresolved events on
// the same entity whose vector clocks are concurrent. All pairs are
// surfaced; resolving one pair never hides another.
func (e *Engine) DetectConflicts(events []store.SyncEvent) []store.Conflict {
	type entityKey struct {
		entityType string
		entityID   string
	}
	buckets := make(map[entityKey][]store.SyncEvent)
	for _, ev := range events {
		if ev.ConflictResolved {
			continue
		}
		k := entityKey{ev.EntityType, ev.EntityID}
		buckets[k] = append(buckets[k], ev)
	}

	now := e.clock.Now().UTC()
	var conflicts []store.Conflict
	for k, evs := range buckets {
		for i := 0; i < len(evs); i++ {
			for j := i + 1; j < len(evs); j++ {
				if !evs[i].Clock.ConcurrentWith(evs[j].Clock) {
					continue
				}
				a, b := evs[i], evs[j]
				if a.ID > b.ID {
					a, b = b, a
				}
				conflicts = append(conflicts, store.Conflict{
					ID:         conflictID(a.ID, b.ID),
					EntityType: k.entityType,
					EntityID:   k.entityID,
					Events:     [2]store.SyncEvent{a, b},
					DetectedAt: now,
				})
			}
		}
	}
	return conflicts
}

// UnresolvedConflicts detects conflicts across the user's entire
// unresolved event set.
func (e *Engine) UnresolvedConflicts(ctx context.Context, userID string) ([]store.Conflict, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", store.ErrValidation)
	}
	events, err := e.events.UnresolvedForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("unresolved events for %s: %w", userID, err)
	}
	return e.DetectConflicts(events), nil
}

// conflictID joins the two event IDs, lexicographically smaller first.
// Event IDs contain no hyphen, so the pair splits back unambiguously.
func conflictID(a, b string) string {
	return a + "-" + b
}

func parseConflictID(id string) ([2]string, bool) {
	parts := strings.Split(id, "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return [2]string{}, false
	}
	return [2]string{parts[0], parts[1]}, true
}
