package api

import (
	"encoding/json"
	"time"

	"github.com/nolan/converse/internal/engine"
	"github.com/nolan/converse/internal/store"
	"github.com/nolan/converse/internal/vclock"
)

// Wire representations. Timestamps marshal as RFC 3339 UTC.

type deviceJSON struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Name       string     `json:"name"`
	Kind       string     `json:"kind"`
	Platform   string     `json:"platform,omitempty"`
	Active     bool       `json:"active"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func toDeviceJSON(d *store.Device) deviceJSON {
	return deviceJSON{
		ID:         d.ID,
		UserID:     d.UserID,
		Name:       d.Name,
		Kind:       string(d.Kind),
		Platform:   d.Platform,
		Active:     d.Active,
		LastSyncAt: d.LastSyncAt,
		CreatedAt:  d.CreatedAt,
	}
}

type eventJSON struct {
	ID                 string          `json:"id"`
	DeviceID           string          `json:"device_id"`
	UserID             string          `json:"user_id"`
	EntityType         string          `json:"entity_type"`
	EntityID           string          `json:"entity_id"`
	Operation          string          `json:"operation"`
	Payload            json.RawMessage `json:"payload"`
	VectorClock        vclock.Clock    `json:"vector_clock"`
	SyncedAt           time.Time       `json:"synced_at"`
	ConflictResolved   bool            `json:"conflict_resolved"`
	ResolutionStrategy string          `json:"resolution_strategy,omitempty"`
}

func toEventJSON(ev *store.SyncEvent) eventJSON {
	payload := ev.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return eventJSON{
		ID:                 ev.ID,
		DeviceID:           ev.DeviceID,
		UserID:             ev.UserID,
		EntityType:         ev.EntityType,
		EntityID:           ev.EntityID,
		Operation:          string(ev.Operation),
		Payload:            payload,
		VectorClock:        ev.Clock,
		SyncedAt:           ev.SyncedAt,
		ConflictResolved:   ev.ConflictResolved,
		ResolutionStrategy: string(ev.ResolutionStrategy),
	}
}

func toEventList(events []store.SyncEvent) []eventJSON {
	out := make([]eventJSON, len(events))
	for i := range events {
		out[i] = toEventJSON(&events[i])
	}
	return out
}

type conflictJSON struct {
	ID         string       `json:"id"`
	EntityType string       `json:"entity_type"`
	EntityID   string       `json:"entity_id"`
	Events     [2]eventJSON `json:"events"`
	DetectedAt time.Time    `json:"detected_at"`
}

func toConflictJSON(c store.Conflict) conflictJSON {
	return conflictJSON{
		ID:         c.ID,
		EntityType: c.EntityType,
		EntityID:   c.EntityID,
		Events:     [2]eventJSON{toEventJSON(&c.Events[0]), toEventJSON(&c.Events[1])},
		DetectedAt: c.DetectedAt,
	}
}

func toConflictList(conflicts []store.Conflict) []conflictJSON {
	out := make([]conflictJSON, len(conflicts))
	for i, c := range conflicts {
		out[i] = toConflictJSON(c)
	}
	return out
}

type statusJSON struct {
	DeviceID     string         `json:"device_id"`
	Active       bool           `json:"active"`
	LastSyncAt   *time.Time     `json:"last_sync_at,omitempty"`
	PendingCount int64          `json:"pending_count"`
	Conflicts    []conflictJSON `json:"conflicts"`
	VectorClock  vclock.Clock   `json:"vector_clock"`
	Healthy      bool           `json:"healthy"`
}

type statsJSON struct {
	UserID              string               `json:"user_id"`
	Devices             int                  `json:"devices"`
	ActiveDevices       int                  `json:"active_devices"`
	Events              int64                `json:"events"`
	UnresolvedConflicts int                  `json:"unresolved_conflicts"`
	LastSyncAt          *time.Time           `json:"last_sync_at,omitempty"`
	PerDevice           []deviceActivityJSON `json:"per_device"`
}

type deviceActivityJSON struct {
	DeviceID   string     `json:"device_id"`
	Name       string     `json:"name"`
	Kind       string     `json:"kind"`
	Active     bool       `json:"active"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
}

func toStatsJSON(st *engine.Stats) statsJSON {
	out := statsJSON{
		UserID:              st.UserID,
		Devices:             st.Devices,
		ActiveDevices:       st.ActiveDevices,
		Events:              st.Events,
		UnresolvedConflicts: st.UnresolvedConflicts,
		LastSyncAt:          st.LastSyncAt,
		PerDevice:           make([]deviceActivityJSON, 0, len(st.PerDevice)),
	}
	for _, d := range st.PerDevice {
		out.PerDevice = append(out.PerDevice, deviceActivityJSON{
			DeviceID:   d.DeviceID,
			Name:       d.Name,
			Kind:       string(d.Kind),
			Active:     d.Active,
			LastSyncAt: d.LastSyncAt,
		})
	}
	return out
}
