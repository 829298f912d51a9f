package syncclient

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nolan/converse/internal/api"
	"github.com/nolan/converse/internal/engine"
	"github.com/nolan/converse/internal/store"
	"github.com/nolan/converse/internal/syncdb"
)

// newTestClient serves the real API over an in-memory database and
// returns a Client pointed at it.
func newTestClient(t *testing.T, modCfg func(*api.Config)) *Client {
	t.Helper()

	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	db, err := syncdb.NewWithConn(conn, store.SystemClock{}, store.RandIDGen{})
	if err != nil {
		t.Fatalf("init db: %v", err)
	}

	cfg := api.Config{ListenAddr: ":0"}
	if modCfg != nil {
		modCfg(&cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(db, db, store.SystemClock{}, logger, engine.Config{})

	srv, err := api.NewServer(cfg, db, eng)
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	key := ""
	if len(cfg.APIKeys) > 0 {
		key = cfg.APIKeys[0]
	}
	return New(ts.URL, key)
}

func TestClientSyncFlow(t *testing.T) {
	c := newTestClient(t, nil)

	if _, err := c.HealthCheck(); err != nil {
		t.Fatalf("health: %v", err)
	}

	reg1, err := c.RegisterDevice("u1", "laptop", "desktop", "linux")
	if err != nil {
		t.Fatalf("register d1: %v", err)
	}
	d1 := reg1.Device.ID
	if reg1.VectorClock[d1] != 0 {
		t.Fatalf("initial clock: %v", reg1.VectorClock)
	}
	reg2, err := c.RegisterDevice("u1", "phone", "mobile", "ios")
	if err != nil {
		t.Fatalf("register d2: %v", err)
	}
	d2 := reg2.Device.ID

	ev, err := c.RecordEvent(EventInput{
		DeviceID:    d1,
		EntityType:  "message",
		EntityID:    "m1",
		Operation:   "create",
		Payload:     json.RawMessage(`{"content":"hello"}`),
		VectorClock: map[string]int64{d1: 1},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if ev.ID == "" || ev.UserID != "u1" || ev.VectorClock[d1] != 1 {
		t.Fatalf("event: %+v", ev)
	}

	// Replayed counter maps to the conflict sentinel.
	_, err = c.RecordEvent(EventInput{
		DeviceID:    d1,
		EntityType:  "message",
		EntityID:    "m1",
		Operation:   "update",
		Payload:     json.RawMessage(`{"content":"again"}`),
		VectorClock: map[string]int64{d1: 1},
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("stale counter: %v", err)
	}

	// The second device pulls the full feed.
	session, err := c.InitiateSync(d2)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	// Two registrations plus the message.
	if session.PendingCount != 3 || len(session.Pending) != 3 {
		t.Fatalf("pending: %d (%d events)", session.PendingCount, len(session.Pending))
	}

	if err := c.CompleteSync(d2, time.Now().UTC()); err != nil {
		t.Fatalf("complete: %v", err)
	}
	st, err := c.GetSyncStatus(d2)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Healthy || st.PendingCount != 0 {
		t.Fatalf("status: %+v", st)
	}

	stats, err := c.GetStats("u1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Devices != 2 || stats.ActiveDevices != 2 || stats.Events != 3 {
		t.Fatalf("stats: %+v", stats)
	}

	if err := c.DeactivateDevice(d2); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	active, err := c.ListDevices("u1", true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 || active[0].ID != d1 {
		t.Fatalf("active devices: %+v", active)
	}
}

func TestClientConflictResolution(t *testing.T) {
	c := newTestClient(t, nil)

	reg1, err := c.RegisterDevice("u1", "laptop", "desktop", "")
	if err != nil {
		t.Fatalf("register d1: %v", err)
	}
	reg2, err := c.RegisterDevice("u1", "phone", "mobile", "")
	if err != nil {
		t.Fatalf("register d2: %v", err)
	}
	d1, d2 := reg1.Device.ID, reg2.Device.ID

	record := func(dev string, clock map[string]int64, payload string) {
		t.Helper()
		_, err := c.RecordEvent(EventInput{
			DeviceID:    dev,
			EntityType:  "thread",
			EntityID:    "t1",
			Operation:   "update",
			Payload:     json.RawMessage(payload),
			VectorClock: clock,
		})
		if err != nil {
			t.Fatalf("record on %s: %v", dev, err)
		}
	}
	record(d1, map[string]int64{d1: 1}, `{"title":"base"}`)
	record(d1, map[string]int64{d1: 2, d2: 1}, `{"title":"A"}`)
	record(d2, map[string]int64{d1: 1, d2: 2}, `{"title":"B"}`)

	conflicts, err := c.ListConflicts("u1")
	if err != nil {
		t.Fatalf("conflicts: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].EntityID != "t1" {
		t.Fatalf("conflicts: %+v", conflicts)
	}

	resolved, err := c.ResolveConflict(conflicts[0].ID, "manual", json.RawMessage(`{"title":"Final"}`))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.NewEventID == "" ||
		resolved.Event.VectorClock[d1] != 2 || resolved.Event.VectorClock[d2] != 2 {
		t.Fatalf("resolution: %+v", resolved)
	}

	_, err = c.ResolveConflict(conflicts[0].ID, "last_write_wins", nil)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("second resolve: %v", err)
	}
}

func TestClientBatchRecord(t *testing.T) {
	c := newTestClient(t, nil)

	reg, err := c.RegisterDevice("u1", "laptop", "desktop", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	d1 := reg.Device.ID

	resp, err := c.BatchRecord([]EventInput{
		{
			DeviceID: d1, EntityType: "message", EntityID: "m1",
			Operation: "create", Payload: json.RawMessage(`{"n":1}`),
			VectorClock: map[string]int64{d1: 1},
		},
		{
			DeviceID: d1, EntityType: "message", EntityID: "m1",
			Operation: "update", Payload: json.RawMessage(`{"n":2}`),
			VectorClock: map[string]int64{d1: 1}, // stale
		},
		{
			DeviceID: d1, EntityType: "message", EntityID: "m2",
			Operation: "create", Payload: json.RawMessage(`{"n":3}`),
			VectorClock: map[string]int64{d1: 2},
		},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(resp.SavedIDs) != 2 {
		t.Fatalf("saved: %v", resp.SavedIDs)
	}
	if len(resp.Errors) != 1 || resp.Errors[0].Index != 1 || resp.Errors[0].Code != "stale_device_counter" {
		t.Fatalf("errors: %+v", resp.Errors)
	}
}

func TestClientErrorMapping(t *testing.T) {
	c := newTestClient(t, func(cfg *api.Config) {
		cfg.APIKeys = []string{"sekrit"}
	})

	bad := New(c.BaseURL, "wrong")
	_, err := bad.ListDevices("u1", false)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("bad key: %v", err)
	}

	_, err = c.InitiateSync("dev_nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown device: %v", err)
	}

	_, err = c.RegisterDevice("u1", "laptop", "desktop", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err = c.RegisterDevice("u1", "laptop", "mobile", "")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate: %v", err)
	}
}

func TestClientRateLimited(t *testing.T) {
	c := newTestClient(t, func(cfg *api.Config) {
		cfg.RateLimitOther = 2
	})

	for i := 0; i < 2; i++ {
		if _, err := c.ListDevices("u1", false); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	_, err := c.ListDevices("u1", false)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("limited request: %v", err)
	}
}
