// Package engine implements the synchronization core: device registry,
// conflict detection and resolution, and the sync coordinator. It
// depends only on the ports in internal/store, so tests can run it
// against an in-memory database with a fake clock.
package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/nolan/converse/internal/store"
)

// Config tunes the engine. Zero values fall back to defaults.
type Config struct {
	// BatchSize caps how many events a batch chunk processes at once.
	BatchSize int
	// HealthySyncWindow is how recently a device must have synced to
	// count as healthy.
	HealthySyncWindow time.Duration
}

const (
	defaultBatchSize         = 100
	defaultHealthySyncWindow = time.Hour
)

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.HealthySyncWindow <= 0 {
		c.HealthySyncWindow = defaultHealthySyncWindow
	}
	return c
}

// Engine wires the stores together and serializes event recording per
// device.
type Engine struct {
	events  store.EventStore
	devices store.DeviceStore
	clock   store.Clock
	log     *slog.Logger
	cfg     Config

	mu       sync.Mutex
	deviceMu map[string]*sync.Mutex
}

// New creates an engine over the given stores.
func New(events store.EventStore, devices store.DeviceStore, clock store.Clock, logger *slog.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		events:   events,
		devices:  devices,
		clock:    clock,
		log:      logger,
		cfg:      cfg.withDefaults(),
		deviceMu: make(map[string]*sync.Mutex),
	}
}

// lockDevice serializes writes from one device. Two devices never block
// each other; two requests from the same device do.
func (e *Engine) lockDevice(deviceID string) func() {
	e.mu.Lock()
	m, ok := e.deviceMu[deviceID]
	if !ok {
		m = &sync.Mutex{}
		e.deviceMu[deviceID] = m
	}
	e.mu.Unlock()

	m.Lock()
	return m.Unlock
}
