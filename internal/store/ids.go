package store

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Prefixes for generated IDs.
const (
	DevicePrefix = "dev_"
	EventPrefix  = "ev_"
)

// SystemClock is the production Clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// RandIDGen generates prefixed IDs with 16 random hex chars. The hex
// alphabet contains no hyphen, so derived conflict IDs of the form
// "<id>-<id>" split unambiguously.
type RandIDGen struct{}

// NewID returns a fresh ID with the given prefix.
func (RandIDGen) NewID(prefix string) string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failure is fatal
		panic("generate id: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}
