// Package vclock implements the vector-clock algebra used to order sync
// events across devices. A clock maps device IDs to monotonically
// increasing counters; a missing entry counts as zero.
package vclock

import (
	"encoding/json"
	"fmt"
)

// Clock is a vector clock keyed by device ID.
type Clock map[string]int64

// Relation is the causal relationship between two clocks.
type Relation int

const (
	Equal      Relation = iota
	Before              // receiver happened before the other clock
	After               // receiver happened after the other clock
	Concurrent          // neither dominates; concurrent modification
)

// String returns the relation name for logging.
func (r Relation) String() string {
	switch r {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	case Concurrent:
		return "concurrent"
	default:
		return fmt.Sprintf("relation(%d)", int(r))
	}
}

// New creates a clock for a device with its counter at zero.
func New(deviceID string) Clock {
	return Clock{deviceID: 0}
}

// Copy returns a deep copy of the clock.
func (c Clock) Copy() Clock {
	out := make(Clock, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Get returns the counter for a device, zero if absent.
func (c Clock) Get(deviceID string) int64 {
	return c[deviceID]
}

// Increment returns a copy of the clock with the device's counter
// advanced by one. The receiver is not modified.
func (c Clock) Increment(deviceID string) Clock {
	out := c.Copy()
	out[deviceID]++
	return out
}

// Merge returns a new clock taking the component-wise maximum of both
// clocks. Neither input is modified.
func (c Clock) Merge(other Clock) Clock {
	out := c.Copy()
	for k, v := range other {
		if out[k] < v {
			out[k] = v
		}
	}
	return out
}

// Compare determines the causal relationship between two clocks by
// inspecting every key in their union. Missing keys count as zero.
func (c Clock) Compare(other Clock) Relation {
	lessOrEqual := true
	greaterOrEqual := true

	keys := make(map[string]struct{}, len(c)+len(other))
	for k := range c {
		keys[k] = struct{}{}
	}
	for k := range other {
		keys[k] = struct{}{}
	}

	for k := range keys {
		a, b := c[k], other[k]
		if a > b {
			lessOrEqual = false
		}
		if a < b {
			greaterOrEqual = false
		}
	}

	switch {
	case lessOrEqual && greaterOrEqual:
		return Equal
	case lessOrEqual:
		return Before
	case greaterOrEqual:
		return After
	default:
		return Concurrent
	}
}

// Dominates reports whether the receiver happened strictly after other.
func (c Clock) Dominates(other Clock) bool {
	return c.Compare(other) == After
}

// ConcurrentWith reports whether the two clocks are incomparable.
func (c Clock) ConcurrentWith(other Clock) bool {
	return c.Compare(other) == Concurrent
}

// Validate checks that every entry has a non-empty device ID and a
// non-negative counter.
func (c Clock) Validate() error {
	for k, v := range c {
		if k == "" {
			return fmt.Errorf("vector clock has empty device id")
		}
		if v < 0 {
			return fmt.Errorf("vector clock has negative counter %d for device %s", v, k)
		}
	}
	return nil
}

// Parse decodes a clock from its JSON wire form, a flat object of
// device ID to counter, and validates it.
func Parse(data []byte) (Clock, error) {
	var c Clock
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse vector clock: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c == nil {
		c = Clock{}
	}
	return c, nil
}
