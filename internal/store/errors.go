package store

import "errors"

// Sentinel errors shared across the engine and its stores. Handlers
// map these to structured API error codes.
var (
	ErrValidation         = errors.New("invalid request")
	ErrDeviceNotFound     = errors.New("device not found")
	ErrDeviceInactive     = errors.New("device is inactive")
	ErrDuplicateDevice    = errors.New("active device with this name already exists")
	ErrInvalidVectorClock = errors.New("invalid vector clock")
	ErrStaleDeviceCounter = errors.New("device counter went backwards")
	ErrConflictNotFound   = errors.New("conflict not found")
	ErrAlreadyResolved    = errors.New("conflict already resolved")
	ErrMissingResolution  = errors.New("manual resolution payload required")
	ErrAutoMergeFailed    = errors.New("automatic merge failed")
	ErrStoreUnavailable   = errors.New("store unavailable")
)
