package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nolan/converse/internal/store"
	"github.com/nolan/converse/internal/vclock"
)

// RegisterDevice creates a device for the user and appends its birth
// event to the log, so the device's clock exists from counter zero.
// A second active device with the same name for the same user is
// rejected with store.ErrDuplicateDevice.
func (e *Engine) RegisterDevice(ctx context.Context, userID, name string, kind store.DeviceKind, platform string) (*store.Device, vclock.Clock, error) {
	if userID == "" {
		return nil, nil, fmt.Errorf("%w: user_id is required", store.ErrValidation)
	}
	if name == "" {
		return nil, nil, fmt.Errorf("%w: name is required", store.ErrValidation)
	}
	if !store.ValidKind(kind) {
		return nil, nil, fmt.Errorf("%w: unknown device kind %q", store.ErrValidation, kind)
	}

	existing, err := e.devices.FindActiveByUserName(ctx, userID, name)
	if err != nil {
		return nil, nil, fmt.Errorf("check duplicate device: %w", err)
	}
	if existing != nil {
		return nil, nil, store.ErrDuplicateDevice
	}

	dev := &store.Device{
		UserID:   userID,
		Name:     name,
		Kind:     kind,
		Platform: platform,
	}
	if err := e.devices.Insert(ctx, dev); err != nil {
		return nil, nil, err
	}

	clock := vclock.New(dev.ID)
	payload, _ := json.Marshal(map[string]any{
		"id":       dev.ID,
		"name":     dev.Name,
		"kind":     string(dev.Kind),
		"platform": dev.Platform,
	})
	birth := &store.SyncEvent{
		DeviceID:   dev.ID,
		UserID:     userID,
		EntityType: "device",
		EntityID:   dev.ID,
		Operation:  store.OpCreate,
		Payload:    payload,
		Clock:      clock,
	}
	if err := e.events.Append(ctx, birth); err != nil {
		return nil, nil, fmt.Errorf("append registration event: %w", err)
	}

	e.log.Info("device registered",
		"device_id", dev.ID, "user_id", userID, "kind", string(kind))
	return dev, clock, nil
}

// DeactivateDevice soft-deletes a device and appends a DELETE event
// advancing its clock. Deactivating an already-inactive device is a
// no-op.
func (e *Engine) DeactivateDevice(ctx context.Context, deviceID string) error {
	dev, err := e.devices.FindByID(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("find device %s: %w", deviceID, err)
	}
	if dev == nil {
		return store.ErrDeviceNotFound
	}
	if !dev.Active {
		return nil
	}

	if err := e.devices.SetActive(ctx, deviceID, false); err != nil {
		return err
	}

	clock := vclock.New(deviceID)
	latest, err := e.events.LatestByOrigin(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("latest event for %s: %w", deviceID, err)
	}
	if latest != nil {
		clock = latest.Clock
	}

	tomb := &store.SyncEvent{
		DeviceID:   deviceID,
		UserID:     dev.UserID,
		EntityType: "device",
		EntityID:   deviceID,
		Operation:  store.OpDelete,
		Clock:      clock.Increment(deviceID),
	}
	if err := e.events.Append(ctx, tomb); err != nil {
		return fmt.Errorf("append deactivation event: %w", err)
	}

	e.log.Info("device deactivated", "device_id", deviceID, "user_id", dev.UserID)
	return nil
}

// ListDevices returns the user's devices, most recently synced first.
func (e *Engine) ListDevices(ctx context.Context, userID string, activeOnly bool) ([]store.Device, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", store.ErrValidation)
	}
	return e.devices.ListForUser(ctx, userID, activeOnly)
}
