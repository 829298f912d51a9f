// Package syncclient is the Go client for the converse-sync HTTP API.
// Devices embed it to register, push events, and pull their feed.
package syncclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrRateLimited  = errors.New("rate limited")
)

// Client is an HTTP client for the converse-sync server.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// New creates a new sync client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// --- Wire types (mirrors internal/api, independently defined) ---

// Device represents a registered device.
type Device struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Name       string     `json:"name"`
	Kind       string     `json:"kind"`
	Platform   string     `json:"platform,omitempty"`
	Active     bool       `json:"active"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Event is a sync event on the wire.
type Event struct {
	ID                 string           `json:"id"`
	DeviceID           string           `json:"device_id"`
	UserID             string           `json:"user_id"`
	EntityType         string           `json:"entity_type"`
	EntityID           string           `json:"entity_id"`
	Operation          string           `json:"operation"`
	Payload            json.RawMessage  `json:"payload"`
	VectorClock        map[string]int64 `json:"vector_clock"`
	SyncedAt           time.Time        `json:"synced_at"`
	ConflictResolved   bool             `json:"conflict_resolved"`
	ResolutionStrategy string           `json:"resolution_strategy,omitempty"`
}

// EventInput is one event to record.
type EventInput struct {
	DeviceID    string           `json:"device_id"`
	EntityType  string           `json:"entity_type"`
	EntityID    string           `json:"entity_id"`
	Operation   string           `json:"operation"`
	Payload     json.RawMessage  `json:"payload"`
	VectorClock map[string]int64 `json:"vector_clock"`
}

// RegisterResponse is the response from POST /v1/devices.
type RegisterResponse struct {
	Device      Device           `json:"device"`
	VectorClock map[string]int64 `json:"vector_clock"`
}

// SyncSession is the response from POST /v1/devices/{id}/sync.
type SyncSession struct {
	DeviceID     string           `json:"device_id"`
	Pending      []Event          `json:"pending"`
	PendingCount int              `json:"pending_count"`
	VectorClock  map[string]int64 `json:"vector_clock"`
}

// Conflict is a pair of concurrent events on the same entity.
type Conflict struct {
	ID         string    `json:"id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Events     [2]Event  `json:"events"`
	DetectedAt time.Time `json:"detected_at"`
}

// SyncStatus is the response from GET /v1/devices/{id}/sync/status.
type SyncStatus struct {
	DeviceID     string           `json:"device_id"`
	Active       bool             `json:"active"`
	LastSyncAt   *time.Time       `json:"last_sync_at,omitempty"`
	PendingCount int64            `json:"pending_count"`
	Conflicts    []Conflict       `json:"conflicts"`
	VectorClock  map[string]int64 `json:"vector_clock"`
	Healthy      bool             `json:"healthy"`
}

// BatchResponse is the response from POST /v1/events/batch.
type BatchResponse struct {
	SavedIDs []string     `json:"saved_ids"`
	Errors   []BatchError `json:"errors"`
}

// BatchError is one per-index failure in a batch response.
type BatchError struct {
	Index   int    `json:"index"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResolveResponse is the response from POST /v1/conflicts/{id}/resolve.
type ResolveResponse struct {
	NewEventID string `json:"new_event_id"`
	Event      Event  `json:"event"`
}

// Stats is the response from GET /v1/stats.
type Stats struct {
	UserID              string     `json:"user_id"`
	Devices             int        `json:"devices"`
	ActiveDevices       int        `json:"active_devices"`
	Events              int64      `json:"events"`
	UnresolvedConflicts int        `json:"unresolved_conflicts"`
	LastSyncAt          *time.Time `json:"last_sync_at,omitempty"`
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// HealthCheck hits the /healthz endpoint to verify server reachability.
func (c *Client) HealthCheck() (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do("GET", "/healthz", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Device methods ---

// RegisterDevice registers a device for a user.
func (c *Client) RegisterDevice(userID, name, kind, platform string) (*RegisterResponse, error) {
	body := map[string]string{"user_id": userID, "name": name, "kind": kind, "platform": platform}
	var resp RegisterResponse
	if err := c.do("POST", "/v1/devices", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListDevices lists a user's devices.
func (c *Client) ListDevices(userID string, activeOnly bool) ([]Device, error) {
	params := url.Values{}
	params.Set("user_id", userID)
	if activeOnly {
		params.Set("active", "true")
	}
	var resp struct {
		Devices []Device `json:"devices"`
	}
	if err := c.do("GET", "/v1/devices?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

// DeactivateDevice soft-deletes a device.
func (c *Client) DeactivateDevice(deviceID string) error {
	return c.do("DELETE", "/v1/devices/"+deviceID, nil, nil)
}

// --- Sync methods ---

// InitiateSync starts a sync session for a device.
func (c *Client) InitiateSync(deviceID string) (*SyncSession, error) {
	var resp SyncSession
	if err := c.do("POST", fmt.Sprintf("/v1/devices/%s/sync", deviceID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CompleteSync acknowledges applied events up to a timestamp.
func (c *Client) CompleteSync(deviceID string, syncedUpTo time.Time) error {
	body := map[string]any{"synced_up_to": syncedUpTo}
	return c.do("POST", fmt.Sprintf("/v1/devices/%s/sync/complete", deviceID), body, nil)
}

// GetSyncStatus reports a device's sync health.
func (c *Client) GetSyncStatus(deviceID string) (*SyncStatus, error) {
	var resp SyncStatus
	if err := c.do("GET", fmt.Sprintf("/v1/devices/%s/sync/status", deviceID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RecordEvent appends one event.
func (c *Client) RecordEvent(in EventInput) (*Event, error) {
	var resp Event
	if err := c.do("POST", "/v1/events", in, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BatchRecord appends many events. Per-index failures come back in the
// response, not as an error.
func (c *Client) BatchRecord(events []EventInput) (*BatchResponse, error) {
	body := map[string]any{"events": events}
	var resp BatchResponse
	if err := c.do("POST", "/v1/events/batch", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Conflict methods ---

// ListConflicts returns a user's unresolved conflicts.
func (c *Client) ListConflicts(userID string) ([]Conflict, error) {
	params := url.Values{}
	params.Set("user_id", userID)
	var resp struct {
		Conflicts []Conflict `json:"conflicts"`
	}
	if err := c.do("GET", "/v1/conflicts?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conflicts, nil
}

// ResolveConflict resolves a conflict with the given strategy.
// resolution may be nil except for manual resolutions.
func (c *Client) ResolveConflict(conflictID, strategy string, resolution json.RawMessage) (*ResolveResponse, error) {
	body := map[string]any{"strategy": strategy}
	if resolution != nil {
		body["resolution"] = resolution
	}
	var resp ResolveResponse
	if err := c.do("POST", fmt.Sprintf("/v1/conflicts/%s/resolve", conflictID), body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetStats aggregates a user's sync activity.
func (c *Client) GetStats(userID string) (*Stats, error) {
	params := url.Values{}
	params.Set("user_id", userID)
	var resp Stats
	if err := c.do("GET", "/v1/stats?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- HTTP helpers ---

// apiError is the standard error body from the server.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

func (c *Client) do(method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error apiError `json:"error"`
		}
		if json.Unmarshal(respBody, &envelope) == nil && envelope.Error.Code != "" {
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				return fmt.Errorf("%w: %s", ErrUnauthorized, envelope.Error.Message)
			case http.StatusNotFound:
				return fmt.Errorf("%w: %s", ErrNotFound, envelope.Error.Message)
			case http.StatusConflict:
				return fmt.Errorf("%w: %s: %s", ErrConflict, envelope.Error.Code, envelope.Error.Message)
			case http.StatusTooManyRequests:
				return fmt.Errorf("%w: %s", ErrRateLimited, envelope.Error.Message)
			default:
				return &envelope.Error
			}
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
