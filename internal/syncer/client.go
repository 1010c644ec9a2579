package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// request is the wire shape of a sync call: a flat JSON object dispatched on
// the action field.
type request struct {
	Action     string          `json:"action"` // push | pull | delete
	UserID     string          `json:"userId"`
	VaultBlob  string          `json:"vaultBlob,omitempty"`
	ConfigBlob json.RawMessage `json:"configBlob,omitempty"`
	DeviceID   string          `json:"deviceId,omitempty"`
	Version    int64           `json:"version,omitempty"`
}

type pushResponse struct {
	Success   bool   `json:"success"`
	Timestamp int64  `json:"timestamp"`
	Error     string `json:"error,omitempty"`
}

// Client is one device's view of the protocol. It tracks the last version it
// pushed or pulled and refuses to apply anything older (anti-rollback). Not
// safe for concurrent use; one device syncs sequentially.
type Client struct {
	baseURL      string
	httpc        *http.Client
	deviceID     string
	localVersion int64
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:  baseURL,
		httpc:    &http.Client{Timeout: 30 * time.Second},
		deviceID: uuid.NewString(),
	}
}

// DeviceID returns this client's opaque device identifier.
func (c *Client) DeviceID() string { return c.deviceID }

// LocalVersion returns the highest bundle version this device has seen.
func (c *Client) LocalVersion() int64 { return c.localVersion }

// Restore reinstalls persisted device state (vaultctl keeps it in a state
// file between runs).
func (c *Client) Restore(deviceID string, localVersion int64) {
	if deviceID != "" {
		c.deviceID = deviceID
	}
	c.localVersion = localVersion
}

// Push uploads the vault blob and config under userID, pre-incrementing the
// version deterministically. A concurrent push from another device may
// compute the same next version and silently win; the protocol does not
// guarantee consistency across devices.
func (c *Client) Push(ctx context.Context, userID, vaultBlob string, config json.RawMessage) error {
	if userID == "" {
		return ErrMissingUserID
	}
	if len(vaultBlob)+len(config) > MaxBundleSize {
		return ErrPayloadTooLarge
	}
	next := c.localVersion + 1
	req := request{
		Action:     "push",
		UserID:     userID,
		VaultBlob:  vaultBlob,
		ConfigBlob: config,
		DeviceID:   c.deviceID,
		Version:    next,
	}
	var resp pushResponse
	if err := c.post(ctx, req, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%w: %s", ErrStorageUnavailable, resp.Error)
	}
	c.localVersion = next
	return nil
}

// Pull fetches the remote bundle. A bundle versioned below this device's
// local version is rejected with ErrRollbackDetected and not applied;
// a legacy bundle with no version is accepted unconditionally.
func (c *Client) Pull(ctx context.Context, userID string) (Bundle, error) {
	if userID == "" {
		return Bundle{}, ErrMissingUserID
	}
	req := request{Action: "pull", UserID: userID, DeviceID: c.deviceID}
	var b Bundle
	if err := c.post(ctx, req, &b); err != nil {
		return Bundle{}, err
	}
	if err := CheckRollback(c.localVersion, b.Meta.Version); err != nil {
		return Bundle{}, err
	}
	if b.Meta.Version > c.localVersion {
		c.localVersion = b.Meta.Version
	}
	return b, nil
}

// Delete removes the remote bundle; idempotent.
func (c *Client) Delete(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrMissingUserID
	}
	req := request{Action: "delete", UserID: userID, DeviceID: c.deviceID}
	var resp pushResponse
	if err := c.post(ctx, req, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%w: %s", ErrStorageUnavailable, resp.Error)
	}
	return nil
}

func (c *Client) post(ctx context.Context, req request, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/sync", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return json.NewDecoder(resp.Body).Decode(out)
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusRequestEntityTooLarge:
		return ErrPayloadTooLarge
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%w: %s (status %d)", ErrStorageUnavailable, e.Error, resp.StatusCode)
	}
}
