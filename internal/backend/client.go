package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jmuc-msm/onpass-socket/internal/infrastructure/config"
)

// maxResponseBytes caps how much of a backend response is read.
const maxResponseBytes = 1 << 20

// Client calls the authorization backend.
type Client struct {
	baseURL        string
	scanPath       string
	doorAccessPath string
	httpClient     *http.Client
}

// New creates a backend client from configuration.
//
// Parameters:
//   - cfg: Backend configuration (base URL, paths, timeout in seconds)
//   - httpClient: Optional HTTP client; nil builds one with cfg.Timeout
//
// Returns:
//   - *Client: Ready to use, no connection is made until the first call
func New(cfg config.BackendConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}
	}
	scanPath := cfg.ScanPath
	if scanPath == "" {
		scanPath = "/iot_socket"
	}
	doorPath := cfg.DoorAccessPath
	if doorPath == "" {
		doorPath = "/get_access_qr"
	}
	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		scanPath:       scanPath,
		doorAccessPath: doorPath,
		httpClient:     httpClient,
	}
}

// Authorize resolves a QR payload read by a device.
//
// Parameters:
//   - ctx: Context for cancellation
//   - qrPayload: Raw credential read by the scanner
//   - deviceID: EUI-64 of the reporting controller
//
// Returns:
//   - *AuthorizationResult: User, non-empty door list and device endpoint
//   - error: Wraps ErrAuthorization (and ErrMalformedResponse for a bad body)
func (c *Client) Authorize(ctx context.Context, qrPayload, deviceID string) (*AuthorizationResult, error) {
	var resp scanResponse
	if err := c.post(ctx, c.scanPath, scanRequest{CodeQR: qrPayload, EUI64: deviceID}, &resp); err != nil {
		return nil, err
	}

	if len(resp.Doors) == 0 {
		return nil, malformed("doors")
	}
	user, endpoint, err := userAndEndpoint(resp.User, resp.IoT, resp.FullName)
	if err != nil {
		return nil, err
	}

	return &AuthorizationResult{
		User:           user,
		Doors:          resp.Doors,
		DeviceEndpoint: endpoint,
	}, nil
}

// AuthorizeByDoor asks whether a QR payload may open one specific door.
// The result always holds exactly one door.
func (c *Client) AuthorizeByDoor(ctx context.Context, doorID int64, qrPayload string) (*AuthorizationResult, error) {
	var resp doorResponse
	if err := c.post(ctx, c.doorAccessPath, doorRequest{DoorID: doorID, QRCode: qrPayload}, &resp); err != nil {
		return nil, err
	}

	if resp.Door == nil {
		return nil, malformed("door")
	}
	user, endpoint, err := userAndEndpoint(resp.User, resp.IoT, resp.FullName)
	if err != nil {
		return nil, err
	}

	return &AuthorizationResult{
		User: user,
		Doors: []Door{{
			ID:          resp.Door.ID,
			Name:        resp.Door.Name,
			RelayNumber: resp.Door.RelayNumber,
		}},
		DeviceEndpoint: endpoint,
	}, nil
}

func userAndEndpoint(u *wireUser, iot *wireIoT, fullName string) (User, string, error) {
	if u == nil {
		return User{}, "", malformed("user")
	}
	id, ok := rawID(u.ID)
	if !ok {
		return User{}, "", malformed("user.id")
	}
	if iot == nil || strings.TrimSpace(iot.URLAddress) == "" {
		return User{}, "", malformed("iot.url_address")
	}
	if fullName == "" {
		fullName = u.FullName
	}
	return User{ID: id, FullName: fullName}, strings.TrimRight(iot.URLAddress, "/"), nil
}

func malformed(field string) error {
	return fmt.Errorf("%w: %w: missing %s", ErrAuthorization, ErrMalformedResponse, field)
}

// post sends body as JSON and decodes a 2xx response into out.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: encoding request: %w", ErrAuthorization, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuthorization, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrAuthorization, path, err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxResponseBytes)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain body to allow connection reuse
		_, _ = io.Copy(io.Discard, limited)
		return fmt.Errorf("%w: %s: HTTP %d", ErrAuthorization, path, resp.StatusCode)
	}

	if err := json.NewDecoder(limited).Decode(out); err != nil {
		return fmt.Errorf("%w: %w: %w", ErrAuthorization, ErrMalformedResponse, err)
	}
	return nil
}
