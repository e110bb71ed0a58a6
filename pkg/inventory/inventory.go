package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrDeviceNotFound indicates no attributes are recorded for the device.
var ErrDeviceNotFound = errors.New("inventory: device not found")

// Client is a thin client for the device-attribute directory, consulted at
// deployment creation to resolve each target device's recorded device type.
type Client struct {
	base string
	http *http.Client
}

func NewClient(base string) (*Client, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return nil, errors.New("inventory: base URL is required")
	}
	return &Client{
		base: base,
		http: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// DeviceType returns the device type attribute recorded for the device.
func (c *Client) DeviceType(ctx context.Context, tenant, deviceID string) (string, error) {
	if c == nil {
		return "", errors.New("inventory: nil client")
	}

	uri := fmt.Sprintf("%s/api/internal/v1/inventory/tenants/%s/devices/%s", c.base, tenant, deviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", err
	}

	rsp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("inventory: request failed: %w", err)
	}
	defer rsp.Body.Close()

	switch rsp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", ErrDeviceNotFound
	default:
		return "", fmt.Errorf("inventory: unexpected status %d", rsp.StatusCode)
	}

	var payload struct {
		DeviceType string `json:"device_type"`
	}
	if err := json.NewDecoder(rsp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("inventory: decode response: %w", err)
	}
	return payload.DeviceType, nil
}
