package introspect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrInvalidArtifact marks payloads the introspection tool rejected. The
// caller sees this as a client error, not a service failure.
var ErrInvalidArtifact = errors.New("introspect: invalid artifact payload")

// Meta is the metadata the introspection tool extracts from an uploaded
// artifact binary.
type Meta struct {
	Name        string   `json:"name"`
	Size        int64    `json:"size"`
	Checksum    string   `json:"checksum"`
	DeviceTypes []string `json:"device_types_compatible"`
	Updates     []Update `json:"updates"`
}

type Update struct {
	Type           string            `json:"type"`
	Files          []File            `json:"files,omitempty"`
	Provides       map[string]string `json:"provides,omitempty"`
	ClearsProvides []string          `json:"clears_provides,omitempty"`
}

type File struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// Client calls the external artifact introspection tool over HTTP. The tool
// reads the artifact bytes itself from the provided object location; this
// service never parses artifact binaries.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a Client against the tool's base URL.
func NewClient(base string) (*Client, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return nil, errors.New("introspect: base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("introspect: invalid base URL: %w", err)
	}
	return &Client{
		base: base,
		http: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Inspect asks the tool to parse the artifact reachable at objectURL.
func (c *Client) Inspect(ctx context.Context, objectURL string) (*Meta, error) {
	if c == nil {
		return nil, errors.New("introspect: nil client")
	}

	body, err := json.Marshal(map[string]string{"url": objectURL})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/artifacts/inspect", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	rsp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("introspect: request failed: %w", err)
	}
	defer rsp.Body.Close()

	switch {
	case rsp.StatusCode == http.StatusOK:
	case rsp.StatusCode >= 400 && rsp.StatusCode < 500:
		return nil, ErrInvalidArtifact
	default:
		return nil, fmt.Errorf("introspect: unexpected status %d", rsp.StatusCode)
	}

	var meta Meta
	if err := json.NewDecoder(rsp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("introspect: decode response: %w", err)
	}
	if meta.Name == "" || len(meta.DeviceTypes) == 0 {
		return nil, ErrInvalidArtifact
	}
	return &meta, nil
}
