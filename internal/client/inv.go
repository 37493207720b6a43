package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const invTimeout = 30 * time.Second

// Inv is the typed client for the local spool inventory REST surface.
type Inv struct {
	httpClient *http.Client
	baseURL    string
}

// NewInv creates a client for the Inv API at baseURL.
func NewInv(baseURL string) *Inv {
	return &Inv{
		httpClient: &http.Client{Timeout: invTimeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

// ListSpools returns all spools known to Inv.
func (c *Inv) ListSpools(ctx context.Context) ([]InvSpool, error) {
	var spools []InvSpool
	if err := c.doJSON(ctx, http.MethodGet, "/spool", nil, &spools); err != nil {
		return nil, err
	}
	return spools, nil
}

// ListFilaments returns all filament profiles known to Inv.
func (c *Inv) ListFilaments(ctx context.Context) ([]InvFilament, error) {
	var filaments []InvFilament
	if err := c.doJSON(ctx, http.MethodGet, "/filament", nil, &filaments); err != nil {
		return nil, err
	}
	return filaments, nil
}

// ListVendors returns all vendors known to Inv.
func (c *Inv) ListVendors(ctx context.Context) ([]InvVendor, error) {
	var vendors []InvVendor
	if err := c.doJSON(ctx, http.MethodGet, "/vendor", nil, &vendors); err != nil {
		return nil, err
	}
	return vendors, nil
}

// CreateVendor creates a vendor and returns the created record.
func (c *Inv) CreateVendor(ctx context.Context, name string) (*InvVendor, error) {
	payload := map[string]string{"name": name}
	var vendor InvVendor
	if err := c.doJSON(ctx, http.MethodPost, "/vendor", payload, &vendor); err != nil {
		return nil, err
	}
	return &vendor, nil
}

// CreateFilament creates a filament profile and returns the created record.
func (c *Inv) CreateFilament(ctx context.Context, payload InvFilamentCreate) (*InvFilament, error) {
	var filament InvFilament
	if err := c.doJSON(ctx, http.MethodPost, "/filament", payload, &filament); err != nil {
		return nil, err
	}
	return &filament, nil
}

// CreateSpool creates a spool and returns the created record.
func (c *Inv) CreateSpool(ctx context.Context, payload InvSpoolCreate) (*InvSpool, error) {
	var spool InvSpool
	if err := c.doJSON(ctx, http.MethodPost, "/spool", payload, &spool); err != nil {
		return nil, err
	}
	return &spool, nil
}

// UpdateSpool applies a partial update to a spool.
func (c *Inv) UpdateSpool(ctx context.Context, id int64, payload InvSpoolUpdate) (*InvSpool, error) {
	var spool InvSpool
	if err := c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/spool/%d", id), payload, &spool); err != nil {
		return nil, err
	}
	return &spool, nil
}

// DeleteSpool removes a spool.
func (c *Inv) DeleteSpool(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/spool/%d", id), nil, nil)
}

func (c *Inv) doJSON(ctx context.Context, method, path string, body, out any) error {
	op := method + " " + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("inv %s: failed to marshal request: %w", op, err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("inv %s: failed to build request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &UpstreamError{System: "inv", Op: op, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &UpstreamError{System: "inv", Op: op, StatusCode: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &UpstreamError{
			System:     "inv",
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(data)),
		}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &ShapeError{System: "inv", Op: op, Detail: err.Error()}
	}
	return nil
}
