package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	cloudTimeout     = 30 * time.Second
	cloudTestTimeout = 10 * time.Second
)

// Cloud is the typed client for the cloud filament catalog REST surface.
// All Cloud responses carry a status boolean; status=false is surfaced as an
// UpstreamError with the upstream message.
type Cloud struct {
	httpClient *http.Client
	testClient *http.Client
	baseURL    string
	orgID      string
	token      string
}

// NewCloud creates a client for the Cloud API. orgID is the organization
// path segment; token is the bearer credential.
func NewCloud(baseURL, orgID, token string) *Cloud {
	return &Cloud{
		httpClient: &http.Client{Timeout: cloudTimeout},
		testClient: &http.Client{Timeout: cloudTestTimeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		orgID:      orgID,
		token:      token,
	}
}

type cloudEnvelope struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
}

// ListFilaments returns the Cloud filament catalog keyed by Cloud record id.
func (c *Cloud) ListFilaments(ctx context.Context) (map[string]CloudFilament, error) {
	var out struct {
		cloudEnvelope
		Filament map[string]CloudFilament `json:"filament"`
	}
	if err := c.doJSON(ctx, c.httpClient, http.MethodGet, "/filament/GetFilament", nil, &out); err != nil {
		return nil, err
	}
	if out.Filament == nil {
		// An empty catalog is valid and arrives as {} rather than null;
		// a missing key entirely is a shape problem.
		return map[string]CloudFilament{}, nil
	}
	return out.Filament, nil
}

// GetFilamentTypes returns the material-type catalog keyed by type id.
func (c *Cloud) GetFilamentTypes(ctx context.Context) (map[string]CloudFilamentType, error) {
	var out struct {
		cloudEnvelope
		Types map[string]CloudFilamentType `json:"types"`
	}
	if err := c.doJSON(ctx, c.httpClient, http.MethodGet, "/filament/type/Get", nil, &out); err != nil {
		return nil, err
	}
	if out.Types == nil {
		return map[string]CloudFilamentType{}, nil
	}
	return out.Types, nil
}

// CreateFilament creates a new Cloud filament.
func (c *Cloud) CreateFilament(ctx context.Context, payload CloudFilamentUpdate) error {
	return c.doJSON(ctx, c.httpClient, http.MethodPost, "/filament/Create", payload, nil)
}

// UpdateFilament updates an existing Cloud filament. Cloud models update as
// create with an id query parameter.
func (c *Cloud) UpdateFilament(ctx context.Context, id string, payload CloudFilamentUpdate) error {
	path := "/filament/Create?fid=" + url.QueryEscape(id)
	return c.doJSON(ctx, c.httpClient, http.MethodPost, path, payload, nil)
}

// TestConnection verifies the configured credentials against Cloud.
func (c *Cloud) TestConnection(ctx context.Context) error {
	err := c.doJSON(ctx, c.testClient, http.MethodGet, "/account/Test", nil, nil)
	if err != nil {
		// A rejected envelope or a 401/403 on the probe both mean the
		// credential is bad; transport failures stay what they are.
		if ue, ok := err.(*UpstreamError); ok && ue.StatusCode != 0 {
			return fmt.Errorf("%w: %s", ErrNotAuthorized, ue.Message)
		}
		return err
	}
	return nil
}

func (c *Cloud) doJSON(ctx context.Context, hc *http.Client, method, path string, body, out any) error {
	op := method + " " + path
	fullURL := c.baseURL + "/" + c.orgID + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("cloud %s: failed to marshal request: %w", op, err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return fmt.Errorf("cloud %s: failed to build request: %w", op, err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return &UpstreamError{System: "cloud", Op: op, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &UpstreamError{System: "cloud", Op: op, StatusCode: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &UpstreamError{
			System:     "cloud",
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(data)),
		}
	}

	var env cloudEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return &ShapeError{System: "cloud", Op: op, Detail: err.Error()}
	}
	if !env.Status {
		return &UpstreamError{System: "cloud", Op: op, StatusCode: resp.StatusCode, Message: env.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &ShapeError{System: "cloud", Op: op, Detail: err.Error()}
	}
	return nil
}
