// Package client provides a small Go SDK for the sequencer HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNotFound is returned for lookups of unknown roots or leaf indexes.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned for duplicate appends and illegal status
// transitions rejected by the sequencer.
var ErrConflict = errors.New("conflict")

// Checkpoint mirrors a root checkpoint returned by the API.
type Checkpoint struct {
	Root          string     `json:"root"`
	LastIdentity  string     `json:"last_identity"`
	LastLeafIndex uint64     `json:"last_leaf_index"`
	IdentityCount uint64     `json:"identity_count"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	MinedAt       *time.Time `json:"mined_at,omitempty"`
}

// Identity mirrors one ledger row returned by the API.
type Identity struct {
	Commitment string `json:"commitment"`
	LeafIndex  uint64 `json:"leaf_index"`
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client talks to a sequencer service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client connected to baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// AppendIdentity appends a hex-encoded commitment and returns the resulting
// checkpoint.
func (c *Client) AppendIdentity(ctx context.Context, commitment string) (*Checkpoint, error) {
	var cp Checkpoint
	err := c.do(ctx, http.MethodPost, "/api/v1/identities",
		map[string]string{"commitment": commitment}, &cp)
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// MarkMined confirms the external publication of a root. A zero minedAt
// lets the service record its own timestamp.
func (c *Client) MarkMined(ctx context.Context, root string, minedAt time.Time) error {
	var body any
	if !minedAt.IsZero() {
		body = map[string]time.Time{"mined_at": minedAt}
	}
	return c.do(ctx, http.MethodPost, "/api/v1/roots/"+root+"/mined", body, nil)
}

// GetCheckpoint returns the checkpoint for a hex-encoded root.
func (c *Client) GetCheckpoint(ctx context.Context, root string) (*Checkpoint, error) {
	var cp Checkpoint
	if err := c.do(ctx, http.MethodGet, "/api/v1/roots/"+root, nil, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// GetLatest returns the checkpoint covering the longest identity prefix.
func (c *Client) GetLatest(ctx context.Context) (*Checkpoint, error) {
	var cp Checkpoint
	if err := c.do(ctx, http.MethodGet, "/api/v1/roots/latest", nil, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// ListByStatus returns checkpoints in the given status ("pending" or
// "mined"), ordered by identity count.
func (c *Client) ListByStatus(ctx context.Context, status string) ([]Checkpoint, error) {
	var resp struct {
		Checkpoints []Checkpoint `json:"checkpoints"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/roots?status="+status, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Checkpoints, nil
}

// GetIdentity returns the ledger row at the given leaf index.
func (c *Client) GetIdentity(ctx context.Context, leafIndex uint64) (*Identity, error) {
	var id Identity
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/identities/%d", leafIndex), nil, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

// do issues one JSON request and decodes the response into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
		case http.StatusConflict:
			return fmt.Errorf("%s %s: %w: %s", method, path, ErrConflict, apiErr.Error)
		}
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, apiErr.Error)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
