package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/banshee-data/journey.report/internal/db"
	"github.com/banshee-data/journey.report/internal/httputil"
)

// Client talks to a running journey server. The CLI subcommands use it.
type Client struct {
	BaseURL string
	HTTP    httputil.HTTPClient
}

// NewClient returns a Client for baseURL, e.g. "http://localhost:8080".
func NewClient(baseURL string, c httputil.HTTPClient) *Client {
	if c == nil {
		c = httputil.NewStandardClient(nil)
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: c}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, apiErr.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Simulate asks the server to record a simulated trip.
func (c *Client) Simulate(ctx context.Context) (*db.Journey, error) {
	var j db.Journey
	if err := c.do(ctx, http.MethodPost, "/api/simulate", nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Status fetches the server status.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var s StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SetDebugMode toggles the simulated trip source and returns the new value.
func (c *Client) SetDebugMode(ctx context.Context, on bool) (bool, error) {
	var out struct {
		DebugMode bool `json:"debug_mode"`
	}
	if err := c.do(ctx, http.MethodPut, "/api/debug", map[string]bool{"debug_mode": on}, &out); err != nil {
		return false, err
	}
	return out.DebugMode, nil
}

// MarkSent marks a journey as delivered to the backend.
func (c *Client) MarkSent(ctx context.Context, id string) (*db.Journey, error) {
	var j db.Journey
	if err := c.do(ctx, http.MethodPost, "/api/journeys/"+id+"/sent", nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Pending lists the journeys not yet sent.
func (c *Client) Pending(ctx context.Context) ([]db.Journey, error) {
	var js []db.Journey
	if err := c.do(ctx, http.MethodGet, "/api/journeys?status=PENDING", nil, &js); err != nil {
		return nil, err
	}
	return js, nil
}
