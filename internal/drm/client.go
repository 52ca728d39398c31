// Package drm is the HTTP client for the device-management platform's
// streams API: device inventory, latest stream values, and stream history.
package drm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ver-mac/DRM-VerMap/internal/httpx"
)

// Point is a single datapoint from a device stream. Timestamp is the
// platform-assigned ISO-8601 UTC string; for these timestamps lexicographic
// order matches chronological order, which the poll cursor relies on.
type Point struct {
	Timestamp string          `json:"timestamp"`
	Value     json.RawMessage `json:"value"`
}

// DeviceRecord is one entry from the device inventory.
type DeviceRecord struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Firmware string `json:"firmware_version"`
}

// ErrUnauthorized is returned when the platform rejects the configured
// credentials. Callers treat it as fatal rather than retryable.
var ErrUnauthorized = errors.New("drm: unauthorized")

// Client talks to the platform REST API using basic auth over the
// retrying httpx client.
type Client struct {
	http     *httpx.Client
	base     string
	username string
	password string
}

// NewClient creates a platform client. Credentials are required; the
// base URL's trailing slash, if any, is dropped.
func NewClient(client *httpx.Client, baseURL, username, password string) (*Client, error) {
	if username == "" || password == "" {
		return nil, errors.New("drm: username and password must be set")
	}
	return &Client{
		http:     client,
		base:     strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
	}, nil
}

type historyEnvelope struct {
	Count int     `json:"count"`
	List  []Point `json:"list"`
}

type inventoryEnvelope struct {
	Count int            `json:"count"`
	List  []DeviceRecord `json:"list"`
}

// FetchHistory returns the datapoints of one device stream, oldest first,
// capped at size. A non-empty since is passed through as the window start;
// the platform's boundary is inclusive, so callers must be prepared to see
// the cursor point again. An unknown stream yields no points, not an error.
func (c *Client) FetchHistory(ctx context.Context, deviceID, stream, since string, size int) ([]Point, error) {
	q := url.Values{}
	q.Set("size", strconv.Itoa(size))
	if since != "" {
		q.Set("start_time", since)
	}
	endpoint := fmt.Sprintf("%s/ws/v1/streams/history/%s/%s?%s",
		c.base, url.PathEscape(deviceID), url.PathEscape(stream), q.Encode())

	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("history fetch: %w", err)
	}
	defer drain(resp)

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err := checkStatus("history", resp); err != nil {
		return nil, err
	}

	var env historyEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode history response: %w", err)
	}
	return env.List, nil
}

// FetchLatest returns the most recent datapoint of one device stream.
// found is false when the platform has no such stream or no datapoints.
func (c *Client) FetchLatest(ctx context.Context, deviceID, stream string) (Point, bool, error) {
	endpoint := fmt.Sprintf("%s/ws/v1/streams/inventory/%s/%s",
		c.base, url.PathEscape(deviceID), url.PathEscape(stream))

	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return Point{}, false, fmt.Errorf("latest fetch: %w", err)
	}
	defer drain(resp)

	if resp.StatusCode == http.StatusNotFound {
		return Point{}, false, nil
	}
	if err := checkStatus("latest", resp); err != nil {
		return Point{}, false, err
	}

	var p Point
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Point{}, false, fmt.Errorf("decode latest response: %w", err)
	}
	if p.Timestamp == "" && len(p.Value) == 0 {
		return Point{}, false, nil
	}
	return p, true, nil
}

// ListDevices returns the device inventory, capped at size. With
// onlyConnected set the platform filters to currently connected devices.
// Records missing a name fall back to the device ID.
func (c *Client) ListDevices(ctx context.Context, onlyConnected bool, size int) ([]DeviceRecord, error) {
	q := url.Values{}
	q.Set("size", strconv.Itoa(size))
	if onlyConnected {
		q.Set("query", "connection_status='connected'")
	}
	endpoint := fmt.Sprintf("%s/ws/v1/devices/inventory?%s", c.base, q.Encode())

	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("device inventory fetch: %w", err)
	}
	defer drain(resp)

	if err := checkStatus("device inventory", resp); err != nil {
		return nil, err
	}

	var env inventoryEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode device inventory: %w", err)
	}

	records := env.List
	for i := range records {
		if records[i].Name == "" {
			records[i].Name = records[i].ID
		}
	}
	return records, nil
}

func (c *Client) get(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.username, c.password)
	return c.http.Do(ctx, req)
}

func checkStatus(op string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%s: status %d", op, resp.StatusCode)
	}
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
