// Package homeassistant reads entity state from the Home Assistant REST API and keeps a
// local cache of the states the dashboard watches.
package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/koios/inkboard/pkg/models"
)

const (
	defaultHTTPTimeout  = 10 * time.Second
	maxResponseBodySize = 4 << 20
)

// APIError captures non-2xx responses from Home Assistant.
type APIError struct {
	StatusCode int
	Path       string
	Message    string
	RawBody    []byte
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("homeassistant: %s returned status %d", e.Path, e.StatusCode)
	if m := strings.TrimSpace(e.Message); m != "" {
		msg += ": " + m
	}
	return msg
}

// IsNotFound reports whether err is a 404 from Home Assistant (unknown entity).
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// HistoryPoint is one sample of an entity's state history.
type HistoryPoint struct {
	State       string    `json:"state"`
	LastChanged time.Time `json:"last_changed"`
}

// Client is a bearer-token REST client.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// ClientOption mutates the client during construction.
type ClientOption func(*Client)

// WithHTTPClient installs a custom http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient builds a client for the Home Assistant instance at baseURL.
func NewClient(baseURL, token string, opts ...ClientOption) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("homeassistant: base URL is required")
	}
	c := &Client{
		baseURL: baseURL,
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: defaultHTTPTimeout},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c, nil
}

// GetState fetches the current state of one entity.
func (c *Client) GetState(ctx context.Context, entityID string) (*models.EntityState, error) {
	if strings.TrimSpace(entityID) == "" {
		return nil, errors.New("homeassistant: entity id is required")
	}
	var state models.EntityState
	if err := c.getJSON(ctx, "/api/states/"+url.PathEscape(entityID), nil, &state); err != nil {
		return nil, err
	}
	if state.EntityID == "" {
		state.EntityID = entityID
	}
	return &state, nil
}

// History returns the state history of entityID between start and end.
func (c *Client) History(ctx context.Context, entityID string, start, end time.Time) ([]HistoryPoint, error) {
	query := url.Values{}
	query.Set("filter_entity_id", entityID)
	query.Set("end_time", end.Format(time.RFC3339))
	query.Set("minimal_response", "true")
	query.Set("significant_changes_only", "false")

	var series [][]HistoryPoint
	path := "/api/history/period/" + url.PathEscape(start.Format(time.RFC3339))
	if err := c.getJSON(ctx, path, query, &series); err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return []HistoryPoint{}, nil
	}
	return series[0], nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	if ctx == nil {
		ctx = context.Background()
	}
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("homeassistant: build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("homeassistant: execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return fmt.Errorf("homeassistant: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Path: path, Message: strings.TrimSpace(string(raw)), RawBody: raw}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("homeassistant: decode %s: %w", path, err)
	}

	c.logger.Debug("Home Assistant request completed",
		zap.String("path", path),
		zap.Int("bytes", len(raw)))
	return nil
}
