// Package device talks to the e-paper panel controller over its plain HTTP protocol.
//
// The controller exposes four endpoints:
//
//	GET  /       panel geometry in the width, height and temperature headers
//	GET  /free   free working memory in bytes (plain-text integer)
//	POST /clear  wipe the canvas
//	POST /draw   draw one packed strip described by the width, height, x, y, clear and bw headers
//
// Requests are never retried; every failure is surfaced as a typed error.
package device

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultTimeout bounds every request to the controller.
	DefaultTimeout = 5 * time.Second

	rootPath  = "/"
	freePath  = "/free"
	clearPath = "/clear"
	drawPath  = "/draw"

	defaultUserAgent    = "inkboard/1.0"
	maxResponseBodySize = 1 << 20
)

// Response is a fully read controller response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DrawRequest describes one strip sent to POST /draw.
type DrawRequest struct {
	X      int
	Y      int
	Width  int
	Height int
	// Clear asks the controller to wipe the canvas before drawing.
	Clear bool
	// Mono selects the 1-bit (8 pixels per byte) decoder; otherwise 4-bit gray.
	Mono    bool
	Payload []byte
}

// Client is a minimal HTTP client for one controller.
type Client struct {
	baseURL   string
	http      *http.Client
	timeout   time.Duration
	logger    *zap.Logger
	userAgent string
}

// ClientOption mutates the client during construction.
type ClientOption func(*Client)

// WithHTTPClient installs a custom http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithUserAgent sets a custom User-Agent string.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient builds a client for host, given as "host[:port]" or a full http:// URL.
func NewClient(host string, opts ...ClientOption) (*Client, error) {
	baseURL, err := sanitizeHost(host)
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL:   baseURL,
		timeout:   DefaultTimeout,
		logger:    zap.NewNop(),
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: c.timeout}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c, nil
}

func sanitizeHost(host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", fmt.Errorf("device: host is required")
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	return strings.TrimRight(host, "/"), nil
}

// BaseURL returns the normalized controller URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get issues a GET request against path.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil, nil)
}

// Post issues a POST request against path. Header keys are sent verbatim.
func (c *Client) Post(ctx context.Context, path string, header map[string]string, body []byte) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, header, body)
}

// Info reads the panel geometry and temperature.
func (c *Client) Info(ctx context.Context) (Info, error) {
	resp, err := c.Get(ctx, rootPath)
	if err != nil {
		return Info{}, err
	}
	return InfoFromHeader(resp.Header)
}

// FreeMemory reads the number of free bytes in the controller's working memory.
func (c *Client) FreeMemory(ctx context.Context) (uint32, error) {
	resp, err := c.Get(ctx, freePath)
	if err != nil {
		return 0, err
	}
	raw := strings.TrimSpace(string(resp.Body))
	free, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, &ProtocolError{Path: freePath, Field: "body", Value: raw, Reason: "is not an unsigned integer"}
	}
	return uint32(free), nil
}

// Clear wipes the panel canvas.
func (c *Client) Clear(ctx context.Context) error {
	_, err := c.Post(ctx, clearPath, nil, nil)
	return err
}

// Draw uploads one packed strip.
func (c *Client) Draw(ctx context.Context, req DrawRequest) error {
	header := map[string]string{
		"width":        strconv.Itoa(req.Width),
		"height":       strconv.Itoa(req.Height),
		"x":            strconv.Itoa(req.X),
		"y":            strconv.Itoa(req.Y),
		"clear":        flag(req.Clear),
		"bw":           flag(req.Mono),
		"Content-Type": "application/octet-stream",
	}
	_, err := c.Post(ctx, drawPath, header, req.Payload)
	return err
}

func flag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func (c *Client) do(ctx context.Context, method, path string, header map[string]string, body []byte) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("device: build request: %w", err)
	}
	for k, v := range header {
		// The controller matches header names literally.
		req.Header[k] = []string{v}
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, &NetworkError{Method: method, Path: path, Err: fmt.Errorf("read response: %w", err)}
	}

	c.logger.Debug("Device request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Int("request_bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &DeviceError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(raw)),
			RawBody:    raw,
		}
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: raw}, nil
}
