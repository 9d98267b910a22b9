// Package sunsethue fetches sunset quality forecasts and formats them for dashboard tiles.
package sunsethue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nathan-osman/go-sunrise"
	"go.uber.org/zap"
)

const (
	// DefaultBaseURL is the forecast API host.
	DefaultBaseURL = "https://api.sunsethue.com"

	eventEndpoint       = "/event"
	defaultHTTPTimeout  = 10 * time.Second
	maxResponseBodySize = 1 << 20

	// NotAvailable is shown for times the forecast does not provide.
	NotAvailable = "Not available"
	timeLayout   = "03:04 PM"
)

// Event is the forecast API response.
type Event struct {
	Data *EventData `json:"data"`
}

// EventData is one sunset forecast.
type EventData struct {
	Quality     *float64 `json:"quality"`
	QualityText string   `json:"quality_text"`
	CloudCover  *float64 `json:"cloud_cover"`
	Magics      struct {
		GoldenHour []string `json:"golden_hour"`
		BlueHour   []string `json:"blue_hour"`
	} `json:"magics"`
}

// Forecast is the display form handed to tiles.
type Forecast struct {
	Quality     string
	QualityText string
	CloudCover  string
	GoldenHour  string
	BlueHour    string
	Sunset      string
}

// Client queries the forecast API for one location.
type Client struct {
	baseURL   string
	apiKey    string
	latitude  float64
	longitude float64
	http      *http.Client
	logger    *zap.Logger
}

// ClientOption mutates the client during construction.
type ClientOption func(*Client)

// WithBaseURL overrides the API host.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithHTTPClient installs a custom http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client for the given API key and coordinates.
func NewClient(apiKey string, latitude, longitude float64, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		apiKey:    strings.TrimSpace(apiKey),
		latitude:  latitude,
		longitude: longitude,
		http:      &http.Client{Timeout: defaultHTTPTimeout},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// Fetch requests the sunset forecast for date.
func (c *Client) Fetch(ctx context.Context, date time.Time) (*Event, error) {
	if c.apiKey == "" {
		return nil, errors.New("sunsethue: API key is required")
	}
	query := url.Values{}
	query.Set("key", c.apiKey)
	query.Set("latitude", strconv.FormatFloat(c.latitude, 'f', -1, 64))
	query.Set("longitude", strconv.FormatFloat(c.longitude, 'f', -1, 64))
	query.Set("date", date.Format("2006-01-02"))
	query.Set("type", "sunset")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+eventEndpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("sunsethue: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sunsethue: execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("sunsethue: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("sunsethue: API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("sunsethue: decode response: %w", err)
	}
	return &event, nil
}

// Forecast fetches and formats today's forecast. The API failing still yields a forecast
// carrying the locally computed sunset time.
func (c *Client) Forecast(ctx context.Context, now time.Time, loc *time.Location) Forecast {
	event, err := c.Fetch(ctx, now.In(loc))
	if err != nil {
		c.logger.Warn("Sunset forecast unavailable", zap.Error(err))
	}
	f := Format(event, loc)
	f.Sunset = SunsetTime(c.latitude, c.longitude, now, loc)
	return f
}

// Format converts a raw event to display strings in loc.
func Format(event *Event, loc *time.Location) Forecast {
	f := Forecast{
		Quality:     NotAvailable,
		QualityText: NotAvailable,
		CloudCover:  NotAvailable,
		GoldenHour:  NotAvailable,
		BlueHour:    NotAvailable,
		Sunset:      NotAvailable,
	}
	if event == nil || event.Data == nil {
		return f
	}
	d := event.Data
	if d.Quality != nil {
		f.Quality = percent(*d.Quality)
	}
	if d.QualityText != "" {
		f.QualityText = d.QualityText
	}
	if d.CloudCover != nil {
		f.CloudCover = percent(*d.CloudCover)
	}
	f.GoldenHour = formatHour(d.Magics.GoldenHour, loc)
	f.BlueHour = formatHour(d.Magics.BlueHour, loc)
	return f
}

// SunsetTime computes the local sunset for the day of now.
func SunsetTime(latitude, longitude float64, now time.Time, loc *time.Location) string {
	local := now.In(loc)
	_, set := sunrise.SunriseSunset(latitude, longitude, local.Year(), local.Month(), local.Day())
	if set.IsZero() {
		return NotAvailable
	}
	return set.In(loc).Format(timeLayout)
}

func formatHour(window []string, loc *time.Location) string {
	if len(window) == 0 || window[0] == "" {
		return NotAvailable
	}
	t, err := time.Parse(time.RFC3339, window[0])
	if err != nil {
		return NotAvailable
	}
	return t.In(loc).Format(timeLayout)
}

func percent(v float64) string {
	return strconv.Itoa(int(math.Round(v*100))) + "%"
}

// Config returns the forecast as tile config keys.
func (f Forecast) Config() map[string]string {
	return map[string]string{
		"sunset_quality":      f.Quality,
		"sunset_quality_text": f.QualityText,
		"sunset_cloud_cover":  f.CloudCover,
		"sunset_golden_hour":  f.GoldenHour,
		"sunset_blue_hour":    f.BlueHour,
		"sunset_time":         f.Sunset,
	}
}
