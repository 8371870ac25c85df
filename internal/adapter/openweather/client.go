// Package openweather fetches the 5-day/3-hour forecast from the OpenWeather API.
package openweather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/couchcryptid/weather-ingest/internal/domain"
	"github.com/couchcryptid/weather-ingest/internal/retry"
)

// DefaultBaseURL is the forecast endpoint.
const DefaultBaseURL = "https://api.openweathermap.org/data/2.5/forecast"

// ErrMissingList is returned when a 200 response has no "list" array.
var ErrMissingList = errors.New("forecast response has no list")

// Client retrieves forecast records for one location.
type Client struct {
	apiKey     string
	lat, lon   float64
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy
	logger     *slog.Logger
}

// Options configures a Client.
type Options struct {
	APIKey    string
	Latitude  float64
	Longitude float64
	BaseURL   string        // defaults to DefaultBaseURL
	Timeout   time.Duration // per request
	Retry     retry.Policy
}

// NewClient creates a forecast client. An empty API key is allowed; the
// request is still attempted and the API decides.
func NewClient(opts Options, logger *slog.Logger) *Client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	c := &Client{
		apiKey:  opts.APIKey,
		lat:     opts.Latitude,
		lon:     opts.Longitude,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		logger: logger,
	}

	c.policy = opts.Retry
	onRetry := opts.Retry.OnRetry
	c.policy.OnRetry = func(attempt int, wait time.Duration, err error) {
		c.logger.Warn("forecast fetch failed, retrying",
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
		if onRetry != nil {
			onRetry(attempt, wait, err)
		}
	}

	if c.apiKey == "" {
		logger.Warn("OpenWeather API key is empty")
	}

	return c
}

// Name identifies the source in logs and reports.
func (c *Client) Name() string { return "openweather" }

// Records fetches the forecast and wraps every list item as a raw record.
func (c *Client) Records(ctx context.Context) ([]domain.RawRecord, error) {
	resp, err := c.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]domain.RawRecord, 0, len(resp.List))
	for _, item := range resp.List {
		records = append(records, domain.ForecastRecord(item))
	}
	return records, nil
}

// Fetch performs the HTTP request under the retry policy. The error after
// the last failed attempt wraps retry.ErrExhausted.
func (c *Client) Fetch(ctx context.Context) (domain.ForecastResponse, error) {
	resp, err := retry.DoValue(ctx, c.policy, c.fetchOnce)
	if err != nil {
		return domain.ForecastResponse{}, fmt.Errorf("fetch forecast: %w", err)
	}

	c.logger.Info("forecast fetched", "items", len(resp.List))
	return resp, nil
}

func (c *Client) fetchOnce(ctx context.Context) (domain.ForecastResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(), nil)
	if err != nil {
		return domain.ForecastResponse{}, retry.Permanent(fmt.Errorf("create request: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.ForecastResponse{}, fmt.Errorf("forecast request: %w", c.redact(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.ForecastResponse{}, fmt.Errorf("openweather API error: status %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		List *[]domain.ForecastItem `json:"list"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.ForecastResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if payload.List == nil {
		return domain.ForecastResponse{}, ErrMissingList
	}

	return domain.ForecastResponse{List: *payload.List}, nil
}

func (c *Client) requestURL() string {
	params := url.Values{
		"lat":   {strconv.FormatFloat(c.lat, 'f', -1, 64)},
		"lon":   {strconv.FormatFloat(c.lon, 'f', -1, 64)},
		"appid": {c.apiKey},
		"units": {"metric"},
	}
	return c.baseURL + "?" + params.Encode()
}

// redact strips the API key from URLs embedded in transport errors.
func (c *Client) redact(err error) error {
	var ue *url.Error
	if c.apiKey == "" || !errors.As(err, &ue) {
		return err
	}
	u, perr := url.Parse(ue.URL)
	if perr != nil {
		return err
	}
	q := u.Query()
	q.Set("appid", "REDACTED")
	u.RawQuery = q.Encode()
	return &url.Error{Op: ue.Op, URL: u.String(), Err: ue.Err}
}
