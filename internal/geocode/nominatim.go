package geocode

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
	"time"

	"region-service/internal/config"
	"region-service/internal/geo"
	"region-service/internal/metrics"
)

const maxRetries = 3

type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// NominatimClient queries the OpenStreetMap Nominatim search API.
type NominatimClient struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	retryDelay time.Duration
}

func NewNominatimClient(cfg *config.Config) *NominatimClient {
	return &NominatimClient{
		baseURL:   strings.TrimRight(cfg.Geocoder.URL, "/"),
		userAgent: cfg.Geocoder.UserAgent,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retryDelay: 500 * time.Millisecond,
	}
}

// Resolve returns the coordinates of the best match for address.
func (c *NominatimClient) Resolve(ctx context.Context, address, countryHint string) (geo.Point, error) {
	if c.baseURL == "" {
		return geo.Point{}, fmt.Errorf("geocoder URL is not configured")
	}

	u, err := url.Parse(c.baseURL + "/search")
	if err != nil {
		return geo.Point{}, fmt.Errorf("invalid geocoder URL: %w", err)
	}

	q := u.Query()
	q.Set("q", address)
	q.Set("format", "jsonv2")
	q.Set("limit", "1")
	if countryHint != "" {
		q.Set("countrycodes", strings.ToLower(countryHint))
	}
	u.RawQuery = q.Encode()

	start := time.Now()
	metrics.GeocodeRequestsTotal.Inc()
	pt, err := c.search(ctx, u.String())
	metrics.GeocodeDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000)
	if err != nil && !errors.Is(err, ErrNotFound) {
		metrics.GeocodeFailTotal.Inc()
	}
	return pt, err
}

func (c *NominatimClient) search(ctx context.Context, rawURL string) (geo.Point, error) {
	resp, err := c.do(ctx, rawURL)
	if err != nil {
		return geo.Point{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return geo.Point{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return geo.Point{}, fmt.Errorf("geocoder returned status %d: %s", resp.StatusCode, string(body))
	}

	var places []nominatimPlace
	if err := json.Unmarshal(body, &places); err != nil {
		return geo.Point{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(places) == 0 {
		return geo.Point{}, ErrNotFound
	}

	lat, err := strconv.ParseFloat(places[0].Lat, 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("invalid latitude %q: %w", places[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(places[0].Lon, 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("invalid longitude %q: %w", places[0].Lon, err)
	}

	pt := geo.Point{Lon: lon, Lat: lat}
	if !pt.Valid() {
		return geo.Point{}, fmt.Errorf("geocoder returned out-of-range coordinates %v", pt)
	}
	return pt, nil
}

// do sends the request, retrying transport errors with a linear backoff.
func (c *NominatimClient) do(ctx context.Context, rawURL string) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if attempt == maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * c.retryDelay):
		}
	}
	return nil, fmt.Errorf("failed to execute request after %d attempts: %w", maxRetries, lastErr)
}
