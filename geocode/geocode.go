// Package geocode resolves coordinates to a human readable place name through a
// Nominatim-compatible reverse geocoding endpoint.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	cache "github.com/patrickmn/go-cache"
)

const (
	DefaultTimeout = 3 * time.Second
	userAgent      = "incident-watch/1.0"
)

var (
	ErrDisabled           = errors.New("reverse geocoding is disabled")
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	ErrNoResult           = errors.New("no place found for coordinates")
)

// ValidCoordinates reports whether lat/lng are within WGS84 bounds.
func ValidCoordinates(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// Client is a reverse geocoder with an in-memory result cache.
type Client struct {
	baseURL string
	http    *http.Client
	cache   *cache.Cache
}

// NewClient returns a client for baseURL. An empty baseURL yields a client whose
// Reverse always fails with ErrDisabled.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		// Cache entries for 24h, purge every hour
		cache: cache.New(24*time.Hour, time.Hour),
	}
}

type reverseResponse struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
}

// cacheKey rounds to roughly 11m so nearby reports share a lookup.
func cacheKey(lat, lng float64) string {
	return strconv.FormatFloat(lat, 'f', 4, 64) + "," + strconv.FormatFloat(lng, 'f', 4, 64)
}

// Reverse returns the display name for lat/lng.
func (c *Client) Reverse(ctx context.Context, lat, lng float64) (string, error) {
	if c == nil || c.baseURL == "" {
		return "", ErrDisabled
	}
	if !ValidCoordinates(lat, lng) {
		return "", ErrInvalidCoordinates
	}

	key := cacheKey(lat, lng)
	if v, ok := c.cache.Get(key); ok {
		if name, ok := v.(string); ok {
			return name, nil
		}
	}

	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(lng, 'f', 6, 64))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reverse geocode failed, status: %d", resp.StatusCode)
	}

	var body reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode reverse geocode response: %w", err)
	}
	if body.Error != "" || body.DisplayName == "" {
		return "", ErrNoResult
	}

	c.cache.Set(key, body.DisplayName, cache.DefaultExpiration)
	return body.DisplayName, nil
}

// MapURL links to the coordinates on OpenStreetMap.
func MapURL(lat, lng float64) string {
	return fmt.Sprintf("https://www.openstreetmap.org/?mlat=%.6f&mlon=%.6f#map=17/%.6f/%.6f", lat, lng, lat, lng)
}
