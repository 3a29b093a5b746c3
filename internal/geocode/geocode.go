package geocode

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

	"github.com/atmosdeck/weather-dashboard-service/internal/cache"
)

// ErrCityNotFound is returned when the geocoding API has no result for the
// requested name. Surfaces as a 404 at the HTTP boundary.
var ErrCityNotFound = errors.New("city not found")

// resultTTL is how long a geocode result stays cached. City coordinates do
// not move; 24h keeps the entry fresh enough for renames.
const resultTTL = 24 * time.Hour

// Result is a resolved place: canonical name plus coordinates. The canonical
// City is what responses report regardless of how the query was spelled.
type Result struct {
	City        string  `json:"city"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Timezone    string  `json:"timezone"`
}

// Geocoder resolves a city name to coordinates. Implemented by Client;
// consumers depend on the interface so tests can stub resolution.
type Geocoder interface {
	Resolve(ctx context.Context, city string) (Result, error)
}

// Client resolves city names through the Open-Meteo geocoding API, caching
// results in the tiered cache keyed by the normalized name. Geocoding runs
// before every weather cache lookup, which is what makes weather cache keys
// insensitive to spelling and capitalization.
type Client struct {
	baseURL string
	client  *http.Client
	cache   *cache.TieredCache
	logger  *zap.Logger
}

// NewClient creates a geocoding client. baseURL defaults to the public
// Open-Meteo geocoding endpoint.
func NewClient(baseURL string, timeout time.Duration, c *cache.TieredCache, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://geocoding-api.open-meteo.com/v1/search"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		cache:   c,
		logger:  logger,
	}
}

// cacheKey normalizes the city name so "Seattle", "seattle" and " SEATTLE "
// share one entry.
func cacheKey(city string) string {
	return "geocode:" + strings.ToLower(strings.TrimSpace(city))
}

// Resolve returns the canonical place for city, from cache when possible.
func (c *Client) Resolve(ctx context.Context, city string) (Result, error) {
	key := cacheKey(city)
	if lookup := c.cache.Get(ctx, key); lookup.Found {
		var cached Result
		if err := json.Unmarshal(lookup.Value, &cached); err == nil {
			return cached, nil
		}
		// Unreadable entry: drop it and fall through to a live resolve.
		c.cache.Delete(ctx, key)
	}

	result, err := c.resolveUpstream(ctx, city)
	if err != nil {
		return Result{}, err
	}

	if raw, err := json.Marshal(result); err == nil {
		c.cache.Set(ctx, key, raw, resultTTL)
	}
	return result, nil
}

type geocodeResponse struct {
	Results []struct {
		Name        string  `json:"name"`
		Latitude    float64 `json:"latitude"`
		Longitude   float64 `json:"longitude"`
		Country     string  `json:"country"`
		CountryCode string  `json:"country_code"`
		Timezone    string  `json:"timezone"`
	} `json:"results"`
}

func (c *Client) resolveUpstream(ctx context.Context, city string) (Result, error) {
	params := url.Values{}
	params.Set("name", strings.TrimSpace(city))
	params.Set("count", "1")
	params.Set("language", "en")
	params.Set("format", "json")

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return Result{}, fmt.Errorf("invalid geocoding URL: %w", err)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("geocoding upstream: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read response body: %w", err)
	}
	var decoded geocodeResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Result{}, fmt.Errorf("parse response: %w", err)
	}
	if len(decoded.Results) == 0 {
		return Result{}, fmt.Errorf("%w: %s", ErrCityNotFound, city)
	}

	first := decoded.Results[0]
	c.logger.Debug("geocoded city",
		zap.String("query", city),
		zap.String("canonical", first.Name),
		zap.Float64("lat", first.Latitude),
		zap.Float64("lon", first.Longitude))

	return Result{
		City:        first.Name,
		Country:     first.Country,
		CountryCode: first.CountryCode,
		Lat:         first.Latitude,
		Lon:         first.Longitude,
		Timezone:    first.Timezone,
	}, nil
}
