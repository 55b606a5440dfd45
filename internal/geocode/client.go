package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	appErrors "geobatch-backend/pkg/errors"
)

// ClientConfig holds settings for the engine HTTP client.
type ClientConfig struct {
	BaseURL     string
	Timeout     time.Duration
	ResultLimit int
	// Circuit breaker settings; a failing engine trips the breaker so a
	// large batch fails fast instead of hammering a dead upstream.
	BreakerThreshold float64
	BreakerMinCalls  uint32
	BreakerOpenFor   time.Duration
}

// Client talks to the geocoding engine over its HTTP API. All failures are
// returned as per-row GeocodeCallFailed errors; the caller decides whether
// they abort anything.
type Client struct {
	baseURL string
	limit   int
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewClient creates an engine client with a circuit breaker.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	limit := cfg.ResultLimit
	if limit <= 0 {
		limit = 1
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "geocoder",
		Timeout: cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.BreakerMinCalls {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.BreakerThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})

	return &Client{
		baseURL: cfg.BaseURL,
		limit:   limit,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
	}
}

// Search implements Geocoder.
func (c *Client) Search(ctx context.Context, query string, bias *LatLon, filters map[string]string) ([]Candidate, error) {
	params := url.Values{}
	params.Set("q", query)
	if bias != nil {
		params.Set("lat", formatCoord(bias.Lat))
		params.Set("lon", formatCoord(bias.Lon))
	}
	return c.call(ctx, "/search", params, filters)
}

// Reverse implements Geocoder.
func (c *Client) Reverse(ctx context.Context, lat, lon float64, filters map[string]string) ([]Candidate, error) {
	params := url.Values{}
	params.Set("lat", formatCoord(lat))
	params.Set("lon", formatCoord(lon))
	return c.call(ctx, "/reverse", params, filters)
}

func (c *Client) call(ctx context.Context, path string, params url.Values, filters map[string]string) ([]Candidate, error) {
	params.Set("limit", strconv.Itoa(c.limit))
	for key, val := range filters {
		params.Set(key, val)
	}

	result, err := c.breaker.Execute(func() (any, error) {
		return c.doRequest(ctx, path, params)
	})
	if err != nil {
		return nil, appErrors.NewGeocodeCall(fmt.Sprintf("engine %s call failed", path), err)
	}
	return result.([]Candidate), nil
}

func (c *Client) doRequest(ctx context.Context, path string, params url.Values) ([]Candidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("engine returned status %d", resp.StatusCode)
	}

	var payload featureCollection
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding engine response: %w", err)
	}

	candidates := make([]Candidate, 0, len(payload.Features))
	for _, f := range payload.Features {
		cand := Candidate{
			Label:    f.Properties.Label,
			Score:    f.Properties.Score,
			Postcode: f.Properties.Postcode,
			City:     f.Properties.City,
			Context:  f.Properties.Context,
		}
		if len(f.Geometry.Coordinates) == 2 {
			cand.Lon = f.Geometry.Coordinates[0]
			cand.Lat = f.Geometry.Coordinates[1]
		}
		candidates = append(candidates, cand)
	}
	return candidates, nil
}

// featureCollection mirrors the engine's GeoJSON response shape.
type featureCollection struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			Label    string  `json:"label"`
			Score    float64 `json:"score"`
			Postcode string  `json:"postcode"`
			City     string  `json:"city"`
			Context  string  `json:"context"`
		} `json:"properties"`
	} `json:"features"`
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
