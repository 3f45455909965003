// Package geocode provides forward and reverse geocoding via Nominatim
// (primary) and Google (fallback), with an optional result cache.
package geocode

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Client geocodes free-text addresses.
type Client interface {
	// Geocode resolves an address to a point. A miss is returned as
	// Result{Matched: false} with a nil error.
	Geocode(ctx context.Context, address string) (*Result, error)
}

// ReverseClient labels a coordinate with a human-readable place.
type ReverseClient interface {
	// ReverseGeocode resolves a point to an address. A miss is returned as
	// ReverseResult{Matched: false} with a nil error.
	ReverseGeocode(ctx context.Context, lat, lon float64) (*ReverseResult, error)
}

// Geocoder is both a forward and a reverse geocoder.
type Geocoder interface {
	Client
	ReverseClient
}

// Provider is a named geocoding backend usable in a Cascade.
type Provider interface {
	Geocoder
	Name() string
}

// Result holds the forward geocoding output for an address.
type Result struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"` // formatted address reported by the provider
	Source    string  `json:"source"`            // "nominatim" or "google"
	Matched   bool    `json:"matched"`
}

// ReverseResult holds the result of a reverse geocode operation.
type ReverseResult struct {
	Address string `json:"address"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Country string `json:"country,omitempty"`
	Source  string `json:"source"`
	Matched bool   `json:"matched"`
}

// Option configures an HTTP geocoding provider.
type Option func(*httpConfig)

type httpConfig struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	apiKey     string
	limiter    *rate.Limiter
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpConfig) {
		c.httpClient = hc
	}
}

// WithBaseURL overrides the provider endpoint, e.g. a self-hosted Nominatim.
func WithBaseURL(u string) Option {
	return func(c *httpConfig) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithUserAgent sets the User-Agent header. Nominatim rejects requests
// without an identifying agent.
func WithUserAgent(ua string) Option {
	return func(c *httpConfig) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithAPIKey sets the provider API key.
func WithAPIKey(key string) Option {
	return func(c *httpConfig) {
		c.apiKey = key
	}
}

// WithRateLimit sets the requests-per-second limit.
func WithRateLimit(rps float64) Option {
	return func(c *httpConfig) {
		if rps <= 0 {
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func newHTTPConfig(baseURL string, rps float64, opts []Option) httpConfig {
	c := httpConfig{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		userAgent:  "canlidar/1.0",
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
