package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/canlidar/internal/resilience"
)

const googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

// Google geocodes through the Google Geocoding API.
type Google struct {
	cfg httpConfig
}

// NewGoogle creates a Google provider. WithAPIKey is required for requests
// to succeed.
func NewGoogle(opts ...Option) *Google {
	return &Google{cfg: newHTTPConfig(googleGeocodeURL, 50, opts)}
}

// Name implements Provider.
func (g *Google) Name() string { return "google" }

// googleGeocodeResponse is the JSON response from the Google Geocoding API.
type googleGeocodeResponse struct {
	Results []googleResult `json:"results"`
	Status  string         `json:"status"`
}

type googleResult struct {
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
	FormattedAddress  string `json:"formatted_address"`
	AddressComponents []struct {
		LongName string   `json:"long_name"`
		Types    []string `json:"types"`
	} `json:"address_components"`
}

func (r googleResult) component(kind string) string {
	for _, c := range r.AddressComponents {
		for _, t := range c.Types {
			if t == kind {
				return c.LongName
			}
		}
	}
	return ""
}

// Geocode implements Client.
func (g *Google) Geocode(ctx context.Context, address string) (*Result, error) {
	resp, err := g.query(ctx, url.Values{"address": {address}})
	if err != nil {
		return nil, err
	}
	if resp.Status != "OK" || len(resp.Results) == 0 {
		return &Result{Matched: false, Source: g.Name()}, nil
	}

	r := resp.Results[0]
	return &Result{
		Latitude:  r.Geometry.Location.Lat,
		Longitude: r.Geometry.Location.Lng,
		Address:   r.FormattedAddress,
		Source:    g.Name(),
		Matched:   true,
	}, nil
}

// ReverseGeocode implements ReverseClient.
func (g *Google) ReverseGeocode(ctx context.Context, lat, lon float64) (*ReverseResult, error) {
	latlng := strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lon, 'f', -1, 64)
	resp, err := g.query(ctx, url.Values{"latlng": {latlng}})
	if err != nil {
		return nil, err
	}
	if resp.Status != "OK" || len(resp.Results) == 0 {
		return &ReverseResult{Matched: false, Source: g.Name()}, nil
	}

	r := resp.Results[0]
	return &ReverseResult{
		Address: r.FormattedAddress,
		City:    r.component("locality"),
		State:   r.component("administrative_area_level_1"),
		Country: r.component("country"),
		Source:  g.Name(),
		Matched: true,
	}, nil
}

func (g *Google) query(ctx context.Context, params url.Values) (*googleGeocodeResponse, error) {
	if g.cfg.apiKey == "" {
		return nil, eris.New("geocode: google api key not configured")
	}

	if err := g.cfg.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: google rate limit")
	}

	params.Set("key", g.cfg.apiKey)
	reqURL := g.cfg.baseURL + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google build request")
	}

	resp, err := g.cfg.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("geocode: google returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google read body")
	}

	var googleResp googleGeocodeResponse
	if err := json.Unmarshal(body, &googleResp); err != nil {
		return nil, eris.Wrap(err, "geocode: google parse response")
	}
	return &googleResp, nil
}
