package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/canlidar/internal/resilience"
)

const nominatimURL = "https://nominatim.openstreetmap.org"

// Nominatim geocodes through an OpenStreetMap Nominatim server. The public
// server allows one request per second, which is the default limit.
type Nominatim struct {
	cfg httpConfig
}

// NewNominatim creates a Nominatim provider.
func NewNominatim(opts ...Option) *Nominatim {
	return &Nominatim{cfg: newHTTPConfig(nominatimURL, 1, opts)}
}

// Name implements Provider.
func (n *Nominatim) Name() string { return "nominatim" }

type nominatimPlace struct {
	Lat         string            `json:"lat"`
	Lon         string            `json:"lon"`
	DisplayName string            `json:"display_name"`
	Address     map[string]string `json:"address"`
	Error       string            `json:"error"`
}

// Geocode implements Client.
func (n *Nominatim) Geocode(ctx context.Context, address string) (*Result, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return &Result{Matched: false, Source: n.Name()}, nil
	}

	params := url.Values{
		"q":      {address},
		"format": {"jsonv2"},
		"limit":  {"1"},
	}
	body, err := n.get(ctx, "/search", params)
	if err != nil {
		return nil, err
	}

	var places []nominatimPlace
	if err := json.Unmarshal(body, &places); err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim parse search response")
	}
	if len(places) == 0 {
		zap.L().Debug("nominatim: no match", zap.String("address", address))
		return &Result{Matched: false, Source: n.Name()}, nil
	}

	lat, latErr := strconv.ParseFloat(places[0].Lat, 64)
	lon, lonErr := strconv.ParseFloat(places[0].Lon, 64)
	if latErr != nil || lonErr != nil {
		return nil, eris.Errorf("geocode: nominatim returned invalid coordinates %q, %q", places[0].Lat, places[0].Lon)
	}

	return &Result{
		Latitude:  lat,
		Longitude: lon,
		Address:   places[0].DisplayName,
		Source:    n.Name(),
		Matched:   true,
	}, nil
}

// ReverseGeocode implements ReverseClient.
func (n *Nominatim) ReverseGeocode(ctx context.Context, lat, lon float64) (*ReverseResult, error) {
	params := url.Values{
		"lat":            {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon":            {strconv.FormatFloat(lon, 'f', -1, 64)},
		"format":         {"jsonv2"},
		"addressdetails": {"1"},
	}
	body, err := n.get(ctx, "/reverse", params)
	if err != nil {
		return nil, err
	}

	var place nominatimPlace
	if err := json.Unmarshal(body, &place); err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim parse reverse response")
	}
	if place.Error != "" || place.DisplayName == "" {
		return &ReverseResult{Matched: false, Source: n.Name()}, nil
	}

	return &ReverseResult{
		Address: place.DisplayName,
		City:    firstNonEmpty(place.Address, "city", "town", "village", "municipality"),
		State:   firstNonEmpty(place.Address, "state", "province"),
		Country: place.Address["country"],
		Source:  n.Name(),
		Matched: true,
	}, nil
}

func (n *Nominatim) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := n.cfg.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim rate limit")
	}

	reqURL := n.cfg.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim build request")
	}
	req.Header.Set("User-Agent", n.cfg.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.cfg.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("geocode: nominatim returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim read body")
	}
	return body, nil
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := m[k]; v != "" {
			return v
		}
	}
	return ""
}
