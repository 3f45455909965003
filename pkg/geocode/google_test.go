package geocode

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoogleGeocode_Match(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"status": "OK",
			"results": [{
				"geometry": {"location": {"lat": 45.5017, "lng": -73.5673}},
				"formatted_address": "Montréal, QC, Canada"
			}]
		}`)
	}))
	defer srv.Close()

	g := NewGoogle(
		WithHTTPClient(newRewriteClient(srv.URL, googleGeocodeURL)),
		WithAPIKey("test-key"),
		withTestLimiter(),
	)

	result, err := g.Geocode(context.Background(), "Montreal")
	require.NoError(t, err)
	assert.True(t, result.Matched)
	assert.InDelta(t, 45.5017, result.Latitude, 0.0001)
	assert.InDelta(t, -73.5673, result.Longitude, 0.0001)
	assert.Equal(t, "google", result.Source)
	assert.Equal(t, "test-key", gotKey)
}

func TestGoogleGeocode_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"status": "ZERO_RESULTS", "results": []}`)
	}))
	defer srv.Close()

	g := NewGoogle(WithBaseURL(srv.URL), WithAPIKey("k"), withTestLimiter())
	result, err := g.Geocode(context.Background(), "nowhere")
	require.NoError(t, err)
	assert.False(t, result.Matched)
}

func TestGoogleGeocode_NoKey(t *testing.T) {
	g := NewGoogle(withTestLimiter())
	_, err := g.Geocode(context.Background(), "Montreal")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key")
}

func TestGoogleGeocode_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	g := NewGoogle(WithBaseURL(srv.URL), WithAPIKey("k"), withTestLimiter())
	_, err := g.Geocode(context.Background(), "Montreal")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}

func TestGoogleReverse_Locality(t *testing.T) {
	var gotLatLng string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLatLng = r.URL.Query().Get("latlng")
		_, _ = io.WriteString(w, `{
			"status": "OK",
			"results": [{
				"formatted_address": "Rue Sainte-Catherine, Montréal, QC, Canada",
				"address_components": [
					{"long_name": "Montréal", "types": ["locality", "political"]},
					{"long_name": "Québec", "types": ["administrative_area_level_1", "political"]},
					{"long_name": "Canada", "types": ["country", "political"]}
				]
			}]
		}`)
	}))
	defer srv.Close()

	g := NewGoogle(WithBaseURL(srv.URL), WithAPIKey("k"), withTestLimiter())
	result, err := g.ReverseGeocode(context.Background(), 45.5, -73.57)
	require.NoError(t, err)
	assert.True(t, result.Matched)
	assert.Equal(t, "Montréal", result.City)
	assert.Equal(t, "Québec", result.State)
	assert.Equal(t, "Canada", result.Country)
	assert.Equal(t, "45.5,-73.57", gotLatLng)
}
