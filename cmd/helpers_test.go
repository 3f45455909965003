package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/canlidar/internal/catalog"
	"github.com/sells-group/canlidar/internal/query"
	"github.com/sells-group/canlidar/internal/resolver"
	"github.com/sells-group/canlidar/internal/spatial"
	"github.com/sells-group/canlidar/internal/store"
	"github.com/sells-group/canlidar/pkg/geocode"
)

func intPtr(v int) *int { return &v }

type stubResolver struct {
	res      *resolver.QueryResult
	err      error
	gotYear  *int
	gotQuery spatial.QueryGeometry
}

func (s *stubResolver) Resolve(_ context.Context, q spatial.QueryGeometry, year *int) (*resolver.QueryResult, error) {
	s.gotQuery, s.gotYear = q, year
	if s.err != nil {
		return nil, s.err
	}
	r := *s.res
	r.Geometry = q
	return &r, nil
}

type stubGeocoder struct{ result *geocode.Result }

func (s stubGeocoder) Geocode(context.Context, string) (*geocode.Result, error) {
	return s.result, nil
}

type stubBoundaries struct{}

func (stubBoundaries) Lookup(ctx context.Context, name string) (spatial.QueryGeometry, error) {
	if name == "Ottawa" {
		return spatial.Rectangle(-76.35, 44.96, -75.24, 45.54, spatial.WGS84)
	}
	return spatial.QueryGeometry{}, query.ErrUnknownArea
}

func torontoResult() *resolver.QueryResult {
	return &resolver.QueryResult{
		QueryAreaKM2: 22.4,
		BBoxAreaKM2:  179.1,
		Years:        []int{2023},
		FileCount:    2,
		TileCount:    2,
		ProjectNames: []string{"TORONTO_2023"},
		Providers:    []string{"ON"},
		URLs:         []string{"https://example.ca/a.laz", "https://example.ca/b.laz"},
		City:         "Toronto",
		UTMCRS:       "EPSG:32617",
		Tiles: []catalog.TileRecord{
			{TileID: "a", Project: "TORONTO_2023", URL: "https://example.ca/a.laz", Provider: "ON", Year: intPtr(2023)},
			{TileID: "b", Project: "TORONTO_2023", URL: "https://example.ca/b.laz", Provider: "ON", Year: intPtr(2023)},
		},
	}
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "history.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestEnv(t *testing.T, r *stubResolver, withStore bool) *appEnv {
	t.Helper()
	env := &appEnv{
		Deps: query.Deps{
			Geocoder:   stubGeocoder{result: &geocode.Result{Latitude: 43.65, Longitude: -79.38, Matched: true}},
			Boundaries: stubBoundaries{},
		},
		Resolver: r,
	}
	if withStore {
		env.Store = newTestStore(t)
	}
	return env
}
