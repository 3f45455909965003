// Package catalog loads the LiDAR tile index and decorates every tile with its
// resolved acquisition year.
package catalog

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/canlidar/internal/spatial"
	"github.com/sells-group/canlidar/internal/year"
)

// ErrCatalogUnavailable marks a missing or unreadable tile index.
var ErrCatalogUnavailable = eris.New("catalog: tile index unavailable")

// TileRecord is one row of the tile index. Records are values; the geometry
// is never mutated after loading.
type TileRecord struct {
	TileID   string             `json:"tile_id"`
	Project  string             `json:"project"`
	URL      string             `json:"url"`
	Provider string             `json:"provider"`
	Geometry *geom.MultiPolygon `json:"-"`

	ProjectYear *int `json:"project_year"`
	URLYear     *int `json:"url_year"`
	TileYear    *int `json:"tile_year"`
	Year        *int `json:"year"`
}

// NewTileRecord builds a record and derives its year signals. currentYear
// bounds year extraction from the URL and tile name.
func NewTileRecord(tileID, project, url, provider string, g *geom.MultiPolygon, currentYear int) TileRecord {
	r := TileRecord{
		TileID:      tileID,
		Project:     project,
		URL:         url,
		Provider:    provider,
		Geometry:    g,
		ProjectYear: year.ProjectYear(project),
		URLYear:     year.URLYear(url, currentYear),
		TileYear:    year.TileYear(tileID, currentYear),
	}
	r.Year = year.Resolve(r.ProjectYear, r.URLYear, r.TileYear)
	return r
}

// HasYear reports whether the record resolved to an acquisition year.
func (r TileRecord) HasYear() bool { return r.Year != nil }

// Loader reads tile records intersecting an optional filter geometry.
type Loader interface {
	// Load returns every record intersecting filter, or all records when
	// filter is nil. An empty result is not an error.
	Load(ctx context.Context, filter *spatial.QueryGeometry) ([]TileRecord, error)

	// CRS is the native reference system of record geometries.
	CRS() spatial.CRS
}
