// Package resolver turns a query geometry into a QueryResult: the catalog
// tiles it covers, narrowed to the acquisition year closest to a target.
package resolver

import (
	"context"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/canlidar/internal/catalog"
	"github.com/sells-group/canlidar/internal/spatial"
	"github.com/sells-group/canlidar/pkg/geocode"
)

// ErrNoMatch means no catalog tile covers the query (or none near the
// requested year). It is an expected outcome, not a failure.
var ErrNoMatch = eris.New("resolver: no tiles match the query")

// QueryResult describes the tiles matched by one query.
type QueryResult struct {
	QueryAreaM2  float64 `json:"query_area_m2" yaml:"query_area_m2"`
	QueryAreaKM2 float64 `json:"query_area_km2" yaml:"query_area_km2"`
	BBoxAreaM2   float64 `json:"bbox_area_m2" yaml:"bbox_area_m2"`
	BBoxAreaKM2  float64 `json:"bbox_area_km2" yaml:"bbox_area_km2"`

	Years        []int    `json:"years" yaml:"years"`
	FileCount    int      `json:"file_count" yaml:"file_count"`
	TileCount    int      `json:"tile_count" yaml:"tile_count"`
	TileIDs      []string `json:"tile_ids" yaml:"tile_ids"`
	ProjectNames []string `json:"project_names" yaml:"project_names"`
	Providers    []string `json:"providers" yaml:"providers"`
	URLs         []string `json:"urls" yaml:"urls"`

	City    string `json:"city" yaml:"city"`
	Address string `json:"address" yaml:"address"`

	BBox         [4]float64 `json:"bbox" yaml:"bbox"`
	BBoxCentroid [2]float64 `json:"bbox_centroid" yaml:"bbox_centroid"`
	CRS          string     `json:"crs" yaml:"crs"`
	EPSGCode     int        `json:"epsg_code" yaml:"epsg_code"`
	UTMCRS       string     `json:"utm_crs" yaml:"utm_crs"`

	// AmbiguousYears lists the two years that were equally close to the
	// target year. The more recent one was kept.
	AmbiguousYears []int `json:"ambiguous_years,omitempty" yaml:"ambiguous_years,omitempty"`

	Geometry spatial.QueryGeometry `json:"-" yaml:"-"`
	Tiles    []catalog.TileRecord  `json:"-" yaml:"-"`
}

// Resolver answers spatial queries against a tile catalog.
type Resolver struct {
	loader  catalog.Loader
	reverse geocode.ReverseClient
	log     *zap.Logger
}

// New creates a Resolver. reverse may be nil, in which case results carry
// no place label.
func New(loader catalog.Loader, reverse geocode.ReverseClient) *Resolver {
	return &Resolver{
		loader:  loader,
		reverse: reverse,
		log:     zap.L().With(zap.String("component", "resolver")),
	}
}

// Resolve matches q against the catalog. When targetYear is set only the
// tiles of the closest available year are kept.
func (r *Resolver) Resolve(ctx context.Context, q spatial.QueryGeometry, targetYear *int) (*QueryResult, error) {
	if q.IsZero() {
		return nil, eris.New("resolver: empty query geometry")
	}

	records, err := r.loader.Load(ctx, &q)
	if err != nil {
		return nil, eris.Wrap(err, "resolver: load catalog")
	}
	if len(records) == 0 {
		return nil, ErrNoMatch
	}

	var tied []int
	if targetYear != nil {
		kept, chosen, t := NearestYear(records, *targetYear)
		if chosen == nil {
			r.log.Info("no dated tiles in query area", zap.Int("target_year", *targetYear))
			return nil, ErrNoMatch
		}
		if len(t) > 0 {
			r.log.Warn("years equally close to target, keeping the most recent",
				zap.Int("target_year", *targetYear),
				zap.Ints("candidates", t),
				zap.Int("chosen", *chosen),
			)
		}
		records, tied = kept, t
	}

	utm, err := spatial.EstimateUTM(q)
	if err != nil {
		return nil, eris.Wrap(err, "resolver: estimate utm zone")
	}

	res := &QueryResult{
		CRS:            r.loader.CRS().String(),
		EPSGCode:       r.loader.CRS().EPSG(),
		UTMCRS:         utm.String(),
		AmbiguousYears: tied,
		Geometry:       q,
		Tiles:          slices.Clone(records),
		FileCount:      len(records),
	}

	if err := r.measure(res, q, records, utm); err != nil {
		return nil, err
	}
	summarize(res, records)

	geo, err := q.To(spatial.WGS84)
	if err != nil {
		return nil, eris.Wrap(err, "resolver: reproject query to geographic")
	}
	res.BBox = geo.Bounds()
	lon, lat, err := geo.Centroid()
	if err != nil {
		return nil, eris.Wrap(err, "resolver: query centroid")
	}
	res.BBoxCentroid = [2]float64{lon, lat}
	res.Address, res.City = r.label(ctx, lat, lon)

	r.log.Debug("query resolved",
		zap.Int("files", res.FileCount),
		zap.Int("tiles", res.TileCount),
		zap.Ints("years", res.Years),
		zap.String("utm_crs", res.UTMCRS),
	)
	return res, nil
}

// measure fills the area fields. Tiles and query are projected into utm.
func (r *Resolver) measure(res *QueryResult, q spatial.QueryGeometry, records []catalog.TileRecord, utm spatial.CRS) error {
	for _, rec := range records {
		if rec.Geometry == nil {
			continue
		}
		projected, err := spatial.ReprojectMultiPolygon(rec.Geometry, r.loader.CRS(), utm)
		if err != nil {
			return eris.Wrapf(err, "resolver: project tile %s", rec.TileID)
		}
		a, err := spatial.ProjectedArea(projected, utm)
		if err != nil {
			return eris.Wrapf(err, "resolver: area of tile %s", rec.TileID)
		}
		res.QueryAreaM2 += a
	}

	pq, err := q.To(utm)
	if err != nil {
		return eris.Wrap(err, "resolver: project query geometry")
	}
	bboxArea, err := pq.Area()
	if err != nil {
		return eris.Wrap(err, "resolver: query area")
	}
	res.BBoxAreaM2 = bboxArea
	res.QueryAreaKM2 = res.QueryAreaM2 / 1e6
	res.BBoxAreaKM2 = res.BBoxAreaM2 / 1e6
	return nil
}

// label reverse geocodes the centroid. Failures leave the label empty.
func (r *Resolver) label(ctx context.Context, lat, lon float64) (address, city string) {
	if r.reverse == nil {
		return "", ""
	}
	rr, err := r.reverse.ReverseGeocode(ctx, lat, lon)
	if err != nil {
		r.log.Warn("reverse geocode failed", zap.Float64("lat", lat), zap.Float64("lon", lon), zap.Error(err))
		return "", ""
	}
	if rr == nil || !rr.Matched {
		return "", ""
	}
	return rr.Address, rr.City
}

func summarize(res *QueryResult, records []catalog.TileRecord) {
	years := make([]int, 0)
	res.TileIDs = make([]string, 0)
	res.ProjectNames = make([]string, 0)
	res.Providers = make([]string, 0)
	res.URLs = make([]string, 0, len(records))

	seenTile := map[string]bool{}
	seenProject := map[string]bool{}
	seenProvider := map[string]bool{}
	seenYear := map[int]bool{}

	for _, rec := range records {
		res.URLs = append(res.URLs, rec.URL)
		res.TileIDs = appendUnique(res.TileIDs, seenTile, rec.TileID)
		res.ProjectNames = appendUnique(res.ProjectNames, seenProject, rec.Project)
		res.Providers = appendUnique(res.Providers, seenProvider, rec.Provider)
		if rec.Year != nil && !seenYear[*rec.Year] {
			seenYear[*rec.Year] = true
			years = append(years, *rec.Year)
		}
	}
	slices.Sort(years)
	res.Years = years
	res.TileCount = len(res.TileIDs)
}

func appendUnique(dst []string, seen map[string]bool, v string) []string {
	if seen[v] {
		return dst
	}
	seen[v] = true
	return append(dst, v)
}
