package spatial

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/encoding/wkt"
	"github.com/twpayne/go-geom/xy"
)

// QueryGeometry is an immutable polygonal query area tagged with its CRS.
type QueryGeometry struct {
	mp  *geom.MultiPolygon
	crs CRS
}

// NewQueryGeometry builds a QueryGeometry from a Polygon or MultiPolygon.
// The input is copied.
func NewQueryGeometry(g geom.T, crs CRS) (QueryGeometry, error) {
	mp, err := toMultiPolygon(g)
	if err != nil {
		return QueryGeometry{}, err
	}
	if mp.NumPolygons() == 0 {
		return QueryGeometry{}, eris.New("spatial: empty query geometry")
	}
	return QueryGeometry{mp: cloneMultiPolygon(mp), crs: crs}, nil
}

// Rectangle builds an axis-aligned rectangle in the given CRS.
func Rectangle(minX, minY, maxX, maxY float64, crs CRS) (QueryGeometry, error) {
	if !(minX < maxX) || !(minY < maxY) {
		return QueryGeometry{}, eris.Errorf("spatial: degenerate rectangle [%g %g %g %g]", minX, minY, maxX, maxY)
	}
	poly := geom.NewPolygonFlat(geom.XY, []float64{
		minX, minY,
		maxX, minY,
		maxX, maxY,
		minX, maxY,
		minX, minY,
	}, []int{10})
	return NewQueryGeometry(poly, crs)
}

// CRS returns the reference system of the geometry.
func (q QueryGeometry) CRS() CRS { return q.crs }

// IsZero reports whether q was never constructed.
func (q QueryGeometry) IsZero() bool { return q.mp == nil }

// MultiPolygon returns a copy of the underlying geometry.
func (q QueryGeometry) MultiPolygon() *geom.MultiPolygon {
	if q.mp == nil {
		return nil
	}
	return cloneMultiPolygon(q.mp)
}

// Bounds returns [minx, miny, maxx, maxy] in the geometry's CRS.
func (q QueryGeometry) Bounds() [4]float64 {
	if q.mp == nil {
		return [4]float64{}
	}
	return boundsOf(q.mp)
}

// Centroid returns the area-weighted centroid in the geometry's CRS.
func (q QueryGeometry) Centroid() (x, y float64, err error) {
	if q.mp == nil {
		return 0, 0, eris.New("spatial: centroid of empty geometry")
	}
	c, err := xy.Centroid(q.mp)
	if err != nil {
		return 0, 0, eris.Wrap(err, "spatial: centroid")
	}
	return c.X(), c.Y(), nil
}

// To reprojects the geometry into another CRS.
func (q QueryGeometry) To(target CRS) (QueryGeometry, error) {
	if q.mp == nil {
		return QueryGeometry{}, eris.New("spatial: reproject empty geometry")
	}
	mp, err := ReprojectMultiPolygon(q.mp, q.crs, target)
	if err != nil {
		return QueryGeometry{}, err
	}
	return QueryGeometry{mp: mp, crs: target}, nil
}

// Area returns the planar area. Geographic geometries are rejected because
// square degrees are not an area.
func (q QueryGeometry) Area() (float64, error) {
	if q.mp == nil {
		return 0, nil
	}
	return ProjectedArea(q.mp, q.crs)
}

// Intersects reports whether q and other overlap. other is reprojected into
// q's CRS first.
func (q QueryGeometry) Intersects(other QueryGeometry) (bool, error) {
	if q.mp == nil || other.mp == nil {
		return false, nil
	}
	o := other.mp
	if other.crs != q.crs {
		var err error
		o, err = ReprojectMultiPolygon(other.mp, other.crs, q.crs)
		if err != nil {
			return false, err
		}
	}
	return Intersects(q.mp, o), nil
}

// WKT renders the geometry as well-known text.
func (q QueryGeometry) WKT() (string, error) {
	if q.mp == nil {
		return "", eris.New("spatial: WKT of empty geometry")
	}
	var g geom.T = q.mp
	if q.mp.NumPolygons() == 1 {
		g = q.mp.Polygon(0)
	}
	s, err := wkt.Marshal(g)
	if err != nil {
		return "", eris.Wrap(err, "spatial: encode WKT")
	}
	return s, nil
}

// GeoJSON renders the geometry as a GeoJSON geometry object.
func (q QueryGeometry) GeoJSON() ([]byte, error) {
	if q.mp == nil {
		return nil, eris.New("spatial: GeoJSON of empty geometry")
	}
	b, err := geojson.Marshal(q.mp)
	if err != nil {
		return nil, eris.Wrap(err, "spatial: encode GeoJSON")
	}
	return b, nil
}

// ParseGeoJSON decodes a GeoJSON Polygon or MultiPolygon geometry.
func ParseGeoJSON(data []byte, crs CRS) (QueryGeometry, error) {
	var g geom.T
	if err := geojson.Unmarshal(data, &g); err != nil {
		return QueryGeometry{}, eris.Wrap(err, "spatial: decode GeoJSON")
	}
	return NewQueryGeometry(g, crs)
}

// ProjectedArea returns the planar area of mp, which must be in a projected CRS.
func ProjectedArea(mp *geom.MultiPolygon, crs CRS) (float64, error) {
	if crs.IsGeographic() {
		return 0, eris.Errorf("spatial: area requested in geographic CRS %s", crs)
	}
	var total float64
	for i := 0; i < mp.NumPolygons(); i++ {
		poly := mp.Polygon(i)
		for r := 0; r < poly.NumLinearRings(); r++ {
			a := math.Abs(signedArea(strideXY(poly.LinearRing(r).FlatCoords(), poly.Stride())))
			if r == 0 {
				total += a
			} else {
				total -= a
			}
		}
	}
	return math.Max(total, 0), nil
}

func strideXY(flat []float64, stride int) []float64 {
	if stride == 2 {
		return flat
	}
	out := make([]float64, 0, len(flat)/stride*2)
	for i := 0; i+1 < len(flat); i += stride {
		out = append(out, flat[i], flat[i+1])
	}
	return out
}

// EstimateUTM picks the UTM zone of the centre of a geometry.
func EstimateUTM(q QueryGeometry) (CRS, error) {
	geo := q
	if !q.crs.IsGeographic() {
		var err error
		geo, err = q.To(WGS84)
		if err != nil {
			return 0, err
		}
	}
	b := geo.Bounds()
	return UTMFor((b[0]+b[2])/2, (b[1]+b[3])/2), nil
}

// ReprojectMultiPolygon transforms every coordinate of mp from one CRS to
// another and returns a new geometry.
func ReprojectMultiPolygon(mp *geom.MultiPolygon, from, to CRS) (*geom.MultiPolygon, error) {
	flat, err := transformFlat(mp.FlatCoords(), mp.Stride(), from, to)
	if err != nil {
		return nil, err
	}
	return geom.NewMultiPolygonFlat(mp.Layout(), flat, copyEndss(mp.Endss())).SetSRID(to.EPSG()), nil
}

// Transform converts a single coordinate between reference systems.
func Transform(x, y float64, from, to CRS) (float64, float64, error) {
	if from == to || (from.IsGeographic() && to.IsGeographic()) {
		return x, y, nil
	}

	lon, lat := x, y
	if !from.IsGeographic() {
		zone, north, ok := from.UTMZone()
		if !ok {
			return 0, 0, eris.Errorf("spatial: unsupported source CRS %s", from)
		}
		lon, lat = fromUTM(x, y, zone, north)
	}
	if to.IsGeographic() {
		return lon, lat, nil
	}

	zone, north, ok := to.UTMZone()
	if !ok {
		return 0, 0, eris.Errorf("spatial: unsupported target CRS %s", to)
	}
	px, py := toUTM(lon, lat, zone, north)
	return px, py, nil
}

func transformFlat(flat []float64, stride int, from, to CRS) ([]float64, error) {
	out := make([]float64, len(flat))
	copy(out, flat)
	if from == to {
		return out, nil
	}
	for i := 0; i+1 < len(out); i += stride {
		x, y, err := Transform(out[i], out[i+1], from, to)
		if err != nil {
			return nil, err
		}
		out[i], out[i+1] = x, y
	}
	return out, nil
}

func toMultiPolygon(g geom.T) (*geom.MultiPolygon, error) {
	switch t := g.(type) {
	case *geom.MultiPolygon:
		return t, nil
	case *geom.Polygon:
		mp := geom.NewMultiPolygon(t.Layout())
		if err := mp.Push(t); err != nil {
			return nil, eris.Wrap(err, "spatial: wrap polygon")
		}
		return mp, nil
	case nil:
		return nil, eris.New("spatial: nil geometry")
	default:
		return nil, eris.Errorf("spatial: unsupported geometry %T", g)
	}
}

func cloneMultiPolygon(mp *geom.MultiPolygon) *geom.MultiPolygon {
	flat := make([]float64, len(mp.FlatCoords()))
	copy(flat, mp.FlatCoords())
	return geom.NewMultiPolygonFlat(mp.Layout(), flat, copyEndss(mp.Endss())).SetSRID(mp.SRID())
}

func copyEndss(endss [][]int) [][]int {
	out := make([][]int, len(endss))
	for i, ends := range endss {
		out[i] = append([]int(nil), ends...)
	}
	return out
}

func boundsOf(g geom.T) [4]float64 {
	b := g.Bounds()
	return [4]float64{b.Min(0), b.Min(1), b.Max(0), b.Max(1)}
}
