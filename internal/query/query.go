// Package query converts user input (a bounding box, an address or an
// administrative area name) into a query geometry.
package query

import (
	"context"
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/canlidar/internal/boundary"
	"github.com/sells-group/canlidar/internal/spatial"
	"github.com/sells-group/canlidar/pkg/geocode"
)

// Sentinel errors. All are reported to the user and abandon the query.
var (
	ErrGeocodeMiss    = eris.New("query: address not found")
	ErrUnknownArea    = eris.New("query: unknown area")
	ErrInvalidRequest = eris.New("query: invalid request")
)

// Kind selects the Request variant.
type Kind string

// Request kinds.
const (
	KindBBox    Kind = "bbox"
	KindAddress Kind = "address"
	KindArea    Kind = "area"
)

// Request is a tagged union of the supported query inputs. Only the fields
// of the selected Kind are read.
type Request struct {
	Kind Kind `json:"kind" yaml:"kind"`

	// KindBBox: [minx, miny, maxx, maxy] in degrees.
	BBox [4]float64 `json:"bbox,omitempty" yaml:"bbox,omitempty"`

	// KindAddress
	Address  string  `json:"address,omitempty" yaml:"address,omitempty"`
	RadiusKM float64 `json:"radius_km,omitempty" yaml:"radius_km,omitempty"`

	// KindArea
	Area string `json:"area,omitempty" yaml:"area,omitempty"`
}

// Deps are the collaborators needed by the address and area variants.
type Deps struct {
	Geocoder   geocode.Client
	Boundaries boundary.Provider
}

// Build dispatches req to its adapter.
func Build(ctx context.Context, req Request, deps Deps) (spatial.QueryGeometry, error) {
	switch req.Kind {
	case KindBBox:
		return FromBBox(req.BBox[0], req.BBox[1], req.BBox[2], req.BBox[3])
	case KindAddress:
		if deps.Geocoder == nil {
			return spatial.QueryGeometry{}, eris.New("query: no geocoder configured")
		}
		return FromAddress(ctx, deps.Geocoder, req.Address, req.RadiusKM)
	case KindArea:
		if deps.Boundaries == nil {
			return spatial.QueryGeometry{}, eris.New("query: no boundary source configured")
		}
		return FromArea(ctx, deps.Boundaries, req.Area)
	default:
		return spatial.QueryGeometry{}, eris.Wrapf(ErrInvalidRequest, "query: unknown request kind %q", req.Kind)
	}
}

// FromBBox builds a geographic rectangle.
func FromBBox(minX, minY, maxX, maxY float64) (spatial.QueryGeometry, error) {
	for _, v := range []float64{minX, minY, maxX, maxY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return spatial.QueryGeometry{}, eris.Wrap(ErrInvalidRequest, "query: bbox coordinates must be finite")
		}
	}
	if minX < -180 || maxX > 180 || minY < -90 || maxY > 90 {
		return spatial.QueryGeometry{}, eris.Wrapf(ErrInvalidRequest, "query: bbox [%g %g %g %g] outside geographic range", minX, minY, maxX, maxY)
	}
	if minX >= maxX || minY >= maxY {
		return spatial.QueryGeometry{}, eris.Wrapf(ErrInvalidRequest, "query: bbox minimum must be below maximum, got [%g %g %g %g]", minX, minY, maxX, maxY)
	}
	return spatial.Rectangle(minX, minY, maxX, maxY, spatial.WGS84)
}

// FromAddress geocodes address and returns the square of side 2*radiusKM
// centred on it, built in the local UTM zone and returned in EPSG:4326.
func FromAddress(ctx context.Context, gc geocode.Client, address string, radiusKM float64) (spatial.QueryGeometry, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return spatial.QueryGeometry{}, eris.Wrap(ErrInvalidRequest, "query: empty address")
	}
	if radiusKM <= 0 || math.IsNaN(radiusKM) || math.IsInf(radiusKM, 0) {
		return spatial.QueryGeometry{}, eris.Wrapf(ErrInvalidRequest, "query: radius must be positive, got %g", radiusKM)
	}

	res, err := gc.Geocode(ctx, address)
	if err != nil {
		return spatial.QueryGeometry{}, eris.Wrapf(err, "query: geocode %q", address)
	}
	if res == nil || !res.Matched {
		return spatial.QueryGeometry{}, eris.Wrapf(ErrGeocodeMiss, "query: %q", address)
	}

	zap.L().Debug("address geocoded",
		zap.String("address", address),
		zap.Float64("lat", res.Latitude),
		zap.Float64("lon", res.Longitude),
		zap.String("source", res.Source),
	)

	utm := spatial.UTMFor(res.Longitude, res.Latitude)
	x, y, err := spatial.Transform(res.Longitude, res.Latitude, spatial.WGS84, utm)
	if err != nil {
		return spatial.QueryGeometry{}, eris.Wrap(err, "query: project address")
	}

	d := radiusKM * 1000
	square, err := spatial.Rectangle(x-d, y-d, x+d, y+d, utm)
	if err != nil {
		return spatial.QueryGeometry{}, eris.Wrap(err, "query: build address square")
	}
	return square.To(spatial.WGS84)
}

// FromArea looks up name through the boundary provider. Any lookup failure
// is reported as ErrUnknownArea.
func FromArea(ctx context.Context, boundaries boundary.Provider, name string) (spatial.QueryGeometry, error) {
	g, err := boundaries.Lookup(ctx, name)
	if err != nil {
		if ctx.Err() != nil {
			return spatial.QueryGeometry{}, eris.Wrap(ctx.Err(), "query: area lookup")
		}
		zap.L().Info("area lookup failed", zap.String("area", name), zap.Error(err))
		return spatial.QueryGeometry{}, eris.Wrapf(ErrUnknownArea, "query: %q", name)
	}
	if g.IsZero() {
		return spatial.QueryGeometry{}, eris.Wrapf(ErrUnknownArea, "query: %q", name)
	}
	return g, nil
}
