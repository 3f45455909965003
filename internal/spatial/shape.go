package spatial

import (
	"github.com/jonas-p/go-shp"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// FromShape converts a shapefile polygon into a MultiPolygon. Clockwise rings
// start a new polygon; counter-clockwise rings are holes of the preceding one.
// Returns nil for non-polygon or empty shapes.
func FromShape(s shp.Shape, crs CRS) *geom.MultiPolygon {
	p, ok := s.(*shp.Polygon)
	if !ok || p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(crs.EPSG())
	var current *geom.Polygon

	flush := func() {
		if current == nil {
			return
		}
		if err := mp.Push(current); err != nil {
			zap.L().Debug("spatial: skipping malformed polygon", zap.Error(err))
		}
		current = nil
	}

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if end-start < 4 {
			continue
		}

		flat := make([]float64, 0, 2*(end-start))
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		ring := geom.NewLinearRingFlat(geom.XY, flat)

		if current == nil || signedArea(flat) < 0 {
			flush()
			current = geom.NewPolygon(geom.XY)
		}
		if err := current.Push(ring); err != nil {
			zap.L().Debug("spatial: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
		}
	}
	flush()

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// ToShape converts a MultiPolygon into a shapefile polygon with one part per ring.
func ToShape(mp *geom.MultiPolygon) *shp.Polygon {
	var parts [][]shp.Point
	for i := 0; i < mp.NumPolygons(); i++ {
		poly := mp.Polygon(i)
		for r := 0; r < poly.NumLinearRings(); r++ {
			flat := poly.LinearRing(r).FlatCoords()
			pts := make([]shp.Point, 0, len(flat)/2)
			for k := 0; k+1 < len(flat); k += 2 {
				pts = append(pts, shp.Point{X: flat[k], Y: flat[k+1]})
			}
			parts = append(parts, pts)
		}
	}
	return newShapePolygon(parts)
}

func newShapePolygon(parts [][]shp.Point) *shp.Polygon {
	p := &shp.Polygon{NumParts: int32(len(parts))}
	for _, part := range parts {
		p.Parts = append(p.Parts, int32(len(p.Points)))
		p.Points = append(p.Points, part...)
	}
	p.NumPoints = int32(len(p.Points))
	p.Box = shp.BBoxFromPoints(p.Points)
	return p
}

// signedArea is the shoelace sum of a closed ring; negative means clockwise.
func signedArea(flat []float64) float64 {
	var sum float64
	n := len(flat) / 2
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += flat[2*i]*flat[2*j+1] - flat[2*j]*flat[2*i+1]
	}
	return sum / 2
}
