package spatial

import "github.com/twpayne/go-geom"

// Intersects reports whether two multipolygons in the same CRS share any
// point: an edge crossing, or one containing a vertex of the other.
func Intersects(a, b *geom.MultiPolygon) bool {
	if a == nil || b == nil || a.NumPolygons() == 0 || b.NumPolygons() == 0 {
		return false
	}
	if !a.Bounds().Overlaps(geom.XY, b.Bounds()) {
		return false
	}
	for i := 0; i < a.NumPolygons(); i++ {
		pa := a.Polygon(i)
		for j := 0; j < b.NumPolygons(); j++ {
			if polygonsIntersect(pa, b.Polygon(j)) {
				return true
			}
		}
	}
	return false
}

func polygonsIntersect(a, b *geom.Polygon) bool {
	if !a.Bounds().Overlaps(geom.XY, b.Bounds()) {
		return false
	}
	if c, ok := firstCoord(a); ok && containsPoint(b, c) {
		return true
	}
	if c, ok := firstCoord(b); ok && containsPoint(a, c) {
		return true
	}
	for i := 0; i < a.NumLinearRings(); i++ {
		ra := a.LinearRing(i).FlatCoords()
		for j := 0; j < b.NumLinearRings(); j++ {
			if ringsCross(ra, b.LinearRing(j).FlatCoords(), a.Stride(), b.Stride()) {
				return true
			}
		}
	}
	return false
}

func firstCoord(p *geom.Polygon) (geom.Coord, bool) {
	if p.NumLinearRings() == 0 || p.LinearRing(0).NumCoords() == 0 {
		return nil, false
	}
	return p.LinearRing(0).Coord(0), true
}

// containsPoint is an even-odd test against the outer ring minus holes.
func containsPoint(p *geom.Polygon, c geom.Coord) bool {
	if p.NumLinearRings() == 0 {
		return false
	}
	if !ringContains(p.LinearRing(0).FlatCoords(), p.Stride(), c.X(), c.Y()) {
		return false
	}
	for i := 1; i < p.NumLinearRings(); i++ {
		if ringContains(p.LinearRing(i).FlatCoords(), p.Stride(), c.X(), c.Y()) {
			return false
		}
	}
	return true
}

func ringContains(flat []float64, stride int, x, y float64) bool {
	n := len(flat) / stride
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := flat[i*stride], flat[i*stride+1]
		xj, yj := flat[j*stride], flat[j*stride+1]
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

func ringsCross(a, b []float64, sa, sb int) bool {
	na, nb := len(a)/sa, len(b)/sb
	for i := 0; i+1 < na; i++ {
		ax1, ay1 := a[i*sa], a[i*sa+1]
		ax2, ay2 := a[(i+1)*sa], a[(i+1)*sa+1]
		for j := 0; j+1 < nb; j++ {
			bx1, by1 := b[j*sb], b[j*sb+1]
			bx2, by2 := b[(j+1)*sb], b[(j+1)*sb+1]
			if segmentsIntersect(ax1, ay1, ax2, ay2, bx1, by1, bx2, by2) {
				return true
			}
		}
	}
	return false
}

func segmentsIntersect(x1, y1, x2, y2, x3, y3, x4, y4 float64) bool {
	d1 := orient(x3, y3, x4, y4, x1, y1)
	d2 := orient(x3, y3, x4, y4, x2, y2)
	d3 := orient(x1, y1, x2, y2, x3, y3)
	d4 := orient(x1, y1, x2, y2, x4, y4)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	switch {
	case d1 == 0 && onSegment(x3, y3, x4, y4, x1, y1):
		return true
	case d2 == 0 && onSegment(x3, y3, x4, y4, x2, y2):
		return true
	case d3 == 0 && onSegment(x1, y1, x2, y2, x3, y3):
		return true
	case d4 == 0 && onSegment(x1, y1, x2, y2, x4, y4):
		return true
	}
	return false
}

func orient(ax, ay, bx, by, cx, cy float64) float64 {
	return (bx-ax)*(cy-ay) - (by-ay)*(cx-ax)
}

func onSegment(ax, ay, bx, by, px, py float64) bool {
	return min(ax, bx) <= px && px <= max(ax, bx) && min(ay, by) <= py && py <= max(ay, by)
}
