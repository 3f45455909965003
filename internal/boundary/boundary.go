// Package boundary looks up administrative area polygons by name.
package boundary

import (
	"context"
	"os"
	"strings"
	"unicode"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/canlidar/internal/spatial"
)

// ErrNotFound is returned when no area matches the requested name.
var ErrNotFound = eris.New("boundary: area not found")

// Provider resolves an administrative area name to its boundary.
type Provider interface {
	Lookup(ctx context.Context, name string) (spatial.QueryGeometry, error)
}

// DefaultNameFields are the GADM name attributes, coarsest level first.
var DefaultNameFields = []string{"NAME_0", "NAME_1", "NAME_2", "NAME_3", "NAME"}

// ShapefileProvider matches area names against attributes of a boundary shapefile.
type ShapefileProvider struct {
	path       string
	crs        spatial.CRS
	nameFields []string
}

// NewShapefileProvider creates a provider over the shapefile at path. Names
// are matched against the first present field of nameFields at the finest
// level that yields a match.
func NewShapefileProvider(path string, crs spatial.CRS, nameFields []string) *ShapefileProvider {
	if len(nameFields) == 0 {
		nameFields = DefaultNameFields
	}
	if crs == 0 {
		crs = spatial.WGS84
	}
	return &ShapefileProvider{path: path, crs: crs, nameFields: nameFields}
}

// Lookup implements Provider. Every feature whose name matches contributes
// its polygons to the returned geometry.
func (p *ShapefileProvider) Lookup(ctx context.Context, name string) (spatial.QueryGeometry, error) {
	want := Normalize(name)
	if want == "" {
		return spatial.QueryGeometry{}, eris.Wrap(ErrNotFound, "boundary: empty area name")
	}
	if _, err := os.Stat(p.path); err != nil {
		return spatial.QueryGeometry{}, eris.Wrapf(err, "boundary: stat %s", p.path)
	}

	reader, err := shp.Open(p.path)
	if err != nil {
		return spatial.QueryGeometry{}, eris.Wrapf(err, "boundary: open %s", p.path)
	}
	defer func() { _ = reader.Close() }()

	var fields []int
	for _, f := range p.nameFields {
		if i := fieldIndex(reader, f); i >= 0 {
			fields = append(fields, i)
		}
	}
	if len(fields) == 0 {
		return spatial.QueryGeometry{}, eris.Errorf("boundary: %s has none of the name fields %v", p.path, p.nameFields)
	}

	// Matches are grouped by field so that "Ottawa" prefers the city
	// (finer level) over a coarser feature that happens to share the name.
	matches := make([]*geom.MultiPolygon, len(fields))
	for reader.Next() {
		if err := ctx.Err(); err != nil {
			return spatial.QueryGeometry{}, eris.Wrap(err, "boundary: lookup cancelled")
		}
		_, shape := reader.Shape()
		for level := len(fields) - 1; level >= 0; level-- {
			if Normalize(reader.Attribute(fields[level])) != want {
				continue
			}
			mp := spatial.FromShape(shape, p.crs)
			if mp == nil {
				break
			}
			if matches[level] == nil {
				matches[level] = geom.NewMultiPolygon(geom.XY).SetSRID(p.crs.EPSG())
			}
			for i := 0; i < mp.NumPolygons(); i++ {
				_ = matches[level].Push(mp.Polygon(i))
			}
			break
		}
	}

	for level := len(matches) - 1; level >= 0; level-- {
		if matches[level] == nil {
			continue
		}
		zap.L().Debug("boundary: area matched",
			zap.String("name", name),
			zap.String("field", p.nameFields[level]),
			zap.Int("polygons", matches[level].NumPolygons()),
		)
		return spatial.NewQueryGeometry(matches[level], p.crs)
	}
	return spatial.QueryGeometry{}, eris.Wrapf(ErrNotFound, "boundary: %q", name)
}

// Normalize folds case, strips diacritics and collapses whitespace so that
// "Montréal" and "MONTREAL " compare equal.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.TrimRight(s, "\x00"))
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(cases.Fold().String(out)), " ")
}

func fieldIndex(reader *shp.Reader, name string) int {
	for i, f := range reader.Fields() {
		if strings.EqualFold(strings.TrimRight(f.String(), "\x00"), name) {
			return i
		}
	}
	return -1
}
