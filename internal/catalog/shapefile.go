package catalog

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/canlidar/internal/spatial"
)

// Fields names the tile index attributes.
type Fields struct {
	Project  string `yaml:"project" mapstructure:"project"`
	TileName string `yaml:"tile_name" mapstructure:"tile_name"`
	URL      string `yaml:"url" mapstructure:"url"`
	Provider string `yaml:"provider" mapstructure:"provider"`
}

// DefaultFields matches the national tile index schema.
func DefaultFields() Fields {
	return Fields{Project: "Project", TileName: "Tile_name", URL: "URL", Provider: "Provider"}
}

// ShapefileOption configures a ShapefileLoader.
type ShapefileOption func(*ShapefileLoader)

// WithCRS overrides the native CRS of the tile index (default EPSG:4617).
func WithCRS(crs spatial.CRS) ShapefileOption {
	return func(l *ShapefileLoader) { l.crs = crs }
}

// WithFields overrides attribute names. Empty names keep their defaults.
func WithFields(f Fields) ShapefileOption {
	return func(l *ShapefileLoader) {
		if f.Project != "" {
			l.fields.Project = f.Project
		}
		if f.TileName != "" {
			l.fields.TileName = f.TileName
		}
		if f.URL != "" {
			l.fields.URL = f.URL
		}
		if f.Provider != "" {
			l.fields.Provider = f.Provider
		}
	}
}

// WithClock sets the clock bounding year extraction.
func WithClock(now func() time.Time) ShapefileOption {
	return func(l *ShapefileLoader) { l.now = now }
}

// ShapefileLoader reads the tile index from an ESRI shapefile.
type ShapefileLoader struct {
	path   string
	crs    spatial.CRS
	fields Fields
	now    func() time.Time
}

// NewShapefileLoader creates a loader for the shapefile at path.
func NewShapefileLoader(path string, opts ...ShapefileOption) *ShapefileLoader {
	l := &ShapefileLoader{
		path:   path,
		crs:    spatial.NAD83CSRS,
		fields: DefaultFields(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CRS implements Loader.
func (l *ShapefileLoader) CRS() spatial.CRS { return l.crs }

// Load implements Loader.
func (l *ShapefileLoader) Load(ctx context.Context, filter *spatial.QueryGeometry) ([]TileRecord, error) {
	log := zap.L().With(zap.String("component", "catalog.shapefile"), zap.String("path", l.path))

	if _, err := os.Stat(l.path); err != nil {
		return nil, eris.Wrapf(ErrCatalogUnavailable, "catalog: stat %s: %s", l.path, err)
	}

	var native *geom.MultiPolygon
	var envelope shp.Box
	if filter != nil {
		g, err := filter.To(l.crs)
		if err != nil {
			return nil, eris.Wrap(err, "catalog: reproject filter")
		}
		native = g.MultiPolygon()
		b := g.Bounds()
		envelope = shp.Box{MinX: b[0], MinY: b[1], MaxX: b[2], MaxY: b[3]}
	}

	reader, err := shp.Open(l.path)
	if err != nil {
		return nil, eris.Wrapf(ErrCatalogUnavailable, "catalog: open %s: %s", l.path, err)
	}
	defer func() { _ = reader.Close() }()

	idx, err := l.fieldIndexes(reader)
	if err != nil {
		return nil, err
	}

	currentYear := l.now().Year()
	var records []TileRecord
	var scanned, skipped int

	for reader.Next() {
		scanned++
		if scanned%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, eris.Wrap(err, "catalog: load cancelled")
			}
		}

		_, shape := reader.Shape()
		if shape == nil {
			skipped++
			continue
		}
		if native != nil && !boxesOverlap(shape.BBox(), envelope) {
			continue
		}

		mp := spatial.FromShape(shape, l.crs)
		if mp == nil {
			skipped++
			continue
		}
		if native != nil && !spatial.Intersects(native, mp) {
			continue
		}

		records = append(records, NewTileRecord(
			attribute(reader, idx.tileName),
			attribute(reader, idx.project),
			attribute(reader, idx.url),
			attribute(reader, idx.provider),
			mp,
			currentYear,
		))
	}

	if skipped > 0 {
		log.Debug("catalog: skipped records without polygon geometry", zap.Int("skipped", skipped))
	}
	log.Debug("catalog: loaded tile index",
		zap.Int("scanned", scanned),
		zap.Int("matched", len(records)),
		zap.Bool("filtered", filter != nil),
	)

	return records, nil
}

type fieldIdx struct {
	project, tileName, url, provider int
}

func (l *ShapefileLoader) fieldIndexes(reader *shp.Reader) (fieldIdx, error) {
	idx := fieldIdx{
		project:  fieldIndex(reader, l.fields.Project),
		tileName: fieldIndex(reader, l.fields.TileName),
		url:      fieldIndex(reader, l.fields.URL),
		provider: fieldIndex(reader, l.fields.Provider),
	}
	var missing []string
	for _, f := range []struct {
		name string
		i    int
	}{
		{l.fields.Project, idx.project},
		{l.fields.TileName, idx.tileName},
		{l.fields.URL, idx.url},
		{l.fields.Provider, idx.provider},
	} {
		if f.i < 0 {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return idx, eris.Wrapf(ErrCatalogUnavailable, "catalog: %s missing fields %s", l.path, strings.Join(missing, ", "))
	}
	return idx, nil
}

// fieldIndex returns the index of a named field in the shapefile, or -1 if not found.
func fieldIndex(reader *shp.Reader, name string) int {
	for i, f := range reader.Fields() {
		if strings.EqualFold(strings.TrimRight(f.String(), "\x00"), name) {
			return i
		}
	}
	return -1
}

func attribute(reader *shp.Reader, i int) string {
	return strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
}

func boxesOverlap(a, b shp.Box) bool {
	return a.MinX <= b.MaxX && b.MinX <= a.MaxX && a.MinY <= b.MaxY && b.MinY <= a.MaxY
}
