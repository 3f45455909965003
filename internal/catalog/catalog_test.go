package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/canlidar/internal/catalog/catalogtest"
	"github.com/sells-group/canlidar/internal/spatial"
)

func fixedClock() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }

func torontoTiles() []catalogtest.Tile {
	return []catalogtest.Tile{
		{
			Project:  "ON_Toronto_2015",
			TileName: "1kmZ174300483",
			URL:      "https://download.example.ca/ON_Toronto_2015/tile_a.laz",
			Provider: "Ontario",
			Box:      [4]float64{-79.45, 43.62, -79.40, 43.66},
		},
		{
			Project:  "ON_GTA_2019",
			TileName: "1kmZ174310484",
			URL:      "https://download.example.ca/ON_GTA_2019/tile_b.laz",
			Provider: "Ontario",
			Box:      [4]float64{-79.38, 43.64, -79.33, 43.69},
		},
		{
			Project:  "QC_Montreal",
			TileName: "MTL_2021_01",
			URL:      "https://download.example.ca/QC/mtl.laz",
			Provider: "Quebec",
			Box:      [4]float64{-73.70, 45.45, -73.50, 45.60},
		},
	}
}

func TestNewTileRecord_ScenarioProjectWithoutDigits(t *testing.T) {
	r := NewTileRecord("XY1820", "Proj_ABC", "https://example.ca/x/tile_2017_final.laz", "NRCan", nil, 2025)

	assert.Nil(t, r.ProjectYear)
	require.NotNil(t, r.URLYear)
	assert.Equal(t, 2017, *r.URLYear)
	assert.Nil(t, r.TileYear)
	require.NotNil(t, r.Year)
	assert.Equal(t, 2017, *r.Year)
	assert.True(t, r.HasYear())
}

func TestNewTileRecord_ProjectYearWins(t *testing.T) {
	r := NewTileRecord("tile_2012", "AB_Calgary_2014", "https://example.ca/2016_x.laz", "Alberta", nil, 2025)
	require.NotNil(t, r.Year)
	assert.Equal(t, 2014, *r.Year)
	assert.Equal(t, 2016, *r.URLYear)
	assert.Equal(t, 2012, *r.TileYear)
}

func TestNewTileRecord_NoYear(t *testing.T) {
	r := NewTileRecord("ABC", "Proj_X", "https://example.ca/none.laz", "NRCan", nil, 2025)
	assert.Nil(t, r.Year)
	assert.False(t, r.HasYear())
}

func TestShapefileLoader_LoadAll(t *testing.T) {
	path := catalogtest.WriteIndex(t, t.TempDir(), torontoTiles())
	l := NewShapefileLoader(path, WithClock(fixedClock))

	records, err := l.Load(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "1kmZ174300483", records[0].TileID)
	assert.Equal(t, "ON_Toronto_2015", records[0].Project)
	assert.Equal(t, "Ontario", records[0].Provider)
	require.NotNil(t, records[0].Year)
	assert.Equal(t, 2015, *records[0].Year)

	require.NotNil(t, records[2].Year)
	assert.Equal(t, 2021, *records[2].Year, "tile name year used when project and url have none")
	assert.Equal(t, spatial.NAD83CSRS, l.CRS())
}

func TestShapefileLoader_SpatialFilter(t *testing.T) {
	path := catalogtest.WriteIndex(t, t.TempDir(), torontoTiles())
	l := NewShapefileLoader(path, WithClock(fixedClock))

	bbox, err := spatial.Rectangle(-79.5, 43.6, -79.3, 43.7, spatial.WGS84)
	require.NoError(t, err)

	records, err := l.Load(context.Background(), &bbox)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, "Ontario", r.Provider)
	}
}

func TestShapefileLoader_ProjectedFilter(t *testing.T) {
	path := catalogtest.WriteIndex(t, t.TempDir(), torontoTiles())
	l := NewShapefileLoader(path, WithClock(fixedClock))

	bbox, err := spatial.Rectangle(-79.44, 43.63, -79.43, 43.64, spatial.WGS84)
	require.NoError(t, err)
	projected, err := bbox.To(spatial.CRS(32617))
	require.NoError(t, err)

	records, err := l.Load(context.Background(), &projected)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "1kmZ174300483", records[0].TileID)
}

func TestShapefileLoader_EmptyResultIsNotError(t *testing.T) {
	path := catalogtest.WriteIndex(t, t.TempDir(), torontoTiles())
	l := NewShapefileLoader(path, WithClock(fixedClock))

	far, err := spatial.Rectangle(-120, 50, -119, 51, spatial.WGS84)
	require.NoError(t, err)

	records, err := l.Load(context.Background(), &far)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestShapefileLoader_MissingFile(t *testing.T) {
	l := NewShapefileLoader(filepath.Join(t.TempDir(), "missing.shp"))
	_, err := l.Load(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCatalogUnavailable))
}

func TestShapefileLoader_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tile_index.shp")
	require.NoError(t, os.WriteFile(path, []byte("not a shapefile"), 0o644))

	l := NewShapefileLoader(path)
	_, err := l.Load(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCatalogUnavailable))
}

func TestShapefileLoader_MissingField(t *testing.T) {
	path := catalogtest.WriteIndexFields(t, t.TempDir(), [4]string{"Project", "Name", "URL", "Provider"}, torontoTiles())
	l := NewShapefileLoader(path)

	_, err := l.Load(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCatalogUnavailable))
	assert.Contains(t, err.Error(), "Tile_name")
}

func TestShapefileLoader_CustomFields(t *testing.T) {
	path := catalogtest.WriteIndexFields(t, t.TempDir(), [4]string{"Proj", "Tile", "Link", "Source"}, torontoTiles())
	l := NewShapefileLoader(path,
		WithClock(fixedClock),
		WithFields(Fields{Project: "Proj", TileName: "Tile", URL: "Link", Provider: "Source"}),
	)

	records, err := l.Load(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "Quebec", records[2].Provider)
}

func TestShapefileLoader_CancelledContext(t *testing.T) {
	tiles := make([]catalogtest.Tile, 0, 1200)
	for i := 0; i < 1200; i++ {
		tiles = append(tiles, catalogtest.Tile{Project: "P", TileName: "T", URL: "u", Provider: "p", Box: [4]float64{0, 0, 1, 1}})
	}
	path := catalogtest.WriteIndex(t, t.TempDir(), tiles)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewShapefileLoader(path).Load(ctx, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
