// Package catalogtest writes tile index shapefiles for tests.
package catalogtest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/require"
)

// Tile is one fixture row. Box is [minx, miny, maxx, maxy].
type Tile struct {
	Project  string
	TileName string
	URL      string
	Provider string
	Box      [4]float64
}

// WriteIndex writes tiles to dir/tile_index.shp with the default field names
// and returns the .shp path.
func WriteIndex(t testing.TB, dir string, tiles []Tile) string {
	t.Helper()
	return WriteIndexFields(t, dir, [4]string{"Project", "Tile_name", "URL", "Provider"}, tiles)
}

// WriteIndexFields is WriteIndex with custom field names in the order
// project, tile name, url, provider.
func WriteIndexFields(t testing.TB, dir string, names [4]string, tiles []Tile) string {
	t.Helper()

	path := filepath.Join(dir, "tile_index.shp")
	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)

	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField(names[0], 80),
		shp.StringField(names[1], 80),
		shp.StringField(names[2], 200),
		shp.StringField(names[3], 80),
	}))

	for _, tile := range tiles {
		row := int(w.Write(Box(tile.Box)))
		require.NoError(t, w.WriteAttribute(row, 0, tile.Project))
		require.NoError(t, w.WriteAttribute(row, 1, tile.TileName))
		require.NoError(t, w.WriteAttribute(row, 2, tile.URL))
		require.NoError(t, w.WriteAttribute(row, 3, tile.Provider))
	}
	w.Close()
	FixDBFName(t, path)

	return path
}

// FixDBFName moves the attribute file go-shp's writer leaves at "<base>dbf"
// to "<base>.dbf", where shp.Open looks for it.
func FixDBFName(t testing.TB, shpPath string) {
	t.Helper()
	base := strings.TrimSuffix(shpPath, filepath.Ext(shpPath))
	if _, err := os.Stat(base + "dbf"); err != nil {
		return
	}
	require.NoError(t, os.Rename(base+"dbf", base+".dbf"))
}

// Box returns a clockwise single-ring shapefile polygon.
func Box(b [4]float64) *shp.Polygon {
	pts := []shp.Point{
		{X: b[0], Y: b[1]},
		{X: b[0], Y: b[3]},
		{X: b[2], Y: b[3]},
		{X: b[2], Y: b[1]},
		{X: b[0], Y: b[1]},
	}
	return &shp.Polygon{
		Box:       shp.BBoxFromPoints(pts),
		NumParts:  1,
		NumPoints: int32(len(pts)),
		Parts:     []int32{0},
		Points:    pts,
	}
}
