package pdal

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/canlidar/internal/spatial"
)

var threeURLs = []string{
	"https://download.example.ca/ON_GTA_2019/tile_a.laz",
	"https://download.example.ca/ON_GTA_2019/tile_b.laz",
	"https://download.example.ca/ON_GTA_2019/tile_c.laz?sig=abc",
}

func torontoInput(t *testing.T) Input {
	t.Helper()
	q, err := spatial.Rectangle(-79.5, 43.6, -79.3, 43.7, spatial.WGS84)
	require.NoError(t, err)
	return Input{URLs: threeURLs, Geometry: q}
}

func TestBuild_ClipAndMerge(t *testing.T) {
	r, err := Build(torontoInput(t), Options{Clip: true, MergeAll: true, OutputDir: "/out/ON_GTA_2019", Project: "ON_GTA_2019"})
	require.NoError(t, err)
	require.Len(t, r.Plans, 1)
	assert.Empty(t, r.Downloads)

	p := r.Plans[0]
	assert.Equal(t, 3, p.Count(StageRead))
	assert.Equal(t, 1, p.Count(StageMerge))
	assert.Equal(t, 1, p.Count(StageWrite))
	assert.Len(t, p.Stages, 5)
	assert.Equal(t, filepath.Join("/out/ON_GTA_2019", "ON_GTA_2019_merged.laz"), p.Output())

	for _, s := range p.Stages[:3] {
		assert.Equal(t, "readers.las", s.Type())
		assert.True(t, strings.HasPrefix(s.Polygon, "POLYGON"), s.Polygon)
		assert.True(t, strings.HasSuffix(s.Polygon, " / EPSG:4326"), s.Polygon)
	}
	assert.Equal(t, StageMerge, p.Stages[3].Kind)
	assert.Equal(t, StageWrite, p.Stages[4].Kind)
}

func TestBuild_ClipOnly(t *testing.T) {
	r, err := Build(torontoInput(t), Options{Clip: true, OutputDir: "/out"})
	require.NoError(t, err)
	require.Len(t, r.Plans, 3)

	want := []string{"tile_a.laz", "tile_b.laz", "tile_c.laz"}
	for i, p := range r.Plans {
		require.Len(t, p.Stages, 2)
		assert.Equal(t, StageRead, p.Stages[0].Kind)
		assert.Equal(t, threeURLs[i], p.Stages[0].Filename)
		assert.NotEmpty(t, p.Stages[0].Polygon)
		assert.Equal(t, filepath.Join("/out", want[i]), p.Output())
		assert.Equal(t, 0, p.Count(StageMerge))
	}
}

func TestBuild_ClipOnlyDuplicateSegments(t *testing.T) {
	in := torontoInput(t)
	in.URLs = []string{
		"https://a.example.ca/ON_2019/tile.laz",
		"https://b.example.ca/QC_2020/tile.laz",
		"https://c.example.ca/NB_2021/tile.laz?x=1",
		"https://a.example.ca/ON_2019/other.laz",
	}
	r, err := Build(in, Options{Clip: true, OutputDir: "/out", Project: "gta"})
	require.NoError(t, err)
	require.Len(t, r.Plans, 4)

	want := []string{"tile.laz", "gta_2_tile.laz", "gta_3_tile.laz", "other.laz"}
	seen := make(map[string]bool)
	for i, p := range r.Plans {
		assert.Equal(t, filepath.Join("/out", want[i]), p.Output())
		assert.False(t, seen[p.Output()], "output %s planned twice", p.Output())
		seen[p.Output()] = true
	}
}

func TestTileOutputName_AvoidsExistingPrefixedName(t *testing.T) {
	used := make(map[string]int)
	assert.Equal(t, "p_2_a.laz", tileOutputName("https://x/p_2_a.laz", "p", used))
	assert.Equal(t, "a.laz", tileOutputName("https://x/a.laz", "p", used))
	assert.Equal(t, "p_3_a.laz", tileOutputName("https://y/a.laz", "p", used))
}

func TestBuild_MergeOnly(t *testing.T) {
	r, err := Build(torontoInput(t), Options{MergeAll: true, OutputDir: "/out", Project: "P", WriterKind: "copc"})
	require.NoError(t, err)
	require.Len(t, r.Plans, 1)

	p := r.Plans[0]
	assert.Equal(t, 3, p.Count(StageRead))
	for _, s := range p.Stages[:3] {
		assert.Empty(t, s.Polygon)
	}
	assert.Equal(t, "writers.copc", p.Stages[4].Type())
	assert.Equal(t, filepath.Join("/out", "P_merged.laz"), p.Output())
}

func TestBuild_NoClipNoMergeDelegatesToDownload(t *testing.T) {
	r, err := Build(torontoInput(t), Options{})
	require.NoError(t, err)
	assert.Empty(t, r.Plans)
	assert.Equal(t, threeURLs, r.Downloads)
}

func TestBuild_Errors(t *testing.T) {
	_, err := Build(Input{}, Options{MergeAll: true})
	require.Error(t, err)

	_, err = Build(Input{URLs: threeURLs}, Options{Clip: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query geometry")
}

func TestPlan_MarshalJSON(t *testing.T) {
	p := Plan{Stages: []Stage{
		Reader("las", "a.laz", "POLYGON ((0 0, 1 0, 1 1, 0 0)) / EPSG:4326"),
		Reader("las", "b.laz", ""),
		Merge(),
		Writer("las", "out.laz"),
	}}
	b, err := json.Marshal(p)
	require.NoError(t, err)

	assert.JSONEq(t, `{"pipeline": [
		{"type": "readers.las", "filename": "a.laz", "polygon": "POLYGON ((0 0, 1 0, 1 1, 0 0)) / EPSG:4326"},
		{"type": "readers.las", "filename": "b.laz", "polygon": null},
		{"type": "filters.merge"},
		{"type": "writers.las", "filename": "out.laz"}
	]}`, string(b))
}

func TestPlan_MarshalEmpty(t *testing.T) {
	b, err := json.Marshal(Plan{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"pipeline": []}`, string(b))
}

func TestSegment(t *testing.T) {
	assert.Equal(t, "tile.laz", Segment("https://x.ca/a/b/tile.laz"))
	assert.Equal(t, "tile.laz", Segment("https://x.ca/a/tile.laz?token=1"))
	assert.Equal(t, "tile.laz", Segment("ftp://ftp.x.ca/pub/tile.laz"))
	assert.Equal(t, "tile.laz", Segment("/data/tiles/tile.laz"))
}

func TestMergedName(t *testing.T) {
	assert.Equal(t, "ON_GTA_2019_merged.laz", MergedName("ON_GTA_2019"))
	assert.Equal(t, "canlidar_merged.laz", MergedName(""))
}
