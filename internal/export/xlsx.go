// Package export writes tile listings for a resolved query as spreadsheets.
package export

import (
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/canlidar/internal/resolver"
)

// TileHeader is the header row of the Tiles sheet.
var TileHeader = []string{"tile_id", "project", "provider", "year", "project_year", "url_year", "tile_year", "url"}

// Workbook builds a two-sheet workbook: Summary (key/value pairs) and Tiles
// (one row per matched tile).
func Workbook(res *resolver.QueryResult) (*xlsx.File, error) {
	f := xlsx.NewFile()

	summary, err := f.AddSheet("Summary")
	if err != nil {
		return nil, eris.Wrap(err, "export: add summary sheet")
	}
	for _, kv := range summaryRows(res) {
		row := summary.AddRow()
		row.AddCell().SetString(kv[0])
		row.AddCell().SetString(kv[1])
	}

	tiles, err := f.AddSheet("Tiles")
	if err != nil {
		return nil, eris.Wrap(err, "export: add tiles sheet")
	}
	header := tiles.AddRow()
	for _, h := range TileHeader {
		header.AddCell().SetString(h)
	}
	for _, t := range res.Tiles {
		row := tiles.AddRow()
		row.AddCell().SetString(t.TileID)
		row.AddCell().SetString(t.Project)
		row.AddCell().SetString(t.Provider)
		for _, y := range []*int{t.Year, t.ProjectYear, t.URLYear, t.TileYear} {
			c := row.AddCell()
			if y != nil {
				c.SetInt(*y)
			}
		}
		row.AddCell().SetString(t.URL)
	}
	return f, nil
}

// WriteXLSX saves the workbook for res at path.
func WriteXLSX(path string, res *resolver.QueryResult) error {
	f, err := Workbook(res)
	if err != nil {
		return err
	}
	return eris.Wrapf(f.Save(path), "export: save %s", path)
}

// EncodeXLSX streams the workbook for res to w.
func EncodeXLSX(w io.Writer, res *resolver.QueryResult) error {
	f, err := Workbook(res)
	if err != nil {
		return err
	}
	return eris.Wrap(f.Write(w), "export: write workbook")
}

func summaryRows(res *resolver.QueryResult) [][2]string {
	years := make([]string, len(res.Years))
	for i, y := range res.Years {
		years[i] = strconv.Itoa(y)
	}
	return [][2]string{
		{"city", res.City},
		{"address", res.Address},
		{"query_area_km2", strconv.FormatFloat(res.QueryAreaKM2, 'f', 3, 64)},
		{"bbox_area_km2", strconv.FormatFloat(res.BBoxAreaKM2, 'f', 3, 64)},
		{"years", strings.Join(years, ", ")},
		{"file_count", strconv.Itoa(res.FileCount)},
		{"tile_count", strconv.Itoa(res.TileCount)},
		{"projects", strings.Join(res.ProjectNames, ", ")},
		{"providers", strings.Join(res.Providers, ", ")},
		{"utm_crs", res.UTMCRS},
	}
}
