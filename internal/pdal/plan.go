// Package pdal compiles query results into PDAL pipelines and runs them.
// Planning never runs anything; execution lives behind the Executor interface.
package pdal

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/canlidar/internal/spatial"
)

// StageKind is the role of a pipeline stage.
type StageKind string

// Stage kinds.
const (
	StageRead  StageKind = "read"
	StageMerge StageKind = "merge"
	StageWrite StageKind = "write"
)

// Stage is one PDAL pipeline step. Driver is the reader or writer suffix,
// e.g. "las" for readers.las.
type Stage struct {
	Kind     StageKind
	Driver   string
	Filename string
	// Polygon is a WKT clip boundary with a trailing "/ EPSG:n" so PDAL
	// can reproject it into the point cloud's SRS. Read stages only.
	Polygon string
}

// Reader returns a read stage. polygon may be empty.
func Reader(driver, filename, polygon string) Stage {
	return Stage{Kind: StageRead, Driver: driver, Filename: filename, Polygon: polygon}
}

// Merge returns a filters.merge stage.
func Merge() Stage { return Stage{Kind: StageMerge} }

// Writer returns a write stage.
func Writer(driver, filename string) Stage {
	return Stage{Kind: StageWrite, Driver: driver, Filename: filename}
}

// Type is the PDAL stage type, e.g. "readers.las".
func (s Stage) Type() string {
	switch s.Kind {
	case StageRead:
		return "readers." + s.Driver
	case StageWrite:
		return "writers." + s.Driver
	default:
		return "filters.merge"
	}
}

// MarshalJSON renders the stage in PDAL pipeline form.
func (s Stage) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case StageRead:
		doc := struct {
			Type     string  `json:"type"`
			Filename string  `json:"filename"`
			Polygon  *string `json:"polygon"`
		}{Type: s.Type(), Filename: s.Filename}
		if s.Polygon != "" {
			doc.Polygon = &s.Polygon
		}
		return json.Marshal(doc)
	case StageWrite:
		return json.Marshal(struct {
			Type     string `json:"type"`
			Filename string `json:"filename"`
		}{Type: s.Type(), Filename: s.Filename})
	case StageMerge:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{Type: s.Type()})
	default:
		return nil, eris.Errorf("pdal: unknown stage kind %q", s.Kind)
	}
}

// Plan is an ordered PDAL pipeline.
type Plan struct {
	Stages []Stage
}

// Output returns the filename of the final write stage.
func (p Plan) Output() string {
	for i := len(p.Stages) - 1; i >= 0; i-- {
		if p.Stages[i].Kind == StageWrite {
			return p.Stages[i].Filename
		}
	}
	return ""
}

// Count returns the number of stages of the given kind.
func (p Plan) Count(kind StageKind) int {
	n := 0
	for _, s := range p.Stages {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

// MarshalJSON renders {"pipeline": [...]}.
func (p Plan) MarshalJSON() ([]byte, error) {
	stages := p.Stages
	if stages == nil {
		stages = []Stage{}
	}
	return json.Marshal(struct {
		Pipeline []Stage `json:"pipeline"`
	}{Pipeline: stages})
}

// Options shape the retrieval.
type Options struct {
	Clip     bool
	MergeAll bool
	// OutputDir receives every written file.
	OutputDir string
	// Project names the merged output, <Project>_merged.laz.
	Project    string
	ReaderKind string
	WriterKind string
}

// Retrieval is the outcome of planning: PDAL pipelines to run, or plain
// downloads when neither clipping nor merging was requested.
type Retrieval struct {
	Plans     []Plan
	Downloads []string
}

// Input is what the planner needs from a query result.
type Input struct {
	URLs     []string
	Geometry spatial.QueryGeometry
}

// Build compiles the retrieval for in. It never runs anything.
func Build(in Input, opts Options) (Retrieval, error) {
	readerKind := defaultString(opts.ReaderKind, "las")
	writerKind := defaultString(opts.WriterKind, "las")

	if !opts.Clip && !opts.MergeAll {
		return Retrieval{Downloads: append([]string(nil), in.URLs...)}, nil
	}
	if len(in.URLs) == 0 {
		return Retrieval{}, eris.New("pdal: no tiles to retrieve")
	}

	var polygon string
	if opts.Clip {
		var err error
		polygon, err = clipPolygon(in.Geometry)
		if err != nil {
			return Retrieval{}, err
		}
	}

	if opts.MergeAll {
		stages := make([]Stage, 0, len(in.URLs)+2)
		for _, u := range in.URLs {
			stages = append(stages, Reader(readerKind, u, polygon))
		}
		stages = append(stages,
			Merge(),
			Writer(writerKind, filepath.Join(opts.OutputDir, MergedName(opts.Project))),
		)
		return Retrieval{Plans: []Plan{{Stages: stages}}}, nil
	}

	plans := make([]Plan, 0, len(in.URLs))
	used := make(map[string]int, len(in.URLs))
	for _, u := range in.URLs {
		plans = append(plans, Plan{Stages: []Stage{
			Reader(readerKind, u, polygon),
			Writer(writerKind, filepath.Join(opts.OutputDir, tileOutputName(u, opts.Project, used))),
		}})
	}
	return Retrieval{Plans: plans}, nil
}

// tileOutputName is the URL's final segment. Repeats of a segment already
// planned get a "<project>_<n>_" prefix so no two writers share a file.
func tileOutputName(rawURL, project string, used map[string]int) string {
	name := Segment(rawURL)
	used[name]++
	n := used[name]
	if n == 1 {
		return name
	}
	if project == "" {
		project = "canlidar"
	}
	renamed := fmt.Sprintf("%s_%d_%s", project, n, name)
	for used[renamed] > 0 {
		n++
		used[name] = n
		renamed = fmt.Sprintf("%s_%d_%s", project, n, name)
	}
	used[renamed]++
	zap.L().Warn("pdal: duplicate tile filename, renaming output",
		zap.String("url", rawURL),
		zap.String("segment", name),
		zap.String("output", renamed),
	)
	return renamed
}

// MergedName is the output filename of a merged retrieval.
func MergedName(project string) string {
	if project == "" {
		project = "canlidar"
	}
	return project + "_merged.laz"
}

// Segment returns the final path segment of a URL or path.
func Segment(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = u.Path
	}
	p = strings.TrimRight(p, "/")
	return path.Base(p)
}

func clipPolygon(g spatial.QueryGeometry) (string, error) {
	if g.IsZero() {
		return "", eris.New("pdal: clipping requires a query geometry")
	}
	wkt, err := g.WKT()
	if err != nil {
		return "", eris.Wrap(err, "pdal: encode clip polygon")
	}
	return wkt + " / " + g.CRS().String(), nil
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
