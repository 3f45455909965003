// Package retrieve turns a resolved query into files on disk: the result
// document, a tile listing, and the point clouds themselves (through PDAL
// pipelines or plain downloads).
package retrieve

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/canlidar/internal/export"
	"github.com/sells-group/canlidar/internal/fetcher"
	"github.com/sells-group/canlidar/internal/pdal"
	"github.com/sells-group/canlidar/internal/resolver"
)

// Downloader fetches a list of URLs into a directory.
type Downloader interface {
	DownloadAll(ctx context.Context, urls []string, dest string) ([]fetcher.Result, error)
}

// Options controls one retrieval.
type Options struct {
	OutputDir string
	Project   string
	Clip      bool
	Merge     bool

	ReaderKind string
	WriterKind string
	// Concurrency bounds how many per-tile pipelines run at once. Default 2.
	Concurrency int
}

// Report describes what a retrieval wrote.
type Report struct {
	Dir        string           `json:"dir" yaml:"dir"`
	ResultPath string           `json:"result_path" yaml:"result_path"`
	ListPath   string           `json:"list_path" yaml:"list_path"`
	Outputs    []string         `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Downloads  []fetcher.Result `json:"downloads,omitempty" yaml:"downloads,omitempty"`
}

// Runner executes retrievals.
type Runner struct {
	exec pdal.Executor
	dl   Downloader
}

// New creates a Runner. exec runs PDAL plans; dl handles plain downloads.
func New(exec pdal.Executor, dl Downloader) *Runner {
	return &Runner{exec: exec, dl: dl}
}

// Project returns the name used for the output folder.
func Project(name string) string {
	if name == "" {
		return "canlidar"
	}
	return name
}

// Run writes <out>/<project>/<project>_query.json and _tiles.xlsx, then
// fetches the tiles of res as opts asks.
func (r *Runner) Run(ctx context.Context, res *resolver.QueryResult, opts Options) (*Report, error) {
	project := Project(opts.Project)
	dir := filepath.Join(opts.OutputDir, project)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "retrieve: create %s", dir)
	}
	log := zap.L().With(zap.String("component", "retrieve"), zap.String("project", project))

	rep := &Report{
		Dir:        dir,
		ResultPath: filepath.Join(dir, project+"_query.json"),
		ListPath:   filepath.Join(dir, project+"_tiles.xlsx"),
	}
	if err := WriteResult(rep.ResultPath, res); err != nil {
		return nil, err
	}
	if err := export.WriteXLSX(rep.ListPath, res); err != nil {
		return nil, err
	}

	plan, err := pdal.Build(pdal.Input{URLs: res.URLs, Geometry: res.Geometry}, pdal.Options{
		Clip:       opts.Clip,
		MergeAll:   opts.Merge,
		OutputDir:  dir,
		Project:    project,
		ReaderKind: opts.ReaderKind,
		WriterKind: opts.WriterKind,
	})
	if err != nil {
		return nil, err
	}

	if len(plan.Plans) == 0 {
		if len(plan.Downloads) == 0 {
			return rep, nil
		}
		if r.dl == nil {
			return nil, eris.New("retrieve: no downloader configured")
		}
		log.Info("downloading tiles", zap.Int("count", len(plan.Downloads)))
		results, err := r.dl.DownloadAll(ctx, plan.Downloads, dir)
		if err != nil {
			return nil, eris.Wrap(err, "retrieve: download tiles")
		}
		rep.Downloads = results
		return rep, nil
	}

	if r.exec == nil {
		return nil, eris.New("retrieve: no pipeline executor configured")
	}
	limit := opts.Concurrency
	if limit <= 0 {
		limit = 2
	}
	log.Info("running pdal pipelines", zap.Int("pipelines", len(plan.Plans)), zap.Bool("clip", opts.Clip), zap.Bool("merge", opts.Merge))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, p := range plan.Plans {
		g.Go(func() error {
			return r.exec.Execute(gctx, p)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "retrieve: run pipelines")
	}
	for _, p := range plan.Plans {
		rep.Outputs = append(rep.Outputs, p.Output())
	}
	return rep, nil
}

// WriteResult stores res as indented JSON at path.
func WriteResult(path string, res *resolver.QueryResult) error {
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return eris.Wrap(err, "retrieve: marshal result")
	}
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return eris.Wrapf(err, "retrieve: write %s", path)
	}
	return nil
}

// ReadResult loads a result document written by WriteResult.
func ReadResult(path string) (*resolver.QueryResult, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "retrieve: read %s", path)
	}
	var res resolver.QueryResult
	if err := json.Unmarshal(b, &res); err != nil {
		return nil, eris.Wrapf(err, "retrieve: parse %s", path)
	}
	return &res, nil
}
