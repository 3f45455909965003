package fetcher

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BulkOptions configures a Bulk downloader.
type BulkOptions struct {
	Concurrency int
	// Overwrite re-downloads files that already exist at the destination.
	Overwrite bool
}

// Result describes one downloaded (or skipped) file.
type Result struct {
	URL     string `json:"url"`
	Path    string `json:"path"`
	Bytes   int64  `json:"bytes"`
	Skipped bool   `json:"skipped,omitempty"`
}

// Bulk downloads many tiles in parallel, dispatching on URL scheme.
type Bulk struct {
	http Fetcher
	ftp  Fetcher
	opts BulkOptions
}

// NewBulk creates a Bulk downloader. Either fetcher may be nil, in which
// case URLs of that scheme are rejected.
func NewBulk(httpFetcher, ftpFetcher Fetcher, opts BulkOptions) *Bulk {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Bulk{http: httpFetcher, ftp: ftpFetcher, opts: opts}
}

func (b *Bulk) fetcherFor(rawURL string) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse %s", rawURL)
	}
	var f Fetcher
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		f = b.http
	case "ftp":
		f = b.ftp
	}
	if f == nil {
		return nil, eris.Errorf("fetcher: unsupported url scheme %q in %s", u.Scheme, rawURL)
	}
	return f, nil
}

// DownloadAll downloads every URL into dest. Duplicate URLs are fetched
// once. Results are returned in input order. The first failure cancels the
// remaining downloads.
func (b *Bulk) DownloadAll(ctx context.Context, urls []string, dest string) ([]Result, error) {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, eris.Wrapf(err, "fetcher: create %s", dest)
	}

	jobs := plan(urls, dest)
	for _, j := range jobs {
		if _, err := b.fetcherFor(j.URL); err != nil {
			return nil, err
		}
	}

	log := zap.L().With(zap.String("component", "fetcher"))
	results := make([]Result, len(jobs))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Concurrency)
	for i, j := range jobs {
		g.Go(func() error {
			res := Result{URL: j.URL, Path: j.Path}
			if !b.opts.Overwrite {
				if info, err := os.Stat(j.Path); err == nil && info.Size() > 0 {
					res.Bytes, res.Skipped = info.Size(), true
					results[i] = res
					log.Debug("tile already present", zap.String("path", j.Path))
					return nil
				}
			}

			f, _ := b.fetcherFor(j.URL)
			n, err := f.DownloadToFile(gctx, j.URL, j.Path)
			if err != nil {
				return eris.Wrapf(err, "fetcher: download %s", j.URL)
			}
			res.Bytes = n
			results[i] = res
			log.Info("tile downloaded",
				zap.String("url", j.URL),
				zap.Int64("bytes", n),
				zap.Int64("done", done.Add(1)),
				zap.Int("total", len(jobs)),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

type job struct {
	URL  string
	Path string
}

// plan assigns every distinct URL a file name in dest. Names come from the
// last path segment; clashes get a numeric suffix.
func plan(urls []string, dest string) []job {
	var jobs []job
	seen := map[string]bool{}
	used := map[string]bool{}

	for _, u := range urls {
		if seen[u] {
			continue
		}
		seen[u] = true

		name := fileName(u)
		ext := filepath.Ext(name)
		base := strings.TrimSuffix(name, ext)
		for n := 2; used[name]; n++ {
			name = base + "_" + strconv.Itoa(n) + ext
		}
		used[name] = true
		jobs = append(jobs, job{URL: u, Path: filepath.Join(dest, name)})
	}
	return jobs
}

func fileName(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	name := path.Base(strings.TrimRight(p, "/"))
	if name == "." || name == "/" || name == "" {
		return "tile"
	}
	return name
}
