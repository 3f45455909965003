package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tileServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/missing.laz" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("LASF" + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBulk_DownloadAll(t *testing.T) {
	var hits atomic.Int32
	srv := tileServer(t, &hits)
	dest := filepath.Join(t.TempDir(), "ON_GTA_2019")

	urls := []string{
		srv.URL + "/a/tile_1.laz",
		srv.URL + "/a/tile_2.laz",
		srv.URL + "/a/tile_3.laz",
		srv.URL + "/a/tile_1.laz",
	}
	b := NewBulk(newTestFetcher(), nil, BulkOptions{Concurrency: 2})

	results, err := b.DownloadAll(context.Background(), urls, dest)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, int32(3), hits.Load())

	for i, r := range results {
		assert.Equal(t, urls[i], r.URL)
		assert.Equal(t, filepath.Join(dest, fmt.Sprintf("tile_%d.laz", i+1)), r.Path)
		assert.False(t, r.Skipped)

		data, err := os.ReadFile(r.Path)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("LASF/a/tile_%d.laz", i+1), string(data))
		assert.Equal(t, int64(len(data)), r.Bytes)
	}
}

func TestBulk_SkipsExisting(t *testing.T) {
	var hits atomic.Int32
	srv := tileServer(t, &hits)
	dest := t.TempDir()
	require.NoError(t, writeTestFile(filepath.Join(dest, "tile_1.laz"), "already here"))

	b := NewBulk(newTestFetcher(), nil, BulkOptions{})
	results, err := b.DownloadAll(context.Background(), []string{
		srv.URL + "/tile_1.laz",
		srv.URL + "/tile_2.laz",
	}, dest)
	require.NoError(t, err)

	assert.True(t, results[0].Skipped)
	assert.Equal(t, int64(len("already here")), results[0].Bytes)
	assert.False(t, results[1].Skipped)
	assert.Equal(t, int32(1), hits.Load())

	data, err := os.ReadFile(filepath.Join(dest, "tile_1.laz"))
	require.NoError(t, err)
	assert.Equal(t, "already here", string(data))
}

func TestBulk_Overwrite(t *testing.T) {
	var hits atomic.Int32
	srv := tileServer(t, &hits)
	dest := t.TempDir()
	require.NoError(t, writeTestFile(filepath.Join(dest, "tile_1.laz"), "stale"))

	b := NewBulk(newTestFetcher(), nil, BulkOptions{Overwrite: true})
	results, err := b.DownloadAll(context.Background(), []string{srv.URL + "/tile_1.laz"}, dest)
	require.NoError(t, err)
	assert.False(t, results[0].Skipped)

	data, err := os.ReadFile(filepath.Join(dest, "tile_1.laz"))
	require.NoError(t, err)
	assert.Equal(t, "LASF/tile_1.laz", string(data))
}

func TestBulk_FailureStopsRun(t *testing.T) {
	var hits atomic.Int32
	srv := tileServer(t, &hits)

	b := NewBulk(newTestFetcher(), nil, BulkOptions{Concurrency: 1})
	_, err := b.DownloadAll(context.Background(), []string{
		srv.URL + "/missing.laz",
		srv.URL + "/tile_2.laz",
	}, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.laz")
}

func TestBulk_UnsupportedScheme(t *testing.T) {
	b := NewBulk(newTestFetcher(), nil, BulkOptions{})
	_, err := b.DownloadAll(context.Background(), []string{"s3://bucket/tile.laz"}, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported url scheme")

	_, err = b.DownloadAll(context.Background(), []string{"ftp://ftp.example.ca/tile.laz"}, t.TempDir())
	require.Error(t, err)
}

func TestBulk_MixedSchemes(t *testing.T) {
	var hits atomic.Int32
	srv := tileServer(t, &hits)
	ftpSrv := newMiniFTPServer(t, map[string]string{"/pub/tile_f.laz": "ftp tile"})
	defer ftpSrv.close()

	b := NewBulk(newTestFetcher(), NewFTPFetcher(FTPOptions{Timeout: 5 * time.Second}), BulkOptions{})
	dest := t.TempDir()
	results, err := b.DownloadAll(context.Background(), []string{
		srv.URL + "/tile_h.laz",
		fmt.Sprintf("ftp://%s/pub/tile_f.laz", ftpSrv.addr()),
	}, dest)
	require.NoError(t, err)
	require.Len(t, results, 2)

	data, err := os.ReadFile(filepath.Join(dest, "tile_f.laz"))
	require.NoError(t, err)
	assert.Equal(t, "ftp tile", string(data))
}

func TestPlan_NameClashes(t *testing.T) {
	jobs := plan([]string{
		"https://a.example.ca/p1/tile.laz",
		"https://a.example.ca/p2/tile.laz",
		"https://a.example.ca/p3/tile_2.laz",
		"https://a.example.ca/p1/tile.laz",
	}, "/dest")

	require.Len(t, jobs, 3)
	assert.Equal(t, filepath.Join("/dest", "tile.laz"), jobs[0].Path)
	assert.Equal(t, filepath.Join("/dest", "tile_2.laz"), jobs[1].Path)
	assert.Equal(t, filepath.Join("/dest", "tile_2_2.laz"), jobs[2].Path)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "tile.laz", fileName("https://x.ca/a/tile.laz?sig=1"))
	assert.Equal(t, "tile.laz", fileName("ftp://x.ca/a/tile.laz"))
	assert.Equal(t, "a", fileName("https://x.ca/a/"))
	assert.Equal(t, "tile", fileName("https://x.ca"))
}
