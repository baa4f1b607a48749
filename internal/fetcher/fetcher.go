// Package fetcher downloads media files into a local scratch directory.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"mediarelay/internal/media"
	"mediarelay/internal/model"
)

const chunkSize = 8192

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request describes one media download.
type Request struct {
	ItemID   string
	URL      string
	Filename string
}

// Fetcher downloads media concurrently with a fixed number of workers.
type Fetcher struct {
	client  HTTPClient
	dir     string
	workers int
	timeout time.Duration
	log     *slog.Logger
}

// New creates a Fetcher writing into dir.
func New(client HTTPClient, dir string, workers int, timeout time.Duration, log *slog.Logger) *Fetcher {
	if workers <= 0 {
		workers = 10
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Fetcher{
		client:  client,
		dir:     dir,
		workers: workers,
		timeout: timeout,
		log:     log,
	}
}

// Fetch downloads every request and returns item id -> local path for the
// ones that succeeded. A failed download never cancels its siblings.
func (f *Fetcher) Fetch(ctx context.Context, reqs []Request) map[string]string {
	results := make([]model.DownloadResult, len(reqs))

	var g errgroup.Group
	g.SetLimit(f.workers)

	for i, r := range reqs {
		g.Go(func() error {
			path, err := f.download(ctx, r)
			results[i] = model.DownloadResult{ItemID: r.ItemID, Path: path, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	paths := make(map[string]string, len(reqs))
	for i, res := range results {
		if res.Err != nil {
			f.log.Error("download media", "item_id", res.ItemID, "url", reqs[i].URL, "error", res.Err)
			continue
		}
		f.log.Debug("downloaded media", "item_id", res.ItemID, "path", res.Path)
		paths[res.ItemID] = res.Path
	}
	return paths
}

func (f *Fetcher) download(ctx context.Context, r Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: create request: %w", model.ErrFetchFailed, err)
	}
	req.Header.Set("User-Agent", "mediarelay/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: http get: %w", model.ErrFetchFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: unexpected status %d", model.ErrFetchFailed, resp.StatusCode)
	}

	path := filepath.Join(f.dir, ScratchName(r.ItemID, r.Filename, r.URL))
	out, err := os.Create(path) //nolint:gosec // name is sanitised by ScratchName
	if err != nil {
		return "", fmt.Errorf("%w: create file: %w", model.ErrFetchFailed, err)
	}

	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(out, resp.Body, buf); err != nil {
		_ = out.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("%w: write body: %w", model.ErrFetchFailed, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("%w: close file: %w", model.ErrFetchFailed, err)
	}
	return path, nil
}

// ScratchName builds a safe local file name: the item id, a sanitised
// title, and the extension taken from the media URL.
func ScratchName(itemID, title, rawURL string) string {
	clean := func(s string) string {
		return strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
				return r
			default:
				return '_'
			}
		}, s)
	}

	name := clean(itemID)
	if t := clean(title); t != "" {
		if len(t) > 80 {
			t = t[:80]
		}
		name += "_" + t
	}
	ext := media.Extension(rawURL)
	if ext == "" || len(ext) > 6 {
		ext = ".bin"
	}
	return name + ext
}
