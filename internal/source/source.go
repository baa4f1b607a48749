// Package source lists recent items from monitored channels: Reddit
// subreddits through the OAuth JSON API and RSS/Atom feeds through gofeed.
package source

import (
	"context"
	"fmt"
	"iter"
	"net/http"

	"github.com/samber/lo"

	"mediarelay/internal/media"
	"mediarelay/internal/model"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client lists recent items of a source.
type Client interface {
	// ListRecent returns at most limit items, newest first.
	ListRecent(ctx context.Context, src model.Source, limit int) (iter.Seq[model.Item], error)
	// Check validates credentials and connectivity.
	Check(ctx context.Context) error
}

// Router dispatches each source to the backend serving its prefix.
type Router struct {
	reddit Client
	feed   Client
}

// NewRouter returns a Router. Either backend may be nil when no configured
// source needs it.
func NewRouter(reddit, feed Client) *Router {
	return &Router{reddit: reddit, feed: feed}
}

// ListRecent implements Client.
func (r *Router) ListRecent(ctx context.Context, src model.Source, limit int) (iter.Seq[model.Item], error) {
	backend := r.reddit
	if src.IsFeed() {
		backend = r.feed
	}
	if backend == nil {
		return nil, fmt.Errorf("%w: no backend for %q", model.ErrSourceUnavailable, src)
	}
	return backend.ListRecent(ctx, src, limit)
}

// Check implements Client.
func (r *Router) Check(ctx context.Context) error {
	for _, c := range []Client{r.reddit, r.feed} {
		if c == nil {
			continue
		}
		if err := c.Check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// NeedsReddit reports whether any source is a subreddit.
func NeedsReddit(srcs []model.Source) bool {
	return lo.SomeBy(srcs, func(s model.Source) bool { return !s.IsFeed() })
}

// ResolveMediaURL returns the URL to download for item.
func ResolveMediaURL(item model.Item) string {
	return item.DownloadURL()
}

// newMedia builds the media variant for url, or nil when the URL is not
// relayable media.
func newMedia(url, fallback string, gallery []string) model.Media {
	switch media.Classify(url, len(gallery) > 0) {
	case model.KindGallery:
		return model.Gallery{URLs: gallery}
	case model.KindVideo:
		return model.Video{URL: url, FallbackURL: fallback}
	case model.KindImage:
		return model.Image{URL: url}
	}
	if fallback != "" {
		return model.Video{URL: url, FallbackURL: fallback}
	}
	return nil
}

func seq(items []model.Item) iter.Seq[model.Item] {
	return func(yield func(model.Item) bool) {
		for _, it := range items {
			if !yield(it) {
				return
			}
		}
	}
}
