package source

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mmcdole/gofeed"

	"mediarelay/internal/media"
	"mediarelay/internal/model"
)

const maxFeedSize = 5 * 1024 * 1024

// Feed lists items of RSS and Atom feeds.
type Feed struct {
	client    HTTPClient
	userAgent string
	log       *slog.Logger
}

// NewFeed creates a Feed client.
func NewFeed(client HTTPClient, userAgent string, log *slog.Logger) *Feed {
	if userAgent == "" {
		userAgent = "mediarelay/1.0"
	}
	return &Feed{client: client, userAgent: userAgent, log: log}
}

// Check implements Client. Feeds need no credentials.
func (f *Feed) Check(context.Context) error {
	return nil
}

// ListRecent implements Client.
func (f *Feed) ListRecent(ctx context.Context, src model.Source, limit int) (iter.Seq[model.Item], error) {
	feed, err := f.fetch(ctx, src.Name())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", model.ErrSourceUnavailable, src, err)
	}

	items := feed.Items
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	out := make([]model.Item, 0, len(items))
	for _, it := range items {
		out = append(out, model.Item{
			ID:     ItemGUID(it),
			Title:  strings.TrimSpace(it.Title),
			Source: src,
			Media:  feedMedia(it),
		})
	}
	f.log.Debug("feed listed", "source", src, "title", feed.Title, "items", len(out))
	return seq(out), nil
}

func (f *Feed) fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// ItemGUID returns the GUID for a feed item.
// If the item has no GUID, a SHA-256 hash of title+link is used.
func ItemGUID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	h := sha256.Sum256([]byte(item.Title + "|" + item.Link))
	return fmt.Sprintf("sha256:%x", h[:16])
}

// feedMedia picks the first relayable URL among the enclosures, Media RSS
// content, the item image and finally the link.
func feedMedia(it *gofeed.Item) model.Media {
	var candidates []string
	for _, enc := range it.Enclosures {
		if enc != nil {
			candidates = append(candidates, enc.URL)
		}
	}
	if ext, ok := it.Extensions["media"]; ok {
		for _, name := range []string{"content", "thumbnail"} {
			for _, e := range ext[name] {
				candidates = append(candidates, e.Attrs["url"])
			}
		}
	}
	if it.Image != nil {
		candidates = append(candidates, it.Image.URL)
	}
	candidates = append(candidates, it.Link)

	for _, u := range candidates {
		if u == "" || media.Classify(u, false) == model.KindNone {
			continue
		}
		return newMedia(u, "", nil)
	}
	return nil
}
