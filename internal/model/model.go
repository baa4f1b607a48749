// Package model defines the domain types used across the application.
package model

import (
	"slices"
	"strings"
	"time"
)

// Source identifies a monitored channel. "feed:<url>" names an RSS/Atom
// feed; "r/<name>" or a bare name is a subreddit.
type Source string

const feedPrefix = "feed:"

// IsFeed reports whether the source is an RSS/Atom feed.
func (s Source) IsFeed() bool {
	return strings.HasPrefix(strings.ToLower(string(s)), feedPrefix)
}

// Name returns the backend-specific name: the feed URL or the subreddit.
func (s Source) Name() string {
	str := strings.TrimSpace(string(s))
	if s.IsFeed() {
		return strings.TrimSpace(str[len(feedPrefix):])
	}
	str = strings.TrimPrefix(str, "/")
	if len(str) > 2 && strings.EqualFold(str[:2], "r/") {
		str = str[2:]
	}
	return str
}

// Key is the case-insensitive identity used to deduplicate sources.
func (s Source) Key() string {
	if s.IsFeed() {
		return feedPrefix + strings.ToLower(s.Name())
	}
	return "r/" + strings.ToLower(s.Name())
}

// Kind is the media classification of an item.
type Kind string

// Supported media kinds.
const (
	KindNone    Kind = "none"
	KindImage   Kind = "image"
	KindVideo   Kind = "video"
	KindGIF     Kind = "gif"
	KindGallery Kind = "gallery"
)

// Media is the media payload attached to an item. Only the types in this
// package implement it.
type Media interface {
	Kind() Kind
	isMedia()
}

// Image is a single still image (or a .gif file).
type Image struct {
	URL string
}

// Video is a hosted video. FallbackURL, when set, is the directly
// downloadable rendition.
type Video struct {
	URL         string
	FallbackURL string
}

// Gallery is a multi-image post.
type Gallery struct {
	URLs []string
}

func (Image) Kind() Kind   { return KindImage }
func (Video) Kind() Kind   { return KindVideo }
func (Gallery) Kind() Kind { return KindGallery }

func (Image) isMedia()   {}
func (Video) isMedia()   {}
func (Gallery) isMedia() {}

// Item is one unit of content discovered from a source.
type Item struct {
	ID     string
	Title  string
	Source Source
	Media  Media
}

// Kind returns the item's media kind, KindNone when it carries no media.
func (it Item) Kind() Kind {
	if it.Media == nil {
		return KindNone
	}
	return it.Media.Kind()
}

// SeenKey identifies the item in the seen set. Subreddit post ids are
// unique across Reddit and are stored bare; feed GUIDs are only unique
// within their feed, so they are qualified by the feed key.
func (it Item) SeenKey() string {
	if it.Source.IsFeed() {
		return it.Source.Key() + "\x00" + it.ID
	}
	return it.ID
}

// DownloadURL returns the URL to fetch for the item, or "" when there is
// nothing downloadable.
func (it Item) DownloadURL() string {
	switch m := it.Media.(type) {
	case Image:
		return m.URL
	case Video:
		if m.FallbackURL != "" {
			return m.FallbackURL
		}
		return m.URL
	case Gallery:
		if len(m.URLs) > 0 {
			return m.URLs[0]
		}
	}
	return ""
}

// Subscriber is a chat registered to receive delivered media.
type Subscriber struct {
	ChatID      int64     `json:"chat_id"`
	DisplayName string    `json:"name"`
	JoinedAt    time.Time `json:"joined_at"`
}

// DownloadResult is the outcome of fetching one item's media.
type DownloadResult struct {
	ItemID string
	Path   string
	Err    error
}

// FailedDelivery is a delivery waiting in the retry queue.
type FailedDelivery struct {
	ChatID        int64
	Path          string
	Kind          Kind
	Attempts      int
	FirstFailedAt time.Time
}

// Event is one entry of a source's delivery timeline.
type Event struct {
	Time  time.Time `json:"time"`
	Kind  Kind      `json:"type"`
	Title string    `json:"title"`
}

// Stats holds aggregate delivery counters.
type Stats struct {
	Images    int                `json:"images"`
	Videos    int                `json:"videos"`
	GIFs      int                `json:"gifs"`
	Total     int                `json:"total"`
	Failed    int                `json:"failed"`
	PerSource map[string]int     `json:"subreddits"`
	Timeline  map[string][]Event `json:"temporal"`
}

// NewStats returns zeroed stats with initialised maps.
func NewStats() Stats {
	return Stats{
		PerSource: map[string]int{},
		Timeline:  map[string][]Event{},
	}
}

// Clone returns a deep copy of s.
func (s Stats) Clone() Stats {
	out := s
	out.PerSource = make(map[string]int, len(s.PerSource))
	for k, v := range s.PerSource {
		out.PerSource[k] = v
	}
	out.Timeline = make(map[string][]Event, len(s.Timeline))
	for k, v := range s.Timeline {
		out.Timeline[k] = slices.Clone(v)
	}
	return out
}
