package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"mediarelay/internal/model"
)

const (
	defaultTokenURL = "https://www.reddit.com/api/v1/access_token"
	defaultAPIBase  = "https://oauth.reddit.com"
	maxListing      = 100
)

// RedditConfig holds application-only OAuth credentials.
type RedditConfig struct {
	ClientID     string
	ClientSecret string
	UserAgent    string
	TokenURL     string
	APIBase      string
}

// Reddit lists subreddit posts through the OAuth API.
type Reddit struct {
	client *http.Client
	cfg    RedditConfig
	oauth  clientcredentials.Config
	log    *slog.Logger

	mu     sync.Mutex
	tokens oauth2.TokenSource
}

// NewReddit creates a Reddit client. client also carries the token requests,
// so its timeout bounds them.
func NewReddit(client *http.Client, cfg RedditConfig, log *slog.Logger) *Reddit {
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "mediarelay/1.0"
	}
	r := &Reddit{
		client: client,
		cfg:    cfg,
		oauth: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		log: log,
	}
	r.resetTokens()
	return r
}

// resetTokens drops the cached token so the next request fetches a new one.
func (r *Reddit) resetTokens() {
	// Reddit rejects requests without a descriptive User-Agent, token
	// requests included.
	tokenClient := &http.Client{
		Timeout:   r.client.Timeout,
		Transport: userAgent{base: r.client.Transport, agent: r.cfg.UserAgent},
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, tokenClient)

	r.mu.Lock()
	r.tokens = r.oauth.TokenSource(ctx)
	r.mu.Unlock()
}

// Check obtains a fresh token, failing on bad credentials.
func (r *Reddit) Check(context.Context) error {
	r.resetTokens()
	_, err := r.token()
	return err
}

func (r *Reddit) token() (*oauth2.Token, error) {
	r.mu.Lock()
	ts := r.tokens
	r.mu.Unlock()

	tok, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: token: %w", model.ErrSourceUnavailable, err)
	}
	return tok, nil
}

type userAgent struct {
	base  http.RoundTripper
	agent string
}

func (u userAgent) RoundTrip(req *http.Request) (*http.Response, error) {
	base := u.base
	if base == nil {
		base = http.DefaultTransport
	}
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", u.agent)
	return base.RoundTrip(req)
}

func (r *Reddit) doJSON(req *http.Request, dst any) error {
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("http: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return &statusError{code: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

type listing struct {
	Data struct {
		Children []struct {
			Data post `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type post struct {
	ID            string                   `json:"id"`
	Title         string                   `json:"title"`
	URL           string                   `json:"url"`
	IsGallery     bool                     `json:"is_gallery"`
	MediaMetadata map[string]mediaMetadata `json:"media_metadata"`
	GalleryData   *struct {
		Items []struct {
			MediaID string `json:"media_id"`
		} `json:"items"`
	} `json:"gallery_data"`
	SecureMedia *struct {
		RedditVideo *struct {
			FallbackURL string `json:"fallback_url"`
		} `json:"reddit_video"`
	} `json:"secure_media"`
}

type mediaMetadata struct {
	Status string `json:"status"`
	S      struct {
		U   string `json:"u"`
		GIF string `json:"gif"`
	} `json:"s"`
}

// ListRecent implements Client.
func (r *Reddit) ListRecent(ctx context.Context, src model.Source, limit int) (iter.Seq[model.Item], error) {
	name := src.Name()
	if name == "" {
		return nil, fmt.Errorf("%w: empty subreddit name", model.ErrSourceUnavailable)
	}
	if limit <= 0 || limit > maxListing {
		limit = maxListing
	}

	tok, err := r.token()
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/r/%s/new?limit=%s&raw_json=1",
		strings.TrimRight(r.cfg.APIBase, "/"), url.PathEscape(name), strconv.Itoa(limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", model.ErrSourceUnavailable, err)
	}
	tok.SetAuthHeader(req)
	req.Header.Set("User-Agent", r.cfg.UserAgent)

	var l listing
	if err := r.doJSON(req, &l); err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusUnauthorized {
			r.resetTokens()
		}
		return nil, fmt.Errorf("%w: list r/%s: %w", model.ErrSourceUnavailable, name, err)
	}

	children := l.Data.Children
	if len(children) > limit {
		children = children[:limit]
	}
	return func(yield func(model.Item) bool) {
		for _, c := range children {
			if !yield(toItem(src, c.Data)) {
				return
			}
		}
	}, nil
}

func toItem(src model.Source, p post) model.Item {
	var fallback string
	if p.SecureMedia != nil && p.SecureMedia.RedditVideo != nil {
		fallback = p.SecureMedia.RedditVideo.FallbackURL
	}
	var gallery []string
	if p.IsGallery {
		gallery = galleryURLs(p)
	}
	return model.Item{
		ID:     p.ID,
		Title:  p.Title,
		Source: src,
		Media:  newMedia(p.URL, fallback, gallery),
	}
}

// galleryURLs returns the gallery image URLs in display order, skipping
// entries that are not yet processed.
func galleryURLs(p post) []string {
	var ids []string
	if p.GalleryData != nil {
		for _, it := range p.GalleryData.Items {
			ids = append(ids, it.MediaID)
		}
	}
	var urls []string
	for _, id := range ids {
		m, ok := p.MediaMetadata[id]
		if !ok || (m.Status != "" && m.Status != "valid") {
			continue
		}
		switch {
		case m.S.U != "":
			urls = append(urls, m.S.U)
		case m.S.GIF != "":
			urls = append(urls, m.S.GIF)
		}
	}
	return urls
}
