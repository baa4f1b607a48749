package bot

import (
	"fmt"
	"net/url"
	"strings"

	"mediarelay/internal/model"
)

// ParseSourceArg parses the argument of /add and /remove. Accepted forms:
// "pics", "r/pics", "feed:https://example.com/rss" and a bare http(s) URL,
// which is treated as a feed.
func ParseSourceArg(args string) (model.Source, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "", fmt.Errorf("source is required")
	}
	raw := fields[0]

	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		raw = "feed:" + raw
	}

	src := model.Source(raw)
	name := src.Name()
	if name == "" {
		return "", fmt.Errorf("source name is empty")
	}

	if src.IsFeed() {
		u, err := url.Parse(name)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "", fmt.Errorf("invalid feed URL %q", name)
		}
		return src, nil
	}

	for _, r := range name {
		if !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return "", fmt.Errorf("invalid subreddit name %q", name)
		}
	}
	return src, nil
}
