// Package media classifies media URLs and shrinks oversized media files.
package media

import (
	"net/url"
	"path"
	"strings"

	"mediarelay/internal/model"
)

var videoHosts = []string{
	"https://v.redd.it",
}

var extensionKinds = map[string]model.Kind{
	".jpg":  model.KindImage,
	".jpeg": model.KindImage,
	".png":  model.KindImage,
	".gif":  model.KindImage,
	".mp4":  model.KindVideo,
	".webm": model.KindVideo,
}

// Classify returns the media kind for a post URL. A gallery flag wins over
// the URL; otherwise known video hosts and the extension allow-list decide.
func Classify(rawURL string, isGallery bool) model.Kind {
	if isGallery {
		return model.KindGallery
	}
	for _, prefix := range videoHosts {
		if strings.HasPrefix(rawURL, prefix) {
			return model.KindVideo
		}
	}
	if kind, ok := extensionKinds[Extension(rawURL)]; ok {
		return kind
	}
	return model.KindNone
}

// Extension returns the lower-cased extension of the URL path, ignoring any
// query string or fragment.
func Extension(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = u.Path
	}
	return strings.ToLower(path.Ext(p))
}

// IsAnimated reports whether a local file or URL holds a .gif.
func IsAnimated(p string) bool {
	return Extension(p) == ".gif"
}
