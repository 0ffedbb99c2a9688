package collector

import "strings"

// DefaultMaxBodySize is the largest response body fetched, in bytes.
const DefaultMaxBodySize = 5 * 1024 * 1024

// skipMIMEPrefixes are content types whose bodies are never useful as
// text telemetry.
var skipMIMEPrefixes = []string{
	"image/",
	"font/",
	"video/",
	"audio/",
}

var skipMIMETypes = []string{
	"text/css",
	"application/font-woff",
	"application/x-font-ttf",
	"application/vnd.ms-fontobject",
	"application/octet-stream",
	"application/json+sourcemap",
}

// skipExtensions mirror the MIME skip list for servers that mislabel
// static assets.
var skipExtensions = []string{
	".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".ico", ".bmp",
	".woff", ".woff2", ".ttf", ".otf", ".eot",
	".css",
	".mp4", ".webm", ".avi", ".mov",
	".mp3", ".wav", ".ogg", ".flac",
	".map",
}

// textLikeMarkers identify MIME types worth capturing as text.
var textLikeMarkers = []string{"json", "javascript", "text", "html"}

// BodyPolicy decides whether a response body is fetched.
type BodyPolicy struct {
	// FetchAll fetches every body not excluded by a pattern.
	FetchAll bool
	// MaxBodySize is the size ceiling in bytes; zero means the default.
	MaxBodySize int64
	// IncludePatterns force fetching for matching URLs.
	IncludePatterns []string
	// ExcludePatterns suppress fetching for matching URLs.
	ExcludePatterns []string
}

// ShouldFetch applies the body decision chain: include patterns, then
// exclude patterns, then fetch-all, then the MIME and URL skip lists,
// then the text-like-and-small default.
func (p BodyPolicy) ShouldFetch(rawURL, mimeType string, size int64) bool {
	host, hostPath := splitURL(rawURL)

	if matchAny(p.IncludePatterns, host, hostPath) {
		return true
	}
	if matchAny(p.ExcludePatterns, host, hostPath) {
		return false
	}
	if p.FetchAll {
		return true
	}
	if skipByMIME(mimeType) {
		return false
	}
	if skipByExtension(rawURL) {
		return false
	}

	limit := p.MaxBodySize
	if limit <= 0 {
		limit = DefaultMaxBodySize
	}
	return isTextLike(mimeType) && size <= limit
}

func skipByMIME(mimeType string) bool {
	lower := strings.ToLower(mimeType)
	for _, prefix := range skipMIMEPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	for _, mt := range skipMIMETypes {
		if strings.HasPrefix(lower, mt) {
			return true
		}
	}
	return false
}

func skipByExtension(rawURL string) bool {
	// Strip query and fragment before looking at the extension.
	path := rawURL
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	lower := strings.ToLower(path)
	for _, ext := range skipExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func isTextLike(mimeType string) bool {
	lower := strings.ToLower(mimeType)
	for _, marker := range textLikeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
