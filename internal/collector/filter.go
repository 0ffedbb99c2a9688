// Package collector captures network and console telemetry from a
// Chrome tab over CDP and records it in the telemetry store.
package collector

import (
	"net/url"
	"regexp"
	"strings"
)

// trackingDomains are third-party analytics and tracking hosts dropped
// by default unless includeAll is set.
var trackingDomains = []string{
	"google-analytics.com",
	"googletagmanager.com",
	"analytics.google.com",
	"doubleclick.net",
	"facebook.com",
	"facebook.net",
	"connect.facebook.net",
	"mixpanel.com",
	"segment.io",
	"segment.com",
	"amplitude.com",
	"heap.io",
	"heapanalytics.com",
	"fullstory.com",
	"hotjar.com",
	"logrocket.com",
	"criteo.com",
	"sentry.io",
	"datadoghq.com",
	"newrelic.com",
	"nr-data.net",
}

// consoleNoise matches dev-server chatter that drowns out application
// output.
var consoleNoise = []string{
	"webpack-dev-server",
	"[HMR]",
	"[WDS]",
	"Download the React DevTools",
}

// NetworkFilter decides which network requests are recorded.
type NetworkFilter struct {
	// IncludeAll disables the built-in tracking-domain exclusion.
	IncludeAll bool
	// IncludePatterns, when non-empty, acts as a whitelist.
	IncludePatterns []string
	// ExcludePatterns drops matching URLs unless an include pattern
	// matched first.
	ExcludePatterns []string
}

// ConsoleFilter decides which console messages are recorded.
type ConsoleFilter struct {
	// IncludeAll disables the built-in dev-server noise exclusion.
	IncludeAll bool
	IncludePatterns []string
	ExcludePatterns []string
}

// Keep reports whether a request URL should be recorded.
// Include patterns always win, then exclude patterns, then the
// tracking-domain list. A non-empty include list is a whitelist.
func (f NetworkFilter) Keep(rawURL string) bool {
	host, hostPath := splitURL(rawURL)

	if matchAny(f.IncludePatterns, host, hostPath) {
		return true
	}
	if len(f.IncludePatterns) > 0 {
		return false
	}
	if matchAny(f.ExcludePatterns, host, hostPath) {
		return false
	}
	if !f.IncludeAll {
		lower := strings.ToLower(host)
		for _, domain := range trackingDomains {
			if strings.Contains(lower, domain) {
				return false
			}
		}
	}
	return true
}

// Keep reports whether a console message should be recorded.
func (f ConsoleFilter) Keep(text string) bool {
	if matchAnyText(f.IncludePatterns, text) {
		return true
	}
	if len(f.IncludePatterns) > 0 {
		return false
	}
	if matchAnyText(f.ExcludePatterns, text) {
		return false
	}
	if !f.IncludeAll {
		for _, noise := range consoleNoise {
			if strings.Contains(text, noise) {
				return false
			}
		}
	}
	return true
}

// splitURL returns the bare hostname and hostname+path of a URL, both
// lowercased. Unparseable URLs yield the raw string for both.
func splitURL(rawURL string) (host, hostPath string) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		lower := strings.ToLower(rawURL)
		return lower, lower
	}
	host = strings.ToLower(u.Hostname())
	return host, host + strings.ToLower(u.Path)
}

// matchAny reports whether any wildcard pattern matches the hostname or
// hostname+path.
func matchAny(patterns []string, host, hostPath string) bool {
	for _, p := range patterns {
		if matchWildcard(p, host) || matchWildcard(p, hostPath) {
			return true
		}
	}
	return false
}

func matchAnyText(patterns []string, text string) bool {
	for _, p := range patterns {
		if matchWildcard(p, text) {
			return true
		}
	}
	return false
}

// matchWildcard matches a pattern where * matches any run of
// characters. Patterns without * match as substrings. Matching is
// case-insensitive.
func matchWildcard(pattern, s string) bool {
	pattern = strings.ToLower(pattern)
	s = strings.ToLower(s)

	if !strings.Contains(pattern, "*") {
		return strings.Contains(s, pattern)
	}

	parts := strings.Split(pattern, "*")
	quoted := make([]string, len(parts))
	for i, part := range parts {
		quoted[i] = regexp.QuoteMeta(part)
	}
	re, err := regexp.Compile("^" + strings.Join(quoted, ".*") + "$")
	if err != nil {
		return false
	}
	return re.MatchString(s)
}
