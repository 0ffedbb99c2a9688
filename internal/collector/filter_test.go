package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNetworkFilterIncludeTrumpsExclude(t *testing.T) {
	f := NetworkFilter{
		IncludePatterns: []string{"api.example.com"},
		ExcludePatterns: []string{"*example.com*"},
	}

	assert.True(t, f.Keep("https://api.example.com/users"))
	assert.False(t, f.Keep("https://cdn.example.com/logo"))
}

func TestNetworkFilterWhitelist(t *testing.T) {
	f := NetworkFilter{IncludePatterns: []string{"*.internal.corp*"}}

	assert.True(t, f.Keep("https://api.internal.corp/v1"))
	assert.False(t, f.Keep("https://example.com/"))
}

func TestNetworkFilterExclude(t *testing.T) {
	f := NetworkFilter{ExcludePatterns: []string{"*cdn*"}}

	assert.False(t, f.Keep("https://cdn.example.com/app.js"))
	assert.True(t, f.Keep("https://example.com/app.js"))
}

func TestNetworkFilterTrackingDomains(t *testing.T) {
	f := NetworkFilter{}

	assert.False(t, f.Keep("https://www.google-analytics.com/collect"))
	assert.False(t, f.Keep("https://cdn.mixpanel.com/lib.js"))
	assert.True(t, f.Keep("https://example.com/api"))
}

func TestNetworkFilterIncludeAllKeepsTracking(t *testing.T) {
	f := NetworkFilter{IncludeAll: true}

	assert.True(t, f.Keep("https://www.google-analytics.com/collect"))
}

func TestNetworkFilterCaseInsensitive(t *testing.T) {
	f := NetworkFilter{ExcludePatterns: []string{"*EXAMPLE.COM*"}}

	assert.False(t, f.Keep("https://example.com/x"))
}

func TestConsoleFilterNoise(t *testing.T) {
	f := ConsoleFilter{}

	assert.False(t, f.Keep("[HMR] Waiting for update signal from WDS..."))
	assert.False(t, f.Keep("[WDS] Live Reloading enabled."))
	assert.False(t, f.Keep("Download the React DevTools for a better development experience"))
	assert.True(t, f.Keep("user clicked checkout"))
}

func TestConsoleFilterIncludeOverridesNoise(t *testing.T) {
	f := ConsoleFilter{IncludePatterns: []string{"*HMR*"}}

	assert.True(t, f.Keep("[HMR] Waiting for update signal"))
	assert.False(t, f.Keep("unrelated message"))
}

func TestMatchWildcard(t *testing.T) {
	tests := []struct {
		pattern string
		s       string
		want    bool
	}{
		{"*.example.com", "api.example.com", true},
		{"*.example.com", "example.com", false},
		{"api.*", "api.example.com", true},
		{"example", "api.example.com/path", true},
		{"*foo*bar*", "xxfooyybarzz", true},
		{"*foo*bar*", "barfoo", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, matchWildcard(tt.pattern, tt.s), "pattern %q against %q", tt.pattern, tt.s)
	}
}
