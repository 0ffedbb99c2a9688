package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBodyPolicySkipsCSSByMIME(t *testing.T) {
	p := BodyPolicy{}

	// MIME skip applies even when the URL carries a query string.
	assert.False(t, p.ShouldFetch("http://x/y.css?q=1", "text/css", 100))
}

func TestBodyPolicyFetchesSmallJSON(t *testing.T) {
	p := BodyPolicy{}

	assert.True(t, p.ShouldFetch("https://api.example.com/users", "application/json", 100*1024))
}

func TestBodyPolicyExcludePatternSuppressesJSON(t *testing.T) {
	p := BodyPolicy{ExcludePatterns: []string{"*api.example.com*"}}

	assert.False(t, p.ShouldFetch("https://api.example.com/users", "application/json", 100*1024))
}

func TestBodyPolicyIncludePatternWins(t *testing.T) {
	p := BodyPolicy{
		IncludePatterns: []string{"*api.example.com*"},
		ExcludePatterns: []string{"*example.com*"},
	}

	assert.True(t, p.ShouldFetch("https://api.example.com/big.bin", "application/octet-stream", 1<<30))
}

func TestBodyPolicyFetchAll(t *testing.T) {
	p := BodyPolicy{FetchAll: true}

	assert.True(t, p.ShouldFetch("https://x/huge.bin", "application/octet-stream", 1<<30))
}

func TestBodyPolicySizeLimit(t *testing.T) {
	p := BodyPolicy{}

	assert.True(t, p.ShouldFetch("https://x/data", "application/json", DefaultMaxBodySize))
	assert.False(t, p.ShouldFetch("https://x/data", "application/json", DefaultMaxBodySize+1))
}

func TestBodyPolicyCustomSizeLimit(t *testing.T) {
	p := BodyPolicy{MaxBodySize: 1024}

	assert.True(t, p.ShouldFetch("https://x/data", "text/html", 1024))
	assert.False(t, p.ShouldFetch("https://x/data", "text/html", 1025))
}

func TestBodyPolicySkipsByExtension(t *testing.T) {
	p := BodyPolicy{}

	tests := []string{
		"https://x/logo.png",
		"https://x/font.woff2?v=2",
		"https://x/app.js.map",
		"https://x/video.mp4#t=10",
	}
	for _, u := range tests {
		assert.False(t, p.ShouldFetch(u, "", 100), "url %s", u)
	}
}

func TestBodyPolicySkipsNonText(t *testing.T) {
	p := BodyPolicy{}

	assert.False(t, p.ShouldFetch("https://x/data", "application/protobuf", 100))
	assert.True(t, p.ShouldFetch("https://x/page", "text/html; charset=utf-8", 100))
	assert.True(t, p.ShouldFetch("https://x/app", "application/javascript", 100))
}
