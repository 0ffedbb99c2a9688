// Package schema holds the vendored CDP method table used for
// case-insensitive method-name normalization and help text.
package schema

import (
	_ "embed"
	"encoding/json"
	"sort"
	"strings"
	"sync"
)

//go:embed protocol.json
var protocolJSON []byte

type protocol struct {
	Domains []struct {
		Domain   string `json:"domain"`
		Commands []struct {
			Name string `json:"name"`
		} `json:"commands"`
	} `json:"domains"`
}

var (
	loadOnce sync.Once
	// canonical maps lowercase "domain.method" to Chrome's canonical casing.
	canonical map[string]string
	methods   []string
)

func load() {
	loadOnce.Do(func() {
		var p protocol
		if err := json.Unmarshal(protocolJSON, &p); err != nil {
			// The table is embedded at build time; a parse failure is a
			// packaging bug and leaves normalization strict-miss only.
			canonical = map[string]string{}
			return
		}
		canonical = make(map[string]string)
		for _, d := range p.Domains {
			for _, c := range d.Commands {
				name := d.Domain + "." + c.Name
				canonical[strings.ToLower(name)] = name
				methods = append(methods, name)
			}
		}
		sort.Strings(methods)
	})
}

// Normalize resolves a method name case-insensitively against the protocol
// table and returns Chrome's canonical casing.
// Returns false when the method is unknown.
func Normalize(method string) (string, bool) {
	load()
	name, ok := canonical[strings.ToLower(strings.TrimSpace(method))]
	return name, ok
}

// Methods returns every known method in canonical form, sorted. Used for
// help text and CLI completion.
func Methods() []string {
	load()
	out := make([]string, len(methods))
	copy(out, methods)
	return out
}
