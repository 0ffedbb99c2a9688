package schema

import "testing"

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "Page.navigate", want: "Page.navigate", ok: true},
		{in: "page.navigate", want: "Page.navigate", ok: true},
		{in: "PAGE.NAVIGATE", want: "Page.navigate", ok: true},
		{in: "  dom.getdocument ", want: "DOM.getDocument", ok: true},
		{in: "network.getresponsebody", want: "Network.getResponseBody", ok: true},
		{in: "Page.doesNotExist", ok: false},
		{in: "navigate", ok: false},
		{in: "", ok: false},
	}

	for _, tt := range tests {
		got, ok := Normalize(tt.in)
		if ok != tt.ok {
			t.Errorf("Normalize(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMethods_SortedNonEmpty(t *testing.T) {
	t.Parallel()

	ms := Methods()
	if len(ms) == 0 {
		t.Fatal("expected non-empty method table")
	}
	for i := 1; i < len(ms); i++ {
		if ms[i-1] >= ms[i] {
			t.Fatalf("methods not sorted at %d: %s >= %s", i, ms[i-1], ms[i])
		}
	}
}
