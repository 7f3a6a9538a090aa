package prompt

import (
	"strings"
	"testing"

	"github.com/askrepo/askrepo/internal/retrieval"
)

func TestBuildSectionsStable(t *testing.T) {
	matches := []retrieval.Match{
		{FilePath: "internal/auth/jwt.go", Content: "func Sign() {}"},
		{FilePath: "internal/server/server.go", Content: "func main() {}\n"},
	}
	stack := []TechStackEntry{
		{Name: "go", Version: "1.24"},
		{Name: "postgres"},
	}
	out := Build(matches, stack, false)

	first := strings.Index(out, "FILE: internal/auth/jwt.go")
	second := strings.Index(out, "FILE: internal/server/server.go")
	if first < 0 || second < 0 || first > second {
		t.Errorf("file blocks missing or out of retrieval order:\n%s", out)
	}
	if !strings.Contains(out, "- go (1.24)") {
		t.Errorf("missing versioned stack entry:\n%s", out)
	}
	if !strings.Contains(out, "- postgres (unknown)") {
		t.Errorf("missing unknown-version stack entry:\n%s", out)
	}
	if strings.Contains(out, "visual media") {
		t.Error("media framing present without media")
	}
}

func TestBuildNoStackMarker(t *testing.T) {
	out := Build(nil, nil, false)
	if !strings.Contains(out, "no stack information available") {
		t.Errorf("missing no-stack marker:\n%s", out)
	}
	if !strings.Contains(out, "## Tech stack") {
		t.Error("tech stack section must stay present even when empty")
	}
	if !strings.Contains(out, "No relevant code context was retrieved") {
		t.Error("empty-context marker missing")
	}
}

func TestBuildMediaFraming(t *testing.T) {
	out := Build(nil, nil, true)
	for _, want := range []string{"images", "videos", "temporal"} {
		if !strings.Contains(out, want) {
			t.Errorf("media framing missing %q:\n%s", want, out)
		}
	}
}

func TestStackFromNames(t *testing.T) {
	entries := StackFromNames([]string{"react@18.2", "tailwind"})
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].Name != "react" || entries[0].Version != "18.2" {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[1].Name != "tailwind" || entries[1].Version != "" {
		t.Errorf("entries[1] = %+v", entries[1])
	}
	if StackFromNames(nil) != nil {
		t.Error("nil input must yield nil")
	}
}
