package prompt

import (
	"fmt"
	"strings"

	"github.com/askrepo/askrepo/internal/retrieval"
)

// TechStackEntry is one declared technology of a project.
type TechStackEntry struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

const header = `You are a senior engineer answering questions about a specific codebase.
Answer primarily from the provided context. When you use a file, cite it by its path.
If the context is insufficient to answer, say so explicitly instead of guessing.`

const mediaFraming = `The user may attach visual media.
For images, describe what is statically shown and relate it to the codebase where relevant.
For videos, describe the temporal behavior (animations, transitions, interactions) frame by frame where relevant.`

const noStackMarker = "no stack information available"

// Build assembles the system instruction from retrieved matches and
// project metadata. Section structure is stable: context blocks, then the
// tech stack list, then media framing when media is present.
func Build(matches []retrieval.Match, stack []TechStackEntry, hasMedia bool) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n\n## Code context\n")
	if len(matches) == 0 {
		b.WriteString("No relevant code context was retrieved for this question.\n")
	}
	for _, m := range matches {
		fmt.Fprintf(&b, "\nFILE: %s\n", m.FilePath)
		b.WriteString(m.Content)
		if !strings.HasSuffix(m.Content, "\n") {
			b.WriteByte('\n')
		}
	}

	b.WriteString("\n## Tech stack\n")
	if len(stack) == 0 {
		b.WriteString(noStackMarker)
		b.WriteByte('\n')
	}
	for _, entry := range stack {
		version := entry.Version
		if version == "" {
			version = "unknown"
		}
		fmt.Fprintf(&b, "- %s (%s)\n", entry.Name, version)
	}

	if hasMedia {
		b.WriteString("\n")
		b.WriteString(mediaFraming)
		b.WriteByte('\n')
	}
	return b.String()
}

// StackFromNames adapts a bare technology name list into stack entries
// with unknown versions.
func StackFromNames(names []string) []TechStackEntry {
	if len(names) == 0 {
		return nil
	}
	out := make([]TechStackEntry, 0, len(names))
	for _, n := range names {
		name := n
		version := ""
		if i := strings.LastIndex(n, "@"); i > 0 {
			name, version = n[:i], n[i+1:]
		}
		out = append(out, TechStackEntry{Name: name, Version: version})
	}
	return out
}
