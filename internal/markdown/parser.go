package markdown

import "strings"

// Parse turns markdown text into a Content tree. It never fails: input it
// cannot make sense of yields fewer sections or an empty title.
//
// basePath is the document's logical path; relative media paths are resolved
// against its directory.
func Parse(text, basePath string) *Content {
	text = strings.TrimPrefix(text, "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")

	meta, body := splitFrontmatter(lines)
	c := &Content{Metadata: meta}
	c.Title = findTitle(body)

	col := &collector{basePath: basePath, c: c, seen: make(map[string]bool)}
	for _, line := range body {
		col.scanLine(line)
	}

	c.Sections = parseSections(body, basePath)
	return c
}

// findTitle returns the text of the first "# " line outside code fences.
func findTitle(lines []string) string {
	fence := ""
	for _, line := range lines {
		t := strings.TrimSpace(line)
		if fence != "" {
			if strings.HasPrefix(t, fence) {
				fence = ""
			}
			continue
		}
		if m := fenceMarker(t); m != "" {
			fence = m
			continue
		}
		if strings.HasPrefix(t, "# ") {
			return rewriteInline(strings.TrimSpace(t[2:]))
		}
	}
	return ""
}
