package markdown

import "strings"

// sectionBuilder is an open section while the scan is inside it.
type sectionBuilder struct {
	open  bool
	level int
	title string
	body  []Block
	subs  []Section
}

func (b sectionBuilder) build() Section {
	return Section{Level: b.level, Title: b.title, Blocks: b.body, Subsections: b.subs}
}

func (b *sectionBuilder) appendText(text, sep string) {
	if n := len(b.body); n > 0 && b.body[n-1].Kind == BlockText {
		b.body[n-1].Text += sep + text
		return
	}
	b.body = append(b.body, Block{Kind: BlockText, Text: text})
}

// scanState is the value threaded through the line fold.
type scanState struct {
	basePath string

	h2      sectionBuilder
	h3      sectionBuilder
	preface sectionBuilder
	done    []Section

	pending []string // buffered list lines
	blank   bool     // a blank line preceded the current line
	fence   string   // open code fence marker, "" outside fences
}

func newScanState(basePath string) scanState {
	return scanState{basePath: basePath, preface: sectionBuilder{open: true, level: 2}}
}

// target returns the innermost open section.
func (s *scanState) target() *sectionBuilder {
	switch {
	case s.h3.open:
		return &s.h3
	case s.h2.open:
		return &s.h2
	default:
		return &s.preface
	}
}

func (s scanState) flushList() scanState {
	if len(s.pending) == 0 {
		return s
	}
	items := parseItems(s.pending, s.basePath)
	s.pending = nil
	if len(items) > 0 {
		t := s.target()
		t.body = append(t.body, Block{Kind: BlockItems, Items: items})
	}
	return s
}

func (s scanState) closeH3() scanState {
	if !s.h3.open {
		return s
	}
	sec := s.h3.build()
	if s.h2.open {
		s.h2.subs = append(s.h2.subs, sec)
	} else {
		s.done = append(s.done, sec)
	}
	s.h3 = sectionBuilder{}
	return s
}

func (s scanState) closeH2() scanState {
	if !s.h2.open {
		return s
	}
	s.done = append(s.done, s.h2.build())
	s.h2 = sectionBuilder{}
	return s
}

func (s scanState) text(line, sep string) scanState {
	s = s.flushList()
	s.target().appendText(line, sep)
	return s
}

// step advances the scan by one line.
func (s scanState) step(line string) scanState {
	trimmed := strings.TrimSpace(line)

	if s.fence != "" {
		if strings.HasPrefix(trimmed, s.fence) {
			s.fence = ""
		}
		s.target().appendText(line, "\n")
		return s
	}

	if trimmed == "" {
		s.blank = true
		return s
	}
	blank := s.blank
	s.blank = false

	if marker := fenceMarker(trimmed); marker != "" {
		s.fence = marker
		return s.text(line, textSep(blank))
	}

	if level, title, ok := heading(trimmed); ok {
		switch level {
		case 1:
			// The document title, and any further H1, is not a section.
			return s
		case 2:
			s = s.flushList().closeH3().closeH2()
			s.h2 = sectionBuilder{open: true, level: 2, title: rewriteInline(title)}
			return s
		case 3, 4:
			s = s.flushList().closeH3()
			s.h3 = sectionBuilder{open: true, level: level, title: rewriteInline(title)}
			return s
		}
	}

	if isRule(trimmed) {
		return s
	}

	if isListLine(line) {
		s.pending = append(s.pending, line)
		return s
	}

	// Indented prose under a pending list continues the open item.
	if len(s.pending) > 0 && indentOf(line) > 0 {
		s.pending = append(s.pending, line)
		return s
	}

	return s.text(rewriteInline(trimmed), textSep(blank))
}

// finish flushes the list buffer and closes every open section.
func (s scanState) finish() []Section {
	s.fence = ""
	s = s.flushList().closeH3().closeH2()
	if len(s.preface.body) > 0 {
		return append([]Section{s.preface.build()}, s.done...)
	}
	return s.done
}

func textSep(blank bool) string {
	if blank {
		return "\n\n"
	}
	return "\n"
}

// heading parses "#".."######" headings. Levels 5 and 6 are reported as not
// headings so they fall through to text.
func heading(trimmed string) (level int, title string, ok bool) {
	n := 0
	for n < len(trimmed) && trimmed[n] == '#' {
		n++
	}
	if n == 0 || n > 4 {
		return 0, "", false
	}
	rest := trimmed[n:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return 0, "", false
	}
	return n, strings.TrimSpace(rest), true
}

func fenceMarker(trimmed string) string {
	switch {
	case strings.HasPrefix(trimmed, "```"):
		return "```"
	case strings.HasPrefix(trimmed, "~~~"):
		return "~~~"
	}
	return ""
}

func parseSections(lines []string, basePath string) []Section {
	s := newScanState(basePath)
	for _, line := range lines {
		s = s.step(line)
	}
	return s.finish()
}
