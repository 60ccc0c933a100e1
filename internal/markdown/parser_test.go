package markdown

import (
	"reflect"
	"strings"
	"testing"
)

func TestParse_NestedList(t *testing.T) {
	c := Parse("- A\n  - A1\n  - A2\n- B", "")
	if len(c.Sections) != 1 {
		t.Fatalf("sections = %d, want 1 (preface)", len(c.Sections))
	}
	blocks := c.Sections[0].Blocks
	if len(blocks) != 1 || blocks[0].Kind != BlockItems {
		t.Fatalf("blocks = %+v", blocks)
	}
	items := blocks[0].Items
	if len(items) != 2 || items[0].Title != "A" || items[1].Title != "B" {
		t.Fatalf("top-level items = %+v", items)
	}
	if len(items[0].Subitems) != 2 || items[0].Subitems[0].Title != "A1" || items[0].Subitems[1].Title != "A2" {
		t.Errorf("A subitems = %+v", items[0].Subitems)
	}
	if len(items[1].Subitems) != 0 {
		t.Errorf("B subitems = %+v", items[1].Subitems)
	}
}

func TestParse_DeepNestingAndDedent(t *testing.T) {
	src := "- A\n  - B\n    - C\n- D\n\t- E"
	items := Parse(src, "").Sections[0].Blocks[0].Items
	if len(items) != 2 {
		t.Fatalf("roots = %+v", items)
	}
	if got := items[0].Subitems[0].Subitems[0].Title; got != "C" {
		t.Errorf("A>B>C = %q", got)
	}
	if len(items[1].Subitems) != 1 || items[1].Subitems[0].Title != "E" {
		t.Errorf("D subitems = %+v (tab should count as one level)", items[1].Subitems)
	}
}

func TestParse_Leniency(t *testing.T) {
	inputs := []string{
		"",
		"\x00\xff\xfe garbage \x80",
		"[[unclosed and ]] stray [[ [[ ]]",
		"![[",
		"---\nno closing delimiter",
		"## \n### \n####\n- \n  \n```",
		strings.Repeat("  ", 200) + "- deep",
	}
	for _, in := range inputs {
		c := Parse(in, "a/b.md")
		if c == nil {
			t.Fatalf("Parse(%q) returned nil", in)
		}
		if c.Title != "" {
			t.Errorf("Parse(%q) title = %q, want empty", in, c.Title)
		}
	}
}

func TestParse_Idempotent(t *testing.T) {
	src := sampleDoc
	a := Parse(src, "guides/sailing/knots.md")
	b := Parse(src, "guides/sailing/knots.md")
	if !reflect.DeepEqual(a, b) {
		t.Error("parsing the same input twice produced different trees")
	}
}

const sampleDoc = `---
title: "Knots"
tags:
  - rope
  - basics
difficulty: 2
---
# Essential Knots

Intro line one.
Intro line two with [[guides/safety/Lifejackets|lifejackets]].

## Bowline
The king of knots.
- Make a loop
  - small one
- Pass the end ![](img/bowline.png)
  keep it tight
- [x] Practised

Closing remark.

### Variations
See [[Running Bowline]].

#### Notes
---
Embedded: ![[clips/tying.gif]] and ![[Knot Index]]

## Video
[![Watch](https://img.youtube.com/vi/abc123/0.jpg)](https://www.youtube.com/watch?v=abc123)
![Vimeo](https://vimeo.com/76979871)
![Chart](/static/chart.svg)
![Remote](https://example.com/pic.jpg)
` + "```" + `
## not a heading
- not a list
` + "```"

func TestParse_Document(t *testing.T) {
	c := Parse(sampleDoc, "guides/sailing/knots.md")

	if c.Title != "Essential Knots" {
		t.Errorf("title = %q", c.Title)
	}
	if c.Metadata["title"] != "Knots" || c.Metadata["tags"] != "rope, basics" || c.Metadata["difficulty"] != "2" {
		t.Errorf("metadata = %v", c.Metadata)
	}

	if len(c.Sections) != 3 {
		t.Fatalf("sections = %d, want preface + 2 H2: %+v", len(c.Sections), c.Sections)
	}
	pre := c.Sections[0]
	if pre.Level != 2 || pre.Title != "" {
		t.Errorf("preface = %+v", pre)
	}
	if want := "Intro line one.\nIntro line two with lifejackets."; pre.Blocks[0].Text != want {
		t.Errorf("preface text = %q, want %q", pre.Blocks[0].Text, want)
	}

	bowline := c.Sections[1]
	if bowline.Title != "Bowline" || len(bowline.Blocks) != 3 {
		t.Fatalf("bowline = %+v", bowline)
	}
	kinds := []BlockKind{bowline.Blocks[0].Kind, bowline.Blocks[1].Kind, bowline.Blocks[2].Kind}
	if !reflect.DeepEqual(kinds, []BlockKind{BlockText, BlockItems, BlockText}) {
		t.Errorf("block order = %v", kinds)
	}
	items := bowline.Blocks[1].Items
	if len(items) != 3 {
		t.Fatalf("items = %+v", items)
	}
	if items[1].Title != "Pass the end" || items[1].ImagePath != "guides/sailing/img/bowline.png" {
		t.Errorf("image item = %+v", items[1])
	}
	if items[1].Content != "keep it tight" {
		t.Errorf("continuation = %q", items[1].Content)
	}
	if items[2].Checked == nil || !*items[2].Checked || items[2].Title != "Practised" {
		t.Errorf("checkbox item = %+v", items[2])
	}
	if items[0].Checked != nil {
		t.Error("plain item should have nil Checked")
	}

	if len(bowline.Subsections) != 2 {
		t.Fatalf("bowline subsections = %+v", bowline.Subsections)
	}
	if s := bowline.Subsections[0]; s.Level != 3 || s.Title != "Variations" || s.Blocks[0].Text != "See Running Bowline." {
		t.Errorf("H3 = %+v", s)
	}
	if s := bowline.Subsections[1]; s.Level != 4 || s.Title != "Notes" {
		t.Errorf("H4 = %+v", s)
	}

	video := c.Sections[2]
	last := video.Blocks[len(video.Blocks)-1]
	if !strings.Contains(last.Text, "## not a heading\n- not a list") {
		t.Errorf("fenced code should stay literal: %q", last.Text)
	}
	if len(video.Subsections) != 0 {
		t.Errorf("heading inside a fence opened a section: %+v", video.Subsections)
	}
}

func TestParse_MediaAndLinks(t *testing.T) {
	c := Parse(sampleDoc, "guides/sailing/knots.md")

	wantLinks := []Wikilink{
		{Link: "guides/safety/Lifejackets", DisplayText: "lifejackets"},
		{Link: "Running Bowline"},
		{Link: "clips/tying.gif", IsEmbedded: true},
		{Link: "Knot Index", IsEmbedded: true},
	}
	if !reflect.DeepEqual(c.Wikilinks, wantLinks) {
		t.Errorf("wikilinks = %+v", c.Wikilinks)
	}

	wantVideos := []Video{
		{ID: "abc123", URL: "https://www.youtube.com/watch?v=abc123", Provider: "youtube", Title: "Watch"},
		{ID: "76979871", URL: "https://vimeo.com/76979871", Provider: "vimeo", Title: "Vimeo"},
	}
	if !reflect.DeepEqual(c.Videos, wantVideos) {
		t.Errorf("videos = %+v", c.Videos)
	}

	wantImages := []Image{
		{Path: "guides/sailing/img/bowline.png"},
		{Path: "/static/chart.svg", Alt: "Chart"},
		{Path: "https://example.com/pic.jpg", Alt: "Remote"},
	}
	if !reflect.DeepEqual(c.Images, wantImages) {
		t.Errorf("images = %+v", c.Images)
	}

	wantAnim := []AnimatedMedia{{Path: "guides/sailing/clips/tying.gif", Kind: "gif"}}
	if !reflect.DeepEqual(c.AnimatedMedia, wantAnim) {
		t.Errorf("animated = %+v", c.AnimatedMedia)
	}
}

func TestParse_FrontmatterFallback(t *testing.T) {
	c := Parse("---\nname: 'Reefing'\nbroken: [unclosed\n---\nbody", "")
	if c.Metadata["name"] != "Reefing" || c.Metadata["broken"] != "[unclosed" {
		t.Errorf("metadata = %v", c.Metadata)
	}
	if len(c.Sections) != 1 || c.Sections[0].Blocks[0].Text != "body" {
		t.Errorf("sections = %+v", c.Sections)
	}
}

func TestParse_ByteOrderMark(t *testing.T) {
	c := Parse("\ufeff---\ntitle: Reefing\n---\n# Reefing\nTuck the main.", "")
	if c.Metadata["title"] != "Reefing" {
		t.Errorf("metadata = %v", c.Metadata)
	}
	if c.Title != "Reefing" {
		t.Errorf("title = %q", c.Title)
	}
	for _, s := range c.Sections {
		for _, b := range s.Blocks {
			if strings.Contains(b.Text, "---") || strings.Contains(b.Text, "\ufeff") {
				t.Errorf("frontmatter leaked into body: %q", b.Text)
			}
		}
	}
}

func TestParse_ParagraphBreaks(t *testing.T) {
	c := Parse("one\ntwo\n\nthree", "")
	if got := c.Sections[0].Blocks[0].Text; got != "one\ntwo\n\nthree" {
		t.Errorf("text = %q", got)
	}
}

func TestParse_H3WithoutH2IsTopLevel(t *testing.T) {
	c := Parse("### Alone\ntext\n## Next", "")
	if len(c.Sections) != 2 || c.Sections[0].Level != 3 || c.Sections[1].Title != "Next" {
		t.Errorf("sections = %+v", c.Sections)
	}
}

func TestResolvePath(t *testing.T) {
	cases := []struct{ p, base, want string }{
		{"img/a.png", "guides/x.md", "guides/img/a.png"},
		{"../a.png", "guides/sub/x.md", "guides/a.png"},
		{"a.png", "", "a.png"},
		{"a.png", "x.md", "a.png"},
		{"/abs/a.png", "guides/x.md", "/abs/a.png"},
		{"https://h/a.png", "guides/x.md", "https://h/a.png"},
	}
	for _, tc := range cases {
		if got := resolvePath(tc.p, tc.base); got != tc.want {
			t.Errorf("resolvePath(%q, %q) = %q, want %q", tc.p, tc.base, got, tc.want)
		}
	}
}

func TestWikilinkDisplay(t *testing.T) {
	if got := rewriteInline("go to [[a/b/Mooring]] or [[x|here]], ![[pics/c.png]]"); got != "go to Mooring or here, c.png" {
		t.Errorf("rewriteInline = %q", got)
	}
}

func TestPlainText(t *testing.T) {
	c := Parse("# T\n## S\n- item\n  more\ntext", "")
	if got := c.PlainText(); got != "T\nS\nitem\nmore\ntext" {
		t.Errorf("PlainText = %q", got)
	}
}
