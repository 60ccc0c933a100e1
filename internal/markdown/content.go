// Package markdown parses the guide and flashcard dialect (frontmatter,
// Obsidian-style wikilinks, embedded media, nested lists) into a content tree.
package markdown

import "strings"

// Content is the parsed form of one document. It is not modified after Parse returns.
type Content struct {
	Title         string            `json:"title"`
	Sections      []Section         `json:"sections"`
	Images        []Image           `json:"images,omitempty"`
	Videos        []Video           `json:"videos,omitempty"`
	AnimatedMedia []AnimatedMedia   `json:"animated_media,omitempty"`
	Wikilinks     []Wikilink        `json:"wikilinks,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Section is a heading and what follows it. Level is 2, 3 or 4; only H2
// sections carry subsections.
type Section struct {
	Level       int       `json:"level"`
	Title       string    `json:"title,omitempty"`
	Blocks      []Block   `json:"blocks,omitempty"`
	Subsections []Section `json:"subsections,omitempty"`
}

// BlockKind tags a Block.
type BlockKind string

const (
	BlockText  BlockKind = "text"
	BlockItems BlockKind = "items"
)

// Block is either a run of paragraph text or a list.
type Block struct {
	Kind  BlockKind `json:"kind"`
	Text  string    `json:"text,omitempty"`
	Items []Item    `json:"items,omitempty"`
}

// Item is a list entry. Nesting follows source indentation.
type Item struct {
	Title     string `json:"title"`
	Content   string `json:"content,omitempty"`
	ImagePath string `json:"image_path,omitempty"`
	// Checked is nil for plain items and set for "[ ]" / "[x]" checkboxes.
	Checked  *bool  `json:"checked,omitempty"`
	Subitems []Item `json:"subitems,omitempty"`
}

// Wikilink is a [[link]], [[link|text]] or ![[link]] reference.
type Wikilink struct {
	Link        string `json:"link"`
	DisplayText string `json:"display_text,omitempty"`
	IsEmbedded  bool   `json:"is_embedded"`
}

type Image struct {
	Path string `json:"path"`
	Alt  string `json:"alt,omitempty"`
}

type Video struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Provider string `json:"provider"`
	Title    string `json:"title,omitempty"`
}

// AnimatedMedia is a gif or a short muted clip (mp4, webm).
type AnimatedMedia struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
	Alt  string `json:"alt,omitempty"`
}

// PlainText flattens all section text and item titles, in document order.
// It is what the search index stores as the body.
func (c *Content) PlainText() string {
	var b strings.Builder
	if c.Title != "" {
		b.WriteString(c.Title)
		b.WriteByte('\n')
	}
	for _, s := range c.Sections {
		writeSection(&b, s)
	}
	return strings.TrimSpace(b.String())
}

func writeSection(b *strings.Builder, s Section) {
	if s.Title != "" {
		b.WriteString(s.Title)
		b.WriteByte('\n')
	}
	for _, blk := range s.Blocks {
		switch blk.Kind {
		case BlockText:
			b.WriteString(blk.Text)
			b.WriteByte('\n')
		case BlockItems:
			writeItems(b, blk.Items)
		}
	}
	for _, sub := range s.Subsections {
		writeSection(b, sub)
	}
}

func writeItems(b *strings.Builder, items []Item) {
	for _, it := range items {
		b.WriteString(it.Title)
		b.WriteByte('\n')
		if it.Content != "" {
			b.WriteString(it.Content)
			b.WriteByte('\n')
		}
		writeItems(b, it.Subitems)
	}
}
