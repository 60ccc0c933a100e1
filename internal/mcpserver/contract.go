package mcpserver

// DialectURI is the resource URI of the markdown dialect description.
const DialectURI = "helmsman://markdown-dialect"

// MarkdownDialect describes the markdown subset the content parser
// understands, so LLM consumers can read parsed trees and author guides and
// flashcards that parse the way they expect.
const MarkdownDialect = `# Helmsman Markdown Dialect

Guides and flashcards are plain Markdown files in the content repository.
The parser is lenient: any input parses, unknown constructs become text.

## Frontmatter

An optional YAML block delimited by ` + "`---`" + ` lines at the very top of the file.
Scalar values are kept as written; lists are joined with ", ".
Without the closing ` + "`---`" + ` the block is read as body text.

## Title and sections

- The first ` + "`# Heading`" + ` line is the document title. H1 never opens a section.
- ` + "`## Heading`" + ` opens a top-level section.
- ` + "`### Heading`" + ` and ` + "`#### Heading`" + ` open subsections of the current ` + "`##`" + ` section.
  Without an open ` + "`##`" + ` they become top-level sections.
- Text before the first section is collected in an untitled preface section.
- Deeper headings (5 and 6) are plain text.

## Lists

- Items start with ` + "`-`" + `, ` + "`*`" + ` or ` + "`+`" + `. Each nesting level is 2 spaces (a tab counts as one level).
- ` + "`[ ]`" + ` and ` + "`[x]`" + ` after the marker make a checklist item.
- An indented line under an item that is not itself an item continues that item's text.
- The first image in an item title becomes the item's image.

## Links and media

- ` + "`[[target]]`" + ` and ` + "`[[target|shown text]]`" + ` link to other documents. Without display
  text the last path component is shown.
- ` + "`![[file.png]]`" + ` embeds a file; images and gif/mp4/webm are recognised by extension.
- ` + "`![alt](path)`" + ` is an image. Relative paths resolve against the document's folder;
  paths starting with ` + "`/`" + ` or ` + "`http(s)://`" + ` are kept as written.
- YouTube and Vimeo links written as images, or as linked thumbnails
  ` + "`[![title](thumb)](https://youtube.com/watch?v=ID)`" + `, become videos.

## Fenced code

Lines between ` + "```" + ` or ` + "`~~~`" + ` fences are kept literally; headings and lists inside
a fence do not open sections or items.

## Flashcards

A deck is a folder of ` + "`.md`" + ` files, one card per file. The card front is the
document title, or the file name without extension. The parsed document is
the back. Card IDs are derived from the file path and stay stable across syncs.

Review quality is one of ` + "`again`" + `, ` + "`hard`" + `, ` + "`good`" + `, ` + "`easy`" + ` (or 0-3).
`
