package markdown

import (
	"regexp"
	"strings"
)

// listItemRe matches "- x", "* x" and "+ x" at any indentation.
var listItemRe = regexp.MustCompile(`^([ \t]*)[-*+][ \t]+(.*)$`)

// indentWidth is the number of spaces per nesting level. A tab counts as one level.
const indentWidth = 2

func indentOf(line string) int {
	n := 0
	for _, r := range line {
		switch r {
		case ' ':
			n++
		case '\t':
			n += indentWidth
		default:
			return n
		}
	}
	return n
}

func isListLine(line string) bool {
	return listItemRe.MatchString(line) && !isRule(line)
}

// isRule reports whether line is a horizontal rule (---, ***, ___, * * *).
func isRule(line string) bool {
	t := strings.TrimSpace(line)
	if len(t) < 3 {
		return false
	}
	marker := t[0]
	if marker != '-' && marker != '*' && marker != '_' {
		return false
	}
	count := 0
	for i := 0; i < len(t); i++ {
		switch t[i] {
		case marker:
			count++
		case ' ', '\t':
		default:
			return false
		}
	}
	return count >= 3
}

type itemNode struct {
	level    int
	item     Item
	content  []string
	children []Item
}

func (n *itemNode) build() Item {
	it := n.item
	if len(n.content) > 0 {
		it.Content = strings.Join(n.content, "\n")
	}
	it.Subitems = n.children
	return it
}

// parseItems turns a buffered run of list lines into an item tree. Lines that
// are not list items continue the content of the item above them.
func parseItems(lines []string, basePath string) []Item {
	var (
		roots []Item
		stack []*itemNode
	)
	pop := func() {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		built := top.build()
		if len(stack) == 0 {
			roots = append(roots, built)
		} else {
			parent := stack[len(stack)-1]
			parent.children = append(parent.children, built)
		}
	}

	for _, line := range lines {
		m := listItemRe.FindStringSubmatch(line)
		if m == nil || isRule(line) {
			text := strings.TrimSpace(line)
			if text == "" || len(stack) == 0 {
				continue
			}
			top := stack[len(stack)-1]
			top.content = append(top.content, rewriteInline(text))
			continue
		}

		level := indentOf(m[1]) / indentWidth
		for len(stack) > 0 && stack[len(stack)-1].level >= level {
			pop()
		}
		stack = append(stack, &itemNode{level: level, item: newItem(m[2], basePath)})
	}
	for len(stack) > 0 {
		pop()
	}
	return roots
}

func newItem(text, basePath string) Item {
	var it Item
	text = strings.TrimSpace(text)
	if checked, rest, ok := checkbox(text); ok {
		it.Checked = &checked
		text = rest
	}
	text, it.ImagePath = itemImage(text, basePath)
	it.Title = rewriteInline(text)
	return it
}

// checkbox strips a leading "[ ]", "[x]" or "[X]" marker.
func checkbox(text string) (checked bool, rest string, ok bool) {
	if len(text) < 3 || text[0] != '[' || text[2] != ']' {
		return false, text, false
	}
	if len(text) > 3 && text[3] != ' ' && text[3] != '\t' {
		return false, text, false
	}
	switch text[1] {
	case ' ':
		return false, strings.TrimSpace(text[3:]), true
	case 'x', 'X':
		return true, strings.TrimSpace(text[3:]), true
	}
	return false, text, false
}
