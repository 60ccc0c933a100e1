package markdown

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

var (
	// wikilinkRe matches [[target]], [[target|display]] and the ! embed form.
	wikilinkRe = regexp.MustCompile(`(!?)\[\[([^\[\]\n]+?)\]\]`)
	// imageRe matches ![alt](path) and ![alt](path "title").
	imageRe = regexp.MustCompile(`!\[([^\]\n]*)\]\(\s*<?([^)\s>]+)>?(?:\s+"[^"\n]*")?\s*\)`)
	// linkedImageRe matches a thumbnail wrapped in a link: [![alt](thumb)](target).
	linkedImageRe = regexp.MustCompile(`\[!\[([^\]\n]*)\]\(([^)\s]+)[^)]*\)\]\(\s*([^)\s]+)[^)]*\)`)
)

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".svg": true,
	".webp": true, ".bmp": true, ".avif": true, ".heic": true,
}

var animatedExts = map[string]string{
	".gif":  "gif",
	".mp4":  "mp4",
	".webm": "webm",
}

// splitWikilink separates "target|display". Extraction and display
// rewriting both go through it.
func splitWikilink(inner string) (link, display string) {
	link, display, _ = strings.Cut(inner, "|")
	return strings.TrimSpace(link), strings.TrimSpace(display)
}

// wikilinkDisplay is the text shown in place of a wikilink.
func wikilinkDisplay(inner string) string {
	link, display := splitWikilink(inner)
	if display != "" {
		return display
	}
	link = strings.TrimRight(link, "/")
	if i := strings.LastIndex(link, "/"); i >= 0 {
		return link[i+1:]
	}
	return link
}

// rewriteInline replaces each wikilink with its display text.
func rewriteInline(s string) string {
	if !strings.Contains(s, "[[") {
		return s
	}
	return wikilinkRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := wikilinkRe.FindStringSubmatch(m)
		if d := wikilinkDisplay(sub[2]); d != "" {
			return d
		}
		return m
	})
}

// resolvePath resolves a relative media path against the directory of basePath.
func resolvePath(p, basePath string) string {
	if p == "" || strings.HasPrefix(p, "/") || isURL(p) {
		return p
	}
	dir := path.Dir(basePath)
	if basePath == "" || dir == "." {
		return path.Clean(p)
	}
	return path.Join(dir, p)
}

func isURL(p string) bool {
	lower := strings.ToLower(p)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// mediaKind classifies p by extension: "image", "gif", "mp4", "webm" or "".
func mediaKind(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	ext := strings.ToLower(path.Ext(p))
	if k, ok := animatedExts[ext]; ok {
		return k
	}
	if imageExts[ext] {
		return "image"
	}
	return ""
}

// videoID recognizes YouTube and Vimeo URLs.
func videoID(raw string) (provider, id string, ok bool) {
	if !isURL(raw) {
		return "", "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", false
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "m.")
	segs := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })

	switch host {
	case "youtube.com", "youtube-nocookie.com", "music.youtube.com":
		if len(segs) == 1 && segs[0] == "watch" {
			id = u.Query().Get("v")
		} else if len(segs) >= 2 && (segs[0] == "embed" || segs[0] == "shorts" || segs[0] == "live" || segs[0] == "v") {
			id = segs[1]
		}
		provider = "youtube"
	case "youtu.be":
		if len(segs) >= 1 {
			id = segs[0]
		}
		provider = "youtube"
	case "vimeo.com", "player.vimeo.com":
		for _, s := range segs {
			if isDigits(s) {
				id = s
				break
			}
		}
		provider = "vimeo"
	}
	return provider, id, id != ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// collector accumulates deduplicated media and links across lines.
type collector struct {
	basePath string
	c        *Content
	seen     map[string]bool
}

func (col *collector) once(key string) bool {
	if col.seen[key] {
		return false
	}
	col.seen[key] = true
	return true
}

func (col *collector) addVideo(provider, id, raw, title string) {
	if col.once("video:" + provider + ":" + id) {
		col.c.Videos = append(col.c.Videos, Video{ID: id, URL: raw, Provider: provider, Title: title})
	}
}

func (col *collector) addMedia(p, alt string, requireExt bool) {
	kind := mediaKind(p)
	if kind == "" {
		if requireExt {
			return
		}
		kind = "image"
	}
	resolved := resolvePath(p, col.basePath)
	if kind == "image" {
		if col.once("image:" + resolved) {
			col.c.Images = append(col.c.Images, Image{Path: resolved, Alt: alt})
		}
		return
	}
	if col.once("anim:" + resolved) {
		col.c.AnimatedMedia = append(col.c.AnimatedMedia, AnimatedMedia{Path: resolved, Kind: kind, Alt: alt})
	}
}

// scanLine extracts media and wikilinks from one line. It does not depend on
// the line's position in the document.
func (col *collector) scanLine(line string) {
	if strings.Contains(line, "](") {
		consumed := map[int]bool{}
		for _, m := range linkedImageRe.FindAllStringSubmatchIndex(line, -1) {
			alt := line[m[2]:m[3]]
			thumb := line[m[4]:m[5]]
			target := line[m[6]:m[7]]
			if provider, id, ok := videoID(target); ok {
				col.addVideo(provider, id, target, alt)
			} else {
				col.addMedia(thumb, alt, false)
			}
			consumed[m[0]+1] = true
		}
		for _, m := range imageRe.FindAllStringSubmatchIndex(line, -1) {
			if consumed[m[0]] {
				continue
			}
			alt := line[m[2]:m[3]]
			target := line[m[4]:m[5]]
			if provider, id, ok := videoID(target); ok {
				col.addVideo(provider, id, target, alt)
				continue
			}
			col.addMedia(target, alt, false)
		}
	}

	if strings.Contains(line, "[[") {
		for _, m := range wikilinkRe.FindAllStringSubmatch(line, -1) {
			embedded := m[1] == "!"
			link, display := splitWikilink(m[2])
			if link == "" {
				continue
			}
			if embedded {
				col.addMedia(link, "", true)
			}
			key := "wiki:" + link
			if embedded {
				key = "embed:" + link
			}
			if col.once(key) {
				col.c.Wikilinks = append(col.c.Wikilinks, Wikilink{Link: link, DisplayText: display, IsEmbedded: embedded})
			}
		}
	}
}

// itemImage pulls the first image reference out of an item title.
func itemImage(text, basePath string) (rest, imagePath string) {
	if loc := imageRe.FindStringSubmatchIndex(text); loc != nil {
		p := text[loc[4]:loc[5]]
		if _, _, isVideo := videoID(p); !isVideo {
			return strings.TrimSpace(text[:loc[0]] + text[loc[1]:]), resolvePath(p, basePath)
		}
	}
	for _, loc := range wikilinkRe.FindAllStringSubmatchIndex(text, -1) {
		if loc[3] == loc[2] {
			continue
		}
		link, _ := splitWikilink(text[loc[4]:loc[5]])
		if mediaKind(link) != "" {
			return strings.TrimSpace(text[:loc[0]] + text[loc[1]:]), resolvePath(link, basePath)
		}
	}
	return text, ""
}
