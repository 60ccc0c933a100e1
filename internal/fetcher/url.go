package fetcher

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/starford/helmsman/internal/apperr"
)

const upperhex = "0123456789ABCDEF"

// EncodeSegment percent-encodes every byte outside [A-Za-z0-9-._], so a
// separator inside a single segment can never read as a directory boundary.
func EncodeSegment(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '.', c == '_':
		return true
	}
	return false
}

// Segments splits a logical path on "/" and drops empty segments.
func Segments(p string) []string {
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, s := range parts {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// EncodePath encodes each segment of p independently and joins them with "/".
func EncodePath(p string) (string, error) {
	segs := Segments(p)
	if len(segs) == 0 {
		return "", fmt.Errorf("%w: empty path", apperr.ErrInvalidURL)
	}
	for i, s := range segs {
		segs[i] = EncodeSegment(s)
	}
	return strings.Join(segs, "/"), nil
}

// normalizeKey returns the host-neutral cache key for a logical path.
func normalizeKey(p string) string {
	return strings.Join(Segments(p), "/")
}

func parseBase(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", apperr.ErrInvalidURL, raw)
	}
	return u, nil
}

// ContentURL builds <raw>/<owner>/<repo>/<branch>/<encoded path>.
func (f *Fetcher) ContentURL(p string) (string, error) {
	encoded, err := EncodePath(p)
	if err != nil {
		return "", err
	}
	branch, err := EncodePath(f.cfg.Branch)
	if err != nil {
		return "", err
	}
	target := f.rawBase.String() + "/" + EncodeSegment(f.cfg.Owner) + "/" + EncodeSegment(f.cfg.Repo) + "/" + branch + "/" + encoded
	if _, err := url.Parse(target); err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrInvalidURL, err)
	}
	return target, nil
}

// DirectoryURL builds <api>/repos/<owner>/<repo>/contents/<encoded folder>?ref=<branch>.
func (f *Fetcher) DirectoryURL(folder string) (string, error) {
	target := f.apiBase.String() + "/repos/" + EncodeSegment(f.cfg.Owner) + "/" + EncodeSegment(f.cfg.Repo) + "/contents"
	if len(Segments(folder)) > 0 {
		encoded, err := EncodePath(folder)
		if err != nil {
			return "", err
		}
		target += "/" + encoded
	}
	target += "?ref=" + url.QueryEscape(f.cfg.Branch)
	if _, err := url.Parse(target); err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrInvalidURL, err)
	}
	return target, nil
}
