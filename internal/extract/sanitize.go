package extract

import (
	"regexp"
	"strings"
)

var spaceRun = regexp.MustCompile(`[\s\x{3000}\x{00A0}]+`)

// SanitizeQuery reduces a raw candidate string to a short search term.
// It cuts at the first 。, removes prompt meta words, trims quote brackets
// from both ends and collapses whitespace. The empty string means the
// input had no usable content.
//
//	"吉沢亮 国宝 映画。JSONのみで出力、前置き禁止。」" -> "吉沢亮 国宝 映画"
func SanitizeQuery(raw string) string {
	q := raw
	if i := strings.Index(q, "。"); i >= 0 {
		q = q[:i]
	}
	for _, frag := range metaFragments {
		q = strings.ReplaceAll(q, frag, "")
	}
	q = strings.TrimSpace(q)
	q = strings.Trim(q, "\"'”’』」】)")
	q = strings.Trim(q, "「『（(“")
	q = spaceRun.ReplaceAllString(q, " ")
	return strings.TrimSpace(q)
}

// SafeFileToken turns a query into a short token usable in file names.
func SafeFileToken(q string) string {
	s := SanitizeQuery(q)
	r := []rune(s)
	if len(r) > 50 {
		s = string(r[:50])
	}
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.Map(func(c rune) rune {
		switch c {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return c
	}, s)
	if s == "" {
		return "query"
	}
	return s
}
