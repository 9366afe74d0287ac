package extract

import (
	"regexp"
	"strings"
)

// prefixSep is what may follow a role or status label. The full-width
// slash forms appear in LLM output ("脚本／山田").
const prefixSep = `[：:・／/\s\x{3000}]`

var (
	rolePrefixPatterns   = compilePrefixPatterns(RolePrefixes)
	statusPrefixPatterns = compilePrefixPatterns(StatusPrefixes)
	leadingStatusWord    = regexp.MustCompile(`^(?:上映中|配信中)[\s\x{3000}]+`)
)

type prefixPattern struct {
	word string
	re   *regexp.Regexp
}

func compilePrefixPatterns(words []string) []prefixPattern {
	out := make([]prefixPattern, 0, len(words))
	for _, w := range words {
		out = append(out, prefixPattern{
			word: w,
			re:   regexp.MustCompile(`^` + regexp.QuoteMeta(w) + prefixSep + `+`),
		})
	}
	return out
}

// RemoveRolePrefix strips one leading role label followed by a separator.
// A string that is exactly a role label becomes "". Only the first
// matching label is removed.
func RemoveRolePrefix(text string) string {
	s := strings.TrimSpace(text)
	if s == "" {
		return s
	}
	for _, p := range rolePrefixPatterns {
		if loc := p.re.FindStringIndex(s); loc != nil {
			return strings.TrimSpace(s[loc[1]:])
		}
		if s == p.word {
			return ""
		}
	}
	return s
}

// RemoveStatusPrefix strips listing badges (上映中, 配信中) until none remain.
func RemoveStatusPrefix(text string) string {
	s := strings.TrimSpace(text)
	for changed := s != ""; changed; {
		changed = false
		for _, p := range statusPrefixPatterns {
			if loc := p.re.FindStringIndex(s); loc != nil {
				s = strings.TrimSpace(s[loc[1]:])
				changed = true
			}
		}
	}
	return s
}

// IsPureRoleWord reports whether text is nothing but a role label.
func IsPureRoleWord(text string) bool {
	t := strings.TrimSpace(text)
	for _, w := range RolePrefixes {
		if t == w {
			return true
		}
	}
	return false
}

// CleanTitleToken normalizes a title scraped from a listing page: one
// leading status badge, then a role label, then whitespace collapsing.
func CleanTitleToken(token string) string {
	s := strings.TrimSpace(token)
	s = leadingStatusWord.ReplaceAllString(s, "")
	s = RemoveRolePrefix(s)
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}
