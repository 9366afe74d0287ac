package extract

import (
	"regexp"
	"strings"
)

// Candidates are loose guesses mined from a search hit. Over-generation is
// expected; the LLM and the normalizer decide what survives.
type Candidates struct {
	Persons []string
	Works   []string
	Years   []string
	Roles   []string
}

// CreditCandidate is a guessed (person, role, work, year) tuple.
type CreditCandidate struct {
	Person string
	Role   string
	Work   string
	Year   string
}

const (
	nameChars     = `\x{4E00}-\x{9FFF}ぁ-んァ-ンA-Za-z0-9`
	nameCharsDots = nameChars + `・ー`
)

var (
	quotedWork    = regexp.MustCompile(`[「『]([^「『」』]{1,40})[」』]`)
	yearToken     = regexp.MustCompile(`((?:19|20)\d{2})\s*年?`)
	starredBy     = regexp.MustCompile(`([` + nameChars + `]{1,15})が主演`)
	starring      = regexp.MustCompile(`([` + nameChars + `]{1,15})主演`)
	directorLabel = regexp.MustCompile(`監督[：: ]([` + nameChars + `]{1,20})`)

	creditDirector = regexp.MustCompile(`監督[：:\s]([` + nameCharsDots + `\s]{1,30})`)
	creditStaff    = []struct {
		re   *regexp.Regexp
		role string
	}{
		{regexp.MustCompile(`脚本[：:\s]([` + nameCharsDots + `\s]{1,30})`), RoleScreenplay},
		{regexp.MustCompile(`原作[：:\s]([` + nameCharsDots + `\s]{1,30})`), RoleAuthor},
		{regexp.MustCompile(`音楽[：:\s]([` + nameCharsDots + `\s]{1,30})`), RoleComposer},
	}
	creditCast = []struct {
		re   *regexp.Regexp
		role string
	}{
		{regexp.MustCompile(`出演[：:\s]([` + nameCharsDots + `\s]{1,60})`), RoleActor},
		{regexp.MustCompile(`キャスト[：:\s]([` + nameCharsDots + `\s]{1,60})`), RoleActor},
		{regexp.MustCompile(`声優[：:\s]([` + nameCharsDots + `\s]{1,60})`), RoleVoice},
		{regexp.MustCompile(`声の出演[：:\s]([` + nameCharsDots + `\s]{1,60})`), RoleVoice},
	}
	creditStarredBy = regexp.MustCompile(`([` + nameCharsDots + `]{1,20})が主演`)
	creditStarring  = regexp.MustCompile(`主演([` + nameCharsDots + `]{1,20})`)

	nameListSep = regexp.MustCompile(`[、，・/／\s\x{3000}]+`)
)

// ExtractCandidates mines quoted work titles, years, role words and person
// names from a hit's title and snippet.
func ExtractCandidates(title, snippet string) Candidates {
	var c Candidates
	text := title + " " + snippet

	for _, m := range quotedWork.FindAllStringSubmatch(text, -1) {
		c.Works = appendUnique(c.Works, SanitizeQuery(m[1]))
	}
	for _, m := range yearToken.FindAllStringSubmatch(text, -1) {
		c.Years = appendUnique(c.Years, m[1])
	}
	for _, rk := range RoleKeywords {
		if rk.Keyword == "脚色" {
			continue
		}
		if strings.Contains(text, rk.Keyword) {
			c.Roles = appendUnique(c.Roles, rk.Role)
		}
	}
	for _, re := range []*regexp.Regexp{starredBy, starring, directorLabel} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			c.Persons = appendUnique(c.Persons, SanitizeQuery(m[1]))
		}
	}
	return c
}

// ExtractCredits guesses credit tuples from labelled name lists. Every
// candidate is attached to the first work and first year found.
func ExtractCredits(title, snippet string, works, years []string) []CreditCandidate {
	text := title + " " + snippet
	var work0, year0 string
	if len(works) > 0 {
		work0 = works[0]
	}
	if len(years) > 0 {
		year0 = years[0]
	}

	var out []CreditCandidate
	add := func(name, role string) {
		out = append(out, CreditCandidate{Person: name, Role: role, Work: work0, Year: year0})
	}
	addList := func(re *regexp.Regexp, role string) {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			for _, name := range SplitNames(m[1]) {
				add(name, role)
			}
		}
	}

	addList(creditDirector, RoleDirector)
	for _, s := range creditStaff {
		addList(s.re, s.role)
	}
	for _, s := range creditCast {
		addList(s.re, s.role)
	}
	for _, re := range []*regexp.Regexp{creditStarredBy, creditStarring} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if name := SanitizeQuery(m[1]); name != "" {
				add(name, RoleActor)
			}
		}
	}

	type key struct{ person, role, work string }
	seen := make(map[key]bool, len(out))
	uniq := out[:0]
	for _, c := range out {
		k := key{c.Person, c.Role, c.Work}
		if seen[k] {
			continue
		}
		seen[k] = true
		uniq = append(uniq, c)
	}
	return uniq
}

// SplitNames splits a Japanese name list and sanitizes each entry.
func SplitNames(s string) []string {
	var out []string
	for _, p := range nameListSep.Split(s, -1) {
		if n := SanitizeQuery(p); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func appendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
