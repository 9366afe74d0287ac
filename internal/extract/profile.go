package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// Profile is the biographical data read from a person page. Zero values
// mean unknown.
type Profile struct {
	Kana       string `json:"kana,omitempty"`
	BirthYear  int    `json:"birth_year,omitempty"`
	DeathYear  int    `json:"death_year,omitempty"`
	Note       string `json:"note,omitempty"`
	BirthPlace string `json:"birth_place,omitempty"`
}

// IsZero reports whether nothing was found.
func (p Profile) IsZero() bool {
	return p.Kana == "" && p.BirthYear == 0 && p.DeathYear == 0 && p.Note == ""
}

const ws = `[\s\x{3000}]*`

var (
	profileYear    = regexp.MustCompile(`(?:18|19|20)\d{2}`)
	kanaLabel      = regexp.MustCompile(`(?:ふりがな|フリガナ|よみがな|読み仮名|読み|ヨミ)` + ws + `[:：]?` + ws + `([\x{3040}-\x{309F}\x{30A0}-\x{30FF}・ー \x{3000}]{2,40})`)
	birthDateLabel = regexp.MustCompile(`(?:生年月日|誕生日)` + ws + `[:：]?` + ws + `((?:18|19|20)\d{2})年`)
	birthLabel     = regexp.MustCompile(`(?:生年|生まれ)` + ws + `[:：]?` + ws + `((?:18|19|20)\d{2})年`)
	deathLabel     = regexp.MustCompile(`(?:没年|命日|逝去|死亡)` + ws + `[:：]?` + ws + `((?:18|19|20)\d{2})年`)
	birthPlace     = regexp.MustCompile(`出身` + ws + `[:：]?` + ws + `([^\s\x{3000}]+(?:[／/][^\s\x{3000}]+)?)`)
	parenKana      = regexp.MustCompile(`（([\x{3040}-\x{309F}\x{30A0}-\x{30FF}・ー \x{3000}]{2,40})）`)
	hasKana        = regexp.MustCompile(`[\x{3040}-\x{309F}\x{30A0}-\x{30FF}]`)
	bioLabel       = regexp.MustCompile(`(?:略歴|プロフィール)` + ws + `[:：]?` + ws + `([^\n]+)`)
	parenYear      = regexp.MustCompile(`（\d{2}）`)
)

// ExtractPersonProfile reads kana, birth and death years, birthplace and a
// biography note from a person page.
func ExtractPersonProfile(src string) Profile {
	var p Profile
	pg := scanPage(src)

	for _, obj := range jsonLDObjects(pg.ldJSON) {
		if !hasType(obj, "Person") {
			continue
		}
		alt := obj["alternateName"]
		if alt == nil {
			alt = obj["alternateNames"]
		}
		switch v := alt.(type) {
		case string:
			p.Kana = strings.TrimSpace(v)
		case []any:
			var parts []string
			for _, a := range v {
				if s, ok := a.(string); ok && s != "" {
					parts = append(parts, s)
				}
			}
			p.Kana = strings.TrimSpace(strings.Join(parts, ","))
		}
		if desc := stringField(obj, "description"); runeLen(desc) >= 40 {
			p.Note = desc
		}
		p.BirthYear = yearIn(profileYear.FindString(stringField(obj, "birthDate")))
		p.DeathYear = yearIn(profileYear.FindString(stringField(obj, "deathDate")))
		break
	}

	text := pg.text
	if p.Kana == "" {
		if m := kanaLabel.FindStringSubmatch(text); m != nil {
			p.Kana = strings.TrimSpace(m[1])
		}
	}
	if p.BirthYear == 0 {
		if m := birthDateLabel.FindStringSubmatch(text); m != nil {
			p.BirthYear = yearIn(m[1])
		}
	}
	if p.BirthYear == 0 {
		if m := birthLabel.FindStringSubmatch(text); m != nil {
			p.BirthYear = yearIn(m[1])
		}
	}
	if p.DeathYear == 0 {
		if m := deathLabel.FindStringSubmatch(text); m != nil {
			p.DeathYear = yearIn(m[1])
		}
	}
	if m := birthPlace.FindStringSubmatch(text); m != nil {
		p.BirthPlace = strings.TrimSpace(m[1])
	}
	if p.Kana == "" {
		if m := parenKana.FindStringSubmatch(text); m != nil {
			if k := strings.TrimSpace(m[1]); hasKana.MatchString(k) {
				p.Kana = k
			}
		}
	}

	if m := bioLabel.FindStringSubmatch(text); m != nil {
		if note := strings.TrimSpace(m[1]); note != "" {
			p.Note = note
		}
	}
	if p.Note == "" {
		p.Note = longestParagraph(pg.paragraphs)
	}
	if p.Note == "" {
		p.Note = bioFromText(text)
	}
	if p.Note == "" {
		s := strings.TrimSpace(text)
		if i := strings.Index(s, "。"); i >= 0 {
			p.Note = strings.TrimSpace(s[:i+len("。")])
		} else if r := []rune(s); len(r) > 200 {
			p.Note = string(r[:200])
		} else {
			p.Note = s
		}
	}
	return p
}

func yearIn(s string) int {
	y, err := strconv.Atoi(s)
	if err != nil || y < 1800 || y > 2100 {
		return 0
	}
	return y
}

// jpScore counts kana and CJK ideographs.
func jpScore(s string) int {
	n := 0
	for _, r := range s {
		if (r >= 0x3040 && r <= 0x309F) || (r >= 0x30A0 && r <= 0x30FF) || (r >= 0x4E00 && r <= 0x9FFF) {
			n++
		}
	}
	return n
}

// longestParagraph picks the most Japanese-looking prose paragraph.
func longestParagraph(paras []string) string {
	best, bestScore := "", -1
	for _, txt := range paras {
		n := runeLen(txt)
		if n < 60 || !strings.Contains(txt, "。") {
			continue
		}
		if score := jpScore(txt) + n/10; score > bestScore {
			best, bestScore = txt, score
		}
	}
	return best
}

// bioFromText assembles leading sentences until the chunk is long enough
// and mentions at least two years, which is how filmography blurbs read.
func bioFromText(text string) string {
	s := collapseInline(text)
	var sentences []string
	for _, seg := range strings.SplitAfter(s, "。") {
		if seg = strings.TrimSpace(seg); seg != "" {
			sentences = append(sentences, seg)
		}
	}
	var buf strings.Builder
	years := 0
	for i, sent := range sentences {
		if i >= 40 {
			break
		}
		buf.WriteString(sent)
		years += len(anyYear.FindAllString(sent, -1)) + len(parenYear.FindAllString(sent, -1))
		if runeLen(buf.String()) >= 120 && years >= 2 {
			return strings.TrimSpace(truncRunes(buf.String(), 1200))
		}
	}
	joined := strings.Join(head(sentences, 8), "")
	return strings.TrimSpace(truncRunes(joined, 400))
}

func truncRunes(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n])
	}
	return s
}
