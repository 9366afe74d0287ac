package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// CastPair links a person name on a film page to its eiga.com person id.
type CastPair struct {
	Name     string `json:"name"`
	PersonID string `json:"person_id"`
}

// DeepResult is what a close read of one film page yields. Role lists keep
// first-seen order.
type DeepResult struct {
	URL        string
	Title      string
	Work       []string
	Year       []string
	Director   []string
	Actor      []string
	Voice      []string
	Screenplay []string
	Author     []string
	Composer   []string
	Synopsis   string
	CastPairs  []CastPair
}

// Empty reports whether nothing at all was found.
func (d *DeepResult) Empty() bool {
	return d.Title == "" && len(d.Work) == 0 && len(d.Year) == 0 && d.Synopsis == "" &&
		len(d.Director) == 0 && len(d.Actor) == 0 && len(d.Voice) == 0 &&
		len(d.Screenplay) == 0 && len(d.Author) == 0 && len(d.Composer) == 0 && len(d.CastPairs) == 0
}

var (
	yearWithNen    = regexp.MustCompile(`((?:19|20)\d{2})\s*年`)
	anyYear        = regexp.MustCompile(`(?:19|20)\d{2}`)
	labelDirector  = regexp.MustCompile(`監督[：: ]([^。\n]+)`)
	labelScreen    = regexp.MustCompile(`脚本[：: ]([^。\n]+)`)
	labelAuthor    = regexp.MustCompile(`原作[：: ]([^。\n]+)`)
	labelComposer  = regexp.MustCompile(`音楽[：: ]([^。\n]+)`)
	labelCast      = regexp.MustCompile(`(?:出演|キャスト|主演)[：: ]([^。\n]+)`)
	looseStarredBy = regexp.MustCompile(`([` + nameChars + `・]{1,20})が主演`)
	deepNameSep    = regexp.MustCompile(`[、,，/／・\s\x{3000}]+`)
	personHref     = regexp.MustCompile(`^/person/(\d+)/$`)
)

// DeepExtract reads a fetched film page. JSON-LD Movie data is trusted
// first; labelled text lines and meta tags fill the gaps.
func DeepExtract(url, src string) *DeepResult {
	res := &DeepResult{URL: url}
	pg := scanPage(src)

	metaTitle := pg.meta["og:title"]
	if metaTitle == "" {
		metaTitle = strings.TrimSpace(pg.title)
	}
	if wt := SanitizeQuery(metaTitle); wt != "" {
		res.Work = append(res.Work, wt)
		res.Title = wt
	}

	for _, obj := range jsonLDObjects(pg.ldJSON) {
		if !hasType(obj, "Movie") {
			continue
		}
		name := stringField(obj, "name")
		if name == "" {
			name = stringField(obj, "headline")
		}
		if name != "" {
			if res.Title == "" {
				res.Title = name
			}
			res.Work = appendUnique(res.Work, name)
		}
		for _, k := range []string{"datePublished", "releaseDate"} {
			if y := anyYear.FindString(stringField(obj, k)); y != "" {
				res.Year = appendUnique(res.Year, y)
			}
		}
		if desc := stringField(obj, "description"); runeLen(desc) > runeLen(res.Synopsis) {
			res.Synopsis = desc
		}
		for _, n := range peopleNames(obj["actor"]) {
			res.Actor = appendUnique(res.Actor, n)
		}
		for _, n := range peopleNames(obj["director"]) {
			res.Director = appendUnique(res.Director, n)
		}
		for _, n := range peopleNames(obj["author"]) {
			res.Author = appendUnique(res.Author, n)
		}
		for _, n := range peopleNames(obj["creator"]) {
			res.Author = appendUnique(res.Author, n)
		}
		for _, n := range peopleNames(obj["musicBy"]) {
			res.Composer = appendUnique(res.Composer, n)
		}
	}

	text := pg.text
	for _, m := range yearWithNen.FindAllStringSubmatch(text, -1) {
		res.Year = appendUnique(res.Year, m[1])
	}
	labelled := []struct {
		re  *regexp.Regexp
		dst *[]string
	}{
		{labelDirector, &res.Director},
		{labelScreen, &res.Screenplay},
		{labelAuthor, &res.Author},
		{labelComposer, &res.Composer},
		{labelCast, &res.Actor},
	}
	for _, l := range labelled {
		for _, m := range l.re.FindAllStringSubmatch(text, -1) {
			for _, part := range deepNameSep.Split(m[1], -1) {
				n := SanitizeQuery(part)
				if n != "" && runeLen(n) <= 30 {
					*l.dst = appendUnique(*l.dst, n)
				}
			}
		}
	}
	for _, m := range looseStarredBy.FindAllStringSubmatch(text, -1) {
		res.Actor = appendUnique(res.Actor, SanitizeQuery(m[1]))
	}

	if d := pg.meta["description"]; runeLen(d) > runeLen(res.Synopsis) {
		res.Synopsis = d
	}

	for _, a := range pg.anchors {
		m := personHref.FindStringSubmatch(a.Href)
		if m == nil {
			continue
		}
		name := SanitizeQuery(a.Text)
		if name != "" && runeLen(name) <= 40 {
			res.CastPairs = append(res.CastPairs, CastPair{Name: name, PersonID: m[1]})
		}
	}
	return res
}

// HintLines renders the result as the deep-read hint lines shown to the
// collector LLM.
func (d *DeepResult) HintLines() []string {
	var lines []string
	for _, r := range []struct {
		label string
		vals  []string
		limit int
	}{
		{"監督", d.Director, 5},
		{"脚本", d.Screenplay, 5},
		{"原作", d.Author, 5},
		{"音楽", d.Composer, 5},
		{"出演/主演", d.Actor, 12},
	} {
		if len(r.vals) > 0 {
			lines = append(lines, "- "+r.label+": "+strings.Join(head(r.vals, r.limit), ", "))
		}
	}
	if len(d.Year) > 0 {
		lines = append(lines, "- 年: "+strings.Join(head(d.Year, 5), ", "))
	}
	if t := d.Title; t != "" || len(d.Work) > 0 {
		if t == "" {
			t = d.Work[0]
		}
		lines = append(lines, "- タイトル: "+t)
	}
	if d.Synopsis != "" {
		syn := []rune(d.Synopsis)
		if len(syn) > 300 {
			lines = append(lines, "- あらすじ: "+string(syn[:300])+"...")
		} else {
			lines = append(lines, "- あらすじ: "+d.Synopsis)
		}
	}
	return lines
}

func head(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
