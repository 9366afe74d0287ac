package extract

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	slashRun       = regexp.MustCompile(`[／/]+`)
	eigaTitleTail  = regexp.MustCompile(`^(.*?)\s*[:：]\s*作品情報・キャスト・あらすじ\s*-\s*映画\.com(?:\s*\((\d{4})\))?\s*$`)
	trailingYear   = regexp.MustCompile(`^(.*)\((\d{4})\)\s*$`)
	siteChrome     = regexp.MustCompile(`作品情報|映画\.com|キャスト|あらすじ`)
	enumRole       = regexp.MustCompile(`^[a-z][a-z_]+$`)
	punctuationRun = regexp.MustCompile(`^[\-–—•·・:;,.…]+$`)

	noisePersonPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^©$|^\(C\)|^C\)$`),
		regexp.MustCompile(`(?i)映画\.com|レビュー|レビューガイドライン|レビューを書く|映画レビュー|映画ランキング|プライバシーポリシー|利用規約|サイトマップ|ヘルプ|公式アプリ|メール|メルマガ|アプリ|動画配信検索|企業情報|人材募集|お問い合わせ|プレゼント|採点する|並び替え|標準|評価の高い順|評価の低い順|全てのスタッフ|全て|全0件|関連ニュース|フォトギャラリー|トップへ戻る|この作品にレビューはまだ投稿されていません`),
		regexp.MustCompile(`(?i)Inc\.?$|LLC\.?$|Ltd\.?$|GmbH$|Partners?\.?$|Productions?$|Pictures?$|Studio?s?\.?$|Television$|International$|Company$|Co\.$`),
		regexp.MustCompile(`(?i)^and$|^All$|^BEST$|^ENTRY$|^MENU$|^Rights$|^Reserved\.?$|^SERVICES$|^SL$|^UPON$`),
		regexp.MustCompile(`(?i)^FILMS?$|^BASQUE$|^SYGNATIA$|^AIE$|^ALLTIME$|^Disney$|^Sony$|^Universal$|^Pixar\.?$|^Yukikaze$`),
		regexp.MustCompile(`(?i)^eiga\.com$|^orange-オレンジ-$|^集英社$|^国内ドラマ$|^海外ドラマ$|^映画$|^動画$|^ニュース$`),
	}
)

// NFKCSpace applies NFKC, folds ideographic spaces and collapses runs.
func NFKCSpace(s string) string {
	s = norm.NFKC.String(s)
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

// NormalizeTitle cleans a stored work title and peels off a trailing year
// when one is embedded, as eiga.com page titles do. The year is 0 when
// none was found.
func NormalizeTitle(raw string) (string, int) {
	s := NFKCSpace(raw)
	s = slashRun.ReplaceAllString(s, " ")
	s = RemoveStatusPrefix(RemoveRolePrefix(s))
	if m := eigaTitleTail.FindStringSubmatch(s); m != nil {
		y, _ := strconv.Atoi(m[2])
		return NFKCSpace(m[1]), y
	}
	if m := trailingYear.FindStringSubmatch(s); m != nil && !strings.Contains(s, "作品情報・キャスト・あらすじ") {
		y, _ := strconv.Atoi(m[2])
		return NFKCSpace(strings.TrimRight(m[1], "：:")), y
	}
	return s, 0
}

// NormalizePersonName returns "" when the name is page chrome rather than a
// person.
func NormalizePersonName(raw string) string {
	s := NFKCSpace(raw)
	s = slashRun.ReplaceAllString(s, " ")
	s = strings.TrimSpace(RemoveStatusPrefix(RemoveRolePrefix(s)))
	if siteChrome.MatchString(s) || IsNoisePersonName(s) {
		return ""
	}
	return s
}

// IsNoisePersonName flags site navigation text, company names and other
// strings that scrape as names.
func IsNoisePersonName(name string) bool {
	s := strings.TrimSpace(name)
	if s == "" {
		return true
	}
	for _, re := range noisePersonPatterns {
		if re.MatchString(s) {
			return true
		}
	}
	if runeLen(s) <= 1 {
		return true
	}
	return punctuationRun.MatchString(s)
}

// NormalizeRole maps a Japanese credit label to its role value. Anything
// else is returned NFKC-cleaned for the caller to validate.
func NormalizeRole(raw string) string {
	s := NFKCSpace(raw)
	if r, ok := RoleForKeyword(s); ok {
		return r
	}
	if enumRole.MatchString(strings.ToLower(s)) {
		return strings.ToLower(s)
	}
	return s
}

// NormalizeCharacter cleans a character name; chrome text becomes "".
func NormalizeCharacter(raw string) string {
	s := slashRun.ReplaceAllString(NFKCSpace(raw), " ")
	s = strings.TrimSpace(s)
	if siteChrome.MatchString(s) {
		return ""
	}
	return s
}
