// Package extract holds the text heuristics used by the media KB ingester:
// query sanitizing, role/status prefix stripping, candidate mining from
// search snippets, and deep extraction from fetched film and person pages.
//
// Everything here is pure. HTML is parsed but never fetched.
package extract

// Role values accepted by the KB. Credits with any other role are dropped.
const (
	RoleActor        = "actor"
	RoleVoice        = "voice"
	RoleDirector     = "director"
	RoleAuthor       = "author"
	RoleScreenplay   = "screenplay"
	RoleComposer     = "composer"
	RoleThemeSong    = "theme_song"
	RoleSoundEffects = "sound_effects"
	RoleProducer     = "producer"
)

// Roles lists every valid role value.
var Roles = []string{
	RoleActor, RoleVoice, RoleDirector, RoleAuthor, RoleScreenplay,
	RoleComposer, RoleThemeSong, RoleSoundEffects, RoleProducer,
}

// RoleKeyword maps a Japanese credit label to a role.
type RoleKeyword struct {
	Keyword string
	Role    string
}

// RoleKeywords is ordered; the first keyword contained in a text wins when
// a single role is needed.
var RoleKeywords = []RoleKeyword{
	{"監督", RoleDirector},
	{"主演", RoleActor},
	{"出演", RoleActor},
	{"キャスト", RoleActor},
	{"声優", RoleVoice},
	{"脚本", RoleScreenplay},
	{"脚色", RoleScreenplay},
	{"原作", RoleAuthor},
	{"音楽", RoleComposer},
}

// extraRoleWords covers labels that only appear in normalization input.
var extraRoleWords = []RoleKeyword{
	{"声の出演", RoleVoice},
	{"主題歌", RoleThemeSong},
	{"音響効果", RoleSoundEffects},
	{"プロデューサー", RoleProducer},
	{"製作", RoleProducer},
}

// RolePrefixes are labels that search titles and LLM output glue in front of
// names and titles ("出演 山田太郎", "監督：某").
var RolePrefixes = []string{
	"出演", "主演", "監督", "脚本", "脚色", "原作", "音楽", "声優",
	"主題歌", "音響効果", "プロデューサー",
}

// StatusPrefixes are listing badges shown before titles.
var StatusPrefixes = []string{"上映中", "配信中"}

// metaFragments are instruction words that leak from prompts into candidate
// strings and must never end up in a search query.
var metaFragments = []string{
	"<<<JSON_START>>>", "<<<JSON_END>>>",
	"JSON", "json", "出力", "前置き", "禁止", "マークダウン", "Markdown", "コード", "フェンス",
}

// IsValidRole reports whether r is one of Roles.
func IsValidRole(r string) bool {
	for _, v := range Roles {
		if v == r {
			return true
		}
	}
	return false
}

// RoleForKeyword returns the role mapped to an exact Japanese label.
func RoleForKeyword(kw string) (string, bool) {
	for _, rk := range RoleKeywords {
		if rk.Keyword == kw {
			return rk.Role, true
		}
	}
	for _, rk := range extraRoleWords {
		if rk.Keyword == kw {
			return rk.Role, true
		}
	}
	return "", false
}
