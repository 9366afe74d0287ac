package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeQuery(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"吉沢亮 国宝 映画。JSONのみで出力、前置き禁止。」", "吉沢亮 国宝 映画"},
		{"「国宝」", "国宝"},
		{"  吉沢亮 \t  国宝  ", "吉沢亮 国宝"},
		{"<<<JSON_START>>>山田太郎<<<JSON_END>>>", "山田太郎"},
		{"マークダウン禁止", ""},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SanitizeQuery(tc.in), "input %q", tc.in)
	}
}

func TestSafeFileToken(t *testing.T) {
	assert.Equal(t, "吉沢亮_国宝", SafeFileToken("吉沢亮 国宝"))
	assert.Equal(t, "query", SafeFileToken("JSON"))
	assert.Equal(t, "a_b", SafeFileToken("a/b"))
}

func TestRemoveRolePrefix(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"出演 山田太郎", "山田太郎"},
		{"監督：是枝裕和", "是枝裕和"},
		{"主演:吉沢亮", "吉沢亮"},
		{"脚本／坂元裕二", "坂元裕二"},
		{"出演・監督 北野武", "監督 北野武"},
		{"出演", ""},
		{"出演者一覧", "出演者一覧"},
		{"山田太郎", "山田太郎"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, RemoveRolePrefix(tc.in), "input %q", tc.in)
	}
}

func TestRemoveStatusPrefix(t *testing.T) {
	assert.Equal(t, "国宝", RemoveStatusPrefix("上映中 配信中 国宝"))
	assert.Equal(t, "国宝", RemoveStatusPrefix("配信中：国宝"))
	assert.Equal(t, "上映中止", RemoveStatusPrefix("上映中止"))
}

func TestCleanTitleToken(t *testing.T) {
	assert.Equal(t, "国宝", CleanTitleToken("上映中 出演 国宝"))
	assert.Equal(t, "キングダム 大将軍の帰還", CleanTitleToken("  キングダム   大将軍の帰還 "))
	assert.Equal(t, "", CleanTitleToken("出演"))
}

func TestIsPureRoleWord(t *testing.T) {
	assert.True(t, IsPureRoleWord("監督"))
	assert.True(t, IsPureRoleWord(" 出演 "))
	assert.False(t, IsPureRoleWord("監督作品"))
}

func TestRoleForKeyword(t *testing.T) {
	r, ok := RoleForKeyword("脚色")
	assert.True(t, ok)
	assert.Equal(t, RoleScreenplay, r)

	r, ok = RoleForKeyword("主題歌")
	assert.True(t, ok)
	assert.Equal(t, RoleThemeSong, r)

	_, ok = RoleForKeyword("撮影")
	assert.False(t, ok)
	assert.True(t, IsValidRole("sound_effects"))
	assert.False(t, IsValidRole("cameraman"))
}
