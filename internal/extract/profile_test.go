package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const personPage = `<html><body>
<h1>吉沢亮（よしざわ りょう）</h1>
<dl><dt>生年月日</dt><dd>1994年2月1日</dd><dt>出身</dt><dd>東京都</dd></dl>
<p>短い段落。</p>
<p>1994年2月1日生まれ、東京都出身。2009年に芸能界デビューし、数々の映画やドラマに出演してきた俳優として知られる存在。代表作に「キングダム」など多数の作品がある。</p>
</body></html>`

func TestExtractPersonProfileFromLabels(t *testing.T) {
	p := ExtractPersonProfile(personPage)

	assert.Equal(t, "よしざわ りょう", p.Kana)
	assert.Equal(t, 1994, p.BirthYear)
	assert.Equal(t, 0, p.DeathYear)
	assert.Equal(t, "東京都", p.BirthPlace)
	assert.Contains(t, p.Note, "2009年に芸能界デビュー")
	assert.False(t, p.IsZero())
}

func TestExtractPersonProfileFromJSONLD(t *testing.T) {
	src := `<script type="application/ld+json">{"@type":"Person","name":"吉沢亮","alternateName":["よしざわりょう"],"birthDate":"1994-02-01","deathDate":"1700-01-01","description":"short"}</script><p>短文。</p>`
	p := ExtractPersonProfile(src)

	assert.Equal(t, "よしざわりょう", p.Kana)
	assert.Equal(t, 1994, p.BirthYear)
	assert.Equal(t, 0, p.DeathYear, "years outside 1800..2100 are ignored")
	assert.Equal(t, "短文。", p.Note)
}

func TestExtractPersonProfileBioLabel(t *testing.T) {
	p := ExtractPersonProfile(`<div>プロフィール：東京都出身の俳優</div><div>次の行</div>`)
	assert.Equal(t, "東京都出身の俳優", p.Note)
}

func TestBioFromText(t *testing.T) {
	text := "2001年に入団。" + "舞台を中心に活動を続け、多くの役柄を演じてきた。" +
		"2010年に映画デビューを果たし、以後は主演作が続いている。" +
		"代表作は数多く、国内外の映画祭でも高い評価を受け、俳優としての地位を確立した。" +
		"近年は監督業にも挑戦している。"
	got := bioFromText(text)
	assert.Contains(t, got, "2001年に入団。")
	assert.Contains(t, got, "2010年")

	assert.Equal(t, "一文。二文。", bioFromText("一文。二文。"))
}
