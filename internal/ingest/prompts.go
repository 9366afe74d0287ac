package ingest

import "strings"

const extractorTemplate = `あなたは事実収集アシスタントです。以下の対象ドメインに限定し、確度の高い事実のみを抽出します。
対象ドメイン: {DOMAIN}

厳格な出力規則（絶対遵守）:
- 出力は JSON オブジェクト 1個のみ。前置き・後置き・説明文・見出し・箇条書き・Markdown（` + "```" + ` 等）一切禁止。
- 最初に必ず <<<JSON_START>>> を出力し、最後に <<<JSON_END>>> を出力。JSONはその間のみ。
- 未確定情報は入れない。わからない項目は null または空配列。
- 許可キーのみ使用: persons, works, credits, external_ids, unified, note, next_queries
- credits.role は次のみ: actor, voice, director, author, screenplay, composer, theme_song, sound_effects, producer
- 文字列は過剰な修飾語を避け、短く正確に。
- next_queries は日本語の短い検索語を最大5件。重複不可。

スキーマ:
{
  "persons": [ { "name": "", "aliases": [""] } ],
  "works": [ { "title": "", "category": "映画", "year": 2024, "subtype": null, "summary": null } ],
  "credits": [ { "work": "", "person": "", "role": "actor", "character": null } ],
  "external_ids": [ { "entity": "work", "name": "", "source": "eiga.com", "value": "", "url": null } ],
  "unified": [ { "name": "", "work": "", "relation": "adaptation" } ],
  "note": null,
  "next_queries": [ "" ]
}

出力テンプレート（例、構造イメージのみ）:
<<<JSON_START>>>
{
  "persons": [],
  "works": [],
  "credits": [],
  "external_ids": [],
  "unified": [],
  "note": null,
  "next_queries": []
}
<<<JSON_END>>>
`

// ExtractorPrompt is the schema-bound instruction given to every collector.
func ExtractorPrompt(domain string) string {
	return strings.ReplaceAll(extractorTemplate, "{DOMAIN}", domain)
}

// RepairPrompt asks a model to turn its previous answer into valid JSON.
func RepairPrompt(domain string) string {
	return "以下の入力テキストを、指定スキーマに合致する有効なJSONに修復してください。\n" +
		"- 前置き・説明・Markdown禁止。<<<JSON_START>>> と <<<JSON_END>>> で囲み、JSONのみ出力。\n" +
		"- 許可キーのみ: persons, works, credits, external_ids, unified, note, next_queries\n" +
		"- credits.role は actor, voice, director, author, screenplay, composer, theme_song, sound_effects, producer のみ\n" +
		"- わからない値は null または空配列。対象ドメイン: " + domain
}

func strictSystemPrompt(extractor string) string {
	return "## 収集モード(STRICT)\n" + extractor + "\n\n必ず有効なJSONのみを出力してください。前置き・補足・マークダウンは禁止です。"
}

func personaSystemPrompt(persona, extractor string) string {
	return persona + "\n\n## 収集モード\n" + extractor
}

func strictRetryPrompt(extractor string) string {
	return "## 収集モード(STRICT-RETRY)\n" + extractor + "\n\nJSONのみを返してください。先頭から { と } までの有効JSONのみ。"
}

func userMessage(query, hintBlock string) string {
	return "収集対象: " + query + hintBlock
}
