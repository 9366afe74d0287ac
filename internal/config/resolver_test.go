package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"MEDIAKB_DB", "MEDIAKB_LOG_DIR", "MEDIAKB_LISTEN", "MEDIAKB_LLM", "MEDIAKB_LLM_BASE_URL",
		"OPENAI_API_KEY", "OPENROUTER_API_KEY", "DEEPSEEK_API_KEY", "GOOGLE_API_KEY", "GEMINI_API_KEY"} {
		t.Setenv(k, "")
	}
}

func TestResolveConfigDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())

	r, err := ResolveConfig(ResolveOptions{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")})
	require.NoError(t, err)
	assert.Equal(t, SourceDefault, r.DBPath.Source)
	assert.Equal(t, filepath.Join(os.Getenv("HOME"), ".mediakb", "media.db"), r.DBPath.Value)
	assert.Equal(t, DefaultLLM, r.LLM.Value)
	assert.Equal(t, DefaultListen, r.Listen.Value)
	assert.Equal(t, DefaultRounds, r.Ingest.Rounds)
	assert.Equal(t, DefaultAutoNextMax, r.Ingest.AutoNextMax)
	assert.True(t, r.Ingest.ExpandEnabled())
	assert.Empty(t, r.Characters)
}

func TestResolveConfigPrecedence(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `db_path: /from/config.db
listen: 0.0.0.0:9000
llm:
  provider: openrouter/openai/gpt-4o-mini
  base_url: http://gateway.local/v1
ingest:
  rounds: 4
  strict: true
  expand: false
  domain: 映画
`)
	t.Setenv("MEDIAKB_DB", "/from/env.db")
	t.Setenv("MEDIAKB_LLM", "deepseek/deepseek-chat")

	r, err := ResolveConfig(ResolveOptions{ConfigPath: path, CLILLM: "ollama/qwen2.5"})
	require.NoError(t, err)

	assert.Equal(t, ResolvedValue{Value: "/from/env.db", Source: SourceEnv, From: "MEDIAKB_DB"}, r.DBPath)
	assert.Equal(t, ResolvedValue{Value: "ollama/qwen2.5", Source: SourceCLI, From: "--llm"}, r.LLM)
	assert.Equal(t, SourceConfig, r.Listen.Source)
	assert.Equal(t, "http://gateway.local/v1", r.LLMBaseURL.Value)

	assert.Equal(t, 4, r.Ingest.Rounds)
	assert.Equal(t, DefaultAutoNextMax, r.Ingest.AutoNextMax)
	assert.True(t, r.Ingest.Strict)
	assert.False(t, r.Ingest.ExpandEnabled())
	assert.Equal(t, "映画", r.Ingest.Domain)
}

func TestResolveConfigCharacters(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `characters:
  - name: アオイ
    provider: openai/gpt-4o-mini
    persona: 明るい映画好き
  - name: " "
  - name: サーチャー
    provider: deepseek
    model: deepseek-chat
    hidden: true
  - name: アオイ
    persona: duplicate
`)
	r, err := ResolveConfig(ResolveOptions{ConfigPath: path})
	require.NoError(t, err)
	require.Len(t, r.Characters, 2)
	assert.Equal(t, "アオイ", r.Characters[0].Name)
	assert.Equal(t, "明るい映画好き", r.Characters[0].Persona)
	assert.True(t, r.Characters[1].Hidden)
	assert.Equal(t, "deepseek-chat", r.Characters[1].Model)
}

func TestAPIKeyForProvider(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `llm:
  provider: openrouter/openai/gpt-4o-mini
  api_key: config-key
`)
	r, err := ResolveConfig(ResolveOptions{ConfigPath: path})
	require.NoError(t, err)
	assert.Equal(t, "config-key", r.APIKeyForProvider("openrouter/x").Value)
	assert.Empty(t, r.APIKeyForProvider("openai/x").Value)

	t.Setenv("OPENROUTER_API_KEY", "env-key")
	r, err = ResolveConfig(ResolveOptions{ConfigPath: path})
	require.NoError(t, err)
	k := r.APIKeyForProvider("openrouter")
	assert.Equal(t, "env-key", k.Value)
	assert.Equal(t, SourceEnv, k.Source)
}

func TestAPIKeyWithoutProviderIsDefault(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "llm:\n  api_key: shared\n")
	r, err := ResolveConfig(ResolveOptions{ConfigPath: path})
	require.NoError(t, err)
	assert.Equal(t, "shared", r.APIKeyForProvider("deepseek/deepseek-chat").Value)
}

func TestResolveConfigBadYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "db_path: [unclosed\n")
	_, err := ResolveConfig(ResolveOptions{ConfigPath: path})
	assert.ErrorContains(t, err, "parsing")
}
