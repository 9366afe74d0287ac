package persona

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hurttlocker/mediakb/internal/config"
	"github.com/hurttlocker/mediakb/internal/llm"
)

type fakeProvider struct{ cfg llm.Config }

func (f *fakeProvider) Complete(context.Context, string, llm.CompletionOpts) (string, error) {
	return "{}", nil
}
func (f *fakeProvider) Name() string { return f.cfg.Provider + "/" + f.cfg.Model }

func recordingFactory(calls *[]llm.Config) Factory {
	return func(cfg llm.Config) (llm.Provider, error) {
		*calls = append(*calls, cfg)
		return &fakeProvider{cfg: cfg}, nil
	}
}

func TestCollectorNames(t *testing.T) {
	visible := []config.Character{{Name: "アオイ"}, {Name: "ミドリ"}, {Name: "影", Hidden: true}}

	tests := []struct {
		name  string
		chars []config.Character
		want  []string
	}{
		{"hidden searcher wins", append(visible, config.Character{Name: SearcherName, Hidden: true}), []string{SearcherName}},
		{"visible in file order", visible, []string{"アオイ", "ミドリ"}},
		{"nothing configured", nil, []string{SearcherName}},
		{"only hidden non-searchers", []config.Character{{Name: "影", Hidden: true}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(Options{Characters: tt.chars})
			assert.Equal(t, tt.want, m.CollectorNames())
		})
	}
}

func TestLLMIsCachedPerName(t *testing.T) {
	var calls []llm.Config
	m := NewManager(Options{
		Characters: []config.Character{
			{Name: "アオイ", Provider: "openrouter/openai/gpt-4o-mini", Persona: "  映画好き  "},
			{Name: SearcherName, Provider: "deepseek", Model: "deepseek-chat", Hidden: true},
			{Name: "ミドリ"},
		},
		DefaultLLM: "ollama/qwen2.5",
		BaseURL:    "http://gateway/v1",
		KeyFor:     func(p string) string { return "key-" + p },
		Factory:    recordingFactory(&calls),
	})

	a1, err := m.LLM("アオイ")
	require.NoError(t, err)
	a2, err := m.LLM("アオイ")
	require.NoError(t, err)
	assert.Same(t, a1, a2)
	assert.Equal(t, "openrouter/openai/gpt-4o-mini", a1.Name())

	s, err := m.LLM(SearcherName)
	require.NoError(t, err)
	assert.Equal(t, "deepseek/deepseek-chat", s.Name())

	_, err = m.LLM("ミドリ")
	require.NoError(t, err)

	require.Len(t, calls, 3)
	assert.Equal(t, "key-openrouter", calls[0].APIKey)
	assert.Empty(t, calls[0].BaseURL)
	assert.Equal(t, llm.Config{Provider: "ollama", Model: "qwen2.5", APIKey: "key-ollama", BaseURL: "http://gateway/v1"}, calls[2])

	assert.Equal(t, "映画好き", m.PersonaPrompt("アオイ"))
	assert.Empty(t, m.PersonaPrompt("誰か"))
}

func TestLLMErrors(t *testing.T) {
	m := NewManager(Options{
		Characters: []config.Character{{Name: "アオイ"}},
		Factory:    func(llm.Config) (llm.Provider, error) { return nil, errors.New("no key") },
	})
	_, err := m.LLM("誰か")
	assert.ErrorContains(t, err, "unknown character")
	_, err = m.LLM("アオイ")
	assert.ErrorContains(t, err, "no key")
}

func TestImplicitSearcherUsesDefault(t *testing.T) {
	var calls []llm.Config
	m := NewManager(Options{DefaultLLM: "google/gemini-2.5-flash", Factory: recordingFactory(&calls)})
	p, err := m.LLM(SearcherName)
	require.NoError(t, err)
	assert.Equal(t, "google/gemini-2.5-flash", p.Name())
}
