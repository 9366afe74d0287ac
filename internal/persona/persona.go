// Package persona supplies collector characters: their order, their LLM
// and their persona prompt.
package persona

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hurttlocker/mediakb/internal/config"
	"github.com/hurttlocker/mediakb/internal/llm"
)

// SearcherName is the hidden collector dedicated to ingestion.
const SearcherName = "サーチャー"

// Factory builds a provider; llm.NewProvider in production.
type Factory func(llm.Config) (llm.Provider, error)

// Options configures a Manager.
type Options struct {
	Characters []config.Character
	// DefaultLLM is the provider/model used by characters that name none,
	// and by the implicit searcher when no character is configured.
	DefaultLLM string
	BaseURL    string
	// KeyFor returns the API key for a provider name; empty means the
	// provider reads its own env var.
	KeyFor  func(provider string) string
	Factory Factory
	Logger  *zap.Logger
}

// Manager resolves collectors. It is safe for concurrent use.
type Manager struct {
	opts  Options
	byKey map[string]config.Character

	mu        sync.Mutex
	providers map[string]llm.Provider
}

// NewManager returns a Manager over opts.Characters.
func NewManager(opts Options) *Manager {
	if opts.Factory == nil {
		opts.Factory = llm.NewProvider
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if strings.TrimSpace(opts.DefaultLLM) == "" {
		opts.DefaultLLM = config.DefaultLLM
	}
	m := &Manager{opts: opts, byKey: map[string]config.Character{}, providers: map[string]llm.Provider{}}
	for _, c := range opts.Characters {
		m.byKey[c.Name] = c
	}
	return m
}

// FromConfig builds a Manager from resolved configuration.
func FromConfig(r config.ResolvedConfig, log *zap.Logger) *Manager {
	return NewManager(Options{
		Characters: r.Characters,
		DefaultLLM: r.LLM.Value,
		BaseURL:    r.LLMBaseURL.Value,
		KeyFor:     func(p string) string { return r.APIKeyForProvider(p).Value },
		Logger:     log,
	})
}

// Names lists configured character names in file order.
func (m *Manager) Names(includeHidden bool) []string {
	var out []string
	for _, c := range m.opts.Characters {
		if c.Hidden && !includeHidden {
			continue
		}
		out = append(out, c.Name)
	}
	return out
}

// CollectorNames returns the hidden searcher when configured, otherwise
// the visible characters. With no characters at all the searcher is
// implied and runs on the default LLM.
func (m *Manager) CollectorNames() []string {
	if _, ok := m.byKey[SearcherName]; ok {
		return []string{SearcherName}
	}
	if names := m.Names(false); len(names) > 0 {
		return names
	}
	if len(m.opts.Characters) == 0 {
		return []string{SearcherName}
	}
	return nil
}

// PersonaPrompt returns the persona text for name, or "".
func (m *Manager) PersonaPrompt(name string) string {
	return strings.TrimSpace(m.byKey[name].Persona)
}

// LLM returns the provider for name, building it on first use.
func (m *Manager) LLM(name string) (llm.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.providers[name]; ok {
		return p, nil
	}
	cfg, err := m.llmConfig(name)
	if err != nil {
		return nil, err
	}
	p, err := m.opts.Factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("llm for %s: %w", name, err)
	}
	m.opts.Logger.Debug("collector llm ready", zap.String("character", name), zap.String("llm", p.Name()))
	m.providers[name] = p
	return p, nil
}

func (m *Manager) llmConfig(name string) (llm.Config, error) {
	c, ok := m.byKey[name]
	if !ok && !(name == SearcherName && len(m.opts.Characters) == 0) {
		return llm.Config{}, fmt.Errorf("unknown character %q", name)
	}

	choice := strings.TrimSpace(c.Provider)
	if choice == "" {
		choice = m.opts.DefaultLLM
	}
	provider, model, _ := strings.Cut(choice, "/")
	if strings.TrimSpace(c.Model) != "" {
		model = c.Model
	}
	cfg := llm.Config{
		Provider: strings.ToLower(strings.TrimSpace(provider)),
		Model:    strings.TrimSpace(model),
		APIKey:   c.APIKey,
		BaseURL:  c.BaseURL,
	}
	if cfg.BaseURL == "" && strings.TrimSpace(c.Provider) == "" {
		cfg.BaseURL = m.opts.BaseURL
	}
	if cfg.APIKey == "" && m.opts.KeyFor != nil {
		cfg.APIKey = m.opts.KeyFor(cfg.Provider)
	}
	return cfg, nil
}
