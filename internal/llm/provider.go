// Package llm adapts chat-completion APIs to a single Provider interface.
// Collectors only ever need one prompt in and one text out.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
)

// Provider is the interface for LLM completions.
type Provider interface {
	// Complete sends a prompt and returns the response text.
	Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error)
	// Name returns "provider/model".
	Name() string
}

// CompletionOpts configures a single completion request.
type CompletionOpts struct {
	System      string
	Model       string // overrides the provider default
	MaxTokens   int    // 0 = provider default
	Temperature float64
	Format      string // "json" requests a JSON object where the API supports it
}

// Config holds provider configuration.
type Config struct {
	Provider string
	Model    string
	APIKey   string // empty = read from the provider's env var
	BaseURL  string
}

// ErrEmptyResponse is returned when the API answered without any text.
var ErrEmptyResponse = errors.New("llm: empty response")

// preset describes an OpenAI-compatible endpoint.
type preset struct {
	baseURL string
	model   string
	keyEnv  []string
	// keyless endpoints accept requests without Authorization.
	keyless bool
}

var presets = map[string]preset{
	"openai":     {baseURL: "https://api.openai.com/v1", model: "gpt-4o-mini", keyEnv: []string{"OPENAI_API_KEY"}},
	"openrouter": {baseURL: "https://openrouter.ai/api/v1", model: "openai/gpt-4o-mini", keyEnv: []string{"OPENROUTER_API_KEY"}},
	"deepseek":   {baseURL: "https://api.deepseek.com/v1", model: "deepseek-chat", keyEnv: []string{"DEEPSEEK_API_KEY"}},
	"custom":     {keyEnv: []string{"MEDIAKB_LLM_API_KEY"}, keyless: true},
}

const (
	defaultGoogleModel = "gemini-2.5-flash"
	defaultGoogleURL   = "https://generativelanguage.googleapis.com/v1beta"
	defaultOllamaModel = "llama3.1"
	defaultOllamaURL   = "http://localhost:11434"
)

// Supported lists the provider names NewProvider accepts.
func Supported() []string {
	names := []string{"google", "ollama"}
	for k := range presets {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimRight(strings.TrimSpace(v), "/")
}

// NewProvider creates an LLM provider from the given config.
func NewProvider(cfg Config) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	client := &http.Client{}

	switch name {
	case "google":
		key := cfg.APIKey
		if key == "" {
			key = firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("google provider requires GEMINI_API_KEY or GOOGLE_API_KEY")
		}
		return &googleProvider{
			apiKey:  key,
			model:   orDefault(cfg.Model, defaultGoogleModel),
			baseURL: orDefault(cfg.BaseURL, defaultGoogleURL),
			client:  client,
		}, nil

	case "ollama":
		return &ollamaProvider{
			model:   orDefault(cfg.Model, defaultOllamaModel),
			baseURL: orDefault(firstNonEmpty(cfg.BaseURL, os.Getenv("OLLAMA_HOST")), defaultOllamaURL),
			client:  client,
		}, nil
	}

	p, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown LLM provider %q (supported: %s)", cfg.Provider, strings.Join(Supported(), ", "))
	}
	baseURL := orDefault(cfg.BaseURL, p.baseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("%s provider requires a base URL", name)
	}
	key := cfg.APIKey
	if key == "" {
		key = firstEnv(p.keyEnv...)
	}
	if key == "" && !p.keyless {
		return nil, fmt.Errorf("%s provider requires %s", name, strings.Join(p.keyEnv, " or "))
	}
	model := orDefault(cfg.Model, p.model)
	if model == "" {
		return nil, fmt.Errorf("%s provider requires a model", name)
	}
	return &chatProvider{
		provider: name,
		apiKey:   key,
		model:    model,
		baseURL:  baseURL,
		client:   client,
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// ParseLLMFlag parses a "provider/model" flag value into a Config. The
// model part may itself contain slashes (openrouter/openai/gpt-4o-mini).
func ParseLLMFlag(flag string) (Config, error) {
	flag = strings.TrimSpace(flag)
	if flag == "" {
		return Config{Provider: "openai", Model: presets["openai"].model}, nil
	}
	provider, model, ok := strings.Cut(flag, "/")
	if !ok || model == "" {
		return Config{}, fmt.Errorf("invalid --llm value %q: expected provider/model (e.g. openai/gpt-4o-mini)", flag)
	}
	provider = strings.ToLower(provider)
	if _, known := presets[provider]; !known && provider != "google" && provider != "ollama" {
		return Config{}, fmt.Errorf("unknown provider %q in --llm value (supported: %s)", provider, strings.Join(Supported(), ", "))
	}
	return Config{Provider: provider, Model: model}, nil
}

// apiError formats a non-200 reply, trimming long bodies.
func apiError(provider string, status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if r := []rune(msg); len(r) > 300 {
		msg = string(r[:300]) + "..."
	}
	return fmt.Errorf("%s API error (status %d): %s", provider, status, msg)
}
