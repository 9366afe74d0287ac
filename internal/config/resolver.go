// Package config resolves mediakb settings from built-in defaults, a YAML
// file, environment variables and CLI flags, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

// Built-in defaults.
const (
	DefaultDBPath      = "~/.mediakb/media.db"
	DefaultLogDir      = "~/.mediakb/logs"
	DefaultListen      = "127.0.0.1:8088"
	DefaultLLM         = "openai/gpt-4o-mini"
	DefaultRounds      = 1
	DefaultAutoNextMax = 3
)

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

type ResolveOptions struct {
	ConfigPath string
	CLILLM     string
	CLIDBPath  string
	CLILogDir  string
	CLIListen  string
}

// Character is one collector persona.
type Character struct {
	Name     string `yaml:"name" json:"name"`
	Provider string `yaml:"provider" json:"provider,omitempty"` // provider or provider/model
	Model    string `yaml:"model" json:"model,omitempty"`
	BaseURL  string `yaml:"base_url" json:"base_url,omitempty"`
	APIKey   string `yaml:"api_key" json:"-"`
	Persona  string `yaml:"persona" json:"persona,omitempty"`
	Hidden   bool   `yaml:"hidden" json:"hidden,omitempty"`
}

// IngestDefaults seeds ingest requests that do not set a value.
type IngestDefaults struct {
	Rounds      int    `yaml:"rounds" json:"rounds"`
	AutoNextMax int    `yaml:"auto_next_max" json:"auto_next_max"`
	Strict      bool   `yaml:"strict" json:"strict"`
	Expand      *bool  `yaml:"expand" json:"expand,omitempty"`
	Domain      string `yaml:"domain" json:"domain,omitempty"`
}

// ExpandEnabled defaults to true when the file does not say otherwise.
func (d IngestDefaults) ExpandEnabled() bool {
	return d.Expand == nil || *d.Expand
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	DBPath     ResolvedValue `json:"db_path"`
	LogDir     ResolvedValue `json:"log_dir"`
	Listen     ResolvedValue `json:"listen"`
	LLM        ResolvedValue `json:"llm"`
	LLMBaseURL ResolvedValue `json:"llm_base_url"`

	LLMKeys map[string]ResolvedValue `json:"-"`

	Ingest     IngestDefaults `json:"ingest"`
	Characters []Character    `json:"characters,omitempty"`
}

type fileConfig struct {
	DBPath string `yaml:"db_path"`
	LogDir string `yaml:"log_dir"`
	Listen string `yaml:"listen"`
	LLM    struct {
		Provider string `yaml:"provider"`
		APIKey   string `yaml:"api_key"`
		BaseURL  string `yaml:"base_url"`
	} `yaml:"llm"`
	Ingest     IngestDefaults `yaml:"ingest"`
	Characters []Character    `yaml:"characters"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mediakb", "config.yaml")
}

// keyEnvs maps provider key variables to provider names.
var keyEnvs = []struct{ env, provider string }{
	{"OPENAI_API_KEY", "openai"},
	{"OPENROUTER_API_KEY", "openrouter"},
	{"DEEPSEEK_API_KEY", "deepseek"},
	{"GEMINI_API_KEY", "google"},
	{"GOOGLE_API_KEY", "google"},
}

func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{
		ConfigPath: path,
		DBPath:     defaultValue(DefaultDBPath),
		LogDir:     defaultValue(DefaultLogDir),
		Listen:     defaultValue(DefaultListen),
		LLM:        defaultValue(DefaultLLM),
		LLMKeys:    map[string]ResolvedValue{},
		Ingest:     IngestDefaults{Rounds: DefaultRounds, AutoNextMax: DefaultAutoNextMax},
	}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}
	if cfg != nil {
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.LogDir, cfg.LogDir, SourceConfig, path)
		apply(&out.Listen, cfg.Listen, SourceConfig, path)
		apply(&out.LLM, cfg.LLM.Provider, SourceConfig, path)
		apply(&out.LLMBaseURL, cfg.LLM.BaseURL, SourceConfig, path)
		if key := strings.TrimSpace(cfg.LLM.APIKey); key != "" {
			p := providerOf(out.LLM.Value)
			if cfg.LLM.Provider == "" {
				p = "default"
			}
			out.LLMKeys[p] = ResolvedValue{Value: key, Source: SourceConfig, From: path}
		}
		mergeIngest(&out.Ingest, cfg.Ingest)
		out.Characters = cleanCharacters(cfg.Characters)
	}

	applyEnv(&out.DBPath, "MEDIAKB_DB")
	applyEnv(&out.LogDir, "MEDIAKB_LOG_DIR")
	applyEnv(&out.Listen, "MEDIAKB_LISTEN")
	applyEnv(&out.LLM, "MEDIAKB_LLM")
	applyEnv(&out.LLMBaseURL, "MEDIAKB_LLM_BASE_URL")
	for _, k := range keyEnvs {
		if _, seen := out.LLMKeys[k.provider]; seen && out.LLMKeys[k.provider].Source == SourceEnv {
			continue
		}
		if v := strings.TrimSpace(os.Getenv(k.env)); v != "" {
			out.LLMKeys[k.provider] = ResolvedValue{Value: v, Source: SourceEnv, From: k.env}
		}
	}

	apply(&out.LLM, opts.CLILLM, SourceCLI, "--llm")
	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.LogDir, opts.CLILogDir, SourceCLI, "--log-dir")
	apply(&out.Listen, opts.CLIListen, SourceCLI, "--listen")

	out.DBPath.Value = ExpandUserPath(out.DBPath.Value)
	out.LogDir.Value = ExpandUserPath(out.LogDir.Value)
	return out, nil
}

// APIKeyForProvider returns the key for a provider name or provider/model
// value, falling back to a key configured without a provider.
func (r ResolvedConfig) APIKeyForProvider(providerOrModel string) ResolvedValue {
	provider := providerOf(providerOrModel)
	if provider == "" {
		return ResolvedValue{}
	}
	if v, ok := r.LLMKeys[provider]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	if v, ok := r.LLMKeys["default"]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	return ResolvedValue{}
}

func mergeIngest(dst *IngestDefaults, src IngestDefaults) {
	if src.Rounds > 0 {
		dst.Rounds = src.Rounds
	}
	if src.AutoNextMax > 0 {
		dst.AutoNextMax = src.AutoNextMax
	}
	dst.Strict = src.Strict
	if src.Expand != nil {
		dst.Expand = src.Expand
	}
	if d := strings.TrimSpace(src.Domain); d != "" {
		dst.Domain = d
	}
}

// cleanCharacters drops unnamed entries and duplicate names, keeping file
// order.
func cleanCharacters(in []Character) []Character {
	seen := map[string]bool{}
	var out []Character
	for _, c := range in {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" || seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		out = append(out, c)
	}
	return out
}

func providerOf(providerOrModel string) string {
	v := strings.ToLower(strings.TrimSpace(providerOrModel))
	if idx := strings.Index(v, "/"); idx > 0 {
		return v[:idx]
	}
	return v
}

func defaultValue(v string) ResolvedValue {
	return ResolvedValue{Value: v, Source: SourceDefault, From: "built-in default"}
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(ExpandUserPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// ExpandUserPath replaces a leading "~/" with the home directory.
func ExpandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
