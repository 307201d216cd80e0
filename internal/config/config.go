package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for mathbot.
type Config struct {
	General    GeneralConfig    `json:"general" yaml:"general"`
	Model      ModelConfig      `json:"model" yaml:"model"`
	Gateway    GatewayConfig    `json:"gateway" yaml:"gateway"`
	Prompt     PromptConfig     `json:"prompt" yaml:"prompt"`
	Classifier ClassifierConfig `json:"classifier" yaml:"classifier"`
	Dispatch   DispatchConfig   `json:"dispatch" yaml:"dispatch"`
	Plot       PlotConfig       `json:"plot" yaml:"plot"`
	Channels   ChannelsConfig   `json:"channels" yaml:"channels"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel  string `json:"logLevel" yaml:"logLevel" validate:"oneof=debug info warn error"`
	LogFormat string `json:"logFormat" yaml:"logFormat" validate:"oneof=text json"`
	LogFile   string `json:"logFile,omitempty" yaml:"logFile,omitempty"` // optional log file path
}

// ModelConfig selects the inference backend. It is read once at startup.
type ModelConfig struct {
	Backend   string `json:"backend" yaml:"backend" validate:"oneof=anthropic openai gemini"`
	Name      string `json:"name,omitempty" yaml:"name,omitempty"` // empty = backend default
	APIKey    string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	BaseURL   string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty" validate:"omitempty,url"` // OpenAI-compatible endpoints, e.g. Ollama
	MaxTokens int    `json:"maxTokens" yaml:"maxTokens" validate:"min=1,max=65536"`
}

type GatewayConfig struct {
	TimeoutSeconds         int    `json:"timeoutSeconds" yaml:"timeoutSeconds" validate:"min=1,max=600"`
	BreakerFailures        uint32 `json:"breakerFailures" yaml:"breakerFailures" validate:"max=100"` // 0 = disabled
	BreakerCooldownSeconds int    `json:"breakerCooldownSeconds" yaml:"breakerCooldownSeconds" validate:"min=1,max=3600"`
}

type PromptConfig struct {
	SystemPromptExtra string `json:"systemPromptExtra,omitempty" yaml:"systemPromptExtra,omitempty"` // appended to the system prompt
	MaxContextTokens  int    `json:"maxContextTokens" yaml:"maxContextTokens" validate:"min=256,max=200000"`
	HistoryEnabled    bool   `json:"historyEnabled" yaml:"historyEnabled"` // fetch thread history from the transport
	MaxHistoryTurns   int    `json:"maxHistoryTurns" yaml:"maxHistoryTurns" validate:"min=0,max=200"`
	ReferenceFacts    bool   `json:"referenceFacts" yaml:"referenceFacts"` // append locally computed complexity/statistics facts
}

type ClassifierConfig struct {
	ExtraKeywords []string `json:"extraKeywords,omitempty" yaml:"extraKeywords,omitempty" validate:"dive,required"`
}

type DispatchConfig struct {
	Workers            int  `json:"workers" yaml:"workers" validate:"min=1,max=100"`
	BusBuffer          int  `json:"busBuffer" yaml:"busBuffer" validate:"min=1,max=10000"`
	AnswerMentions     bool `json:"answerMentions" yaml:"answerMentions"` // direct events bypass the classifier
	Acknowledge        bool `json:"acknowledge" yaml:"acknowledge"`
	RateLimitPerMinute int  `json:"rateLimitPerMinute" yaml:"rateLimitPerMinute" validate:"min=0,max=600"` // 0 = disabled
	RateLimitBurst     int  `json:"rateLimitBurst" yaml:"rateLimitBurst" validate:"min=0,max=100"`
}

type PlotConfig struct {
	Enabled      bool    `json:"enabled" yaml:"enabled"`
	WidthInches  float64 `json:"widthInches" yaml:"widthInches" validate:"gt=0,lte=40"`
	HeightInches float64 `json:"heightInches" yaml:"heightInches" validate:"gt=0,lte=40"`
}

type ChannelsConfig struct {
	Slack    SlackConfig    `json:"slack" yaml:"slack"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	CLI      CLIConfig      `json:"cli" yaml:"cli"`
}

type SlackConfig struct {
	Enabled           bool     `json:"enabled" yaml:"enabled"`
	BotToken          string   `json:"botToken" yaml:"botToken"`
	AppToken          string   `json:"appToken" yaml:"appToken"` // required for Socket Mode
	AckReaction       string   `json:"ackReaction" yaml:"ackReaction"`
	QuestionReactions []string `json:"questionReactions" yaml:"questionReactions"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled" yaml:"enabled"`
	Token     string         `json:"token" yaml:"token"`
	AllowFrom FlexStringList `json:"allowFrom" yaml:"allowFrom"`
	ParseMode string         `json:"parseMode" yaml:"parseMode" validate:"omitempty,oneof=Markdown MarkdownV2 HTML"`
}

type CLIConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// MetricsConfig configures the ops HTTP server (health and Prometheus metrics).
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Addr     string `json:"addr" yaml:"addr" validate:"omitempty,hostname_port"`
	Endpoint string `json:"endpoint" yaml:"endpoint" validate:"startswith=/"`
}

// FlexStringList is a []string that can unmarshal from arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	// Fallback: array of mixed types
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

func (f *FlexStringList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: expected a list", node.Line)
	}
	result := make([]string, 0, len(node.Content))
	for _, item := range node.Content {
		if item.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: expected a scalar", item.Line)
		}
		result = append(result, item.Value)
	}
	*f = result
	return nil
}

// Contains reports whether s is in the list.
func (f FlexStringList) Contains(s string) bool {
	for _, v := range f {
		if v == s {
			return true
		}
	}
	return false
}

// DefaultConfigDir returns the default config directory (~/.mathbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mathbot"
	}
	return filepath.Join(home, ".mathbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load reads the file at path (YAML, or JSON for *.json), expands
// ${VAR} references, applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	ApplyEnv(cfg, os.LookupEnv)
	if cfg.Model.Name == "" {
		cfg.Model.Name = DefaultModelName(cfg.Model.Backend)
	}
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if isJSON(path) {
		return json.Unmarshal(data, cfg)
	}
	return yaml.Unmarshal(data, cfg)
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// envOverrides maps environment variables onto config fields. Later entries
// win, so MODEL_API_KEY beats the backend-specific keys.
var envOverrides = []struct {
	name  string
	apply func(cfg *Config, v string)
}{
	{"SLACK_BOT_TOKEN", func(c *Config, v string) { c.Channels.Slack.BotToken = v }},
	{"SLACK_APP_TOKEN", func(c *Config, v string) { c.Channels.Slack.AppToken = v }},
	{"TELEGRAM_BOT_TOKEN", func(c *Config, v string) { c.Channels.Telegram.Token = v }},
	{"MODEL_BACKEND", func(c *Config, v string) { c.Model.Backend = strings.ToLower(v) }},
	{"MODEL_NAME", func(c *Config, v string) { c.Model.Name = v }},
	{"MODEL_BASE_URL", func(c *Config, v string) { c.Model.BaseURL = v }},
	{"LOG_LEVEL", func(c *Config, v string) { c.General.LogLevel = strings.ToLower(v) }},
	{"ANTHROPIC_API_KEY", backendKey("anthropic")},
	{"OPENAI_API_KEY", backendKey("openai")},
	{"GEMINI_API_KEY", backendKey("gemini")},
	{"MODEL_API_KEY", func(c *Config, v string) { c.Model.APIKey = v }},
}

func backendKey(backend string) func(*Config, string) {
	return func(c *Config, v string) {
		if c.Model.Backend == backend && c.Model.APIKey == "" {
			c.Model.APIKey = v
		}
	}
}

// ApplyEnv overlays environment variables on cfg. Empty values are ignored.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	for _, o := range envOverrides {
		if v, ok := lookup(o.name); ok && strings.TrimSpace(v) != "" {
			o.apply(cfg, strings.TrimSpace(v))
		}
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

// Save writes cfg to path, as JSON for *.json and YAML otherwise.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isJSON(path) {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
