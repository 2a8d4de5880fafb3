package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talkxo/sequence-email/internal/dispatch"
)

type Config struct {
	LogLevel      string `json:"log_level" yaml:"log_level"`
	Listen        string `json:"listen" yaml:"listen"`
	MaxConcurrent int    `json:"max_concurrent" yaml:"max_concurrent"`
	StatsSchedule string `json:"stats_schedule" yaml:"stats_schedule"`
	LLM           struct {
		BaseURL               string   `json:"base_url" yaml:"base_url"`
		APIKeys               []string `json:"api_keys" yaml:"api_keys"`
		Referer               string   `json:"referer" yaml:"referer"`
		Title                 string   `json:"title" yaml:"title"`
		AttemptTimeoutSeconds int      `json:"attempt_timeout_seconds" yaml:"attempt_timeout_seconds"`
		Encoding              string   `json:"encoding" yaml:"encoding"`
	} `json:"llm" yaml:"llm"`
	Generation struct {
		MaxTokens    int     `json:"max_tokens" yaml:"max_tokens"`
		Temperature  float32 `json:"temperature" yaml:"temperature"`
		Attempts     int     `json:"attempts" yaml:"attempts"`
		RetryDelayMS int     `json:"retry_delay_ms" yaml:"retry_delay_ms"`
	} `json:"generation" yaml:"generation"`
}

// keyEnv lists the environment variables that supply credentials, in slot
// order.
var keyEnv = []string{
	"OPENROUTER_API_KEY",
	"OPENROUTER_API_KEY_2",
	"OPENROUTER_API_KEY_3",
	"OPENROUTER_API_KEY_4",
}

var credentialNames = []string{"Primary", "Secondary", "Tertiary", "Quaternary"}

// DefaultPath is ~/.nurture/config.json.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".nurture", "config.json")
}

func defaults() *Config {
	cfg := &Config{
		LogLevel:      "info",
		Listen:        ":8080",
		MaxConcurrent: 2,
		StatsSchedule: "@every 5m",
	}
	cfg.LLM.BaseURL = "https://openrouter.ai/api/v1"
	cfg.LLM.APIKeys = []string{}
	cfg.LLM.Title = "Email Nurture Generator"
	cfg.LLM.Encoding = "cl100k_base"
	cfg.Generation.MaxTokens = 120
	cfg.Generation.Temperature = 0.3
	cfg.Generation.Attempts = 2
	cfg.Generation.RetryDelayMS = 500
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	cfg.LLM.APIKeys = overrideKeys(cfg.LLM.APIKeys)
	if baseURL := os.Getenv("OPENROUTER_BASE_URL"); baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}

	return cfg, nil
}

// overrideKeys replaces each configured key whose slot has an environment
// variable set.
func overrideKeys(keys []string) []string {
	out := append([]string(nil), keys...)
	for i, name := range keyEnv {
		v := strings.TrimSpace(os.Getenv(name))
		if v == "" {
			continue
		}
		for len(out) <= i {
			out = append(out, "")
		}
		out[i] = v
	}
	return out
}

// Credentials returns the configured API keys as named pool entries. Blank
// slots are skipped but keep their position-based name.
func (c *Config) Credentials() []dispatch.Credential {
	var creds []dispatch.Credential
	for i, key := range c.LLM.APIKeys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		name := fmt.Sprintf("Key %d", i+1)
		if i < len(credentialNames) {
			name = credentialNames[i]
		}
		creds = append(creds, dispatch.Credential{Name: name, Secret: key})
	}
	return creds
}

// AttemptTimeout is the per-attempt dispatch deadline, zero when unset.
func (c *Config) AttemptTimeout() time.Duration {
	return time.Duration(c.LLM.AttemptTimeoutSeconds) * time.Second
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Generation.RetryDelayMS) * time.Millisecond
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func decode(path string, data []byte, v any) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}

func encode(path string, v any) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(v)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	return writeFile(path, cfg)
}

func writeFile(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := encode(path, v)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg to a nested map keyed by the JSON field names.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues returns every config value under its dot-separated key,
// optionally with secrets masked.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m := map[string]any{}
	if err := decode(path, data, &m); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// GetValue reads one dot-separated key from the file at path. The file is
// created with defaults if missing.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	m, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(m)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue writes one dot-separated key to the existing file at path.
// Values that parse as JSON (numbers, booleans, lists) are stored typed;
// anything else is stored as a string.
func SetValue(path, key, value string) error {
	m, err := readRaw(path)
	if err != nil {
		return err
	}
	flat := Flatten(m)
	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}
	flat[key] = parsed
	return writeFile(path, Unflatten(flat))
}
