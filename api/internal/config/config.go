package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port      string `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	DefaultBackend string        `yaml:"default_backend"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxInputBytes  int64         `yaml:"max_input_bytes"`

	Gemini GeminiConfig `yaml:"gemini"`
	OpenAI OpenAIConfig `yaml:"openai"`

	DatabaseURL      string `yaml:"database_url"`
	TelegramBotToken string `yaml:"telegram_bot_token"`
	WebhookURL       string `yaml:"webhook_url"`
}

type GeminiConfig struct {
	APIKey          string `yaml:"api_key"`
	Model           string `yaml:"model"`
	MaxOutputTokens int32  `yaml:"max_output_tokens"`
}

type OpenAIConfig struct {
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

func Defaults() *Config {
	return &Config{
		Port:           "8000",
		LogLevel:       "info",
		LogFormat:      "json",
		DefaultBackend: "gemini",
		RequestTimeout: 180 * time.Second,
		MaxInputBytes:  20 << 20,
		Gemini: GeminiConfig{
			Model:           "gemini-2.5-flash",
			MaxOutputTokens: 8192,
		},
		OpenAI: OpenAIConfig{
			Model:   "gpt-4o",
			BaseURL: "https://api.openai.com/v1",
			Timeout: 120 * time.Second,
		},
	}
}

// Load reads .env (if present), the YAML file named by GRADER_CONFIG (if set),
// then environment overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv("GRADER_CONFIG")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Port = getEnv("PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.DefaultBackend = getEnv("DEFAULT_BACKEND", c.DefaultBackend)

	c.Gemini.APIKey = getEnv("GEMINI_API_KEY", c.Gemini.APIKey)
	c.Gemini.Model = getEnv("GEMINI_MODEL", c.Gemini.Model)
	c.OpenAI.APIKey = getEnv("OPENAI_API_KEY", c.OpenAI.APIKey)
	c.OpenAI.Model = getEnv("OPENAI_MODEL", c.OpenAI.Model)
	c.OpenAI.BaseURL = getEnv("OPENAI_BASE_URL", c.OpenAI.BaseURL)

	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", c.TelegramBotToken)
	c.WebhookURL = getEnv("WEBHOOK_URL", c.WebhookURL)

	var err error
	if c.RequestTimeout, err = getEnvDuration("REQUEST_TIMEOUT", c.RequestTimeout); err != nil {
		return err
	}
	if c.OpenAI.Timeout, err = getEnvDuration("OPENAI_TIMEOUT", c.OpenAI.Timeout); err != nil {
		return err
	}
	if c.MaxInputBytes, err = getEnvInt64("MAX_INPUT_BYTES", c.MaxInputBytes); err != nil {
		return err
	}
	if c.Gemini.MaxOutputTokens, err = getEnvInt32("GEMINI_MAX_OUTPUT_TOKENS", c.Gemini.MaxOutputTokens); err != nil {
		return err
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.DefaultBackend) {
	case "gemini", "gpt", "openai":
	default:
		errs = append(errs, fmt.Errorf("default_backend %q: want gemini or gpt", c.DefaultBackend))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request_timeout must be > 0"))
	}
	if c.MaxInputBytes <= 0 {
		errs = append(errs, errors.New("max_input_bytes must be > 0"))
	}
	if c.Gemini.MaxOutputTokens <= 0 {
		errs = append(errs, errors.New("gemini max_output_tokens must be > 0"))
	}
	if !strings.HasPrefix(c.OpenAI.BaseURL, "http://") && !strings.HasPrefix(c.OpenAI.BaseURL, "https://") {
		errs = append(errs, fmt.Errorf("openai base_url %q is not an http(s) URL", c.OpenAI.BaseURL))
	}
	return errors.Join(errs...)
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getEnvInt64(k string, def int64) (int64, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("env %s: %w", k, err)
	}
	return n, nil
}

func getEnvInt32(k string, def int32) (int32, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("env %s: %w", k, err)
	}
	return int32(n), nil
}

func getEnvDuration(k string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("env %s: %w", k, err)
	}
	return d, nil
}
