package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv keeps a developer's shell or .env from leaking into the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"GRADER_CONFIG", "PORT", "LOG_LEVEL", "LOG_FORMAT", "DEFAULT_BACKEND",
		"GEMINI_API_KEY", "GEMINI_MODEL", "GEMINI_MAX_OUTPUT_TOKENS",
		"OPENAI_API_KEY", "OPENAI_MODEL", "OPENAI_BASE_URL", "OPENAI_TIMEOUT",
		"DATABASE_URL", "TELEGRAM_BOT_TOKEN", "WEBHOOK_URL",
		"REQUEST_TIMEOUT", "MAX_INPUT_BYTES",
	} {
		t.Setenv(k, "")
	}
	t.Chdir(t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, "gemini", cfg.DefaultBackend)
	assert.Equal(t, int64(20<<20), cfg.MaxInputBytes)
	assert.Equal(t, int32(8192), cfg.Gemini.MaxOutputTokens)
	assert.Equal(t, "https://api.openai.com/v1", cfg.OpenAI.BaseURL)
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "grader.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9000"
default_backend: gpt
request_timeout: 45s
gemini:
  model: gemini-from-file
openai:
  model: gpt-from-file
  base_url: http://localhost:11434/v1
`), 0o644))
	t.Setenv("GRADER_CONFIG", path)
	t.Setenv("OPENAI_MODEL", "gpt-from-env")
	t.Setenv("MAX_INPUT_BYTES", "1048576")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "gpt", cfg.DefaultBackend)
	assert.Equal(t, 45*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "gemini-from-file", cfg.Gemini.Model)
	assert.Equal(t, "gpt-from-env", cfg.OpenAI.Model)
	assert.Equal(t, "http://localhost:11434/v1", cfg.OpenAI.BaseURL)
	assert.Equal(t, int64(1<<20), cfg.MaxInputBytes)
	// untouched by the file
	assert.Equal(t, 120*time.Second, cfg.OpenAI.Timeout)
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	require.NoError(t, os.WriteFile(".env", []byte("GEMINI_API_KEY=from-dotenv\n"), 0o644))
	// godotenv does not override variables that are already set, even empty ones
	require.NoError(t, os.Unsetenv("GEMINI_API_KEY"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Gemini.APIKey)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := map[string]string{
		"REQUEST_TIMEOUT":          "soon",
		"MAX_INPUT_BYTES":          "lots",
		"DEFAULT_BACKEND":          "claude",
		"OPENAI_BASE_URL":          "api.openai.com",
		"GEMINI_MAX_OUTPUT_TOKENS": "4294967297", // wraps to 1 as an int32
	}
	for k, v := range tests {
		t.Run(k, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(k, v)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadMaxOutputTokens(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_MAX_OUTPUT_TOKENS", "16384")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int32(16384), cfg.Gemini.MaxOutputTokens)
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.RequestTimeout = 0
	cfg.MaxInputBytes = -1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request_timeout")
	assert.Contains(t, err.Error(), "max_input_bytes")
}
