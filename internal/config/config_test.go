package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets keys for the duration of the test. t.Setenv registers the
// restore; the keys may also be set as a side effect of godotenv loading.
func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func allConfigKeys() []string {
	return []string{
		"SERVER_PORT", "AI_PROVIDER", "DOER_BIN",
		"OPENAI_MODEL", "GEMINI_MODEL", "CLAUDE_MODEL",
		"OPENAI_API_KEY", "GEMINI_API_KEY", "CLAUDE_API_KEY",
	}
}

func writeFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0644))
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t, allConfigKeys()...)

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultProvider, cfg.Provider)
	assert.Equal(t, DefaultAgentBin, cfg.AgentBin)
	assert.Equal(t, "o3-mini-2025-01-31", cfg.OpenAIModel)
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t, allConfigKeys()...)

	dir := t.TempDir()
	writeFile(t, dir, ".env", "SERVER_PORT=4000\nAI_PROVIDER=Gemini\n")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, "gemini", cfg.Provider)
}

func TestLocalFileTakesPrecedence(t *testing.T) {
	clearEnv(t, allConfigKeys()...)

	dir := t.TempDir()
	writeFile(t, dir, ".env", "SERVER_PORT=4000\nAI_PROVIDER=claude\n")
	writeFile(t, dir, ".env.local", "SERVER_PORT=5000\n")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Port)
	// Variables only in .env still apply.
	assert.Equal(t, "claude", cfg.Provider)
}

func TestRealEnvironmentWinsOverFiles(t *testing.T) {
	clearEnv(t, allConfigKeys()...)
	t.Setenv("SERVER_PORT", "6000")

	dir := t.TempDir()
	writeFile(t, dir, ".env", "SERVER_PORT=4000\n")
	writeFile(t, dir, ".env.local", "SERVER_PORT=5000\n")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 6000, cfg.Port)
}

func TestEnvFileFoundInAncestorDir(t *testing.T) {
	clearEnv(t, allConfigKeys()...)

	dir := t.TempDir()
	writeFile(t, dir, ".env", "SERVER_PORT=4000\n")
	nested := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	cfg, err := Load(nested)
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Port)
}

func TestInvalidPort(t *testing.T) {
	clearEnv(t, allConfigKeys()...)
	t.Setenv("SERVER_PORT", "not-a-port")

	_, err := Load(t.TempDir())
	require.Error(t, err)
}

func TestProviderHelpers(t *testing.T) {
	cases := []struct {
		provider  string
		expModel  string
		expKeyVar string
	}{
		{provider: "openai", expModel: "o3-mini-2025-01-31", expKeyVar: "OPENAI_API_KEY"},
		{provider: "gemini", expModel: "gemini-2.0-flash", expKeyVar: "GEMINI_API_KEY"},
		{provider: "claude", expModel: "claude-3-7-sonnet-20250219", expKeyVar: "CLAUDE_API_KEY"},
		// Unknown providers fall back to OpenAI, matching the loader's
		// treatment of AI_PROVIDER.
		{provider: "something-else", expModel: "o3-mini-2025-01-31", expKeyVar: "OPENAI_API_KEY"},
	}
	for _, c := range cases {
		t.Run(c.provider, func(t *testing.T) {
			clearEnv(t, allConfigKeys()...)
			t.Setenv("AI_PROVIDER", c.provider)

			cfg, err := Load(t.TempDir())
			require.NoError(t, err)
			assert.Equal(t, c.expModel, cfg.ModelName())
			assert.Equal(t, c.expKeyVar, cfg.KeyEnvVar())
			assert.Empty(t, cfg.APIKey())
		})
	}
}

func TestAPIKeyFromEnvironment(t *testing.T) {
	clearEnv(t, allConfigKeys()...)
	t.Setenv("AI_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "secret")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.APIKey())
}
