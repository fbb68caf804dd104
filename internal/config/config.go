// Package config resolves the process-wide startup configuration from the
// environment and optional env files. An .env.local file takes precedence
// over .env, and variables already present in the environment win over both.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/doerhq/bridge/internal/files"
	"github.com/joho/godotenv"
)

const (
	DefaultPort     = 3003
	DefaultProvider = "openai"
	DefaultAgentBin = "doer"
)

type Config struct {
	Port     int
	Provider string
	AgentBin string

	OpenAIModel string
	GeminiModel string
	ClaudeModel string

	OpenAIKey string
	GeminiKey string
	ClaudeKey string
}

// Load reads env files found in dir or any of its ancestors and resolves the
// configuration. Missing files are fine; the environment alone is enough.
func Load(dir string) (*Config, error) {
	// godotenv.Load never overrides variables that are already set, so
	// loading .env.local first gives it precedence over .env.
	for _, name := range []string{".env.local", ".env"} {
		path := files.FindUp(name, dir)
		if path == "" {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}

	portStr := getenvDefault("SERVER_PORT", strconv.Itoa(DefaultPort))
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("parsing SERVER_PORT %q: %w", portStr, err)
	}

	return &Config{
		Port:     port,
		Provider: strings.ToLower(getenvDefault("AI_PROVIDER", DefaultProvider)),
		AgentBin: getenvDefault("DOER_BIN", DefaultAgentBin),

		OpenAIModel: getenvDefault("OPENAI_MODEL", "o3-mini-2025-01-31"),
		GeminiModel: getenvDefault("GEMINI_MODEL", "gemini-2.0-flash"),
		ClaudeModel: getenvDefault("CLAUDE_MODEL", "claude-3-7-sonnet-20250219"),

		OpenAIKey: os.Getenv("OPENAI_API_KEY"),
		GeminiKey: os.Getenv("GEMINI_API_KEY"),
		ClaudeKey: os.Getenv("CLAUDE_API_KEY"),
	}, nil
}

// ModelName returns the model configured for the selected provider.
func (c *Config) ModelName() string {
	switch c.Provider {
	case "gemini":
		return c.GeminiModel
	case "claude":
		return c.ClaudeModel
	default:
		return c.OpenAIModel
	}
}

// APIKey returns the API key for the selected provider. A missing key is not
// an error; callers should warn and continue.
func (c *Config) APIKey() string {
	switch c.Provider {
	case "gemini":
		return c.GeminiKey
	case "claude":
		return c.ClaudeKey
	default:
		return c.OpenAIKey
	}
}

// KeyEnvVar names the environment variable holding the selected provider's
// API key, for warning messages.
func (c *Config) KeyEnvVar() string {
	switch c.Provider {
	case "gemini":
		return "GEMINI_API_KEY"
	case "claude":
		return "CLAUDE_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
