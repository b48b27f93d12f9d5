// Package config manages Cortex configuration from the environment and from
// the operator-maintained JSON files in the config directory.
//
// Configuration sources:
//   - environment (optionally seeded from .env): tokens, intervals, paths
//   - services.json: per-service business context injected into prompts
//   - autonomy.json: per-service action capabilities and forbidden actions
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all environment-driven settings.
type Config struct {
	// HTTP surface
	ListenAddr string
	APIToken   string

	// LLM
	AnthropicAPIKey string
	ClaudeModel     string
	MaxTurns        int

	// Platform (Railway)
	RailwayToken  string
	ProjectID     string
	EnvironmentID string

	// Code host (GitHub)
	GitHubToken string

	// Paths
	DBPath    string
	ConfigDir string
	DocsDir   string

	// Scheduling
	MonitorInterval   time.Duration
	DiscoveryInterval time.Duration

	// Notifications
	NotifyURLs []string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded environment from .env")
	}

	cfg := &Config{
		ListenAddr:        envString("CORTEX_LISTEN_ADDR", ":8080"),
		APIToken:          os.Getenv("CORTEX_API_TOKEN"),
		AnthropicAPIKey:   os.Getenv("ANTHROPIC_API_KEY"),
		ClaudeModel:       envString("CLAUDE_MODEL", "claude-sonnet-4-20250514"),
		MaxTurns:          envInt("CORTEX_MAX_DIAGNOSIS_TURNS", 8),
		RailwayToken:      os.Getenv("RAILWAY_TOKEN"),
		ProjectID:         os.Getenv("RAILWAY_PROJECT_ID"),
		EnvironmentID:     os.Getenv("RAILWAY_ENVIRONMENT_ID"),
		GitHubToken:       os.Getenv("GITHUB_TOKEN"),
		DBPath:            envString("CORTEX_DB_PATH", "/data/cortex.db"),
		ConfigDir:         envString("CORTEX_CONFIG_DIR", "/data/config"),
		DocsDir:           envString("CORTEX_DOCS_DIR", "/data/docs"),
		MonitorInterval:   envSeconds("CORTEX_MONITOR_INTERVAL", 300),
		DiscoveryInterval: envSeconds("CORTEX_DISCOVERY_INTERVAL", 3600),
		NotifyURLs:        envList("CORTEX_NOTIFY_URLS"),
		LogLevel:          envString("LOG_LEVEL", "info"),
		LogFormat:         envString("LOG_FORMAT", "auto"),
	}

	if cfg.MaxTurns < 0 {
		return nil, fmt.Errorf("CORTEX_MAX_DIAGNOSIS_TURNS must be >= 0, got %d", cfg.MaxTurns)
	}

	if cfg.APIToken == "" {
		log.Warn().Msg("CORTEX_API_TOKEN not set; API runs unauthenticated")
	}
	if cfg.AnthropicAPIKey == "" {
		log.Warn().Msg("ANTHROPIC_API_KEY not set; investigations will fail")
	}
	if cfg.RailwayToken == "" {
		log.Warn().Msg("RAILWAY_TOKEN not set; platform discovery disabled")
	}
	if cfg.GitHubToken == "" {
		log.Warn().Msg("GITHUB_TOKEN not set; code discovery and PR proposals disabled")
	}

	return cfg, nil
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("Invalid integer in environment, using default")
		return fallback
	}
	return n
}

func envSeconds(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Second
}

func envList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
