// Package config resolves streamd's directories, preferences, API keys, and
// process logger.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// configDirOverride is set by tests to redirect ConfigDir.
var configDirOverride string

// ConfigDir returns the config directory for streamd.
func ConfigDir() string {
	if configDirOverride != "" {
		return configDirOverride
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "streamd")
}

// DataDir returns ~/.local/share/streamd, creating it if needed.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".local", "share", "streamd")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// AnthropicAPIKey resolves the Anthropic key: environment variable first,
// then preferences.
func AnthropicAPIKey(prefs Preferences) (string, error) {
	if key := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); key != "" {
		return key, nil
	}
	if key := strings.TrimSpace(prefs.AnthropicAPIKey); key != "" {
		return key, nil
	}
	return "", fmt.Errorf("no Anthropic API key found: set ANTHROPIC_API_KEY or anthropic_api_key in config.json")
}

// PerplexityAPIKey resolves the Perplexity key: environment variable first,
// then preferences. An empty key disables the Perplexity pipeline.
func PerplexityAPIKey(prefs Preferences) string {
	if key := strings.TrimSpace(os.Getenv("PERPLEXITY_API_KEY")); key != "" {
		return key
	}
	return strings.TrimSpace(prefs.PerplexityAPIKey)
}

// BraveAPIKey resolves the Brave Search key backing the web_search tool.
func BraveAPIKey(prefs Preferences) string {
	if key := strings.TrimSpace(os.Getenv("BRAVE_SEARCH_API_KEY")); key != "" {
		return key
	}
	return strings.TrimSpace(prefs.BraveAPIKey)
}
