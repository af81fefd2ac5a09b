package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Preferences holds user-configurable settings.
// Persisted to ~/.config/streamd/config.json.
type Preferences struct {
	Model string `json:"model,omitempty"`

	AnthropicAPIKey  string `json:"anthropic_api_key,omitempty"`
	PerplexityAPIKey string `json:"perplexity_api_key,omitempty"`
	BraveAPIKey      string `json:"brave_api_key,omitempty"`

	BindAddress string `json:"bind_address,omitempty"`
	LogLevel    string `json:"log_level,omitempty"`
}

// DefaultPreferences returns the default set of preferences.
func DefaultPreferences() Preferences {
	return Preferences{}
}

// LoadPreferences reads preferences from ~/.config/streamd/config.json.
// A missing or unreadable file yields the defaults.
func LoadPreferences() Preferences {
	dir := ConfigDir()
	if dir == "" {
		return DefaultPreferences()
	}

	configPath := filepath.Join(dir, "config.json")
	p := DefaultPreferences()

	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, &p); err != nil {
			fmt.Fprintf(os.Stderr, "config: parse %s: %v\n", configPath, err)
		}
		warnInsecurePermissions(configPath)
	}

	if sanitizePreferences(&p) {
		// Persist cleaned values so null bytes don't accumulate across restarts.
		if err := SavePreferences(p); err != nil {
			fmt.Fprintf(os.Stderr, "config: save sanitized config: %v\n", err)
		}
	}

	return p
}

// SavePreferences writes preferences to ~/.config/streamd/config.json.
func SavePreferences(p Preferences) error {
	dir := ConfigDir()
	if dir == "" {
		return fmt.Errorf("could not determine config directory")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0o600)
}

// sanitizePreferences strips control bytes that occasionally leak into config
// files from shell mishaps. Returns true if anything changed.
func sanitizePreferences(p *Preferences) bool {
	changed := false
	clean := func(s *string) {
		c := strings.Map(func(r rune) rune {
			if r == 0 || r == '\r' || r == '\n' {
				return -1
			}
			return r
		}, *s)
		if c != *s {
			*s = c
			changed = true
		}
	}
	clean(&p.Model)
	clean(&p.AnthropicAPIKey)
	clean(&p.PerplexityAPIKey)
	clean(&p.BraveAPIKey)
	clean(&p.BindAddress)
	clean(&p.LogLevel)
	return changed
}

// warnInsecurePermissions prints a warning to stderr if the config file is
// readable by group or others. On Windows, file permission bits don't map
// to ACLs, so the check is skipped.
func warnInsecurePermissions(path string) {
	if runtime.GOOS == "windows" {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.Mode().Perm()&0o077 != 0 {
		fmt.Fprintf(os.Stderr, "WARNING: %s is readable by others (mode %o). Run: chmod 600 %s\n",
			path, info.Mode().Perm(), path)
	}
}
