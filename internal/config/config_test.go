package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAnthropicAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	// Preferences fallback.
	key, err := AnthropicAPIKey(Preferences{AnthropicAPIKey: "pref-key"})
	if err != nil {
		t.Fatalf("AnthropicAPIKey: %v", err)
	}
	if key != "pref-key" {
		t.Errorf("key = %q, want pref-key", key)
	}

	// Env wins over preferences.
	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	key, err = AnthropicAPIKey(Preferences{AnthropicAPIKey: "pref-key"})
	if err != nil {
		t.Fatalf("AnthropicAPIKey: %v", err)
	}
	if key != "env-key" {
		t.Errorf("key = %q, want env-key", key)
	}
}

func TestAnthropicAPIKey_missing(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := AnthropicAPIKey(Preferences{})
	if err == nil {
		t.Fatal("expected error when no key is configured")
	}
	if !strings.Contains(err.Error(), "ANTHROPIC_API_KEY") {
		t.Errorf("error = %v", err)
	}
}

func TestPerplexityAPIKey(t *testing.T) {
	t.Setenv("PERPLEXITY_API_KEY", "")
	if got := PerplexityAPIKey(Preferences{}); got != "" {
		t.Errorf("key = %q, want empty", got)
	}
	if got := PerplexityAPIKey(Preferences{PerplexityAPIKey: " pref "}); got != "pref" {
		t.Errorf("key = %q, want pref", got)
	}
	t.Setenv("PERPLEXITY_API_KEY", "env")
	if got := PerplexityAPIKey(Preferences{PerplexityAPIKey: "pref"}); got != "env" {
		t.Errorf("key = %q, want env", got)
	}
}

func TestBraveAPIKey(t *testing.T) {
	t.Setenv("BRAVE_SEARCH_API_KEY", "env-brave")
	if got := BraveAPIKey(Preferences{BraveAPIKey: "pref"}); got != "env-brave" {
		t.Errorf("key = %q, want env-brave", got)
	}
}

func TestConfigDirOverride(t *testing.T) {
	orig := configDirOverride
	configDirOverride = "/tmp/streamd-test"
	defer func() { configDirOverride = orig }()

	if got := ConfigDir(); got != "/tmp/streamd-test" {
		t.Errorf("ConfigDir() = %q", got)
	}
}

func TestLoadSavePreferences_roundTrip(t *testing.T) {
	orig := configDirOverride
	configDirOverride = t.TempDir()
	defer func() { configDirOverride = orig }()

	want := Preferences{
		Model:            "claude-sonnet-4-5",
		AnthropicAPIKey:  "sk-test",
		PerplexityAPIKey: "pplx-test",
		LogLevel:         "debug",
	}
	if err := SavePreferences(want); err != nil {
		t.Fatalf("SavePreferences: %v", err)
	}

	got := LoadPreferences()
	if got != want {
		t.Errorf("LoadPreferences = %+v, want %+v", got, want)
	}

	// Saved with owner-only permissions.
	info, err := os.Stat(filepath.Join(configDirOverride, "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("config.json mode = %o, want 600", info.Mode().Perm())
	}
}

func TestLoadPreferences_missingFile(t *testing.T) {
	orig := configDirOverride
	configDirOverride = t.TempDir()
	defer func() { configDirOverride = orig }()

	got := LoadPreferences()
	if got != DefaultPreferences() {
		t.Errorf("LoadPreferences = %+v, want defaults", got)
	}
}

func TestLoadPreferences_sanitizesControlBytes(t *testing.T) {
	orig := configDirOverride
	configDirOverride = t.TempDir()
	defer func() { configDirOverride = orig }()

	data := `{"anthropic_api_key":"sk-test\n"}`
	if err := os.WriteFile(filepath.Join(configDirOverride, "config.json"), []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	got := LoadPreferences()
	if got.AnthropicAPIKey != "sk-test" {
		t.Errorf("key = %q, want sk-test", got.AnthropicAPIKey)
	}
}

func TestLoadPreferences_badJSON(t *testing.T) {
	orig := configDirOverride
	configDirOverride = t.TempDir()
	defer func() { configDirOverride = orig }()

	if err := os.WriteFile(filepath.Join(configDirOverride, "config.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	// Parse failure falls back to defaults rather than aborting.
	got := LoadPreferences()
	if got != DefaultPreferences() {
		t.Errorf("LoadPreferences = %+v, want defaults", got)
	}
}
