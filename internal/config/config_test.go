package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"UTA_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY", "UTA_MODEL", "UTA_BACKEND", "UTA_DEVICE"} {
		t.Setenv(k, "")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Loop.MaxTurn != 20 || cfg.Loop.Settle != 2*time.Second || cfg.Loop.MaxAppAttempts != 3 {
		t.Errorf("Unexpected loop defaults: %+v", cfg.Loop)
	}
	if cfg.Oracle.Retries != 0 {
		t.Errorf("Expected no oracle retries by default, got %d", cfg.Oracle.Retries)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("SECRET_FROM_ENV", "sk-file")
	t.Setenv("UTA_DEVICE", "emulator-5554")

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
oracle:
  backend: openai
  model: gpt-4o-mini
  api_key: ${SECRET_FROM_ENV}
  timeout: 45s
loop:
  max_turn: 7
  settle: 500ms
scheduler:
  devices: [a, b]
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Oracle.APIKey != "sk-file" {
		t.Errorf("Expected expanded api key, got %q", cfg.Oracle.APIKey)
	}
	if cfg.Oracle.Timeout != 45*time.Second || cfg.Loop.Settle != 500*time.Millisecond {
		t.Errorf("Durations not parsed: %v %v", cfg.Oracle.Timeout, cfg.Loop.Settle)
	}
	if cfg.Loop.MaxTurn != 7 || cfg.Loop.MaxAppAttempts != 3 {
		t.Errorf("Unexpected loop config: %+v", cfg.Loop)
	}
	if cfg.Device.Serial != "emulator-5554" {
		t.Errorf("Expected env device override, got %q", cfg.Device.Serial)
	}
	if got := cfg.DeviceSerials(); len(got) != 2 || got[0] != "a" {
		t.Errorf("Unexpected device serials: %v", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestLoad_BackendKeyFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("UTA_BACKEND", "Gemini")
	t.Setenv("GEMINI_API_KEY", "g-key")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Oracle.Backend != BackendGemini || cfg.Oracle.APIKey != "g-key" {
		t.Errorf("Unexpected oracle config: %+v", cfg.Oracle)
	}
}

func TestLoad_BadYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("loop: [unclosed"), 0644)

	if _, err := Load(path); err == nil {
		t.Error("Expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   error
	}{
		{"ok ollama", func(c *Config) { c.Oracle.Backend = BackendOllama }, nil},
		{"missing key", func(c *Config) { c.Oracle.APIKey = "" }, ErrMissingAPIKey},
		{"unknown backend", func(c *Config) { c.Oracle.Backend = "claude" }, ErrUnknownBackend},
		{"zero turns", func(c *Config) { c.Loop.MaxTurn = 0 }, ErrInvalidValue},
		{"threshold", func(c *Config) { c.Loop.SimilarityThreshold = 1.5 }, ErrInvalidValue},
		{"retries", func(c *Config) { c.Oracle.Retries = -1 }, ErrInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Oracle.APIKey = "k"
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == nil && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Oracle.Model = "llama3.1"
	cfg.Oracle.Backend = BackendOllama

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Oracle.Model != "llama3.1" || got.Oracle.Backend != BackendOllama {
		t.Errorf("Unexpected oracle config after round trip: %+v", got.Oracle)
	}
}
