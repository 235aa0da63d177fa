// Package config loads UTA configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration file.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Loop      LoopConfig      `yaml:"loop"`
	Store     StoreConfig     `yaml:"store"`
	Server    ServerConfig    `yaml:"server"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Log       LogConfig       `yaml:"log"`
}

// DeviceConfig selects the adb binary and target device.
type DeviceConfig struct {
	Serial      string        `yaml:"serial"`
	ADBPath     string        `yaml:"adb_path"`
	Timeout     time.Duration `yaml:"timeout"`
	AppCacheTTL time.Duration `yaml:"app_cache_ttl"`
}

// OracleConfig selects the decision oracle backend.
type OracleConfig struct {
	Backend     string        `yaml:"backend"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	Retries     int           `yaml:"retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

// LoopConfig tunes the automation loop.
type LoopConfig struct {
	MaxTurn             int           `yaml:"max_turn"`
	Settle              time.Duration `yaml:"settle"`
	MaxAppAttempts      int           `yaml:"max_app_attempts"`
	CaptureAttempts     int           `yaml:"capture_attempts"`
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
	DebugImages         bool          `yaml:"debug_images"`
}

// StoreConfig locates the database and JSON exports.
type StoreConfig struct {
	Path      string `yaml:"path"`
	ExportDir string `yaml:"export_dir"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// SchedulerConfig bounds concurrent task execution.
type SchedulerConfig struct {
	GlobalMax    int           `yaml:"global_max"`
	Devices      []string      `yaml:"devices"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// Backends accepted in OracleConfig.Backend.
const (
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
	BackendGemini = "gemini"
)

// Validation errors.
var (
	ErrMissingAPIKey  = errors.New("oracle api key is required")
	ErrUnknownBackend = errors.New("unknown oracle backend")
	ErrInvalidValue   = errors.New("invalid configuration value")
)

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".uta")
	return &Config{
		Device: DeviceConfig{
			ADBPath:     "adb",
			Timeout:     30 * time.Second,
			AppCacheTTL: 5 * time.Minute,
		},
		Oracle: OracleConfig{
			Backend:     BackendOpenAI,
			Model:       "gpt-4o",
			Temperature: 0,
			MaxTokens:   1024,
			Timeout:     60 * time.Second,
			RetryDelay:  2 * time.Second,
		},
		Loop: LoopConfig{
			MaxTurn:             20,
			Settle:              2 * time.Second,
			MaxAppAttempts:      3,
			CaptureAttempts:     3,
			SimilarityThreshold: 0.98,
		},
		Store: StoreConfig{
			Path:      filepath.Join(base, "uta.db"),
			ExportDir: filepath.Join(base, "users"),
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:7467",
		},
		Scheduler: SchedulerConfig{
			GlobalMax:    4,
			PollInterval: time.Second,
		},
		Log: LogConfig{
			Level: "info",
			Dir:   base,
		},
	}
}

// Load reads the config file at path, or the default location when path is
// empty, then applies environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = Path()
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	loadFromEnv(cfg)
	return cfg, nil
}

// Path returns the default config file location.
func Path() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "uta", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".uta", "config.yaml")
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// loadFromEnv applies overrides. Priority for the key: UTA_API_KEY, then the
// backend's own variable.
func loadFromEnv(cfg *Config) {
	if backend := os.Getenv("UTA_BACKEND"); backend != "" {
		cfg.Oracle.Backend = strings.ToLower(backend)
	}
	if model := os.Getenv("UTA_MODEL"); model != "" {
		cfg.Oracle.Model = model
	}
	if serial := os.Getenv("UTA_DEVICE"); serial != "" {
		cfg.Device.Serial = serial
	}

	if key := os.Getenv("UTA_API_KEY"); key != "" {
		cfg.Oracle.APIKey = key
		return
	}
	if cfg.Oracle.APIKey != "" {
		return
	}
	switch cfg.Oracle.Backend {
	case BackendOpenAI:
		cfg.Oracle.APIKey = os.Getenv("OPENAI_API_KEY")
	case BackendGemini:
		cfg.Oracle.APIKey = os.Getenv("GEMINI_API_KEY")
	}
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// Validate checks the values the automation stack depends on.
func (c *Config) Validate() error {
	switch c.Oracle.Backend {
	case BackendOpenAI, BackendGemini:
		if c.Oracle.APIKey == "" {
			return fmt.Errorf("%s backend: %w", c.Oracle.Backend, ErrMissingAPIKey)
		}
	case BackendOllama:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Oracle.Backend)
	}

	switch {
	case c.Loop.MaxTurn <= 0:
		return fmt.Errorf("%w: loop.max_turn must be positive", ErrInvalidValue)
	case c.Loop.MaxAppAttempts <= 0:
		return fmt.Errorf("%w: loop.max_app_attempts must be positive", ErrInvalidValue)
	case c.Loop.CaptureAttempts <= 0:
		return fmt.Errorf("%w: loop.capture_attempts must be positive", ErrInvalidValue)
	case c.Loop.SimilarityThreshold <= 0 || c.Loop.SimilarityThreshold > 1:
		return fmt.Errorf("%w: loop.similarity_threshold must be in (0, 1]", ErrInvalidValue)
	case c.Oracle.Retries < 0:
		return fmt.Errorf("%w: oracle.retries must not be negative", ErrInvalidValue)
	case c.Scheduler.GlobalMax <= 0:
		return fmt.Errorf("%w: scheduler.global_max must be positive", ErrInvalidValue)
	}
	return nil
}

// DeviceSerials returns the devices the scheduler drives. With no explicit
// list the single configured device is used.
func (c *Config) DeviceSerials() []string {
	if len(c.Scheduler.Devices) > 0 {
		return c.Scheduler.Devices
	}
	return []string{c.Device.Serial}
}
