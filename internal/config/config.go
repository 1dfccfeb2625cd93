package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// BaseURLEnv names the environment variable that overrides api.base_url.
const BaseURLEnv = "OMNIUI_API_BASE_URL"

// API contains the backend address and transport settings.
type API struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Generation contains polling cadence and default job parameters.
type Generation struct {
	PollIntervalMillis int     `toml:"poll_interval_ms"`
	NumInferenceStep   int     `toml:"num_inference_step"`
	Height             int     `toml:"height"`
	Width              int     `toml:"width"`
	GuidanceScale      float64 `toml:"guidance_scale"`
}

// Upload contains upload manager limits.
type Upload struct {
	Concurrency   int      `toml:"concurrency"`
	AcceptedTypes []string `toml:"accepted_types"`
}

// Notifications contains toast and ntfy push settings.
type Notifications struct {
	DurationMillis int    `toml:"duration_ms"`
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	File   string `toml:"file"`
}

// Config encapsulates all configuration values for omniui.
//
// Configuration sections by subsystem:
//   - API: backend base URL and request timeout
//   - Generation: poll interval and default job parameters
//   - Upload: accepted image types and parallelism
//   - Notifications: toast duration and optional ntfy topic
//   - Logging: log format, level, and optional log file
type Config struct {
	API           API           `toml:"api"`
	Generation    Generation    `toml:"generation"`
	Upload        Upload        `toml:"upload"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/omniui/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has
// environment overrides applied and all values normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	if err := loadDotEnv(".env"); err != nil {
		return nil, "", false, err
	}

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadDotEnv populates the process environment from a dotenv file when one
// exists. Variables already present in the environment are left untouched.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat dotenv: %w", err)
	}
	if info.IsDir() {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load dotenv %s: %w", path, err)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("omniui.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// RequestTimeout returns the uniform transport timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// PollInterval returns the status polling cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Generation.PollIntervalMillis) * time.Millisecond
}

// ToastDuration returns the default display duration for notifications.
func (c *Config) ToastDuration() time.Duration {
	return time.Duration(c.Notifications.DurationMillis) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
