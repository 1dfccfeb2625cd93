package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateGeneration(); err != nil {
		return err
	}
	if err := c.validateUpload(); err != nil {
		return err
	}
	if c.Notifications.DurationMillis < 0 {
		return errors.New("notifications.duration_ms must be >= 0")
	}
	return c.validateLogging()
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateAPI() error {
	parsed, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return fmt.Errorf("api.base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("api.base_url must use http or https, got %q (set %s or edit the config file)", c.API.BaseURL, BaseURLEnv)
	}
	if strings.TrimSpace(parsed.Host) == "" {
		return fmt.Errorf("api.base_url must include a host, got %q", c.API.BaseURL)
	}
	return ensurePositiveMap(map[string]int{
		"api.timeout_seconds":         c.API.TimeoutSeconds,
		"generation.poll_interval_ms": c.Generation.PollIntervalMillis,
	})
}

func (c *Config) validateGeneration() error {
	if c.Generation.NumInferenceStep <= 0 {
		return errors.New("generation.num_inference_step must be positive")
	}
	if c.Generation.GuidanceScale <= 0 {
		return errors.New("generation.guidance_scale must be positive")
	}
	if !slices.Contains(ImageDimensions, c.Generation.Height) {
		return fmt.Errorf("generation.height must be one of %v", ImageDimensions)
	}
	if !slices.Contains(ImageDimensions, c.Generation.Width) {
		return fmt.Errorf("generation.width must be one of %v", ImageDimensions)
	}
	return nil
}

func (c *Config) validateUpload() error {
	if c.Upload.Concurrency < 1 {
		return errors.New("upload.concurrency must be >= 1")
	}
	for _, value := range c.Upload.AcceptedTypes {
		if !strings.HasPrefix(value, "image/") {
			return fmt.Errorf("upload.accepted_types: %q is not an image type", value)
		}
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
