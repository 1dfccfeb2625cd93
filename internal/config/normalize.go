package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	c.normalizeAPI()
	c.normalizeUpload()
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNtfyTimeout
	}
	return c.normalizeLogging()
}

func (c *Config) normalizeAPI() {
	if value, ok := os.LookupEnv(BaseURLEnv); ok && strings.TrimSpace(value) != "" {
		c.API.BaseURL = value
	}
	c.API.BaseURL = strings.TrimRight(strings.TrimSpace(c.API.BaseURL), "/")
	if c.API.BaseURL == "" {
		c.API.BaseURL = defaultBaseURL
	}
}

func (c *Config) normalizeUpload() {
	if len(c.Upload.AcceptedTypes) == 0 {
		c.Upload.AcceptedTypes = append([]string(nil), DefaultAcceptedTypes...)
		return
	}
	types := make([]string, 0, len(c.Upload.AcceptedTypes))
	seen := make(map[string]struct{}, len(c.Upload.AcceptedTypes))
	for _, value := range c.Upload.AcceptedTypes {
		normalized := strings.ToLower(strings.TrimSpace(value))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		types = append(types, normalized)
	}
	if len(types) == 0 {
		types = append(types, DefaultAcceptedTypes...)
	}
	c.Upload.AcceptedTypes = types
}

func (c *Config) normalizeLogging() error {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if strings.TrimSpace(c.Logging.File) == "" {
		c.Logging.File = ""
		return nil
	}
	var err error
	if c.Logging.File, err = expandPath(strings.TrimSpace(c.Logging.File)); err != nil {
		return fmt.Errorf("logging.file: %w", err)
	}
	return nil
}
