package testsupport

import (
	"testing"
	"time"

	"omniui/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t   testing.TB
	cfg *config.Config
}

// NewConfig produces a config with a fast poll interval, a quiet logger and
// the default generation parameters. Options are applied in order.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	cfgVal := config.Default()
	cfgVal.Generation.PollIntervalMillis = 10
	cfgVal.API.TimeoutSeconds = 5
	cfgVal.Logging.Level = "error"

	builder := &configBuilder{
		t:   t,
		cfg: &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return builder.cfg
}

// WithBaseURL points the test config at a backend.
func WithBaseURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.BaseURL = url
	}
}

// WithPollInterval overrides the status polling cadence.
func WithPollInterval(d time.Duration) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Generation.PollIntervalMillis = int(d / time.Millisecond)
	}
}

// WithUploadConcurrency overrides the parallel upload limit.
func WithUploadConcurrency(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Upload.Concurrency = n
	}
}
