package notifications

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"omniui/internal/config"
	"omniui/internal/logging"
)

// Level classifies a toast.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

// Toast is a single user-facing notification.
type Toast struct {
	Level    Level
	Message  string
	Duration time.Duration
}

// Option customizes a toast before it is published.
type Option func(*Toast)

// WithDuration overrides the display duration of a toast.
func WithDuration(d time.Duration) Option {
	return func(t *Toast) {
		if d > 0 {
			t.Duration = d
		}
	}
}

// Notifier is the toast surface exposed to client components.
type Notifier interface {
	Success(ctx context.Context, message string, opts ...Option)
	Error(ctx context.Context, message string, opts ...Option)
	Info(ctx context.Context, message string, opts ...Option)
}

// Publisher renders or transmits a toast.
type Publisher interface {
	Publish(ctx context.Context, toast Toast) error
}

// Service fans toasts out to publishers.
type Service struct {
	publishers []Publisher
	duration   time.Duration
	logger     *slog.Logger
}

// NewService builds the toast service described by cfg. Console toasts go to
// out; an ntfy publisher is added when notifications.ntfy_topic is set.
func NewService(cfg *config.Config, out io.Writer, logger *slog.Logger) *Service {
	duration := 3 * time.Second
	var publishers []Publisher
	if out != nil {
		publishers = append(publishers, NewConsolePublisher(out, ShouldColorize(out)))
	}
	if cfg != nil {
		if d := cfg.ToastDuration(); d > 0 {
			duration = d
		}
		if topic := strings.TrimSpace(cfg.Notifications.NtfyTopic); topic != "" {
			publishers = append(publishers, NewNtfyPublisher(topic, time.Duration(cfg.Notifications.RequestTimeout)*time.Second))
		}
	}
	return New(duration, logger, publishers...)
}

// New builds a service from explicit publishers.
func New(duration time.Duration, logger *slog.Logger, publishers ...Publisher) *Service {
	if duration <= 0 {
		duration = 3 * time.Second
	}
	return &Service{
		publishers: publishers,
		duration:   duration,
		logger:     logging.NewComponentLogger(logger, "notifications"),
	}
}

// NewNop returns a service without publishers.
func NewNop() *Service {
	return New(0, nil)
}

func (s *Service) Success(ctx context.Context, message string, opts ...Option) {
	s.publish(ctx, LevelSuccess, message, opts)
}

func (s *Service) Error(ctx context.Context, message string, opts ...Option) {
	s.publish(ctx, LevelError, message, opts)
}

func (s *Service) Info(ctx context.Context, message string, opts ...Option) {
	s.publish(ctx, LevelInfo, message, opts)
}

func (s *Service) publish(ctx context.Context, level Level, message string, opts []Option) {
	if s == nil {
		return
	}
	toast := Toast{Level: level, Message: strings.TrimSpace(message), Duration: s.duration}
	for _, opt := range opts {
		opt(&toast)
	}
	for _, p := range s.publishers {
		if err := p.Publish(ctx, toast); err != nil {
			s.logger.Warn("toast delivery failed",
				logging.String("toast_level", string(level)),
				logging.Error(err),
			)
		}
	}
}
