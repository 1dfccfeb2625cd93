package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const userAgent = "omniui/0.1.0"

// NtfyPublisher pushes toasts to an ntfy topic URL.
type NtfyPublisher struct {
	endpoint string
	client   *http.Client
}

// NewNtfyPublisher builds a publisher for the given topic URL.
func NewNtfyPublisher(topic string, timeout time.Duration) *NtfyPublisher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NtfyPublisher{
		endpoint: strings.TrimSpace(topic),
		client:   &http.Client{Timeout: timeout},
	}
}

func (n *NtfyPublisher) Publish(ctx context.Context, toast Toast) error {
	if n == nil || n.client == nil || n.endpoint == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(toast.Message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", ntfyTitle(toast.Level))
	req.Header.Set("Tags", strings.Join([]string{"omniui", string(toast.Level)}, ","))
	if toast.Level == LevelError {
		req.Header.Set("Priority", "high")
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func ntfyTitle(level Level) string {
	switch level {
	case LevelSuccess:
		return "omniui - Success"
	case LevelError:
		return "omniui - Error"
	default:
		return "omniui"
	}
}
