package testsupport

import (
	"context"
	"sync"
	"time"

	"omniui/internal/notifications"
)

// Recorder is a notifications.Publisher that keeps every toast in memory.
type Recorder struct {
	mu     sync.Mutex
	toasts []notifications.Toast
}

// NewNotifier returns a toast service whose only publisher is the returned
// Recorder.
func NewNotifier() (*notifications.Service, *Recorder) {
	rec := &Recorder{}
	return notifications.New(3*time.Second, nil, rec), rec
}

func (r *Recorder) Publish(_ context.Context, toast notifications.Toast) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toasts = append(r.toasts, toast)
	return nil
}

// Toasts returns every recorded toast in publish order.
func (r *Recorder) Toasts() []notifications.Toast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notifications.Toast(nil), r.toasts...)
}

// Count reports how many toasts of level carry message. An empty message
// matches any toast of that level.
func (r *Recorder) Count(level notifications.Level, message string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, toast := range r.toasts {
		if toast.Level != level {
			continue
		}
		if message == "" || toast.Message == message {
			n++
		}
	}
	return n
}
