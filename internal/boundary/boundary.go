// Package boundary isolates one render step so that a failure shows a
// fallback instead of aborting the command.
package boundary

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"omniui/internal/apperrors"
	"omniui/internal/logging"
	"omniui/internal/notifications"
)

// ToastDuration is the fixed display duration of captured-error toasts.
const ToastDuration = 5 * time.Second

// RenderFunc writes one view to w.
type RenderFunc func(w io.Writer) error

// Options configures a Boundary.
type Options struct {
	Notifier notifications.Notifier
	Logger   *slog.Logger
	// Reload re-runs the whole view from scratch.
	Reload func(ctx context.Context) error
}

// Boundary wraps exactly one render step. Output from a failing render is
// discarded and replaced with a fallback.
type Boundary struct {
	render   RenderFunc
	notifier notifications.Notifier
	logger   *slog.Logger
	reload   func(ctx context.Context) error

	mu       sync.Mutex
	captured error
}

// New wraps render.
func New(render RenderFunc, opts Options) *Boundary {
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewNop()
	}
	return &Boundary{
		render:   render,
		notifier: notifier,
		logger:   logging.NewComponentLogger(opts.Logger, "boundary"),
		reload:   opts.Reload,
	}
}

// Err returns the captured error, or nil when the last render succeeded.
func (b *Boundary) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.captured
}

// Render runs the wrapped step into w. A returned error or panic is
// captured, reported and replaced by the fallback; Render then returns the
// captured error wrapped as a render error.
func (b *Boundary) Render(ctx context.Context, w io.Writer) error {
	var buf bytes.Buffer
	err := b.run(&buf)
	if err == nil {
		b.mu.Lock()
		b.captured = nil
		b.mu.Unlock()
		_, writeErr := w.Write(buf.Bytes())
		return writeErr
	}

	b.mu.Lock()
	b.captured = err
	b.mu.Unlock()

	logging.ErrorWithContext(ctx, b.logger, "render failed", "render_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "retry the view or re-run the command"),
	)
	b.notifier.Error(ctx, "An error occurred: "+err.Error(), notifications.WithDuration(ToastDuration))
	if _, writeErr := io.WriteString(w, Fallback(err)); writeErr != nil {
		return writeErr
	}
	return apperrors.Wrap(apperrors.ErrRender, "boundary", "render", "", err)
}

// Retry clears the captured error and attempts the wrapped step once more.
func (b *Boundary) Retry(ctx context.Context, w io.Writer) error {
	b.mu.Lock()
	b.captured = nil
	b.mu.Unlock()
	return b.Render(ctx, w)
}

// Reload invokes the reload hook.
func (b *Boundary) Reload(ctx context.Context) error {
	if b.reload == nil {
		return apperrors.Wrap(apperrors.ErrRender, "boundary", "reload", "no reload hook configured", nil)
	}
	b.mu.Lock()
	b.captured = nil
	b.mu.Unlock()
	return b.reload(ctx)
}

func (b *Boundary) run(w io.Writer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Debug("render panic", logging.String("stack", string(debug.Stack())))
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = fmt.Errorf("%v", r)
		}
	}()
	if b.render == nil {
		return fmt.Errorf("nothing to render")
	}
	return b.render(w)
}

// Fallback renders the text shown in place of a failed view.
func Fallback(err error) string {
	var sb strings.Builder
	sb.WriteString("Something went wrong\n")
	if err != nil {
		fmt.Fprintf(&sb, "  %s\n", err.Error())
	}
	sb.WriteString("  Retry: re-render this view\n")
	sb.WriteString("  Reload: re-run the command from the start\n")
	return sb.String()
}
