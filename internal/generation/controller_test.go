package generation_test

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"omniui/internal/api"
	"omniui/internal/apperrors"
	"omniui/internal/generation"
	"omniui/internal/notifications"
	"omniui/internal/testsupport"
)

const pollInterval = 10 * time.Millisecond

type eventLog struct {
	mu       sync.Mutex
	events   []generation.Event
	terminal chan struct{}
	once     sync.Once
}

func newEventLog() *eventLog {
	return &eventLog{terminal: make(chan struct{})}
}

func (l *eventLog) sink(ev generation.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	switch ev.(type) {
	case generation.Completed, generation.Failed, generation.Cancelled:
		l.once.Do(func() { close(l.terminal) })
	}
}

func (l *eventLog) snapshot() []generation.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]generation.Event(nil), l.events...)
}

func (l *eventLog) waitTerminal(t *testing.T) {
	t.Helper()
	select {
	case <-l.terminal:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for terminal event; got %#v", l.snapshot())
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func validRequest(images ...string) api.JobRequest {
	return api.JobRequest{
		InputImages:      images,
		Instruction:      "make it blue",
		NumInferenceStep: 50,
		Height:           1024,
		Width:            1024,
		GuidanceScale:    5,
	}
}

func newController(t *testing.T, backend *testsupport.Backend) (*generation.Controller, *eventLog, *testsupport.Recorder) {
	t.Helper()
	log := newEventLog()
	notifier, rec := testsupport.NewNotifier()
	client := backend.Client(t)
	ctrl := generation.NewController(client, log.sink, generation.ControllerOptions{
		PollInterval: pollInterval,
		Notifier:     notifier,
		OutputURL: func(name string) string {
			return client.ImageURL(api.FolderOutput, name)
		},
	})
	t.Cleanup(ctrl.Close)
	return ctrl, log, rec
}

func TestControllerRunsJobToCompletion(t *testing.T) {
	backend := testsupport.NewBackend(t)
	backend.SetProcessIDs("abc")
	backend.ScriptStatus("abc",
		api.StatusSnapshot{Status: api.JobRunning, Progress: 50},
		api.StatusSnapshot{Status: api.JobCompleted, Progress: 100, OutputImage: "r.jpg"},
	)
	ctrl, log, rec := newController(t, backend)

	handle, err := ctrl.Start(context.Background(), validRequest("a.png"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if handle.ProcessID != "abc" {
		t.Fatalf("unexpected handle %+v", handle)
	}
	log.waitTerminal(t)

	events := log.snapshot()
	want := []generation.Event{
		generation.Started{},
		generation.Progress{Progress: 0, ProcessID: "abc"},
		generation.Progress{Progress: 50, ProcessID: "abc"},
		generation.Completed{OutputImage: "r.jpg", OutputURL: backend.URL() + "/images/view/output/r.jpg"},
	}
	if !slices.Equal(events, want) {
		t.Fatalf("events = %#v, want %#v", events, want)
	}
	if ctrl.State() != generation.StateCompleted || ctrl.Progress() != 100 {
		t.Fatalf("unexpected final state %s progress %d", ctrl.State(), ctrl.Progress())
	}
	if rec.Count(notifications.LevelSuccess, "Image generated successfully") != 1 {
		t.Fatalf("expected completion toast, got %+v", rec.Toasts())
	}
}

func TestControllerBackendFailure(t *testing.T) {
	backend := testsupport.NewBackend(t)
	backend.SetProcessIDs("abc")
	backend.ScriptStatus("abc", api.StatusSnapshot{Status: api.JobFailed, Error: "CUDA out of memory"})
	ctrl, log, rec := newController(t, backend)

	if _, err := ctrl.Start(context.Background(), validRequest("a.png")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	log.waitTerminal(t)

	events := log.snapshot()
	if last := events[len(events)-1]; last != (generation.Failed{Message: "CUDA out of memory"}) {
		t.Fatalf("unexpected last event %#v", last)
	}
	if ctrl.State() != generation.StateFailed {
		t.Fatalf("unexpected state %s", ctrl.State())
	}
	if rec.Count(notifications.LevelError, "Generation failed: CUDA out of memory") != 1 {
		t.Fatalf("expected failure toast, got %+v", rec.Toasts())
	}
}

func TestControllerPollErrorFailsWithoutRetry(t *testing.T) {
	backend := testsupport.NewBackend(t)
	backend.SetProcessIDs("abc")
	ctrl, log, _ := newController(t, backend)

	if _, err := ctrl.Start(context.Background(), validRequest("a.png")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	log.waitTerminal(t)
	time.Sleep(5 * pollInterval)

	events := log.snapshot()
	if last := events[len(events)-1]; last != (generation.Failed{Message: "Process not found"}) {
		t.Fatalf("unexpected last event %#v", last)
	}
	if calls := backend.Calls(testsupport.RouteStatus); calls != 1 {
		t.Fatalf("status calls = %d, want 1", calls)
	}
}

func TestControllerExecuteFailureEmitsFailed(t *testing.T) {
	backend := testsupport.NewBackend(t)
	backend.Fail(testsupport.RouteExecute, http.StatusBadRequest, map[string]string{"error": "Missing required field: instruction"})
	ctrl, log, _ := newController(t, backend)

	_, err := ctrl.Start(context.Background(), validRequest("a.png"))
	if !errors.Is(err, apperrors.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	events := log.snapshot()
	want := []generation.Event{generation.Started{}, generation.Failed{Message: "Missing required field: instruction"}}
	if !slices.Equal(events, want) {
		t.Fatalf("events = %#v, want %#v", events, want)
	}
	if backend.Calls(testsupport.RouteStatus) != 0 {
		t.Fatal("no polling expected after execute failure")
	}
}

func TestControllerIgnoresUnknownStatus(t *testing.T) {
	backend := testsupport.NewBackend(t)
	backend.SetProcessIDs("abc")
	backend.ScriptStatus("abc",
		api.StatusSnapshot{Status: "queued"},
		api.StatusSnapshot{Status: api.JobCompleted, OutputURL: "/api/images/view/output/r.jpg"},
	)
	ctrl, log, _ := newController(t, backend)

	if _, err := ctrl.Start(context.Background(), validRequest("a.png")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	log.waitTerminal(t)

	events := log.snapshot()
	completed, ok := events[len(events)-1].(generation.Completed)
	if !ok || completed.OutputImage != "r.jpg" {
		t.Fatalf("unexpected last event %#v", events[len(events)-1])
	}
	if !strings.HasSuffix(completed.OutputURL, "/r.jpg") {
		t.Fatalf("unexpected output url %q", completed.OutputURL)
	}
	if len(events) != 3 {
		t.Fatalf("unknown status must not emit events: %#v", events)
	}
}

func TestControllerSupersessionDropsStaleEvents(t *testing.T) {
	backend := testsupport.NewBackend(t)
	backend.SetProcessIDs("first", "second")
	backend.ScriptStatus("first", api.StatusSnapshot{Status: api.JobRunning, Progress: 10})
	backend.ScriptStatus("second",
		api.StatusSnapshot{Status: api.JobRunning, Progress: 20},
		api.StatusSnapshot{Status: api.JobRunning, Progress: 60},
		api.StatusSnapshot{Status: api.JobCompleted, OutputImage: "second.jpg"},
	)
	ctrl, log, _ := newController(t, backend)
	ctx := context.Background()

	if _, err := ctrl.Start(ctx, validRequest("a.png")); err != nil {
		t.Fatalf("Start first: %v", err)
	}
	waitFor(t, "first job progress", func() bool {
		return slices.Contains(log.snapshot(), generation.Event(generation.Progress{Progress: 10, ProcessID: "first"}))
	})

	if _, err := ctrl.Start(ctx, validRequest("b.png")); err != nil {
		t.Fatalf("Start second: %v", err)
	}
	log.waitTerminal(t)
	time.Sleep(5 * pollInterval)

	events := log.snapshot()
	secondStart := -1
	for i, ev := range events {
		if _, ok := ev.(generation.Started); ok {
			secondStart = i
		}
	}
	for _, ev := range events[secondStart:] {
		if p, ok := ev.(generation.Progress); ok && p.ProcessID != "second" {
			t.Fatalf("stale event after supersession: %#v", events)
		}
	}
	if ctrl.ProcessID() != "second" || ctrl.State() != generation.StateCompleted {
		t.Fatalf("unexpected controller state %s/%s", ctrl.ProcessID(), ctrl.State())
	}
}

func TestControllerCancelDuringExecuteCancelsOrphan(t *testing.T) {
	backend := testsupport.NewBackend(t)
	backend.SetProcessIDs("orphan")
	release := backend.HoldExecute()
	ctrl, log, _ := newController(t, backend)

	errCh := make(chan error, 1)
	go func() {
		_, err := ctrl.Start(context.Background(), validRequest("a.png"))
		errCh <- err
	}()
	waitFor(t, "execute request", func() bool { return backend.Calls(testsupport.RouteExecute) == 1 })

	if err := ctrl.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if ctrl.State() != generation.StateCancelled {
		t.Fatalf("unexpected state %s", ctrl.State())
	}
	release()

	select {
	case err := <-errCh:
		if !errors.Is(err, apperrors.ErrSuperseded) {
			t.Fatalf("expected superseded error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return")
	}
	if got := backend.Cancelled(); !slices.Equal(got, []string{"orphan"}) {
		t.Fatalf("expected orphan cancel, got %v", got)
	}
	want := []generation.Event{generation.Started{}, generation.Cancelled{}}
	if events := log.snapshot(); !slices.Equal(events, want) {
		t.Fatalf("events = %#v, want %#v", events, want)
	}
}

func TestControllerCancelIsTerminalEvenWhenBackendFails(t *testing.T) {
	backend := testsupport.NewBackend(t)
	backend.SetProcessIDs("abc")
	backend.ScriptStatus("abc", api.StatusSnapshot{Status: api.JobRunning, Progress: 30})
	backend.Fail(testsupport.RouteCancel, http.StatusInternalServerError, map[string]string{"error": "cancel exploded"})
	ctrl, log, _ := newController(t, backend)

	if _, err := ctrl.Start(context.Background(), validRequest("a.png")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "polling progress", func() bool { return backend.Calls(testsupport.RouteStatus) > 0 })

	err := ctrl.Cancel(context.Background())
	if api.Message(err) != "cancel exploded" {
		t.Fatalf("expected backend cancel error, got %v", err)
	}
	if ctrl.State() != generation.StateCancelled {
		t.Fatalf("unexpected state %s", ctrl.State())
	}
	calls := backend.Calls(testsupport.RouteStatus)
	time.Sleep(5 * pollInterval)
	if backend.Calls(testsupport.RouteStatus) > calls+1 {
		t.Fatal("polling continued after cancel")
	}
	events := log.snapshot()
	if last := events[len(events)-1]; last != (generation.Cancelled{}) {
		t.Fatalf("expected Cancelled as last event, got %#v", events)
	}
}

func TestControllerCancelWhenIdle(t *testing.T) {
	backend := testsupport.NewBackend(t)
	ctrl, log, _ := newController(t, backend)
	if err := ctrl.Cancel(context.Background()); !errors.Is(err, apperrors.ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
	if len(log.snapshot()) != 0 {
		t.Fatal("no events expected")
	}
	if backend.Calls(testsupport.RouteCancel) != 0 {
		t.Fatal("no backend cancel expected")
	}
}

func TestControllerTrack(t *testing.T) {
	backend := testsupport.NewBackend(t)
	backend.ScriptStatus("xyz",
		api.StatusSnapshot{Status: api.JobRunning, Progress: 70},
		api.StatusSnapshot{Status: api.JobCancelled},
	)
	ctrl, log, _ := newController(t, backend)

	if err := ctrl.Track(context.Background(), "xyz"); err != nil {
		t.Fatalf("Track: %v", err)
	}
	log.waitTerminal(t)
	want := []generation.Event{
		generation.Started{},
		generation.Progress{Progress: 0, ProcessID: "xyz"},
		generation.Progress{Progress: 70, ProcessID: "xyz"},
		generation.Cancelled{},
	}
	if events := log.snapshot(); !slices.Equal(events, want) {
		t.Fatalf("events = %#v, want %#v", events, want)
	}
	if err := ctrl.Track(context.Background(), " "); !apperrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEventName(t *testing.T) {
	tests := map[string]generation.Event{
		"started":   generation.Started{},
		"progress":  generation.Progress{},
		"completed": generation.Completed{},
		"failed":    generation.Failed{},
		"cancelled": generation.Cancelled{},
	}
	for want, ev := range tests {
		if got := generation.EventName(ev); got != want {
			t.Fatalf("EventName(%#v) = %q, want %q", ev, got, want)
		}
	}
}
