package generation

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"omniui/internal/api"
	"omniui/internal/apperrors"
	"omniui/internal/config"
	"omniui/internal/logging"
	"omniui/internal/notifications"
)

// Result is the outcome shown once a job stops.
type Result struct {
	Status    State
	OutputURL string
	Error     string
}

// View is the orchestrator's presentation model.
type View struct {
	IsGenerating bool
	Progress     int
	ProcessID    string
	Result       *Result
}

// Observer receives every lifecycle event together with the view it
// produced. Observers run while the controller lock is held and must not
// call back into the orchestrator or controller.
type Observer func(Event, View)

// EmptySelectionMessage is toasted when Generate is called with nothing
// selected.
const EmptySelectionMessage = "Please select at least one input image"

// Orchestrator owns the image selection, the form and the controller, and
// folds controller events into a View.
type Orchestrator struct {
	controller *Controller
	form       *Form
	notifier   notifications.Notifier
	logger     *slog.Logger

	mu        sync.Mutex
	selection []string
	view      View
	observers []Observer
}

// OrchestratorOptions configures NewOrchestrator.
type OrchestratorOptions struct {
	PollInterval time.Duration
	Defaults     Params
	Notifier     notifications.Notifier
	Logger       *slog.Logger
	// OutputURL derives the served URL of an output image.
	OutputURL func(filename string) string
}

// NewOrchestrator wires a controller and form around client.
func NewOrchestrator(client JobClient, opts OrchestratorOptions) *Orchestrator {
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewNop()
	}
	o := &Orchestrator{
		notifier: notifier,
		logger:   logging.NewComponentLogger(opts.Logger, "orchestrator"),
	}
	o.controller = NewController(client, o.handle, ControllerOptions{
		PollInterval: opts.PollInterval,
		Notifier:     notifier,
		Logger:       opts.Logger,
		OutputURL:    opts.OutputURL,
	})
	o.form = NewForm(o.controller, opts.Defaults, notifier, opts.Logger)
	return o
}

// NewOrchestratorFromConfig builds an orchestrator with configured defaults.
func NewOrchestratorFromConfig(cfg *config.Config, client *api.Client, notifier notifications.Notifier, logger *slog.Logger) *Orchestrator {
	opts := OrchestratorOptions{
		Defaults: DefaultParams(cfg),
		Notifier: notifier,
		Logger:   logger,
		OutputURL: func(name string) string {
			return client.ImageURL(api.FolderOutput, name)
		},
	}
	if cfg != nil {
		opts.PollInterval = cfg.PollInterval()
	}
	return NewOrchestrator(client, opts)
}

// Form exposes the job configuration form.
func (o *Orchestrator) Form() *Form {
	return o.form
}

// Controller exposes the lifecycle controller.
func (o *Orchestrator) Controller() *Controller {
	return o.controller
}

// Observe registers an observer for events and view changes.
func (o *Orchestrator) Observe(fn Observer) {
	if fn == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, fn)
}

// View returns the current presentation model.
func (o *Orchestrator) View() View {
	o.mu.Lock()
	defer o.mu.Unlock()
	return cloneView(o.view)
}

// Toggle adds filename to the selection or removes it when already present.
// It reports whether filename is selected afterwards.
func (o *Orchestrator) Toggle(filename string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if i := slices.Index(o.selection, filename); i >= 0 {
		o.selection = slices.Delete(o.selection, i, i+1)
		return false
	}
	o.selection = append(o.selection, filename)
	return true
}

// Clear empties the selection.
func (o *Orchestrator) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.selection = nil
}

// Selected returns the selection in the order images were picked.
func (o *Orchestrator) Selected() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.selection...)
}

// IsSelected reports whether filename is selected.
func (o *Orchestrator) IsSelected(filename string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Contains(o.selection, filename)
}

// Generate submits the form bound to the current selection. An empty
// selection is rejected with an error toast and no request.
func (o *Orchestrator) Generate(ctx context.Context) (api.JobHandle, error) {
	selected := o.Selected()
	if len(selected) == 0 {
		o.notifier.Error(ctx, EmptySelectionMessage)
		return api.JobHandle{}, apperrors.Wrap(apperrors.ErrValidation, "orchestrator", "generate", EmptySelectionMessage, nil)
	}
	o.form.SetImages(selected)
	return o.form.Submit(ctx)
}

// Track follows a job that was started elsewhere.
func (o *Orchestrator) Track(ctx context.Context, processID string) error {
	return o.controller.Track(ctx, processID)
}

// Cancel cancels the active job. The view moves to cancelled at once; the
// toast reflects whether the backend acknowledged the cancel.
func (o *Orchestrator) Cancel(ctx context.Context) error {
	err := o.controller.Cancel(ctx)
	switch {
	case err == nil:
		o.notifier.Success(ctx, "Generation cancelled")
	case errors.Is(err, apperrors.ErrNotActive):
	default:
		o.notifier.Error(ctx, "Failed to cancel generation: "+api.Message(err))
	}
	return err
}

// Close stops polling.
func (o *Orchestrator) Close() {
	o.controller.Close()
}

func (o *Orchestrator) handle(ev Event) {
	o.mu.Lock()
	switch e := ev.(type) {
	case Started:
		o.view = View{IsGenerating: true}
	case Progress:
		o.view.IsGenerating = true
		o.view.Progress = e.Progress
		o.view.ProcessID = e.ProcessID
	case Completed:
		o.view.IsGenerating = false
		o.view.Progress = 100
		o.view.Result = &Result{Status: StateCompleted, OutputURL: e.OutputURL}
	case Failed:
		o.view.IsGenerating = false
		o.view.Result = &Result{Status: StateFailed, Error: e.Message}
	case Cancelled:
		o.view.IsGenerating = false
		o.view.Result = &Result{Status: StateCancelled}
	}
	view := cloneView(o.view)
	observers := append([]Observer(nil), o.observers...)
	o.mu.Unlock()

	for _, fn := range observers {
		fn(ev, view)
	}
}

func cloneView(v View) View {
	if v.Result != nil {
		r := *v.Result
		v.Result = &r
	}
	return v
}
