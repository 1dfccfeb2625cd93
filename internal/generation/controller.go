package generation

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"omniui/internal/api"
	"omniui/internal/apperrors"
	"omniui/internal/config"
	"omniui/internal/logging"
	"omniui/internal/notifications"
)

// State is the controller's lifecycle position.
type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StatePolling    State = "polling"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// Active reports whether a job is being submitted or polled.
func (s State) Active() bool {
	return s == StateSubmitting || s == StatePolling
}

// JobClient is the transport surface the controller needs.
type JobClient interface {
	Execute(ctx context.Context, req api.JobRequest) (api.JobHandle, error)
	Status(ctx context.Context, processID string) (api.StatusSnapshot, error)
	Cancel(ctx context.Context, processID string) (api.CancelResponse, error)
}

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	PollInterval time.Duration
	Notifier     notifications.Notifier
	Logger       *slog.Logger
	// OutputURL derives the served URL of an output image.
	OutputURL func(filename string) string
}

// DefaultPollInterval is used when no interval is configured.
const DefaultPollInterval = 2 * time.Second

// Controller drives one job at a time from submission through polling to a
// terminal state. A new Start supersedes the previous job; events from a
// superseded job never reach the sink.
type Controller struct {
	client    JobClient
	interval  time.Duration
	notifier  notifications.Notifier
	logger    *slog.Logger
	sampler   *logging.ProgressSampler
	outputURL func(string) string

	mu        sync.Mutex
	sink      Sink
	state     State
	seq       uint64
	processID string
	progress  int
	poll      *pollTask
	polling   sync.WaitGroup
}

type pollTask struct {
	cancel context.CancelFunc
}

// NewController constructs an idle controller.
func NewController(client JobClient, sink Sink, opts ControllerOptions) *Controller {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewNop()
	}
	outputURL := opts.OutputURL
	if outputURL == nil {
		outputURL = func(string) string { return "" }
	}
	return &Controller{
		client:    client,
		interval:  interval,
		notifier:  notifier,
		logger:    logging.NewComponentLogger(opts.Logger, "generation"),
		sampler:   logging.NewProgressSampler(5),
		outputURL: outputURL,
		sink:      sink,
		state:     StateIdle,
	}
}

// NewControllerFromConfig builds a controller for client using the configured
// poll interval. Output URLs are derived from client.
func NewControllerFromConfig(cfg *config.Config, client *api.Client, sink Sink, notifier notifications.Notifier, logger *slog.Logger) *Controller {
	opts := ControllerOptions{
		Notifier: notifier,
		Logger:   logger,
		OutputURL: func(name string) string {
			return client.ImageURL(api.FolderOutput, name)
		},
	}
	if cfg != nil {
		opts.PollInterval = cfg.PollInterval()
	}
	return NewController(client, sink, opts)
}

// State returns the current lifecycle position.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ProcessID returns the held job handle, if any.
func (c *Controller) ProcessID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processID
}

// Progress returns the last reported progress.
func (c *Controller) Progress() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// Start submits req, superseding any active job. Started is emitted before
// the backend is contacted. On success the handle is emitted as Progress{0}
// and polling begins. If the submission was superseded or cancelled while
// execute was in flight, the orphaned job is cancelled on the backend and
// ErrSuperseded is returned.
func (c *Controller) Start(ctx context.Context, req api.JobRequest) (api.JobHandle, error) {
	c.mu.Lock()
	c.stopLocked()
	c.seq++
	seq := c.seq
	c.state = StateSubmitting
	c.processID = ""
	c.progress = 0
	c.sampler.Reset()
	c.emitLocked(Started{})
	c.mu.Unlock()

	c.logger.Info("generation submitted",
		logging.Int("input_images", len(req.InputImages)),
		logging.Int("num_inference_step", req.NumInferenceStep),
		logging.Int("height", req.Height),
		logging.Int("width", req.Width),
		logging.Float64("guidance_scale", req.GuidanceScale),
	)

	handle, err := c.client.Execute(ctx, req)

	c.mu.Lock()
	if c.seq != seq {
		c.mu.Unlock()
		if err == nil && handle.ProcessID != "" {
			c.cancelOrphan(ctx, handle.ProcessID)
		}
		return handle, apperrors.Wrap(apperrors.ErrSuperseded, "generation", "start", "submission superseded", nil)
	}
	if err != nil {
		c.state = StateFailed
		c.emitLocked(Failed{Message: api.Message(err)})
		c.mu.Unlock()
		return api.JobHandle{}, err
	}
	c.processID = handle.ProcessID
	c.state = StatePolling
	c.emitLocked(Progress{Progress: 0, ProcessID: handle.ProcessID})
	c.startPollLocked(ctx, seq, handle.ProcessID)
	c.mu.Unlock()

	logging.WithContext(logging.WithProcessID(ctx, handle.ProcessID), c.logger).Info("generation started",
		logging.String("output_filename", handle.OutputFilename),
	)
	return handle, nil
}

// Track attaches polling to a job that is already running on the backend.
func (c *Controller) Track(ctx context.Context, processID string) error {
	processID = strings.TrimSpace(processID)
	if processID == "" {
		return apperrors.Wrap(apperrors.ErrValidation, "generation", "track", "process id is required", nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.seq++
	c.state = StatePolling
	c.processID = processID
	c.progress = 0
	c.sampler.Reset()
	c.emitLocked(Started{})
	c.emitLocked(Progress{Progress: 0, ProcessID: processID})
	c.startPollLocked(ctx, c.seq, processID)
	return nil
}

// Cancel stops polling and moves to cancelled immediately, emitting
// Cancelled, then asks the backend to cancel. The returned error belongs to
// the backend call only; local state is cancelled either way. ErrNotActive is
// returned when no job is being submitted or polled.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	if !c.state.Active() {
		c.mu.Unlock()
		return apperrors.ErrNotActive
	}
	c.stopLocked()
	c.seq++
	id := c.processID
	c.state = StateCancelled
	c.emitLocked(Cancelled{})
	c.mu.Unlock()

	if id == "" {
		// Execute has not answered yet; Start cancels the orphan.
		return nil
	}
	logger := logging.WithContext(logging.WithProcessID(ctx, id), c.logger)
	if _, err := c.client.Cancel(ctx, id); err != nil {
		logger.Warn("backend cancel failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "cancel_failed"),
			logging.String(logging.FieldErrorHint, "the job may still be running on the backend"),
		)
		return err
	}
	logger.Info("generation cancelled")
	return nil
}

// Close stops any poll task and waits for it to exit. No further events are
// emitted for the current job.
func (c *Controller) Close() {
	c.mu.Lock()
	c.stopLocked()
	c.seq++
	c.mu.Unlock()
	c.polling.Wait()
}

func (c *Controller) stopLocked() {
	if c.poll != nil {
		c.poll.cancel()
		c.poll = nil
	}
}

func (c *Controller) emitLocked(ev Event) {
	if c.sink != nil {
		c.sink(ev)
	}
}

func (c *Controller) startPollLocked(parent context.Context, seq uint64, processID string) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(logging.WithProcessID(parent, processID)))
	c.poll = &pollTask{cancel: cancel}
	c.polling.Go(func() { c.pollLoop(ctx, seq, processID) })
}

func (c *Controller) pollLoop(ctx context.Context, seq uint64, processID string) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		snap, err := c.client.Status(ctx, processID)
		if ctx.Err() != nil {
			return
		}
		if c.applySnapshot(ctx, seq, processID, snap, err) {
			return
		}
	}
}

type toast struct {
	level   notifications.Level
	message string
}

// applySnapshot folds one poll result into the controller and reports
// whether polling should stop.
func (c *Controller) applySnapshot(ctx context.Context, seq uint64, processID string, snap api.StatusSnapshot, pollErr error) bool {
	logger := logging.WithContext(ctx, c.logger)
	var note *toast

	c.mu.Lock()
	if c.seq != seq {
		c.mu.Unlock()
		return true
	}

	stop := true
	switch {
	case pollErr != nil:
		msg := api.Message(pollErr)
		c.finishLocked(StateFailed)
		c.emitLocked(Failed{Message: msg})
		note = &toast{notifications.LevelError, "Generation failed: " + msg}
	case snap.Status == api.JobRunning:
		stop = false
		c.progress = snap.Progress
		c.emitLocked(Progress{Progress: snap.Progress, ProcessID: processID})
		if c.sampler.ShouldLog(snap.Progress, processID) {
			logger.Info("generation progress", logging.Int("progress", snap.Progress))
		}
	case snap.Status == api.JobCompleted:
		name := snap.OutputFilename()
		c.progress = 100
		c.finishLocked(StateCompleted)
		c.emitLocked(Completed{OutputImage: name, OutputURL: c.outputURL(name)})
		note = &toast{notifications.LevelSuccess, "Image generated successfully"}
	case snap.Status == api.JobFailed:
		msg := strings.TrimSpace(snap.Error)
		if msg == "" {
			msg = "Generation failed"
		}
		c.finishLocked(StateFailed)
		c.emitLocked(Failed{Message: msg})
		note = &toast{notifications.LevelError, "Generation failed: " + msg}
	case snap.Status == api.JobCancelled:
		c.finishLocked(StateCancelled)
		c.emitLocked(Cancelled{})
	default:
		stop = false
		logger.Debug("ignoring unknown job status", logging.String("status", string(snap.Status)))
	}
	c.mu.Unlock()

	if stop {
		switch {
		case pollErr != nil:
			logger.Warn("status poll failed",
				logging.Error(pollErr),
				logging.String(logging.FieldEventType, "generation_poll_failed"),
				logging.String(logging.FieldErrorHint, "check the backend and run omniui status to inspect the job"),
			)
		case snap.Status == api.JobFailed:
			logger.Warn("generation failed",
				logging.String("reason", snap.Error),
				logging.String(logging.FieldEventType, "generation_failed"),
			)
		default:
			logger.Info("generation finished", logging.String("status", string(snap.Status)))
		}
	}
	if note != nil {
		// finishLocked cancelled ctx; the toast still has to go out.
		ctx = context.WithoutCancel(ctx)
		if note.level == notifications.LevelSuccess {
			c.notifier.Success(ctx, note.message)
		} else {
			c.notifier.Error(ctx, note.message)
		}
	}
	return stop
}

func (c *Controller) finishLocked(state State) {
	c.state = state
	c.stopLocked()
}

func (c *Controller) cancelOrphan(ctx context.Context, processID string) {
	logger := logging.WithContext(logging.WithProcessID(ctx, processID), c.logger)
	if _, err := c.client.Cancel(context.WithoutCancel(ctx), processID); err != nil {
		logger.Warn("orphaned job cancel failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "orphan_cancel_failed"),
			logging.String(logging.FieldErrorHint, "cancel the job manually with omniui cancel"),
		)
		return
	}
	logger.Info("cancelled orphaned job")
}
