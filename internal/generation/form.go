package generation

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"omniui/internal/api"
	"omniui/internal/apperrors"
	"omniui/internal/logging"
	"omniui/internal/notifications"
)

// Form holds the job parameters and the input images they are bound to.
// Submit is the single submission path for both the form itself and external
// triggers.
type Form struct {
	controller *Controller
	notifier   notifications.Notifier
	logger     *slog.Logger

	mu     sync.Mutex
	params Params
	images []string
	errors FieldErrors
}

// NewForm binds a form to controller with the given starting parameters.
func NewForm(controller *Controller, defaults Params, notifier notifications.Notifier, logger *slog.Logger) *Form {
	if notifier == nil {
		notifier = notifications.NewNop()
	}
	return &Form{
		controller: controller,
		notifier:   notifier,
		logger:     logging.NewComponentLogger(logger, "form"),
		params:     defaults,
	}
}

// Params returns the current parameters.
func (f *Form) Params() Params {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params
}

// SetParams replaces the parameters and clears stale field errors.
func (f *Form) SetParams(p Params) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = p
	f.errors = nil
}

// SetInstruction updates only the instruction.
func (f *Form) SetInstruction(instruction string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params.Instruction = instruction
	delete(f.errors, "instruction")
}

// SetImages binds the form to the selected input images, in order.
func (f *Form) SetImages(images []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images = append([]string(nil), images...)
}

// Errors returns the field errors from the last submission attempt.
func (f *Form) Errors() FieldErrors {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errors) == 0 {
		return nil
	}
	out := make(FieldErrors, len(f.errors))
	for k, v := range f.errors {
		out[k] = v
	}
	return out
}

// Submit validates the parameters and, when they are valid, starts the job.
// Field errors are returned as a validation error wrapping FieldErrors and no
// request is sent. An execute failure raises an error toast; the controller
// emits Failed with the same message.
func (f *Form) Submit(ctx context.Context) (api.JobHandle, error) {
	f.mu.Lock()
	params := f.params
	images := append([]string(nil), f.images...)
	errs := params.Validate()
	if len(images) == 0 {
		if errs == nil {
			errs = FieldErrors{}
		}
		errs["input_images"] = "Select at least one input image"
	}
	f.errors = errs
	f.mu.Unlock()

	if len(errs) > 0 {
		f.logger.Debug("submission blocked by validation", logging.String("fields", errs.Error()))
		return api.JobHandle{}, apperrors.Wrap(apperrors.ErrValidation, "form", "submit", "invalid parameters", errs)
	}

	handle, err := f.controller.Start(ctx, params.Request(images))
	if err != nil {
		if !errors.Is(err, apperrors.ErrSuperseded) {
			f.notifier.Error(ctx, "Failed to start generation: "+api.Message(err))
		}
		return api.JobHandle{}, err
	}
	return handle, nil
}
