package generation

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"omniui/internal/api"
	"omniui/internal/config"
)

// Params holds the user-editable generation parameters.
type Params struct {
	Instruction      string
	NumInferenceStep int
	Height           int
	Width            int
	GuidanceScale    float64
}

// DefaultParams returns the configured defaults with an empty instruction.
func DefaultParams(cfg *config.Config) Params {
	if cfg == nil {
		def := config.Default()
		cfg = &def
	}
	return Params{
		NumInferenceStep: cfg.Generation.NumInferenceStep,
		Height:           cfg.Generation.Height,
		Width:            cfg.Generation.Width,
		GuidanceScale:    cfg.Generation.GuidanceScale,
	}
}

// FieldErrors maps a form field name to its validation message.
type FieldErrors map[string]string

func (fe FieldErrors) Error() string {
	keys := make([]string, 0, len(fe))
	for k := range fe {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, fe[k]))
	}
	return strings.Join(parts, "; ")
}

// Validate checks the parameters and returns nil when they are submittable.
func (p Params) Validate() FieldErrors {
	errs := FieldErrors{}
	if strings.TrimSpace(p.Instruction) == "" {
		errs["instruction"] = "Instruction is required"
	}
	if p.NumInferenceStep <= 0 {
		errs["num_inference_step"] = "Inference steps must be greater than zero"
	}
	if !slices.Contains(config.ImageDimensions, p.Height) {
		errs["height"] = fmt.Sprintf("Height must be one of %s", dimensionList())
	}
	if !slices.Contains(config.ImageDimensions, p.Width) {
		errs["width"] = fmt.Sprintf("Width must be one of %s", dimensionList())
	}
	if p.GuidanceScale <= 0 {
		errs["guidance_scale"] = "Guidance scale must be greater than zero"
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Request binds the parameters to the selected input images.
func (p Params) Request(images []string) api.JobRequest {
	return api.JobRequest{
		InputImages:      append([]string(nil), images...),
		Instruction:      strings.TrimSpace(p.Instruction),
		NumInferenceStep: p.NumInferenceStep,
		Height:           p.Height,
		Width:            p.Width,
		GuidanceScale:    p.GuidanceScale,
	}
}

func dimensionList() string {
	parts := make([]string, len(config.ImageDimensions))
	for i, d := range config.ImageDimensions {
		parts[i] = fmt.Sprint(d)
	}
	return strings.Join(parts, ", ")
}
