package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"omniui/internal/api"
	"omniui/internal/boundary"
	"omniui/internal/generation"
)

// cancelTimeout bounds the backend cancel issued after an interrupt.
const cancelTimeout = 10 * time.Second

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	var images []string
	var instruction string
	var steps, height, width int
	var guidance float64
	var detach bool

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate an image from selected inputs and an instruction",
		Long: "Generate submits the selected input images together with an instruction and\n" +
			"follows the job until it completes, fails or is cancelled. Interrupting the\n" +
			"command cancels the job on the backend.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			cfg := ctx.configValue()
			notifier := ctx.notifier(cmd)
			orch := generation.NewOrchestratorFromConfig(cfg, client, notifier, ctx.loggerValue())
			defer orch.Close()

			params := generation.DefaultParams(cfg)
			params.Instruction = instruction
			flags := cmd.Flags()
			if flags.Changed("steps") {
				params.NumInferenceStep = steps
			}
			if flags.Changed("height") {
				params.Height = height
			}
			if flags.Changed("width") {
				params.Width = width
			}
			if flags.Changed("guidance") {
				params.GuidanceScale = guidance
			}
			orch.Form().SetParams(params)
			for _, name := range images {
				name = strings.TrimSpace(name)
				if name != "" && !orch.IsSelected(name) {
					orch.Toggle(name)
				}
			}

			out := cmd.OutOrStdout()
			if detach {
				handle, err := orch.Generate(cmd.Context())
				if err != nil {
					return generateError(err)
				}
				fmt.Fprintln(out, renderField("Process", handle.ProcessID))
				return nil
			}

			follower := newJobFollower(out, shouldColorize(out))
			orch.Observe(follower.observe)
			if _, err := orch.Generate(cmd.Context()); err != nil {
				return generateError(err)
			}
			return follower.wait(cmd.Context(), orch, boundary.Options{Notifier: notifier, Logger: ctx.loggerValue()})
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVarP(&images, "image", "i", nil, "Input image filename (repeatable, order is preserved)")
	flags.StringVarP(&instruction, "instruction", "p", "", "Editing instruction")
	flags.IntVar(&steps, "steps", 0, "Number of inference steps")
	flags.IntVar(&height, "height", 0, "Output height in pixels")
	flags.IntVar(&width, "width", 0, "Output width in pixels")
	flags.Float64Var(&guidance, "guidance", 0, "Guidance scale")
	flags.BoolVar(&detach, "detach", false, "Print the process id and exit without following the job")
	return cmd
}

// generateError prefers the form's field errors, which carry the per-field
// messages, over the wrapped validation error.
func generateError(err error) error {
	var fieldErrs generation.FieldErrors
	if errors.As(err, &fieldErrs) {
		return fmt.Errorf("invalid parameters: %s", fieldErrs.Error())
	}
	return err
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <process-id>",
		Short: "Follow a running generation job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			notifier := ctx.notifier(cmd)
			orch := generation.NewOrchestratorFromConfig(ctx.configValue(), client, notifier, ctx.loggerValue())
			defer orch.Close()

			out := cmd.OutOrStdout()
			follower := newJobFollower(out, shouldColorize(out))
			orch.Observe(follower.observe)
			if err := orch.Track(cmd.Context(), args[0]); err != nil {
				return err
			}
			return follower.wait(cmd.Context(), orch, boundary.Options{Notifier: notifier, Logger: ctx.loggerValue()})
		},
	}
}

// jobFollower prints progress lines and signals once the job stops.
type jobFollower struct {
	out      io.Writer
	colorize bool

	mu       sync.Mutex
	last     int
	done     chan struct{}
	doneOnce sync.Once
}

func newJobFollower(out io.Writer, colorize bool) *jobFollower {
	return &jobFollower{out: out, colorize: colorize, last: -1, done: make(chan struct{})}
}

func (f *jobFollower) observe(ev generation.Event, view generation.View) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch e := ev.(type) {
	case generation.Started:
		f.last = -1
		fmt.Fprintln(f.out, renderStatusLine("Generation", statusInfo, "submitting", f.colorize))
	case generation.Progress:
		if e.Progress == f.last {
			return
		}
		f.last = e.Progress
		fmt.Fprintln(f.out, renderStatusLine("Progress", statusInfo, fmt.Sprintf("%3d%% (%s)", e.Progress, e.ProcessID), f.colorize))
	case generation.Completed, generation.Failed, generation.Cancelled:
		f.doneOnce.Do(func() { close(f.done) })
	}
}

// wait blocks until the job stops. An interrupt cancels the job first. The
// final view is rendered through a boundary with one retry.
func (f *jobFollower) wait(ctx context.Context, orch *generation.Orchestrator, opts boundary.Options) error {
	interrupted := false
	select {
	case <-f.done:
	case <-ctx.Done():
		interrupted = true
		cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
		_ = orch.Cancel(cancelCtx)
		cancel()
	}

	view := orch.View()
	b := boundary.New(func(w io.Writer) error {
		return renderResult(w, view, f.colorize)
	}, opts)
	if err := b.Render(ctx, f.out); err != nil {
		if retryErr := b.Retry(ctx, f.out); retryErr != nil {
			return retryErr
		}
	}

	if interrupted {
		return context.Canceled
	}
	return resultError(view)
}

func renderResult(w io.Writer, view generation.View, colorize bool) error {
	result := view.Result
	if result == nil {
		return errors.New("job finished without a result")
	}
	lines := make([]string, 0, 3)
	switch result.Status {
	case generation.StateCompleted:
		lines = append(lines, renderStatusLine("Result", statusOK, "Completed", colorize))
		if result.OutputURL != "" {
			lines = append(lines, renderField("Output", result.OutputURL))
		}
	case generation.StateFailed:
		lines = append(lines, renderStatusLine("Result", statusError, "Failed", colorize))
		lines = append(lines, renderField("Error", result.Error))
	case generation.StateCancelled:
		lines = append(lines, renderStatusLine("Result", statusWarn, "Cancelled", colorize))
	default:
		return fmt.Errorf("unexpected result state %q", result.Status)
	}
	if view.ProcessID != "" {
		lines = append(lines, renderField("Process", view.ProcessID))
	}
	_, err := fmt.Fprintln(w, strings.Join(lines, "\n"))
	return err
}

func resultError(view generation.View) error {
	if view.Result == nil {
		return errors.New("generation did not finish")
	}
	switch view.Result.Status {
	case generation.StateCompleted:
		return nil
	case generation.StateFailed:
		return fmt.Errorf("generation failed: %s", view.Result.Error)
	default:
		return errors.New("generation cancelled")
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	var retries int

	cmd := &cobra.Command{
		Use:   "status <process-id>",
		Short: "Show the status of a generation job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			processID := args[0]
			if jsonOut {
				snap, err := client.Status(cmd.Context(), processID)
				if err != nil {
					return err
				}
				return writeJSON(cmd, snap)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			var snap *api.StatusSnapshot
			render := func(w io.Writer) error {
				if snap == nil {
					fetched, err := client.Status(cmd.Context(), processID)
					if err != nil {
						return err
					}
					snap = &fetched
				}
				return renderSnapshot(w, client, *snap, colorize)
			}

			var b *boundary.Boundary
			b = boundary.New(render, boundary.Options{
				Notifier: ctx.notifier(cmd),
				Logger:   ctx.loggerValue(),
				Reload: func(rctx context.Context) error {
					snap = nil
					return b.Render(rctx, out)
				},
			})
			err = b.Render(cmd.Context(), out)
			for attempt := 0; err != nil && attempt < retries; attempt++ {
				err = b.Reload(cmd.Context())
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&retries, "retries", 0, "Re-fetch the status this many times after a failure")
	return cmd
}

func renderSnapshot(w io.Writer, client *api.Client, snap api.StatusSnapshot, colorize bool) error {
	kind := statusInfo
	switch snap.Status {
	case api.JobCompleted:
		kind = statusOK
	case api.JobFailed:
		kind = statusError
	case api.JobCancelled:
		kind = statusWarn
	}
	lines := []string{
		renderStatusLine("Status", kind, titleLabel(string(snap.Status)), colorize),
		renderField("Progress", fmt.Sprintf("%d%%", snap.Progress)),
	}
	if snap.StartTime > 0 {
		started := time.Unix(int64(snap.StartTime), 0)
		lines = append(lines, renderField("Started", started.Format("2006-01-02 15:04:05")))
	}
	if name := snap.OutputFilename(); name != "" && snap.Status == api.JobCompleted {
		lines = append(lines, renderField("Output", client.ImageURL(api.FolderOutput, name)))
	}
	if snap.Error != "" {
		lines = append(lines, renderField("Error", snap.Error))
	}
	_, err := fmt.Fprintln(w, strings.Join(lines, "\n"))
	return err
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <process-id>",
		Short: "Cancel a generation job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			notifier := ctx.notifier(cmd)
			resp, err := client.Cancel(cmd.Context(), args[0])
			if err != nil {
				notifier.Error(cmd.Context(), "Failed to cancel generation: "+api.Message(err))
				return err
			}
			notifier.Success(cmd.Context(), "Generation cancelled")
			message := strings.TrimSpace(resp.Message)
			if message == "" {
				message = "Process cancelled"
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderField("Process", args[0]+" ("+message+")"))
			return nil
		},
	}
}
