package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"omniui/internal/upload"
)

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload input images",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}

			files := make([]upload.File, 0, len(args))
			for _, path := range args {
				f, err := upload.ReadFile(path)
				if err != nil {
					return err
				}
				files = append(files, f)
			}

			out := cmd.OutOrStdout()
			var onChange func(upload.Status)
			if !quiet {
				onChange = newUploadPrinter(out).print
			}
			mgr := upload.NewFromConfig(ctx.configValue(), client, ctx.notifier(cmd), ctx.loggerValue(), onChange)

			statuses, uploadErr := mgr.Upload(cmd.Context(), files...)
			fmt.Fprintln(out, renderUploadTable(statuses))
			if uploadErr != nil {
				return fmt.Errorf("%d of %d uploads failed", countFailed(statuses), len(statuses))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only print the final summary")
	return cmd
}

// uploadPrinter writes per-file progress in quarter steps. Status callbacks
// arrive from several goroutines.
type uploadPrinter struct {
	out io.Writer

	mu   sync.Mutex
	last map[string]int
}

func newUploadPrinter(out io.Writer) *uploadPrinter {
	return &uploadPrinter{out: out, last: make(map[string]int)}
}

func (p *uploadPrinter) print(status upload.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch status.State {
	case upload.StateUploading:
		step := status.Progress / 25
		if last, ok := p.last[status.Name]; ok && step <= last {
			return
		}
		p.last[status.Name] = step
		fmt.Fprintf(p.out, "%s %3d%%\n", status.Name, status.Progress)
	case upload.StateSucceeded:
		fmt.Fprintf(p.out, "%s done\n", status.Name)
	case upload.StateFailed:
		fmt.Fprintf(p.out, "%s failed: %s\n", status.Name, status.Message)
	}
}

func renderUploadTable(statuses []upload.Status) string {
	rows := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		stored := "-"
		size := "-"
		if s.State == upload.StateSucceeded {
			stored = s.Image.Filename
			size = upload.FormatSize(s.Image.Size)
		}
		result := titleLabel(string(s.State))
		if s.Message != "" {
			result = s.Message
		}
		rows = append(rows, []string{s.Name, stored, size, result})
	}
	return renderTable(
		[]string{"File", "Stored As", "Size", "Result"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
	)
}

func countFailed(statuses []upload.Status) int {
	n := 0
	for _, s := range statuses {
		if s.State == upload.StateFailed {
			n++
		}
	}
	return n
}
