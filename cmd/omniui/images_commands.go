package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"omniui/internal/api"
	"omniui/internal/upload"
)

func newImagesCommand(ctx *commandContext) *cobra.Command {
	imagesCmd := &cobra.Command{
		Use:   "images",
		Short: "List and delete stored images",
	}
	imagesCmd.AddCommand(newImagesListCommand(ctx))
	imagesCmd.AddCommand(newImagesDeleteCommand(ctx))
	return imagesCmd
}

func newImagesListCommand(ctx *commandContext) *cobra.Command {
	var output bool
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List input images (or generated images with --output)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			folder := api.FolderInput
			list := client.ListInputImages
			if output {
				folder = api.FolderOutput
				list = client.ListOutputImages
			}
			images, err := list(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, images)
			}

			out := cmd.OutOrStdout()
			if len(images) == 0 {
				fmt.Fprintf(out, "No %s images\n", folder)
				return nil
			}
			fmt.Fprintln(out, renderImageTable(client, folder, images))
			return nil
		},
	}

	cmd.Flags().BoolVar(&output, "output", false, "List generated output images")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func renderImageTable(client *api.Client, folder api.Folder, images []api.Image) string {
	rows := make([][]string, 0, len(images))
	for _, img := range images {
		created := "-"
		if ts, ok := img.CreatedAt(); ok {
			created = ts.Format("2006-01-02 15:04")
		}
		size := "-"
		if img.Size > 0 {
			size = upload.FormatSize(img.Size)
		}
		url := strings.TrimSpace(img.URL)
		if url == "" {
			url = client.ImageURL(folder, img.Filename)
		}
		rows = append(rows, []string{img.Filename, size, created, url})
	}
	return renderTable(
		[]string{"Filename", "Size", "Created", "URL"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft},
	)
}

func newImagesDeleteCommand(ctx *commandContext) *cobra.Command {
	var output bool

	cmd := &cobra.Command{
		Use:   "delete <filename>...",
		Short: "Delete stored images",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			notifier := ctx.notifier(cmd)
			out := cmd.OutOrStdout()

			if output {
				var failed int
				for _, name := range args {
					if _, err := client.DeleteOutputImage(cmd.Context(), name); err != nil {
						notifier.Error(cmd.Context(), fmt.Sprintf("Delete failed: %s", api.Message(err)))
						failed++
						continue
					}
					notifier.Success(cmd.Context(), fmt.Sprintf("Deleted %s", name))
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d deletions failed", failed, len(args))
				}
				return nil
			}

			mgr := upload.NewFromConfig(ctx.configValue(), client, notifier, ctx.loggerValue(), nil)
			var failed int
			for _, name := range args {
				if err := mgr.Delete(cmd.Context(), name); err != nil {
					failed++
				}
			}
			fmt.Fprintf(out, "%d input images remain\n", len(mgr.Images()))
			if failed > 0 {
				return fmt.Errorf("%d of %d deletions failed", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&output, "output", false, "Delete generated output images")
	return cmd
}
