package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/petermazzocco/particle-monitor/internal/batch"
	"github.com/petermazzocco/particle-monitor/internal/notify"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var machineID string

	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload image files one at a time",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items := make([]batch.Item, 0, len(args))
			for _, path := range args {
				items = append(items, batch.FileItem(path))
			}
			return runUpload(cmd, ctx, machineID, items)
		},
	}
	cmd.Flags().StringVarP(&machineID, "machine", "m", "", "Machine ID the images belong to")
	_ = cmd.MarkFlagRequired("machine")
	return cmd
}

func runUpload(cmd *cobra.Command, ctx *commandContext, machineID string, items []batch.Item) error {
	out := cmd.OutOrStdout()
	notifier := ctx.notifier()
	defer notifier.Close()

	bar := progressbar.NewOptions(len(items),
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionSetDescription("uploading"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	b := batch.New(ctx.client(), batch.Options{
		Logger: ctx.logger(),
		OnProgress: func(completed, total int) {
			_ = bar.Set(completed)
		},
		OnFileDone: func(it batch.Item) {
			event := notify.UploadEvent{MachineID: machineID, Filename: it.Name}
			if it.Err != nil {
				event.Error = it.Err.Error()
			}
			_ = notifier.Upload(context.Background(), event)
		},
	})
	if err := b.Add(items...); err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := b.Upload(runCtx, machineID)
	_ = bar.Finish()
	if errors.Is(err, batch.ErrEmpty) {
		return err
	}

	for _, f := range report.Failed {
		fmt.Fprintf(out, "✗ %s: %s\n", f.Name, uploadErrorText(f.Err))
	}
	fmt.Fprintln(out, report.String())

	if err != nil {
		return err
	}
	if !report.AllSucceeded() {
		return fmt.Errorf("%d of %d uploads failed", report.Total-report.Succeeded, report.Total)
	}
	return nil
}
