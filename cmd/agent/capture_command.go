package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/petermazzocco/particle-monitor/internal/capture"
	"github.com/petermazzocco/particle-monitor/internal/ingest"
	"github.com/petermazzocco/particle-monitor/internal/notify"
	"github.com/spf13/cobra"
)

type captureOptions struct {
	machineID string
	facing    string
	interval  int
	quality   int
	once      bool
	immediate bool
}

func newCaptureCommand(ctx *commandContext) *cobra.Command {
	var opts captureOptions

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture frames from a camera and upload them on a countdown",
		Long: `Capture frames from a snapshot camera (CAMERA_URL_ENVIRONMENT / CAMERA_URL_USER)
and upload each one for detection. Send SIGUSR1 to switch between the rear
and front camera while running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapture(cmd, ctx, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.machineID, "machine", "m", "", "Machine ID the frames belong to")
	cmd.Flags().StringVar(&opts.facing, "facing", string(capture.FacingEnvironment), "Camera facing mode: environment or user")
	cmd.Flags().IntVarP(&opts.interval, "interval", "i", 5, "Seconds between automatic captures")
	cmd.Flags().IntVar(&opts.quality, "quality", capture.DefaultQuality, "JPEG quality (1-100)")
	cmd.Flags().BoolVar(&opts.once, "once", false, "Capture and upload a single frame, then exit")
	cmd.Flags().BoolVar(&opts.immediate, "immediate", true, "Capture one frame as soon as auto-capture starts")
	_ = cmd.MarkFlagRequired("machine")

	return cmd
}

func runCapture(cmd *cobra.Command, ctx *commandContext, opts captureOptions) error {
	facing := capture.Facing(strings.ToLower(strings.TrimSpace(opts.facing)))
	if !facing.Valid() {
		return fmt.Errorf("unknown facing mode %q (want environment or user)", opts.facing)
	}
	if opts.interval < 1 {
		return fmt.Errorf("interval must be at least 1 second")
	}

	cfg := ctx.config
	device := capture.NewSnapshotDevice(map[capture.Facing]string{
		capture.FacingEnvironment: cfg.CameraURLEnvironment,
		capture.FacingUser:        cfg.CameraURLUser,
	})
	notifier := ctx.notifier()
	defer notifier.Close()

	out := cmd.OutOrStdout()
	status := cmd.ErrOrStderr()
	capturer := capture.New(capture.Config{
		Device:    device,
		Uploader:  ctx.client(),
		MachineID: opts.machineID,
		Quality:   opts.quality,
		Logger:    ctx.logger(),
		OnUpload: func(r capture.UploadResult) {
			event := notify.UploadEvent{MachineID: opts.machineID, Filename: r.Filename, Bytes: r.Bytes}
			if r.Err != nil {
				event.Error = r.Err.Error()
				fmt.Fprintf(out, "✗ %s: %s\n", r.Filename, uploadErrorText(r.Err))
			} else {
				fmt.Fprintf(out, "✓ %s (%s)\n", r.Filename, humanize.Bytes(uint64(r.Bytes)))
			}
			_ = notifier.Upload(context.Background(), event)
		},
		OnTick: func(countdown int) {
			fmt.Fprint(status, countdownLine(countdown))
		},
	})
	defer capturer.Wait()
	defer capturer.Close()

	runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := capturer.StartCamera(runCtx, facing); err != nil {
		return err
	}

	if opts.once {
		if _, ok := capturer.CaptureAndUpload(); !ok {
			return errors.New("no frame available from camera")
		}
		return nil
	}

	if err := capturer.StartAutoCapture(func() int { return opts.interval }, opts.immediate); err != nil {
		return err
	}
	fmt.Fprintf(out, "Capturing every %ds from the %s camera; Ctrl-C to stop\n", opts.interval, facing)

	switchFacing := make(chan os.Signal, 1)
	signal.Notify(switchFacing, syscall.SIGUSR1)
	defer signal.Stop(switchFacing)

	for {
		select {
		case <-runCtx.Done():
			fmt.Fprintln(out, "Stopping capture")
			return nil
		case <-switchFacing:
			next := capture.FacingUser
			if capturer.Facing() == capture.FacingUser {
				next = capture.FacingEnvironment
			}
			if err := capturer.SwitchFacing(runCtx, next); err != nil {
				fmt.Fprintf(out, "Could not switch camera: %v\n", err)
				continue
			}
			fmt.Fprintf(out, "Switched to the %s camera\n", next)
		}
	}
}

// countdownLine redraws the countdown in place on a terminal.
func countdownLine(seconds int) string {
	return fmt.Sprintf("\rnext capture in %2ds", seconds)
}

func uploadErrorText(err error) string {
	var uploadErr *ingest.UploadError
	if errors.As(err, &uploadErr) {
		return fmt.Sprintf("server answered %s", uploadErr.Status)
	}
	return err.Error()
}
