// Package capture drives a camera: it grabs still frames on demand or on a
// countdown and hands them to the ingestion uploader.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/petermazzocco/particle-monitor/internal/filename"
	"github.com/petermazzocco/particle-monitor/internal/ingest"
)

const (
	DefaultQuality = 80
	tickInterval   = time.Second
)

// Uploader sends one encoded frame to the ingestion endpoint.
type Uploader interface {
	Upload(ctx context.Context, p ingest.Payload, machineID string, onProgress ingest.ProgressFunc) error
}

// IntervalFunc returns the current capture interval in seconds. It is called
// again every time the countdown resets.
type IntervalFunc func() int

// UploadResult is passed to Config.OnUpload when an upload finishes.
type UploadResult struct {
	Filename string
	Bytes    int
	Err      error
}

type Config struct {
	Device    Device
	Uploader  Uploader
	MachineID string
	// Quality is the JPEG quality, 1-100.
	Quality int
	Logger  *slog.Logger

	OnUpload   func(UploadResult)
	OnProgress ingest.ProgressFunc
	// OnTick receives the countdown after every tick of the auto-capture loop.
	// Calls are made in order from a goroutine of their own, so the hook may
	// stop the camera or the loop.
	OnTick func(countdown int)

	newTicker func(time.Duration) ticker
	now       func() time.Time
}

// Capturer owns at most one open stream and at most one auto-capture loop.
type Capturer struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	stream    Stream
	facing    Facing
	countdown int
	stopLoop  context.CancelFunc
	loopDone  chan struct{}

	uploads sync.WaitGroup
}

func New(cfg Config) *Capturer {
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = DefaultQuality
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.newTicker == nil {
		cfg.newTicker = newTimeTicker
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &Capturer{
		cfg:    cfg,
		logger: cfg.Logger.With("machine_id", cfg.MachineID),
	}
}

// StartCamera opens the camera with the given facing mode. A camera that is
// already open with another facing mode is switched as by SwitchFacing. On
// failure a *DeviceError is returned; a camera that was not open stays closed.
func (c *Capturer) StartCamera(ctx context.Context, facing Facing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openLocked(ctx, facing, "camera started")
}

// SwitchFacing closes the open stream before opening one with the new
// facing mode, so two streams never coexist. An auto-capture loop keeps
// running across the switch.
func (c *Capturer) SwitchFacing(ctx context.Context, facing Facing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openLocked(ctx, facing, "camera switched")
}

func (c *Capturer) openLocked(ctx context.Context, facing Facing, msg string) error {
	if c.stream != nil && c.facing == facing {
		return nil
	}
	c.closeStreamLocked()

	stream, err := c.cfg.Device.Open(ctx, facing)
	if err != nil {
		c.logger.Warn("camera unavailable", "facing", facing, "error", err)
		return &DeviceError{Facing: facing, Err: err}
	}
	c.stream = stream
	c.facing = facing
	c.logger.Info(msg, "facing", facing)
	return nil
}

// StopCamera releases the stream and stops auto-capture. It is safe to call
// any number of times, including before StartCamera. Uploads already in
// flight are left to finish.
func (c *Capturer) StopCamera() {
	c.mu.Lock()
	wasActive := c.stream != nil
	c.closeStreamLocked()
	done := c.cancelLoopLocked()
	c.mu.Unlock()

	if done != nil {
		<-done
	}
	if wasActive {
		c.logger.Info("camera stopped")
	}
}

// Close is the teardown hook; it stops everything unconditionally.
func (c *Capturer) Close() error {
	c.StopCamera()
	return nil
}

func (c *Capturer) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream != nil
}

func (c *Capturer) Facing() Facing {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.facing
}

// AutoCapturing reports whether the countdown loop is running.
func (c *Capturer) AutoCapturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLoop != nil
}

// Countdown returns the seconds until the next automatic capture, or zero
// when auto-capture is off.
func (c *Capturer) Countdown() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.countdown
}

// Wait blocks until every upload started so far has finished.
func (c *Capturer) Wait() {
	c.uploads.Wait()
}

// CaptureFrame encodes the current frame as JPEG at the frame's native size.
// It returns false, after logging, when there is no frame to encode.
func (c *Capturer) CaptureFrame() ([]byte, bool) {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()

	if stream == nil {
		c.logger.Debug("capture skipped", "error", ErrCameraInactive)
		return nil, false
	}
	frame, err := stream.Frame()
	if err != nil {
		c.logger.Warn("capture skipped", "error", err)
		return nil, false
	}
	if frame == nil || frame.Bounds().Empty() {
		c.logger.Warn("capture skipped", "error", ErrNoFrame)
		return nil, false
	}

	data, err := encodeJPEG(frame, c.cfg.Quality)
	if err != nil {
		c.logger.Error("frame encoding failed", "error", err)
		return nil, false
	}
	return data, true
}

// CaptureAndUpload grabs a frame and uploads it in the background. It
// returns the generated filename, or false when nothing was captured.
func (c *Capturer) CaptureAndUpload() (string, bool) {
	data, ok := c.CaptureFrame()
	if !ok {
		return "", false
	}
	name := filename.Encode(c.cfg.MachineID, c.cfg.now(), uuid.NewString())
	c.UploadFrame(ingest.Payload{Filename: name, ContentType: "image/jpeg", Data: data})
	return name, true
}

// UploadFrame uploads p without blocking the caller. The outcome goes to
// Config.OnUpload; a failure never stops auto-capture.
func (c *Capturer) UploadFrame(p ingest.Payload) {
	c.uploads.Add(1)
	go func() {
		defer c.uploads.Done()
		// not tied to the camera's lifetime: in-flight uploads run to completion
		err := c.cfg.Uploader.Upload(context.Background(), p, c.cfg.MachineID, c.cfg.OnProgress)
		if err != nil {
			c.logger.Error("upload failed", "file", p.Filename, "error", err)
		} else {
			c.logger.Info("upload succeeded", "file", p.Filename, "bytes", len(p.Data))
		}
		if c.cfg.OnUpload != nil {
			c.cfg.OnUpload(UploadResult{Filename: p.Filename, Bytes: len(p.Data), Err: err})
		}
	}()
}

// StartAutoCapture runs the countdown loop: once per second the countdown
// drops by one, and when it would reach zero a frame is captured and
// uploaded and the countdown restarts from a fresh interval(). With
// immediate set, one frame is captured right away as well.
func (c *Capturer) StartAutoCapture(interval IntervalFunc, immediate bool) error {
	if interval == nil {
		return errors.New("interval func is required")
	}

	c.mu.Lock()
	if c.stream == nil {
		c.mu.Unlock()
		return ErrCameraInactive
	}
	done := c.cancelLoopLocked()
	c.mu.Unlock()
	if done != nil {
		<-done
	}

	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	t := c.cfg.newTicker(tickInterval)

	c.mu.Lock()
	if c.stopLoop != nil || c.stream == nil {
		c.mu.Unlock()
		cancel()
		t.Stop()
		return errors.New("auto capture state changed concurrently")
	}
	c.countdown = clampInterval(interval())
	c.stopLoop = cancel
	c.loopDone = loopDone
	c.mu.Unlock()

	c.logger.Info("auto capture started", "interval_seconds", c.Countdown())
	if immediate {
		c.CaptureAndUpload()
	}

	var hooks chan int
	if c.cfg.OnTick != nil {
		hooks = make(chan int)
		go func() {
			for n := range hooks {
				c.cfg.OnTick(n)
			}
		}()
	}

	go func() {
		defer close(loopDone)
		defer t.Stop()
		if hooks != nil {
			defer close(hooks)
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C():
				if !c.tick(ctx, interval, hooks) {
					return
				}
			}
		}
	}()
	return nil
}

// StopAutoCapture stops the countdown loop but leaves the camera open.
func (c *Capturer) StopAutoCapture() {
	c.mu.Lock()
	done := c.cancelLoopLocked()
	c.mu.Unlock()
	if done != nil {
		<-done
		c.logger.Info("auto capture stopped")
	}
}

// tick advances the countdown by one second. It returns false once the loop
// has been cancelled.
func (c *Capturer) tick(ctx context.Context, interval IntervalFunc, hooks chan<- int) bool {
	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return false
	}
	fire := c.countdown <= 1
	if fire {
		c.countdown = clampInterval(interval())
	} else {
		c.countdown--
	}
	countdown := c.countdown
	c.mu.Unlock()

	if hooks != nil {
		select {
		case hooks <- countdown:
		case <-ctx.Done():
			return false
		}
	}
	if fire {
		c.CaptureAndUpload()
	}
	return true
}

func (c *Capturer) closeStreamLocked() {
	if c.stream == nil {
		return
	}
	if err := c.stream.Close(); err != nil {
		c.logger.Warn("closing camera stream", "error", err)
	}
	c.stream = nil
}

// cancelLoopLocked cancels the loop and returns a channel that closes when
// the loop goroutine exits. The caller must wait on it after unlocking.
func (c *Capturer) cancelLoopLocked() chan struct{} {
	if c.stopLoop == nil {
		return nil
	}
	c.stopLoop()
	done := c.loopDone
	c.stopLoop = nil
	c.loopDone = nil
	c.countdown = 0
	return done
}

func clampInterval(seconds int) int {
	if seconds < 1 {
		return 1
	}
	return seconds
}

func encodeJPEG(frame image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
