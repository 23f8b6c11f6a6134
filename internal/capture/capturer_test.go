package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petermazzocco/particle-monitor/internal/filename"
	"github.com/petermazzocco/particle-monitor/internal/ingest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// TestMain provides goleak verification to detect goroutine leaks
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

type fakeStream struct {
	device  *fakeDevice
	facing  Facing
	noFrame bool
	closed  atomic.Bool
}

func (s *fakeStream) Frame() (image.Image, error) {
	if s.closed.Load() {
		return nil, ErrCameraInactive
	}
	if s.noFrame {
		return nil, ErrNoFrame
	}
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for x := 0; x < 64; x++ {
		img.Set(x, x%48, color.RGBA{R: 200, A: 255})
	}
	return img, nil
}

func (s *fakeStream) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.device.open.Add(-1)
	}
	return nil
}

type fakeDevice struct {
	open    atomic.Int32
	opened  atomic.Int32
	peak    atomic.Int32
	deny    map[Facing]bool
	noFrame bool
}

func (d *fakeDevice) Open(_ context.Context, facing Facing) (Stream, error) {
	if d.deny[facing] {
		return nil, errors.New("permission denied")
	}
	n := d.open.Add(1)
	for {
		p := d.peak.Load()
		if n <= p || d.peak.CompareAndSwap(p, n) {
			break
		}
	}
	d.opened.Add(1)
	return &fakeStream{device: d, facing: facing, noFrame: d.noFrame}, nil
}

type fakeUploader struct {
	mu    sync.Mutex
	files []string
	fail  error
}

func (u *fakeUploader) Upload(_ context.Context, p ingest.Payload, machineID string, onProgress ingest.ProgressFunc) error {
	u.mu.Lock()
	u.files = append(u.files, p.Filename)
	u.mu.Unlock()
	if onProgress != nil {
		onProgress(ingest.Progress{Sent: int64(len(p.Data)), Total: int64(len(p.Data))})
	}
	return u.fail
}

func (u *fakeUploader) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.files)
}

type manualTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }
func (t *manualTicker) Stop()               { t.stopped.Store(true) }

type harness struct {
	capturer *Capturer
	device   *fakeDevice
	uploader *fakeUploader
	ticker   *manualTicker
	ticks    chan int
	results  chan UploadResult
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		device:   &fakeDevice{deny: map[Facing]bool{}},
		uploader: &fakeUploader{},
		ticker:   &manualTicker{ch: make(chan time.Time)},
		ticks:    make(chan int, 64),
		results:  make(chan UploadResult, 64),
	}
	h.capturer = New(Config{
		Device:    h.device,
		Uploader:  h.uploader,
		MachineID: "machine-1",
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnTick:    func(n int) { h.ticks <- n },
		OnUpload:  func(r UploadResult) { h.results <- r },
		newTicker: func(time.Duration) ticker { return h.ticker },
	})
	t.Cleanup(func() {
		h.capturer.Close()
		h.capturer.Wait()
	})
	return h
}

// tick delivers one tick and waits until the loop has handled it.
func (h *harness) tick(t *testing.T) int {
	t.Helper()
	h.ticker.ch <- time.Now()
	select {
	case n := <-h.ticks:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("tick was not processed")
		return 0
	}
}

func TestStopCamera_Idempotent(t *testing.T) {
	h := newHarness(t)

	assert.NotPanics(t, func() { h.capturer.StopCamera() }, "stop before start")

	require.NoError(t, h.capturer.StartCamera(context.Background(), FacingEnvironment))
	require.True(t, h.capturer.Active())

	for i := 0; i < 3; i++ {
		h.capturer.StopCamera()
	}
	assert.False(t, h.capturer.Active())
	assert.Equal(t, int32(0), h.device.open.Load())
}

func TestStartCamera_Denied(t *testing.T) {
	h := newHarness(t)
	h.device.deny[FacingUser] = true

	err := h.capturer.StartCamera(context.Background(), FacingUser)
	var devErr *DeviceError
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, FacingUser, devErr.Facing)
	assert.False(t, h.capturer.Active())

	require.NoError(t, h.capturer.StartCamera(context.Background(), FacingEnvironment))
	err = h.capturer.StartCamera(context.Background(), FacingUser)
	require.ErrorAs(t, err, &devErr)
	assert.False(t, h.capturer.Active(), "the old stream is stopped before the new facing is requested")
	assert.Equal(t, int32(0), h.device.open.Load())
}

func TestStartCamera_FacingChangeClosesFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.capturer.StartCamera(ctx, FacingUser))
	require.NoError(t, h.capturer.StartCamera(ctx, FacingEnvironment))

	assert.Equal(t, int32(1), h.device.peak.Load(), "two streams were open at once")
	assert.Equal(t, int32(1), h.device.open.Load())
	assert.Equal(t, FacingEnvironment, h.capturer.Facing())

	require.NoError(t, h.capturer.StartCamera(ctx, FacingEnvironment))
	assert.Equal(t, int32(2), h.device.opened.Load(), "same facing is a no-op")
}

func TestSwitchFacing_ExactlyOneStream(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.capturer.StartCamera(ctx, FacingEnvironment))
	for _, f := range []Facing{FacingUser, FacingEnvironment, FacingUser, FacingUser} {
		require.NoError(t, h.capturer.SwitchFacing(ctx, f))
		assert.Equal(t, int32(1), h.device.open.Load(), "after switching to %s", f)
		assert.Equal(t, f, h.capturer.Facing())
	}
	// switching to the current facing mode is a no-op
	assert.Equal(t, int32(4), h.device.opened.Load())
	assert.Equal(t, int32(1), h.device.peak.Load())
}

func TestCaptureFrame(t *testing.T) {
	t.Run("encodes jpeg at native size", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.capturer.StartCamera(context.Background(), FacingEnvironment))

		data, ok := h.capturer.CaptureFrame()
		require.True(t, ok)
		cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, "jpeg", format)
		assert.Equal(t, 64, cfg.Width)
		assert.Equal(t, 48, cfg.Height)
	})

	t.Run("no frame yet", func(t *testing.T) {
		h := newHarness(t)
		h.device.noFrame = true
		require.NoError(t, h.capturer.StartCamera(context.Background(), FacingEnvironment))

		data, ok := h.capturer.CaptureFrame()
		assert.False(t, ok)
		assert.Nil(t, data)
	})

	t.Run("camera inactive", func(t *testing.T) {
		h := newHarness(t)
		_, ok := h.capturer.CaptureFrame()
		assert.False(t, ok)
	})
}

func TestCaptureAndUpload_UsesNamingConvention(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.capturer.StartCamera(context.Background(), FacingEnvironment))

	name, ok := h.capturer.CaptureAndUpload()
	require.True(t, ok)
	h.capturer.Wait()

	parsed, err := filename.Parse(name)
	require.NoError(t, err)
	assert.Equal(t, "machine-1", parsed.MachineID)
	assert.Equal(t, filename.KindOriginal, parsed.Kind)
	assert.Equal(t, 1, h.uploader.count())
}

func TestAutoCapture_FiresOncePerInterval(t *testing.T) {
	for _, interval := range []int{1, 2, 3, 5} {
		t.Run(fmt.Sprintf("every %ds", interval), func(t *testing.T) {
			h := newHarness(t)
			require.NoError(t, h.capturer.StartCamera(context.Background(), FacingEnvironment))
			require.NoError(t, h.capturer.StartAutoCapture(func() int { return interval }, false))
			assert.Equal(t, interval, h.capturer.Countdown())

			cycles := 4
			for i := 0; i < interval*cycles; i++ {
				h.tick(t)
			}
			h.capturer.StopAutoCapture()
			h.capturer.Wait()

			assert.Equal(t, cycles, h.uploader.count())
			assert.Zero(t, h.capturer.Countdown())
			assert.True(t, h.ticker.stopped.Load())
		})
	}
}

func TestAutoCapture_CountdownSequence(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.capturer.StartCamera(context.Background(), FacingEnvironment))
	require.NoError(t, h.capturer.StartAutoCapture(func() int { return 3 }, true))
	h.capturer.Wait()
	assert.Equal(t, 1, h.uploader.count(), "immediate capture")

	got := []int{h.tick(t), h.tick(t), h.tick(t), h.tick(t)}
	assert.Equal(t, []int{2, 1, 3, 2}, got)
}

func TestAutoCapture_RereadsInterval(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.capturer.StartCamera(context.Background(), FacingEnvironment))

	var calls atomic.Int32
	interval := func() int {
		if calls.Add(1) == 1 {
			return 2
		}
		return 4
	}
	require.NoError(t, h.capturer.StartAutoCapture(interval, false))

	for i := 0; i < 10; i++ {
		h.tick(t)
	}
	h.capturer.StopAutoCapture()
	h.capturer.Wait()

	// fires at ticks 2, 6 and 10
	assert.Equal(t, 3, h.uploader.count())
}

func TestAutoCapture_UploadFailureKeepsLooping(t *testing.T) {
	h := newHarness(t)
	h.uploader.fail = errors.New("ingestion down")
	require.NoError(t, h.capturer.StartCamera(context.Background(), FacingEnvironment))
	require.NoError(t, h.capturer.StartAutoCapture(func() int { return 1 }, false))

	for i := 0; i < 3; i++ {
		h.tick(t)
	}
	h.capturer.StopAutoCapture()
	h.capturer.Wait()

	assert.Equal(t, 3, h.uploader.count())
	for i := 0; i < 3; i++ {
		r := <-h.results
		assert.EqualError(t, r.Err, "ingestion down")
	}
}

func TestAutoCapture_ClampsInterval(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.capturer.StartCamera(context.Background(), FacingEnvironment))
	require.NoError(t, h.capturer.StartAutoCapture(func() int { return 0 }, false))
	assert.Equal(t, 1, h.capturer.Countdown())
}

func TestAutoCapture_RequiresCamera(t *testing.T) {
	h := newHarness(t)
	err := h.capturer.StartAutoCapture(func() int { return 5 }, false)
	assert.ErrorIs(t, err, ErrCameraInactive)
}

func TestStopCamera_StopsAutoCapture(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.capturer.StartCamera(context.Background(), FacingEnvironment))
	require.NoError(t, h.capturer.StartAutoCapture(func() int { return 5 }, false))
	require.True(t, h.capturer.AutoCapturing())

	h.capturer.StopCamera()
	assert.False(t, h.capturer.AutoCapturing())
	assert.False(t, h.capturer.Active())
	assert.Zero(t, h.capturer.Countdown())
	assert.True(t, h.ticker.stopped.Load())
}

func TestAutoCapture_TickHookMayStop(t *testing.T) {
	stops := map[string]func(*Capturer){
		"stop auto capture": (*Capturer).StopAutoCapture,
		"stop camera":       (*Capturer).StopCamera,
	}
	for name, stop := range stops {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			returned := make(chan struct{})
			h.capturer.cfg.OnTick = func(int) {
				stop(h.capturer)
				close(returned)
			}
			require.NoError(t, h.capturer.StartCamera(context.Background(), FacingEnvironment))
			require.NoError(t, h.capturer.StartAutoCapture(func() int { return 5 }, false))

			h.ticker.ch <- time.Now()
			select {
			case <-returned:
			case <-time.After(2 * time.Second):
				t.Fatal("stopping from the tick hook did not return")
			}
			assert.False(t, h.capturer.AutoCapturing())
			assert.Eventually(t, h.ticker.stopped.Load, 2*time.Second, 10*time.Millisecond)
		})
	}
}
