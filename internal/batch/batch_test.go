package batch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/petermazzocco/particle-monitor/internal/ingest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingUploader struct {
	mu       sync.Mutex
	order    []string
	inFlight int
	maxSeen  int
	failOn   map[string]error
}

func (u *recordingUploader) Upload(_ context.Context, p ingest.Payload, machineID string, _ ingest.ProgressFunc) error {
	u.mu.Lock()
	u.inFlight++
	if u.inFlight > u.maxSeen {
		u.maxSeen = u.inFlight
	}
	u.order = append(u.order, p.Filename)
	err := u.failOn[p.Filename]
	u.inFlight--
	u.mu.Unlock()
	return err
}

func newTestBatch(u Uploader, opts Options) *Batch {
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(u, opts)
}

func TestAddAppendsAndRemove(t *testing.T) {
	b := newTestBatch(&recordingUploader{}, Options{})

	require.NoError(t, b.Add(BytesItem("a.jpg", nil), BytesItem("b.jpg", nil)))
	require.NoError(t, b.Add(BytesItem("c.jpg", nil)))
	assert.Equal(t, 3, b.Len())

	require.NoError(t, b.Remove(1))
	items := b.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "a.jpg", items[0].Name)
	assert.Equal(t, "c.jpg", items[1].Name)

	assert.Error(t, b.Remove(5))
	assert.Error(t, b.Remove(-1))
}

func TestUpload_AllSucceed(t *testing.T) {
	u := &recordingUploader{}
	var progress [][2]int
	b := newTestBatch(u, Options{OnProgress: func(done, total int) {
		progress = append(progress, [2]int{done, total})
	}})
	require.NoError(t, b.Add(BytesItem("1.jpg", []byte("a")), BytesItem("2.jpg", []byte("b")), BytesItem("3.jpg", []byte("c"))))

	report, err := b.Upload(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "3/3 uploaded", report.String())
	assert.True(t, report.AllSucceeded())
	assert.Empty(t, report.Failed)
	assert.Zero(t, b.Len(), "selection is cleared on full success")

	assert.Equal(t, []string{"1.jpg", "2.jpg", "3.jpg"}, u.order)
	assert.Equal(t, 1, u.maxSeen, "uploads must be sequential")
	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, progress)
}

func TestUpload_PartialFailure(t *testing.T) {
	u := &recordingUploader{failOn: map[string]error{
		"2.jpg": &ingest.UploadError{StatusCode: 500, Status: "500 Internal Server Error", Body: "boom"},
		"4.jpg": errors.New("connection reset"),
	}}
	b := newTestBatch(u, Options{})
	for _, name := range []string{"1.jpg", "2.jpg", "3.jpg", "4.jpg", "5.jpg"} {
		require.NoError(t, b.Add(BytesItem(name, []byte(name))))
	}

	report, err := b.Upload(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "3/5 uploaded", report.String())
	assert.False(t, report.AllSucceeded())
	require.Len(t, report.Failed, 2)
	assert.Equal(t, "2.jpg", report.Failed[0].Name)
	assert.Equal(t, "4.jpg", report.Failed[1].Name)

	// every file was attempted despite the failures
	assert.Len(t, u.order, 5)

	items := b.Items()
	require.Len(t, items, 5, "selection is kept after a partial failure")
	for _, it := range items {
		if it.Name == "2.jpg" || it.Name == "4.jpg" {
			assert.Equal(t, StatusFailed, it.Status)
			assert.Error(t, it.Err)
		} else {
			assert.Equal(t, StatusUploaded, it.Status)
			assert.NoError(t, it.Err)
		}
	}
}

func TestUpload_FileItemReadError(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.png")
	require.NoError(t, os.WriteFile(good, []byte("png"), 0o600))

	u := &recordingUploader{}
	b := newTestBatch(u, Options{})
	require.NoError(t, b.Add(FileItem(good), FileItem(filepath.Join(dir, "missing.png"))))

	report, err := b.Upload(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "1/2 uploaded", report.String())
	require.Len(t, report.Failed, 1)
	assert.ErrorIs(t, report.Failed[0].Err, os.ErrNotExist)
	assert.Equal(t, []string{"good.png"}, u.order)
}

func TestUpload_Empty(t *testing.T) {
	b := newTestBatch(&recordingUploader{}, Options{})
	_, err := b.Upload(context.Background(), "m1")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestUpload_Cancelled(t *testing.T) {
	u := &recordingUploader{}
	ctx, cancel := context.WithCancel(context.Background())
	b := newTestBatch(u, Options{OnFileDone: func(Item) { cancel() }})
	require.NoError(t, b.Add(BytesItem("1.jpg", nil), BytesItem("2.jpg", nil)))

	report, err := b.Upload(ctx, "m1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, []string{"1.jpg"}, u.order)
	assert.Equal(t, 2, b.Len())
}
