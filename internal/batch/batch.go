// Package batch uploads a user's file selection to the ingestion endpoint,
// one file at a time.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sync"

	"github.com/petermazzocco/particle-monitor/internal/ingest"
)

var (
	ErrEmpty = errors.New("no files selected")
	ErrBusy  = errors.New("upload in progress")
)

type Status string

const (
	StatusQueued   Status = "queued"
	StatusUploaded Status = "uploaded"
	StatusFailed   Status = "failed"
)

// Uploader is satisfied by *ingest.Client.
type Uploader interface {
	Upload(ctx context.Context, p ingest.Payload, machineID string, onProgress ingest.ProgressFunc) error
}

// Item is one selected file.
type Item struct {
	Name   string
	Status Status
	Err    error
	load   func() ([]byte, error)
}

// FileItem selects a file on disk. It is read when its turn to upload comes.
func FileItem(path string) Item {
	return Item{
		Name:   filepath.Base(path),
		Status: StatusQueued,
		load:   func() ([]byte, error) { return os.ReadFile(path) },
	}
}

// BytesItem selects in-memory data.
func BytesItem(name string, data []byte) Item {
	return Item{
		Name:   name,
		Status: StatusQueued,
		load:   func() ([]byte, error) { return data, nil },
	}
}

type FileError struct {
	Name string
	Err  error
}

// Report summarizes one Upload run.
type Report struct {
	Succeeded int
	Total     int
	Failed    []FileError
}

func (r Report) AllSucceeded() bool {
	return r.Total > 0 && r.Succeeded == r.Total
}

func (r Report) String() string {
	return fmt.Sprintf("%d/%d uploaded", r.Succeeded, r.Total)
}

type Options struct {
	Logger *slog.Logger
	// OnProgress is called after each file with the number of files done.
	OnProgress func(completed, total int)
	// OnFileProgress receives byte progress of the file being uploaded.
	OnFileProgress ingest.ProgressFunc
	// OnFileDone is called with each finished item.
	OnFileDone func(Item)
}

type Batch struct {
	uploader Uploader
	opts     Options

	mu        sync.Mutex
	items     []Item
	uploading bool
}

func New(uploader Uploader, opts Options) *Batch {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Batch{uploader: uploader, opts: opts}
}

// Add appends to the selection; earlier selections are kept.
func (b *Batch) Add(items ...Item) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.uploading {
		return ErrBusy
	}
	for _, it := range items {
		it.Status = StatusQueued
		it.Err = nil
		b.items = append(b.items, it)
	}
	return nil
}

// Remove drops the item at index i.
func (b *Batch) Remove(i int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.uploading {
		return ErrBusy
	}
	if i < 0 || i >= len(b.items) {
		return fmt.Errorf("remove index %d: selection has %d files", i, len(b.items))
	}
	b.items = append(b.items[:i], b.items[i+1:]...)
	return nil
}

// Items returns a copy of the selection with each item's last status.
func (b *Batch) Items() []Item {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Item, len(b.items))
	copy(out, b.items)
	return out
}

func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Upload sends every selected file in order, never two at once. A failed
// file is recorded and the next one is attempted. When every file succeeds
// the selection is cleared; otherwise it is kept with per-item status so the
// failures stay visible. Only context cancellation stops the run early.
func (b *Batch) Upload(ctx context.Context, machineID string) (Report, error) {
	b.mu.Lock()
	if b.uploading {
		b.mu.Unlock()
		return Report{}, ErrBusy
	}
	if len(b.items) == 0 {
		b.mu.Unlock()
		return Report{}, ErrEmpty
	}
	b.uploading = true
	items := make([]Item, len(b.items))
	copy(items, b.items)
	b.mu.Unlock()

	report := Report{Total: len(items)}
	logger := b.opts.Logger.With("machine_id", machineID)

	var runErr error
	for i := range items {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		err := b.uploadOne(ctx, items[i], machineID)
		if err != nil {
			items[i].Status = StatusFailed
			items[i].Err = err
			report.Failed = append(report.Failed, FileError{Name: items[i].Name, Err: err})
			logger.Warn("file upload failed", "file", items[i].Name, "error", err)
		} else {
			items[i].Status = StatusUploaded
			items[i].Err = nil
			report.Succeeded++
		}
		if b.opts.OnFileDone != nil {
			b.opts.OnFileDone(items[i])
		}
		if b.opts.OnProgress != nil {
			b.opts.OnProgress(i+1, len(items))
		}
	}

	b.mu.Lock()
	if report.AllSucceeded() {
		b.items = nil
	} else {
		b.items = items
	}
	b.uploading = false
	b.mu.Unlock()

	logger.Info("batch upload finished", "result", report.String())
	return report, runErr
}

func (b *Batch) uploadOne(ctx context.Context, it Item, machineID string) error {
	data, err := it.load()
	if err != nil {
		return fmt.Errorf("read %s: %w", it.Name, err)
	}
	return b.uploader.Upload(ctx, ingest.Payload{
		Filename:    it.Name,
		ContentType: mime.TypeByExtension(filepath.Ext(it.Name)),
		Data:        data,
	}, machineID, b.opts.OnFileProgress)
}
