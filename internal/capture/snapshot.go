package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"sync"
	"time"
)

const maxSnapshotBytes = 32 << 20

// SnapshotDevice reads frames from cameras that serve a still image over
// HTTP, one URL per facing mode.
type SnapshotDevice struct {
	URLs       map[Facing]string
	HTTPClient *http.Client
}

func NewSnapshotDevice(urls map[Facing]string) *SnapshotDevice {
	return &SnapshotDevice{
		URLs:       urls,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Open checks that the camera answers before handing out a stream.
func (d *SnapshotDevice) Open(ctx context.Context, facing Facing) (Stream, error) {
	url, ok := d.URLs[facing]
	if !ok || url == "" {
		return nil, fmt.Errorf("no camera configured for facing mode %q", facing)
	}
	s := &snapshotStream{ctx: ctx, url: url, client: d.HTTPClient}
	if s.client == nil {
		s.client = http.DefaultClient
	}
	if _, err := s.fetch(); err != nil && !errors.Is(err, ErrNoFrame) {
		return nil, err
	}
	return s, nil
}

type snapshotStream struct {
	ctx    context.Context
	url    string
	client *http.Client

	mu     sync.Mutex
	closed bool
}

func (s *snapshotStream) Frame() (image.Image, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrCameraInactive
	}
	return s.fetch()
}

func (s *snapshotStream) fetch() (image.Image, error) {
	req, err := http.NewRequestWithContext(context.WithoutCancel(s.ctx), http.MethodGet, s.url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create snapshot request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("camera denied access: %s", resp.Status)
	case resp.StatusCode == http.StatusNoContent:
		return nil, ErrNoFrame
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetch snapshot: %s", resp.Status)
	}

	img, _, err := image.Decode(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoFrame, err)
	}
	return img, nil
}

func (s *snapshotStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
