package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
)

// Facing selects which camera of a device to use.
type Facing string

const (
	FacingEnvironment Facing = "environment"
	FacingUser        Facing = "user"
)

func (f Facing) Valid() bool {
	return f == FacingEnvironment || f == FacingUser
}

var (
	// ErrNoFrame means the stream is open but has not decoded a frame yet.
	ErrNoFrame = errors.New("no decoded frame available")
	// ErrCameraInactive means no stream is open.
	ErrCameraInactive = errors.New("camera is not active")
)

// Device opens camera streams.
type Device interface {
	Open(ctx context.Context, facing Facing) (Stream, error)
}

// Stream is an open camera. Close releases the underlying device handle and
// must be safe to call more than once.
type Stream interface {
	Frame() (image.Image, error)
	Close() error
}

// DeviceError reports that a camera could not be opened, because access was
// denied or the device does not support the requested facing mode. It is not
// retried.
type DeviceError struct {
	Facing Facing
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("open %s camera: %v", e.Facing, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}
