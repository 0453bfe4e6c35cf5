// Package frames owns the depth camera session: starting it, warming it up, handing out
// aligned color/depth pairs, and releasing it.
package frames

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"go.viam.com/rdk/rimage"

	"github.com/erh/objlocate/realsense"
)

var (
	// ErrNoFrame means nothing usable arrived this cycle. Callers should try again.
	ErrNoFrame = errors.New("no frame available")
	// ErrDeviceInit means the camera could not be opened or its streams enabled.
	ErrDeviceInit = errors.New("depth camera initialization failed")
	// ErrBadState is returned when a Source is used out of order.
	ErrBadState = errors.New("frame source in wrong state")
	// ErrResolution means a frame does not match the session intrinsics.
	ErrResolution = errors.New("frame resolution does not match intrinsics")
	// ErrExhausted means a recorded session has no more frames.
	ErrExhausted = errors.New("no more recorded frames")
)

// Frame is one color image and the depth map on the same pixel grid.
type Frame struct {
	Color      image.Image
	Depth      *rimage.DepthMap
	CapturedAt time.Time
}

// Calibration is fixed for the life of a session.
type Calibration struct {
	Intrinsics realsense.Intrinsics `json:"intrinsics"`
	// DepthScale is meters per raw depth unit.
	DepthScale float64 `json:"depth_scale"`
}

func (c Calibration) Validate() error {
	if err := c.Intrinsics.Validate(); err != nil {
		return err
	}
	if c.DepthScale <= 0 {
		return fmt.Errorf("invalid depth scale %v", c.DepthScale)
	}
	return nil
}

// StreamMode is what the color and depth streams are asked to run at.
type StreamMode struct {
	Width  int
	Height int
	FPS    int
}

// DefaultStreamMode is 640x480 at 30fps; the D4xx color sensor has no square modes.
var DefaultStreamMode = StreamMode{Width: 640, Height: 480, FPS: 30}

// Driver opens sessions on a depth camera.
type Driver interface {
	Open(ctx context.Context, mode StreamMode) (Session, error)
}

// Session is one open camera. Read may return frames that are not yet aligned; it returns
// an error wrapping ErrNoFrame when either stream had nothing this cycle.
type Session interface {
	Start(ctx context.Context) (Calibration, error)
	Read(ctx context.Context) (*Frame, error)
	Stop(ctx context.Context) error
}
