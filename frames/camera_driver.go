package frames

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/rimage"

	"github.com/erh/objlocate/realsense"
)

// DefaultDepthScale is for viam depth images, which are in millimeters.
const DefaultDepthScale = 0.001

// CameraDriver reads color and depth from a viam camera that serves both, such as the
// realsense module.
type CameraDriver struct {
	Camera camera.Camera

	// ColorSource and DepthSource are the image source names. Empty means "color" and "depth".
	ColorSource string
	DepthSource string

	// DepthScale is meters per raw unit, DefaultDepthScale when 0.
	DepthScale float64

	// Intrinsics replaces what the camera reports when set.
	Intrinsics *realsense.Intrinsics

	Logger logging.Logger
}

func (d *CameraDriver) Open(ctx context.Context, mode StreamMode) (Session, error) {
	if d.Camera == nil {
		return nil, errors.New("no camera")
	}

	s := &cameraSession{
		cam:         d.Camera,
		mode:        mode,
		colorSource: d.ColorSource,
		depthSource: d.DepthSource,
		scale:       d.DepthScale,
		override:    d.Intrinsics,
		logger:      d.Logger,
	}
	if s.colorSource == "" {
		s.colorSource = "color"
	}
	if s.depthSource == "" {
		s.depthSource = "depth"
	}
	if s.scale == 0 {
		s.scale = DefaultDepthScale
	}
	return s, nil
}

type cameraSession struct {
	cam         camera.Camera
	mode        StreamMode
	colorSource string
	depthSource string
	scale       float64
	override    *realsense.Intrinsics
	logger      logging.Logger
}

func (s *cameraSession) Start(ctx context.Context) (Calibration, error) {
	var in realsense.Intrinsics

	if s.override != nil {
		in = *s.override
	} else {
		props, err := s.cam.Properties(ctx)
		if err != nil {
			return Calibration{}, fmt.Errorf("cannot get properties from %v: %w", s.cam.Name(), err)
		}
		in, err = realsense.FromProperties(props)
		if err != nil {
			return Calibration{}, fmt.Errorf("camera %v: %w", s.cam.Name(), err)
		}
	}

	if s.mode.Width > 0 && s.mode.Height > 0 && (s.mode.Width != in.Width || s.mode.Height != in.Height) {
		return Calibration{}, fmt.Errorf("%w: asked for %dx%d, camera runs %dx%d",
			ErrResolution, s.mode.Width, s.mode.Height, in.Width, in.Height)
	}

	return Calibration{Intrinsics: in, DepthScale: s.scale}, nil
}

func (s *cameraSession) Read(ctx context.Context) (*Frame, error) {
	imgs, meta, err := s.cam.Images(ctx, []string{s.colorSource, s.depthSource}, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrNoFrame, err)
	}

	f := &Frame{CapturedAt: meta.CapturedAt}
	if f.CapturedAt.IsZero() {
		f.CapturedAt = time.Now()
	}

	for _, ni := range imgs {
		switch ni.SourceName {
		case s.colorSource:
			img, err := ni.Image(ctx)
			if err != nil {
				return nil, fmt.Errorf("%w: cannot decode color: %w", ErrNoFrame, err)
			}
			f.Color = img
		case s.depthSource:
			img, err := ni.Image(ctx)
			if err != nil {
				return nil, fmt.Errorf("%w: cannot decode depth: %w", ErrNoFrame, err)
			}
			dm, err := rimage.ConvertImageToDepthMap(ctx, img)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrNoFrame, err)
			}
			f.Depth = dm
		}
	}

	if f.Color == nil {
		return nil, fmt.Errorf("%w: no %q image from %v", ErrNoFrame, s.colorSource, s.cam.Name())
	}
	if f.Depth == nil {
		return nil, fmt.Errorf("%w: no %q image from %v", ErrNoFrame, s.depthSource, s.cam.Name())
	}

	return f, nil
}

// Stop does not close the camera; it belongs to the robot.
func (s *cameraSession) Stop(ctx context.Context) error {
	if s.logger != nil {
		s.logger.Debugf("released camera %v", s.cam.Name())
	}
	return nil
}
