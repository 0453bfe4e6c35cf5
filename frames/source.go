package frames

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.viam.com/rdk/logging"

	"github.com/erh/objlocate/imgutils"
	"github.com/erh/objlocate/realsense"
)

// State is where a Source is in its life.
type State int

const (
	Uninitialized State = iota
	Streaming
	Stopped
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Streaming:
		return "streaming"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// SourceConfig controls session start up and per frame reads.
type SourceConfig struct {
	// Mode is passed to the driver. A zero Mode lets the driver use whatever the camera runs at.
	Mode StreamMode

	// WarmupFrames are read and thrown away before the first frame is handed out, so
	// exposure and auto gain have time to settle.
	WarmupFrames int

	// When SettleThreshold > 0, after warm up keep throwing frames away, at most
	// MaxSettleFrames of them, until the mean brightness of two frames in a row differs
	// by less than SettleThreshold (0-255 gray levels).
	SettleThreshold float64
	MaxSettleFrames int

	// FrameTimeout bounds a single read. A read that times out is a missed frame.
	FrameTimeout time.Duration

	Aligner Aligner
}

const (
	defaultWarmupFrames = 10
	defaultFrameTimeout = 5 * time.Second
)

// DefaultSourceConfig matches how the camera is normally run on the robot.
func DefaultSourceConfig() SourceConfig {
	return SourceConfig{
		Mode:         DefaultStreamMode,
		WarmupFrames: defaultWarmupFrames,
		FrameTimeout: defaultFrameTimeout,
		Aligner:      GridAligner{},
	}
}

// Source hands out aligned frames from one driver session. It is meant to be driven from a
// single goroutine; Calibration and State are safe to call from anywhere.
type Source struct {
	driver Driver
	cfg    SourceConfig
	logger logging.Logger

	mu         sync.Mutex
	state      State
	session    Session
	cal        Calibration
	calibrated bool
}

func NewSource(driver Driver, cfg SourceConfig, logger logging.Logger) *Source {
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = defaultFrameTimeout
	}
	if cfg.Aligner == nil {
		cfg.Aligner = GridAligner{}
	}
	return &Source{
		driver: driver,
		cfg:    cfg,
		logger: logger,
	}
}

func (s *Source) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start opens the camera, captures the calibration and runs the warm up.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Uninitialized {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot start a %v source: %w", st, ErrBadState)
	}
	s.mu.Unlock()

	session, err := s.driver.Open(ctx, s.cfg.Mode)
	if err != nil {
		return fmt.Errorf("%w: cannot open camera: %w", ErrDeviceInit, err)
	}

	cal, err := session.Start(ctx)
	if err == nil {
		err = cal.Validate()
	}
	if err == nil {
		err = s.warmup(ctx, session)
	}
	if err != nil {
		stopErr := session.Stop(ctx)
		if stopErr != nil {
			s.logger.Warnf("error releasing camera after failed start: %v", stopErr)
		}
		return fmt.Errorf("%w: %w", ErrDeviceInit, err)
	}

	s.mu.Lock()
	if s.state != Uninitialized {
		st := s.state
		s.mu.Unlock()
		if stopErr := session.Stop(ctx); stopErr != nil {
			s.logger.Warnf("error releasing camera after start raced with stop: %v", stopErr)
		}
		return fmt.Errorf("source became %v while starting: %w", st, ErrBadState)
	}
	s.session = session
	s.cal = cal
	s.calibrated = true
	s.state = Streaming
	s.mu.Unlock()

	s.logger.Infof("camera streaming %dx%d depth scale: %v intrinsics: %+v",
		cal.Intrinsics.Width, cal.Intrinsics.Height, cal.DepthScale, cal.Intrinsics)

	return nil
}

func (s *Source) warmup(ctx context.Context, session Session) error {
	var last *Frame

	for i := 0; i < s.cfg.WarmupFrames; i++ {
		f, err := s.read(ctx, session)
		if err != nil {
			if errors.Is(err, ErrNoFrame) {
				continue
			}
			return fmt.Errorf("warm up frame %d: %w", i, err)
		}
		last = f
	}

	if s.cfg.SettleThreshold <= 0 {
		return nil
	}

	for i := 0; i < s.cfg.MaxSettleFrames; i++ {
		f, err := s.read(ctx, session)
		if err != nil {
			if errors.Is(err, ErrNoFrame) {
				continue
			}
			return fmt.Errorf("settle frame %d: %w", i, err)
		}
		if last != nil && imgutils.Settled(last.Color, f.Color, s.cfg.SettleThreshold) {
			s.logger.Debugf("exposure settled after %d extra frames", i+1)
			return nil
		}
		last = f
	}

	s.logger.Infof("exposure did not settle within %d extra frames, continuing", s.cfg.MaxSettleFrames)
	return nil
}

func (s *Source) read(ctx context.Context, session Session) (*Frame, error) {
	readCtx, cancel := context.WithTimeout(ctx, s.cfg.FrameTimeout)
	defer cancel()

	f, err := session.Read(readCtx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("read timed out after %v: %w", s.cfg.FrameTimeout, ErrNoFrame)
		}
		return nil, err
	}
	if f == nil || f.Color == nil || f.Depth == nil {
		return nil, fmt.Errorf("incomplete frame set: %w", ErrNoFrame)
	}
	return f, nil
}

// NextFrame blocks for the next frame pair and returns it aligned to the color grid.
func (s *Source) NextFrame(ctx context.Context) (*Frame, error) {
	s.mu.Lock()
	state, session, cal := s.state, s.session, s.cal
	s.mu.Unlock()

	if state != Streaming {
		return nil, fmt.Errorf("cannot read from a %v source: %w", state, ErrBadState)
	}

	f, err := s.read(ctx, session)
	if err != nil {
		return nil, err
	}

	img, dm, err := s.cfg.Aligner.Align(f.Color, f.Depth)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	if b.Dx() != cal.Intrinsics.Width || b.Dy() != cal.Intrinsics.Height {
		return nil, fmt.Errorf("%w: frame %dx%d intrinsics %dx%d",
			ErrResolution, b.Dx(), b.Dy(), cal.Intrinsics.Width, cal.Intrinsics.Height)
	}

	captured := f.CapturedAt
	if captured.IsZero() {
		captured = time.Now()
	}

	return &Frame{Color: img, Depth: dm, CapturedAt: captured}, nil
}

// Calibration returns what was captured at Start.
func (s *Source) Calibration() (Calibration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.calibrated {
		return Calibration{}, fmt.Errorf("calibration not available before start: %w", ErrBadState)
	}
	return s.cal, nil
}

func (s *Source) Intrinsics() (realsense.Intrinsics, error) {
	cal, err := s.Calibration()
	return cal.Intrinsics, err
}

func (s *Source) DepthScale() (float64, error) {
	cal, err := s.Calibration()
	return cal.DepthScale, err
}

// Stop releases the camera. Stopping twice, or stopping a source that never started, is fine.
func (s *Source) Stop(ctx context.Context) error {
	s.mu.Lock()
	session := s.session
	s.session = nil
	s.state = Stopped
	s.mu.Unlock()

	if session == nil {
		return nil
	}
	return session.Stop(ctx)
}
