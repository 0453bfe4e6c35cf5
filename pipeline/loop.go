// Package pipeline runs the capture, detect, localize loop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"go.viam.com/rdk/logging"

	"github.com/erh/objlocate/frames"
	"github.com/erh/objlocate/locate"
)

// DefaultLoopDelay is the pause between iterations.
const DefaultLoopDelay = 10 * time.Millisecond

// DefaultDetectTimeout bounds one detector call.
const DefaultDetectTimeout = 10 * time.Second

const slowIteration = 250 * time.Millisecond

// FrameSource is what the loop reads from; *frames.Source implements it.
type FrameSource interface {
	Start(ctx context.Context) error
	NextFrame(ctx context.Context) (*frames.Frame, error)
	Calibration() (frames.Calibration, error)
	Stop(ctx context.Context) error
}

// Loop processes one frame at a time until its context is cancelled.
type Loop struct {
	src    FrameSource
	det    locate.Detector
	sink   Sink
	stats  *Stats
	logger logging.Logger

	// LoopDelay is waited between iterations. Negative means none.
	LoopDelay time.Duration

	// DetectTimeout bounds each detector call. A call that times out is a detector error.
	DetectTimeout time.Duration

	started bool
	cal     frames.Calibration
	seq     int
}

func NewLoop(src FrameSource, det locate.Detector, sink Sink, logger logging.Logger) *Loop {
	return &Loop{
		src:           src,
		det:           det,
		sink:          sink,
		stats:         NewStats(),
		logger:        logger,
		LoopDelay:     DefaultLoopDelay,
		DetectTimeout: DefaultDetectTimeout,
	}
}

func (l *Loop) Stats() *Stats {
	return l.stats
}

// Calibration is valid once Start has returned nil.
func (l *Loop) Calibration() frames.Calibration {
	return l.cal
}

// Start brings up the source. Errors here are fatal.
func (l *Loop) Start(ctx context.Context) error {
	if l.started {
		return fmt.Errorf("loop already started: %w", frames.ErrBadState)
	}

	if err := l.src.Start(ctx); err != nil {
		return err
	}

	cal, err := l.src.Calibration()
	if err != nil {
		return multierr.Combine(err, l.src.Stop(ctx))
	}

	l.cal = cal
	l.started = true
	return nil
}

// Serve runs iterations until ctx is done or a recorded source runs out. The source is
// stopped before Serve returns.
func (l *Loop) Serve(ctx context.Context) (err error) {
	defer func() {
		err = multierr.Combine(err, l.src.Stop(context.WithoutCancel(ctx)))
	}()

	if !l.started {
		return fmt.Errorf("loop not started: %w", frames.ErrBadState)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		err := l.iterate(context.WithoutCancel(ctx))
		if err != nil {
			if errors.Is(err, frames.ErrExhausted) {
				l.logger.Infof("frame source finished after %d frames", l.seq)
				return nil
			}
			return err
		}

		if l.LoopDelay > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(l.LoopDelay):
			}
		}
	}
}

// Run is Start followed by Serve. The source is always released.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.Start(ctx); err != nil {
		return multierr.Combine(err, l.src.Stop(ctx))
	}
	return l.Serve(ctx)
}

// iterate handles one frame. It only returns an error when the loop should end.
func (l *Loop) iterate(ctx context.Context) error {
	start := time.Now()

	f, err := l.src.NextFrame(ctx)
	if err != nil {
		switch {
		case errors.Is(err, frames.ErrExhausted), errors.Is(err, frames.ErrBadState):
			return err
		case errors.Is(err, frames.ErrNoFrame):
			l.logger.Debugf("skipping frame: %v", err)
			l.stats.miss()
		default:
			l.logger.Warnf("bad frame: %v", err)
			l.stats.frameError()
		}
		return nil
	}

	timeA := time.Since(start)

	dets, err := l.detect(ctx, f)
	if err != nil {
		l.logger.Warnf("detector failed, skipping frame: %v", err)
		l.stats.detectorError()
		return nil
	}

	timeB := time.Since(start)

	results := locate.LocalizeAll(dets, f.Depth, l.cal.Intrinsics, l.cal.DepthScale)

	latency := time.Since(start)
	if latency > slowIteration {
		l.logger.Infof("slow frame %d frame: %v detect: %v total: %v", l.seq, timeA, timeB, latency)
	}

	l.stats.frame(results, latency)

	report := FrameReport{
		Seq:        l.seq,
		CapturedAt: f.CapturedAt,
		Frame:      f,
		Results:    results,
		Latency:    latency,
	}
	l.seq++

	if l.sink != nil {
		if err := l.sink.Report(ctx, report); err != nil {
			l.logger.Warnf("cannot report frame %d: %v", report.Seq, err)
		}
	}

	return nil
}

func (l *Loop) detect(ctx context.Context, f *frames.Frame) ([]locate.Detection, error) {
	if l.DetectTimeout <= 0 {
		return l.det.Detect(ctx, f.Color)
	}
	ctx, cancel := context.WithTimeout(ctx, l.DetectTimeout)
	defer cancel()
	return l.det.Detect(ctx, f.Color)
}
