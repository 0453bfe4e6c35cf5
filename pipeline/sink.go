package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"

	"go.viam.com/rdk/logging"

	"github.com/erh/objlocate/frames"
	"github.com/erh/objlocate/locate"
)

// FrameReport is everything produced for one frame.
type FrameReport struct {
	Seq        int
	CapturedAt time.Time
	Frame      *frames.Frame
	Results    []locate.Result
	Latency    time.Duration
}

// Sink receives one report per processed frame, from the loop goroutine.
type Sink interface {
	Report(ctx context.Context, r FrameReport) error
}

type SinkFunc func(ctx context.Context, r FrameReport) error

func (f SinkFunc) Report(ctx context.Context, r FrameReport) error {
	return f(ctx, r)
}

// Sinks fans a report out to each sink in order.
type Sinks []Sink

func (ss Sinks) Report(ctx context.Context, r FrameReport) error {
	var err error
	for _, s := range ss {
		err = multierr.Append(err, s.Report(ctx, r))
	}
	return err
}

// LogSink writes every result to a logger.
type LogSink struct {
	Logger logging.Logger
}

func (s *LogSink) Report(ctx context.Context, r FrameReport) error {
	if len(r.Results) == 0 {
		s.Logger.Debugf("frame %d: no detections", r.Seq)
		return nil
	}
	for _, res := range r.Results {
		s.Logger.Infof("frame %d: %s box: %v", r.Seq, res.Label(), res.Detection.Corners)
	}
	return nil
}

// LatestSink keeps the most recent report for readers on other goroutines.
type LatestSink struct {
	mu     sync.Mutex
	latest FrameReport
	have   bool
}

func (s *LatestSink) Report(ctx context.Context, r FrameReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = r
	s.have = true
	return nil
}

func (s *LatestSink) Latest() (FrameReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.have
}
