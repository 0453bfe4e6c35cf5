package frames

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.viam.com/rdk/rimage"
)

// A recording directory holds calibration.json plus color-NNNNNN.{png,jpg} and
// depth-NNNNNN.png (16 bit gray, raw sensor units) for each frame.
const calibrationFile = "calibration.json"

// ReplayDriver plays back a directory written by Recorder.
type ReplayDriver struct {
	Dir string
	// Loop starts over after the last frame instead of returning ErrExhausted.
	Loop bool
	// FPS paces reads. 0 reads as fast as asked.
	FPS float64
}

func (d *ReplayDriver) Open(ctx context.Context, mode StreamMode) (Session, error) {
	seqs, err := recordedFrames(d.Dir)
	if err != nil {
		return nil, err
	}
	if len(seqs) == 0 {
		return nil, fmt.Errorf("no recorded frames in %s", d.Dir)
	}
	return &replaySession{driver: d, mode: mode, seqs: seqs}, nil
}

func recordedFrames(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "depth-*.png"))
	if err != nil {
		return nil, err
	}
	seqs := []string{}
	for _, m := range matches {
		base := filepath.Base(m)
		seqs = append(seqs, strings.TrimSuffix(strings.TrimPrefix(base, "depth-"), ".png"))
	}
	sort.Strings(seqs)
	return seqs, nil
}

type replaySession struct {
	driver *ReplayDriver
	mode   StreamMode
	seqs   []string

	mu   sync.Mutex
	next int
	last time.Time
}

func (s *replaySession) Start(ctx context.Context) (Calibration, error) {
	cal, err := ReadCalibration(s.driver.Dir)
	if err != nil {
		return Calibration{}, err
	}
	if s.mode.Width > 0 && s.mode.Height > 0 && (s.mode.Width != cal.Intrinsics.Width || s.mode.Height != cal.Intrinsics.Height) {
		return Calibration{}, fmt.Errorf("%w: asked for %dx%d, recording is %dx%d",
			ErrResolution, s.mode.Width, s.mode.Height, cal.Intrinsics.Width, cal.Intrinsics.Height)
	}
	return cal, nil
}

func (s *replaySession) Read(ctx context.Context) (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= len(s.seqs) {
		if !s.driver.Loop {
			return nil, ErrExhausted
		}
		s.next = 0
	}

	if s.driver.FPS > 0 && !s.last.IsZero() {
		wait := time.Duration(float64(time.Second)/s.driver.FPS) - time.Since(s.last)
		if wait > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
	}

	seq := s.seqs[s.next]
	s.next++
	s.last = time.Now()

	return readRecordedFrame(ctx, s.driver.Dir, seq)
}

func (s *replaySession) Stop(ctx context.Context) error {
	return nil
}

func readRecordedFrame(ctx context.Context, dir, seq string) (*Frame, error) {
	var color image.Image
	var err error
	for _, ext := range []string{".png", ".jpg"} {
		fn := filepath.Join(dir, "color-"+seq+ext)
		if _, statErr := os.Stat(fn); statErr != nil {
			continue
		}
		color, err = rimage.ReadImageFromFile(fn)
		if err != nil {
			return nil, err
		}
		break
	}
	if color == nil {
		return nil, fmt.Errorf("%w: frame %s has no color image", ErrNoFrame, seq)
	}

	f, err := os.Open(filepath.Join(dir, "depth-"+seq+".png"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	raw, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("cannot decode depth for frame %s: %w", seq, err)
	}

	dm, err := rimage.ConvertImageToDepthMap(ctx, raw)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	return &Frame{Color: color, Depth: dm, CapturedAt: fi.ModTime()}, nil
}

func ReadCalibration(dir string) (Calibration, error) {
	data, err := os.ReadFile(filepath.Join(dir, calibrationFile))
	if err != nil {
		return Calibration{}, err
	}
	var cal Calibration
	if err := json.Unmarshal(data, &cal); err != nil {
		return Calibration{}, fmt.Errorf("bad %s: %w", calibrationFile, err)
	}
	return cal, cal.Validate()
}

// Recorder writes frames in the layout ReplayDriver reads.
type Recorder struct {
	Dir string
}

func (r *Recorder) WriteCalibration(cal Calibration) error {
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cal, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(r.Dir, calibrationFile), data, 0o644)
}

func (r *Recorder) WriteFrame(seq int, f *Frame) error {
	if f == nil || f.Color == nil || f.Depth == nil {
		return fmt.Errorf("cannot record incomplete frame %d", seq)
	}
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return err
	}

	name := fmt.Sprintf("%06d", seq)

	if err := rimage.WriteImageToFile(filepath.Join(r.Dir, "color-"+name+".png"), f.Color); err != nil {
		return err
	}

	out, err := os.Create(filepath.Join(r.Dir, "depth-"+name+".png"))
	if err != nil {
		return err
	}
	defer out.Close()

	if err := png.Encode(out, f.Depth.ToGray16Picture()); err != nil {
		return err
	}
	return out.Close()
}
