package detector

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/erh/objlocate/locate"
)

// Recorded plays back detections saved one list per frame. Each Detect call returns the
// next list, wrapping around at the end.
type Recorded struct {
	mu     sync.Mutex
	frames [][]locate.Detection
	next   int
}

// ReadRecorded loads a JSON file holding an array of per frame detection arrays.
// A detection without box_xywh gets it derived from box_xyxy.
func ReadRecorded(fn string) (*Recorded, error) {
	data, err := os.ReadFile(fn)
	if err != nil {
		return nil, err
	}

	var fs [][]locate.Detection
	if err := json.Unmarshal(data, &fs); err != nil {
		return nil, fmt.Errorf("cannot parse detections in %s: %w", fn, err)
	}

	for _, dets := range fs {
		for i, d := range dets {
			if d.Center == (locate.CenterBox{}) {
				dets[i].Center = d.Corners.Center()
			}
		}
	}

	return NewRecorded(fs), nil
}

func NewRecorded(fs [][]locate.Detection) *Recorded {
	return &Recorded{frames: fs}
}

// WriteRecorded saves per frame detections in the format ReadRecorded reads.
func WriteRecorded(fn string, fs [][]locate.Detection) error {
	data, err := json.MarshalIndent(fs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(fn, data, 0o644)
}

func (r *Recorded) Detect(ctx context.Context, img image.Image) ([]locate.Detection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.frames) == 0 {
		return nil, nil
	}

	dets := r.frames[r.next%len(r.frames)]
	r.next++
	return append([]locate.Detection(nil), dets...), nil
}

// Recording passes detections through from another detector and keeps a copy of each
// frame's list for WriteRecorded.
type Recording struct {
	Detector locate.Detector

	mu     sync.Mutex
	frames [][]locate.Detection
}

func (r *Recording) Detect(ctx context.Context, img image.Image) ([]locate.Detection, error) {
	dets, err := r.Detector.Detect(ctx, img)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.frames = append(r.frames, append([]locate.Detection{}, dets...))
	r.mu.Unlock()
	return dets, nil
}

func (r *Recording) Save(fn string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return WriteRecorded(fn, r.frames)
}
