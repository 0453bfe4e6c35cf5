// Package detector adapts object detectors to locate.Detector.
package detector

import (
	"context"
	"fmt"
	"image"

	"go.viam.com/rdk/services/vision"

	"github.com/erh/objlocate/locate"
)

// DefaultMinConfidence is the threshold the yolo model was tuned to on the robot.
const DefaultMinConfidence = 0.531

// Vision runs a viam vision service.
type Vision struct {
	service       vision.Service
	minConfidence float64
	classIDs      map[string]int
}

// NewVision wraps svc. labels lists the model's class names in class id order; a label
// not in the list gets class id -1. minConfidence <= 0 means DefaultMinConfidence.
func NewVision(svc vision.Service, minConfidence float64, labels []string) *Vision {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	ids := map[string]int{}
	for i, l := range labels {
		ids[l] = i
	}
	return &Vision{service: svc, minConfidence: minConfidence, classIDs: ids}
}

func (v *Vision) Detect(ctx context.Context, img image.Image) ([]locate.Detection, error) {
	raw, err := v.service.Detections(ctx, img, nil)
	if err != nil {
		return nil, fmt.Errorf("vision service %v: %w", v.service.Name().ShortName(), err)
	}

	out := make([]locate.Detection, 0, len(raw))
	for _, d := range raw {
		if d.Score() < v.minConfidence {
			continue
		}
		bb := d.BoundingBox()
		if bb == nil {
			continue
		}

		id, ok := v.classIDs[d.Label()]
		if !ok {
			id = -1
		}

		box := locate.CornerBox{
			X1: float64(bb.Min.X),
			Y1: float64(bb.Min.Y),
			X2: float64(bb.Max.X),
			Y2: float64(bb.Max.Y),
		}
		out = append(out, locate.NewDetection(box, id, d.Label(), d.Score()))
	}

	return out, nil
}
