// Package locate turns 2D detections plus an aligned depth map into camera space positions
// and physical sizes.
package locate

import (
	"context"
	"fmt"
	"image"
)

// CornerBox is a box by opposite corners, in pixels.
type CornerBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// CenterBox is a box by center and extent, in pixels.
type CenterBox struct {
	Cx float64 `json:"cx"`
	Cy float64 `json:"cy"`
	W  float64 `json:"w"`
	H  float64 `json:"h"`
}

// Center returns the box center of a corner form box.
func (b CornerBox) Center() CenterBox {
	return CenterBox{
		Cx: (b.X1 + b.X2) / 2,
		Cy: (b.Y1 + b.Y2) / 2,
		W:  b.X2 - b.X1,
		H:  b.Y2 - b.Y1,
	}
}

// Rect rounds the box out to an image.Rectangle.
func (b CornerBox) Rect() image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2))
}

func (b CornerBox) String() string {
	return fmt.Sprintf("(%.0f, %.0f, %.0f, %.0f)", b.X1, b.Y1, b.X2, b.Y2)
}

// Detection is one object found by a detector. Both box forms describe the same box;
// detectors are trusted to keep them consistent.
type Detection struct {
	Corners    CornerBox `json:"box_xyxy"`
	Center     CenterBox `json:"box_xywh"`
	ClassID    int       `json:"class_id"`
	ClassName  string    `json:"class_name"`
	Confidence float64   `json:"confidence"`
}

// NewDetection builds a Detection from a corner form box, deriving the center form.
func NewDetection(corners CornerBox, classID int, className string, confidence float64) Detection {
	return Detection{
		Corners:    corners,
		Center:     corners.Center(),
		ClassID:    classID,
		ClassName:  className,
		Confidence: confidence,
	}
}

// Detector finds objects in an image. Any confidence threshold is applied by the detector.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
}
