package frames

import (
	"fmt"
	"image"

	"go.viam.com/rdk/rimage"
	"go.viam.com/rdk/rimage/transform"
)

// Aligner puts a depth map onto the color image's pixel grid. The returned color image is
// the one the depth map now lines up with.
type Aligner interface {
	Align(color image.Image, dm *rimage.DepthMap) (image.Image, *rimage.DepthMap, error)
}

// GridAligner is for streams that are already registered to the color camera, which is what
// the realsense aligned streams give us. The depth map has to be the color image's size.
type GridAligner struct{}

func (GridAligner) Align(color image.Image, dm *rimage.DepthMap) (image.Image, *rimage.DepthMap, error) {
	if color == nil || dm == nil {
		return nil, nil, fmt.Errorf("cannot align: %w", ErrNoFrame)
	}

	b := color.Bounds()
	if dm.Width() != b.Dx() || dm.Height() != b.Dy() {
		return nil, nil, fmt.Errorf("%w: depth %dx%d is not registered to color %dx%d, set intrinsic_extrinsic",
			ErrResolution, dm.Width(), dm.Height(), b.Dx(), b.Dy())
	}

	return color, dm, nil
}

// TransformAligner registers depth to color with an rdk camera system, normally a
// transform.DepthColorIntrinsicsExtrinsics built from the two cameras' calibration.
type TransformAligner struct {
	Aligner transform.Aligner
}

// NewTransformAligner parses depth and color intrinsics plus the depth to color extrinsics.
func NewTransformAligner(params []byte) (*TransformAligner, error) {
	dcie, err := transform.NewDepthColorIntrinsicsExtrinsicsFromBytes(params)
	if err != nil {
		return nil, fmt.Errorf("bad intrinsic_extrinsic parameters: %w", err)
	}
	return &TransformAligner{Aligner: dcie}, nil
}

func (a *TransformAligner) Align(color image.Image, dm *rimage.DepthMap) (image.Image, *rimage.DepthMap, error) {
	if color == nil || dm == nil {
		return nil, nil, fmt.Errorf("cannot align: %w", ErrNoFrame)
	}

	c, d, err := a.Aligner.AlignColorAndDepthImage(rimage.ConvertImage(color), dm)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrResolution, err)
	}
	return c, d, nil
}
