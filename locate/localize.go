package locate

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/rdk/rimage"

	"github.com/erh/objlocate/depth"
)

// Size is the physical extent of an object in meters.
type Size struct {
	Width  float64 `json:"width_m"`
	Height float64 `json:"height_m"`
}

// Result is what gets reported for each detection. Position and Size are nil when the
// depth at the box center was unusable.
type Result struct {
	Detection Detection  `json:"detection"`
	Position  *r3.Vector `json:"position_m,omitempty"`
	Size      *Size      `json:"size_m,omitempty"`
}

// Label is the one line summary shown on overlays and in logs.
func (r Result) Label() string {
	s := fmt.Sprintf("%s %.2f", r.Detection.ClassName, r.Detection.Confidence)
	if r.Position == nil {
		return s + " | no depth"
	}
	p := r.Position
	s += fmt.Sprintf(" | depth: %.2fm | XYZ: (%.2f, %.2f, %.2f)", p.Z, p.X, p.Y, p.Z)
	if r.Size != nil {
		s += fmt.Sprintf(" | size: %.2fx%.2fm", r.Size.Width, r.Size.Height)
	}
	return s
}

// Localize returns the camera space position of the box center.
func Localize(box CenterBox, dm *rimage.DepthMap, d depth.Deprojector, scale float64) (r3.Vector, bool) {
	cx, cy := int(box.Cx), int(box.Cy)

	z, ok := depth.Sample(dm, cx, cy, scale)
	if !ok {
		return r3.Vector{}, false
	}

	return depth.Deproject(d, cx, cy, z), true
}

// EstimateSize measures the box in meters.
//
// Only the center depth is used: all four edges are deprojected onto the plane at that
// depth, since box edges tend to land on background pixels. This is a fronto-parallel
// approximation and will be off for objects that are tilted or deep relative to their
// distance from the camera.
func EstimateSize(corners CornerBox, center CenterBox, dm *rimage.DepthMap, d depth.Deprojector, scale float64) (Size, bool) {
	cx, cy := int(center.Cx), int(center.Cy)
	x1, y1, x2, y2 := int(corners.X1), int(corners.Y1), int(corners.X2), int(corners.Y2)

	z, ok := depth.Sample(dm, cx, cy, scale)
	if !ok {
		return Size{}, false
	}

	left := depth.Deproject(d, x1, cy, z)
	right := depth.Deproject(d, x2, cy, z)

	top := depth.Deproject(d, cx, y1, z)
	bottom := depth.Deproject(d, cx, y2, z)

	return Size{
		Width:  math.Abs(right.X - left.X),
		Height: math.Abs(bottom.Y - top.Y),
	}, true
}

// LocalizeAll runs Localize and EstimateSize for every detection, in order. One
// detection's missing depth has no effect on the others.
func LocalizeAll(dets []Detection, dm *rimage.DepthMap, d depth.Deprojector, scale float64) []Result {
	results := make([]Result, 0, len(dets))

	for _, det := range dets {
		r := Result{Detection: det}

		if p, ok := Localize(det.Center, dm, d, scale); ok {
			r.Position = &p
		}

		if s, ok := EstimateSize(det.Corners, det.Center, dm, d, scale); ok {
			r.Size = &s
		}

		results = append(results, r)
	}

	return results
}
