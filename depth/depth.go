// Package depth reads validated depth samples and turns pixels into camera space points.
package depth

import (
	"github.com/golang/geo/r3"

	"go.viam.com/rdk/rimage"
)

// Deprojector maps a pixel plus a depth in meters to a camera space point in meters.
// Implementations come from the camera driver; nothing here knows the lens model.
type Deprojector interface {
	Deproject(px, py, depthMeters float64) r3.Vector
}

// Sample returns the depth in meters at (x, y), or false when the pixel is outside the
// frame or the sensor reported no data there (raw 0).
func Sample(dm *rimage.DepthMap, x, y int, scale float64) (float64, bool) {
	if dm == nil {
		return 0, false
	}
	if x < 0 || y < 0 || x >= dm.Width() || y >= dm.Height() {
		return 0, false
	}

	raw := dm.GetDepth(x, y)
	if raw == 0 {
		return 0, false
	}

	return float64(raw) * scale, true
}

// Deproject projects integer pixel (x, y) at a depth that has already been through Sample.
func Deproject(d Deprojector, x, y int, depthMeters float64) r3.Vector {
	return d.Deproject(float64(x), float64(y), depthMeters)
}
