// Package realsense holds the depth camera driver's projection model: intrinsics, distortion
// coefficients, and the pixel <-> point functions that match the RealSense SDK.
package realsense

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/rimage/transform"
)

// DistortionModel names how Coeffs are interpreted.
type DistortionModel string

const (
	ModelNone                DistortionModel = "none"
	ModelBrownConrady        DistortionModel = "brown_conrady"
	ModelInverseBrownConrady DistortionModel = "inverse_brown_conrady"
	ModelKannalaBrandt4      DistortionModel = "kannala_brandt4"
)

const epsilon = 1.1920929e-07 // FLT_EPSILON, what the sdk uses

// Intrinsics is the color sensor's projection model.
// Coeffs are k1, k2, p1, p2, k3 for the Brown-Conrady models and k1..k4 for Kannala-Brandt.
type Intrinsics struct {
	Width  int             `json:"width_px"`
	Height int             `json:"height_px"`
	Fx     float64         `json:"fx"`
	Fy     float64         `json:"fy"`
	Ppx    float64         `json:"ppx"`
	Ppy    float64         `json:"ppy"`
	Model  DistortionModel `json:"model,omitempty"`
	Coeffs [5]float64      `json:"coeffs,omitzero"`
}

// D435Color640 is a stock D435 color stream at 640x480.
var D435Color640 = Intrinsics{
	Width: 640, Height: 480,
	Fx: 609.566162109375, Fy: 609.5594482421875,
	Ppx: 319.1065368652344, Ppy: 253.16976928710938,
	Model: ModelBrownConrady,
}

// Pinhole returns the rdk pinhole parameters without distortion.
func (in Intrinsics) Pinhole() *transform.PinholeCameraIntrinsics {
	return &transform.PinholeCameraIntrinsics{
		Width:  in.Width,
		Height: in.Height,
		Fx:     in.Fx,
		Fy:     in.Fy,
		Ppx:    in.Ppx,
		Ppy:    in.Ppy,
	}
}

func (in Intrinsics) Validate() error {
	if err := in.Pinhole().CheckValid(); err != nil {
		return err
	}
	switch in.Model {
	case "", ModelNone, ModelBrownConrady, ModelInverseBrownConrady, ModelKannalaBrandt4:
		return nil
	default:
		return fmt.Errorf("unknown distortion model %q", in.Model)
	}
}

// Deproject maps a pixel and a depth in meters to a point in camera space, following
// rs2_deproject_pixel_to_point.
func (in Intrinsics) Deproject(px, py, depth float64) r3.Vector {
	x := (px - in.Ppx) / in.Fx
	y := (py - in.Ppy) / in.Fy

	switch in.Model {
	case ModelBrownConrady:
		x, y = undistort(x, y, in.Coeffs)
	case ModelInverseBrownConrady:
		x, y = distort(x, y, in.Coeffs)
	case ModelKannalaBrandt4:
		c := in.Coeffs
		rd := math.Sqrt(x*x + y*y)
		if rd < epsilon {
			rd = epsilon
		}
		theta := rd
		theta2 := rd * rd
		for i := 0; i < 4; i++ {
			f := theta*(1+theta2*(c[0]+theta2*(c[1]+theta2*(c[2]+theta2*c[3])))) - rd
			if math.Abs(f) < epsilon {
				break
			}
			df := 1 + theta2*(3*c[0]+theta2*(5*c[1]+theta2*(7*c[2]+9*theta2*c[3])))
			theta -= f / df
			theta2 = theta * theta
		}
		r := math.Tan(theta)
		x *= r / rd
		y *= r / rd
	}

	return r3.Vector{X: depth * x, Y: depth * y, Z: depth}
}

// Project maps a camera space point back to a pixel, following rs2_project_point_to_pixel.
// Points with Z == 0 project to (-1, -1).
func (in Intrinsics) Project(p r3.Vector) (float64, float64) {
	if p.Z == 0 {
		return -1, -1
	}

	x := p.X / p.Z
	y := p.Y / p.Z

	switch in.Model {
	case ModelBrownConrady:
		x, y = distort(x, y, in.Coeffs)
	case ModelInverseBrownConrady:
		x, y = undistort(x, y, in.Coeffs)
	case ModelKannalaBrandt4:
		c := in.Coeffs
		r := math.Sqrt(x*x + y*y)
		if r < epsilon {
			r = epsilon
		}
		theta := math.Atan(r)
		theta2 := theta * theta
		rd := theta * (1 + theta2*(c[0]+theta2*(c[1]+theta2*(c[2]+theta2*c[3]))))
		x *= rd / r
		y *= rd / r
	}

	return x*in.Fx + in.Ppx, y*in.Fy + in.Ppy
}

// distort applies the Brown-Conrady polynomial to normalized coordinates.
func distort(x, y float64, c [5]float64) (float64, float64) {
	r2 := x*x + y*y
	f := 1 + c[0]*r2 + c[1]*r2*r2 + c[4]*r2*r2*r2
	dx := x*f + 2*c[2]*x*y + c[3]*(r2+2*x*x)
	dy := y*f + 2*c[3]*x*y + c[2]*(r2+2*y*y)
	return dx, dy
}

// undistort inverts distort by fixed point iteration, 10 rounds like the sdk.
func undistort(x, y float64, c [5]float64) (float64, float64) {
	xo, yo := x, y
	for i := 0; i < 10; i++ {
		r2 := x*x + y*y
		icdist := 1 / (1 + ((c[4]*r2+c[1])*r2+c[0])*r2)
		deltaX := 2*c[2]*x*y + c[3]*(r2+2*x*x)
		deltaY := 2*c[3]*x*y + c[2]*(r2+2*y*y)
		x = (xo - deltaX) * icdist
		y = (yo - deltaY) * icdist
	}
	return x, y
}

// Distorter returns the rdk form of the distortion, nil when rdk has no equivalent.
func (in Intrinsics) Distorter() transform.Distorter {
	if in.Model != ModelBrownConrady {
		return nil
	}
	c := in.Coeffs
	return &transform.BrownConrady{
		RadialK1:     c[0],
		RadialK2:     c[1],
		TangentialP1: c[2],
		TangentialP2: c[3],
		RadialK3:     c[4],
	}
}

// FromProperties builds Intrinsics from what a viam camera reports about itself.
// Distorters other than Brown-Conrady are not understood and are an error.
func FromProperties(props camera.Properties) (Intrinsics, error) {
	if props.IntrinsicParams == nil {
		return Intrinsics{}, transform.NewNoIntrinsicsError("camera did not report intrinsics")
	}

	ip := props.IntrinsicParams
	in := Intrinsics{
		Width:  ip.Width,
		Height: ip.Height,
		Fx:     ip.Fx,
		Fy:     ip.Fy,
		Ppx:    ip.Ppx,
		Ppy:    ip.Ppy,
		Model:  ModelNone,
	}

	switch d := props.DistortionParams.(type) {
	case nil:
	case *transform.BrownConrady:
		if d != nil {
			in.Model = ModelBrownConrady
			in.Coeffs = [5]float64{d.RadialK1, d.RadialK2, d.TangentialP1, d.TangentialP2, d.RadialK3}
		}
	default:
		return Intrinsics{}, fmt.Errorf("unsupported distortion parameters %T", props.DistortionParams)
	}

	return in, in.Validate()
}
