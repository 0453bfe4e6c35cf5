package realsense

import (
	"testing"

	"github.com/golang/geo/r3"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/rimage/transform"
	"go.viam.com/test"
)

var rsProperties = camera.Properties{
	IntrinsicParams:  &transform.PinholeCameraIntrinsics{Width: 1280, Height: 720, Fx: 906.0663452148438, Fy: 905.1234741210938, Ppx: 646.94970703125, Ppy: 374.4667663574219},
	DistortionParams: &transform.BrownConrady{RadialK1: 0, RadialK2: 0, RadialK3: 0, TangentialP1: 0, TangentialP2: 0},
}

func TestDeprojectPrincipalPoint(t *testing.T) {
	in := Intrinsics{Width: 640, Height: 480, Fx: 600, Fy: 600, Ppx: 320, Ppy: 240}

	p := in.Deproject(320, 240, 1.0)
	test.That(t, p.X, test.ShouldAlmostEqual, 0)
	test.That(t, p.Y, test.ShouldAlmostEqual, 0)
	test.That(t, p.Z, test.ShouldAlmostEqual, 1.0)

	p = in.Deproject(380, 180, 2.0)
	test.That(t, p.X, test.ShouldAlmostEqual, .2)
	test.That(t, p.Y, test.ShouldAlmostEqual, -.2)
	test.That(t, p.Z, test.ShouldAlmostEqual, 2.0)
}

func TestFromProperties(t *testing.T) {
	in, err := FromProperties(rsProperties)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, in.Model, test.ShouldEqual, ModelBrownConrady)
	test.That(t, in.Width, test.ShouldEqual, 1280)

	// zero coefficients must agree with the plain pinhole math
	x, y, z := rsProperties.IntrinsicParams.PixelToPoint(592, 499, 459.601175)
	p := in.Deproject(592, 499, 459.601175)
	test.That(t, p.X, test.ShouldAlmostEqual, x, .0001)
	test.That(t, p.Y, test.ShouldAlmostEqual, y, .0001)
	test.That(t, p.Z, test.ShouldAlmostEqual, z)
	test.That(t, p.X, test.ShouldAlmostEqual, -27.87, .01)
	test.That(t, p.Y, test.ShouldAlmostEqual, 63.23, .01)

	_, err = FromProperties(camera.Properties{})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = FromProperties(camera.Properties{IntrinsicParams: &transform.PinholeCameraIntrinsics{Width: 640, Height: 480}})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestBrownConradyRoundTrip(t *testing.T) {
	in := D435Color640
	in.Coeffs = [5]float64{.08, -.02, .001, -.0005, .003}

	for _, px := range [][2]float64{{100, 80}, {320, 240}, {600, 450}, {20, 400}} {
		p := in.Deproject(px[0], px[1], 1.5)
		test.That(t, p.Z, test.ShouldAlmostEqual, 1.5)

		u, v := in.Project(p)
		test.That(t, u, test.ShouldAlmostEqual, px[0], .01)
		test.That(t, v, test.ShouldAlmostEqual, px[1], .01)
	}
}

func TestInverseBrownConrady(t *testing.T) {
	in := Intrinsics{Width: 640, Height: 480, Fx: 500, Fy: 500, Ppx: 320, Ppy: 240, Model: ModelInverseBrownConrady}
	in.Coeffs[0] = .1

	// normalized (.4, 0) -> r2 = .16, f = 1.016
	p := in.Deproject(520, 240, 1)
	test.That(t, p.X, test.ShouldAlmostEqual, .4*1.016)
	test.That(t, p.Y, test.ShouldAlmostEqual, 0)

	// no correction on the optical axis
	p = in.Deproject(320, 240, 3)
	test.That(t, p, test.ShouldResemble, r3.Vector{X: 0, Y: 0, Z: 3})
}

func TestKannalaBrandtRoundTrip(t *testing.T) {
	in := Intrinsics{Width: 848, Height: 800, Fx: 286, Fy: 286, Ppx: 424, Ppy: 400, Model: ModelKannalaBrandt4}
	in.Coeffs = [5]float64{-.0045, .04, -.038, .0063, 0}

	p := in.Deproject(500, 350, 1)
	u, v := in.Project(p)
	test.That(t, u, test.ShouldAlmostEqual, 500, .05)
	test.That(t, v, test.ShouldAlmostEqual, 350, .05)
}

func TestProjectZeroDepth(t *testing.T) {
	u, v := D435Color640.Project(r3.Vector{X: 1, Y: 1})
	test.That(t, u, test.ShouldEqual, -1.0)
	test.That(t, v, test.ShouldEqual, -1.0)
}

func TestValidate(t *testing.T) {
	test.That(t, D435Color640.Validate(), test.ShouldBeNil)

	bad := D435Color640
	bad.Model = "fisheye-ish"
	test.That(t, bad.Validate(), test.ShouldNotBeNil)

	bad = D435Color640
	bad.Fx = 0
	test.That(t, bad.Validate(), test.ShouldNotBeNil)
}

func TestDistorterRoundTrip(t *testing.T) {
	in := D435Color640
	in.Coeffs = [5]float64{.1, .2, .3, .4, .5}

	back, err := FromProperties(camera.Properties{IntrinsicParams: in.Pinhole(), DistortionParams: in.Distorter()})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back, test.ShouldResemble, in)

	in.Model = ModelKannalaBrandt4
	test.That(t, in.Distorter(), test.ShouldBeNil)
}
