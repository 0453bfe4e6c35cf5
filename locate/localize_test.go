package locate

import (
	"testing"

	"github.com/golang/geo/r3"

	"go.viam.com/rdk/rimage"
	"go.viam.com/test"

	"github.com/erh/objlocate/realsense"
)

var testIntrinsics = realsense.Intrinsics{Width: 640, Height: 480, Fx: 600, Fy: 600, Ppx: 320, Ppy: 240}

// countingDeprojector records every call so tests can see what was projected.
type countingDeprojector struct {
	realsense.Intrinsics
	calls [][3]float64
}

func (c *countingDeprojector) Deproject(px, py, d float64) r3.Vector {
	c.calls = append(c.calls, [3]float64{px, py, d})
	return c.Intrinsics.Deproject(px, py, d)
}

func filledDepth(w, h int, raw rimage.Depth) *rimage.DepthMap {
	dm := rimage.NewEmptyDepthMap(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dm.Set(x, y, raw)
		}
	}
	return dm
}

func TestLocalize(t *testing.T) {
	dm := filledDepth(640, 480, 2000)

	d := &countingDeprojector{Intrinsics: testIntrinsics}
	box := CenterBox{Cx: 380.9, Cy: 240.2, W: 40, H: 40}

	p, ok := Localize(box, dm, d, .001)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, d.calls, test.ShouldResemble, [][3]float64{{380, 240, 2}})
	test.That(t, p, test.ShouldResemble, testIntrinsics.Deproject(380, 240, 2))
	test.That(t, p.X, test.ShouldAlmostEqual, .2)
	test.That(t, p.Z, test.ShouldAlmostEqual, 2.0)

	again, ok := Localize(box, dm, d, .001)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, again, test.ShouldResemble, p)
}

func TestLocalizeNoDepth(t *testing.T) {
	dm := filledDepth(640, 480, 1500)
	dm.Set(150, 200, 0)

	d := &countingDeprojector{Intrinsics: testIntrinsics}

	_, ok := Localize(CenterBox{Cx: 150, Cy: 200, W: 100, H: 200}, dm, d, .001)
	test.That(t, ok, test.ShouldBeFalse)

	_, ok = Localize(CenterBox{Cx: 700, Cy: 200, W: 100, H: 200}, dm, d, .001)
	test.That(t, ok, test.ShouldBeFalse)

	_, ok = Localize(CenterBox{Cx: -2, Cy: 200, W: 100, H: 200}, dm, d, .001)
	test.That(t, ok, test.ShouldBeFalse)

	test.That(t, d.calls, test.ShouldHaveLength, 0)
}

func TestEstimateSize(t *testing.T) {
	dm := filledDepth(640, 480, 1000)
	// edges falling on background must not matter
	dm.Set(100, 200, 0)
	dm.Set(200, 200, 9000)

	d := &countingDeprojector{Intrinsics: testIntrinsics}
	det := NewDetection(CornerBox{X1: 100, Y1: 100, X2: 200, Y2: 300}, 0, "can", .9)

	s, ok := EstimateSize(det.Corners, det.Center, dm, d, .001)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, s.Width, test.ShouldAlmostEqual, 100.0/600)
	test.That(t, s.Height, test.ShouldAlmostEqual, 200.0/600)

	test.That(t, d.calls, test.ShouldResemble, [][3]float64{
		{100, 200, 1},
		{200, 200, 1},
		{150, 100, 1},
		{150, 300, 1},
	})
}

func TestEstimateSizeNonNegative(t *testing.T) {
	dm := filledDepth(640, 480, 800)
	d := testIntrinsics

	boxes := []CornerBox{
		{X1: 0, Y1: 0, X2: 639, Y2: 479},
		{X1: 10, Y1: 10, X2: 10, Y2: 10},
		{X1: 300, Y1: 50, X2: 330, Y2: 470},
		{X1: -40, Y1: -40, X2: 100, Y2: 100},
	}

	for _, b := range boxes {
		s, ok := EstimateSize(b, b.Center(), dm, d, .001)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, s.Width, test.ShouldBeGreaterThanOrEqualTo, 0.0)
		test.That(t, s.Height, test.ShouldBeGreaterThanOrEqualTo, 0.0)
	}

	// a box given with swapped corners still measures positive
	b := CornerBox{X1: 200, Y1: 300, X2: 100, Y2: 100}
	s, ok := EstimateSize(b, CenterBox{Cx: 150, Cy: 200}, dm, d, .001)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, s.Width, test.ShouldAlmostEqual, .8*100/600)
	test.That(t, s.Height, test.ShouldAlmostEqual, .8*200/600)
}

func TestZeroCenterDepthIsAbsent(t *testing.T) {
	dm := filledDepth(640, 480, 1234)
	dm.Set(150, 200, 0)

	det := Detection{
		Corners:    CornerBox{X1: 100, Y1: 100, X2: 200, Y2: 300},
		Center:     CenterBox{Cx: 150, Cy: 200, W: 100, H: 200},
		ClassName:  "bottle",
		Confidence: .7,
	}

	results := LocalizeAll([]Detection{det}, dm, testIntrinsics, .001)
	test.That(t, results, test.ShouldHaveLength, 1)
	test.That(t, results[0].Detection, test.ShouldResemble, det)
	test.That(t, results[0].Position, test.ShouldBeNil)
	test.That(t, results[0].Size, test.ShouldBeNil)
}

func TestLocalizeAll(t *testing.T) {
	dm := filledDepth(640, 480, 1000)
	dm.Set(50, 50, 0)

	dets := []Detection{
		NewDetection(CornerBox{X1: 40, Y1: 40, X2: 60, Y2: 60}, 1, "a", .9),
		NewDetection(CornerBox{X1: 300, Y1: 220, X2: 340, Y2: 260}, 2, "b", .8),
		NewDetection(CornerBox{X1: 600, Y1: 440, X2: 700, Y2: 540}, 3, "c", .6),
	}

	results := LocalizeAll(dets, dm, testIntrinsics, .001)
	test.That(t, results, test.ShouldHaveLength, 3)

	test.That(t, results[0].Detection.ClassName, test.ShouldEqual, "a")
	test.That(t, results[0].Position, test.ShouldBeNil)
	test.That(t, results[0].Size, test.ShouldBeNil)

	test.That(t, results[1].Detection.ClassName, test.ShouldEqual, "b")
	test.That(t, results[1].Position, test.ShouldNotBeNil)
	test.That(t, results[1].Position.X, test.ShouldAlmostEqual, 0)
	test.That(t, results[1].Position.Z, test.ShouldAlmostEqual, 1)
	test.That(t, results[1].Size.Width, test.ShouldAlmostEqual, 40.0/600)

	// center (650, 490) is off the frame
	test.That(t, results[2].Position, test.ShouldBeNil)
	test.That(t, results[2].Size, test.ShouldBeNil)

	test.That(t, LocalizeAll(nil, dm, testIntrinsics, .001), test.ShouldHaveLength, 0)
}

func TestCornerBoxCenter(t *testing.T) {
	c := CornerBox{X1: 100, Y1: 100, X2: 200, Y2: 300}.Center()
	test.That(t, c, test.ShouldResemble, CenterBox{Cx: 150, Cy: 200, W: 100, H: 200})
}

func TestResultLabel(t *testing.T) {
	r := Result{Detection: Detection{ClassName: "cup", Confidence: .876}}
	test.That(t, r.Label(), test.ShouldEqual, "cup 0.88 | no depth")

	r.Position = &r3.Vector{X: .1, Y: -.05, Z: 1.234}
	test.That(t, r.Label(), test.ShouldEqual, "cup 0.88 | depth: 1.23m | XYZ: (0.10, -0.05, 1.23)")

	r.Size = &Size{Width: .08, Height: .12}
	test.That(t, r.Label(), test.ShouldEqual, "cup 0.88 | depth: 1.23m | XYZ: (0.10, -0.05, 1.23) | size: 0.08x0.12m")
}
