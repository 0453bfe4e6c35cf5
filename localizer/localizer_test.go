package localizer

import (
	"context"
	"image"
	"testing"
	"time"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/data"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/rimage"
	"go.viam.com/rdk/services/vision"
	"go.viam.com/rdk/vision/objectdetection"
	"go.viam.com/test"

	"github.com/erh/objlocate/frames"
	"github.com/erh/objlocate/realsense"
)

var testIntrinsics = realsense.Intrinsics{Width: 640, Height: 480, Fx: 600, Fy: 600, Ppx: 320, Ppy: 240}

type fakeCamera struct {
	camera.Camera
	images []camera.NamedImage
}

func (c *fakeCamera) Name() resource.Name {
	return camera.Named("rs")
}

func (c *fakeCamera) Properties(ctx context.Context) (camera.Properties, error) {
	return camera.Properties{IntrinsicParams: testIntrinsics.Pinhole()}, nil
}

func (c *fakeCamera) Images(ctx context.Context, filter []string, extra map[string]interface{}) ([]camera.NamedImage, resource.ResponseMetadata, error) {
	return c.images, resource.ResponseMetadata{CapturedAt: time.Now()}, nil
}

type fakeVision struct {
	vision.Service
}

func (v *fakeVision) Name() resource.Name {
	return vision.Named("yolo")
}

func (v *fakeVision) Detections(ctx context.Context, img image.Image, extra map[string]interface{}) ([]objectdetection.Detection, error) {
	return []objectdetection.Detection{
		objectdetection.NewDetectionWithoutImgBounds(image.Rect(340, 220, 420, 260), .9, "bottle"),
		objectdetection.NewDetectionWithoutImgBounds(image.Rect(0, 0, 20, 20), .8, "cup"),
	}, nil
}

func newFakeCamera(t *testing.T) *fakeCamera {
	dm := rimage.NewEmptyDepthMap(640, 480)
	for y := 200; y < 280; y++ {
		for x := 300; x < 460; x++ {
			dm.Set(x, y, 2000)
		}
	}

	color, err := camera.NamedImageFromImage(image.NewRGBA(image.Rect(0, 0, 640, 480)), "color", "", data.Annotations{})
	test.That(t, err, test.ShouldBeNil)
	depth, err := camera.NamedImageFromImage(dm, "depth", "", data.Annotations{})
	test.That(t, err, test.ShouldBeNil)

	return &fakeCamera{images: []camera.NamedImage{color, depth}}
}

func waitForResults(t *testing.T, l *Localizer) {
	t.Helper()
	for i := 0; i < 500; i++ {
		if _, err := l.Latest(); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no results")
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{Camera: "rs", Vision: "yolo"}
	deps, _, err := cfg.Validate("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, deps, test.ShouldResemble, []string{"rs", "yolo"})

	for _, bad := range []*Config{
		{Vision: "yolo"},
		{Camera: "rs"},
		{Camera: "rs", Vision: "yolo", Width: 640},
		{Camera: "rs", Vision: "yolo", DepthScale: -1},
		{Camera: "rs", Vision: "yolo", MinConfidence: 1.5},
		{Camera: "rs", Vision: "yolo", Intrinsics: &realsense.Intrinsics{}},
		{Camera: "rs", Vision: "yolo", DetectTimeoutSec: -1},
		{Camera: "rs", Vision: "yolo", IntrinsicExtrinsic: map[string]interface{}{
			"color_intrinsic_parameters": "nope",
		}},
	} {
		_, _, err := bad.Validate("")
		test.That(t, err, test.ShouldNotBeNil)
	}

	zero := 0
	cfg = &Config{Camera: "rs", Vision: "yolo", WarmupFrames: &zero, LoopDelayMs: &zero, FrameTimeoutSec: .5}
	sc, err := cfg.sourceConfig()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sc.WarmupFrames, test.ShouldEqual, 0)
	test.That(t, sc.Aligner, test.ShouldResemble, frames.GridAligner{})
	test.That(t, sc.FrameTimeout, test.ShouldEqual, 500*time.Millisecond)
	test.That(t, cfg.loopDelay(), test.ShouldEqual, time.Duration(0))
	test.That(t, cfg.minConfidence(), test.ShouldEqual, .531)

	cfg = &Config{}
	sc, err = cfg.sourceConfig()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sc.WarmupFrames, test.ShouldEqual, 10)
	test.That(t, cfg.loopDelay(), test.ShouldEqual, 10*time.Millisecond)
	test.That(t, cfg.detectTimeout(), test.ShouldEqual, 10*time.Second)
}

func TestConfigIntrinsicExtrinsic(t *testing.T) {
	dims := func(w, h int) map[string]interface{} {
		return map[string]interface{}{"width_px": w, "height_px": h, "fx": 10, "fy": 10, "ppx": 4, "ppy": 4}
	}
	cfg := &Config{
		Camera: "rs",
		Vision: "yolo",
		IntrinsicExtrinsic: map[string]interface{}{
			"color_intrinsic_parameters": dims(8, 8),
			"depth_intrinsic_parameters": dims(8, 8),
			"depth_to_color_extrinsic_parameters": map[string]interface{}{
				"rotation_rads":  []float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
				"translation_mm": []float64{0, 0, 0},
			},
		},
		DetectTimeoutSec: 2,
	}
	_, _, err := cfg.Validate("")
	test.That(t, err, test.ShouldBeNil)

	sc, err := cfg.sourceConfig()
	test.That(t, err, test.ShouldBeNil)
	_, ok := sc.Aligner.(*frames.TransformAligner)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, cfg.detectTimeout(), test.ShouldEqual, 2*time.Second)
}

func TestLocalizer(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)

	zero := 0
	cfg := &Config{Camera: "rs", Vision: "yolo", WarmupFrames: &zero, LogResults: true}

	deps := resource.Dependencies{
		camera.Named("rs"):   newFakeCamera(t),
		vision.Named("yolo"): &fakeVision{},
	}

	res, err := newLocalizer(ctx, deps, resource.Config{
		Name:                "loc",
		API:                 camera.API,
		Model:               Model,
		ConvertedAttributes: cfg,
	}, logger)
	test.That(t, err, test.ShouldBeNil)
	l := res.(*Localizer)
	defer func() {
		test.That(t, l.Close(ctx), test.ShouldBeNil)
	}()

	waitForResults(t, l)

	props, err := l.Properties(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, props.SupportsPCD, test.ShouldBeTrue)
	test.That(t, props.IntrinsicParams.Fx, test.ShouldEqual, 600.0)

	imgs, _, err := l.Images(ctx, nil, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, imgs, test.ShouldHaveLength, 2)
	test.That(t, imgs[0].SourceName, test.ShouldEqual, "overlay")
	test.That(t, imgs[1].SourceName, test.ShouldEqual, "color")

	imgs, _, err = l.Images(ctx, []string{"color"}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, imgs, test.ShouldHaveLength, 1)

	// bottle center (380, 240) at 2m, cup has no depth
	pc, err := l.NextPointCloud(ctx, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 1)

	geoms, err := l.Geometries(ctx, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, geoms, test.ShouldHaveLength, 1)
	test.That(t, geoms[0].Label(), test.ShouldEqual, "bottle")
	test.That(t, geoms[0].Pose().Point().X, test.ShouldAlmostEqual, 200.0)
	test.That(t, geoms[0].Pose().Point().Z, test.ShouldAlmostEqual, 2000.0)

	out, err := l.DoCommand(ctx, map[string]interface{}{"latest": true})
	test.That(t, err, test.ShouldBeNil)
	results := out["results"].([]interface{})
	test.That(t, results, test.ShouldHaveLength, 2)
	bottle := results[0].(map[string]interface{})
	test.That(t, bottle["position_m"].(map[string]interface{})["Z"], test.ShouldAlmostEqual, 2.0)
	cup := results[1].(map[string]interface{})
	_, hasPosition := cup["position_m"]
	test.That(t, hasPosition, test.ShouldBeFalse)

	out, err = l.DoCommand(ctx, map[string]interface{}{"stats": true})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out["frames"], test.ShouldBeGreaterThan, 0)

	_, err = l.DoCommand(ctx, map[string]interface{}{"bogus": true})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLocalizerStartFailure(t *testing.T) {
	cam := &fakeCamera{}
	_, err := NewLocalizer(context.Background(), camera.Named("loc"),
		&Config{Camera: "rs", Vision: "yolo", Width: 1280, Height: 720}, cam, &fakeVision{}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}
