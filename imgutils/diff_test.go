package imgutils

import (
	"image"
	"image/color"
	"testing"

	"go.viam.com/test"
)

func solid(w, h int, g uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = g
	}
	return img
}

func TestComputeGrayscaleAverage(t *testing.T) {
	test.That(t, ComputeGrayscaleAverage(solid(10, 10, 100)), test.ShouldAlmostEqual, 100.0)

	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.White)
	img.Set(1, 0, color.Black)
	test.That(t, ComputeGrayscaleAverage(img), test.ShouldAlmostEqual, 127.5)

	test.That(t, ComputeGrayscaleAverage(image.NewGray(image.Rect(0, 0, 0, 0))), test.ShouldEqual, 0.0)
}

func TestComputeGrayscaleAverageSampled(t *testing.T) {
	img := solid(64, 48, 10)
	img.SetGray(1, 1, color.Gray{Y: 255})

	test.That(t, ComputeGrayscaleAverageSampled(img, 4), test.ShouldAlmostEqual, 10.0)
	test.That(t, ComputeGrayscaleAverageSampled(img, 0), test.ShouldAlmostEqual, ComputeGrayscaleAverage(img))
}

func TestSettled(t *testing.T) {
	a := solid(64, 48, 120)
	b := solid(64, 48, 121)
	c := solid(64, 48, 140)

	test.That(t, BrightnessDelta(a, c), test.ShouldAlmostEqual, 20.0)
	test.That(t, Settled(a, b, 2), test.ShouldBeTrue)
	test.That(t, Settled(a, c, 2), test.ShouldBeFalse)
	test.That(t, Settled(nil, c, 2), test.ShouldBeFalse)
}
