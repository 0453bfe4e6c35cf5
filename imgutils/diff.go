// Package imgutils has small whole-image measurements used while a camera warms up.
package imgutils

import (
	"image"
	"image/color"
	"math"
)

func ComputeGrayscaleAverage(img image.Image) float64 {
	return computeGrayscaleAverage(img, 1)
}

// ComputeGrayscaleAverageSampled looks at every step'th pixel in each direction.
func ComputeGrayscaleAverageSampled(img image.Image, step int) float64 {
	if step < 1 {
		step = 1
	}
	return computeGrayscaleAverage(img, step)
}

func computeGrayscaleAverage(img image.Image, step int) float64 {
	bounds := img.Bounds()

	totalValue := 0.0
	numPixels := 0.0

	for y := bounds.Min.Y; y < bounds.Max.Y; y += step {
		for x := bounds.Min.X; x < bounds.Max.X; x += step {
			grayColor := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			totalValue += float64(grayColor.Y)
			numPixels++
		}
	}

	if numPixels == 0 {
		return 0
	}
	return totalValue / numPixels
}

// BrightnessDelta is how far apart the mean gray levels of a and b are, 0-255.
func BrightnessDelta(a, b image.Image) float64 {
	const step = 4
	return math.Abs(ComputeGrayscaleAverageSampled(a, step) - ComputeGrayscaleAverageSampled(b, step))
}

// Settled reports whether two consecutive frames are within threshold gray levels of each other.
func Settled(prev, cur image.Image, threshold float64) bool {
	if prev == nil || cur == nil {
		return false
	}
	return BrightnessDelta(prev, cur) < threshold
}
