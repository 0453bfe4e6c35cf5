// Package overlay draws localization results onto the color image.
package overlay

import (
	"image"
	"math"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"github.com/erh/objlocate/locate"
)

const (
	boxWidth     = 2
	centerRadius = 4
	labelGap     = 10
)

// Render returns a copy of img with a box, a center dot and a label for every result.
func Render(img image.Image, results []locate.Result) image.Image {
	dc := gg.NewContextForImage(img)
	dc.SetFontFace(basicfont.Face7x13)

	for _, r := range results {
		b := r.Detection.Corners
		x1, y1 := math.Trunc(b.X1), math.Trunc(b.Y1)
		x2, y2 := math.Trunc(b.X2), math.Trunc(b.Y2)

		dc.SetRGB(0, 1, 0)
		dc.SetLineWidth(boxWidth)
		dc.DrawRectangle(x1, y1, x2-x1, y2-y1)
		dc.Stroke()

		c := r.Detection.Center
		dc.SetRGB(1, 0, 0)
		dc.DrawCircle(math.Trunc(c.Cx), math.Trunc(c.Cy), centerRadius)
		dc.Fill()

		ty := math.Max(dc.FontHeight(), y1-labelGap)
		label := r.Label()

		dc.SetRGB(0, 0, 0)
		dc.DrawString(label, x1+1, ty+1)
		dc.SetRGB(1, 1, 1)
		dc.DrawString(label, x1, ty)
	}

	return dc.Image()
}
