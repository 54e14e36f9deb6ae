package charts

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	colorBackground = color.RGBA{255, 255, 255, 255}
	colorHeader     = color.RGBA{33, 37, 41, 255}
	colorHeaderText = color.RGBA{248, 249, 250, 255}
	colorMuted      = color.RGBA{134, 142, 150, 255}
	colorFrame      = color.RGBA{222, 226, 230, 255}
)

func fill(img *image.RGBA, r image.Rectangle, c color.Color) {
	draw.Draw(img, r, image.NewUniform(c), image.Point{}, draw.Src)
}

// drawText draws text with its baseline at (x, y).
func drawText(img *image.RGBA, text string, x, y int, col color.Color, face font.Face) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

func textWidth(text string, face font.Face) int {
	return (&font.Drawer{Face: face}).MeasureString(text).Ceil()
}

// placeholder is drawn in place of a panel that has nothing to plot.
func placeholder(w, h int, title, message string) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	fill(img, img.Bounds(), colorBackground)

	inner := image.Rect(16, 16, w-16, h-16)
	for x := inner.Min.X; x < inner.Max.X; x++ {
		img.Set(x, inner.Min.Y, colorFrame)
		img.Set(x, inner.Max.Y-1, colorFrame)
	}
	for y := inner.Min.Y; y < inner.Max.Y; y++ {
		img.Set(inner.Min.X, y, colorFrame)
		img.Set(inner.Max.X-1, y, colorFrame)
	}

	face := basicfont.Face7x13
	drawText(img, title, (w-textWidth(title, face))/2, inner.Min.Y+24, colorHeader, face)
	drawText(img, message, (w-textWidth(message, face))/2, h/2, colorMuted, face)
	return img
}
