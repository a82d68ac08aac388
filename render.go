package docview

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/math/f64"
)

// DefaultResolution is the render resolution in dots per inch.
const DefaultResolution = 160

// RenderOptions are per-call render settings owned by the caller.
type RenderOptions struct {
	// NightMode inverts the colours of the rendered patch.
	NightMode bool
	// Paper is the background the patch is cleared to. Nil means white.
	Paper color.Color
	// Exclusive renders are never cancelled by navigation to another page.
	Exclusive bool
}

// PageTransform maps page space onto an outW x outH raster. The page is
// first zoomed to resolution, snapped to whole device pixels and then
// stretched to the target size, which may change its aspect ratio.
func PageTransform(bounds Rect, resolution float64, outW, outH int) f64.Aff3 {
	zoom := resolution / 72
	bw := math.Ceil(bounds.X1*zoom) - math.Floor(bounds.X0*zoom)
	bh := math.Ceil(bounds.Y1*zoom) - math.Floor(bounds.Y0*zoom)
	if bw <= 0 || bh <= 0 {
		return f64.Aff3{1, 0, 0, 0, 1, 0}
	}
	sx := zoom * float64(outW) / bw
	sy := zoom * float64(outH) / bh
	return f64.Aff3{
		sx, 0, -bounds.X0 * sx,
		0, sy, -bounds.Y0 * sy,
	}
}

// Apply maps p through m.
func Apply(m f64.Aff3, p Point) Point {
	return Point{
		X: m[0]*p.X + m[1]*p.Y + m[2],
		Y: m[3]*p.X + m[4]*p.Y + m[5],
	}
}

// InvertTransform returns the inverse of m. ok is false for singular m.
func InvertTransform(m f64.Aff3) (inv f64.Aff3, ok bool) {
	det := m[0]*m[4] - m[1]*m[3]
	if det == 0 {
		return inv, false
	}
	a, b := m[4]/det, -m[1]/det
	d, e := -m[3]/det, m[0]/det
	return f64.Aff3{
		a, b, -(a*m[2] + b*m[5]),
		d, e, -(d*m[2] + e*m[5]),
	}, true
}

// scaleOf is the mean linear scale factor of m.
func scaleOf(m f64.Aff3) float64 {
	return math.Sqrt(math.Abs(m[0]*m[4] - m[1]*m[3]))
}

// InvertColors replaces every pixel in r with its colour negative, keeping
// alpha. Applying it twice restores the original pixels.
func InvertColors(dst draw.Image, r image.Rectangle) {
	r = r.Intersect(dst.Bounds())
	if img, ok := dst.(*image.RGBA); ok {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			off := img.PixOffset(r.Min.X, y)
			row := img.Pix[off : off+r.Dx()*4]
			for i := 0; i < len(row); i += 4 {
				a := row[i+3]
				row[i] = a - row[i]
				row[i+1] = a - row[i+1]
				row[i+2] = a - row[i+2]
			}
		}
		return
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			c := color.RGBA64Model.Convert(dst.At(x, y)).(color.RGBA64)
			c.R, c.G, c.B = c.A-c.R, c.A-c.G, c.A-c.B
			dst.Set(x, y, c)
		}
	}
}

func clearRect(dst draw.Image, r image.Rectangle, paper color.Color) {
	if paper == nil {
		paper = color.White
	}
	draw.Draw(dst, r, image.NewUniform(paper), image.Point{}, draw.Src)
}
