// Package typeset measures and draws text with the Go Regular font.
package typeset

import (
	"fmt"
	"image"
	"image/draw"
	"math"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// unitSize is the em size of the face used for measuring. Advances are
// scaled linearly from it.
const unitSize = 1000

var regular = sync.OnceValues(func() (*opentype.Font, error) {
	return opentype.Parse(goregular.TTF)
})

var unitFace = sync.OnceValues(func() (font.Face, error) {
	f, err := regular()
	if err != nil {
		return nil, fmt.Errorf("parsing Go Regular: %w", err)
	}
	return opentype.NewFace(f, &opentype.FaceOptions{Size: unitSize, DPI: 72, Hinting: font.HintingNone})
})

// Advance returns the advance width of r at the given size, in points.
func Advance(r rune, size float64) float64 {
	face, err := unitFace()
	if err != nil {
		return size / 2
	}
	adv, ok := face.GlyphAdvance(r)
	if !ok {
		adv, _ = face.GlyphAdvance('?')
	}
	return fixedToFloat(adv) * size / unitSize
}

// Measure returns the advance width of s at the given size.
func Measure(s string, size float64) float64 {
	face, err := unitFace()
	if err != nil {
		return float64(len(s)) * size / 2
	}
	return fixedToFloat(font.MeasureString(face, s)) * size / unitSize
}

// Ascent and Descent are the font's vertical extents at 1pt.
func Ascent() float64  { return metric(func(m font.Metrics) fixed.Int26_6 { return m.Ascent }, 0.8) }
func Descent() float64 { return metric(func(m font.Metrics) fixed.Int26_6 { return m.Descent }, 0.2) }

func metric(pick func(font.Metrics) fixed.Int26_6, fallback float64) float64 {
	face, err := unitFace()
	if err != nil {
		return fallback
	}
	return fixedToFloat(pick(face.Metrics())) / unitSize
}

func fixedToFloat(v fixed.Int26_6) float64 { return float64(v) / 64 }

// Painter draws text runs onto one destination, reusing a face per pixel
// size. Close releases the faces.
type Painter struct {
	dst   draw.Image
	src   image.Image
	faces map[int]font.Face
}

// NewPainter draws into dst with src, typically image.Black. dst should
// already be clipped to the area that may be touched.
func NewPainter(dst draw.Image, src image.Image) *Painter {
	return &Painter{dst: dst, src: src, faces: make(map[int]font.Face)}
}

// face returns a face for size device pixels, quantised to quarter pixels.
func (p *Painter) face(size float64) (font.Face, error) {
	key := int(math.Round(size * 4))
	if f, ok := p.faces[key]; ok {
		return f, nil
	}
	f, err := regular()
	if err != nil {
		return nil, err
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{Size: float64(key) / 4, DPI: 72, Hinting: font.HintingNone})
	if err != nil {
		return nil, err
	}
	p.faces[key] = face
	return face, nil
}

// Draw paints s with its baseline origin at (x, y) in device pixels.
func (p *Painter) Draw(s string, x, y, size float64) error {
	if size < 0.5 {
		return nil
	}
	face, err := p.face(size)
	if err != nil {
		return err
	}
	d := font.Drawer{
		Dst:  p.dst,
		Src:  p.src,
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.Int26_6(math.Round(x * 64)), Y: fixed.Int26_6(math.Round(y * 64))},
	}
	d.DrawString(s)
	return nil
}

func (p *Painter) Close() error {
	var first error
	for k, f := range p.faces {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
		delete(p.faces, k)
	}
	return first
}
