package docview

import (
	"fmt"
	"image"
	"image/color"
	"slices"

	"github.com/dennwc/gotrace"
	"golang.org/x/image/math/f64"
)

// inkLayer is the traced outline of every stroke drawn in one colour.
type inkLayer struct {
	ink   color.NRGBA
	paths []gotrace.Path
}

func (l inkLayer) translucent() bool { return l.ink.A < 0xFF }

// traceStrokes rasterises strokes into one coverage mask per colour and
// traces each mask into outlines in device pixels. Translucent layers are
// ordered first so highlighter ink stays behind pen ink.
func traceStrokes(strokes []DrawingStroke, m f64.Aff3, width, height, turdSize int) ([]inkLayer, error) {
	var colours []color.NRGBA
	byColour := make(map[color.NRGBA][]DrawingStroke)
	for _, s := range strokes {
		if _, seen := byColour[s.Color]; !seen {
			colours = append(colours, s.Color)
		}
		byColour[s.Color] = append(byColour[s.Color], s)
	}

	params := gotrace.Defaults
	params.TurdSize = turdSize
	opaque := color.NRGBA{A: 0xFF}

	layers := make([]inkLayer, 0, len(colours))
	for _, c := range colours {
		mask := image.NewAlpha(image.Rect(0, 0, width, height))
		for _, s := range byColour[c] {
			rasterStroke(mask, polylinePath(s.Points), m, s.Width, opaque, s.Style)
		}
		bm := gotrace.NewBitmapFromImage(mask, func(x, y int, px color.Color) bool {
			_, _, _, a := px.RGBA()
			return a >= 0x8000
		})
		paths, err := gotrace.Trace(bm, &params)
		if err != nil {
			return nil, fmt.Errorf("tracing %s ink: %w", FormatHexColor(c), err)
		}
		if len(paths) > 0 {
			layers = append(layers, inkLayer{ink: c, paths: paths})
		}
	}

	slices.SortStableFunc(layers, func(a, b inkLayer) int {
		if a.translucent() == b.translucent() {
			return 0
		}
		if a.translucent() {
			return -1
		}
		return 1
	})
	return layers, nil
}

// appendPoint appends the device point (x, y) mapped through m.
func appendPoint(buf []byte, m f64.Aff3, x, y float64) []byte {
	p := Apply(m, Point{x, y})
	buf = appendFloat4(buf, p.X)
	buf = append(buf, ' ')
	return appendFloat4(buf, p.Y)
}

// appendOutline appends p and, recursively, its holes and islands as
// closed subpaths, for an even-odd fill.
func appendOutline(buf []byte, p gotrace.Path, m f64.Aff3) []byte {
	if c := p.Curve; len(c) > 0 {
		start := c[len(c)-1].Pnt[2]
		buf = appendPoint(buf, m, start.X, start.Y)
		buf = append(buf, " m\n"...)
		for _, seg := range c {
			if seg.Type == gotrace.TypeBezier {
				for _, pt := range seg.Pnt {
					buf = appendPoint(buf, m, pt.X, pt.Y)
					buf = append(buf, ' ')
				}
				buf = append(buf, "c\n"...)
				continue
			}
			// corner: straight to the vertex, then on to the end point
			for _, pt := range seg.Pnt[1:] {
				buf = appendPoint(buf, m, pt.X, pt.Y)
				buf = append(buf, " l\n"...)
			}
		}
		buf = append(buf, "h\n"...)
	}
	for _, child := range p.Childs {
		buf = appendOutline(buf, child, m)
	}
	return buf
}
