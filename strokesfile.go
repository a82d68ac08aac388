package docview

import (
	"fmt"
	"image/color"
	"io"
	"os"

	"github.com/BurntSushi/toml"
)

// On-disk form of a PageAnnotationStore:
//
//	[[page]]
//	index = 0
//	  [[page.stroke]]
//	  color = "#FF0000"
//	  opacity = 1.0
//	  width = 3.0
//	  style = "solid"
//	  points = [[10.0, 10.0], [20.0, 25.0]]
type strokesFile struct {
	Pages []strokesPage `toml:"page"`
}

type strokesPage struct {
	Index   int             `toml:"index"`
	Strokes []strokesStroke `toml:"stroke"`
}

type strokesStroke struct {
	Color   string      `toml:"color"`
	Opacity float64     `toml:"opacity"`
	Width   float64     `toml:"width"`
	Style   string      `toml:"style,omitempty"`
	Points  [][]float64 `toml:"points"`
}

// ReadAnnotations decodes strokes from r into store, replacing the pages
// it names. Points are in page space.
func ReadAnnotations(r io.Reader, store *PageAnnotationStore) error {
	var f strokesFile
	if _, err := toml.NewDecoder(r).Decode(&f); err != nil {
		return fmt.Errorf("decoding annotations: %w", err)
	}
	for _, p := range f.Pages {
		if p.Index < 0 {
			return fmt.Errorf("annotations: negative page index %d", p.Index)
		}
		strokes := make([]DrawingStroke, 0, len(p.Strokes))
		for i, s := range p.Strokes {
			ds, err := s.decode()
			if err != nil {
				return fmt.Errorf("annotations: page %d stroke %d: %w", p.Index, i, err)
			}
			if len(ds.Points) > 1 {
				strokes = append(strokes, ds)
			}
		}
		store.Retain(p.Index, strokes)
	}
	return nil
}

func (s strokesStroke) decode() (DrawingStroke, error) {
	c, err := ParseColor(s.Color)
	if err != nil {
		return DrawingStroke{}, err
	}
	opacity := s.Opacity
	if opacity == 0 {
		opacity = 1
	}
	if opacity < 0 || opacity > 1 {
		return DrawingStroke{}, fmt.Errorf("opacity %v not in [0, 1]", opacity)
	}
	c.A = uint8(opacity*255 + 0.5)
	style, err := ParseStrokeStyle(s.Style)
	if err != nil {
		return DrawingStroke{}, err
	}
	pts := make([]DrawingPoint, 0, len(s.Points))
	for _, p := range s.Points {
		if len(p) < 2 {
			return DrawingStroke{}, fmt.Errorf("point %v needs x and y", p)
		}
		dp := DrawingPoint{X: p[0], Y: p[1]}
		if len(p) > 2 {
			dp.Pressure = p[2]
		}
		pts = append(pts, dp)
	}
	return DrawingStroke{Points: pts, Color: c, Width: s.Width, Style: style}, nil
}

// WriteAnnotations encodes every annotated page of store.
func WriteAnnotations(w io.Writer, store *PageAnnotationStore) error {
	var f strokesFile
	for _, n := range store.Pages() {
		p := strokesPage{Index: n}
		for _, s := range store.Strokes(n) {
			p.Strokes = append(p.Strokes, encodeStroke(s))
		}
		f.Pages = append(f.Pages, p)
	}
	if err := toml.NewEncoder(w).Encode(f); err != nil {
		return fmt.Errorf("encoding annotations: %w", err)
	}
	return nil
}

func encodeStroke(s DrawingStroke) strokesStroke {
	out := strokesStroke{
		Color:   FormatHexColor(color.NRGBA{s.Color.R, s.Color.G, s.Color.B, 0xFF}),
		Opacity: float64(s.Color.A) / 255,
		Width:   s.Width,
		Style:   s.Style.String(),
		Points:  make([][]float64, len(s.Points)),
	}
	for i, p := range s.Points {
		out.Points[i] = []float64{p.X, p.Y, p.Pressure}
	}
	return out
}

// LoadAnnotationsFile reads the annotations file at path into store.
func LoadAnnotationsFile(path string, store *PageAnnotationStore) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening annotations: %w", err)
	}
	defer f.Close()
	return ReadAnnotations(f, store)
}
