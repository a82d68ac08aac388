package pdfdoc

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"math"
	"unicode"
	"unicode/utf8"

	pdflib "github.com/ledongthuc/pdf"
	"golang.org/x/image/math/f64"

	"github.com/alefaraci/docview"
	"github.com/alefaraci/docview/internal/textsearch"
	"github.com/alefaraci/docview/internal/typeset"
)

// US Letter, used when a page has no usable MediaBox.
var letter = [4]float64{0, 0, 612, 792}

// ruleThickness is the largest rectangle side, in points, drawn as a rule.
// Wider rectangles are usually clip paths or backgrounds of unknown colour.
const ruleThickness = 2

type glyph struct {
	s       string
	x, y    float64 // baseline origin, page space
	w, size float64
	line    int
	space   bool // word break before s
}

type page struct {
	doc    *document
	index  int
	v      pdflib.Value
	box    [4]float64
	bounds docview.Rect

	loaded bool
	glyphs []glyph
	rules  []docview.Rect
}

func newPage(d *document, n int, v pdflib.Value) (*page, error) {
	if v.IsNull() {
		return nil, fmt.Errorf("page %d missing from page tree", n+1)
	}
	box := inheritedBox(v)
	return &page{
		doc:    d,
		index:  n,
		v:      v,
		box:    box,
		bounds: docview.Rect{X1: box[2] - box[0], Y1: box[3] - box[1]},
	}, nil
}

// inheritedBox finds the MediaBox on the page or its ancestors.
func inheritedBox(v pdflib.Value) [4]float64 {
	for depth := 0; !v.IsNull() && depth < maxTreeDepth; depth++ {
		if mb := v.Key("MediaBox"); mb.Len() == 4 {
			x0, y0 := mb.Index(0).Float64(), mb.Index(1).Float64()
			x1, y1 := mb.Index(2).Float64(), mb.Index(3).Float64()
			b := [4]float64{min(x0, x1), min(y0, y1), max(x0, x1), max(y0, y1)}
			if b[2] > b[0] && b[3] > b[1] {
				return b
			}
		}
		v = v.Key("Parent")
	}
	return letter
}

func (p *page) Bounds() docview.Rect { return p.bounds }

// toPage converts PDF user space (origin bottom left) to page space.
func (p *page) toPage(x, y float64) docview.Point {
	return docview.Point{X: x - p.box[0], Y: p.box[3] - y}
}

// load interprets the content stream once. The parser panics on
// malformed operators.
func (p *page) load() (err error) {
	if p.loaded {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("interpreting content: %v", r)
		}
	}()
	c := pdflib.Page{V: p.v}.Content()

	var (
		line   int
		prev   glyph
		glyphs = make([]glyph, 0, len(c.Text))
	)
	for _, t := range c.Text {
		if t.S == "" {
			continue
		}
		origin := p.toPage(t.X, t.Y)
		size := math.Abs(t.FontSize)
		w := t.W
		if w <= 0 {
			for _, r := range t.S {
				w += typeset.Advance(r, size)
			}
		}
		g := glyph{s: t.S, x: origin.X, y: origin.Y, w: w, size: size}
		if len(glyphs) > 0 {
			tol := max(size, prev.size) / 2
			switch {
			case math.Abs(g.y-prev.y) > tol:
				line++
				g.space = true
			case g.x-(prev.x+prev.w) > max(size, prev.size)/4:
				g.space = true
			}
		}
		g.line = line
		glyphs = append(glyphs, g)
		prev = g
	}

	for _, r := range c.Rect {
		a := p.toPage(r.Min.X, r.Min.Y)
		b := p.toPage(r.Max.X, r.Max.Y)
		rect := docview.Rect{X0: min(a.X, b.X), Y0: min(a.Y, b.Y), X1: max(a.X, b.X), Y1: max(a.Y, b.Y)}
		if min(rect.Width(), rect.Height()) > ruleThickness {
			continue
		}
		rect.X1 = max(rect.X1, rect.X0+0.5)
		rect.Y1 = max(rect.Y1, rect.Y0+0.5)
		p.rules = append(p.rules, rect)
	}
	p.glyphs = glyphs
	p.loaded = true
	return nil
}

func (p *page) DisplayList() (docview.DisplayList, error) {
	if err := p.load(); err != nil {
		return nil, err
	}
	return &displayList{glyphs: p.glyphs, rules: p.rules}, nil
}

func (p *page) Search(needle string) ([]docview.Hit, error) {
	if err := p.load(); err != nil {
		return nil, err
	}
	var t textsearch.Text
	asc, desc := typeset.Ascent(), typeset.Descent()
	for _, g := range p.glyphs {
		if g.space {
			t.Space(g.line)
		}
		step := g.w / float64(utf8.RuneCountInString(g.s))
		i := 0
		for _, r := range g.s {
			if unicode.IsSpace(r) {
				t.Space(g.line)
				i++
				continue
			}
			x0 := g.x + float64(i)*step
			t.Add(r, docview.Rect{X0: x0, Y0: g.y - asc*g.size, X1: x0 + step, Y1: g.y + desc*g.size}, g.line)
			i++
		}
	}
	return t.Find(needle), nil
}

func (p *page) Links() ([]docview.Link, error) {
	annots := p.v.Key("Annots")
	var links []docview.Link
	for i := range annots.Len() {
		a := annots.Index(i)
		if a.Key("Subtype").Name() != "Link" {
			continue
		}
		r := a.Key("Rect")
		if r.Len() != 4 {
			continue
		}
		lo := p.toPage(r.Index(0).Float64(), r.Index(1).Float64())
		hi := p.toPage(r.Index(2).Float64(), r.Index(3).Float64())
		target, uri := p.doc.target(a)
		if target < 0 && uri == "" {
			continue
		}
		links = append(links, docview.Link{
			Bounds: docview.Rect{X0: min(lo.X, hi.X), Y0: min(lo.Y, hi.Y), X1: max(lo.X, hi.X), Y1: max(lo.Y, hi.Y)},
			Page:   target,
			URI:    uri,
		})
	}
	return links, nil
}

func (p *page) Close() error {
	p.glyphs, p.rules = nil, nil
	return nil
}

type displayList struct {
	glyphs []glyph
	rules  []docview.Rect
}

// checkEvery is how many glyphs are drawn between cancellation checks.
const checkEvery = 64

func (l *displayList) Run(ctx context.Context, dst draw.Image, ctm f64.Aff3, clip image.Rectangle) error {
	clipped := docview.Clip(dst, clip)
	for _, r := range l.rules {
		a := docview.Apply(ctm, docview.Point{X: r.X0, Y: r.Y0})
		b := docview.Apply(ctm, docview.Point{X: r.X1, Y: r.Y1})
		dr := image.Rect(int(math.Floor(a.X)), int(math.Floor(a.Y)), int(math.Ceil(b.X)), int(math.Ceil(b.Y)))
		draw.Draw(clipped, dr, image.Black, image.Point{}, draw.Over)
	}

	scale := math.Abs(ctm[4])
	pt := typeset.NewPainter(clipped, image.Black)
	defer pt.Close()
	bounds := clipped.Bounds()
	for i, g := range l.glyphs {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		o := docview.Apply(ctm, docview.Point{X: g.x, Y: g.y})
		size := g.size * scale
		if o.Y-size > float64(bounds.Max.Y) || o.Y+size < float64(bounds.Min.Y) {
			continue
		}
		if err := pt.Draw(g.s, o.X, o.Y, size); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (l *displayList) Close() error { return nil }
