package docview

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"io"
	"strconv"
	"strings"

	"golang.org/x/image/math/f64"
)

// Point is a position in page space. Page space has its origin at the
// top-left corner of the page with y growing downwards, in points.
type Point struct {
	X, Y float64
}

// Rect is an axis-aligned rectangle in page space.
type Rect struct {
	X0, Y0, X1, Y1 float64
}

func (r Rect) Width() float64  { return r.X1 - r.X0 }
func (r Rect) Height() float64 { return r.Y1 - r.Y0 }
func (r Rect) Empty() bool     { return r.X0 >= r.X1 || r.Y0 >= r.Y1 }

// Union returns the smallest rectangle containing both r and s.
func (r Rect) Union(s Rect) Rect {
	if r.Empty() {
		return s
	}
	if s.Empty() {
		return r
	}
	return Rect{min(r.X0, s.X0), min(r.Y0, s.Y0), max(r.X1, s.X1), max(r.Y1, s.Y1)}
}

// Quad is a possibly rotated quadrilateral, as produced by text search.
type Quad struct {
	UL, UR, LL, LR Point
}

// QuadFromRect returns the quad covering r.
func QuadFromRect(r Rect) Quad {
	return Quad{
		UL: Point{r.X0, r.Y0}, UR: Point{r.X1, r.Y0},
		LL: Point{r.X0, r.Y1}, LR: Point{r.X1, r.Y1},
	}
}

// Bounds returns the bounding rectangle of q.
func (q Quad) Bounds() Rect {
	r := Rect{q.UL.X, q.UL.Y, q.UL.X, q.UL.Y}
	for _, p := range []Point{q.UR, q.LL, q.LR} {
		r.X0, r.Y0 = min(r.X0, p.X), min(r.Y0, p.Y)
		r.X1, r.Y1 = max(r.X1, p.X), max(r.Y1, p.Y)
	}
	return r
}

// Hit is one search match. Text that wraps across lines yields several quads.
type Hit []Quad

// Link is a hyperlink area on a page. Page is the 0-based target for
// internal links and -1 when the target has to be resolved from URI.
type Link struct {
	Bounds Rect
	Page   int
	URI    string
}

// Bookmark is a layout independent location inside a document.
type Bookmark int64

// OutlineNode is one entry of a document's table of contents as returned by
// the engine. Page is -1 when the entry only carries a URI.
type OutlineNode struct {
	Title string
	// Untitled marks an entry that has no title at all, as opposed to an
	// empty one. It is left out of the flattened outline.
	Untitled bool
	Page     int
	URI      string
	Children []OutlineNode
}

// Engine opens documents. typeHint is a file name, extension or MIME type.
type Engine interface {
	Open(r io.ReaderAt, size int64, typeHint string) (Document, error)
}

// Document is an open document handle. Implementations need not be safe
// for concurrent use; PageCache serialises every call.
type Document interface {
	// Layout reflows the document. Fixed-layout documents ignore it.
	Layout(w, h, em float64)
	CountPages() (int, error)
	Reflowable() bool
	Title() string

	NeedsPassword() bool
	Authenticate(password string) bool

	LoadPage(n int) (Page, error)
	LoadOutline() ([]OutlineNode, error)

	MakeBookmark(page int) Bookmark
	FindBookmark(b Bookmark) int
	// ResolveLink maps a link URI to a page index, or -1 for external targets.
	ResolveLink(uri string) int

	Close() error
}

// Page is a loaded page. It stays valid until closed.
type Page interface {
	Bounds() Rect
	DisplayList() (DisplayList, error)
	Search(needle string) ([]Hit, error)
	Links() ([]Link, error)
	Close() error
}

// DisplayList is the replayable drawing form of a page.
type DisplayList interface {
	// Run draws the page through ctm into dst, touching only pixels
	// inside clip. It returns ctx.Err() when interrupted.
	Run(ctx context.Context, dst draw.Image, ctm f64.Aff3, clip image.Rectangle) error
	Close() error
}

// ParsePageFragment recognises "#page=N" and "#N" link targets, with N
// 1-based, and returns the 0-based page.
func ParsePageFragment(uri string) (int, bool) {
	frag, ok := strings.CutPrefix(uri, "#")
	if !ok {
		return 0, false
	}
	frag = strings.TrimPrefix(frag, "page=")
	n, err := strconv.Atoi(frag)
	if err != nil || n < 1 {
		return 0, false
	}
	return n - 1, true
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Clip returns a view of dst restricted to r. Writes outside r are dropped.
func Clip(dst draw.Image, r image.Rectangle) draw.Image {
	r = r.Intersect(dst.Bounds())
	if s, ok := dst.(subImager); ok {
		if sub, ok := s.SubImage(r).(draw.Image); ok {
			return sub
		}
	}
	return &clipped{Image: dst, r: r}
}

type clipped struct {
	draw.Image
	r image.Rectangle
}

func (c *clipped) Bounds() image.Rectangle { return c.r }

func (c *clipped) Set(x, y int, col color.Color) {
	if (image.Point{x, y}).In(c.r) {
		c.Image.Set(x, y, col)
	}
}
