// Package textdoc is a reflowable docview.Engine for plain text, Markdown
// and HTML. Documents are parsed into headings and paragraphs and laid out
// with the Go Regular font.
package textdoc

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"math"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/image/math/f64"

	"github.com/alefaraci/docview"
	"github.com/alefaraci/docview/internal/textsearch"
	"github.com/alefaraci/docview/internal/typeset"
)

// MaxSize is the largest document accepted, in bytes.
const MaxSize = 64 << 20

var ErrUnsupported = errors.New("textdoc: unsupported document type")

type format int

const (
	formatPlain format = iota
	formatMarkdown
	formatHTML
)

// detect maps a file name, extension or MIME type to a format.
func detect(hint string) (format, bool) {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if mt, _, err := mime.ParseMediaType(hint); err == nil && strings.Contains(mt, "/") {
		switch mt {
		case "text/plain":
			return formatPlain, true
		case "text/markdown", "text/x-markdown":
			return formatMarkdown, true
		case "text/html", "application/xhtml+xml":
			return formatHTML, true
		}
		return 0, false
	}
	ext := filepath.Ext(hint)
	if ext == "" {
		ext = "." + strings.TrimPrefix(hint, ".")
	}
	switch ext {
	case ".txt", ".text", ".":
		return formatPlain, true
	case ".md", ".markdown", ".mdown":
		return formatMarkdown, true
	case ".html", ".htm", ".xhtml":
		return formatHTML, true
	}
	return 0, false
}

type Engine struct{}

func New() *Engine { return &Engine{} }

// Supports reports whether typeHint names a format this engine opens.
func Supports(typeHint string) bool {
	_, ok := detect(typeHint)
	return ok
}

func (e *Engine) Open(r io.ReaderAt, size int64, typeHint string) (docview.Document, error) {
	f, ok := detect(typeHint)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, typeHint)
	}
	if size > MaxSize {
		return nil, fmt.Errorf("textdoc: document of %d bytes exceeds %d", size, MaxSize)
	}
	src, err := io.ReadAll(io.NewSectionReader(r, 0, size))
	if err != nil {
		return nil, fmt.Errorf("textdoc: reading: %w", err)
	}
	if !utf8.Valid(src) {
		return nil, errors.New("textdoc: not UTF-8 text")
	}

	var p *parsed
	switch f {
	case formatMarkdown:
		p, err = parseMarkdown(src)
	case formatHTML:
		p, err = parseHTML(src)
	default:
		p, err = parsePlain(src)
	}
	if err != nil {
		return nil, fmt.Errorf("textdoc: %w", err)
	}
	return &document{parsed: p}, nil
}

type document struct {
	*parsed
	w, h   float64
	pages  []pageLines
	closed bool
}

func (d *document) Layout(w, h, em float64) {
	if w <= 0 || h <= 0 || em <= 0 {
		w, h, em = docview.DefaultLayout.Width, docview.DefaultLayout.Height, docview.DefaultLayout.EM
	}
	d.w, d.h = w, h
	d.pages = layout(d.blocks, w, h, em)
}

func (d *document) CountPages() (int, error) {
	if d.closed {
		return 0, docview.ErrClosed
	}
	return len(d.pages), nil
}

func (d *document) Reflowable() bool                  { return true }
func (d *document) Title() string                     { return d.title }
func (d *document) NeedsPassword() bool               { return false }
func (d *document) Authenticate(password string) bool { return true }

func (d *document) LoadPage(n int) (docview.Page, error) {
	if d.closed {
		return nil, docview.ErrClosed
	}
	if n < 0 || n >= len(d.pages) {
		return nil, fmt.Errorf("page %d out of range", n+1)
	}
	return &page{lines: d.pages[n].lines, bounds: docview.Rect{X1: d.w, Y1: d.h}}, nil
}

// MakeBookmark returns the text offset at the top of page.
func (d *document) MakeBookmark(page int) docview.Bookmark {
	if page < 0 || page >= len(d.pages) || len(d.pages[page].lines) == 0 {
		return 0
	}
	return docview.Bookmark(d.pages[page].lines[0].start)
}

// FindBookmark returns the page showing offset b in the current layout.
func (d *document) FindBookmark(b docview.Bookmark) int {
	found := 0
	for i, p := range d.pages {
		if len(p.lines) > 0 && docview.Bookmark(p.lines[0].start) <= b {
			found = i
		}
	}
	return found
}

func (d *document) ResolveLink(uri string) int {
	if n, ok := docview.ParsePageFragment(uri); ok && n < len(d.pages) {
		return n
	}
	return -1
}

// LoadOutline nests headings by level and points each at its page in the
// current layout.
func (d *document) LoadOutline() ([]docview.OutlineNode, error) {
	if d.closed {
		return nil, docview.ErrClosed
	}
	type entry struct {
		node  *docview.OutlineNode
		level int
	}
	root := &docview.OutlineNode{}
	stack := []entry{{node: root, level: 0}}
	lastBlock := -1
	for pi, p := range d.pages {
		for _, l := range p.lines {
			if l.heading == 0 {
				continue
			}
			// a wrapped heading continues the previous entry
			if l.block == lastBlock {
				top := stack[len(stack)-1].node
				top.Title += " " + l.text
				continue
			}
			lastBlock = l.block
			for len(stack) > 1 && stack[len(stack)-1].level >= l.heading {
				stack = stack[:len(stack)-1]
			}
			parent := stack[len(stack)-1].node
			parent.Children = append(parent.Children, docview.OutlineNode{Title: l.text, Page: pi})
			stack = append(stack, entry{node: &parent.Children[len(parent.Children)-1], level: l.heading})
		}
	}
	return root.Children, nil
}

func (d *document) Close() error {
	if d.closed {
		return docview.ErrClosed
	}
	d.closed = true
	d.pages = nil
	return nil
}

type page struct {
	lines  []line
	bounds docview.Rect
}

func (p *page) Bounds() docview.Rect { return p.bounds }

func (p *page) DisplayList() (docview.DisplayList, error) {
	return &displayList{lines: p.lines}, nil
}

func (p *page) Search(needle string) ([]docview.Hit, error) {
	var t textsearch.Text
	asc, desc := typeset.Ascent(), typeset.Descent()
	for i, l := range p.lines {
		t.Space(i)
		x := l.x
		j := 0
		for _, r := range l.text {
			adv := l.advances[j]
			if r == ' ' {
				t.Space(i)
			} else {
				t.Add(r, docview.Rect{X0: x, Y0: l.y - asc*l.size, X1: x + adv, Y1: l.y + desc*l.size}, i)
			}
			x += adv
			j++
		}
	}
	return t.Find(needle), nil
}

func (p *page) Links() ([]docview.Link, error) { return nil, nil }
func (p *page) Close() error                   { return nil }

type displayList struct {
	lines []line
}

func (l *displayList) Run(ctx context.Context, dst draw.Image, ctm f64.Aff3, clip image.Rectangle) error {
	clipped := docview.Clip(dst, clip)
	bounds := clipped.Bounds()
	pt := typeset.NewPainter(clipped, image.Black)
	defer pt.Close()
	scale := math.Abs(ctm[4])
	for _, ln := range l.lines {
		if err := ctx.Err(); err != nil {
			return err
		}
		o := docview.Apply(ctm, docview.Point{X: ln.x, Y: ln.y})
		size := ln.size * scale
		if o.Y-size > float64(bounds.Max.Y) || o.Y+size < float64(bounds.Min.Y) {
			continue
		}
		if err := pt.Draw(ln.text, o.X, o.Y, size); err != nil {
			return err
		}
	}
	return nil
}

func (l *displayList) Close() error { return nil }
