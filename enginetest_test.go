package docview

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"
	"strings"
	"sync"

	"golang.org/x/image/math/f64"
)

// fakeEngine opens fakeDocs. The document content is ignored.
type fakeEngine struct {
	doc *fakeDoc
	err error
}

func (e *fakeEngine) Open(r io.ReaderAt, size int64, typeHint string) (Document, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.doc, nil
}

// fakeDoc is a document whose page count is fixed, or for reflowable
// documents chars/charsPerPage where charsPerPage follows the layout.
type fakeDoc struct {
	mu sync.Mutex

	pages      int
	reflowable bool
	chars      int
	perPage    int
	password   string
	locked     bool
	title      string
	outline    []OutlineNode
	outlineErr error
	badPage    int // -1 for none
	countErr   error
	slow       bool
	started    chan struct{}

	events      []string
	layoutCalls int
	outlineLoad int
	closed      bool
}

func newFakeDoc(pages int) *fakeDoc {
	return &fakeDoc{pages: pages, badPage: -1, title: "Fake"}
}

// newReflowDoc lays out chars characters, em*10 of them per page.
func newReflowDoc(chars int) *fakeDoc {
	d := newFakeDoc(0)
	d.reflowable = true
	d.chars = chars
	return d
}

func (d *fakeDoc) log(format string, args ...any) {
	d.events = append(d.events, fmt.Sprintf(format, args...))
}

func (d *fakeDoc) Events() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.events...)
}

func (d *fakeDoc) resetEvents() {
	d.mu.Lock()
	d.events = nil
	d.mu.Unlock()
}

func (d *fakeDoc) Layout(w, h, em float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.layoutCalls++
	if d.reflowable {
		d.perPage = int(1000 / em)
	}
}

func (d *fakeDoc) CountPages() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.countErr != nil {
		return 0, d.countErr
	}
	if d.reflowable {
		return (d.chars + d.perPage - 1) / d.perPage, nil
	}
	return d.pages, nil
}

func (d *fakeDoc) Reflowable() bool { return d.reflowable }
func (d *fakeDoc) Title() string    { return d.title }

func (d *fakeDoc) NeedsPassword() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.locked
}

func (d *fakeDoc) Authenticate(password string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.locked {
		return true
	}
	if password != d.password {
		return false
	}
	d.locked = false
	return true
}

func (d *fakeDoc) LoadPage(n int) (Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n == d.badPage {
		return nil, errors.New("corrupt page")
	}
	d.log("load %d", n)
	return &fakePage{doc: d, n: n}, nil
}

func (d *fakeDoc) LoadOutline() ([]OutlineNode, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outlineLoad++
	if d.outlineErr != nil {
		return nil, d.outlineErr
	}
	return d.outline, nil
}

// Bookmarks are character offsets in reflowable documents.
func (d *fakeDoc) MakeBookmark(page int) Bookmark {
	if !d.reflowable {
		return Bookmark(page)
	}
	return Bookmark(page * d.perPage)
}

func (d *fakeDoc) FindBookmark(b Bookmark) int {
	if !d.reflowable {
		return int(b)
	}
	return int(b) / d.perPage
}

func (d *fakeDoc) ResolveLink(uri string) int {
	if n, ok := ParsePageFragment(uri); ok {
		return n
	}
	return -1
}

func (d *fakeDoc) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.closed = true
	d.log("close doc")
	return nil
}

type fakePage struct {
	doc *fakeDoc
	n   int
}

// Pages are 100 x 200 points.
func (p *fakePage) Bounds() Rect { return Rect{0, 0, 100, 200} }

func (p *fakePage) DisplayList() (DisplayList, error) {
	p.doc.mu.Lock()
	p.doc.log("list %d", p.n)
	p.doc.mu.Unlock()
	return &fakeList{page: p}, nil
}

// Search finds the needle in the page's text "page N".
func (p *fakePage) Search(needle string) ([]Hit, error) {
	if !strings.Contains(fmt.Sprintf("page %d", p.n), needle) {
		return nil, nil
	}
	return []Hit{{QuadFromRect(Rect{10, 10, 50, 20})}}, nil
}

func (p *fakePage) Links() ([]Link, error) {
	return []Link{
		{Bounds: Rect{0, 0, 10, 10}, Page: 0},
		{Bounds: Rect{0, 20, 10, 30}, Page: -1, URI: "#page=2"},
		{Bounds: Rect{0, 40, 10, 50}, Page: -1, URI: "https://example.com/"},
	}, nil
}

func (p *fakePage) Close() error {
	p.doc.mu.Lock()
	defer p.doc.mu.Unlock()
	p.doc.log("close page %d", p.n)
	return nil
}

// pageColor is the fill used for page n.
func pageColor(n int) color.RGBA {
	return color.RGBA{uint8(10 * (n + 1)), 0x40, 0x80, 0xFF}
}

type fakeList struct {
	page *fakePage
}

// Run fills the page's device rectangle inside clip with pageColor.
func (l *fakeList) Run(ctx context.Context, dst draw.Image, ctm f64.Aff3, clip image.Rectangle) error {
	d := l.page.doc
	if d.slow {
		if d.started != nil {
			close(d.started)
		}
		<-ctx.Done()
		return ctx.Err()
	}
	b := l.page.Bounds()
	p0, p1 := Apply(ctm, Point{b.X0, b.Y0}), Apply(ctm, Point{b.X1, b.Y1})
	r := image.Rect(int(p0.X), int(p0.Y), int(p1.X), int(p1.Y)).Intersect(clip)
	draw.Draw(dst, r, image.NewUniform(pageColor(l.page.n)), image.Point{}, draw.Src)
	return nil
}

func (l *fakeList) Close() error {
	l.page.doc.mu.Lock()
	defer l.page.doc.mu.Unlock()
	l.page.doc.log("close list %d", l.page.n)
	return nil
}

func newTestCache(t interface{ Fatalf(string, ...any) }, doc *fakeDoc) *PageCache {
	c, err := NewPageCache(doc, CacheOptions{Resolution: 72})
	if err != nil {
		t.Fatalf("NewPageCache: %v", err)
	}
	return c
}
