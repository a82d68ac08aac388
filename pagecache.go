package docview

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/image/math/f64"
)

// LayoutParams are the reflow parameters: page width and height in points
// and the em size of body text.
type LayoutParams struct {
	Width, Height, EM float64
}

// DefaultLayout is the "A format" pocket book size.
var DefaultLayout = LayoutParams{Width: 312, Height: 504, EM: 10}

// CacheOptions configure a PageCache.
type CacheOptions struct {
	Layout     LayoutParams
	Resolution float64
	Logger     *slog.Logger
}

// PageCache keeps exactly one decoded page and its display list resident.
// Every method is serialised on one mutex; long renders are interrupted
// through their context instead.
type PageCache struct {
	mu  sync.Mutex
	log *slog.Logger

	doc        Document
	count      int
	reflowable bool
	layout     LayoutParams
	resolution float64
	closed     bool

	resident int
	page     Page
	bounds   Rect
	list     DisplayList

	outline       []OutlineNode
	outlineLoaded bool

	renderMu sync.Mutex
	inflight map[*inflightRender]struct{}
}

type inflightRender struct {
	page      int
	exclusive bool
	cancel    context.CancelCauseFunc
}

// OpenPageCache opens a document with e and wraps it in a PageCache. Any
// engine failure is reported as ErrCannotOpen.
func OpenPageCache(e Engine, r io.ReaderAt, size int64, typeHint string, opts CacheOptions) (*PageCache, error) {
	doc, err := e.Open(r, size, typeHint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCannotOpen, err)
	}
	c, err := NewPageCache(doc, opts)
	if err != nil {
		doc.Close()
		return nil, err
	}
	return c, nil
}

// NewPageCache takes ownership of doc. A locked document gets its layout
// and page count once Authenticate succeeds.
func NewPageCache(doc Document, opts CacheOptions) (*PageCache, error) {
	if opts.Layout == (LayoutParams{}) {
		opts.Layout = DefaultLayout
	}
	if opts.Resolution <= 0 {
		opts.Resolution = DefaultResolution
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	c := &PageCache{
		log:        opts.Logger,
		doc:        doc,
		layout:     opts.Layout,
		resolution: opts.Resolution,
		resident:   -1,
	}
	if !doc.NeedsPassword() {
		if err := c.applyLayoutLocked(c.layout); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCannotOpen, err)
		}
	}
	return c, nil
}

// applyLayoutLocked lays the document out with l. The cache only records
// l once the page count is known, so a failed layout can be retried.
func (c *PageCache) applyLayoutLocked(l LayoutParams) error {
	c.doc.Layout(l.Width, l.Height, l.EM)
	n, err := c.doc.CountPages()
	if err != nil {
		return fmt.Errorf("counting pages: %w", err)
	}
	c.layout = l
	c.count = n
	c.reflowable = c.doc.Reflowable()
	return nil
}

func (c *PageCache) usableLocked() error {
	if c.closed {
		return ErrClosed
	}
	if c.doc.NeedsPassword() {
		return ErrPasswordRequired
	}
	return nil
}

// releasePageLocked drops the display list before the page it came from.
func (c *PageCache) releasePageLocked() {
	if c.list != nil {
		if err := c.list.Close(); err != nil {
			c.log.Warn("closing display list", "page", c.resident, "error", err)
		}
		c.list = nil
	}
	if c.page != nil {
		if err := c.page.Close(); err != nil {
			c.log.Warn("closing page", "page", c.resident, "error", err)
		}
		c.page = nil
	}
	c.bounds = Rect{}
	c.resident = -1
}

func (c *PageCache) gotoPageLocked(n int) error {
	if err := c.usableLocked(); err != nil {
		return err
	}
	if c.count == 0 {
		return ErrNoPages
	}
	n = min(max(n, 0), c.count-1)
	if c.page != nil && n == c.resident {
		return nil
	}
	c.releasePageLocked()
	p, err := c.doc.LoadPage(n)
	if err != nil {
		return &RenderError{Page: n, Err: err}
	}
	c.page = p
	c.bounds = p.Bounds()
	c.resident = n
	return nil
}

// GotoPage makes page n, clamped to the document, the resident page.
func (c *PageCache) GotoPage(n int) error {
	c.cancelRendersExcept(n)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gotoPageLocked(n)
}

// Resident reports the resident page index.
func (c *PageCache) Resident() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resident, c.page != nil
}

// PageBounds returns the page-space bounds of page n.
func (c *PageCache) PageBounds(n int) (Rect, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.gotoPageLocked(n); err != nil {
		return Rect{}, err
	}
	return c.bounds, nil
}

// PageSize returns the width and height of page n in points.
func (c *PageCache) PageSize(n int) (w, h float64, err error) {
	b, err := c.PageBounds(n)
	return b.Width(), b.Height(), err
}

// Transform is the page-to-raster mapping DrawPage uses for page n.
func (c *PageCache) Transform(n, outW, outH int) (f64.Aff3, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.gotoPageLocked(n); err != nil {
		return f64.Aff3{}, err
	}
	return PageTransform(c.bounds, c.resolution, outW, outH), nil
}

// beginRender registers a render of page n and cancels every outstanding
// render of another page.
func (c *PageCache) beginRender(parent context.Context, n int, exclusive bool) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)
	r := &inflightRender{page: n, exclusive: exclusive, cancel: cancel}
	c.renderMu.Lock()
	c.cancelRendersExceptLocked(n)
	if c.inflight == nil {
		c.inflight = make(map[*inflightRender]struct{})
	}
	c.inflight[r] = struct{}{}
	c.renderMu.Unlock()
	return ctx, func() {
		c.renderMu.Lock()
		delete(c.inflight, r)
		c.renderMu.Unlock()
		cancel(nil)
	}
}

func (c *PageCache) cancelRendersExcept(n int) {
	c.renderMu.Lock()
	c.cancelRendersExceptLocked(n)
	c.renderMu.Unlock()
}

func (c *PageCache) cancelRendersExceptLocked(n int) {
	for r := range c.inflight {
		if r.page != n && !r.exclusive {
			r.cancel(ErrSuperseded)
		}
	}
}

// renderStopped maps a stopped render onto its result: ErrSuperseded when
// another page pre-empted it, ErrClosed when the cache was destroyed and
// nil when the caller cancelled.
func renderStopped(ctx context.Context) error {
	switch cause := context.Cause(ctx); {
	case errors.Is(cause, ErrSuperseded), errors.Is(cause, ErrClosed):
		return cause
	}
	return nil
}

// DrawPage renders page n, scaled to outW x outH, into the pixels of dst
// inside patch. dst uses raster coordinates, so a patch-sized image whose
// bounds equal patch works as well as a full page buffer. A render
// cancelled through ctx returns nil and leaves the patch partially drawn;
// one pre-empted by navigation to another page returns ErrSuperseded.
func (c *PageCache) DrawPage(ctx context.Context, dst draw.Image, n, outW, outH int, patch image.Rectangle, opts RenderOptions) error {
	ctx, done := c.beginRender(ctx, n, opts.Exclusive)
	defer done()

	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return renderStopped(ctx)
	}
	if err := c.gotoPageLocked(n); err != nil {
		return err
	}
	if c.list == nil {
		list, err := c.page.DisplayList()
		if err != nil {
			return &RenderError{Page: c.resident, Err: err}
		}
		c.list = list
	}

	clip := patch.Intersect(dst.Bounds())
	if clip.Empty() {
		return nil
	}
	ctm := PageTransform(c.bounds, c.resolution, outW, outH)
	clearRect(dst, clip, opts.Paper)
	if err := c.list.Run(ctx, dst, ctm, clip); err != nil {
		if ctx.Err() != nil {
			return renderStopped(ctx)
		}
		return &RenderError{Page: c.resident, Err: err}
	}
	if ctx.Err() != nil {
		return renderStopped(ctx)
	}
	if opts.NightMode {
		InvertColors(dst, clip)
	}
	return nil
}

// Relayout reflows the document and maps oldPage to the page that now
// holds the same content. Unchanged parameters cost nothing.
func (c *PageCache) Relayout(oldPage int, w, h, em float64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		return oldPage, err
	}
	next := LayoutParams{Width: w, Height: h, EM: em}
	if next == c.layout {
		return oldPage, nil
	}
	c.log.Debug("relayout", "width", w, "height", h, "em", em, "page", oldPage)

	mark := c.doc.MakeBookmark(oldPage)
	c.releasePageLocked()
	if err := c.applyLayoutLocked(next); err != nil {
		c.doc.Layout(c.layout.Width, c.layout.Height, c.layout.EM)
		return oldPage, err
	}
	c.outline, c.outlineLoaded = nil, false
	c.loadOutlineLocked()
	return c.doc.FindBookmark(mark), nil
}

// Layout returns the last applied layout parameters.
func (c *PageCache) Layout() LayoutParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.layout
}

func (c *PageCache) loadOutlineLocked() {
	nodes, err := c.doc.LoadOutline()
	if err != nil {
		c.log.Warn("loading outline", "error", err)
		return
	}
	c.outline, c.outlineLoaded = nodes, true
}

// HasOutline loads the outline on first use. A failed load is retried on
// the next call.
func (c *PageCache) HasOutline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.usableLocked() != nil {
		return false
	}
	if !c.outlineLoaded {
		c.loadOutlineLocked()
	}
	return len(c.outline) > 0
}

// Outline returns the flattened table of contents.
func (c *PageCache) Outline() []OutlineItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.usableLocked() != nil {
		return nil
	}
	if !c.outlineLoaded {
		c.loadOutlineLocked()
	}
	return flattenOutline(nil, c.outline, 0, func(n OutlineNode) int {
		if n.Page >= 0 {
			return n.Page
		}
		return c.doc.ResolveLink(n.URI)
	})
}

// Search returns the matches of needle on page n.
func (c *PageCache) Search(n int, needle string) ([]Hit, error) {
	c.cancelRendersExcept(n)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.gotoPageLocked(n); err != nil {
		return nil, err
	}
	hits, err := c.page.Search(needle)
	if err != nil {
		return nil, fmt.Errorf("searching page %d: %w", c.resident+1, err)
	}
	return hits, nil
}

// PageLinks returns the links on page n.
func (c *PageCache) PageLinks(n int) ([]Link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.gotoPageLocked(n); err != nil {
		return nil, err
	}
	links, err := c.page.Links()
	if err != nil {
		return nil, fmt.Errorf("loading links of page %d: %w", c.resident+1, err)
	}
	return links, nil
}

// ResolveLink returns the target page of l, or -1 when it leaves the document.
func (c *PageCache) ResolveLink(l Link) int {
	if l.Page >= 0 {
		return l.Page
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.usableLocked() != nil {
		return -1
	}
	return c.doc.ResolveLink(l.URI)
}

func (c *PageCache) NeedsPassword() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.doc.NeedsPassword()
}

// Authenticate tries one password. Failures leave the document untouched
// and may be retried.
func (c *PageCache) Authenticate(password string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.doc.Authenticate(password) {
		return false
	}
	if err := c.applyLayoutLocked(c.layout); err != nil {
		c.log.Error("document unlocked but unreadable", "error", err)
		return false
	}
	return true
}

// PageCount is the page count of the current layout.
func (c *PageCache) PageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func (c *PageCache) Reflowable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reflowable
}

// Title returns the document title metadata, if any.
func (c *PageCache) Title() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ""
	}
	return c.doc.Title()
}

// Replace swaps in a freshly opened handle for the same document, after
// its content changed on disk. The old handle is released first.
func (c *PageCache) Replace(doc Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		doc.Close()
		return ErrClosed
	}
	c.releasePageLocked()
	if err := c.doc.Close(); err != nil {
		c.log.Warn("closing replaced document", "error", err)
	}
	c.doc = doc
	c.count = 0
	c.outline, c.outlineLoaded = nil, false
	if doc.NeedsPassword() {
		return nil
	}
	return c.applyLayoutLocked(c.layout)
}

// Destroy releases the display list, the page and the document, in that
// order. Later calls do nothing.
func (c *PageCache) Destroy() error {
	c.renderMu.Lock()
	for r := range c.inflight {
		r.cancel(ErrClosed)
	}
	c.renderMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.releasePageLocked()
	c.closed = true
	c.outline = nil
	if err := c.doc.Close(); err != nil && !errors.Is(err, ErrClosed) {
		return fmt.Errorf("closing document: %w", err)
	}
	return nil
}
