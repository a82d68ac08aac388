package docview

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"log/slog"
	"sync"
)

// SessionOptions configure Open.
type SessionOptions struct {
	Cache   CacheOptions
	Presets ToolPresets
	// Color is the initial stroke colour; zero means red.
	Color     color.NRGBA
	NightMode bool
	Paper     color.Color
	Export    ExportOptions
	// State, when set, restores and remembers the last viewed page.
	State *State
	// Poster schedules redraws; OnRedraw runs at most once per posted frame
	// however many changes were made. Without a Poster each redraw runs on
	// its own goroutine.
	Poster   Poster
	OnRedraw func()
	Logger   *slog.Logger
}

// Session is one open document as a viewer sees it: the page cache, the
// page being shown, night mode, and drawing mode with its annotations.
// It is safe for concurrent use.
type Session struct {
	log    *slog.Logger
	engine Engine
	uri    string
	hint   string
	cache  *PageCache
	store  *PageAnnotationStore
	state  *State
	redraw *Stepper
	export ExportOptions

	mu      sync.Mutex
	layer   *AnnotationLayer
	current int
	night   bool
	paper   color.Color
	drawing bool
	closed  bool
}

// Open opens the document read from r. uri names the document for the
// remembered page state; typeHint is a file name or extension.
func Open(ctx context.Context, e Engine, uri string, r io.ReaderAt, size int64, typeHint string, opts SessionOptions) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	opts.Cache.Logger = log
	cache, err := OpenPageCache(e, r, size, typeHint, opts.Cache)
	if err != nil {
		return nil, err
	}

	s := &Session{
		log:    log.With("document", uri),
		engine: e,
		uri:    uri,
		hint:   typeHint,
		cache:  cache,
		store:  NewPageAnnotationStore(),
		state:  opts.State,
		export: opts.Export,
		night:  opts.NightMode,
		paper:  opts.Paper,
	}
	if s.export.Paper == nil {
		s.export.Paper = opts.Paper
	}
	poster := opts.Poster
	if poster == nil {
		poster = PosterFunc(func(fn func()) { go fn() })
	}
	onRedraw := opts.OnRedraw
	if onRedraw == nil {
		onRedraw = func() {}
	}
	s.redraw = NewStepper(poster, onRedraw)
	s.layer = NewAnnotationLayer(opts.Presets, s.redraw.Prod)
	s.layer.Enabled = false
	if opts.Color != (color.NRGBA{}) {
		s.layer.SetColor(opts.Color)
	}

	if !cache.NeedsPassword() {
		s.restorePage()
	}
	s.log.Info("document opened", "pages", cache.PageCount(), "locked", cache.NeedsPassword())
	return s, nil
}

// restorePage moves to the remembered page, or the first one.
func (s *Session) restorePage() {
	n := 0
	if s.state != nil {
		if last, ok := s.state.LastPage(s.uri); ok {
			n = last
		}
	}
	if err := s.gotoLocked(n); err != nil {
		s.log.Warn("restoring page", "page", n+1, "error", err)
	}
}

func (s *Session) gotoLocked(n int) error {
	if s.closed {
		return ErrClosed
	}
	if s.drawing && n != s.current {
		s.store.Retain(s.current, s.layer.Strokes())
	}
	err := s.cache.GotoPage(n)
	if cur, ok := s.cache.Resident(); ok {
		s.current = cur
	} else if count := s.cache.PageCount(); count > 0 {
		s.current = min(max(n, 0), count-1)
	}
	if s.drawing {
		s.layer.SetStrokes(s.store.Adopt(s.current))
	}
	s.redraw.Prod()
	return err
}

// GoTo shows page n, clamped to the document.
func (s *Session) GoTo(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gotoLocked(n)
}

func (s *Session) Next() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gotoLocked(s.current + 1)
}

func (s *Session) Prev() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gotoLocked(s.current - 1)
}

// Current returns the index of the page being shown.
func (s *Session) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Session) PageCount() int         { return s.cache.PageCount() }
func (s *Session) Title() string          { return s.cache.Title() }
func (s *Session) Reflowable() bool       { return s.cache.Reflowable() }
func (s *Session) NeedsPassword() bool    { return s.cache.NeedsPassword() }
func (s *Session) HasOutline() bool       { return s.cache.HasOutline() }
func (s *Session) Outline() []OutlineItem { return s.cache.Outline() }
func (s *Session) Layout() LayoutParams   { return s.cache.Layout() }
func (s *Session) URI() string            { return s.uri }

// Store exposes the committed annotations of every page.
func (s *Session) Store() *PageAnnotationStore { return s.store }

func (s *Session) PageSize(n int) (w, h float64, err error)   { return s.cache.PageSize(n) }
func (s *Session) Search(n int, needle string) ([]Hit, error) { return s.cache.Search(n, needle) }
func (s *Session) Links(n int) ([]Link, error)                { return s.cache.PageLinks(n) }
func (s *Session) ResolveLink(l Link) int                     { return s.cache.ResolveLink(l) }

// Authenticate unlocks the document and moves to the remembered page.
func (s *Session) Authenticate(password string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cache.Authenticate(password) {
		s.log.Info("wrong password")
		return false
	}
	s.restorePage()
	return true
}

func (s *Session) SetNightMode(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.night == on {
		return
	}
	s.night = on
	s.redraw.Prod()
}

func (s *Session) NightMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.night
}

// Relayout reflows the document, keeping the current content in view.
// Annotations are tied to page indices, so they are dropped when the page
// count changes.
func (s *Session) Relayout(w, h, em float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.drawing {
		s.store.Retain(s.current, s.layer.Strokes())
	}
	before := s.cache.PageCount()
	page, err := s.cache.Relayout(s.current, w, h, em)
	if err != nil {
		return err
	}
	if after := s.cache.PageCount(); after != before {
		if s.store.Len() > 0 {
			s.log.Warn("page count changed, dropping annotations", "before", before, "after", after)
		}
		s.store.Reset()
	}
	s.current = page
	return s.gotoLocked(page)
}

// Reload re-reads the document content after it changed on disk.
func (s *Session) Reload(r io.ReaderAt, size int64) error {
	doc, err := s.engine.Open(r, size, s.hint)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCannotOpen, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drawing {
		s.store.Retain(s.current, s.layer.Strokes())
	}
	before := s.cache.PageCount()
	if err := s.cache.Replace(doc); err != nil {
		return err
	}
	if after := s.cache.PageCount(); after != before {
		s.store.Reset()
		if s.drawing {
			s.layer.SetStrokes(nil)
		}
	}
	s.log.Info("document reloaded", "pages", s.cache.PageCount())
	if s.cache.NeedsPassword() {
		return nil
	}
	return s.gotoLocked(s.current)
}

// EnterDrawing hands the current page's strokes to the annotation layer.
func (s *Session) EnterDrawing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drawing || s.closed {
		return
	}
	s.drawing = true
	s.layer.Enabled = true
	s.layer.SetStrokes(s.store.Adopt(s.current))
}

// ExitDrawing stores the layer's strokes for the current page and clears it.
func (s *Session) ExitDrawing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.drawing {
		return
	}
	s.store.Retain(s.current, s.layer.Strokes())
	s.layer.SetStrokes(nil)
	s.layer.Enabled = false
	s.drawing = false
}

func (s *Session) Drawing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drawing
}

// WithLayer runs fn on the annotation layer while holding the session
// lock. fn must not call back into the Session.
func (s *Session) WithLayer(fn func(l *AnnotationLayer)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.layer)
}

// DeviceToPage maps a point of a outW x outH rendering of the current page
// back to page space.
func (s *Session) DeviceToPage(x, y float64, outW, outH int) (Point, error) {
	m, err := s.cache.Transform(s.Current(), outW, outH)
	if err != nil {
		return Point{}, err
	}
	inv, ok := InvertTransform(m)
	if !ok {
		return Point{}, fmt.Errorf("page %d has a degenerate transform", s.Current()+1)
	}
	return Apply(inv, Point{x, y}), nil
}

// RenderTile renders the part of the current page inside patch, with its
// annotations on top. While drawing these are the live layer's strokes.
// A tile pre-empted by navigation to another page returns ErrSuperseded.
func (s *Session) RenderTile(ctx context.Context, dst draw.Image, outW, outH int, patch image.Rectangle) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	n, opts := s.current, RenderOptions{NightMode: s.night, Paper: s.paper}
	s.mu.Unlock()

	if err := s.cache.DrawPage(ctx, dst, n, outW, outH, patch, opts); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return nil
	}
	m, err := s.cache.Transform(n, outW, outH)
	if err != nil {
		return err
	}
	clip := Clip(dst, patch)

	s.mu.Lock()
	defer s.mu.Unlock()
	if n != s.current {
		return nil
	}
	if s.drawing {
		s.layer.Draw(clip, m)
	} else {
		DrawStrokes(clip, s.store.Strokes(n), m)
	}
	return nil
}

func (s *Session) compositor(width, height int) *ExportCompositor {
	opts := s.export
	if width > 0 && height > 0 {
		opts.Width, opts.Height = width, height
	}
	if opts.Title == "" {
		opts.Title = s.cache.Title()
	}
	return NewExportCompositor(s.cache, s.store, opts, s.log)
}

// flushDrawing stores the strokes being drawn so export sees them.
func (s *Session) flushDrawing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drawing {
		s.store.Retain(s.current, s.layer.Strokes())
	}
}

// Export writes every page with its annotations to path.
func (s *Session) Export(ctx context.Context, path string, progress func(ExportProgress)) (ExportResult, error) {
	s.flushDrawing()
	res, err := s.compositor(0, 0).Export(ctx, path, progress)
	s.redraw.Prod()
	return res, err
}

// ExportOutcome is delivered by ExportAsync.
type ExportOutcome struct {
	Result ExportResult
	Err    error
}

// ExportAsync runs Export on its own goroutine. The channel receives one
// outcome and is closed.
func (s *Session) ExportAsync(ctx context.Context, path string, progress func(ExportProgress)) <-chan ExportOutcome {
	ch := make(chan ExportOutcome, 1)
	go func() {
		defer close(ch)
		res, err := s.Export(ctx, path, progress)
		ch <- ExportOutcome{Result: res, Err: err}
	}()
	return ch
}

// ExportPagePNG writes page n with its annotations as a PNG of the given
// size, or the export size when width or height is zero.
func (s *Session) ExportPagePNG(ctx context.Context, w io.Writer, n, width, height int) error {
	s.flushDrawing()
	img, err := s.compositor(width, height).RenderPage(ctx, n)
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}

// Close remembers the current page and releases the document. Annotations
// are not persisted.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cur := s.current
	s.mu.Unlock()

	var saveErr error
	if s.state != nil && !s.cache.NeedsPassword() {
		s.state.SetLastPage(s.uri, cur)
		saveErr = s.state.Save()
	}
	if err := s.cache.Destroy(); err != nil {
		return err
	}
	return saveErr
}
