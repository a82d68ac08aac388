package docview

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfcolor "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/color"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"golang.org/x/image/math/f64"
)

// Export page size in pixels. Output pages map one pixel to one point.
const (
	DefaultExportWidth  = 800
	DefaultExportHeight = 1200
)

// ExportOptions control the flattened document.
type ExportOptions struct {
	Width, Height int
	// Vector traces annotations into filled outlines drawn over the page
	// image instead of burning them into it.
	Vector   bool
	TurdSize int
	// NightMode renders pages inverted, as on screen.
	NightMode bool
	Paper     color.Color
	// Links keeps internal page links as link annotations.
	Links bool
	// Highlight, when set, marks every match of the query with a highlight
	// annotation.
	Highlight string
	Title     string
}

// ExportProgress is reported after every source page. Err is set when the
// page was skipped.
type ExportProgress struct {
	Page  int
	Total int
	Err   error
}

// ExportResult summarises a finished export.
type ExportResult struct {
	Pages   int
	Skipped []int
}

// ExportCompositor renders every page through a PageCache, replays the
// stored annotations on top and writes the result as one PDF.
type ExportCompositor struct {
	cache *PageCache
	store *PageAnnotationStore
	opts  ExportOptions
	log   *slog.Logger
}

func NewExportCompositor(cache *PageCache, store *PageAnnotationStore, opts ExportOptions, log *slog.Logger) *ExportCompositor {
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = DefaultExportWidth, DefaultExportHeight
	}
	if opts.TurdSize <= 0 {
		opts.TurdSize = 2
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if store == nil {
		store = NewPageAnnotationStore()
	}
	return &ExportCompositor{cache: cache, store: store, opts: opts, log: log}
}

// renderBase draws page n without annotations into a fresh buffer. Export
// renders are exclusive: viewers moving to other pages do not cancel them.
func (e *ExportCompositor) renderBase(ctx context.Context, n int) (*image.RGBA, f64.Aff3, error) {
	img := image.NewRGBA(image.Rect(0, 0, e.opts.Width, e.opts.Height))
	pctx, cancel := context.WithCancel(ctx)
	defer cancel()
	err := e.cache.DrawPage(pctx, img, n, e.opts.Width, e.opts.Height, img.Bounds(), RenderOptions{
		NightMode: e.opts.NightMode,
		Paper:     e.opts.Paper,
		Exclusive: true,
	})
	if err != nil {
		return nil, f64.Aff3{}, err
	}
	if err := ctx.Err(); err != nil {
		return nil, f64.Aff3{}, err
	}
	m, err := e.cache.Transform(n, e.opts.Width, e.opts.Height)
	if err != nil {
		return nil, f64.Aff3{}, err
	}
	return img, m, nil
}

// RenderPage renders page n with its stored strokes burnt in.
func (e *ExportCompositor) RenderPage(ctx context.Context, n int) (*image.RGBA, error) {
	img, m, err := e.renderBase(ctx, n)
	if err != nil {
		return nil, err
	}
	DrawStrokes(img, e.store.Strokes(n), m)
	return img, nil
}

// WritePNG encodes RenderPage(n) as PNG.
func (e *ExportCompositor) WritePNG(ctx context.Context, w io.Writer, n int) error {
	img, err := e.RenderPage(ctx, n)
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}

// Export writes the flattened document to path. Pages that fail to render
// are logged and left out. The file is staged next to path and renamed
// into place only once it is complete and valid.
func (e *ExportCompositor) Export(ctx context.Context, path string, progress func(ExportProgress)) (res ExportResult, err error) {
	total := e.cache.PageCount()
	if total == 0 {
		return res, ErrNoPages
	}

	var (
		pages []exportPage
		hits  = make(map[int][]Hit) // output page number -> matches
		maps  = make(map[int]f64.Aff3)
	)
	for n := range total {
		page, m, err := e.composePage(ctx, n)
		if err != nil {
			if !errors.Is(err, ErrRender) {
				return res, err
			}
			e.log.Warn("skipping page in export", "page", n+1, "error", err)
			res.Skipped = append(res.Skipped, n)
			if progress != nil {
				progress(ExportProgress{Page: n, Total: total, Err: err})
			}
			continue
		}
		pages = append(pages, page)
		if e.opts.Highlight != "" {
			if h, err := e.cache.Search(n, e.opts.Highlight); err != nil {
				e.log.Warn("searching page for highlights", "page", n+1, "error", err)
			} else if len(h) > 0 {
				hits[len(pages)] = h
				maps[len(pages)] = m
			}
		}
		if progress != nil {
			progress(ExportProgress{Page: n, Total: total})
		}
	}
	if len(pages) == 0 {
		return res, fmt.Errorf("no page could be rendered: %w", ErrRender)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".docview-export-*.pdf")
	if err != nil {
		return res, fmt.Errorf("staging export: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	if err := writePDF(tmp, pages, float64(e.opts.Width), float64(e.opts.Height), e.opts.Title); err != nil {
		tmp.Close()
		return res, fmt.Errorf("writing export: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return res, fmt.Errorf("writing export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return res, fmt.Errorf("writing export: %w", err)
	}

	if len(hits) > 0 {
		if err := e.applyHighlights(tmpPath, hits, maps); err != nil {
			return res, err
		}
	}
	if err := api.ValidateFile(tmpPath, model.NewDefaultConfiguration()); err != nil {
		return res, fmt.Errorf("validating export: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return res, fmt.Errorf("finalizing export: %w", err)
	}

	res.Pages = len(pages)
	e.log.Info("export finished", "path", path, "pages", res.Pages, "skipped", len(res.Skipped))
	return res, nil
}

func (e *ExportCompositor) composePage(ctx context.Context, n int) (exportPage, f64.Aff3, error) {
	img, m, err := e.renderBase(ctx, n)
	if err != nil {
		return exportPage{}, m, err
	}

	var ink []inkLayer
	strokes := e.store.Strokes(n)
	if e.opts.Vector && len(strokes) > 0 {
		ink, err = traceStrokes(strokes, m, e.opts.Width, e.opts.Height, e.opts.TurdSize)
		if err != nil {
			e.log.Warn("tracing annotations, flattening instead", "page", n+1, "error", err)
			ink = nil
			DrawStrokes(img, strokes, m)
		}
	} else {
		DrawStrokes(img, strokes, m)
	}

	page := newExportPage(n, img)
	page.ink = ink
	if e.opts.Links {
		page.links = e.pageLinks(n, m)
	}
	return page, m, nil
}

func (e *ExportCompositor) pageLinks(n int, m f64.Aff3) []pdfLink {
	links, err := e.cache.PageLinks(n)
	if err != nil {
		e.log.Warn("loading links for export", "page", n+1, "error", err)
		return nil
	}
	var out []pdfLink
	for _, l := range links {
		dest := e.cache.ResolveLink(l)
		if dest < 0 {
			continue
		}
		r := e.toPDFRect(l.Bounds, m)
		out = append(out, pdfLink{Rect: r, DestPage: dest})
	}
	return out
}

// toPDFRect maps a page-space rectangle to output points with the origin
// at the bottom left.
func (e *ExportCompositor) toPDFRect(r Rect, m f64.Aff3) [4]float64 {
	a := Apply(m, Point{r.X0, r.Y0})
	b := Apply(m, Point{r.X1, r.Y1})
	h := float64(e.opts.Height)
	return [4]float64{
		math.Min(a.X, b.X), h - math.Max(a.Y, b.Y),
		math.Max(a.X, b.X), h - math.Min(a.Y, b.Y),
	}
}

// applyHighlights stamps search matches onto the staged file as highlight
// annotations, one per match.
func (e *ExportCompositor) applyHighlights(path string, hits map[int][]Hit, maps map[int]f64.Aff3) error {
	col := pdfcolor.SimpleColor{R: 1, G: 1, B: 0}
	annotMap := make(map[int][]model.AnnotationRenderer)
	annID := 0
	for pageNum, pageHits := range hits {
		m := maps[pageNum]
		for _, hit := range pageHits {
			if len(hit) == 0 {
				continue
			}
			var quadPoints types.QuadPoints
			box := [4]float64{math.MaxFloat64, math.MaxFloat64, -math.MaxFloat64, -math.MaxFloat64}
			for _, q := range hit {
				r := e.toPDFRect(q.Bounds(), m)
				quadPoints = append(quadPoints, *types.NewQuadLiteralForRect(types.NewRectangle(r[0], r[1], r[2], r[3])))
				box[0], box[1] = min(box[0], r[0]), min(box[1], r[1])
				box[2], box[3] = max(box[2], r[2]), max(box[3], r[3])
			}
			annID++
			ar := model.NewHighlightAnnotation(
				*types.NewRectangle(box[0], box[1], box[2], box[3]), 0, "", fmt.Sprintf("dv_%d", annID), "",
				0, &col, 0, 0, 0, "", nil, nil, "", "",
				quadPoints,
			)
			annotMap[pageNum] = append(annotMap[pageNum], ar)
		}
	}
	if len(annotMap) == 0 {
		return nil
	}
	conf := model.NewDefaultConfiguration()
	if err := api.AddAnnotationsMapFile(path, "", annotMap, conf, true); err != nil {
		return fmt.Errorf("adding highlight annotations: %w", err)
	}
	return nil
}
