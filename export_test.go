package docview

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

func newTestCompositor(t *testing.T, doc *fakeDoc, store *PageAnnotationStore, opts ExportOptions) *ExportCompositor {
	t.Helper()
	c := newTestCache(t, doc)
	t.Cleanup(func() { c.Destroy() })
	if opts.Width == 0 {
		opts.Width, opts.Height = 100, 200
	}
	return NewExportCompositor(c, store, opts, nil)
}

func strokeOnPage1() *PageAnnotationStore {
	store := NewPageAnnotationStore()
	store.Retain(1, []DrawingStroke{{
		Points: []DrawingPoint{{X: 10, Y: 100}, {X: 90, Y: 100}},
		Color:  color.NRGBA{0, 0, 0, 0xFF},
		Width:  4,
	}})
	return store
}

func TestExportCompositor_StrokesOnlyWhereStored(t *testing.T) {
	e := newTestCompositor(t, newFakeDoc(3), strokeOnPage1(), ExportOptions{})
	ctx := context.Background()

	for n := range 3 {
		base, _, err := e.renderBase(ctx, n)
		if err != nil {
			t.Fatalf("renderBase(%d): %v", n, err)
		}
		got, err := e.RenderPage(ctx, n)
		if err != nil {
			t.Fatalf("RenderPage(%d): %v", n, err)
		}
		same := bytes.Equal(base.Pix, got.Pix)
		if n == 1 {
			if same {
				t.Errorf("page 1 shows no annotation")
			}
			if px := got.RGBAAt(50, 100); px != (color.RGBA{0, 0, 0, 0xFF}) {
				t.Errorf("stroke pixel = %v", px)
			}
			if px := got.RGBAAt(50, 150); px != pageColor(1) {
				t.Errorf("pixel off the stroke = %v", px)
			}
		} else if !same {
			t.Errorf("page %d differs from its plain render", n)
		}
	}
}

func TestExportCompositor_Export(t *testing.T) {
	for _, vector := range []bool{false, true} {
		e := newTestCompositor(t, newFakeDoc(3), strokeOnPage1(), ExportOptions{Vector: vector, Title: "Three"})
		path := filepath.Join(t.TempDir(), "out.pdf")

		var progress []ExportProgress
		res, err := e.Export(context.Background(), path, func(p ExportProgress) { progress = append(progress, p) })
		if err != nil {
			t.Fatalf("vector=%v: Export: %v", vector, err)
		}
		if res.Pages != 3 || len(res.Skipped) != 0 {
			t.Errorf("vector=%v: result = %+v", vector, res)
		}
		if len(progress) != 3 || progress[2].Page != 2 || progress[2].Total != 3 {
			t.Errorf("vector=%v: progress = %+v", vector, progress)
		}

		n, err := api.PageCountFile(path)
		if err != nil {
			t.Fatalf("vector=%v: PageCountFile: %v", vector, err)
		}
		if n != 3 {
			t.Errorf("vector=%v: exported %d pages, want 3", vector, n)
		}
		dims, err := api.PageDimsFile(path)
		if err != nil {
			t.Fatalf("vector=%v: PageDimsFile: %v", vector, err)
		}
		for i, d := range dims {
			if d.Width != 100 || d.Height != 200 {
				t.Errorf("vector=%v: page %d is %vx%v, want 100x200", vector, i, d.Width, d.Height)
			}
		}
	}
}

func TestExportCompositor_SkipsBrokenPage(t *testing.T) {
	doc := newFakeDoc(3)
	doc.badPage = 1
	e := newTestCompositor(t, doc, nil, ExportOptions{Links: true})
	path := filepath.Join(t.TempDir(), "out.pdf")

	var failed []int
	res, err := e.Export(context.Background(), path, func(p ExportProgress) {
		if p.Err != nil {
			failed = append(failed, p.Page)
		}
	})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if diff := cmp.Diff([]int{1}, res.Skipped); diff != "" {
		t.Errorf("skipped mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1}, failed); diff != "" {
		t.Errorf("failed progress mismatch (-want +got):\n%s", diff)
	}
	if n, err := api.PageCountFile(path); err != nil || n != 2 {
		t.Errorf("PageCountFile = %d, %v; want 2", n, err)
	}
}

func TestExportCompositor_NothingRenderable(t *testing.T) {
	doc := newFakeDoc(1)
	doc.badPage = 0
	e := newTestCompositor(t, doc, nil, ExportOptions{})
	dir := t.TempDir()

	_, err := e.Export(context.Background(), filepath.Join(dir, "out.pdf"), nil)
	if !errors.Is(err, ErrRender) {
		t.Fatalf("Export = %v, want ErrRender", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("failed export left %d files behind", len(entries))
	}
}

func TestExportCompositor_CancelledLeavesNoFile(t *testing.T) {
	e := newTestCompositor(t, newFakeDoc(3), nil, ExportOptions{})
	dir := t.TempDir()
	path := filepath.Join(dir, "out.pdf")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Export(ctx, path, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("Export = %v, want context.Canceled", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("cancelled export left %d files behind", len(entries))
	}
}

func TestExportCompositor_Highlights(t *testing.T) {
	e := newTestCompositor(t, newFakeDoc(3), nil, ExportOptions{Highlight: "page 2"})
	path := filepath.Join(t.TempDir(), "out.pdf")

	if _, err := e.Export(context.Background(), path, nil); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n, err := api.PageCountFile(path); err != nil || n != 3 {
		t.Errorf("PageCountFile = %d, %v; want 3", n, err)
	}
}

func TestExportCompositor_NoPages(t *testing.T) {
	e := newTestCompositor(t, newFakeDoc(0), nil, ExportOptions{})
	if _, err := e.Export(context.Background(), filepath.Join(t.TempDir(), "x.pdf"), nil); !errors.Is(err, ErrNoPages) {
		t.Errorf("Export = %v, want ErrNoPages", err)
	}
}

func TestSession_ExportIncludesLiveStrokes(t *testing.T) {
	s, _ := openTestSession(t, newFakeDoc(2), SessionOptions{Export: ExportOptions{Width: 100, Height: 200}})
	s.EnterDrawing()
	s.WithLayer(func(l *AnnotationLayer) {
		l.SetWidth(4)
		drawLine(l, Point{10, 20}, Point{90, 20})
	})

	var buf bytes.Buffer
	if err := s.ExportPagePNG(context.Background(), &buf, 0, 0, 0); err != nil {
		t.Fatalf("ExportPagePNG: %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("decoding PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 100 || b.Dy() != 200 {
		t.Errorf("PNG is %v, want 100x200", b)
	}
	if r, _, _, _ := img.At(50, 20).RGBA(); r>>8 != 0xFF {
		t.Errorf("live stroke missing from export: %v", img.At(50, 20))
	}

	out := <-s.ExportAsync(context.Background(), filepath.Join(t.TempDir(), "s.pdf"), nil)
	if out.Err != nil || out.Result.Pages != 2 {
		t.Errorf("ExportAsync = %+v", out)
	}
}

func TestExportCompositor_NotPreemptedByNavigation(t *testing.T) {
	e := newTestCompositor(t, newFakeDoc(3), nil, ExportOptions{})
	c := e.cache

	type result struct {
		img *image.RGBA
		err error
	}
	done := make(chan result, 1)
	c.mu.Lock()
	go func() {
		img, err := e.RenderPage(context.Background(), 1)
		done <- result{img, err}
	}()
	waitInflight(t, c, 1)
	c.cancelRendersExcept(0)
	go c.GotoPage(0)
	c.mu.Unlock()

	got := <-done
	if got.err != nil {
		t.Fatalf("RenderPage: %v", got.err)
	}
	if px := got.img.RGBAAt(50, 150); px != pageColor(1) {
		t.Errorf("exported page 1 pixel = %v, want %v", px, pageColor(1))
	}
}
