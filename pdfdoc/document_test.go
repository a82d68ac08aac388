package pdfdoc

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/alefaraci/docview"
)

// buildPDF serialises objs as objects 1..n with a valid xref table.
func buildPDF(objs []string, trailer string) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d %s >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, trailer, xref)
	return buf.Bytes()
}

func stream(content string) string {
	return fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content)
}

// samplePDF has two pages, a title, an outline, and link annotations on
// the first page.
func samplePDF() []byte {
	widths := strings.TrimSpace(strings.Repeat("500 ", 95))
	return buildPDF([]string{
		/* 1 */ "<< /Type /Catalog /Pages 2 0 R /Outlines 8 0 R /Dests << /second [4 0 R /Fit] >> >>",
		/* 2 */ "<< /Type /Pages /Kids [3 0 R 4 0 R] /Count 2 /MediaBox [0 0 300 400] >>",
		/* 3 */ "<< /Type /Page /Parent 2 0 R /Resources << /Font << /F1 5 0 R >> >> /Contents 6 0 R /Annots [10 0 R 11 0 R] >>",
		/* 4 */ "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 100] /Resources << /Font << /F1 5 0 R >> >> /Contents 7 0 R >>",
		/* 5 */ "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /FirstChar 32 /LastChar 126 /Widths [" + widths + "] >>",
		/* 6 */ stream("BT /F1 12 Tf 72 350 Td (Hello world) Tj ET\n72 300 150 1 re f"),
		/* 7 */ stream("BT /F1 10 Tf 20 50 Td (Second page) Tj ET"),
		/* 8 */ "<< /Type /Outlines /First 12 0 R /Last 13 0 R /Count 2 >>",
		/* 9 */ "<< /Title (Sample Doc) >>",
		/* 10 */ "<< /Type /Annot /Subtype /Link /Rect [72 340 150 362] /Dest [4 0 R /Fit] >>",
		/* 11 */ "<< /Type /Annot /Subtype /Link /Rect [72 100 150 120] /A << /S /URI /URI (https://example.com/) >> >>",
		/* 12 */ "<< /Title (Intro) /Parent 8 0 R /Dest [3 0 R /Fit] /Next 13 0 R /First 14 0 R /Last 14 0 R /Count 1 >>",
		/* 13 */ "<< /Title (End) /Parent 8 0 R /Prev 12 0 R /A << /S /GoTo /D [4 0 R /XYZ 0 0 0] >> >>",
		/* 14 */ "<< /Title (Detail) /Parent 12 0 R /Dest /second >>",
	}, "/Root 1 0 R /Info 9 0 R")
}

func openSample(t *testing.T) docview.Document {
	t.Helper()
	src := samplePDF()
	doc, err := New(nil).Open(bytes.NewReader(src), int64(len(src)), "application/pdf")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { doc.Close() })
	return doc
}

func TestOpen(t *testing.T) {
	doc := openSample(t)
	n, err := doc.CountPages()
	if err != nil || n != 2 {
		t.Fatalf("CountPages = %d, %v; want 2", n, err)
	}
	if got := doc.Title(); got != "Sample Doc" {
		t.Errorf("Title = %q", got)
	}
	if doc.Reflowable() || doc.NeedsPassword() {
		t.Errorf("Reflowable = %v, NeedsPassword = %v", doc.Reflowable(), doc.NeedsPassword())
	}
}

func TestOpen_Rejects(t *testing.T) {
	src := samplePDF()
	if _, err := New(nil).Open(bytes.NewReader(src), int64(len(src)), "text/html"); err == nil {
		t.Error("opened a PDF with a non-PDF type hint")
	}
	junk := []byte("this is not a PDF file at all")
	if _, err := New(nil).Open(bytes.NewReader(junk), int64(len(junk)), "pdf"); err == nil {
		t.Error("opened garbage")
	}
}

func TestPageBounds(t *testing.T) {
	doc := openSample(t)
	for n, want := range []docview.Rect{{X1: 300, Y1: 400}, {X1: 200, Y1: 100}} {
		p, err := doc.LoadPage(n)
		if err != nil {
			t.Fatalf("LoadPage(%d): %v", n, err)
		}
		if got := p.Bounds(); got != want {
			t.Errorf("page %d bounds = %v, want %v", n, got, want)
		}
		p.Close()
	}
	if _, err := doc.LoadPage(2); err == nil {
		t.Error("LoadPage past the end succeeded")
	}
}

func TestSearch(t *testing.T) {
	doc := openSample(t)
	p, err := doc.LoadPage(0)
	if err != nil {
		t.Fatalf("LoadPage: %v", err)
	}
	defer p.Close()

	hits, err := p.Search("hello world")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	b := hits[0][0].Bounds()
	for _, q := range hits[0][1:] {
		b = b.Union(q.Bounds())
	}
	// The text baseline sits at y = 400 - 350 in page space.
	if b.X0 < 71 || b.X0 > 73 || b.Y0 > 50 || b.Y1 < 50 {
		t.Errorf("hit bounds = %v", b)
	}
	if hits, _ := p.Search("missing"); len(hits) != 0 {
		t.Errorf("unexpected hits %v", hits)
	}
}

func TestLinks(t *testing.T) {
	doc := openSample(t)
	p, err := doc.LoadPage(0)
	if err != nil {
		t.Fatalf("LoadPage: %v", err)
	}
	defer p.Close()
	links, err := p.Links()
	if err != nil {
		t.Fatalf("Links: %v", err)
	}
	want := []docview.Link{
		{Bounds: docview.Rect{X0: 72, Y0: 38, X1: 150, Y1: 60}, Page: 1},
		{Bounds: docview.Rect{X0: 72, Y0: 280, X1: 150, Y1: 300}, Page: -1, URI: "https://example.com/"},
	}
	if diff := cmp.Diff(want, links); diff != "" {
		t.Errorf("links mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadOutline(t *testing.T) {
	doc := openSample(t)
	got, err := doc.LoadOutline()
	if err != nil {
		t.Fatalf("LoadOutline: %v", err)
	}
	want := []docview.OutlineNode{
		{Title: "Intro", Page: 0, Children: []docview.OutlineNode{{Title: "Detail", Page: 1}}},
		{Title: "End", Page: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("outline mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveLink(t *testing.T) {
	doc := openSample(t)
	for uri, want := range map[string]int{
		"#page=2":             1,
		"#page=9":             -1,
		"https://example.com": -1,
	} {
		if got := doc.ResolveLink(uri); got != want {
			t.Errorf("ResolveLink(%q) = %d, want %d", uri, got, want)
		}
	}
}

func TestDisplayList_DrawsTextAndRules(t *testing.T) {
	doc := openSample(t)
	p, err := doc.LoadPage(0)
	if err != nil {
		t.Fatalf("LoadPage: %v", err)
	}
	defer p.Close()
	dl, err := p.DisplayList()
	if err != nil {
		t.Fatalf("DisplayList: %v", err)
	}
	defer dl.Close()

	img := image.NewRGBA(image.Rect(0, 0, 300, 400))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	ctm := docview.PageTransform(p.Bounds(), 72, 300, 400)
	if err := dl.Run(context.Background(), img, ctm, img.Bounds()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// the rule covers y 99 to 100 in page space
	if got := img.RGBAAt(150, 99); got.R > 0x40 {
		t.Errorf("rule pixel = %v", got)
	}
	dark := 0
	for y := 38; y < 54; y++ {
		for x := 72; x < 140; x++ {
			if img.RGBAAt(x, y).R < 0x80 {
				dark++
			}
		}
	}
	if dark == 0 {
		t.Error("no text drawn")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := dl.Run(ctx, img, ctm, img.Bounds()); err == nil {
		t.Error("Run ignored a cancelled context")
	}
}

func TestClose(t *testing.T) {
	src := samplePDF()
	doc, err := New(nil).Open(bytes.NewReader(src), int64(len(src)), "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	doc.Close()
	if _, err := doc.CountPages(); err == nil {
		t.Error("CountPages after Close succeeded")
	}
}
