package textdoc

import (
	"context"
	"errors"
	"image"
	"image/draw"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/alefaraci/docview"
)

func openText(t *testing.T, src, hint string) docview.Document {
	t.Helper()
	doc, err := New().Open(strings.NewReader(src), int64(len(src)), hint)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	doc.Layout(docview.DefaultLayout.Width, docview.DefaultLayout.Height, docview.DefaultLayout.EM)
	return doc
}

func longMarkdown() string {
	var b strings.Builder
	b.WriteString("# Book\n\n")
	for ch := 1; ch <= 3; ch++ {
		b.WriteString("## Chapter\n\n")
		for range 8 {
			b.WriteString(strings.Repeat("Some words to fill the page. ", 12))
			b.WriteString("\n\n")
		}
	}
	return b.String()
}

func TestSupports(t *testing.T) {
	if !Supports("notes.md") || !Supports("text/plain") {
		t.Error("Supports rejected a text format")
	}
	if Supports("application/pdf") {
		t.Error("Supports accepted PDF")
	}
}

func TestOpen_Errors(t *testing.T) {
	if _, err := New().Open(strings.NewReader("x"), 1, "doc.pdf"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Open(pdf) = %v, want ErrUnsupported", err)
	}
	bad := "\xff\xfe\x00bad"
	if _, err := New().Open(strings.NewReader(bad), int64(len(bad)), "txt"); err == nil {
		t.Error("Open accepted invalid UTF-8")
	}
}

func TestLayout_EmChangesPageCount(t *testing.T) {
	doc := openText(t, longMarkdown(), "md")
	small, _ := doc.CountPages()
	doc.Layout(docview.DefaultLayout.Width, docview.DefaultLayout.Height, 2*docview.DefaultLayout.EM)
	large, _ := doc.CountPages()
	if small < 2 || large <= small {
		t.Errorf("pages at em and 2em = %d, %d", small, large)
	}
	if !doc.Reflowable() || doc.Title() != "Book" {
		t.Errorf("Reflowable = %v, Title = %q", doc.Reflowable(), doc.Title())
	}
}

func TestBookmarks_SurviveRelayout(t *testing.T) {
	doc := openText(t, longMarkdown(), "md")
	n, _ := doc.CountPages()
	last := n - 1
	b := doc.MakeBookmark(last)
	if got := doc.FindBookmark(b); got != last {
		t.Fatalf("FindBookmark(MakeBookmark(%d)) = %d", last, got)
	}

	doc.Layout(docview.DefaultLayout.Width, docview.DefaultLayout.Height, 2*docview.DefaultLayout.EM)
	moved := doc.FindBookmark(b)
	if moved <= last {
		t.Errorf("bookmark maps to page %d at double size, want past %d", moved, last)
	}
	p, err := doc.LoadPage(moved)
	if err != nil {
		t.Fatalf("LoadPage: %v", err)
	}
	lines := p.(*page).lines
	if docview.Bookmark(lines[0].start) > b {
		t.Errorf("page %d starts at offset %d, after bookmark %d", moved, lines[0].start, b)
	}
}

func TestLoadOutline(t *testing.T) {
	doc := openText(t, "# One\n\n## Two\n\ntext\n\n## Three\n## Four\n\n# Five\n", "md")
	got, err := doc.LoadOutline()
	if err != nil {
		t.Fatalf("LoadOutline: %v", err)
	}
	want := []docview.OutlineNode{
		{Title: "One", Children: []docview.OutlineNode{{Title: "Two"}, {Title: "Three"}, {Title: "Four"}}},
		{Title: "Five"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("outline mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadOutline_WrappedHeading(t *testing.T) {
	title := strings.TrimSpace(strings.Repeat("long heading words ", 10))
	doc := openText(t, "# "+title+"\n\nbody\n", "md")
	got, err := doc.LoadOutline()
	if err != nil {
		t.Fatalf("LoadOutline: %v", err)
	}
	if len(got) != 1 || got[0].Title != title {
		t.Errorf("outline = %+v", got)
	}
}

func TestSearch(t *testing.T) {
	doc := openText(t, "alpha beta\n\ngamma beta delta\n", "txt")
	p, err := doc.LoadPage(0)
	if err != nil {
		t.Fatalf("LoadPage: %v", err)
	}
	hits, err := p.Search("BETA")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	first, second := hits[0][0].Bounds(), hits[1][0].Bounds()
	if second.Y0 <= first.Y0 {
		t.Errorf("hits out of reading order: %v then %v", first, second)
	}
}

func TestDisplayList_Draws(t *testing.T) {
	doc := openText(t, "Hello", "txt")
	p, err := doc.LoadPage(0)
	if err != nil {
		t.Fatalf("LoadPage: %v", err)
	}
	dl, err := p.DisplayList()
	if err != nil {
		t.Fatalf("DisplayList: %v", err)
	}
	b := p.Bounds()
	img := image.NewRGBA(image.Rect(0, 0, int(b.X1), int(b.Y1)))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	if err := dl.Run(context.Background(), img, docview.PageTransform(b, 72, img.Bounds().Dx(), img.Bounds().Dy()), img.Bounds()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	dark := 0
	for y := range 40 {
		for x := range 80 {
			if img.RGBAAt(x, y).R < 0x80 {
				dark++
			}
		}
	}
	if dark == 0 {
		t.Error("no text drawn near the top left corner")
	}
}

func TestEmptyAndClosed(t *testing.T) {
	doc := openText(t, "\n\n", "txt")
	if n, _ := doc.CountPages(); n != 0 {
		t.Errorf("empty document has %d pages", n)
	}
	if err := doc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := doc.Close(); !errors.Is(err, docview.ErrClosed) {
		t.Errorf("second Close = %v, want ErrClosed", err)
	}
	if _, err := doc.LoadPage(0); !errors.Is(err, docview.ErrClosed) {
		t.Errorf("LoadPage after Close = %v", err)
	}
}

func TestResolveLink(t *testing.T) {
	doc := openText(t, longMarkdown(), "md")
	if got := doc.ResolveLink("#2"); got != 1 {
		t.Errorf("ResolveLink(#2) = %d", got)
	}
	if got := doc.ResolveLink("#page=999"); got != -1 {
		t.Errorf("ResolveLink past the end = %d", got)
	}
}
