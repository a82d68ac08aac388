package textdoc

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/alefaraci/docview/internal/typeset"
)

func TestSplitWords(t *testing.T) {
	got := splitWords("  ab cd  e", 10)
	want := []word{{"ab", 12}, {"cd", 15}, {"e", 19}}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(word{})); diff != "" {
		t.Errorf("words mismatch (-want +got):\n%s", diff)
	}
}

func TestBreakLines_FitsWidth(t *testing.T) {
	text := strings.Repeat("lorem ipsum dolor sit amet ", 20)
	const size, maxWidth = 10.0, 150.0
	lines := breakLines(text, 0, size, maxWidth)
	if len(lines) < 2 {
		t.Fatalf("expected several lines, got %d", len(lines))
	}
	var rebuilt []string
	for _, l := range lines {
		if w := typeset.Measure(l.text, size); w > maxWidth+0.5 {
			t.Errorf("line %q is %v wide, max %v", l.text, w, maxWidth)
		}
		if len(l.advances) != len([]rune(l.text)) {
			t.Errorf("line %q has %d advances", l.text, len(l.advances))
		}
		rebuilt = append(rebuilt, l.text)
	}
	if got := strings.Join(rebuilt, " "); got != strings.TrimSpace(text) {
		t.Errorf("lines do not rebuild the text")
	}
	if lines[1].start == 0 || text[lines[1].start:lines[1].start+len(lines[1].text)] != lines[1].text {
		t.Errorf("second line start %d does not point at its text", lines[1].start)
	}
}

func TestBreakLines_SplitsLongWord(t *testing.T) {
	long := strings.Repeat("W", 40)
	lines := breakLines(long, 0, 10, 60)
	if len(lines) < 2 {
		t.Fatalf("overlong word not split: %d lines", len(lines))
	}
	total := 0
	for _, l := range lines {
		total += len(l.text)
	}
	if total != 40 {
		t.Errorf("split lines hold %d runes, want 40", total)
	}
	if lines[1].start != len(lines[0].text) {
		t.Errorf("second piece starts at %d, want %d", lines[1].start, len(lines[0].text))
	}
}

func TestLayout_PagesAndHeadings(t *testing.T) {
	var blocks []block
	for i := range 30 {
		if i%10 == 0 {
			blocks = append(blocks, block{level: 1, text: "Chapter"})
		}
		blocks = append(blocks, block{text: strings.Repeat("word ", 30)})
	}
	const w, h, em = 300.0, 400.0, 10.0
	pages := layout(blocks, w, h, em)
	if len(pages) < 2 {
		t.Fatalf("expected several pages, got %d", len(pages))
	}

	prev := -1
	for pi, p := range pages {
		if len(p.lines) == 0 {
			t.Fatalf("page %d is empty", pi)
		}
		last := p.lines[len(p.lines)-1]
		if last.heading > 0 && pi < len(pages)-1 {
			t.Errorf("page %d ends with a heading", pi)
		}
		for _, l := range p.lines {
			if l.y > h || l.y < em {
				t.Errorf("page %d: baseline %v outside page", pi, l.y)
			}
			if l.start <= prev {
				t.Errorf("offsets not increasing: %d after %d", l.start, prev)
			}
			prev = l.start
			if l.heading == 1 && l.size <= em {
				t.Errorf("heading size %v not larger than body %v", l.size, em)
			}
		}
	}
}

func TestLayout_Empty(t *testing.T) {
	if pages := layout(nil, 300, 400, 10); len(pages) != 0 {
		t.Errorf("empty document laid out to %d pages", len(pages))
	}
}

func TestHeadingSize(t *testing.T) {
	if got := headingSize(10, 0); got != 10 {
		t.Errorf("body size = %v", got)
	}
	if h1, h2 := headingSize(10, 1), headingSize(10, 2); h1 <= h2 || h2 <= 10 {
		t.Errorf("h1 = %v, h2 = %v", h1, h2)
	}
	if got := headingSize(10, 6); got != 10 {
		t.Errorf("h6 size = %v, want body size", got)
	}
}
