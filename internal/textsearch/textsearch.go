// Package textsearch finds case-insensitive matches in positioned text and
// reports them as one quad per line touched.
package textsearch

import (
	"strings"
	"unicode"

	"github.com/alefaraci/docview"
)

// Glyph is one character of page text. Line numbers only need to differ
// between lines. Synthetic separators have an empty Box.
type Glyph struct {
	R    rune
	Box  docview.Rect
	Line int
}

// Text accumulates glyphs in reading order.
type Text struct {
	Glyphs []Glyph
}

func (t *Text) Add(r rune, box docview.Rect, line int) {
	t.Glyphs = append(t.Glyphs, Glyph{R: r, Box: box, Line: line})
}

// Space inserts a word break unless the text already ends with one.
func (t *Text) Space(line int) {
	if n := len(t.Glyphs); n == 0 || unicode.IsSpace(t.Glyphs[n-1].R) {
		return
	}
	t.Glyphs = append(t.Glyphs, Glyph{R: ' ', Line: line})
}

func (t *Text) String() string {
	var b strings.Builder
	for _, g := range t.Glyphs {
		b.WriteRune(g.R)
	}
	return b.String()
}

func fold(r rune) rune {
	if unicode.IsSpace(r) {
		return ' '
	}
	return unicode.ToLower(r)
}

// Find returns every non-overlapping match of needle. Runs of whitespace
// in needle match a single space.
func (t *Text) Find(needle string) []docview.Hit {
	var pat []rune
	for _, r := range strings.TrimSpace(needle) {
		r = fold(r)
		if r == ' ' && len(pat) > 0 && pat[len(pat)-1] == ' ' {
			continue
		}
		pat = append(pat, r)
	}
	if len(pat) == 0 {
		return nil
	}

	var hits []docview.Hit
	g := t.Glyphs
	for i := 0; i+len(pat) <= len(g); {
		if !matchAt(g[i:], pat) {
			i++
			continue
		}
		hits = append(hits, quads(g[i:i+len(pat)]))
		i += len(pat)
	}
	return hits
}

func matchAt(g []Glyph, pat []rune) bool {
	for j, r := range pat {
		if fold(g[j].R) != r {
			return false
		}
	}
	return true
}

// quads merges the boxes of a match into one quad per line.
func quads(match []Glyph) docview.Hit {
	var (
		hit  docview.Hit
		box  docview.Rect
		line = match[0].Line
	)
	flush := func() {
		if !box.Empty() {
			hit = append(hit, docview.QuadFromRect(box))
		}
		box = docview.Rect{}
	}
	for _, g := range match {
		if g.Line != line {
			flush()
			line = g.Line
		}
		box = box.Union(g.Box)
	}
	flush()
	return hit
}
