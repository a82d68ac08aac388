package textdoc

import (
	"strings"

	"github.com/alefaraci/docview/internal/typeset"
)

// line is one laid out line of text. start is the rune offset of its first
// rune in the logical text, which is the blocks joined by newlines.
type line struct {
	text     string
	start    int
	x, y     float64 // baseline origin
	size     float64
	advances []float64
	heading  int
	block    int
}

type pageLines struct {
	lines []line
}

func headingSize(em float64, level int) float64 {
	if level == 0 {
		return em
	}
	return em * max(1, 1.6-0.15*float64(level))
}

// word is a run of non-space runes and its rune offset.
type word struct {
	text  string
	start int
}

func splitWords(s string, offset int) []word {
	var (
		words []word
		cur   strings.Builder
		start = -1
		i     = offset
	)
	for _, r := range s {
		if r == ' ' {
			if start >= 0 {
				words = append(words, word{cur.String(), start})
				cur.Reset()
				start = -1
			}
		} else {
			if start < 0 {
				start = i
			}
			cur.WriteRune(r)
		}
		i++
	}
	if start >= 0 {
		words = append(words, word{cur.String(), start})
	}
	return words
}

// layout breaks blocks into lines of at most w-2*margin points and stacks
// them onto pages of height h. Headings are never left alone at the bottom
// of a page.
func layout(blocks []block, w, h, em float64) []pageLines {
	margin := em
	maxWidth := max(w-2*margin, em)
	bottom := max(h-margin, 2*margin+em)

	var (
		pages  []pageLines
		cur    pageLines
		y      = margin
		offset int
	)
	newPage := func() {
		pages = append(pages, cur)
		cur = pageLines{}
		y = margin
	}
	emit := func(l line, lineHeight float64) {
		if y+lineHeight > bottom && len(cur.lines) > 0 {
			newPage()
		}
		l.y = y + l.size*typeset.Ascent()
		cur.lines = append(cur.lines, l)
		y += lineHeight
	}

	for bi, b := range blocks {
		size := headingSize(em, b.level)
		lineHeight := size * 1.3
		if b.level > 0 && len(cur.lines) > 0 {
			y += 0.6 * em
			// keep the heading with the first line that follows it
			if y+lineHeight+em*1.3 > bottom {
				newPage()
			}
		}

		for _, l := range breakLines(b.text, offset, size, maxWidth) {
			l.x = margin
			l.heading = b.level
			l.block = bi
			emit(l, lineHeight)
		}
		if b.level == 0 && bi < len(blocks)-1 {
			y += 0.4 * em
		}
		offset += len([]rune(b.text)) + 1
	}
	if len(cur.lines) > 0 {
		pages = append(pages, cur)
	}
	return pages
}

// breakLines fills lines greedily. Words wider than a line are split.
func breakLines(text string, offset int, size, maxWidth float64) []line {
	var (
		lines []line
		cur   line
		width float64
	)
	space := typeset.Advance(' ', size)
	flush := func() {
		if cur.text != "" {
			lines = append(lines, cur)
		}
		cur, width = line{size: size}, 0
	}
	cur.size = size

	appendRunes := func(s string, start int) {
		if cur.text == "" {
			cur.start = start
		}
		for _, r := range s {
			adv := typeset.Advance(r, size)
			cur.advances = append(cur.advances, adv)
			width += adv
		}
		cur.text += s
	}

	for _, wd := range splitWords(text, offset) {
		ww := typeset.Measure(wd.text, size)
		switch {
		case cur.text == "" && ww <= maxWidth:
			appendRunes(wd.text, wd.start)
		case cur.text != "" && width+space+ww <= maxWidth:
			cur.advances = append(cur.advances, space)
			cur.text += " "
			width += space
			appendRunes(wd.text, wd.start)
		case ww <= maxWidth:
			flush()
			appendRunes(wd.text, wd.start)
		default:
			// hard break inside an overlong word
			if cur.text != "" {
				flush()
			}
			i := wd.start
			for _, r := range wd.text {
				adv := typeset.Advance(r, size)
				if width+adv > maxWidth && cur.text != "" {
					flush()
				}
				appendRunes(string(r), i)
				i++
			}
		}
	}
	flush()
	return lines
}
