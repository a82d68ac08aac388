package docview

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"fmt"
	"image"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"
	"unicode/utf16"

	"golang.org/x/image/math/f64"
)

var zlibWriters = sync.Pool{
	New: func() any {
		w, _ := zlib.NewWriterLevel(io.Discard, zlib.BestSpeed)
		return w
	},
}

func compressZlib(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(data) / 4)
	zw := zlibWriters.Get().(*zlib.Writer)
	defer zlibWriters.Put(zw)
	zw.Reset(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// rgbPixels packs img into 8-bit RGB samples over a white background.
func rgbPixels(img *image.RGBA) []byte {
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):][:b.Dx()*4]
		for px := range len(row) / 4 {
			c := row[px*4 : px*4+4]
			// premultiplied, so adding the missing coverage composites over white
			white := 0xFF - c[3]
			out = append(out, c[0]+white, c[1]+white, c[2]+white)
		}
	}
	return out
}

func appendFloat4(buf []byte, f float64) []byte {
	return strconv.AppendFloat(buf, math.Round(f*1e4)/1e4, 'f', 4, 64)
}

// pdfLink is a link annotation in PDF points, bottom-left origin.
type pdfLink struct {
	Rect     [4]float64
	DestPage int
}

// exportPage is one rendered output page: its RGB samples, zlib
// compressed when flate is set, plus traced ink drawn on top.
type exportPage struct {
	index  int // source page index
	data   []byte
	flate  bool
	width  int
	height int
	ink    []inkLayer
	links  []pdfLink
}

func newExportPage(index int, img *image.RGBA) exportPage {
	b := img.Bounds()
	p := exportPage{index: index, width: b.Dx(), height: b.Dy(), data: rgbPixels(img)}
	if z, err := compressZlib(p.data); err == nil {
		p.data, p.flate = z, true
	}
	return p
}

// pdfObject is one serialised indirect object.
type pdfObject struct {
	id   int
	data []byte
}

// pageObjects lays out one page starting at object first: the page
// dictionary, its content stream, the image and one ExtGState per
// distinct ink opacity. Link targets are PAGEOBJ_n placeholders, fixed up
// once every page has an object number.
func pageObjects(p exportPage, widthPt, heightPt float64, first int) []pdfObject {
	type extGState struct {
		name string
		obj  pdfObject
	}
	var (
		pageID    = first
		contentID = first + 1
		imageID   = first + 2
		next      = first + 3
		gsByAlpha = make(map[uint8]string)
		states    []extGState
	)
	for _, l := range p.ink {
		if !l.translucent() || gsByAlpha[l.ink.A] != "" {
			continue
		}
		name := "GS" + strconv.Itoa(len(states)+1)
		gsByAlpha[l.ink.A] = name
		states = append(states, extGState{name: name, obj: pdfObject{id: next, data: fmt.Appendf(nil,
			"%d 0 obj\n<< /Type /ExtGState /ca %.4f >>\nendobj\n", next, float64(l.ink.A)/255)}})
		next++
	}

	content := fmt.Appendf(make([]byte, 0, 16<<10), "q\n%.4f 0 0 %.4f 0 0 cm\n/Im1 Do\nQ\n", widthPt, heightPt)
	// device pixels, top-left origin, to PDF points
	toPDF := f64.Aff3{widthPt / float64(p.width), 0, 0, 0, -heightPt / float64(p.height), heightPt}
	for _, l := range p.ink {
		content = append(content, "q\n"...)
		if name := gsByAlpha[l.ink.A]; name != "" {
			content = append(content, '/')
			content = append(content, name...)
			content = append(content, " gs\n"...)
		}
		content = fmt.Appendf(content, "%.4f %.4f %.4f rg\n",
			float64(l.ink.R)/255, float64(l.ink.G)/255, float64(l.ink.B)/255)
		for _, path := range l.paths {
			content = appendOutline(content, path, toPDF)
		}
		content = append(content, "f*\nQ\n"...)
	}

	var dict strings.Builder
	fmt.Fprintf(&dict, "%d 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %.2f %.2f] /Contents %d 0 R\n",
		pageID, widthPt, heightPt, contentID)
	fmt.Fprintf(&dict, "   /Resources << /XObject << /Im1 %d 0 R >>", imageID)
	if len(states) > 0 {
		dict.WriteString(" /ExtGState <<")
		for _, st := range states {
			fmt.Fprintf(&dict, " /%s %d 0 R", st.name, st.obj.id)
		}
		dict.WriteString(" >>")
	}
	dict.WriteString(" >>\n")
	if len(p.links) > 0 {
		dict.WriteString("   /Annots [\n")
		for _, l := range p.links {
			fmt.Fprintf(&dict, "     << /Type /Annot /Subtype /Link /Rect [%.2f %.2f %.2f %.2f] /Border [0 0 0] /A << /S /GoTo /D [PAGEOBJ_%d /Fit] >> >>\n",
				l.Rect[0], l.Rect[1], l.Rect[2], l.Rect[3], l.DestPage)
		}
		dict.WriteString("   ]\n")
	}
	dict.WriteString(">>\nendobj\n")

	filter := ""
	if p.flate {
		filter = " /Filter /FlateDecode"
	}
	var img bytes.Buffer
	img.Grow(len(p.data) + 256)
	fmt.Fprintf(&img, "%d 0 obj\n<< /Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /DeviceRGB /BitsPerComponent 8%s /Length %d >>\nstream\n",
		imageID, p.width, p.height, filter, len(p.data))
	img.Write(p.data)
	img.WriteString("\nendstream\nendobj\n")

	objs := []pdfObject{
		{id: pageID, data: []byte(dict.String())},
		{id: contentID, data: fmt.Appendf(nil, "%d 0 obj\n<< /Length %d >>\nstream\n%sendstream\nendobj\n", contentID, len(content), content)},
		{id: imageID, data: img.Bytes()},
	}
	for _, st := range states {
		objs = append(objs, st.obj)
	}
	return objs
}

// offsetWriter counts the bytes written so far for the xref table. The
// first error sticks.
type offsetWriter struct {
	w   *bufio.Writer
	n   int64
	err error
}

func (o *offsetWriter) Write(p []byte) (int, error) {
	if o.err != nil {
		return 0, o.err
	}
	n, err := o.w.Write(p)
	o.n += int64(n)
	o.err = err
	return n, err
}

// pdfString encodes s as a PDF text string: an escaped literal for ASCII,
// UTF-16BE hex otherwise.
func pdfString(s string) string {
	for i := range len(s) {
		if s[i] >= 0x80 {
			var b strings.Builder
			b.WriteString("<FEFF")
			for _, u := range utf16.Encode([]rune(s)) {
				fmt.Fprintf(&b, "%04X", u)
			}
			return b.String() + ">"
		}
	}
	return "(" + strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`, "\r", `\r`, "\n", `\n`).Replace(s) + ")"
}

// writePDF writes pages as one document. Object 1 is the catalog, 2 the
// page tree, then each page's objects and finally the info dictionary.
func writePDF(w io.Writer, pages []exportPage, widthPt, heightPt float64, title string) error {
	var (
		next     = 3
		pageIDs  = make([]int, len(pages))
		bySource = make(map[int]int, len(pages))
		perPage  = make([][]pdfObject, len(pages))
	)
	pages = slices.Clone(pages)
	exported := make(map[int]bool, len(pages))
	for _, p := range pages {
		exported[p.index] = true
	}
	for i, p := range pages {
		// links into skipped pages are dropped
		p.links = slices.DeleteFunc(slices.Clone(p.links), func(l pdfLink) bool { return !exported[l.DestPage] })
		pages[i] = p
		pageIDs[i] = next
		bySource[p.index] = next
		perPage[i] = pageObjects(p, widthPt, heightPt, next)
		next += len(perPage[i])
	}

	for i, objs := range perPage {
		for _, l := range pages[i].links {
			objs[0].data = bytes.ReplaceAll(objs[0].data,
				fmt.Appendf(nil, "PAGEOBJ_%d ", l.DestPage), fmt.Appendf(nil, "%d 0 R ", bySource[l.DestPage]))
		}
	}

	infoID := 0
	if title != "" {
		infoID = next
		next++
	}
	offsets := make([]int64, next-1)
	out := &offsetWriter{w: bufio.NewWriter(w)}
	object := func(id int, format string, args ...any) {
		offsets[id-1] = out.n
		fmt.Fprintf(out, format, args...)
	}

	io.WriteString(out, "%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")
	object(1, "1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	kids := make([]string, len(pageIDs))
	for i, id := range pageIDs {
		kids[i] = strconv.Itoa(id) + " 0 R"
	}
	object(2, "2 0 obj\n<< /Type /Pages /Kids [ %s ] /Count %d >>\nendobj\n", strings.Join(kids, " "), len(pages))
	for _, objs := range perPage {
		for _, o := range objs {
			offsets[o.id-1] = out.n
			out.Write(o.data)
		}
	}
	if infoID > 0 {
		object(infoID, "%d 0 obj\n<< /Title %s /Producer (docview) >>\nendobj\n", infoID, pdfString(title))
	}

	xref := out.n
	fmt.Fprintf(out, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(out, "%010d 00000 n \n", off)
	}
	info := ""
	if infoID > 0 {
		info = fmt.Sprintf(" /Info %d 0 R", infoID)
	}
	fmt.Fprintf(out, "trailer\n<< /Size %d /Root 1 0 R%s >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, info, xref)
	if out.err != nil {
		return out.err
	}
	return out.w.Flush()
}
