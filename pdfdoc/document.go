// Package pdfdoc is a docview.Engine for PDF files built on
// github.com/ledongthuc/pdf. Pages are drawn from their text and rule
// content; images and vector art are not rendered.
package pdfdoc

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	pdflib "github.com/ledongthuc/pdf"

	"github.com/alefaraci/docview"
)

// maxTreeDepth bounds page tree and outline recursion on malformed files.
const maxTreeDepth = 64

type Engine struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Engine {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Engine{log: log}
}

// Open reads the cross-reference table of a PDF. Encrypted files that do
// not open with the empty password come back locked.
func (e *Engine) Open(r io.ReaderAt, size int64, typeHint string) (docview.Document, error) {
	if hint := strings.ToLower(typeHint); hint != "" && !strings.HasSuffix(hint, "pdf") {
		return nil, fmt.Errorf("pdfdoc: unsupported type %q", typeHint)
	}
	d := &document{ra: r, size: size, log: e.log}
	rd, err := pdflib.NewReader(r, size)
	if errors.Is(err, pdflib.ErrInvalidPassword) {
		d.locked = true
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pdfdoc: %w", err)
	}
	if err := d.load(rd); err != nil {
		return nil, err
	}
	return d, nil
}

type document struct {
	ra   io.ReaderAt
	size int64
	log  *slog.Logger

	locked bool
	reader *pdflib.Reader
	pages  []pdflib.Value
	// byKey maps the printed form of a page dictionary to its index, to
	// resolve destinations that reference pages.
	byKey  map[string]int
	closed bool
}

func (d *document) load(rd *pdflib.Reader) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdfdoc: malformed page tree: %v", r)
		}
	}()
	root := rd.Trailer().Key("Root").Key("Pages")
	if root.IsNull() {
		return errors.New("pdfdoc: no page tree")
	}
	var pages []pdflib.Value
	collectPages(root, 0, &pages)
	d.reader = rd
	d.pages = pages
	d.byKey = make(map[string]int, len(pages))
	for i, p := range pages {
		if _, dup := d.byKey[p.String()]; !dup {
			d.byKey[p.String()] = i
		}
	}
	d.locked = false
	return nil
}

func collectPages(node pdflib.Value, depth int, out *[]pdflib.Value) {
	if depth > maxTreeDepth {
		return
	}
	switch node.Key("Type").Name() {
	case "Page":
		*out = append(*out, node)
	default:
		kids := node.Key("Kids")
		for i := range kids.Len() {
			collectPages(kids.Index(i), depth+1, out)
		}
	}
}

// Layout does nothing; PDF pages have a fixed size.
func (d *document) Layout(w, h, em float64) {}

func (d *document) Reflowable() bool    { return false }
func (d *document) NeedsPassword() bool { return d.locked }

func (d *document) CountPages() (int, error) {
	if d.closed {
		return 0, docview.ErrClosed
	}
	return len(d.pages), nil
}

func (d *document) Title() string {
	if d.reader == nil {
		return ""
	}
	return strings.TrimSpace(d.reader.Trailer().Key("Info").Key("Title").Text())
}

// Authenticate reopens the file with password.
func (d *document) Authenticate(password string) bool {
	if !d.locked {
		return true
	}
	tried := false
	rd, err := pdflib.NewReaderEncrypted(d.ra, d.size, func() string {
		if tried {
			return ""
		}
		tried = true
		return password
	})
	if err != nil {
		return false
	}
	if err := d.load(rd); err != nil {
		d.log.Warn("unlocked PDF is unreadable", "error", err)
		return false
	}
	return true
}

func (d *document) LoadPage(n int) (docview.Page, error) {
	if d.closed {
		return nil, docview.ErrClosed
	}
	if n < 0 || n >= len(d.pages) {
		return nil, fmt.Errorf("page %d out of range", n+1)
	}
	return newPage(d, n, d.pages[n])
}

func (d *document) MakeBookmark(page int) docview.Bookmark { return docview.Bookmark(page) }

func (d *document) FindBookmark(b docview.Bookmark) int {
	return min(max(int(b), 0), max(len(d.pages)-1, 0))
}

func (d *document) ResolveLink(uri string) int {
	if n, ok := docview.ParsePageFragment(uri); ok && n < len(d.pages) {
		return n
	}
	return -1
}

func (d *document) Close() error {
	d.closed = true
	d.reader = nil
	d.pages = nil
	d.byKey = nil
	return nil
}

// pageOf returns the index of a page dictionary, or -1.
func (d *document) pageOf(v pdflib.Value) int {
	if v.Kind() == pdflib.Integer {
		// Remote-style destinations carry a page number.
		if n := int(v.Int64()); n >= 0 && n < len(d.pages) {
			return n
		}
		return -1
	}
	if v.Kind() != pdflib.Dict {
		return -1
	}
	if n, ok := d.byKey[v.String()]; ok {
		return n
	}
	return -1
}

// resolveDest maps an explicit or named destination to a page index.
func (d *document) resolveDest(dest pdflib.Value) int {
	switch dest.Kind() {
	case pdflib.Array:
		return d.pageOf(dest.Index(0))
	case pdflib.Name:
		return d.resolveDest(d.namedDest(dest.Name()))
	case pdflib.String:
		return d.resolveDest(d.namedDest(dest.Text()))
	case pdflib.Dict:
		// Old style named destinations wrap the array in /D.
		return d.resolveDest(dest.Key("D"))
	}
	return -1
}

// namedDest looks name up in /Root /Dests and in the /Names /Dests tree.
func (d *document) namedDest(name string) pdflib.Value {
	root := d.reader.Trailer().Key("Root")
	if v := root.Key("Dests").Key(name); !v.IsNull() {
		return v
	}
	return lookupNameTree(root.Key("Names").Key("Dests"), name, 0)
}

func lookupNameTree(node pdflib.Value, name string, depth int) pdflib.Value {
	if node.IsNull() || depth > maxTreeDepth {
		return pdflib.Value{}
	}
	names := node.Key("Names")
	for i := 0; i+1 < names.Len(); i += 2 {
		if names.Index(i).Text() == name {
			return names.Index(i + 1)
		}
	}
	kids := node.Key("Kids")
	for i := range kids.Len() {
		kid := kids.Index(i)
		if limits := kid.Key("Limits"); limits.Len() == 2 {
			if name < limits.Index(0).Text() || name > limits.Index(1).Text() {
				continue
			}
		}
		if v := lookupNameTree(kid, name, depth+1); !v.IsNull() {
			return v
		}
	}
	return pdflib.Value{}
}

// target resolves the /Dest or /A entry of an outline item or link
// annotation to a page index or an external URI.
func (d *document) target(v pdflib.Value) (page int, uri string) {
	if dest := v.Key("Dest"); !dest.IsNull() {
		return d.resolveDest(dest), ""
	}
	a := v.Key("A")
	switch a.Key("S").Name() {
	case "GoTo":
		return d.resolveDest(a.Key("D")), ""
	case "URI":
		u := a.Key("URI")
		if s := u.Text(); s != "" {
			return -1, s
		}
		return -1, u.RawString()
	}
	return -1, ""
}
