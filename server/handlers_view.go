package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/alefaraci/docview"
)

// maxTilePixels caps the area of one rendered tile.
const maxTilePixels = 64 << 20

// Page numbers on the wire are 1-based.

type rectJSON struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

func toRectJSON(r docview.Rect) rectJSON { return rectJSON{r.X0, r.Y0, r.X1, r.Y1} }

type documentJSON struct {
	Title      string  `json:"title"`
	Pages      int     `json:"pages"`
	Current    int     `json:"current"`
	Reflowable bool    `json:"reflowable"`
	Locked     bool    `json:"locked"`
	NightMode  bool    `json:"night_mode"`
	Drawing    bool    `json:"drawing"`
	HasOutline bool    `json:"has_outline"`
	Width      float64 `json:"layout_width"`
	Height     float64 `json:"layout_height"`
	EM         float64 `json:"layout_em"`
}

func (s *Server) documentInfo() documentJSON {
	ss := s.session
	info := documentJSON{
		Locked:    ss.NeedsPassword(),
		NightMode: ss.NightMode(),
		Drawing:   ss.Drawing(),
	}
	if info.Locked {
		return info
	}
	l := ss.Layout()
	info.Title = ss.Title()
	info.Pages = ss.PageCount()
	info.Current = ss.Current() + 1
	info.Reflowable = ss.Reflowable()
	info.HasOutline = ss.HasOutline()
	info.Width, info.Height, info.EM = l.Width, l.Height, l.EM
	return info
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.documentInfo())
}

func (s *Server) handleOutline(w http.ResponseWriter, r *http.Request) {
	type itemJSON struct {
		Title   string `json:"title"`
		Display string `json:"display"`
		Depth   int    `json:"depth"`
		Page    int    `json:"page"` // 0 when the entry has no target
	}
	items := []itemJSON{}
	for _, it := range s.session.Outline() {
		items = append(items, itemJSON{Title: it.Title, Display: it.DisplayTitle(), Depth: it.Depth, Page: it.Page + 1})
	}
	writeJSON(w, map[string]any{"items": items})
}

func (s *Server) handlePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if !s.session.Authenticate(body.Password) {
		jsonError(w, "wrong password", http.StatusForbidden)
		return
	}
	writeJSON(w, s.documentInfo())
}

// pageParam parses the {page} URL parameter into a 0-based index.
func (s *Server) pageParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil || n < 1 || n > s.session.PageCount() {
		jsonError(w, "page out of range", http.StatusNotFound)
		return 0, false
	}
	return n - 1, true
}

func (s *Server) handlePageSize(w http.ResponseWriter, r *http.Request) {
	n, ok := s.pageParam(w, r)
	if !ok {
		return
	}
	width, height, err := s.session.PageSize(n)
	if err != nil {
		s.pageError(w, n, err)
		return
	}
	writeJSON(w, map[string]float64{"width": width, "height": height})
}

func intQuery(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// handleTile renders the patch (x, y, pw, ph) of page n scaled to w x h
// as PNG. The page becomes the current one.
func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	n, ok := s.pageParam(w, r)
	if !ok {
		return
	}
	var (
		outW, outH, x, y, pw, ph int
		err                      error
	)
	q := func(key string, def int) int {
		if err != nil {
			return 0
		}
		var v int
		v, err = intQuery(r, key, def)
		return v
	}
	outW, outH = q("w", 0), q("h", 0)
	x, y = q("x", 0), q("y", 0)
	pw, ph = q("pw", outW), q("ph", outH)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if outW <= 0 || outH <= 0 || pw <= 0 || ph <= 0 {
		jsonError(w, "w, h, pw and ph must be positive", http.StatusBadRequest)
		return
	}
	if pw*ph > maxTilePixels || outW > 1<<15 || outH > 1<<15 {
		jsonError(w, "tile too large", http.StatusRequestEntityTooLarge)
		return
	}

	if n != s.session.Current() {
		if err := s.session.GoTo(n); err != nil {
			s.pageError(w, n, err)
			return
		}
	}
	patch := image.Rect(x, y, x+pw, y+ph)
	img := image.NewRGBA(patch)
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RenderTimeout)
	defer cancel()
	if err := s.session.RenderTile(ctx, img, outW, outH, patch); err != nil {
		s.pageError(w, n, err)
		return
	}
	if ctx.Err() != nil {
		jsonError(w, "render cancelled", http.StatusServiceUnavailable)
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		jsonError(w, "encoding tile", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	n, ok := s.pageParam(w, r)
	if !ok {
		return
	}
	needle := r.URL.Query().Get("q")
	if needle == "" {
		jsonError(w, "q is required", http.StatusBadRequest)
		return
	}
	hits, err := s.session.Search(n, needle)
	if err != nil {
		s.pageError(w, n, err)
		return
	}
	out := [][]rectJSON{}
	for _, h := range hits {
		var quads []rectJSON
		for _, q := range h {
			quads = append(quads, toRectJSON(q.Bounds()))
		}
		out = append(out, quads)
	}
	writeJSON(w, map[string]any{"hits": out})
}

func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request) {
	n, ok := s.pageParam(w, r)
	if !ok {
		return
	}
	links, err := s.session.Links(n)
	if err != nil {
		s.pageError(w, n, err)
		return
	}
	type linkJSON struct {
		Bounds rectJSON `json:"bounds"`
		Page   int      `json:"page,omitempty"`
		URI    string   `json:"uri,omitempty"`
	}
	out := []linkJSON{}
	for _, l := range links {
		out = append(out, linkJSON{Bounds: toRectJSON(l.Bounds), Page: s.session.ResolveLink(l) + 1, URI: l.URI})
	}
	writeJSON(w, map[string]any{"links": out})
}

func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
		EM     float64 `json:"em"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Width <= 0 || body.Height <= 0 || body.EM <= 0 {
		jsonError(w, "width, height and em must be positive", http.StatusBadRequest)
		return
	}
	if err := s.session.Relayout(body.Width, body.Height, body.EM); err != nil {
		s.pageError(w, s.session.Current(), err)
		return
	}
	writeJSON(w, s.documentInfo())
}

func (s *Server) handleGoto(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Page   int    `json:"page"`
		Action string `json:"action"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	var err error
	switch body.Action {
	case "next":
		err = s.session.Next()
	case "prev":
		err = s.session.Prev()
	case "":
		err = s.session.GoTo(body.Page - 1)
	default:
		jsonError(w, "action must be next or prev", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.pageError(w, s.session.Current(), err)
		return
	}
	writeJSON(w, s.documentInfo())
}

func (s *Server) handleNight(w http.ResponseWriter, r *http.Request) {
	var body struct {
		On bool `json:"on"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	s.session.SetNightMode(body.On)
	writeJSON(w, s.documentInfo())
}

// pageError maps session errors to HTTP statuses.
func (s *Server) pageError(w http.ResponseWriter, n int, err error) {
	switch {
	case errors.Is(err, docview.ErrPasswordRequired):
		jsonError(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, docview.ErrNoPages):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, docview.ErrClosed):
		jsonError(w, err.Error(), http.StatusGone)
	case errors.Is(err, docview.ErrSuperseded):
		jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, docview.ErrRender):
		s.log.Warn("page failed", "page", n+1, "error", err)
		jsonError(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		s.log.Error("request failed", "page", n+1, "error", err)
		jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}
